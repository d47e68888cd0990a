package main

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/importduty/internal/catalog"
	"github.com/sells-group/importduty/internal/config"
	"github.com/sells-group/importduty/internal/cost"
	"github.com/sells-group/importduty/internal/fxrate"
	"github.com/sells-group/importduty/internal/resilience"
	"github.com/sells-group/importduty/internal/session"
)

// appEnv holds the components shared by the serve, estimate, options and
// verify commands.
type appEnv struct {
	Catalog *catalog.Gateway // nil in rate-only mode
	Rates   *fxrate.Provider
	Calc    *cost.Calculator
	redis   *redis.Client
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Catalog != nil {
		e.Catalog.Close()
	}
	if e.redis != nil {
		_ = e.redis.Close()
	}
}

// FormDeps returns the collaborators for session forms.
func (e *appEnv) FormDeps() session.Deps {
	return session.Deps{
		Catalog:    e.Catalog,
		Rates:      e.Rates,
		Calculator: e.Calc,
	}
}

// initEnv validates the config for mode and builds the environment.
// Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	env := &appEnv{Calc: cost.NewCalculator(cfg.Duty)}

	rates, rc := initRates(cfg.FX)
	env.Rates = rates
	env.redis = rc

	if mode == "rate" {
		return env, nil
	}

	pool, err := catalog.Connect(ctx, cfg.Store.DatabaseURL)
	if err != nil {
		env.Close()
		return nil, err
	}
	gw, err := catalog.NewGateway(catalog.NewStore(pool), cfg.Catalog)
	if err != nil {
		pool.Close()
		env.Close()
		return nil, eris.Wrap(err, "init catalog gateway")
	}
	env.Catalog = gw

	return env, nil
}

// initRates builds the rate provider. The returned client is nil unless the
// quote is shared through Redis.
func initRates(fx config.FXConfig) (*fxrate.Provider, *redis.Client) {
	timeout := time.Duration(fx.TimeoutSecs) * time.Second
	sources := []fxrate.Source{
		fxrate.NewBCRDSource(fx.BCRDURL, fxrate.WithTimeout(timeout)),
	}
	if fx.ExchangeRateAPIKey != "" {
		sources = append(sources, fxrate.NewExchangeRateAPISource(
			fx.ExchangeRateAPIURL, fx.ExchangeRateAPIKey, fxrate.WithTimeout(timeout)))
	} else {
		zap.L().Debug("IMPORTDUTY_FX_EXCHANGERATE_API_KEY not set, secondary rate source disabled")
	}

	ttl := time.Duration(fx.CacheTTLMins) * time.Minute
	if ttl <= 0 {
		ttl = fxrate.DefaultTTL
	}

	var (
		store fxrate.Store
		rc    *redis.Client
	)
	if fx.Store == "redis" {
		rc = redis.NewClient(&redis.Options{Addr: fx.RedisAddr})
		store = fxrate.NewRedisStore(rc, fx.RedisKey, ttl)
		zap.L().Info("exchange rate shared through redis", zap.String("addr", fx.RedisAddr))
	}

	breaker := resilience.DefaultBreakerConfig()
	if fx.BreakerFailures > 0 {
		breaker.FailureThreshold = fx.BreakerFailures
	}
	if fx.BreakerResetSecs > 0 {
		breaker.ResetTimeout = time.Duration(fx.BreakerResetSecs) * time.Second
	}

	p := fxrate.New(sources, store,
		fxrate.WithTTL(ttl),
		fxrate.WithFallback(fx.FallbackRate),
		fxrate.WithBreakerConfig(breaker),
	)
	return p, rc
}
