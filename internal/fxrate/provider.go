package fxrate

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/importduty/internal/resilience"
)

const (
	// DefaultFallbackRate is used when every source fails.
	DefaultFallbackRate = 58.50
	// DefaultTTL is how long a stored quote is served before refreshing.
	DefaultTTL = time.Hour
	// SourceFallback names quotes that came from the fallback constant.
	SourceFallback = "fallback"
)

// Info describes the quote currently held, for display.
type Info struct {
	Rate        float64    `json:"rate" yaml:"rate"`
	Source      string     `json:"source" yaml:"source"`
	LastFetched *time.Time `json:"last_fetched,omitempty" yaml:"last_fetched,omitempty"`
	IsFallback  bool       `json:"is_fallback" yaml:"is_fallback"`
}

// Option configures a Provider.
type Option func(*Provider)

// WithClock sets the time source used for freshness checks.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) {
		p.now = now
	}
}

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(p *Provider) {
		if ttl > 0 {
			p.ttl = ttl
		}
	}
}

// WithFallback overrides DefaultFallbackRate.
func WithFallback(rate float64) Option {
	return func(p *Provider) {
		if rate > 0 {
			p.fallback = rate
		}
	}
}

// WithBreakerConfig sets the circuit breaker settings applied to each source.
func WithBreakerConfig(cfg resilience.BreakerConfig) Option {
	return func(p *Provider) {
		p.breakerCfg = cfg
	}
}

// Provider returns the current exchange rate, refreshing from its sources in
// order when the stored quote is older than the TTL.
type Provider struct {
	sources    []Source
	breakers   []*resilience.Breaker
	breakerCfg resilience.BreakerConfig
	store      Store
	ttl        time.Duration
	fallback   float64
	now        func() time.Time

	mu   sync.Mutex
	last Quote
	warm sync.WaitGroup
}

// New creates a Provider. Sources are tried in the given order. A nil store
// means an in-memory store.
func New(sources []Source, store Store, opts ...Option) *Provider {
	if store == nil {
		store = NewMemoryStore()
	}
	p := &Provider{
		sources:    sources,
		store:      store,
		ttl:        DefaultTTL,
		fallback:   DefaultFallbackRate,
		now:        time.Now,
		breakerCfg: resilience.DefaultBreakerConfig(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.breakers = make([]*resilience.Breaker, len(sources))
	for i, s := range sources {
		p.breakers[i] = resilience.NewBreaker(s.Name(), p.breakerCfg)
	}
	return p
}

// Rate returns the current DOP per USD rate. It never fails: when the store
// is stale and every source fails the fallback rate is returned.
func (p *Provider) Rate(ctx context.Context) float64 {
	return p.Quote(ctx).Rate
}

// Quote returns the current quote, refreshing it if needed.
func (p *Provider) Quote(ctx context.Context) Quote {
	now := p.now()

	q, ok, err := p.store.Load(ctx)
	if err != nil {
		zap.L().Warn("fxrate: load stored quote", zap.Error(err))
	}
	if ok && q.Rate > 0 && now.Sub(q.FetchedAt) < p.ttl {
		zap.L().Debug("fxrate: using cached rate",
			zap.Float64("rate", q.Rate),
			zap.String("source", q.Source),
		)
		p.remember(q)
		return q
	}

	q = p.refresh(ctx, now)
	if err := p.store.Save(ctx, q); err != nil {
		zap.L().Warn("fxrate: save quote", zap.Error(err))
	}
	p.remember(q)
	return q
}

func (p *Provider) refresh(ctx context.Context, now time.Time) Quote {
	for i, src := range p.sources {
		rate, err := resilience.Call(ctx, p.breakers[i], src.Fetch)
		if err != nil {
			zap.L().Warn("fxrate: source failed",
				zap.String("source", src.Name()),
				zap.Bool("transient", resilience.IsTransient(err)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("fxrate: fetched rate",
			zap.String("source", src.Name()),
			zap.Float64("rate", rate),
		)
		return Quote{Rate: rate, Source: src.Name(), FetchedAt: now}
	}

	zap.L().Warn("fxrate: all sources failed, using fallback rate",
		zap.Float64("rate", p.fallback),
	)
	return Quote{Rate: p.fallback, Source: SourceFallback, FetchedAt: now}
}

func (p *Provider) remember(q Quote) {
	p.mu.Lock()
	p.last = q
	p.mu.Unlock()
}

// Info reports the quote most recently served by this process. Before any
// quote has been served it reports the fallback rate.
func (p *Provider) Info() Info {
	p.mu.Lock()
	q := p.last
	p.mu.Unlock()

	if q.Rate == 0 {
		return Info{Rate: p.fallback, Source: SourceFallback, IsFallback: true}
	}
	fetched := q.FetchedAt
	return Info{
		Rate:        q.Rate,
		Source:      q.Source,
		LastFetched: &fetched,
		IsFallback:  q.Source == SourceFallback,
	}
}

// Warm starts one background Quote so the first request finds a fresh rate.
// It does not block.
func (p *Provider) Warm(ctx context.Context) {
	p.warm.Add(1)
	go func() {
		defer p.warm.Done()
		q := p.Quote(context.WithoutCancel(ctx))
		zap.L().Info("fxrate: warmed", zap.Float64("rate", q.Rate), zap.String("source", q.Source))
	}()
}

// WaitWarm blocks until background warm-ups have finished.
func (p *Provider) WaitWarm() {
	p.warm.Wait()
}
