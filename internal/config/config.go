package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/importduty/internal/catalog"
	"github.com/sells-group/importduty/internal/cost"
)

// Config holds the full application configuration.
type Config struct {
	Store   StoreConfig    `yaml:"store" mapstructure:"store"`
	Catalog catalog.Config `yaml:"catalog" mapstructure:"catalog"`
	FX      FXConfig       `yaml:"fx" mapstructure:"fx"`
	Duty    cost.Rates     `yaml:"duty" mapstructure:"duty"`
	Server  ServerConfig   `yaml:"server" mapstructure:"server"`
	Log     LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the catalog database.
type StoreConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// FXConfig configures the exchange rate provider.
type FXConfig struct {
	BCRDURL            string  `yaml:"bcrd_url" mapstructure:"bcrd_url"`
	ExchangeRateAPIURL string  `yaml:"exchangerate_api_url" mapstructure:"exchangerate_api_url"`
	ExchangeRateAPIKey string  `yaml:"exchangerate_api_key" mapstructure:"exchangerate_api_key"`
	TimeoutSecs        int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	CacheTTLMins       int     `yaml:"cache_ttl_mins" mapstructure:"cache_ttl_mins"`
	FallbackRate       float64 `yaml:"fallback_rate" mapstructure:"fallback_rate"`
	Store              string  `yaml:"store" mapstructure:"store"`
	RedisAddr          string  `yaml:"redis_addr" mapstructure:"redis_addr"`
	RedisKey           string  `yaml:"redis_key" mapstructure:"redis_key"`
	BreakerFailures    int     `yaml:"breaker_failures" mapstructure:"breaker_failures"`
	BreakerResetSecs   int     `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	RateLimitRPS   float64  `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
	RateLimitBurst int      `yaml:"rate_limit_burst" mapstructure:"rate_limit_burst"`
	CORSOrigins    []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	SessionTTLMins int      `yaml:"session_ttl_mins" mapstructure:"session_ttl_mins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("IMPORTDUTY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.database_url", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.rate_limit_rps", 20)
	v.SetDefault("server.rate_limit_burst", 40)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.session_ttl_mins", 30)

	v.SetDefault("catalog.spec_case", string(catalog.SpecCasePreserve))
	v.SetDefault("catalog.options_ttl_mins", 60)
	v.SetDefault("catalog.countries_ttl_mins", 30)

	v.SetDefault("fx.bcrd_url", "https://api.bcrd.gob.do/indicators/exchange-rate")
	v.SetDefault("fx.exchangerate_api_url", "https://v6.exchangerate-api.com")
	v.SetDefault("fx.exchangerate_api_key", "")
	v.SetDefault("fx.timeout_secs", 5)
	v.SetDefault("fx.cache_ttl_mins", 60)
	v.SetDefault("fx.fallback_rate", 58.50)
	v.SetDefault("fx.store", "memory")
	v.SetDefault("fx.redis_addr", "localhost:6379")
	v.SetDefault("fx.redis_key", "importduty:fxrate:usd_dop")
	v.SetDefault("fx.breaker_failures", 3)
	v.SetDefault("fx.breaker_reset_secs", 60)

	duty := cost.DefaultRates()
	v.SetDefault("duty.insurance_rate", duty.InsuranceRate)
	v.SetDefault("duty.dr_cafta_tax_rate", duty.DRCaftaTaxRate)
	v.SetDefault("duty.general_tax_rate", duty.GeneralTaxRate)
	v.SetDefault("duty.first_plate_rate", duty.FirstPlateRate)
	v.SetDefault("duty.marbete_under_five", duty.MarbeteUnderFive)
	v.SetDefault("duty.marbete_five_plus", duty.MarbeteFivePlus)
	v.SetDefault("duty.eligible_countries", duty.EligibleCountries)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the keys required by a command mode: "catalog" for
// commands that query the database, "serve" for the API, "rate" for rate
// lookups only.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "serve":
		errs = append(errs, c.validateCatalog()...)
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be > 0 and <= 65535")
		}
		if c.Server.RateLimitRPS < 0 {
			errs = append(errs, "server.rate_limit_rps must be >= 0")
		}
		if c.Server.SessionTTLMins <= 0 {
			errs = append(errs, "server.session_ttl_mins must be > 0")
		}
	case "catalog":
		errs = append(errs, c.validateCatalog()...)
	case "rate":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	errs = append(errs, c.validateFX()...)
	errs = append(errs, c.validateDuty()...)

	if len(errs) > 0 {
		return eris.Errorf("config: invalid: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateCatalog() []string {
	var errs []string
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}
	if c.Catalog.SpecCase != "" && !c.Catalog.SpecCase.Valid() {
		errs = append(errs, fmt.Sprintf("catalog.spec_case must be %q or %q",
			catalog.SpecCasePreserve, catalog.SpecCaseUpper))
	}
	return errs
}

func (c *Config) validateFX() []string {
	var errs []string
	switch c.FX.Store {
	case "", "memory":
	case "redis":
		if c.FX.RedisAddr == "" {
			errs = append(errs, "fx.redis_addr is required when fx.store is redis")
		}
	default:
		errs = append(errs, "fx.store must be memory or redis")
	}
	if c.FX.FallbackRate <= 0 {
		errs = append(errs, "fx.fallback_rate must be > 0")
	}
	if c.FX.TimeoutSecs <= 0 {
		errs = append(errs, "fx.timeout_secs must be > 0")
	}
	return errs
}

func (c *Config) validateDuty() []string {
	d := c.Duty
	for _, r := range []float64{d.InsuranceRate, d.DRCaftaTaxRate, d.GeneralTaxRate, d.FirstPlateRate} {
		if r < 0 || r > 1 {
			return []string{"duty rates must be between 0 and 1"}
		}
	}
	if d.MarbeteUnderFive < 0 || d.MarbeteFivePlus < 0 {
		return []string{"duty marbete amounts must be >= 0"}
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}

	zap.ReplaceGlobals(logger)
	return nil
}
