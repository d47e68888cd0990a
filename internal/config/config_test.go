package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/importduty/internal/catalog"
	"github.com/sells-group/importduty/internal/cost"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30, cfg.Server.SessionTTLMins)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.Equal(t, catalog.SpecCasePreserve, cfg.Catalog.SpecCase)
	assert.Equal(t, 60, cfg.Catalog.OptionsTTLMins)
	assert.Equal(t, 30, cfg.Catalog.CountriesTTLMins)
	assert.Equal(t, "https://api.bcrd.gob.do/indicators/exchange-rate", cfg.FX.BCRDURL)
	assert.Equal(t, "https://v6.exchangerate-api.com", cfg.FX.ExchangeRateAPIURL)
	assert.Equal(t, 5, cfg.FX.TimeoutSecs)
	assert.Equal(t, 60, cfg.FX.CacheTTLMins)
	assert.InDelta(t, 58.50, cfg.FX.FallbackRate, 1e-9)
	assert.Equal(t, "memory", cfg.FX.Store)
	assert.Equal(t, 3, cfg.FX.BreakerFailures)
	assert.Equal(t, cost.DefaultRates(), cfg.Duty)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  database_url: postgres://localhost/vehiculos
catalog:
  spec_case: upper
fx:
  store: redis
  redis_addr: redis:6379
  fallback_rate: 60.1
duty:
  first_plate_rate: 0.17
log:
  level: debug
  format: console
server:
  port: 9090
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres://localhost/vehiculos", cfg.Store.DatabaseURL)
	assert.Equal(t, catalog.SpecCaseUpper, cfg.Catalog.SpecCase)
	assert.Equal(t, "redis", cfg.FX.Store)
	assert.Equal(t, "redis:6379", cfg.FX.RedisAddr)
	assert.InDelta(t, 60.1, cfg.FX.FallbackRate, 1e-9)
	assert.InDelta(t, 0.17, cfg.Duty.FirstPlateRate, 1e-9)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 9090, cfg.Server.Port)
	// Defaults still apply for unset values
	assert.InDelta(t, 0.18, cfg.Duty.DRCaftaTaxRate, 1e-9)
	assert.Equal(t, 5, cfg.FX.TimeoutSecs)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
log:
  level: debug
fx:
  exchangerate_api_key: from-file
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	t.Setenv("IMPORTDUTY_LOG_LEVEL", "warn")
	t.Setenv("IMPORTDUTY_FX_EXCHANGERATE_API_KEY", "from-env")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "from-env", cfg.FX.ExchangeRateAPIKey)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("IMPORTDUTY_SERVER_PORT", "3000")
	t.Setenv("IMPORTDUTY_STORE_DATABASE_URL", "postgres://env/db")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "postgres://env/db", cfg.Store.DatabaseURL)
}

func TestLoad_BadYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("server: [port"), 0o644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.DatabaseURL = "postgres://localhost/test"
	cfg.Catalog = catalog.DefaultConfig()
	cfg.FX.Store = "memory"
	cfg.FX.FallbackRate = 58.5
	cfg.FX.TimeoutSecs = 5
	cfg.Duty = cost.DefaultRates()
	cfg.Server.Port = 8080
	cfg.Server.SessionTTLMins = 30
	return cfg
}

func TestValidate_AllModes(t *testing.T) {
	cfg := validDefaults()
	for _, mode := range []string{"serve", "catalog", "rate"} {
		assert.NoError(t, cfg.Validate(mode), mode)
	}
}

func TestValidateCatalog_MissingDatabase(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.DatabaseURL = ""

	err := cfg.Validate("catalog")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")

	// Rate lookups do not touch the database.
	assert.NoError(t, cfg.Validate("rate"))
}

func TestValidateCatalog_SpecCase(t *testing.T) {
	cfg := validDefaults()
	cfg.Catalog.SpecCase = "lower"

	err := cfg.Validate("catalog")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "catalog.spec_case")
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidateFX(t *testing.T) {
	cfg := validDefaults()
	cfg.FX.Store = "redis"
	cfg.FX.RedisAddr = ""
	cfg.FX.FallbackRate = 0

	err := cfg.Validate("rate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fx.redis_addr is required")
	assert.Contains(t, err.Error(), "fx.fallback_rate must be > 0")

	cfg = validDefaults()
	cfg.FX.Store = "etcd"
	assert.ErrorContains(t, cfg.Validate("rate"), "fx.store must be memory or redis")
}

func TestValidateDuty(t *testing.T) {
	cfg := validDefaults()
	cfg.Duty.GeneralTaxRate = 29.85

	assert.ErrorContains(t, cfg.Validate("rate"), "duty rates must be between 0 and 1")
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}
