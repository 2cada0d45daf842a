package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, 30, cfg.Server.RequestTimeoutSecs)
	assert.Equal(t, int64(10<<20), cfg.Server.MaxRequestBytes)
	assert.True(t, cfg.Server.CORS.Enabled)
	assert.Equal(t, []string{"*"}, cfg.Server.CORS.Origins)
	assert.InDelta(t, 100.0/60.0, cfg.Server.RateLimit.RequestsPerSecond, 0.0001)
	assert.Equal(t, 100, cfg.Server.RateLimit.Burst)
	assert.Equal(t, "schemas", cfg.Contracts.SchemasPath)
	assert.Equal(t, "migrations", cfg.Contracts.MigrationsPath)
	assert.Equal(t, 100, cfg.Contracts.CacheSize)
	assert.Equal(t, 10*time.Minute, cfg.Contracts.CacheTTL())
	assert.Equal(t, time.Minute, cfg.Contracts.SweepInterval())
	assert.False(t, cfg.Contracts.Strict)
	assert.Equal(t, "models", cfg.Models.Path)
	assert.Equal(t, 50, cfg.Models.CacheSize)
	assert.Equal(t, 30*time.Minute, cfg.Models.CacheTTL())
	assert.Equal(t, 10*time.Second, cfg.Models.Timeout())
	assert.Equal(t, 3, cfg.Models.Retry.MaxAttempts)
	assert.Equal(t, 5, cfg.Models.Circuit.FailureThreshold)
	assert.Equal(t, "none", cfg.Store.Driver)
	assert.False(t, cfg.Monitoring.Enabled)
	assert.Equal(t, 24, cfg.Monitoring.LookbackWindowHours)
	assert.InDelta(t, 0.10, cfg.Monitoring.FailureRateThreshold, 1e-9)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
  database_url: contractml.db
log:
  level: debug
  format: console
server:
  port: 9090
contracts:
  schemas_path: /etc/contractml/schemas
  strict: true
models:
  endpoints:
    onnx: http://localhost:9001/predict
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "contractml.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "/etc/contractml/schemas", cfg.Contracts.SchemasPath)
	assert.True(t, cfg.Contracts.Strict)
	assert.Equal(t, "http://localhost:9001/predict", cfg.Models.Endpoints["onnx"])
	// Defaults still apply for unset values
	assert.Equal(t, "migrations", cfg.Contracts.MigrationsPath)
	assert.Equal(t, 100, cfg.Contracts.CacheSize)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("CONTRACTML_STORE_DRIVER", "postgres")
	t.Setenv("CONTRACTML_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("CONTRACTML_SERVER_PORT", "3000")
	t.Setenv("CONTRACTML_CONTRACTS_CACHE_TTL_SECS", "5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Contracts.CacheTTL())
}

func TestLoadMalformedFile(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("server: [unclosed"), 0644))

	_, err := Load()
	assert.Error(t, err)
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

// validDefaults returns a Config with the defaults Load would populate.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Server.Port = 8000
	cfg.Contracts.SchemasPath = "schemas"
	cfg.Contracts.CacheSize = 100
	cfg.Models.CacheSize = 50
	cfg.Store.Driver = "none"
	return cfg
}

func TestValidateDefaults(t *testing.T) {
	cfg := validDefaults()
	assert.NoError(t, cfg.Validate("serve"))
	assert.NoError(t, cfg.Validate("cli"))
}

func TestValidateUnknownMode(t *testing.T) {
	err := validDefaults().Validate("batch")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestValidateStore(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "mysql"
	err := cfg.Validate("cli")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), `store.driver "mysql"`)

	cfg.Store.Driver = "postgres"
	err = cfg.Validate("cli")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")

	cfg.Store.DatabaseURL = "postgres://localhost/contractml"
	assert.NoError(t, cfg.Validate("cli"))
}

func TestValidateServePort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	// The port only matters when serving.
	assert.NoError(t, cfg.Validate("cli"))

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidateCollectsProblems(t *testing.T) {
	cfg := validDefaults()
	cfg.Contracts.CacheSize = -1
	cfg.Models.CacheSize = -1
	cfg.Contracts.SchemasPath = ""

	err := cfg.Validate("cli")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "contracts.cache_size must be >= 0")
	assert.Contains(t, err.Error(), "models.cache_size must be >= 0")
	assert.Contains(t, err.Error(), "contracts.schemas_path is required")
}

func TestValidateMonitoringNeedsStore(t *testing.T) {
	cfg := validDefaults()
	cfg.Monitoring.Enabled = true

	assert.NoError(t, cfg.Validate("cli"))
	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring requires a store driver")

	cfg.Store.Driver = "sqlite"
	assert.NoError(t, cfg.Validate("serve"))
}
