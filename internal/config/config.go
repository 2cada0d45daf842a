package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Contracts  ContractsConfig  `yaml:"contracts" mapstructure:"contracts"`
	Models     ModelsConfig     `yaml:"models" mapstructure:"models"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// ServerConfig configures the HTTP transport.
type ServerConfig struct {
	Port               int             `yaml:"port" mapstructure:"port"`
	RequestTimeoutSecs int             `yaml:"request_timeout_secs" mapstructure:"request_timeout_secs"`
	MaxRequestBytes    int64           `yaml:"max_request_bytes" mapstructure:"max_request_bytes"`
	CORS               CORSConfig      `yaml:"cors" mapstructure:"cors"`
	RateLimit          RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// CORSConfig configures cross-origin access.
type CORSConfig struct {
	Enabled bool     `yaml:"enabled" mapstructure:"enabled"`
	Origins []string `yaml:"origins" mapstructure:"origins"`
}

// RateLimitConfig configures the per-client request limiter. A zero rate
// disables limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int     `yaml:"burst" mapstructure:"burst"`
}

// ContractsConfig configures schema discovery and the contract cache.
type ContractsConfig struct {
	SchemasPath       string `yaml:"schemas_path" mapstructure:"schemas_path"`
	MigrationsPath    string `yaml:"migrations_path" mapstructure:"migrations_path"`
	CacheSize         int    `yaml:"cache_size" mapstructure:"cache_size"`
	CacheTTLSecs      int    `yaml:"cache_ttl_secs" mapstructure:"cache_ttl_secs"`
	SweepIntervalSecs int    `yaml:"sweep_interval_secs" mapstructure:"sweep_interval_secs"`
	Strict            bool   `yaml:"strict" mapstructure:"strict"`
}

// CacheTTL returns the contract cache TTL.
func (c ContractsConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSecs) * time.Second
}

// SweepInterval returns the advisory expiry sweep period.
func (c ContractsConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSecs) * time.Second
}

// ModelsConfig configures inference backends.
type ModelsConfig struct {
	Path         string            `yaml:"path" mapstructure:"path"`
	CacheSize    int               `yaml:"cache_size" mapstructure:"cache_size"`
	CacheTTLSecs int               `yaml:"cache_ttl_secs" mapstructure:"cache_ttl_secs"`
	TimeoutSecs  int               `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	Endpoints    map[string]string `yaml:"endpoints" mapstructure:"endpoints"`
	Retry        RetryConfig       `yaml:"retry" mapstructure:"retry"`
	Circuit      CircuitConfig     `yaml:"circuit" mapstructure:"circuit"`
}

// CacheTTL returns the loaded-backend cache TTL.
func (c ModelsConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSecs) * time.Second
}

// Timeout returns the per-request inference timeout.
func (c ModelsConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// RetryConfig configures retries of transient inference failures.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// CircuitConfig configures the per-endpoint circuit breaker.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// StoreConfig configures the execution log backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// MonitoringConfig configures execution log health alerts.
type MonitoringConfig struct {
	Enabled              bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	DriftRateThreshold   float64 `yaml:"drift_rate_threshold" mapstructure:"drift_rate_threshold"`
	MinExecutions        int     `yaml:"min_executions" mapstructure:"min_executions"`
	RenotifyMins         int     `yaml:"renotify_mins" mapstructure:"renotify_mins"`
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
	v.SetEnvPrefix("CONTRACTML")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.request_timeout_secs", 30)
	v.SetDefault("server.max_request_bytes", 10<<20)
	v.SetDefault("server.cors.enabled", true)
	v.SetDefault("server.cors.origins", []string{"*"})
	v.SetDefault("server.rate_limit.requests_per_second", 100.0/60.0)
	v.SetDefault("server.rate_limit.burst", 100)
	v.SetDefault("contracts.schemas_path", "schemas")
	v.SetDefault("contracts.migrations_path", "migrations")
	v.SetDefault("contracts.cache_size", 100)
	v.SetDefault("contracts.cache_ttl_secs", 600)
	v.SetDefault("contracts.sweep_interval_secs", 60)
	v.SetDefault("contracts.strict", false)
	v.SetDefault("models.path", "models")
	v.SetDefault("models.cache_size", 50)
	v.SetDefault("models.cache_ttl_secs", 1800)
	v.SetDefault("models.timeout_secs", 10)
	v.SetDefault("models.retry.max_attempts", 3)
	v.SetDefault("models.retry.initial_backoff_ms", 200)
	v.SetDefault("models.retry.max_backoff_ms", 5000)
	v.SetDefault("models.retry.multiplier", 2.0)
	v.SetDefault("models.retry.jitter_fraction", 0.25)
	v.SetDefault("models.circuit.failure_threshold", 5)
	v.SetDefault("models.circuit.reset_timeout_secs", 30)
	v.SetDefault("store.driver", "none")
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.10)
	v.SetDefault("monitoring.drift_rate_threshold", 0.25)
	v.SetDefault("monitoring.min_executions", 20)
	v.SetDefault("monitoring.renotify_mins", 60)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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

// Validate checks the settings a command mode depends on. Mode "serve"
// additionally requires a usable listen port.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch mode {
	case "serve", "cli":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "", "none", "sqlite", "postgres":
	default:
		problems = append(problems, fmt.Sprintf("store.driver %q is not one of none, sqlite, postgres", c.Store.Driver))
	}
	if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
		problems = append(problems, "store.database_url is required for the postgres driver")
	}
	if c.Contracts.CacheSize < 0 {
		problems = append(problems, "contracts.cache_size must be >= 0")
	}
	if c.Models.CacheSize < 0 {
		problems = append(problems, "models.cache_size must be >= 0")
	}
	if c.Contracts.SchemasPath == "" {
		problems = append(problems, "contracts.schemas_path is required")
	}

	if mode == "serve" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			problems = append(problems, "server.port must be > 0 and <= 65535")
		}
		if c.Server.RateLimit.RequestsPerSecond < 0 {
			problems = append(problems, "server.rate_limit.requests_per_second must be >= 0")
		}
		if c.Monitoring.Enabled && (c.Store.Driver == "" || c.Store.Driver == "none") {
			problems = append(problems, "monitoring requires a store driver")
		}
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
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
