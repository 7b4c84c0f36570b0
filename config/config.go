// Package config loads runtime configuration from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is handed to envconfig. Field tags carry the full variable
// name so nested structs resolve without the struct name in the key.
const EnvPrefix = "LEDGER"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

type Config struct {
	App       AppConfig
	DB        DBConfig
	Recompute RecomputeConfig
	HTTP      HTTPConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env       string `envconfig:"LEDGER_ENV" default:"dev"`
	LogLevel  string `envconfig:"LEDGER_LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LEDGER_LOG_FORMAT" default:"json"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

type DBConfig struct {
	Path string `envconfig:"LEDGER_DB_PATH" default:"ledger.db"`
}

type RecomputeConfig struct {
	Concurrency      int           `envconfig:"LEDGER_RECOMPUTE_CONCURRENCY" default:"4"`
	Interval         time.Duration `envconfig:"LEDGER_RECOMPUTE_INTERVAL" default:"24h"`
	SchedulerEnabled bool          `envconfig:"LEDGER_SCHEDULER_ENABLED" default:"false"`
}

type HTTPConfig struct {
	Port           int      `envconfig:"LEDGER_PORT" default:"8080"`
	AllowedOrigins []string `envconfig:"LEDGER_CORS_ORIGINS"`
}

func (c *Config) validate() error {
	if c.Recompute.Concurrency < 1 {
		return fmt.Errorf("LEDGER_RECOMPUTE_CONCURRENCY must be >= 1, got %d", c.Recompute.Concurrency)
	}
	if c.Recompute.SchedulerEnabled && c.Recompute.Interval <= 0 {
		return fmt.Errorf("LEDGER_RECOMPUTE_INTERVAL must be positive when the scheduler is enabled")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("LEDGER_PORT out of range: %d", c.HTTP.Port)
	}
	if strings.TrimSpace(c.DB.Path) == "" {
		return fmt.Errorf("LEDGER_DB_PATH is required")
	}
	return nil
}
