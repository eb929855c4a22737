package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	Env               string  `mapstructure:"ENV"`
	LogLevel          string  `mapstructure:"LOG_LEVEL"`
	Port              string  `mapstructure:"PORT"`
	StoreDriver       string  `mapstructure:"STORE_DRIVER"`
	DatabaseURL       string  `mapstructure:"DATABASE_URL"`
	DBMaxConns        int32   `mapstructure:"DB_MAX_CONNS"`
	DBMinConns        int32   `mapstructure:"DB_MIN_CONNS"`
	SQLitePath        string  `mapstructure:"SQLITE_PATH"`
	RedisURL          string  `mapstructure:"REDIS_URL"`
	RunLockTTLSeconds int     `mapstructure:"RUN_LOCK_TTL_SECONDS"`
	ScheduleSeed      int64   `mapstructure:"SCHEDULE_SEED"`
	TheatreCount      int     `mapstructure:"THEATRE_COUNT"`
	WriteChunkSize    int     `mapstructure:"WRITE_CHUNK_SIZE"`
	CatalogPath       string  `mapstructure:"CATALOG_PATH"`
	PushgatewayURL    string  `mapstructure:"PUSHGATEWAY_URL"`
	MetricsEnabled    bool    `mapstructure:"METRICS_ENABLED"`
	RateLimitRPS      float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst    int     `mapstructure:"RATE_LIMIT_BURST"`
}

var keys = []string{
	"ENV", "LOG_LEVEL", "PORT", "STORE_DRIVER", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"SQLITE_PATH", "REDIS_URL", "RUN_LOCK_TTL_SECONDS", "SCHEDULE_SEED", "THEATRE_COUNT",
	"WRITE_CHUNK_SIZE", "CATALOG_PATH", "PUSHGATEWAY_URL", "METRICS_ENABLED",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
}

// Load reads configuration from the environment, falling back to a .env
// file in the working directory. It does not validate; call Validate.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("PORT", "8000")
	v.SetDefault("STORE_DRIVER", DriverPostgres)
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("SQLITE_PATH", "data/theatre.db")
	v.SetDefault("RUN_LOCK_TTL_SECONDS", 600)
	v.SetDefault("SCHEDULE_SEED", 1)
	v.SetDefault("THEATRE_COUNT", 12)
	v.SetDefault("WRITE_CHUNK_SIZE", 400)
	v.SetDefault("METRICS_ENABLED", true)
	v.SetDefault("RATE_LIMIT_RPS", 0.1)
	v.SetDefault("RATE_LIMIT_BURST", 3)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the service is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func (c *Config) RunLockTTL() time.Duration {
	return time.Duration(c.RunLockTTLSeconds) * time.Second
}

// Validate checks that the configuration can drive a run. Storage settings
// are checked for the selected driver only.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER is %q", DriverPostgres)
		}
		if c.DBMinConns > c.DBMaxConns {
			return fmt.Errorf("DB_MIN_CONNS (%d) must not exceed DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
		}
	case DriverSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required when STORE_DRIVER is %q", DriverSQLite)
		}
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", DriverPostgres, DriverSQLite, c.StoreDriver)
	}

	if c.TheatreCount <= 0 {
		return fmt.Errorf("THEATRE_COUNT must be positive, got %d", c.TheatreCount)
	}
	if c.WriteChunkSize <= 0 {
		return fmt.Errorf("WRITE_CHUNK_SIZE must be positive, got %d", c.WriteChunkSize)
	}
	if c.RunLockTTLSeconds <= 0 {
		return fmt.Errorf("RUN_LOCK_TTL_SECONDS must be positive, got %d", c.RunLockTTLSeconds)
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	return nil
}
