// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"bibliotheca/internal/store"
)

// Config is the process configuration, read from the environment.
type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	HTTP      HTTPConfig
	Telemetry TelemetryConfig
	Jobs      JobsConfig
}

type AppConfig struct {
	Environment string // development, test, production
	LogLevel    string
	ServiceName string
}

type DatabaseConfig struct {
	Driver     store.Dialect
	URL        string
	SQLitePath string
	MaxConns   int
}

type HTTPConfig struct {
	Port               string
	FrontendOrigin     string
	CookieSecure       bool
	LoginRatePerMinute int
}

type TelemetryConfig struct {
	OTLPEndpoint string
}

// JobsConfig holds cron specs; an empty spec disables the job.
type JobsConfig struct {
	PromoteSchedule      string
	SessionPurgeSchedule string
}

// Load reads an optional .env file and then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Environment: getEnv("APP_ENV", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			ServiceName: getEnv("SERVICE_NAME", "bibliotheca"),
		},
		Database: DatabaseConfig{
			Driver:     store.Dialect(strings.ToLower(getEnv("DB_DRIVER", string(store.SQLite)))),
			URL:        os.Getenv("DATABASE_URL"),
			SQLitePath: getEnv("SQLITE_PATH", "bibliotheca.db"),
			MaxConns:   getEnvInt("DB_MAX_CONNS", 10),
		},
		HTTP: HTTPConfig{
			Port:               getEnv("PORT", "8080"),
			FrontendOrigin:     getEnv("FRONTEND_ORIGIN", "http://localhost:3000"),
			CookieSecure:       getEnvBool("COOKIE_SECURE", false),
			LoginRatePerMinute: getEnvInt("LOGIN_RATE_PER_MINUTE", 10),
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		},
		Jobs: JobsConfig{
			PromoteSchedule:      getEnv("PROMOTE_SCHEDULE", "@every 1m"),
			SessionPurgeSchedule: getEnv("SESSION_PURGE_SCHEDULE", "@hourly"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case store.Postgres:
		if c.Database.URL == "" {
			return errors.New("DATABASE_URL must be set for the postgres driver")
		}
	case store.SQLite:
		if c.Database.SQLitePath == "" {
			return errors.New("SQLITE_PATH must not be empty")
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver)
	}

	if c.IsProduction() && !c.HTTP.CookieSecure {
		return errors.New("COOKIE_SECURE must be true in production")
	}
	if c.HTTP.LoginRatePerMinute <= 0 {
		return errors.New("LOGIN_RATE_PER_MINUTE must be positive")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// StoreOptions returns the store settings for the configured driver.
func (c *Config) StoreOptions() store.Options {
	dsn := c.Database.URL
	if c.Database.Driver == store.SQLite {
		dsn = c.Database.SQLitePath
	}
	return store.Options{
		Dialect:  c.Database.Driver,
		DSN:      dsn,
		MaxConns: c.Database.MaxConns,
	}
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	value, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvBool(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}
