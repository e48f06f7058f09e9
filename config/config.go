// Package config loads the server configuration from the environment.
//
// Every key is prefixed with LEDGER_ (LEDGER_STORE, LEDGER_PG_DSN, ...).
// An optional .env file in the working directory is loaded first; real
// environment variables win over it.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const Prefix = "LEDGER"

// Store backends.
const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config holds runtime configuration for the server.
type Config struct {
	Env  string `envconfig:"ENV" default:"development"`
	Addr string `envconfig:"ADDR" default:":8080"`

	Store      string `envconfig:"STORE" default:"sqlite"`
	SQLitePath string `envconfig:"SQLITE_PATH" default:"ledger.db"`
	PGDSN      string `envconfig:"PG_DSN"`

	// RedisAddr empty disables the quote cache.
	RedisAddr string        `envconfig:"REDIS_ADDR"`
	CacheTTL  time.Duration `envconfig:"CACHE_TTL" default:"30s"`

	LogFormat string `envconfig:"LOG_FORMAT" default:"console"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`

	CORSOrigins []string `envconfig:"CORS_ORIGINS" default:"http://localhost:3000,http://localhost:5173"`
	// RateLimit is requests per minute per client IP; 0 disables it.
	RateLimit int `envconfig:"RATE_LIMIT" default:"300"`

	ReadTimeout     time.Duration `envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"WRITE_TIMEOUT" default:"15s"`
	RequestTimeout  time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`

	// AuditInterval is how often balance projections are audited; 0 disables it.
	AuditInterval time.Duration `envconfig:"AUDIT_INTERVAL" default:"15m"`
}

// Load reads .env (if present) and the LEDGER_ environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv reads the LEDGER_ environment only.
func FromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Store {
	case StoreSQLite:
		if c.SQLitePath == "" {
			return errors.New("config: LEDGER_SQLITE_PATH must be set for the sqlite store")
		}
	case StorePostgres:
		if c.PGDSN == "" {
			return errors.New("config: LEDGER_PG_DSN must be set for the postgres store")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("config: unknown store %q (want sqlite, postgres or memory)", c.Store)
	}
	if c.RateLimit < 0 {
		return errors.New("config: LEDGER_RATE_LIMIT must not be negative")
	}
	if c.AuditInterval < 0 {
		return errors.New("config: LEDGER_AUDIT_INTERVAL must not be negative")
	}
	return nil
}

// IsProduction reports whether the server runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.Env == "production"
}
