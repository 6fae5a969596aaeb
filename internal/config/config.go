// Package config loads and validates library configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Store backend kinds selectable via RIREKI_STORE.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Config holds all library configuration.
type Config struct {
	// Store settings.
	StoreKind      string        // "memory", "sqlite" or "postgres".
	DatabaseURL    string        // Postgres URL; required when StoreKind is postgres.
	SQLitePath     string        // SQLite database file; ":memory:" for ephemeral.
	ConnectTimeout time.Duration // Budget for dialing the backend at Open.

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Operational settings.
	LogLevel string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		StoreKind:      envStr("RIREKI_STORE", StoreMemory),
		DatabaseURL:    envStr("DATABASE_URL", ""),
		SQLitePath:     envStr("RIREKI_SQLITE_PATH", "rireki.db"),
		ConnectTimeout: envDuration("RIREKI_CONNECT_TIMEOUT", 30*time.Second),
		OTELEndpoint:   envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:   envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		ServiceName:    envStr("OTEL_SERVICE_NAME", "rireki"),
		LogLevel:       envStr("RIREKI_LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present.
func (c Config) Validate() error {
	switch c.StoreKind {
	case StoreMemory, StoreSQLite, StorePostgres:
	default:
		return fmt.Errorf("config: RIREKI_STORE must be one of memory, sqlite, postgres; got %q", c.StoreKind)
	}
	if c.StoreKind == StorePostgres && c.DatabaseURL == "" {
		return fmt.Errorf("config: DATABASE_URL is required when RIREKI_STORE=postgres")
	}
	if c.StoreKind == StoreSQLite && c.SQLitePath == "" {
		return fmt.Errorf("config: RIREKI_SQLITE_PATH is required when RIREKI_STORE=sqlite")
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("config: RIREKI_CONNECT_TIMEOUT must be positive")
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
