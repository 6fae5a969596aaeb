package rireki

import (
	"log/slog"

	"github.com/ashita-ai/rireki/store"
)

// Option configures a Metadata manager.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported — callers use the With* functions.
type resolvedOptions struct {
	logger      *slog.Logger
	st          store.Store
	storeKind   string
	databaseURL string
	sqlitePath  string
}

// WithLogger sets the structured logger. If not set, the default slog
// logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithStore binds an explicit store adapter, bypassing backend selection
// from config. Close still closes the store: ownership passes to the
// manager either way.
func WithStore(st store.Store) Option {
	return func(o *resolvedOptions) { o.st = st }
}

// WithStoreKind overrides the backend selection from config
// (RIREKI_STORE env var): "memory", "sqlite" or "postgres".
func WithStoreKind(kind string) Option {
	return func(o *resolvedOptions) { o.storeKind = kind }
}

// WithDatabaseURL overrides the Postgres connection string from config
// (DATABASE_URL env var).
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithSQLitePath overrides the SQLite database path from config
// (RIREKI_SQLITE_PATH env var).
func WithSQLitePath(path string) Option {
	return func(o *resolvedOptions) { o.sqlitePath = path }
}
