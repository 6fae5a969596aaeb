// Package pgstore is the network-addressed store backend for Rireki,
// built on pgx connection pooling. One file per concern: this file owns
// the pool, migrate.go the schema, records.go the queries.
package pgstore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ashita-ai/rireki/store"
	"github.com/ashita-ai/rireki/store/pgstore/migrations"
)

// Store wraps a pgxpool.Pool. Satisfies store.Store.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var _ store.Store = (*Store)(nil)

// New connects to Postgres, pings it with exponential backoff (databases
// started alongside the orchestrator may not be ready yet), and runs the
// embedded migrations.
func New(ctx context.Context, dsn string, logger *slog.Logger) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("pgstore: parse DSN: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("pgstore: create pool: %w", err)
	}

	ping := func() error {
		if err := pool.Ping(ctx); err != nil {
			logger.Debug("pgstore: ping failed, retrying", "error", err)
			return err
		}
		return nil
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5), ctx)
	if err := backoff.Retry(ping, bo); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgstore: ping: %w", err)
	}

	s := &Store{pool: pool, logger: logger}
	if err := s.runMigrations(ctx, migrations.FS); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Ping checks connectivity to the database.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close shuts down the connection pool. The context is accepted for
// interface symmetry; pool close does not take one.
func (s *Store) Close(context.Context) error {
	s.pool.Close()
	return nil
}
