// Package sqlitestore is the embedded single-file store backend, built on
// modernc.org/sqlite (pure Go, no cgo). It is the in-process option for
// orchestrators that run without a database server.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/ashita-ai/rireki/record"
	"github.com/ashita-ai/rireki/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS types (
	id   INTEGER PRIMARY KEY AUTOINCREMENT,
	kind TEXT NOT NULL,
	name TEXT NOT NULL,
	UNIQUE (kind, name)
);
CREATE TABLE IF NOT EXISTS artifacts (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	type_id    INTEGER NOT NULL,
	type_name  TEXT NOT NULL,
	uri        TEXT NOT NULL,
	state      TEXT NOT NULL,
	properties TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_artifacts_uri ON artifacts (uri);
CREATE TABLE IF NOT EXISTS executions (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	type_id    INTEGER NOT NULL,
	type_name  TEXT NOT NULL,
	state      TEXT NOT NULL,
	properties TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS events (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	execution_id INTEGER NOT NULL,
	artifact_id  INTEGER NOT NULL,
	event_type   TEXT NOT NULL,
	path         TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_execution ON events (execution_id);
CREATE INDEX IF NOT EXISTS idx_events_artifact ON events (artifact_id);
`

// Store is a store.Store backed by a SQLite database file.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// Open opens (creating if needed) the database at path and ensures the
// schema exists. Use ":memory:" for an ephemeral store.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open %s: %w", path, err)
	}
	// modernc.org/sqlite serializes writers itself; a single connection
	// avoids SQLITE_BUSY between concurrent statements.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlitestore: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// CreateArtifactType interns an artifact type name, first-write-wins.
func (s *Store) CreateArtifactType(ctx context.Context, name string) (int64, error) {
	return s.internType(ctx, "artifact", name)
}

// CreateExecutionType interns an execution type name, first-write-wins.
func (s *Store) CreateExecutionType(ctx context.Context, name string) (int64, error) {
	return s.internType(ctx, "execution", name)
}

func (s *Store) internType(ctx context.Context, kind, name string) (int64, error) {
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO types (kind, name) VALUES (?, ?)`, kind, name,
	); err != nil {
		return 0, fmt.Errorf("sqlitestore: intern %s type: %w", kind, err)
	}
	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM types WHERE kind = ? AND name = ?`, kind, name,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("sqlitestore: get %s type id: %w", kind, err)
	}
	return id, nil
}

// PutArtifact stores a new artifact and returns its assigned id.
func (s *Store) PutArtifact(ctx context.Context, a record.Artifact) (int64, error) {
	props, err := json.Marshal(a.Properties)
	if err != nil {
		return 0, fmt.Errorf("sqlitestore: encode artifact properties: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO artifacts (type_id, type_name, uri, state, properties) VALUES (?, ?, ?, ?, ?)`,
		a.TypeID, a.TypeName, a.URI, string(a.State), string(props),
	)
	if err != nil {
		return 0, fmt.Errorf("sqlitestore: put artifact: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("sqlitestore: artifact id: %w", err)
	}
	return id, nil
}

// UpdateArtifact overwrites the stored artifact with the given id.
func (s *Store) UpdateArtifact(ctx context.Context, a record.Artifact) error {
	props, err := json.Marshal(a.Properties)
	if err != nil {
		return fmt.Errorf("sqlitestore: encode artifact properties: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE artifacts SET type_id = ?, type_name = ?, uri = ?, state = ?, properties = ? WHERE id = ?`,
		a.TypeID, a.TypeName, a.URI, string(a.State), string(props), a.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlitestore: update artifact: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlitestore: update artifact rows: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// GetArtifacts returns all artifacts in insertion order.
func (s *Store) GetArtifacts(ctx context.Context) ([]record.Artifact, error) {
	return s.queryArtifacts(ctx, `SELECT id, type_id, type_name, uri, state, properties FROM artifacts ORDER BY id`)
}

// GetArtifactsByID returns the artifacts with the given ids, in id order.
func (s *Store) GetArtifactsByID(ctx context.Context, ids []int64) ([]record.Artifact, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	q := `SELECT id, type_id, type_name, uri, state, properties FROM artifacts WHERE id IN (` +
		placeholders(len(ids)) + `) ORDER BY id`
	return s.queryArtifacts(ctx, q, int64Args(ids)...)
}

// GetArtifactsByURI returns artifacts whose URI equals uri, in insertion order.
func (s *Store) GetArtifactsByURI(ctx context.Context, uri string) ([]record.Artifact, error) {
	return s.queryArtifacts(ctx,
		`SELECT id, type_id, type_name, uri, state, properties FROM artifacts WHERE uri = ? ORDER BY id`, uri)
}

func (s *Store) queryArtifacts(ctx context.Context, query string, args ...any) ([]record.Artifact, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: query artifacts: %w", err)
	}
	defer rows.Close()

	var out []record.Artifact
	for rows.Next() {
		var a record.Artifact
		var state, props string
		if err := rows.Scan(&a.ID, &a.TypeID, &a.TypeName, &a.URI, &state, &props); err != nil {
			return nil, fmt.Errorf("sqlitestore: scan artifact: %w", err)
		}
		a.State = record.ArtifactState(state)
		if err := json.Unmarshal([]byte(props), &a.Properties); err != nil {
			return nil, fmt.Errorf("sqlitestore: decode artifact properties: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// PutExecution stores a new execution and returns its assigned id.
func (s *Store) PutExecution(ctx context.Context, e record.Execution) (int64, error) {
	props, err := json.Marshal(e.Properties)
	if err != nil {
		return 0, fmt.Errorf("sqlitestore: encode execution properties: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO executions (type_id, type_name, state, properties) VALUES (?, ?, ?, ?)`,
		e.TypeID, e.TypeName, string(e.State), string(props),
	)
	if err != nil {
		return 0, fmt.Errorf("sqlitestore: put execution: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("sqlitestore: execution id: %w", err)
	}
	return id, nil
}

// UpdateExecution overwrites the stored execution with the given id.
func (s *Store) UpdateExecution(ctx context.Context, e record.Execution) error {
	props, err := json.Marshal(e.Properties)
	if err != nil {
		return fmt.Errorf("sqlitestore: encode execution properties: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE executions SET type_id = ?, type_name = ?, state = ?, properties = ? WHERE id = ?`,
		e.TypeID, e.TypeName, string(e.State), string(props), e.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlitestore: update execution: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlitestore: update execution rows: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// GetExecutions returns all executions in insertion order.
func (s *Store) GetExecutions(ctx context.Context) ([]record.Execution, error) {
	return s.queryExecutions(ctx, `SELECT id, type_id, type_name, state, properties FROM executions ORDER BY id`)
}

// GetExecutionsByID returns the executions with the given ids, in id order.
func (s *Store) GetExecutionsByID(ctx context.Context, ids []int64) ([]record.Execution, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	q := `SELECT id, type_id, type_name, state, properties FROM executions WHERE id IN (` +
		placeholders(len(ids)) + `) ORDER BY id`
	return s.queryExecutions(ctx, q, int64Args(ids)...)
}

func (s *Store) queryExecutions(ctx context.Context, query string, args ...any) ([]record.Execution, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: query executions: %w", err)
	}
	defer rows.Close()

	var out []record.Execution
	for rows.Next() {
		var e record.Execution
		var state, props string
		if err := rows.Scan(&e.ID, &e.TypeID, &e.TypeName, &state, &props); err != nil {
			return nil, fmt.Errorf("sqlitestore: scan execution: %w", err)
		}
		e.State = record.ExecutionState(state)
		if err := json.Unmarshal([]byte(props), &e.Properties); err != nil {
			return nil, fmt.Errorf("sqlitestore: decode execution properties: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// PutEvents appends lineage events.
func (s *Store) PutEvents(ctx context.Context, events []record.Event) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlitestore: begin events tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, e := range events {
		path, err := json.Marshal(e.Path)
		if err != nil {
			return fmt.Errorf("sqlitestore: encode event path: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO events (execution_id, artifact_id, event_type, path) VALUES (?, ?, ?, ?)`,
			e.ExecutionID, e.ArtifactID, string(e.Type), string(path),
		); err != nil {
			return fmt.Errorf("sqlitestore: put event: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlitestore: commit events: %w", err)
	}
	return nil
}

// GetEventsByExecutionIDs returns all events of the given executions, in
// insertion order.
func (s *Store) GetEventsByExecutionIDs(ctx context.Context, ids []int64) ([]record.Event, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	q := `SELECT execution_id, artifact_id, event_type, path FROM events WHERE execution_id IN (` +
		placeholders(len(ids)) + `) ORDER BY id`
	return s.queryEvents(ctx, q, int64Args(ids)...)
}

// GetEventsByArtifactIDs returns all events referencing the given artifacts,
// in insertion order.
func (s *Store) GetEventsByArtifactIDs(ctx context.Context, ids []int64) ([]record.Event, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	q := `SELECT execution_id, artifact_id, event_type, path FROM events WHERE artifact_id IN (` +
		placeholders(len(ids)) + `) ORDER BY id`
	return s.queryEvents(ctx, q, int64Args(ids)...)
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]record.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: query events: %w", err)
	}
	defer rows.Close()

	var out []record.Event
	for rows.Next() {
		var e record.Event
		var typ, path string
		if err := rows.Scan(&e.ExecutionID, &e.ArtifactID, &typ, &path); err != nil {
			return nil, fmt.Errorf("sqlitestore: scan event: %w", err)
		}
		e.Type = record.EventType(typ)
		if err := json.Unmarshal([]byte(path), &e.Path); err != nil {
			return nil, fmt.Errorf("sqlitestore: decode event path: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Ping checks connectivity to the database.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close(context.Context) error {
	return s.db.Close()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
