package pgstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/rireki/record"
	"github.com/ashita-ai/rireki/store"
)

// CreateArtifactType interns an artifact type name, first-write-wins.
func (s *Store) CreateArtifactType(ctx context.Context, name string) (int64, error) {
	return s.internType(ctx, "artifact", name)
}

// CreateExecutionType interns an execution type name, first-write-wins.
func (s *Store) CreateExecutionType(ctx context.Context, name string) (int64, error) {
	return s.internType(ctx, "execution", name)
}

func (s *Store) internType(ctx context.Context, kind, name string) (int64, error) {
	// INSERT … ON CONFLICT DO NOTHING followed by SELECT keeps the first
	// writer's id under concurrent interning of the same name.
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO record_types (kind, name) VALUES ($1, $2) ON CONFLICT (kind, name) DO NOTHING`,
		kind, name,
	); err != nil {
		return 0, fmt.Errorf("pgstore: intern %s type: %w", kind, err)
	}
	var id int64
	err := s.pool.QueryRow(ctx,
		`SELECT id FROM record_types WHERE kind = $1 AND name = $2`, kind, name,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("pgstore: get %s type id: %w", kind, err)
	}
	return id, nil
}

// PutArtifact stores a new artifact and returns its assigned id.
func (s *Store) PutArtifact(ctx context.Context, a record.Artifact) (int64, error) {
	props, err := json.Marshal(a.Properties)
	if err != nil {
		return 0, fmt.Errorf("pgstore: encode artifact properties: %w", err)
	}
	var id int64
	err = s.pool.QueryRow(ctx,
		`INSERT INTO artifacts (type_id, type_name, uri, state, properties)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		a.TypeID, a.TypeName, a.URI, string(a.State), props,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("pgstore: put artifact: %w", err)
	}
	return id, nil
}

// UpdateArtifact overwrites the stored artifact with the given id.
func (s *Store) UpdateArtifact(ctx context.Context, a record.Artifact) error {
	props, err := json.Marshal(a.Properties)
	if err != nil {
		return fmt.Errorf("pgstore: encode artifact properties: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE artifacts SET type_id = $1, type_name = $2, uri = $3, state = $4, properties = $5
		 WHERE id = $6`,
		a.TypeID, a.TypeName, a.URI, string(a.State), props, a.ID,
	)
	if err != nil {
		return fmt.Errorf("pgstore: update artifact: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// GetArtifacts returns all artifacts in insertion order.
func (s *Store) GetArtifacts(ctx context.Context) ([]record.Artifact, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, type_id, type_name, uri, state, properties FROM artifacts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("pgstore: get artifacts: %w", err)
	}
	defer rows.Close()
	return scanArtifacts(rows)
}

// GetArtifactsByID returns the artifacts with the given ids, in id order.
func (s *Store) GetArtifactsByID(ctx context.Context, ids []int64) ([]record.Artifact, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, type_id, type_name, uri, state, properties FROM artifacts
		 WHERE id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return nil, fmt.Errorf("pgstore: get artifacts by id: %w", err)
	}
	defer rows.Close()
	return scanArtifacts(rows)
}

// GetArtifactsByURI returns artifacts whose URI equals uri, in insertion order.
func (s *Store) GetArtifactsByURI(ctx context.Context, uri string) ([]record.Artifact, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, type_id, type_name, uri, state, properties FROM artifacts
		 WHERE uri = $1 ORDER BY id`, uri)
	if err != nil {
		return nil, fmt.Errorf("pgstore: get artifacts by uri: %w", err)
	}
	defer rows.Close()
	return scanArtifacts(rows)
}

func scanArtifacts(rows pgx.Rows) ([]record.Artifact, error) {
	var out []record.Artifact
	for rows.Next() {
		var a record.Artifact
		var state string
		var props []byte
		if err := rows.Scan(&a.ID, &a.TypeID, &a.TypeName, &a.URI, &state, &props); err != nil {
			return nil, fmt.Errorf("pgstore: scan artifact: %w", err)
		}
		a.State = record.ArtifactState(state)
		if err := json.Unmarshal(props, &a.Properties); err != nil {
			return nil, fmt.Errorf("pgstore: decode artifact properties: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// PutExecution stores a new execution and returns its assigned id.
func (s *Store) PutExecution(ctx context.Context, e record.Execution) (int64, error) {
	props, err := json.Marshal(e.Properties)
	if err != nil {
		return 0, fmt.Errorf("pgstore: encode execution properties: %w", err)
	}
	var id int64
	err = s.pool.QueryRow(ctx,
		`INSERT INTO executions (type_id, type_name, state, properties)
		 VALUES ($1, $2, $3, $4) RETURNING id`,
		e.TypeID, e.TypeName, string(e.State), props,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("pgstore: put execution: %w", err)
	}
	return id, nil
}

// UpdateExecution overwrites the stored execution with the given id.
func (s *Store) UpdateExecution(ctx context.Context, e record.Execution) error {
	props, err := json.Marshal(e.Properties)
	if err != nil {
		return fmt.Errorf("pgstore: encode execution properties: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE executions SET type_id = $1, type_name = $2, state = $3, properties = $4
		 WHERE id = $5`,
		e.TypeID, e.TypeName, string(e.State), props, e.ID,
	)
	if err != nil {
		return fmt.Errorf("pgstore: update execution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// GetExecutions returns all executions in insertion order.
func (s *Store) GetExecutions(ctx context.Context) ([]record.Execution, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, type_id, type_name, state, properties FROM executions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("pgstore: get executions: %w", err)
	}
	defer rows.Close()
	return scanExecutions(rows)
}

// GetExecutionsByID returns the executions with the given ids, in id order.
func (s *Store) GetExecutionsByID(ctx context.Context, ids []int64) ([]record.Execution, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, type_id, type_name, state, properties FROM executions
		 WHERE id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return nil, fmt.Errorf("pgstore: get executions by id: %w", err)
	}
	defer rows.Close()
	return scanExecutions(rows)
}

func scanExecutions(rows pgx.Rows) ([]record.Execution, error) {
	var out []record.Execution
	for rows.Next() {
		var e record.Execution
		var state string
		var props []byte
		if err := rows.Scan(&e.ID, &e.TypeID, &e.TypeName, &state, &props); err != nil {
			return nil, fmt.Errorf("pgstore: scan execution: %w", err)
		}
		e.State = record.ExecutionState(state)
		if err := json.Unmarshal(props, &e.Properties); err != nil {
			return nil, fmt.Errorf("pgstore: decode execution properties: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// PutEvents appends lineage events using the COPY protocol; a publish can
// carry one event per input and output artifact, so batches are the norm.
func (s *Store) PutEvents(ctx context.Context, events []record.Event) error {
	if len(events) == 0 {
		return nil
	}

	columns := []string{"execution_id", "artifact_id", "event_type", "path"}
	rows := make([][]any, len(events))
	for i, e := range events {
		path, err := json.Marshal(e.Path)
		if err != nil {
			return fmt.Errorf("pgstore: encode event path: %w", err)
		}
		rows[i] = []any{e.ExecutionID, e.ArtifactID, string(e.Type), path}
	}

	if _, err := s.pool.CopyFrom(ctx, pgx.Identifier{"events"}, columns, pgx.CopyFromRows(rows)); err != nil {
		return fmt.Errorf("pgstore: copy events: %w", err)
	}
	return nil
}

// GetEventsByExecutionIDs returns all events of the given executions, in
// insertion order.
func (s *Store) GetEventsByExecutionIDs(ctx context.Context, ids []int64) ([]record.Event, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT execution_id, artifact_id, event_type, path FROM events
		 WHERE execution_id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return nil, fmt.Errorf("pgstore: get events by execution: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// GetEventsByArtifactIDs returns all events referencing the given artifacts,
// in insertion order.
func (s *Store) GetEventsByArtifactIDs(ctx context.Context, ids []int64) ([]record.Event, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT execution_id, artifact_id, event_type, path FROM events
		 WHERE artifact_id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return nil, fmt.Errorf("pgstore: get events by artifact: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows pgx.Rows) ([]record.Event, error) {
	var out []record.Event
	for rows.Next() {
		var e record.Event
		var typ string
		var path []byte
		if err := rows.Scan(&e.ExecutionID, &e.ArtifactID, &typ, &path); err != nil {
			return nil, fmt.Errorf("pgstore: scan event: %w", err)
		}
		e.Type = record.EventType(typ)
		if err := json.Unmarshal(path, &e.Path); err != nil {
			return nil, fmt.Errorf("pgstore: decode event path: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
