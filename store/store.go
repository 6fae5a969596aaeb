// Package store defines the narrow persistence contract consumed by the
// metadata layer: typed CRUD plus exact-match lookups over three record
// kinds (artifacts, executions, events).
//
// Implementations assign ids that are positive and ascending in creation
// order; the metadata layer relies on that ordering as its "most recent"
// tie-break. Property values support exact-match filtering only — no range
// or substring queries are required here.
package store

import (
	"context"
	"errors"

	"github.com/ashita-ai/rireki/record"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence adapter bound into a metadata manager.
// Backends in this module: memstore (in-memory), sqlitestore (embedded
// single file), pgstore (network Postgres). Store failures propagate to
// callers unchanged; retry policy belongs to the caller or the backend.
type Store interface {
	// CreateArtifactType interns an artifact type by name and returns its id.
	// First write wins; repeated calls with the same name return the same id.
	CreateArtifactType(ctx context.Context, name string) (int64, error)

	// CreateExecutionType interns an execution type by name, first-write-wins.
	CreateExecutionType(ctx context.Context, name string) (int64, error)

	// PutArtifact stores a new artifact and returns its assigned id.
	PutArtifact(ctx context.Context, a record.Artifact) (int64, error)

	// UpdateArtifact overwrites the stored artifact with the given id.
	UpdateArtifact(ctx context.Context, a record.Artifact) error

	// GetArtifacts returns all artifacts in insertion order.
	GetArtifacts(ctx context.Context) ([]record.Artifact, error)

	// GetArtifactsByID returns the artifacts with the given ids, in id order.
	// Missing ids are skipped, not an error.
	GetArtifactsByID(ctx context.Context, ids []int64) ([]record.Artifact, error)

	// GetArtifactsByURI returns artifacts whose URI equals uri, in insertion order.
	GetArtifactsByURI(ctx context.Context, uri string) ([]record.Artifact, error)

	// PutExecution stores a new execution and returns its assigned id.
	PutExecution(ctx context.Context, e record.Execution) (int64, error)

	// UpdateExecution overwrites the stored execution with the given id.
	UpdateExecution(ctx context.Context, e record.Execution) error

	// GetExecutions returns all executions in insertion order.
	GetExecutions(ctx context.Context) ([]record.Execution, error)

	// GetExecutionsByID returns the executions with the given ids, in id order.
	GetExecutionsByID(ctx context.Context, ids []int64) ([]record.Execution, error)

	// PutEvents appends lineage events. Events are immutable once written.
	PutEvents(ctx context.Context, events []record.Event) error

	// GetEventsByExecutionIDs returns all events of the given executions,
	// in insertion order.
	GetEventsByExecutionIDs(ctx context.Context, ids []int64) ([]record.Event, error)

	// GetEventsByArtifactIDs returns all events referencing the given
	// artifacts, in insertion order.
	GetEventsByArtifactIDs(ctx context.Context, ids []int64) ([]record.Event, error)

	// Ping checks connectivity to the backend.
	Ping(ctx context.Context) error

	// Close releases the backend connection.
	Close(ctx context.Context) error
}
