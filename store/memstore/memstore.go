// Package memstore is the in-memory store backend. It backs tests and the
// zero-config embedded mode; contents do not survive the process.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/ashita-ai/rireki/record"
	"github.com/ashita-ai/rireki/store"
)

// Store is a mutex-guarded in-memory store.Store. Ids start at 1 and ascend
// in creation order. All records are deep-copied on the way in and out so
// callers never alias store memory.
type Store struct {
	mu sync.Mutex

	artifactTypes  map[string]int64
	executionTypes map[string]int64
	nextTypeID     int64

	artifacts       map[int64]record.Artifact
	artifactOrder   []int64
	nextArtifactID  int64
	executions      map[int64]record.Execution
	executionOrder  []int64
	nextExecutionID int64
	events          []record.Event
}

var _ store.Store = (*Store)(nil)

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		artifactTypes:   make(map[string]int64),
		executionTypes:  make(map[string]int64),
		nextTypeID:      1,
		artifacts:       make(map[int64]record.Artifact),
		nextArtifactID:  1,
		executions:      make(map[int64]record.Execution),
		nextExecutionID: 1,
	}
}

// CreateArtifactType interns an artifact type name, first-write-wins.
func (s *Store) CreateArtifactType(_ context.Context, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.internType(s.artifactTypes, name), nil
}

// CreateExecutionType interns an execution type name, first-write-wins.
func (s *Store) CreateExecutionType(_ context.Context, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.internType(s.executionTypes, name), nil
}

func (s *Store) internType(types map[string]int64, name string) int64 {
	if id, ok := types[name]; ok {
		return id
	}
	id := s.nextTypeID
	s.nextTypeID++
	types[name] = id
	return id
}

// PutArtifact stores a new artifact and returns its assigned id.
func (s *Store) PutArtifact(_ context.Context, a record.Artifact) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a.ID = s.nextArtifactID
	s.nextArtifactID++
	s.artifacts[a.ID] = a.Clone()
	s.artifactOrder = append(s.artifactOrder, a.ID)
	return a.ID, nil
}

// UpdateArtifact overwrites the stored artifact with the given id.
func (s *Store) UpdateArtifact(_ context.Context, a record.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.artifacts[a.ID]; !ok {
		return store.ErrNotFound
	}
	s.artifacts[a.ID] = a.Clone()
	return nil
}

// GetArtifacts returns all artifacts in insertion order.
func (s *Store) GetArtifacts(_ context.Context) ([]record.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]record.Artifact, 0, len(s.artifactOrder))
	for _, id := range s.artifactOrder {
		out = append(out, s.artifacts[id].Clone())
	}
	return out, nil
}

// GetArtifactsByID returns the artifacts with the given ids, in id order.
func (s *Store) GetArtifactsByID(_ context.Context, ids []int64) ([]record.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var out []record.Artifact
	for _, id := range sorted {
		if a, ok := s.artifacts[id]; ok {
			out = append(out, a.Clone())
		}
	}
	return out, nil
}

// GetArtifactsByURI returns artifacts whose URI equals uri, in insertion order.
func (s *Store) GetArtifactsByURI(_ context.Context, uri string) ([]record.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []record.Artifact
	for _, id := range s.artifactOrder {
		if a := s.artifacts[id]; a.URI == uri {
			out = append(out, a.Clone())
		}
	}
	return out, nil
}

// PutExecution stores a new execution and returns its assigned id.
func (s *Store) PutExecution(_ context.Context, e record.Execution) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e.ID = s.nextExecutionID
	s.nextExecutionID++
	s.executions[e.ID] = e.Clone()
	s.executionOrder = append(s.executionOrder, e.ID)
	return e.ID, nil
}

// UpdateExecution overwrites the stored execution with the given id.
func (s *Store) UpdateExecution(_ context.Context, e record.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.executions[e.ID]; !ok {
		return store.ErrNotFound
	}
	s.executions[e.ID] = e.Clone()
	return nil
}

// GetExecutions returns all executions in insertion order.
func (s *Store) GetExecutions(_ context.Context) ([]record.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]record.Execution, 0, len(s.executionOrder))
	for _, id := range s.executionOrder {
		out = append(out, s.executions[id].Clone())
	}
	return out, nil
}

// GetExecutionsByID returns the executions with the given ids, in id order.
func (s *Store) GetExecutionsByID(_ context.Context, ids []int64) ([]record.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var out []record.Execution
	for _, id := range sorted {
		if e, ok := s.executions[id]; ok {
			out = append(out, e.Clone())
		}
	}
	return out, nil
}

// PutEvents appends lineage events.
func (s *Store) PutEvents(_ context.Context, events []record.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range events {
		s.events = append(s.events, e.Clone())
	}
	return nil
}

// GetEventsByExecutionIDs returns all events of the given executions, in
// insertion order.
func (s *Store) GetEventsByExecutionIDs(_ context.Context, ids []int64) ([]record.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := idSet(ids)
	var out []record.Event
	for _, e := range s.events {
		if want[e.ExecutionID] {
			out = append(out, e.Clone())
		}
	}
	return out, nil
}

// GetEventsByArtifactIDs returns all events referencing the given artifacts,
// in insertion order.
func (s *Store) GetEventsByArtifactIDs(_ context.Context, ids []int64) ([]record.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := idSet(ids)
	var out []record.Event
	for _, e := range s.events {
		if want[e.ArtifactID] {
			out = append(out, e.Clone())
		}
	}
	return out, nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close(context.Context) error { return nil }

func idSet(ids []int64) map[int64]bool {
	set := make(map[int64]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
