package sqlitestore_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/rireki/record"
	"github.com/ashita-ai/rireki/store"
	"github.com/ashita-ai/rireki/store/sqlitestore"
)

func newTestStore(t *testing.T) *sqlitestore.Store {
	t.Helper()
	s, err := sqlitestore.Open(context.Background(), filepath.Join(t.TempDir(), "rireki.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func TestOpenIsIdempotent(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "rireki.db")

	s, err := sqlitestore.Open(ctx, path)
	require.NoError(t, err)
	_, err = s.PutArtifact(ctx, record.Artifact{TypeName: "ExamplesPath", URI: "uri"})
	require.NoError(t, err)
	require.NoError(t, s.Close(ctx))

	// Reopening an existing file must keep its contents.
	s, err = sqlitestore.Open(ctx, path)
	require.NoError(t, err)
	defer s.Close(ctx) //nolint:errcheck

	all, err := s.GetArtifacts(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestTypeInterning(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	first, err := s.CreateExecutionType(ctx, "Trainer")
	require.NoError(t, err)
	again, err := s.CreateExecutionType(ctx, "Trainer")
	require.NoError(t, err)
	assert.Equal(t, first, again)

	artifactType, err := s.CreateArtifactType(ctx, "Trainer")
	require.NoError(t, err)
	assert.NotEqual(t, first, artifactType)
}

func TestArtifactRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.PutArtifact(ctx, record.Artifact{
		TypeID:   1,
		TypeName: "ExamplesPath",
		URI:      "uri",
		State:    record.ArtifactPublished,
		Properties: record.Properties{
			"type_name": record.String("ExamplesPath"),
			"span":      record.Int(3),
			"score":     record.Float(0.5),
		},
	})
	require.NoError(t, err)

	got, err := s.GetArtifactsByID(ctx, []int64{id})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "uri", got[0].URI)
	assert.Equal(t, record.ArtifactPublished, got[0].State)
	assert.True(t, got[0].Properties["span"].IsInt())
	assert.True(t, got[0].Properties["score"].IsFloat())

	byURI, err := s.GetArtifactsByURI(ctx, "uri")
	require.NoError(t, err)
	assert.Len(t, byURI, 1)

	missing, err := s.GetArtifactsByURI(ctx, "nope")
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestUpdateArtifactNotFound(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	err := s.UpdateArtifact(ctx, record.Artifact{ID: 999, TypeName: "X"})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestExecutionRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.PutExecution(ctx, record.Execution{
		TypeID:     1,
		TypeName:   "Trainer",
		State:      record.ExecutionNew,
		Properties: record.Properties{"state": record.String("new")},
	})
	require.NoError(t, err)

	got, err := s.GetExecutionsByID(ctx, []int64{id})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, record.ExecutionNew, got[0].State)

	got[0].State = record.ExecutionComplete
	got[0].Properties["state"] = record.String("complete")
	require.NoError(t, s.UpdateExecution(ctx, got[0]))

	all, err := s.GetExecutions(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, record.ExecutionComplete, all[0].State)
}

func TestEventsRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	execID, err := s.PutExecution(ctx, record.Execution{TypeID: 1, TypeName: "Trainer", State: record.ExecutionNew})
	require.NoError(t, err)
	artifactID, err := s.PutArtifact(ctx, record.Artifact{TypeID: 2, TypeName: "ExamplesPath", URI: "uri", State: record.ArtifactPublished})
	require.NoError(t, err)

	events := []record.Event{
		{ExecutionID: execID, ArtifactID: artifactID, Type: record.EventInput, Path: record.StepPath("input", 0)},
		{ExecutionID: execID, ArtifactID: artifactID, Type: record.EventOutput, Path: record.StepPath("output", 0)},
	}
	require.NoError(t, s.PutEvents(ctx, events))

	got, err := s.GetEventsByExecutionIDs(ctx, []int64{execID})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, record.EventInput, got[0].Type)
	assert.Equal(t, "input", got[0].PathName())
	assert.Equal(t, 0, got[0].Path[1].Index())

	byArtifact, err := s.GetEventsByArtifactIDs(ctx, []int64{artifactID})
	require.NoError(t, err)
	assert.Len(t, byArtifact, 2)
}
