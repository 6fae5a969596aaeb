package rireki_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/rireki"
	"github.com/ashita-ai/rireki/record"
	"github.com/ashita-ai/rireki/store"
	"github.com/ashita-ai/rireki/store/memstore"
)

// newMetadata returns a manager over a fresh in-memory store, plus the
// store itself so tests can inspect raw records and events.
func newMetadata(t *testing.T) (*rireki.Metadata, *memstore.Store) {
	t.Helper()
	st := memstore.New()
	m := rireki.New(st,
		rireki.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	t.Cleanup(func() { _ = m.Close(context.Background()) })
	return m, st
}

func examplesArtifact() record.Artifact {
	return record.Artifact{TypeName: "ExamplesPath", URI: "exampleuri"}
}

func TestPublishArtifacts_Empty(t *testing.T) {
	m, _ := newMetadata(t)

	published, err := m.PublishArtifacts(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, published)

	all, err := m.GetAllArtifacts(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestPublishArtifacts(t *testing.T) {
	ctx := context.Background()
	m, _ := newMetadata(t)

	published, err := m.PublishArtifacts(ctx, []record.Artifact{examplesArtifact()})
	require.NoError(t, err)
	require.Len(t, published, 1)

	a := published[0]
	assert.Equal(t, int64(1), a.ID)
	assert.Equal(t, "exampleuri", a.URI)
	assert.Equal(t, record.ArtifactPublished, a.State)
	assert.Equal(t, record.String("ExamplesPath"), a.Properties[record.PropTypeName])
	assert.Equal(t, record.String("published"), a.Properties[record.PropState])
	assert.Equal(t, record.String(""), a.Properties[record.PropSplit])

	all, err := m.GetAllArtifacts(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, a, all[0])

	byURI, err := m.GetArtifactsByURI(ctx, "exampleuri")
	require.NoError(t, err)
	assert.Equal(t, all, byURI)
}

func TestPublishArtifacts_DoesNotMutateCaller(t *testing.T) {
	m, _ := newMetadata(t)

	in := examplesArtifact()
	_, err := m.PublishArtifacts(context.Background(), []record.Artifact{in})
	require.NoError(t, err)
	assert.Zero(t, in.ID)
	assert.Empty(t, in.State)
	assert.Nil(t, in.Properties)
}

func TestPublishArtifacts_RejectsExistingID(t *testing.T) {
	m, _ := newMetadata(t)

	a := examplesArtifact()
	a.ID = 7
	_, err := m.PublishArtifacts(context.Background(), []record.Artifact{a})
	assert.True(t, rireki.IsInvalidRequest(err))
}

func TestPublishArtifacts_RequiresTypeName(t *testing.T) {
	m, _ := newMetadata(t)

	_, err := m.PublishArtifacts(context.Background(), []record.Artifact{{URI: "exampleuri"}})
	assert.True(t, rireki.IsInvalidRequest(err))
}

func TestCheckArtifactState(t *testing.T) {
	ctx := context.Background()
	m, _ := newMetadata(t)

	published, err := m.PublishArtifacts(ctx, []record.Artifact{examplesArtifact()})
	require.NoError(t, err)
	a := published[0]

	require.NoError(t, m.CheckArtifactState(ctx, a, record.ArtifactPublished))

	err = m.CheckArtifactState(ctx, a, record.ArtifactDeleted)
	assert.True(t, rireki.IsStateMismatch(err))

	deleted, err := m.UpdateArtifactState(ctx, a, record.ArtifactDeleted)
	require.NoError(t, err)
	assert.Equal(t, record.ArtifactDeleted, deleted.State)
	assert.Equal(t, record.String("deleted"), deleted.Properties[record.PropState])

	// The store copy is authoritative even when the caller still holds
	// the old record.
	require.NoError(t, m.CheckArtifactState(ctx, a, record.ArtifactDeleted))
	err = m.CheckArtifactState(ctx, a, record.ArtifactPublished)
	assert.True(t, rireki.IsStateMismatch(err))
}

func TestCheckArtifactState_UnknownArtifact(t *testing.T) {
	m, _ := newMetadata(t)

	err := m.CheckArtifactState(context.Background(), record.Artifact{ID: 42}, record.ArtifactPublished)
	assert.ErrorIs(t, err, store.ErrNotFound)

	err = m.CheckArtifactState(context.Background(), record.Artifact{}, record.ArtifactPublished)
	assert.True(t, rireki.IsInvalidRequest(err))
}

func TestPrepareExecution(t *testing.T) {
	ctx := context.Background()
	m, st := newMetadata(t)

	id, err := m.PrepareExecution(ctx, "Trainer", record.Properties{"log_root": record.String("path")})
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	execs, err := st.GetExecutionsByID(ctx, []int64{id})
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, "Trainer", execs[0].TypeName)
	assert.Equal(t, record.ExecutionNew, execs[0].State)
	assert.Equal(t, record.String("new"), execs[0].Properties[record.PropState])
	assert.Equal(t, record.String("path"), execs[0].Properties["log_root"])
}

func TestPrepareExecution_RejectsReservedProperty(t *testing.T) {
	m, _ := newMetadata(t)

	_, err := m.PrepareExecution(context.Background(), "Trainer",
		record.Properties{record.PropState: record.String("complete")})
	assert.True(t, rireki.IsInvalidRequest(err))
}

func TestRegisterExecution(t *testing.T) {
	ctx := context.Background()
	m, st := newMetadata(t)

	id, err := m.RegisterExecution(ctx,
		record.Properties{"log_root": record.String("path")},
		record.PipelineInfo{Name: "mypipeline", Root: "root", RunID: "run_id_0"},
		record.ComponentInfo{Type: "a.b.c", ID: "my_component_id"})
	require.NoError(t, err)

	execs, err := st.GetExecutionsByID(ctx, []int64{id})
	require.NoError(t, err)
	require.Len(t, execs, 1)
	e := execs[0]
	assert.Equal(t, "a.b.c", e.TypeName)
	assert.Equal(t, record.String("mypipeline"), e.Properties[record.PropPipelineName])
	assert.Equal(t, record.String("root"), e.Properties[record.PropPipelineRoot])
	assert.Equal(t, record.String("run_id_0"), e.Properties[record.PropRunID])
	assert.Equal(t, record.String("a.b.c"), e.Properties[record.PropComponentType])
	assert.Equal(t, record.String("my_component_id"), e.Properties[record.PropComponentID])
	assert.Equal(t, record.String("path"), e.Properties["log_root"])
}

func TestRegisterExecution_GeneratesRunID(t *testing.T) {
	ctx := context.Background()
	m, st := newMetadata(t)

	id, err := m.RegisterExecution(ctx, nil,
		record.PipelineInfo{Name: "mypipeline", Root: "root"},
		record.ComponentInfo{Type: "a.b.c", ID: "my_component_id"})
	require.NoError(t, err)

	execs, err := st.GetExecutionsByID(ctx, []int64{id})
	require.NoError(t, err)
	require.Len(t, execs, 1)
	runID := execs[0].Properties[record.PropRunID]
	assert.True(t, runID.IsString())
	assert.NotEmpty(t, runID.StringValue())
}

func TestPublishExecution(t *testing.T) {
	ctx := context.Background()
	m, st := newMetadata(t)

	published, err := m.PublishArtifacts(ctx, []record.Artifact{examplesArtifact()})
	require.NoError(t, err)
	input := published[0]

	execID, err := m.PrepareExecution(ctx, "Trainer", nil)
	require.NoError(t, err)

	output := record.Artifact{TypeName: "ModelPath", URI: "modeluri"}
	outputs, err := m.PublishExecution(ctx, execID,
		map[string][]record.Artifact{"input": {input}},
		map[string][]record.Artifact{"output": {output}},
		record.ExecutionComplete)
	require.NoError(t, err)

	require.Len(t, outputs["output"], 1)
	model := outputs["output"][0]
	assert.NotZero(t, model.ID)
	assert.Equal(t, record.ArtifactPublished, model.State)
	assert.Equal(t, record.String("ModelPath"), model.Properties[record.PropTypeName])

	execs, err := st.GetExecutionsByID(ctx, []int64{execID})
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, record.ExecutionComplete, execs[0].State)
	assert.Equal(t, record.String("complete"), execs[0].Properties[record.PropState])

	events, err := st.GetEventsByExecutionIDs(ctx, []int64{execID})
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, record.EventInput, events[0].Type)
	assert.Equal(t, input.ID, events[0].ArtifactID)
	assert.Equal(t, []record.PathStep{record.KeyStep("input"), record.IndexStep(0)}, events[0].Path)

	assert.Equal(t, record.EventOutput, events[1].Type)
	assert.Equal(t, model.ID, events[1].ArtifactID)
	assert.Equal(t, []record.PathStep{record.KeyStep("output"), record.IndexStep(0)}, events[1].Path)
}

func TestPublishExecution_CachedState(t *testing.T) {
	ctx := context.Background()
	m, st := newMetadata(t)

	execID, err := m.PrepareExecution(ctx, "Trainer", nil)
	require.NoError(t, err)

	_, err = m.PublishExecution(ctx, execID, nil, nil, record.ExecutionCached)
	require.NoError(t, err)

	execs, err := st.GetExecutionsByID(ctx, []int64{execID})
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, record.ExecutionCached, execs[0].State)
}

func TestPublishExecution_Validation(t *testing.T) {
	ctx := context.Background()
	m, st := newMetadata(t)

	execID, err := m.PrepareExecution(ctx, "Trainer", nil)
	require.NoError(t, err)

	_, err = m.PublishExecution(ctx, execID, nil, nil, record.ExecutionFailed)
	assert.True(t, rireki.IsInvalidRequest(err), "failed is not a publishable final state")

	_, err = m.PublishExecution(ctx, execID,
		map[string][]record.Artifact{"input": {examplesArtifact()}}, nil,
		record.ExecutionComplete)
	assert.True(t, rireki.IsInvalidRequest(err), "unpublished input")

	_, err = m.PublishExecution(ctx, execID, nil,
		map[string][]record.Artifact{"output": {{URI: "modeluri"}}},
		record.ExecutionComplete)
	assert.True(t, rireki.IsInvalidRequest(err), "output missing type name")

	// A rejected request must leave no events behind.
	events, err := st.GetEventsByExecutionIDs(ctx, []int64{execID})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestPublishExecution_UnknownExecution(t *testing.T) {
	m, _ := newMetadata(t)

	_, err := m.PublishExecution(context.Background(), 42, nil, nil, record.ExecutionComplete)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPublishExecution_ReusesPublishedOutput(t *testing.T) {
	ctx := context.Background()
	m, _ := newMetadata(t)

	published, err := m.PublishArtifacts(ctx, []record.Artifact{examplesArtifact()})
	require.NoError(t, err)
	existing := published[0]

	execID, err := m.PrepareExecution(ctx, "Trainer", nil)
	require.NoError(t, err)

	outputs, err := m.PublishExecution(ctx, execID, nil,
		map[string][]record.Artifact{"output": {existing}},
		record.ExecutionCached)
	require.NoError(t, err)
	assert.Equal(t, existing.ID, outputs["output"][0].ID)

	all, err := m.GetAllArtifacts(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1, "already-published outputs are not re-published")
}
