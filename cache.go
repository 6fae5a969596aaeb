package rireki

import (
	"context"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashita-ai/rireki/record"
)

// Execution property keys excluded from cache matching: lifecycle state and
// pipeline/component context exist for lineage queries, not equivalence.
var reservedExecutionKeys = map[string]bool{
	record.PropState:         true,
	record.PropPipelineName:  true,
	record.PropPipelineRoot:  true,
	record.PropRunID:         true,
	record.PropComponentType: true,
	record.PropComponentID:   true,
}

// PreviousRun returns the id of the most recent complete execution that is
// equivalent to the described step: same type name, identical input
// artifact id set per input name (the name sets must match exactly; order
// within a name does not matter), and an exactly equal configuration
// property bag — a key absent on either side is a mismatch. When several
// executions qualify, the one with the largest id wins (ids ascend in
// creation order, so largest means most recently created). A miss is
// (0, false, nil), never an error.
func (m *Metadata) PreviousRun(ctx context.Context, typeName string, inputs map[string][]record.Artifact, execProperties record.Properties) (int64, bool, error) {
	ctx, span := m.tracer.Start(ctx, "rireki.PreviousRun",
		trace.WithAttributes(attribute.String("execution.type", typeName)))
	defer span.End()

	executions, err := m.store.GetExecutions(ctx)
	if err != nil {
		return 0, false, fmt.Errorf("rireki: previous run: %w", err)
	}

	var candidates []int64
	for _, e := range executions {
		if e.TypeName != typeName || e.State != record.ExecutionComplete {
			continue
		}
		if !configProperties(e).Equal(execProperties) {
			continue
		}
		candidates = append(candidates, e.ID)
	}
	if len(candidates) == 0 {
		return m.cacheMiss(ctx), false, nil
	}

	events, err := m.store.GetEventsByExecutionIDs(ctx, candidates)
	if err != nil {
		return 0, false, fmt.Errorf("rireki: previous run events: %w", err)
	}
	recorded := make(map[int64]map[string]map[int64]bool)
	for _, ev := range events {
		if ev.Type != record.EventInput {
			continue
		}
		byName := recorded[ev.ExecutionID]
		if byName == nil {
			byName = make(map[string]map[int64]bool)
			recorded[ev.ExecutionID] = byName
		}
		name := ev.PathName()
		if byName[name] == nil {
			byName[name] = make(map[int64]bool)
		}
		byName[name][ev.ArtifactID] = true
	}

	want := inputIDSetsByName(inputs)
	sort.Slice(candidates, func(i, j int) bool { return candidates[i] > candidates[j] })
	for _, id := range candidates {
		if namedSetsEqual(recorded[id], want) {
			m.logger.Debug("previous run found", "execution_id", id, "type", typeName)
			return m.cacheHit(ctx, id), true, nil
		}
	}
	return m.cacheMiss(ctx), false, nil
}

// FindCachedExecution walks the candidate execution ids in the caller's
// precedence order and returns the first whose recorded INPUT artifact id
// set exactly equals the flattened id set of inputs. Deliberately coarser
// than PreviousRun — input names, positions and execution type are ignored;
// callers are expected to have filtered candidates by type and properties
// already. A miss is (0, false, nil).
func (m *Metadata) FindCachedExecution(ctx context.Context, inputs map[string][]record.Artifact, candidateIDs []int64) (int64, bool, error) {
	want := make(map[int64]bool)
	for _, list := range inputs {
		for _, a := range list {
			want[a.ID] = true
		}
	}

	for _, id := range candidateIDs {
		events, err := m.store.GetEventsByExecutionIDs(ctx, []int64{id})
		if err != nil {
			return 0, false, fmt.Errorf("rireki: cached execution events: %w", err)
		}
		got := make(map[int64]bool)
		for _, ev := range events {
			if ev.Type == record.EventInput {
				got[ev.ArtifactID] = true
			}
		}
		if idSetsEqual(got, want) {
			m.logger.Debug("cached execution found", "execution_id", id)
			return m.cacheHit(ctx, id), true, nil
		}
	}
	return m.cacheMiss(ctx), false, nil
}

// FetchPreviousResultArtifacts overlays the previous execution's OUTPUT
// artifacts onto newOutputs by name and position: id, type, uri and
// property bag are copied and the state forced to published, so the copy
// can stand in for a fresh output without re-running the step. Positions
// the previous execution has no output for are left untouched. The store
// is not written; the previous execution's own records are unchanged.
func (m *Metadata) FetchPreviousResultArtifacts(ctx context.Context, newOutputs map[string][]record.Artifact, previousExecutionID int64) (map[string][]record.Artifact, error) {
	events, err := m.store.GetEventsByExecutionIDs(ctx, []int64{previousExecutionID})
	if err != nil {
		return nil, fmt.Errorf("rireki: previous result events: %w", err)
	}

	type slot struct {
		name  string
		index int
	}
	prevBySlot := make(map[slot]int64)
	var artifactIDs []int64
	for _, ev := range events {
		if ev.Type != record.EventOutput || len(ev.Path) != 2 {
			continue
		}
		if ev.Path[0].IsIndex() || !ev.Path[1].IsIndex() {
			continue
		}
		prevBySlot[slot{ev.Path[0].Key(), ev.Path[1].Index()}] = ev.ArtifactID
		artifactIDs = append(artifactIDs, ev.ArtifactID)
	}

	prevArtifacts, err := m.store.GetArtifactsByID(ctx, artifactIDs)
	if err != nil {
		return nil, fmt.Errorf("rireki: previous result artifacts: %w", err)
	}
	byID := make(map[int64]record.Artifact, len(prevArtifacts))
	for _, a := range prevArtifacts {
		byID[a.ID] = a
	}

	out := make(map[string][]record.Artifact, len(newOutputs))
	for name, list := range newOutputs {
		copied := make([]record.Artifact, len(list))
		for i, a := range list {
			prevID, ok := prevBySlot[slot{name, i}]
			if !ok {
				copied[i] = a.Clone()
				continue
			}
			prev, ok := byID[prevID]
			if !ok {
				copied[i] = a.Clone()
				continue
			}
			cached := prev.Clone()
			cached.State = record.ArtifactPublished
			if cached.Properties == nil {
				cached.Properties = record.Properties{}
			}
			cached.Properties[record.PropState] = record.String(string(record.ArtifactPublished))
			copied[i] = cached
		}
		out[name] = copied
	}
	return out, nil
}

func (m *Metadata) cacheHit(ctx context.Context, id int64) int64 {
	if m.cacheHits != nil {
		m.cacheHits.Add(ctx, 1)
	}
	return id
}

func (m *Metadata) cacheMiss(ctx context.Context) int64 {
	if m.cacheMisses != nil {
		m.cacheMisses.Add(ctx, 1)
	}
	return 0
}

// configProperties returns the execution's property bag with lifecycle and
// context keys stripped, leaving only caller-supplied configuration.
func configProperties(e record.Execution) record.Properties {
	out := make(record.Properties, len(e.Properties))
	for k, v := range e.Properties {
		if !reservedExecutionKeys[k] {
			out[k] = v
		}
	}
	return out
}

func inputIDSetsByName(inputs map[string][]record.Artifact) map[string]map[int64]bool {
	out := make(map[string]map[int64]bool, len(inputs))
	for name, list := range inputs {
		set := make(map[int64]bool, len(list))
		for _, a := range list {
			set[a.ID] = true
		}
		out[name] = set
	}
	return out
}

func namedSetsEqual(a, b map[string]map[int64]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for name, set := range a {
		other, ok := b[name]
		if !ok || !idSetsEqual(set, other) {
			return false
		}
	}
	return true
}

func idSetsEqual(a, b map[int64]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for id := range a {
		if !b[id] {
			return false
		}
	}
	return true
}
