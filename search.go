package rireki

import (
	"context"
	"fmt"

	"github.com/ashita-ai/rireki/record"
)

// SearchArtifacts answers "which artifact did this component produce under
// this name in this run": it finds executions registered with the given
// pipeline name, run id and producer component id, then returns the
// artifacts referenced by their OUTPUT events whose path name equals
// artifactName, one per matching event in event order. No match is an
// empty result, not an error.
func (m *Metadata) SearchArtifacts(ctx context.Context, artifactName, pipelineName, runID, producerComponentID string) ([]record.Artifact, error) {
	executions, err := m.store.GetExecutions(ctx)
	if err != nil {
		return nil, fmt.Errorf("rireki: search artifacts: %w", err)
	}

	var producerIDs []int64
	for _, e := range executions {
		if stringProp(e.Properties, record.PropPipelineName) != pipelineName {
			continue
		}
		if stringProp(e.Properties, record.PropRunID) != runID {
			continue
		}
		if stringProp(e.Properties, record.PropComponentID) != producerComponentID {
			continue
		}
		producerIDs = append(producerIDs, e.ID)
	}
	if len(producerIDs) == 0 {
		return nil, nil
	}

	events, err := m.store.GetEventsByExecutionIDs(ctx, producerIDs)
	if err != nil {
		return nil, fmt.Errorf("rireki: search artifact events: %w", err)
	}
	var artifactIDs []int64
	for _, ev := range events {
		if ev.Type == record.EventOutput && ev.PathName() == artifactName {
			artifactIDs = append(artifactIDs, ev.ArtifactID)
		}
	}
	if len(artifactIDs) == 0 {
		return nil, nil
	}

	artifacts, err := m.store.GetArtifactsByID(ctx, artifactIDs)
	if err != nil {
		return nil, fmt.Errorf("rireki: search artifact records: %w", err)
	}
	byID := make(map[int64]record.Artifact, len(artifacts))
	for _, a := range artifacts {
		byID[a.ID] = a
	}

	// One artifact per matching event, in event order.
	out := make([]record.Artifact, 0, len(artifactIDs))
	for _, id := range artifactIDs {
		if a, ok := byID[id]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}

func stringProp(props record.Properties, key string) string {
	v, ok := props[key]
	if !ok || !v.IsString() {
		return ""
	}
	return v.StringValue()
}
