// Package record defines the metadata records tracked by Rireki: artifacts,
// executions and the lineage events connecting them.
//
// Records are plain values. Stores assign ids; everything else is owned by
// the caller. Events are append-only — never mutated or deleted.
package record

import "github.com/google/uuid"

// ArtifactState is the lifecycle state of an artifact.
type ArtifactState string

const (
	ArtifactPending   ArtifactState = "pending"
	ArtifactPublished ArtifactState = "published"
	ArtifactDeleted   ArtifactState = "deleted"
)

// ExecutionState is the lifecycle state of an execution.
type ExecutionState string

const (
	ExecutionNew      ExecutionState = "new"
	ExecutionRunning  ExecutionState = "running"
	ExecutionComplete ExecutionState = "complete"
	ExecutionFailed   ExecutionState = "failed"
	ExecutionCached   ExecutionState = "cached"
)

// Reserved property keys managed by the metadata layer. Callers may read
// them but should not set them directly.
const (
	PropState    = "state"
	PropTypeName = "type_name"
	PropSplit    = "split"

	PropPipelineName  = "pipeline_name"
	PropPipelineRoot  = "pipeline_root"
	PropRunID         = "run_id"
	PropComponentType = "component_type"
	PropComponentID   = "component_id"
)

// Artifact is a metadata record referencing one externally-stored unit of
// pipeline output (file, dataset, model). The payload behind URI is never
// touched by this library.
//
// State is mirrored into Properties[PropState]; the metadata layer keeps the
// two in sync. ID is zero until the artifact is published.
type Artifact struct {
	ID         int64
	TypeID     int64
	TypeName   string
	URI        string
	State      ArtifactState
	Properties Properties
}

// Clone returns a deep copy of the artifact.
func (a Artifact) Clone() Artifact {
	out := a
	out.Properties = a.Properties.Clone()
	return out
}

// Execution is a metadata record for one pipeline-step invocation.
// Configuration supplied by the caller lives in Properties alongside the
// reserved state and context keys.
type Execution struct {
	ID         int64
	TypeID     int64
	TypeName   string
	State      ExecutionState
	Properties Properties
}

// Clone returns a deep copy of the execution.
func (e Execution) Clone() Execution {
	out := e
	out.Properties = e.Properties.Clone()
	return out
}

// PipelineInfo identifies the pipeline run an execution belongs to.
type PipelineInfo struct {
	Name string
	Root string
	RunID string
}

// WithDefaultRunID returns the info with RunID populated. Orchestrators that
// do not track their own run ids get a generated UUID.
func (p PipelineInfo) WithDefaultRunID() PipelineInfo {
	if p.RunID == "" {
		p.RunID = uuid.NewString()
	}
	return p
}

// ComponentInfo identifies the component within a pipeline that owns an
// execution. Used only for lineage queries, never for cache matching.
type ComponentInfo struct {
	Type string
	ID   string
}
