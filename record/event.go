package record

import (
	"encoding/json"
	"fmt"
)

// EventType is the direction of a lineage edge.
type EventType string

const (
	EventInput  EventType = "INPUT"
	EventOutput EventType = "OUTPUT"
)

// PathStep is one step of an event path: exactly one of a string key (the
// logical input/output name) or an integer index (the position within that
// name's artifact list). A (name, index) pair is encoded as two consecutive
// steps, key then index.
type PathStep struct {
	key     string
	index   int
	isIndex bool
}

// KeyStep returns a key-tagged path step.
func KeyStep(key string) PathStep { return PathStep{key: key} }

// IndexStep returns an index-tagged path step.
func IndexStep(index int) PathStep { return PathStep{index: index, isIndex: true} }

// IsIndex reports whether the step carries an index rather than a key.
func (s PathStep) IsIndex() bool { return s.isIndex }

// Key returns the step's key, or "" for index steps.
func (s PathStep) Key() string { return s.key }

// Index returns the step's index, or 0 for key steps.
func (s PathStep) Index() int { return s.index }

type pathStepJSON struct {
	Key   *string `json:"key,omitempty"`
	Index *int    `json:"index,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (s PathStep) MarshalJSON() ([]byte, error) {
	var sj pathStepJSON
	if s.isIndex {
		sj.Index = &s.index
	} else {
		sj.Key = &s.key
	}
	return json.Marshal(sj)
}

// UnmarshalJSON implements json.Unmarshaler. Exactly one field must be set.
func (s *PathStep) UnmarshalJSON(data []byte) error {
	var sj pathStepJSON
	if err := json.Unmarshal(data, &sj); err != nil {
		return fmt.Errorf("record: decode path step: %w", err)
	}
	switch {
	case sj.Key != nil && sj.Index == nil:
		*s = KeyStep(*sj.Key)
	case sj.Index != nil && sj.Key == nil:
		*s = IndexStep(*sj.Index)
	default:
		return fmt.Errorf("record: path step must carry exactly one of key/index")
	}
	return nil
}

// StepPath builds the canonical two-step path for an artifact at position
// index under the named input/output.
func StepPath(name string, index int) []PathStep {
	return []PathStep{KeyStep(name), IndexStep(index)}
}

// Event is a directed lineage edge between an execution and an artifact.
// Append-only: written once when an execution leaves the new state, never
// updated or deleted.
type Event struct {
	ExecutionID int64
	ArtifactID  int64
	Type        EventType
	Path        []PathStep
}

// PathName returns the key of the first key-step in the event path, or ""
// when the path has none.
func (e Event) PathName() string {
	for _, s := range e.Path {
		if !s.IsIndex() {
			return s.Key()
		}
	}
	return ""
}

// Clone returns a deep copy of the event.
func (e Event) Clone() Event {
	out := e
	out.Path = append([]PathStep(nil), e.Path...)
	return out
}
