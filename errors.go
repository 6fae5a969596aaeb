package rireki

import (
	"errors"
	"fmt"

	"github.com/ashita-ai/rireki/record"
)

// StateMismatchError is returned by CheckArtifactState when the stored state
// differs from the caller's expectation. Not retried by this library.
type StateMismatchError struct {
	ArtifactID int64
	State      record.ArtifactState
	Expected   record.ArtifactState
}

func (e *StateMismatchError) Error() string {
	return fmt.Sprintf("rireki: artifact %d is %q, expected %q", e.ArtifactID, e.State, e.Expected)
}

// IsStateMismatch reports whether err is a StateMismatchError.
func IsStateMismatch(err error) bool {
	var e *StateMismatchError
	return errors.As(err, &e)
}

// InvalidRequestError is returned when a request is malformed. It is always
// raised before any store write, so a rejected call leaves no partial state.
type InvalidRequestError struct {
	Reason string
}

func (e *InvalidRequestError) Error() string {
	return "rireki: invalid request: " + e.Reason
}

// IsInvalidRequest reports whether err is an InvalidRequestError.
func IsInvalidRequest(err error) bool {
	var e *InvalidRequestError
	return errors.As(err, &e)
}

func invalidRequestf(format string, args ...any) error {
	return &InvalidRequestError{Reason: fmt.Sprintf(format, args...)}
}
