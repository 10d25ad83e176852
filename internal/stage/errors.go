package stage

import (
	"errors"
	"fmt"
)

// ErrNoDescriptor is the cause recorded when a descriptor-backed plane does
// not carry an open descriptor.
var ErrNoDescriptor = errors.New("plane has no open descriptor")

// ErrNoPlanes is the cause recorded for a buffer without planes.
var ErrNoPlanes = errors.New("frame has no planes")

// Error codes for staging failures.
const (
	ErrCodeResource = "RESOURCE"
)

// StageError reports a frame that could not be staged. The frame is dropped
// as a whole.
type StageError struct {
	Code    string
	Message string
	Plane   int
	Cause   error
}

func (e *StageError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (plane %d): %v", e.Code, e.Message, e.Plane, e.Cause)
	}
	return fmt.Sprintf("%s: %s (plane %d)", e.Code, e.Message, e.Plane)
}

func (e *StageError) Unwrap() error {
	return e.Cause
}

func resourceError(plane int, message string, cause error) *StageError {
	return &StageError{
		Code:    ErrCodeResource,
		Message: message,
		Plane:   plane,
		Cause:   cause,
	}
}
