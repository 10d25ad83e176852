package transport

import (
	"errors"
	"fmt"
)

// ErrClosed is the cause of every operation attempted after end-of-stream
// was signalled or the sender was closed.
var ErrClosed = errors.New("transport closed")

// ErrEmptyFrame is the cause of sending a frame without planes.
var ErrEmptyFrame = errors.New("frame has no planes")

// Error codes for transport failures.
const (
	ErrCodePartial = "PARTIAL"
	ErrCodeClosed  = "CLOSED"
	ErrCodeEmpty   = "EMPTY"
)

// Error reports a failed send. Sent is the number of planes of the frame
// that reached the socket before the failure.
type Error struct {
	Code    string
	Message string
	Sent    int
	Total   int
	Cause   error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Total > 0 {
		msg += fmt.Sprintf(" (%d/%d planes sent)", e.Sent, e.Total)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func newError(code, message string, sent, total int, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Sent:    sent,
		Total:   total,
		Cause:   cause,
	}
}
