package session

import (
	"context"

	"github.com/smazurov/pwmirror/internal/frame"
)

// Buffer is one producer buffer. The planes are classified by the producer
// when the buffer is dequeued and are only valid until it is queued back.
type Buffer struct {
	ID     int
	Planes []frame.RawPlane
}

// Stream is the connection to the remote media endpoint. Every method is
// called from the session loop only.
type Stream interface {
	// Connect opens the stream offering the given EnumFormat params.
	Connect(ctx context.Context, params [][]byte) error
	// Events delivers stream notifications. A closed channel ends the session.
	Events() <-chan Event
	// Dequeue returns the oldest buffer holding a new frame.
	Dequeue() (*Buffer, bool)
	// Queue hands a buffer back to the producer.
	Queue(*Buffer)
	// UpdateParams pushes follow-up params, such as buffer requirements.
	UpdateParams(params [][]byte) error
	Disconnect() error
}

// Event is a notification from the Stream.
type Event interface {
	isEvent()
}

// ParamChanged reports a parameter set by the remote side. Pod is nil when
// the parameter was cleared.
type ParamChanged struct {
	ID  uint32
	Pod []byte
}

// Process reports that new buffers can be dequeued.
type Process struct{}

// Failed reports an unrecoverable stream error.
type Failed struct {
	Err error
}

// Ended reports that the remote side closed the stream.
type Ended struct{}

func (ParamChanged) isEvent() {}
func (Process) isEvent()      {}
func (Failed) isEvent()       {}
func (Ended) isEvent()        {}

// Sender delivers staged planes to the consumer.
type Sender interface {
	SendFrame(planes []frame.TransferablePlane) error
	SignalEndOfStream() error
}
