package events

// Event type constants for kelindar/event.
const (
	TypeSessionStateChanged uint32 = iota + 1
	TypeFormatNegotiated
	TypeFrameDropped
	TypeSessionEnded
	TypeLogEntry
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// SessionStateChangedEvent is published on every session state transition.
type SessionStateChangedEvent struct {
	SessionID string `json:"session_id" example:"1b4e28ba-2fa1-11d2-883f-0016d3cca427" doc:"Session identifier"`
	From      string `json:"from" example:"negotiating" doc:"Previous state"`
	To        string `json:"to" example:"streaming" doc:"New state"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Transition timestamp"`
}

// Type returns the event type identifier for SessionStateChangedEvent.
func (e SessionStateChangedEvent) Type() uint32 { return TypeSessionStateChanged }

// FormatNegotiatedEvent is published whenever a format is accepted,
// including renegotiations.
type FormatNegotiatedEvent struct {
	SessionID   string `json:"session_id" doc:"Session identifier"`
	Width       uint32 `json:"width" example:"1920" doc:"Frame width in pixels"`
	Height      uint32 `json:"height" example:"1080" doc:"Frame height in pixels"`
	PixelFormat string `json:"pixel_format" example:"BGRx" doc:"SPA video format name"`
	Modifier    uint64 `json:"modifier" example:"0" doc:"DRM format modifier"`
	Timestamp   string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Negotiation timestamp"`
}

// Type returns the event type identifier for FormatNegotiatedEvent.
func (e FormatNegotiatedEvent) Type() uint32 { return TypeFormatNegotiated }

// FrameDroppedEvent is published when a frame could not be staged. Stale
// frames skipped by the newest-only policy are not reported here.
type FrameDroppedEvent struct {
	SessionID string `json:"session_id" doc:"Session identifier"`
	Reason    string `json:"reason" example:"RESOURCE: failed to stage mapped plane" doc:"Why the frame was dropped"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Drop timestamp"`
}

// Type returns the event type identifier for FrameDroppedEvent.
func (e FrameDroppedEvent) Type() uint32 { return TypeFrameDropped }

// SessionEndedEvent is published once a session reaches the closed state.
type SessionEndedEvent struct {
	SessionID  string `json:"session_id" doc:"Session identifier"`
	Error      string `json:"error,omitempty" example:"unrecognized format" doc:"Termination cause, empty on clean shutdown"`
	FramesSent uint64 `json:"frames_sent" example:"1200" doc:"Frames delivered to the consumer"`
	Timestamp  string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"End timestamp"`
}

// Type returns the event type identifier for SessionEndedEvent.
func (e SessionEndedEvent) Type() uint32 { return TypeSessionEnded }

// LogEntryEvent represents a log entry for SSE streaming.
type LogEntryEvent struct {
	Seq        uint64         `json:"seq" example:"42" doc:"Monotonic sequence number for deduplication"`
	Timestamp  string         `json:"timestamp" example:"2025-01-09T10:30:00.123Z" doc:"Log timestamp"`
	Level      string         `json:"level" example:"info" doc:"Log level"`
	Module     string         `json:"module" example:"session" doc:"Source module"`
	Message    string         `json:"message" doc:"Log message"`
	Attributes map[string]any `json:"attributes,omitempty" doc:"Structured log attributes"`
}

// Type returns the event type identifier for LogEntryEvent.
func (e LogEntryEvent) Type() uint32 { return TypeLogEntry }
