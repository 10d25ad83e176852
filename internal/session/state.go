package session

// State is the lifecycle position of a session.
type State int

// Session states in lifecycle order.
const (
	StateCreated State = iota
	StateConnecting
	StateNegotiating
	StateStreaming
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateConnecting:
		return "connecting"
	case StateNegotiating:
		return "negotiating"
	case StateStreaming:
		return "streaming"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
