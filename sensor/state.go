package sensor

import "fmt"

// State is the connectivity state of a Coordinator
type State int

const (
	StateIdle State = iota
	StateScanning
	StateNegotiating
	StateStreaming
	// StateFailed is absorbing: negotiation failed, see Coordinator.Failure.
	StateFailed
	// StateStopped is absorbing: stopped by the caller or the stream ended.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateScanning:
		return "Scanning"
	case StateNegotiating:
		return "Negotiating"
	case StateStreaming:
		return "Streaming"
	case StateFailed:
		return "Failed"
	case StateStopped:
		return "Stopped"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether no further transitions can happen
func (s State) Terminal() bool {
	return s == StateFailed || s == StateStopped
}
