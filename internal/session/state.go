package session

import "fmt"

type State int

const (
	StateIdle State = iota
	StateConnecting
	StateStreaming
	StateStopped
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateStopped:
		return "stopped"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Whether a session in this state holds a microphone or link.
func (s State) active() bool {
	return s == StateConnecting || s == StateStreaming
}

// Receives session status. Methods are called with the session locked
// and must not call back into the session.
type Observer interface {
	OnStateChange(state State)

	// Level of the most recent output frame, 0 to 100.
	OnLevel(percent int)
}

type nopObserver struct{}

func (nopObserver) OnStateChange(State) {}
func (nopObserver) OnLevel(int)         {}
