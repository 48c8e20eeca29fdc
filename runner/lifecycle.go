package runner

import "errors"

var (
	// ErrPermission wraps microphone acquisition failures.
	ErrPermission = errors.New("microphone access denied")
	// ErrSetup wraps failures to open the playback device or the transport.
	ErrSetup = errors.New("session setup failed")
	// ErrSessionClosed is returned by operations on a session that already
	// reached Closed.
	ErrSessionClosed = errors.New("session closed")
)

// State is the lifecycle position of a session.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateActive
	StateClosing
	StateClosed
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Live reports whether a session in this state still holds resources.
func (s State) Live() bool {
	return s == StateConnecting || s == StateActive || s == StateClosing || s == StateError
}

var transitions = map[State][]State{
	StateIdle:       {StateConnecting, StateClosed},
	StateConnecting: {StateActive, StateClosing, StateError, StateClosed},
	StateActive:     {StateClosing, StateError},
	StateError:      {StateClosing},
	StateClosing:    {StateClosed},
}

// canTransition reports whether from -> to is a legal lifecycle step.
func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CloseReason says which exit path ended a session.
type CloseReason string

const (
	CloseReasonUser   CloseReason = "user"
	CloseReasonRemote CloseReason = "remote"
	CloseReasonError  CloseReason = "error"
	CloseReasonSetup  CloseReason = "setup"
)
