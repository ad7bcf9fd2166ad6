package connection

import "time"

// State is the primary channel state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateConnectionError
	StateAuthError
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateConnectionError:
		return "connection_error"
	case StateAuthError:
		return "auth_error"
	default:
		return "unknown"
	}
}

// StateChange is published to listeners after every transition.
type StateChange struct {
	From     State
	To       State
	Reason   string
	Passive  bool  // Server-initiated close
	Err      error // Cause for error states
	Attempts int
	At       time.Time
}

// event is an input to the state machine.
type event int

const (
	evConnect      event = iota // dial started
	evOpened                    // handshake completed
	evClosed                    // close frame or clean end of stream
	evFailed                    // dial or read failure without auth marker
	evAuthRejected              // credential missing or refused
	evDisconnect                // local teardown
)

func (e event) String() string {
	switch e {
	case evConnect:
		return "connect"
	case evOpened:
		return "opened"
	case evClosed:
		return "closed"
	case evFailed:
		return "failed"
	case evAuthRejected:
		return "auth_rejected"
	case evDisconnect:
		return "disconnect"
	default:
		return "unknown"
	}
}

// transition returns the state after ev. Inputs that do not apply to s leave
// it unchanged. AuthError is only left through evConnect.
func transition(s State, ev event) State {
	switch s {
	case StateDisconnected, StateConnectionError:
		switch ev {
		case evConnect:
			return StateConnecting
		case evAuthRejected:
			return StateAuthError
		case evDisconnect:
			return StateDisconnected
		}
		return s

	case StateConnecting:
		switch ev {
		case evOpened:
			return StateConnected
		case evClosed, evDisconnect:
			return StateDisconnected
		case evFailed:
			return StateConnectionError
		case evAuthRejected:
			return StateAuthError
		}
		return s

	case StateConnected:
		switch ev {
		case evClosed, evDisconnect:
			return StateDisconnected
		case evFailed:
			return StateConnectionError
		case evAuthRejected:
			return StateAuthError
		}
		return s

	case StateAuthError:
		if ev == evConnect {
			return StateConnecting
		}
		return s
	}
	return s
}
