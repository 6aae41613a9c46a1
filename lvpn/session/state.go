package session

// State is a session lifecycle state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateAuthenticating
	StateConnected
	StateReconnecting
	StateClosing
	StateClosed
	// StateFailed is terminal and distinct from a graceful close. The
	// session's last error explains why.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool { return s == StateClosed || s == StateFailed }

// Active reports whether the session owns or is obtaining a connection.
func (s State) Active() bool {
	switch s {
	case StateConnecting, StateAuthenticating, StateConnected, StateReconnecting:
		return true
	}
	return false
}

var transitions = map[State][]State{
	StateIdle:           {StateConnecting, StateClosing},
	StateConnecting:     {StateAuthenticating, StateReconnecting, StateFailed, StateClosing},
	StateAuthenticating: {StateConnected, StateReconnecting, StateFailed, StateClosing},
	StateConnected:      {StateReconnecting, StateClosing},
	StateReconnecting:   {StateConnecting, StateFailed, StateClosing},
	StateClosing:        {StateClosed},
}

// CanTransition reports whether from -> to is a legal lifecycle step.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
