package stream

// State is the streaming connection lifecycle state
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpenIdle
	StateOpenStreaming
	StateClosing
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpenIdle:
		return "open_idle"
	case StateOpenStreaming:
		return "open_streaming"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// CanSend reports whether audio may be written in this state
func (s State) CanSend() bool {
	return s == StateOpenIdle || s == StateOpenStreaming
}

// Terminal reports whether no further transitions are possible
func (s State) Terminal() bool {
	return s == StateClosed || s == StateFailed
}

// allowed lists legal transitions. Failed is reachable from every
// non-terminal state and is handled separately.
var allowed = map[State][]State{
	StateDisconnected:  {StateConnecting, StateClosed},
	StateConnecting:    {StateOpenIdle, StateClosing},
	StateOpenIdle:      {StateOpenStreaming, StateClosing},
	StateOpenStreaming: {StateClosing},
	StateClosing:       {StateClosed},
}

// canTransition reports whether from -> to is a legal move
func canTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}
