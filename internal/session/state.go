package session

// State is the lifecycle state of a connection handle.
type State int

const (
	// StateIdle means Connect has never been called.
	StateIdle State = iota
	// StateConnecting means the transport is being opened.
	StateConnecting
	// StateOpen means the transport is open and the identity was announced.
	StateOpen
	// StateClosed means the handle was closed by the peer or replaced locally.
	StateClosed
	// StateErrored means the transport failed.
	StateErrored
)

// String returns the string representation of State
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible for a handle
// in this state.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateErrored
}
