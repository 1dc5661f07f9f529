package engine

// State is a session's position in the execution lifecycle.
type State int32

const (
	StateCreated State = iota
	StateValidated
	StateCapabilityResolved
	StateStreaming
	StateCompleted
	StateFailed
	StateCancelled
)

var stateNames = [...]string{
	StateCreated:            "created",
	StateValidated:          "validated",
	StateCapabilityResolved: "capability_resolved",
	StateStreaming:          "streaming",
	StateCompleted:          "completed",
	StateFailed:             "failed",
	StateCancelled:          "cancelled",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether no further transitions can occur.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}
