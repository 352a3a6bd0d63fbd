package core

// State represents the lifecycle state of a unit.
type State int32

const (
	// StateUninitialized means the unit is registered but not configured
	StateUninitialized State = iota

	// StateInitializing means configuration is being applied
	StateInitializing

	// StateInitialized means the unit is configured and may be started
	StateInitialized

	// StateStarting means the unit's start hook is running
	StateStarting

	// StateStarted means the unit is processing messages
	StateStarted

	// StateStopping means the unit is shutting down
	StateStopping

	// StateStopped means the unit has shut down and may be restarted
	StateStopped

	// StateFailed means the unit hit an unrecoverable error
	StateFailed
)

// String returns the string representation of State.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateInitialized:
		return "initialized"
	case StateStarting:
		return "starting"
	case StateStarted:
		return "started"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// transitions lists the forward edges of the lifecycle graph. FAILED is
// reachable from every non-terminal state and is handled separately.
var transitions = map[State][]State{
	StateUninitialized: {StateInitializing},
	StateInitializing:  {StateInitialized},
	StateInitialized:   {StateStarting},
	StateStarting:      {StateStarted},
	StateStarted:       {StateStopping},
	StateStopping:      {StateStopped},
	StateStopped:       {StateStarting},
}

// CanTransition reports whether the lifecycle graph has an edge from s to next.
func (s State) CanTransition(next State) bool {
	if s == StateFailed {
		return false
	}
	if next == StateFailed {
		return true
	}
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s State) IsTerminal() bool {
	return s == StateFailed
}

// IsRunning reports whether the unit accepts messages under the drop policy.
func (s State) IsRunning() bool {
	return s == StateStarting || s == StateStarted
}

// Startable reports whether Start may be called from s.
func (s State) Startable() bool {
	return s == StateInitialized || s == StateStopped
}
