// ABOUTME: Lifecycle states for an agent and the allow-listed transition table.
// ABOUTME: The table is the single source of truth for which moves are legal.

package lifecycle

// State is one discrete phase of an agent's operational life.
type State string

const (
	StateCreating     State = "creating"
	StateInitializing State = "initializing"
	StateReady        State = "ready"
	StateStarting     State = "starting"
	StateRunning      State = "running"
	StateStopping     State = "stopping"
	StateStopped      State = "stopped"
	StateRestarting   State = "restarting"
	StateError        State = "error"
	StateDestroying   State = "destroying"
	StateDestroyed    State = "destroyed"
)

// validTransitions is the allow-list of legal state changes. Self-transitions
// are always legal and handled separately in CanTransition.
var validTransitions = map[State][]State{
	StateCreating:     {StateInitializing},
	StateInitializing: {StateReady, StateError},
	StateReady:        {StateStarting},
	StateStarting:     {StateRunning, StateError},
	StateRunning:      {StateStopping, StateError},
	StateStopping:     {StateStopped},
	StateStopped:      {StateStarting, StateDestroying},
	StateError:        {StateStarting, StateDestroying},
	StateDestroying:   {StateDestroyed},
}

// CanTransition reports whether moving from s to target is allow-listed.
// Every state may transition to itself as a no-op.
func (s State) CanTransition(target State) bool {
	if s == target {
		return true
	}
	for _, allowed := range validTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the state is terminal. Destroyed is the only
// terminal state; Error and Stopped are recoverable.
func (s State) IsTerminal() bool {
	return s == StateDestroyed
}

// IsValid reports whether the state is a recognized lifecycle state.
func (s State) IsValid() bool {
	switch s {
	case StateCreating, StateInitializing, StateReady, StateStarting,
		StateRunning, StateStopping, StateStopped, StateRestarting,
		StateError, StateDestroying, StateDestroyed:
		return true
	default:
		return false
	}
}

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// AllStates returns every lifecycle state.
func AllStates() []State {
	return []State{
		StateCreating,
		StateInitializing,
		StateReady,
		StateStarting,
		StateRunning,
		StateStopping,
		StateStopped,
		StateRestarting,
		StateError,
		StateDestroying,
		StateDestroyed,
	}
}
