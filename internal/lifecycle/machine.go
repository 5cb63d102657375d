// ABOUTME: Per-agent lifecycle state machine with transition and event logs.
// ABOUTME: Transitions are atomic: validated first, then fully applied or fully rejected.

package lifecycle

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidTransition indicates the requested state change is not allow-listed.
var ErrInvalidTransition = errors.New("invalid transition")

// EventType categorizes a lifecycle event. Events are keyed by the target
// state of the transition that produced them.
type EventType string

const (
	EventCreated     EventType = "created"
	EventInitialized EventType = "initialized"
	EventStarted     EventType = "started"
	EventStopped     EventType = "stopped"
	EventError       EventType = "error"
	EventDestroyed   EventType = "destroyed"
)

// eventTypeFor maps a transition's target state to its event type. States
// without a dedicated type get a generic transition_to_<state> event.
func eventTypeFor(target State) EventType {
	switch target {
	case StateInitializing:
		return EventCreated
	case StateReady:
		return EventInitialized
	case StateRunning:
		return EventStarted
	case StateStopped:
		return EventStopped
	case StateError:
		return EventError
	case StateDestroyed:
		return EventDestroyed
	default:
		return EventType("transition_to_" + target.String())
	}
}

// Transition is one recorded state change. Immutable once appended.
type Transition struct {
	From      State             `json:"from"`
	To        State             `json:"to"`
	Timestamp time.Time         `json:"timestamp"`
	Reason    string            `json:"reason,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Event is derived from a transition's target state. Immutable once emitted.
type Event struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agent_id"`
	Type      EventType `json:"type"`
	State     State     `json:"state"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason,omitempty"`
}

// Callback is invoked synchronously when a machine enters the state it was
// registered for. Callbacks must not block on I/O and must not trigger
// another transition on the same machine; the machine holds its lock for
// the duration of the call.
type Callback func(agentID string, newState State)

// Stats summarizes a machine's history.
type Stats struct {
	TotalTransitions   int           `json:"total_transitions"`
	TotalEvents        int           `json:"total_events"`
	TransitionsByState map[State]int `json:"transitions_by_state"`
	TimeInCurrentState time.Duration `json:"time_in_current_state"`
}

// Machine tracks the lifecycle of a single agent. A fresh machine starts in
// Creating. All operations are safe for concurrent use.
type Machine struct {
	mu          sync.Mutex
	agentID     string
	current     State
	enteredAt   time.Time
	transitions []Transition
	events      []Event
	callbacks   map[State][]Callback
	logger      *slog.Logger
}

// New creates a lifecycle machine for the given agent, starting in Creating.
func New(agentID string, logger *slog.Logger) *Machine {
	return &Machine{
		agentID:   agentID,
		current:   StateCreating,
		enteredAt: time.Now().UTC(),
		callbacks: make(map[State][]Callback),
		logger:    logger,
	}
}

// AgentID returns the id of the agent this machine tracks.
func (m *Machine) AgentID() string {
	return m.agentID
}

// Current returns the machine's current state.
func (m *Machine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// TransitionTo moves the machine to the target state.
func (m *Machine) TransitionTo(target State) error {
	return m.TransitionToWithReason(target, "")
}

// TransitionToWithReason moves the machine to the target state, recording
// why. The transition either fully succeeds (state, transition log, event
// log and callbacks all updated) or is fully rejected with no mutation.
func (m *Machine) TransitionToWithReason(target State, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !target.IsValid() {
		return fmt.Errorf("%w: %s -> %s (unknown state)", ErrInvalidTransition, m.current, target)
	}
	if !m.current.CanTransition(target) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.current, target)
	}

	now := time.Now().UTC()
	from := m.current

	m.transitions = append(m.transitions, Transition{
		From:      from,
		To:        target,
		Timestamp: now,
		Reason:    reason,
	})
	m.current = target
	m.enteredAt = now

	event := Event{
		ID:        uuid.New().String(),
		AgentID:   m.agentID,
		Type:      eventTypeFor(target),
		State:     target,
		Timestamp: now,
		Reason:    reason,
	}
	m.events = append(m.events, event)

	m.logger.Debug("lifecycle transition",
		"agent_id", m.agentID,
		"from", from,
		"to", target,
		"event", event.Type,
	)

	for _, cb := range m.callbacks[target] {
		cb(m.agentID, target)
	}

	return nil
}

// AddStateChangeCallback registers a callback to run whenever the machine
// enters the given state. Multiple callbacks run in registration order.
func (m *Machine) AddStateChangeCallback(state State, cb Callback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks[state] = append(m.callbacks[state], cb)
}

// Transitions returns a copy of the transition log.
func (m *Machine) Transitions() []Transition {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Transition, len(m.transitions))
	copy(out, m.transitions)
	return out
}

// Events returns a copy of the event log.
func (m *Machine) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// Stats reports totals, a histogram of transitions into each state, and the
// time spent in the current state.
func (m *Machine) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	byState := make(map[State]int)
	for _, tr := range m.transitions {
		byState[tr.To]++
	}

	return Stats{
		TotalTransitions:   len(m.transitions),
		TotalEvents:        len(m.events),
		TransitionsByState: byState,
		TimeInCurrentState: time.Since(m.enteredAt),
	}
}
