// ABOUTME: Composition root wiring the fleet registry, per-agent lifecycle
// ABOUTME: machines and the conflict engine; runs the heartbeat sweep loop.

package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/accordlabs/accord/internal/conflict"
	"github.com/accordlabs/accord/internal/fleet"
	"github.com/accordlabs/accord/internal/lifecycle"
	"github.com/accordlabs/accord/internal/store"
)

// Params configures a Supervisor.
type Params struct {
	Strategy         conflict.Strategy
	HandlerName      string
	HeartbeatTimeout time.Duration
	SweepInterval    time.Duration
	Store            *store.SQLiteStore // optional audit ledger, may be nil
	Logger           *slog.Logger
}

// Supervisor owns the coordination nucleus for one node: the fleet registry,
// a lifecycle machine per agent, and the conflict engine. External layers
// (transports, replicas) call into it; it never reaches out to the network.
type Supervisor struct {
	registry *fleet.Registry
	engine   *conflict.Engine

	machinesMu sync.RWMutex
	machines   map[string]*lifecycle.Machine

	store            *store.SQLiteStore
	heartbeatTimeout time.Duration
	sweepInterval    time.Duration
	logger           *slog.Logger
}

// New creates a supervisor and registers the built-in agent state handler.
func New(p Params) *Supervisor {
	engine := conflict.NewEngine(p.Strategy, p.HandlerName, p.Logger.With("component", "conflict"))
	// The built-in handler is always available; registration on a fresh
	// engine cannot collide.
	_ = engine.AddHandler(conflict.NewAgentStateHandler())

	return &Supervisor{
		registry:         fleet.NewRegistry(p.Logger.With("component", "fleet")),
		engine:           engine,
		machines:         make(map[string]*lifecycle.Machine),
		store:            p.Store,
		heartbeatTimeout: p.HeartbeatTimeout,
		sweepInterval:    p.SweepInterval,
		logger:           p.Logger.With("component", "supervisor"),
	}
}

// RegisterAgent adds an agent to the fleet and walks its lifecycle machine
// from Creating to Ready. The machine's callbacks keep the agent's fleet
// status in step with its lifecycle.
func (s *Supervisor) RegisterAgent(ctx context.Context, agent *fleet.AgentState) error {
	if err := s.registry.Register(agent); err != nil {
		return err
	}

	m := lifecycle.New(agent.ID, s.logger)
	s.wireStatusCallbacks(m, agent)

	s.machinesMu.Lock()
	s.machines[agent.ID] = m
	s.machinesMu.Unlock()

	if err := s.transition(ctx, m, lifecycle.StateInitializing, "agent registered"); err != nil {
		return err
	}
	return s.transition(ctx, m, lifecycle.StateReady, "initialization complete")
}

// wireStatusCallbacks mirrors lifecycle states into the agent's fleet status.
func (s *Supervisor) wireStatusCallbacks(m *lifecycle.Machine, agent *fleet.AgentState) {
	m.AddStateChangeCallback(lifecycle.StateStarting, func(string, lifecycle.State) {
		agent.UpdateStatus(fleet.StatusStarting)
	})
	m.AddStateChangeCallback(lifecycle.StateRunning, func(string, lifecycle.State) {
		agent.UpdateStatus(fleet.StatusIdle)
	})
	m.AddStateChangeCallback(lifecycle.StateStopping, func(string, lifecycle.State) {
		agent.UpdateStatus(fleet.StatusShuttingDown)
	})
	m.AddStateChangeCallback(lifecycle.StateStopped, func(string, lifecycle.State) {
		agent.UpdateStatus(fleet.StatusMaintenance)
	})
	m.AddStateChangeCallback(lifecycle.StateError, func(string, lifecycle.State) {
		agent.UpdateStatus(fleet.StatusError)
	})
}

// StartAgent walks an agent from Ready (or Stopped/Error) into Running.
func (s *Supervisor) StartAgent(ctx context.Context, agentID string) error {
	m, err := s.machine(agentID)
	if err != nil {
		return err
	}

	if err := s.transition(ctx, m, lifecycle.StateStarting, "start requested"); err != nil {
		return err
	}
	return s.transition(ctx, m, lifecycle.StateRunning, "startup complete")
}

// StopAgent walks a running agent into Stopped.
func (s *Supervisor) StopAgent(ctx context.Context, agentID string) error {
	m, err := s.machine(agentID)
	if err != nil {
		return err
	}

	if err := s.transition(ctx, m, lifecycle.StateStopping, "stop requested"); err != nil {
		return err
	}
	return s.transition(ctx, m, lifecycle.StateStopped, "shutdown complete")
}

// DestroyAgent retires an agent: Destroying, Destroyed, then removal from
// the registry and the machine table.
func (s *Supervisor) DestroyAgent(ctx context.Context, agentID string) error {
	m, err := s.machine(agentID)
	if err != nil {
		return err
	}

	if err := s.transition(ctx, m, lifecycle.StateDestroying, "destroy requested"); err != nil {
		return err
	}
	if err := s.transition(ctx, m, lifecycle.StateDestroyed, "destroyed"); err != nil {
		return err
	}

	s.registry.Unregister(agentID)
	s.machinesMu.Lock()
	delete(s.machines, agentID)
	s.machinesMu.Unlock()
	return nil
}

// FailAgent moves an agent into the Error lifecycle state with a reason.
func (s *Supervisor) FailAgent(ctx context.Context, agentID, reason string) error {
	m, err := s.machine(agentID)
	if err != nil {
		return err
	}
	return s.transition(ctx, m, lifecycle.StateError, reason)
}

// transition applies one lifecycle step and mirrors it into the audit
// ledger when one is configured. Ledger failures are logged, not fatal:
// the in-memory machine remains the source of truth.
func (s *Supervisor) transition(ctx context.Context, m *lifecycle.Machine, target lifecycle.State, reason string) error {
	from := m.Current()
	if err := m.TransitionToWithReason(target, reason); err != nil {
		return err
	}

	if s.store != nil {
		err := s.store.SaveLifecycleTransition(ctx, &store.LifecycleTransition{
			AgentID:   m.AgentID(),
			FromState: from.String(),
			ToState:   target.String(),
			Reason:    reason,
			CreatedAt: time.Now().UTC(),
		})
		if err != nil {
			s.logger.Warn("failed to persist lifecycle transition",
				"agent_id", m.AgentID(), "error", err)
		}
	}
	return nil
}

// Heartbeat records that an agent reported in, with its self-assessed health.
func (s *Supervisor) Heartbeat(agentID string, health fleet.Health) error {
	agent, ok := s.registry.Get(agentID)
	if !ok {
		return fleet.ErrAgentNotFound
	}
	agent.UpdateHeartbeat()
	agent.UpdateHealth(health)
	return nil
}

// ObserveRemoteState compares a remote replica's snapshot of an agent against
// the local view. A structural mismatch yields an active conflict; nil means
// the views agree.
func (s *Supervisor) ObserveRemoteState(agentID string, remote json.RawMessage) (*conflict.Conflict, error) {
	agent, ok := s.registry.Get(agentID)
	if !ok {
		return nil, fleet.ErrAgentNotFound
	}

	local, err := agent.Snapshot()
	if err != nil {
		return nil, err
	}
	return s.engine.Detect(conflict.TypeAgentState, local, remote), nil
}

// ResolveConflict runs one resolution attempt and mirrors the outcome into
// the audit ledger.
func (s *Supervisor) ResolveConflict(ctx context.Context, conflictID string) (*conflict.ResolutionResult, error) {
	c, known := s.engine.Get(conflictID)

	start := time.Now()
	result, err := s.engine.AttemptResolution(ctx, conflictID)
	duration := time.Since(start)

	// Only attempts against a known conflict produce a ledger row; an
	// unknown id never reached the engine's history either.
	if s.store != nil && known {
		rec := &store.ConflictRecord{
			ConflictID:   conflictID,
			ConflictType: string(c.Type),
			Strategy:     string(s.engine.Strategy()),
			Success:      err == nil,
			DurationMS:   duration.Milliseconds(),
			CreatedAt:    time.Now().UTC(),
		}
		if saveErr := s.store.SaveConflictRecord(ctx, rec); saveErr != nil {
			s.logger.Warn("failed to persist conflict record",
				"conflict_id", conflictID, "error", saveErr)
		}
	}

	return result, err
}

// Run blocks, sweeping for stale agents every sweep interval until the
// context is cancelled.
func (s *Supervisor) Run(ctx context.Context) error {
	s.logger.Info("supervisor running",
		"heartbeat_timeout", s.heartbeatTimeout,
		"sweep_interval", s.sweepInterval,
	)

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("supervisor stopping")
			return ctx.Err()
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep marks agents with lapsed heartbeats offline and fails their
// lifecycle machines.
func (s *Supervisor) sweep(ctx context.Context) {
	for _, agentID := range s.registry.Stale(s.heartbeatTimeout) {
		agent, ok := s.registry.Get(agentID)
		if !ok {
			continue
		}

		agent.UpdateHealth(fleet.HealthOffline)
		s.logger.Warn("agent heartbeat lapsed",
			"agent_id", agentID,
			"timeout", s.heartbeatTimeout,
		)

		m, err := s.machine(agentID)
		if err != nil {
			continue
		}
		if m.Current() == lifecycle.StateRunning || m.Current() == lifecycle.StateStarting {
			if err := s.transition(ctx, m, lifecycle.StateError, "heartbeat timeout"); err != nil {
				s.logger.Warn("failed to fail lifecycle on stale agent",
					"agent_id", agentID, "error", err)
			}
		}
	}
}

// machine looks up the lifecycle machine for an agent.
func (s *Supervisor) machine(agentID string) (*lifecycle.Machine, error) {
	s.machinesMu.RLock()
	defer s.machinesMu.RUnlock()

	m, ok := s.machines[agentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", fleet.ErrAgentNotFound, agentID)
	}
	return m, nil
}

// Registry exposes the fleet registry.
func (s *Supervisor) Registry() *fleet.Registry {
	return s.registry
}

// Engine exposes the conflict engine.
func (s *Supervisor) Engine() *conflict.Engine {
	return s.engine
}

// LifecycleStats returns the lifecycle statistics for one agent.
func (s *Supervisor) LifecycleStats(agentID string) (lifecycle.Stats, error) {
	m, err := s.machine(agentID)
	if err != nil {
		return lifecycle.Stats{}, err
	}
	return m.Stats(), nil
}

// EventsForAgent returns the lifecycle event log for one agent.
func (s *Supervisor) EventsForAgent(agentID string) ([]lifecycle.Event, error) {
	m, err := s.machine(agentID)
	if err != nil {
		return nil, err
	}
	return m.Events(), nil
}

// Events returns the lifecycle events of every tracked agent.
func (s *Supervisor) Events() []lifecycle.Event {
	s.machinesMu.RLock()
	defer s.machinesMu.RUnlock()

	var out []lifecycle.Event
	for _, m := range s.machines {
		out = append(out, m.Events()...)
	}
	return out
}
