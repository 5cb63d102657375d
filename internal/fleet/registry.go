// ABOUTME: Tracks the known agents of the fleet, handles registration, and
// ABOUTME: surfaces stale agents for the supervisor's heartbeat sweep.

package fleet

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrAgentAlreadyRegistered indicates an agent with the same ID is already tracked.
var ErrAgentAlreadyRegistered = errors.New("agent already registered")

// ErrAgentNotFound indicates the specified agent was not found.
var ErrAgentNotFound = errors.New("agent not found")

// Registry coordinates the known agents of the fleet.
type Registry struct {
	agents map[string]*AgentState
	mu     sync.RWMutex
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		agents: make(map[string]*AgentState),
		logger: logger,
	}
}

// Register adds a new agent to the registry after validating it.
// Returns ErrAgentAlreadyRegistered if an agent with the same ID exists.
func (r *Registry) Register(agent *AgentState) error {
	if err := agent.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[agent.ID]; exists {
		return ErrAgentAlreadyRegistered
	}

	r.agents[agent.ID] = agent
	r.logger.Info("agent registered",
		"agent_id", agent.ID,
		"name", agent.Name,
		"type", agent.Type,
		"total_agents", len(r.agents),
	)
	return nil
}

// Unregister removes an agent from the registry.
func (r *Registry) Unregister(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if agent, exists := r.agents[agentID]; exists {
		delete(r.agents, agentID)
		r.logger.Info("agent unregistered",
			"agent_id", agentID,
			"name", agent.Name,
			"total_agents", len(r.agents),
		)
	}
}

// Get retrieves a specific agent by ID.
func (r *Registry) Get(id string) (*AgentState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agent, ok := r.agents[id]
	return agent, ok
}

// List returns all tracked agents.
func (r *Registry) List() []*AgentState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agents := make([]*AgentState, 0, len(r.agents))
	for _, agent := range r.agents {
		agents = append(agents, agent)
	}
	return agents
}

// Len returns the number of tracked agents.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// Stale returns the ids of agents whose last heartbeat exceeds timeout.
// Offline agents are skipped; they were already swept.
func (r *Registry) Stale(timeout time.Duration) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stale []string
	for id, agent := range r.agents {
		if agent.CurrentHealth() == HealthOffline {
			continue
		}
		if agent.IsStale(timeout) {
			stale = append(stale, id)
		}
	}
	return stale
}
