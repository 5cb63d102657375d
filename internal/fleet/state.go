// ABOUTME: Agent state aggregate with health, status, capabilities and load scoring.
// ABOUTME: All mutation goes through methods; callers never touch fields directly.

package fleet

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrValidation indicates an agent state failed validation.
var ErrValidation = errors.New("agent state validation failed")

// Health describes the intrinsic wellness of an agent, independent of what
// it is currently doing.
type Health string

const (
	HealthHealthy   Health = "healthy"
	HealthDegraded  Health = "degraded"
	HealthUnhealthy Health = "unhealthy"
	HealthOffline   Health = "offline"
	HealthUnknown   Health = "unknown"
)

// IsHealthy reports whether the agent is fully healthy.
func (h Health) IsHealthy() bool {
	return h == HealthHealthy
}

// IsAvailable reports whether the agent is well enough to take work.
// Degraded agents remain available, just deprioritized by the score.
func (h Health) IsAvailable() bool {
	return h == HealthHealthy || h == HealthDegraded
}

// Score maps health to a 0-100 contribution for load balancing.
func (h Health) Score() int {
	switch h {
	case HealthHealthy:
		return 100
	case HealthDegraded:
		return 70
	case HealthUnhealthy:
		return 30
	case HealthOffline:
		return 0
	default:
		return 50
	}
}

// String returns the string representation of the health value.
func (h Health) String() string {
	return string(h)
}

// Status describes what an agent is currently doing. Health and Status are
// orthogonal: a healthy agent may be busy, an unhealthy one may be idle.
type Status string

const (
	StatusIdle         Status = "idle"
	StatusBusy         Status = "busy"
	StatusMaintenance  Status = "maintenance"
	StatusShuttingDown Status = "shutting_down"
	StatusStarting     Status = "starting"
	StatusError        Status = "error"
)

// CanAcceptTasks reports whether new work may be assigned to the agent.
func (s Status) CanAcceptTasks() bool {
	return s == StatusIdle
}

// IsOperational reports whether the agent is doing or ready to do work.
func (s Status) IsOperational() bool {
	return s == StatusIdle || s == StatusBusy
}

// String returns the string representation of the status value.
func (s Status) String() string {
	return string(s)
}

// NewAgentID generates a fresh opaque agent identifier.
func NewAgentID() string {
	return uuid.New().String()
}

// AgentState is the aggregate view of a single agent. It owns its Metrics
// exclusively and is safe for concurrent use; every accessor takes the
// internal lock.
type AgentState struct {
	mu sync.RWMutex

	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Type          string          `json:"type"`
	Version       string          `json:"version"`
	Health        Health          `json:"health"`
	Status        Status          `json:"status"`
	Metrics       Metrics         `json:"metrics"`
	Capabilities  map[string]bool `json:"capabilities"`
	CurrentTaskID string          `json:"current_task_id,omitempty"`
	Priority      int             `json:"priority"`
	LastHeartbeat time.Time       `json:"last_heartbeat"`
}

// NewAgentState creates an agent state in the unknown/starting condition.
// The id may be empty, in which case one is generated.
func NewAgentState(id, name, agentType, version string) *AgentState {
	if id == "" {
		id = NewAgentID()
	}
	return &AgentState{
		ID:            id,
		Name:          name,
		Type:          agentType,
		Version:       version,
		Health:        HealthUnknown,
		Status:        StatusStarting,
		Capabilities:  make(map[string]bool),
		LastHeartbeat: time.Now().UTC(),
	}
}

// Validate checks the identifying fields are present.
func (a *AgentState) Validate() error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	switch {
	case a.ID == "":
		return fmt.Errorf("%w: empty id", ErrValidation)
	case a.Name == "":
		return fmt.Errorf("%w: empty name", ErrValidation)
	case a.Type == "":
		return fmt.Errorf("%w: empty type", ErrValidation)
	case a.Version == "":
		return fmt.Errorf("%w: empty version", ErrValidation)
	}
	return nil
}

// UpdateHealth sets the agent's health.
func (a *AgentState) UpdateHealth(h Health) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Health = h
}

// UpdateStatus sets the agent's activity status.
func (a *AgentState) UpdateStatus(s Status) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Status = s
}

// CurrentHealth returns the agent's health.
func (a *AgentState) CurrentHealth() Health {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.Health
}

// CurrentStatus returns the agent's activity status.
func (a *AgentState) CurrentStatus() Status {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.Status
}

// UpdateHeartbeat records that the agent was seen alive now.
func (a *AgentState) UpdateHeartbeat() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.LastHeartbeat = time.Now().UTC()
}

// AddCapability marks a capability as supported.
func (a *AgentState) AddCapability(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Capabilities[name] = true
}

// RemoveCapability drops a capability.
func (a *AgentState) RemoveCapability(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.Capabilities, name)
}

// HasCapability reports whether the agent supports the named capability.
func (a *AgentState) HasCapability(name string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.Capabilities[name]
}

// SetCurrentTask records the task the agent is working on. The reference is
// non-owning; pass an empty id to clear it.
func (a *AgentState) SetCurrentTask(taskID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.CurrentTaskID = taskID
}

// CurrentTask returns the id of the task the agent is working on, if any.
func (a *AgentState) CurrentTask() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.CurrentTaskID
}

// RecordTaskStart increments the running-task counter.
func (a *AgentState) RecordTaskStart() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Metrics.taskStarted()
}

// RecordTaskCompletion folds a finished task into the metrics.
func (a *AgentState) RecordTaskCompletion(duration time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Metrics.taskCompleted(duration)
}

// RecordTaskFailure counts a failed task. The average task time is untouched.
func (a *AgentState) RecordTaskFailure() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Metrics.taskFailed()
}

// UpdateGauges records the resource usage reported in a heartbeat.
func (a *AgentState) UpdateGauges(cpuPercent, memoryMB float64, uptimeSeconds int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Metrics.SetGauges(cpuPercent, memoryMB, uptimeSeconds)
}

// SetCustomMetric records an arbitrary named metric for the agent.
func (a *AgentState) SetCustomMetric(name string, value float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Metrics.SetCustom(name, value)
}

// MetricsSnapshot returns a copy of the agent's metrics.
func (a *AgentState) MetricsSnapshot() Metrics {
	a.mu.RLock()
	defer a.mu.RUnlock()

	m := a.Metrics
	if a.Metrics.Custom != nil {
		m.Custom = make(map[string]float64, len(a.Metrics.Custom))
		for k, v := range a.Metrics.Custom {
			m.Custom[k] = v
		}
	}
	return m
}

// IsAvailable reports whether the agent can be handed new work right now:
// health must allow it and the agent must be idle.
func (a *AgentState) IsAvailable() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.Health.IsAvailable() && a.Status.CanAcceptTasks()
}

// IsOperational reports whether the agent is doing or able to do work.
func (a *AgentState) IsOperational() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.Health.IsAvailable() && a.Status.IsOperational()
}

// IsStale reports whether the last heartbeat is older than timeout.
func (a *AgentState) IsStale(timeout time.Duration) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return time.Since(a.LastHeartbeat) > timeout
}

// Score computes the load-balancing score from current fields. It is never
// cached: two calls may differ if the state changed in between.
//
//	score = 0.4*health + 0.3*priority + 0.3*(100/(running+1))
func (a *AgentState) Score() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()

	healthPart := 0.4 * float64(a.Health.Score())
	priorityPart := 0.3 * float64(a.Priority)
	loadPart := 0.3 * (100.0 / float64(a.Metrics.TasksRunning+1))
	return healthPart + priorityPart + loadPart
}

// SetPriority sets the scheduling priority (0-100).
func (a *AgentState) SetPriority(p int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Priority = p
}

// Snapshot serializes the current state as JSON. Snapshots are what the
// conflict engine compares; they carry no lock and never change after
// creation.
func (a *AgentState) Snapshot() (json.RawMessage, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshaling agent state: %w", err)
	}
	return data, nil
}
