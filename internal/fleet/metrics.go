// ABOUTME: Performance counters for a single agent with an incrementally
// ABOUTME: maintained mean task duration. Owned exclusively by an AgentState.

package fleet

import "time"

// Metrics holds the performance counters for one agent. It is not
// safe for standalone concurrent use; the owning AgentState serializes
// access through its lock.
type Metrics struct {
	TasksCompleted int64              `json:"tasks_completed"`
	TasksFailed    int64              `json:"tasks_failed"`
	TasksRunning   int64              `json:"tasks_running"`
	AvgTaskTimeMS  float64            `json:"avg_task_time_ms"`
	CPUPercent     float64            `json:"cpu_percent"`
	MemoryMB       float64            `json:"memory_mb"`
	UptimeSeconds  int64              `json:"uptime_seconds"`
	Custom         map[string]float64 `json:"custom,omitempty"`
}

func (m *Metrics) taskStarted() {
	m.TasksRunning++
}

// taskCompleted folds the new duration into the running mean:
// avg' = (avg*(n-1) + d) / n with n the post-increment completed count.
func (m *Metrics) taskCompleted(duration time.Duration) {
	m.TasksCompleted++
	if m.TasksRunning > 0 {
		m.TasksRunning--
	}

	n := float64(m.TasksCompleted)
	d := float64(duration.Milliseconds())
	m.AvgTaskTimeMS = (m.AvgTaskTimeMS*(n-1) + d) / n
}

// taskFailed counts a failure without touching the mean.
func (m *Metrics) taskFailed() {
	m.TasksFailed++
	if m.TasksRunning > 0 {
		m.TasksRunning--
	}
}

// SetGauges updates the resource gauges reported by the agent.
func (m *Metrics) SetGauges(cpuPercent, memoryMB float64, uptimeSeconds int64) {
	m.CPUPercent = cpuPercent
	m.MemoryMB = memoryMB
	m.UptimeSeconds = uptimeSeconds
}

// SetCustom records an arbitrary named metric.
func (m *Metrics) SetCustom(name string, value float64) {
	if m.Custom == nil {
		m.Custom = make(map[string]float64)
	}
	m.Custom[name] = value
}
