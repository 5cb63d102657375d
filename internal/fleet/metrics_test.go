// ABOUTME: Tests for agent metrics counters and the incremental mean task time.
// ABOUTME: Validates completion/failure accounting through the AgentState methods.

package fleet

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMetricsIncrementalMean(t *testing.T) {
	agent := NewAgentState("a-1", "worker-1", "builder", "1.0.0")

	agent.RecordTaskCompletion(100 * time.Millisecond)
	agent.RecordTaskCompletion(300 * time.Millisecond)

	m := agent.MetricsSnapshot()
	assert.Equal(t, int64(2), m.TasksCompleted)
	assert.InDelta(t, 200.0, m.AvgTaskTimeMS, 0.001)

	agent.RecordTaskCompletion(200 * time.Millisecond)
	m = agent.MetricsSnapshot()
	assert.Equal(t, int64(3), m.TasksCompleted)
	assert.InDelta(t, 200.0, m.AvgTaskTimeMS, 0.001)
}

func TestMetricsFailureLeavesMeanAlone(t *testing.T) {
	agent := NewAgentState("a-1", "worker-1", "builder", "1.0.0")

	agent.RecordTaskStart()
	agent.RecordTaskStart()
	agent.RecordTaskCompletion(500 * time.Millisecond)
	agent.RecordTaskFailure()

	m := agent.MetricsSnapshot()
	assert.Equal(t, int64(1), m.TasksCompleted)
	assert.Equal(t, int64(1), m.TasksFailed)
	assert.Equal(t, int64(0), m.TasksRunning)
	assert.InDelta(t, 500.0, m.AvgTaskTimeMS, 0.001)
}

func TestMetricsRunningNeverNegative(t *testing.T) {
	agent := NewAgentState("a-1", "worker-1", "builder", "1.0.0")

	agent.RecordTaskFailure()
	agent.RecordTaskCompletion(100 * time.Millisecond)

	m := agent.MetricsSnapshot()
	assert.Equal(t, int64(0), m.TasksRunning)
}

func TestMetricsGaugesAndCustom(t *testing.T) {
	agent := NewAgentState("a-1", "worker-1", "builder", "1.0.0")

	agent.UpdateGauges(42.5, 1024, 3600)
	agent.SetCustomMetric("queue_depth", 7)

	m := agent.MetricsSnapshot()
	assert.InDelta(t, 42.5, m.CPUPercent, 0.001)
	assert.InDelta(t, 1024.0, m.MemoryMB, 0.001)
	assert.Equal(t, int64(3600), m.UptimeSeconds)
	assert.InDelta(t, 7.0, m.Custom["queue_depth"], 0.001)
}
