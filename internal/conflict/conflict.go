// ABOUTME: Value types for detected state divergences and their resolution
// ABOUTME: outcomes: Conflict, ResolutionResult, Record and Statistics.

package conflict

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Type categorizes what kind of state diverged.
type Type string

const (
	// TypeAgentState is a divergence between two observations of one agent's
	// state snapshot.
	TypeAgentState Type = "agent_state"
	// TypeTaskAssignment is a disagreement about which agent owns a task.
	TypeTaskAssignment Type = "task_assignment"
	// TypeCapability is a disagreement about an agent's capability set.
	TypeCapability Type = "capability"
	// TypeConfiguration is a divergence in distributed configuration.
	TypeConfiguration Type = "configuration"
)

// Severity ranks how urgent a conflict is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Conflict records one detected divergence between a local and a remote
// observation of the same state. The snapshots are immutable after creation;
// the resolution fields are set exactly once, by the successful resolution
// attempt.
type Conflict struct {
	ID          string          `json:"id"`
	Type        Type            `json:"type"`
	Severity    Severity        `json:"severity"`
	Description string          `json:"description"`
	LocalState  json.RawMessage `json:"local_state"`
	RemoteState json.RawMessage `json:"remote_state"`
	CreatedAt   time.Time       `json:"created_at"`

	ResolvedAt         *time.Time        `json:"resolved_at,omitempty"`
	ResolutionStrategy Strategy          `json:"resolution_strategy,omitempty"`
	ResolutionResult   *ResolutionResult `json:"resolution_result,omitempty"`
}

// New creates a conflict finalized at construction time. Severity defaults
// to Medium when empty.
func New(ctype Type, severity Severity, description string, local, remote json.RawMessage) *Conflict {
	if severity == "" {
		severity = SeverityMedium
	}
	return &Conflict{
		ID:          uuid.New().String(),
		Type:        ctype,
		Severity:    severity,
		Description: description,
		LocalState:  append(json.RawMessage(nil), local...),
		RemoteState: append(json.RawMessage(nil), remote...),
		CreatedAt:   time.Now().UTC(),
	}
}

// clone returns an owned copy safe to hand to handlers without exposing the
// engine's locked instance.
func (c *Conflict) clone() Conflict {
	out := *c
	out.LocalState = append(json.RawMessage(nil), c.LocalState...)
	out.RemoteState = append(json.RawMessage(nil), c.RemoteState...)
	if c.ResolvedAt != nil {
		t := *c.ResolvedAt
		out.ResolvedAt = &t
	}
	if c.ResolutionResult != nil {
		r := *c.ResolutionResult
		out.ResolutionResult = &r
	}
	return out
}

// ResolutionResult is the outcome of one resolution attempt.
type ResolutionResult struct {
	Success       bool            `json:"success"`
	Strategy      Strategy        `json:"strategy"`
	ResolvedState json.RawMessage `json:"resolved_state,omitempty"`
	Message       string          `json:"message,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
}

// Record is one append-only history entry. Every resolution attempt,
// successful or not, produces exactly one record.
type Record struct {
	ConflictID string        `json:"conflict_id"`
	Type       Type          `json:"type"`
	Strategy   Strategy      `json:"strategy"`
	Success    bool          `json:"success"`
	Duration   time.Duration `json:"duration"`
	Timestamp  time.Time     `json:"timestamp"`
}

// Statistics aggregates detection and resolution totals. ByType counts
// detections per conflict type; ByStrategy counts resolution attempts per
// strategy. SuccessRate is resolved/detected as a percentage.
type Statistics struct {
	TotalConflicts int              `json:"total_conflicts"`
	TotalResolved  int              `json:"total_resolved"`
	TotalFailed    int              `json:"total_failed"`
	SuccessRate    float64          `json:"success_rate"`
	ByType         map[Type]int     `json:"by_type"`
	ByStrategy     map[Strategy]int `json:"by_strategy"`
}
