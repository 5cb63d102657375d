// ABOUTME: Pluggable resolution handlers for conflict types the built-in
// ABOUTME: strategies do not cover, plus the agent-state health-preference handler.

package conflict

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Handler resolves conflicts the built-in strategies cannot. Handlers
// receive an owned copy of the conflict, never a reference into the
// engine's maps, so they may block or perform I/O freely.
type Handler interface {
	// Name identifies the handler in the engine's registry.
	Name() string

	// ResolveConflict produces a reconciled state for the conflict or an
	// error if it cannot. The context carries the caller's deadline; the
	// engine imposes none of its own.
	ResolveConflict(ctx context.Context, c Conflict) (*ResolutionResult, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc struct {
	name string
	fn   func(ctx context.Context, c Conflict) (*ResolutionResult, error)
}

// NewHandlerFunc wraps fn as a named Handler.
func NewHandlerFunc(name string, fn func(ctx context.Context, c Conflict) (*ResolutionResult, error)) *HandlerFunc {
	return &HandlerFunc{name: name, fn: fn}
}

// Name returns the registered handler name.
func (h *HandlerFunc) Name() string { return h.name }

// ResolveConflict calls the wrapped function.
func (h *HandlerFunc) ResolveConflict(ctx context.Context, c Conflict) (*ResolutionResult, error) {
	return h.fn(ctx, c)
}

// AgentStateHandler resolves agent_state conflicts by preferring whichever
// side reports the better health: healthy beats degraded, and when neither
// side is healthier the local snapshot wins.
type AgentStateHandler struct{}

// NewAgentStateHandler creates the built-in agent state handler.
func NewAgentStateHandler() *AgentStateHandler {
	return &AgentStateHandler{}
}

// Name returns "agent_state".
func (h *AgentStateHandler) Name() string { return "agent_state" }

// ResolveConflict picks the healthier snapshot. Conflicts of any other type
// are rejected with ErrUnsupportedStrategy.
func (h *AgentStateHandler) ResolveConflict(_ context.Context, c Conflict) (*ResolutionResult, error) {
	if c.Type != TypeAgentState {
		return nil, fmt.Errorf("%w: agent_state handler cannot resolve %s conflicts", ErrUnsupportedStrategy, c.Type)
	}

	localRank := healthRank(c.LocalState)
	remoteRank := healthRank(c.RemoteState)

	resolved := c.LocalState
	side := "local"
	if remoteRank > localRank {
		resolved = c.RemoteState
		side = "remote"
	}

	return &ResolutionResult{
		Success:       true,
		Strategy:      StrategyCustom,
		ResolvedState: append(json.RawMessage(nil), resolved...),
		Message:       fmt.Sprintf("kept %s state (healthier side)", side),
		Timestamp:     time.Now().UTC(),
	}, nil
}

// healthRank orders snapshots by their reported health field.
func healthRank(raw json.RawMessage) int {
	obj, ok := asObject(raw)
	if !ok {
		return 0
	}
	health, _ := obj["health"].(string)
	switch health {
	case "healthy":
		return 2
	case "degraded":
		return 1
	default:
		return 0
	}
}
