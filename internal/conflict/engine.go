// ABOUTME: Conflict detection and resolution engine: active conflicts, the
// ABOUTME: handler registry, append-only history and aggregate statistics.

package conflict

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"
)

// Engine detects divergent state observations and reconciles them with a
// configured strategy or a named custom handler.
//
// Each shared structure sits behind its own lock: the active-conflicts map,
// the history log, the statistics and the handler registry are all
// independent. Resolution of one conflict never blocks detection or
// resolution of another; attempts against the same conflict id are
// serialized so at most one resolution outcome can stick.
type Engine struct {
	configMu    sync.RWMutex
	strategy    Strategy
	handlerName string

	activeMu sync.RWMutex
	active   map[string]*Conflict

	historyMu sync.RWMutex
	history   []Record

	statsMu sync.RWMutex
	stats   Statistics

	handlersMu sync.RWMutex
	handlers   map[string]Handler

	inflightMu sync.Mutex
	inflight   map[string]*inflightLock

	logger *slog.Logger
}

// inflightLock serializes resolution attempts for one conflict id. The refs
// count lets the engine drop the entry once the last attempt finishes.
type inflightLock struct {
	mu   sync.Mutex
	refs int
}

// NewEngine creates an engine using the given default strategy. handlerName
// is only consulted when the strategy is StrategyCustom.
func NewEngine(strategy Strategy, handlerName string, logger *slog.Logger) *Engine {
	return &Engine{
		strategy:    strategy,
		handlerName: handlerName,
		active:      make(map[string]*Conflict),
		handlers:    make(map[string]Handler),
		inflight:    make(map[string]*inflightLock),
		stats: Statistics{
			ByType:     make(map[Type]int),
			ByStrategy: make(map[Strategy]int),
		},
		logger: logger,
	}
}

// SetStrategy changes the default strategy for subsequent resolutions.
func (e *Engine) SetStrategy(strategy Strategy, handlerName string) {
	e.configMu.Lock()
	defer e.configMu.Unlock()
	e.strategy = strategy
	e.handlerName = handlerName
}

// Strategy returns the engine's current default strategy.
func (e *Engine) Strategy() Strategy {
	e.configMu.RLock()
	defer e.configMu.RUnlock()
	return e.strategy
}

// Detect compares two observations of the same state. Structurally equal
// snapshots produce no conflict and no side effect; unequal snapshots create
// a Conflict with default severity Medium, register it as active, and count
// it in the statistics. Detection never fails.
func (e *Engine) Detect(ctype Type, local, remote json.RawMessage) *Conflict {
	if jsonEqual(local, remote) {
		return nil
	}

	c := New(ctype, SeverityMedium,
		fmt.Sprintf("divergent %s observations", ctype), local, remote)

	e.activeMu.Lock()
	e.active[c.ID] = c
	e.activeMu.Unlock()

	e.mutateStats(func(s *Statistics) {
		s.TotalConflicts++
		s.ByType[ctype]++
	})

	e.logger.Info("conflict detected",
		"conflict_id", c.ID,
		"type", ctype,
		"severity", c.Severity,
	)

	out := c.clone()
	return &out
}

// AddConflict registers an externally constructed conflict as active.
// Returns an error if a conflict with the same id is already active.
func (e *Engine) AddConflict(c *Conflict) error {
	if c.ID == "" {
		return fmt.Errorf("conflict id is required")
	}

	e.activeMu.Lock()
	if _, exists := e.active[c.ID]; exists {
		e.activeMu.Unlock()
		return fmt.Errorf("conflict %s already active", c.ID)
	}
	owned := c.clone()
	e.active[c.ID] = &owned
	e.activeMu.Unlock()

	e.mutateStats(func(s *Statistics) {
		s.TotalConflicts++
		s.ByType[c.Type]++
	})
	return nil
}

// AttemptResolution applies the configured strategy to the conflict with the
// given id. On success the conflict is retired from the active set; on
// failure it stays active and retriable, including with a different strategy
// or a newly registered handler. Every attempt appends exactly one history
// record and updates the statistics.
//
// Concurrent attempts against the same id are serialized; the attempt that
// loses the race observes the retired conflict and gets ErrConflictNotFound.
func (e *Engine) AttemptResolution(ctx context.Context, id string) (*ResolutionResult, error) {
	release := e.acquireConflict(id)
	defer release()

	e.activeMu.RLock()
	held, ok := e.active[id]
	var working Conflict
	if ok {
		working = held.clone()
	}
	e.activeMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrConflictNotFound, id)
	}

	strategy := e.Strategy()
	start := time.Now()
	result, err := e.apply(ctx, strategy, working)
	duration := time.Since(start)

	success := err == nil && result != nil && result.Success
	e.recordAttempt(Record{
		ConflictID: id,
		Type:       working.Type,
		Strategy:   strategy,
		Success:    success,
		Duration:   duration,
		Timestamp:  time.Now().UTC(),
	})

	if !success {
		if err == nil {
			err = fmt.Errorf("resolution of conflict %s did not succeed", id)
		}
		e.logger.Warn("conflict resolution failed",
			"conflict_id", id,
			"strategy", strategy,
			"error", err,
		)
		return nil, err
	}

	now := time.Now().UTC()
	e.activeMu.Lock()
	if c, stillActive := e.active[id]; stillActive {
		c.ResolvedAt = &now
		c.ResolutionStrategy = strategy
		c.ResolutionResult = result
		delete(e.active, id)
	}
	e.activeMu.Unlock()

	e.logger.Info("conflict resolved",
		"conflict_id", id,
		"strategy", strategy,
		"duration", duration,
	)
	return result, nil
}

// apply dispatches on the strategy enum. The switch is exhaustive over the
// closed strategy set; only StrategyCustom goes through the runtime registry.
func (e *Engine) apply(ctx context.Context, strategy Strategy, c Conflict) (*ResolutionResult, error) {
	switch strategy {
	case StrategyAutoMerge:
		return mergeSnapshots(c, strategy), nil

	case StrategyLastWriterWins:
		return mergeSnapshots(c, strategy), nil

	case StrategyKeepLocal:
		return &ResolutionResult{
			Success:       true,
			Strategy:      strategy,
			ResolvedState: append(json.RawMessage(nil), c.LocalState...),
			Message:       "kept local state",
			Timestamp:     time.Now().UTC(),
		}, nil

	case StrategyKeepRemote:
		return &ResolutionResult{
			Success:       true,
			Strategy:      strategy,
			ResolvedState: append(json.RawMessage(nil), c.RemoteState...),
			Message:       "kept remote state",
			Timestamp:     time.Now().UTC(),
		}, nil

	case StrategyManual:
		return nil, fmt.Errorf("%w: conflict %s", ErrManualResolutionRequired, c.ID)

	case StrategyCustom:
		e.configMu.RLock()
		name := e.handlerName
		e.configMu.RUnlock()

		e.handlersMu.RLock()
		handler, ok := e.handlers[name]
		e.handlersMu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrHandlerNotFound, name)
		}
		// The handler gets an owned clone and may block; no engine lock is
		// held across this call.
		return handler.ResolveConflict(ctx, c)

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedStrategy, strategy)
	}
}

// mergeSnapshots implements the union merge shared by AutoMerge and
// LastWriterWins. For two JSON objects the strategies are equivalent: start
// from local, overlay every remote key. They differ only in the non-object
// fallback (local vs remote).
func mergeSnapshots(c Conflict, strategy Strategy) *ResolutionResult {
	local, lok := asObject(c.LocalState)
	remote, rok := asObject(c.RemoteState)

	if lok && rok {
		merged, err := unionMerge(local, remote)
		if err == nil {
			return &ResolutionResult{
				Success:       true,
				Strategy:      strategy,
				ResolvedState: merged,
				Message:       "merged object keys, remote wins on collision",
				Timestamp:     time.Now().UTC(),
			}
		}
		// Fall through to the side fallback if marshaling somehow failed.
	}

	resolved := c.LocalState
	message := "non-object snapshots, kept local state"
	if strategy == StrategyLastWriterWins {
		resolved = c.RemoteState
		message = "non-object snapshots, kept remote state"
	}
	return &ResolutionResult{
		Success:       true,
		Strategy:      strategy,
		ResolvedState: append(json.RawMessage(nil), resolved...),
		Message:       message,
		Timestamp:     time.Now().UTC(),
	}
}

// AddHandler registers a custom handler. Duplicate names are rejected.
func (e *Engine) AddHandler(h Handler) error {
	e.handlersMu.Lock()
	defer e.handlersMu.Unlock()

	if _, exists := e.handlers[h.Name()]; exists {
		return fmt.Errorf("%w: %q", ErrHandlerExists, h.Name())
	}
	e.handlers[h.Name()] = h
	e.logger.Debug("handler registered", "handler", h.Name())
	return nil
}

// RemoveHandler unregisters a custom handler by name.
func (e *Engine) RemoveHandler(name string) error {
	e.handlersMu.Lock()
	defer e.handlersMu.Unlock()

	if _, exists := e.handlers[name]; !exists {
		return fmt.Errorf("%w: %q", ErrHandlerNotFound, name)
	}
	delete(e.handlers, name)
	return nil
}

// ActiveConflicts returns owned copies of all unresolved conflicts.
func (e *Engine) ActiveConflicts() []Conflict {
	e.activeMu.RLock()
	defer e.activeMu.RUnlock()

	out := make([]Conflict, 0, len(e.active))
	for _, c := range e.active {
		out = append(out, c.clone())
	}
	return out
}

// Get returns an owned copy of the active conflict with the given id.
func (e *Engine) Get(id string) (Conflict, bool) {
	e.activeMu.RLock()
	defer e.activeMu.RUnlock()

	c, ok := e.active[id]
	if !ok {
		return Conflict{}, false
	}
	return c.clone(), true
}

// Statistics returns a copy of the aggregate statistics.
func (e *Engine) Statistics() Statistics {
	e.statsMu.RLock()
	defer e.statsMu.RUnlock()

	out := e.stats
	out.ByType = make(map[Type]int, len(e.stats.ByType))
	for k, v := range e.stats.ByType {
		out.ByType[k] = v
	}
	out.ByStrategy = make(map[Strategy]int, len(e.stats.ByStrategy))
	for k, v := range e.stats.ByStrategy {
		out.ByStrategy[k] = v
	}
	return out
}

// History returns a copy of the append-only resolution history.
func (e *Engine) History() []Record {
	e.historyMu.RLock()
	defer e.historyMu.RUnlock()

	out := make([]Record, len(e.history))
	copy(out, e.history)
	return out
}

// recordAttempt appends the history record and folds the outcome into the
// statistics.
func (e *Engine) recordAttempt(rec Record) {
	e.historyMu.Lock()
	e.history = append(e.history, rec)
	e.historyMu.Unlock()

	e.mutateStats(func(s *Statistics) {
		if rec.Success {
			s.TotalResolved++
		} else {
			s.TotalFailed++
		}
		s.ByStrategy[rec.Strategy]++
	})
}

// mutateStats is the single entry point for statistics mutation; both the
// detection and resolution paths go through it so the counters and the
// derived success rate cannot drift.
func (e *Engine) mutateStats(fn func(*Statistics)) {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()

	fn(&e.stats)
	if e.stats.TotalConflicts > 0 {
		e.stats.SuccessRate = float64(e.stats.TotalResolved) / float64(e.stats.TotalConflicts) * 100
	} else {
		e.stats.SuccessRate = 0
	}
}

// acquireConflict takes the per-id resolution lock, creating it on first
// use and dropping it when the last holder releases.
func (e *Engine) acquireConflict(id string) (release func()) {
	e.inflightMu.Lock()
	entry, ok := e.inflight[id]
	if !ok {
		entry = &inflightLock{}
		e.inflight[id] = entry
	}
	entry.refs++
	e.inflightMu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		e.inflightMu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(e.inflight, id)
		}
		e.inflightMu.Unlock()
	}
}

// jsonEqual reports deep structural equality of two JSON documents.
// Snapshots that fail to parse are compared byte for byte.
func jsonEqual(a, b json.RawMessage) bool {
	var av, bv any
	if err := json.Unmarshal(a, &av); err != nil {
		return bytes.Equal(a, b)
	}
	if err := json.Unmarshal(b, &bv); err != nil {
		return bytes.Equal(a, b)
	}
	return reflect.DeepEqual(av, bv)
}
