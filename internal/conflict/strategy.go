// ABOUTME: The closed set of built-in resolution strategies and the JSON
// ABOUTME: merge rules they apply to local/remote snapshots.

package conflict

import (
	"encoding/json"
	"fmt"
)

// Strategy is a built-in policy for reconciling two snapshots. The set is
// closed; genuinely pluggable behavior goes through StrategyCustom and the
// handler registry.
type Strategy string

const (
	// StrategyAutoMerge unions two JSON objects, remote winning on key
	// collisions. Non-object snapshots fall back to the local side.
	StrategyAutoMerge Strategy = "auto_merge"
	// StrategyLastWriterWins behaves like StrategyAutoMerge for two JSON
	// objects (the union is identical by construction, since no version or
	// timestamp input exists to order writers) but falls back to the remote
	// side for non-object snapshots.
	StrategyLastWriterWins Strategy = "last_writer_wins"
	// StrategyKeepLocal returns the local snapshot unchanged.
	StrategyKeepLocal Strategy = "keep_local"
	// StrategyKeepRemote returns the remote snapshot unchanged.
	StrategyKeepRemote Strategy = "keep_remote"
	// StrategyManual always fails; the conflict waits for an operator.
	StrategyManual Strategy = "manual"
	// StrategyCustom dispatches to a named registered handler.
	StrategyCustom Strategy = "custom"
)

// ParseStrategy converts a configuration string into a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyAutoMerge, StrategyLastWriterWins, StrategyKeepLocal,
		StrategyKeepRemote, StrategyManual, StrategyCustom:
		return Strategy(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedStrategy, s)
	}
}

// asObject tries to interpret a snapshot as a JSON object.
func asObject(raw json.RawMessage) (map[string]any, bool) {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, false
	}
	if obj == nil {
		// JSON null unmarshals into a nil map without error.
		return nil, false
	}
	return obj, true
}

// unionMerge overlays every key of remote onto a copy of local. This is a
// key union, not a three-way merge: remote wins on every collision.
func unionMerge(local, remote map[string]any) (json.RawMessage, error) {
	merged := make(map[string]any, len(local)+len(remote))
	for k, v := range local {
		merged[k] = v
	}
	for k, v := range remote {
		merged[k] = v
	}

	data, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("marshaling merged state: %w", err)
	}
	return data, nil
}
