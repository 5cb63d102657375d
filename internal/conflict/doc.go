// Package conflict detects and reconciles divergent observations of agent state.
//
// # Overview
//
// Agent state is observed independently by multiple parties (a local
// supervisor and a remote replica). When two JSON snapshots of the same
// state disagree structurally, the Engine records a Conflict; a later
// resolution attempt applies the configured strategy to produce one
// reconciled state.
//
// # Detection
//
//	c := engine.Detect(conflict.TypeAgentState, localJSON, remoteJSON)
//
// Equal snapshots return nil with no side effect. Unequal snapshots create
// an active Conflict (severity Medium) under a fresh id. Detection never
// fails and is idempotent on equal inputs.
//
// # Resolution
//
//	result, err := engine.AttemptResolution(ctx, c.ID)
//
// Strategies are a closed enum: AutoMerge and LastWriterWins union two JSON
// objects with remote winning on collisions (and fall back to local or
// remote respectively for non-objects), KeepLocal/KeepRemote are identity
// projections, Manual always errors, and Custom dispatches to a handler
// registered by name. Only a successful attempt retires the conflict from
// the active set; a failed one leaves it pending and retriable.
//
// A conflict therefore moves Detected -> Pending -> Resolved (terminal) or
// back to Pending on failure.
//
// # Concurrency
//
// The active map, history, statistics and handler registry each sit behind
// their own reader-writer lock. Handlers receive an owned clone of the
// Conflict, never a lock guard, so they may suspend on I/O without risking
// a re-entrant deadlock. Attempts against the same conflict id are
// serialized through a per-id mutex so statistics cannot double-count.
package conflict
