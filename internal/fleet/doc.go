// Package fleet models the operational state of worker agents.
//
// # Health vs. Status
//
// Health and Status are tracked independently. Health is intrinsic wellness
// (healthy, degraded, unhealthy, offline, unknown); Status is current
// activity (idle, busy, maintenance, shutting_down, starting, error).
// An agent is available for new work only when its health allows it AND it
// is idle.
//
// # AgentState
//
// AgentState is the aggregate for one agent: identity, health, status,
// metrics, capability set, an optional non-owning current-task reference,
// scheduling priority and last heartbeat. It is mutated only through its
// methods and is safe for concurrent use.
//
// The load-balancing score is computed on demand from current fields:
//
//	score = 0.4*health.Score() + 0.3*priority + 0.3*(100/(running+1))
//
// It is consumed by external schedulers; this package only computes it.
//
// # Registry
//
// Registry tracks the fleet under a read-write lock:
//
//   - Register(agent): add a validated agent, rejecting duplicate ids
//   - Unregister(id): drop an agent
//   - Get(id) / List() / Len(): lookups
//   - Stale(timeout): ids whose heartbeat lapsed, for the supervisor sweep
//
// # Snapshots
//
// AgentState.Snapshot() serializes the state to JSON. Snapshots are the
// opaque values the conflict engine compares and reconciles; they are
// immutable once taken.
package fleet
