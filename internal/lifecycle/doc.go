// Package lifecycle implements the per-agent start/stop state machine.
//
// # States
//
// An agent moves through a fixed set of states from Creating to Destroyed:
//
//	Creating -> Initializing -> {Ready, Error}
//	Ready -> Starting -> {Running, Error}
//	Running -> {Stopping, Error}
//	Stopping -> Stopped
//	Stopped -> {Starting, Destroying}
//	Error -> {Starting, Destroying}
//	Destroying -> Destroyed
//
// Every state may also transition to itself as a recorded no-op. Any other
// pair is rejected with ErrInvalidTransition and leaves the machine, its
// transition log and its event log untouched.
//
// # Events and callbacks
//
// Each successful transition appends an immutable Transition, synthesizes an
// Event keyed by the target state, and runs the callbacks registered for
// that state synchronously. Callbacks receive (agentID, newState) and must
// not transition the same machine again; the machine's lock is held across
// the call, so a reentrant transition deadlocks.
package lifecycle
