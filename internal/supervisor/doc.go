// Package supervisor wires the coordination core together for the daemon.
//
// It owns the fleet registry, one lifecycle machine per agent and the
// conflict engine. Registering an agent walks it Creating -> Initializing ->
// Ready; start/stop/destroy requests follow the allow-listed lifecycle path,
// and lifecycle callbacks mirror Running/Stopping/Stopped/Error into the
// agent's fleet status. Run drives a ticker that sweeps for lapsed
// heartbeats, marking those agents offline and failing their machines.
//
// When an audit ledger is configured, lifecycle transitions and resolution
// outcomes are mirrored into it best-effort; the in-memory core remains the
// source of truth.
package supervisor
