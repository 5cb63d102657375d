// Package store persists the coordinator's audit ledger in SQLite.
//
// The coordination core keeps its authoritative history in memory; the store
// only mirrors resolution attempts and lifecycle transitions so operators
// can inspect them after the fact (accordd status). The schema is created
// on open and the database runs in WAL mode.
package store
