// ABOUTME: Row types and CRUD helpers for the conflict and lifecycle ledgers
// ABOUTME: Append-only: rows are inserted by the supervisor and queried by tooling

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrRecordNotFound is returned when a requested ledger row does not exist
var ErrRecordNotFound = errors.New("record not found")

// ConflictRecord is one persisted resolution attempt.
type ConflictRecord struct {
	ID           string
	ConflictID   string
	ConflictType string
	Strategy     string
	Success      bool
	DurationMS   int64
	CreatedAt    time.Time
}

// LifecycleTransition is one persisted lifecycle state change.
type LifecycleTransition struct {
	ID        string
	AgentID   string
	FromState string
	ToState   string
	Reason    string
	CreatedAt time.Time
}

// SaveConflictRecord appends a resolution attempt to the ledger.
func (s *SQLiteStore) SaveConflictRecord(ctx context.Context, rec *ConflictRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}

	query := `
		INSERT INTO conflict_records (id, conflict_id, conflict_type, strategy, success, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.ConflictID,
		rec.ConflictType,
		rec.Strategy,
		boolToInt(rec.Success),
		rec.DurationMS,
		rec.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting conflict record: %w", err)
	}

	s.logger.Debug("saved conflict record",
		"record_id", rec.ID,
		"conflict_id", rec.ConflictID,
		"strategy", rec.Strategy,
		"success", rec.Success,
	)
	return nil
}

// ListConflictRecords returns the most recent resolution attempts, newest first.
func (s *SQLiteStore) ListConflictRecords(ctx context.Context, limit int) ([]*ConflictRecord, error) {
	limit = clampLimit(limit)

	query := `
		SELECT id, conflict_id, conflict_type, strategy, success, duration_ms, created_at
		FROM conflict_records
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("querying conflict records: %w", err)
	}
	defer rows.Close()

	return scanConflictRecords(rows)
}

// GetConflictRecord returns one persisted attempt by its row id.
func (s *SQLiteStore) GetConflictRecord(ctx context.Context, id string) (*ConflictRecord, error) {
	query := `
		SELECT id, conflict_id, conflict_type, strategy, success, duration_ms, created_at
		FROM conflict_records
		WHERE id = ?
	`

	rec := &ConflictRecord{}
	var success int
	var createdAt string

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&rec.ID, &rec.ConflictID, &rec.ConflictType, &rec.Strategy, &success, &rec.DurationMS, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: conflict record %s", ErrRecordNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("querying conflict record: %w", err)
	}

	rec.Success = success != 0
	rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing timestamp: %w", err)
	}
	return rec, nil
}

// ListConflictRecordsByConflict returns every attempt for one conflict id,
// oldest first.
func (s *SQLiteStore) ListConflictRecordsByConflict(ctx context.Context, conflictID string) ([]*ConflictRecord, error) {
	query := `
		SELECT id, conflict_id, conflict_type, strategy, success, duration_ms, created_at
		FROM conflict_records
		WHERE conflict_id = ?
		ORDER BY created_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query, conflictID)
	if err != nil {
		return nil, fmt.Errorf("querying conflict records: %w", err)
	}
	defer rows.Close()

	return scanConflictRecords(rows)
}

// SaveLifecycleTransition appends a lifecycle transition to the ledger.
func (s *SQLiteStore) SaveLifecycleTransition(ctx context.Context, tr *LifecycleTransition) error {
	if tr.ID == "" {
		tr.ID = uuid.New().String()
	}

	query := `
		INSERT INTO lifecycle_transitions (id, agent_id, from_state, to_state, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		tr.ID,
		tr.AgentID,
		tr.FromState,
		tr.ToState,
		tr.Reason,
		tr.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting lifecycle transition: %w", err)
	}
	return nil
}

// ListTransitionsByAgent returns an agent's lifecycle history, oldest first.
func (s *SQLiteStore) ListTransitionsByAgent(ctx context.Context, agentID string, limit int) ([]*LifecycleTransition, error) {
	limit = clampLimit(limit)

	query := `
		SELECT id, agent_id, from_state, to_state, reason, created_at
		FROM lifecycle_transitions
		WHERE agent_id = ?
		ORDER BY created_at ASC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying lifecycle transitions: %w", err)
	}
	defer rows.Close()

	var out []*LifecycleTransition
	for rows.Next() {
		tr := &LifecycleTransition{}
		var createdAt string
		var reason sql.NullString

		if err := rows.Scan(&tr.ID, &tr.AgentID, &tr.FromState, &tr.ToState, &reason, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning transition row: %w", err)
		}
		tr.Reason = reason.String
		tr.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing timestamp: %w", err)
		}
		out = append(out, tr)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating transition rows: %w", err)
	}
	return out, nil
}

// scanConflictRecords is a helper that drains a conflict record result set.
func scanConflictRecords(rows *sql.Rows) ([]*ConflictRecord, error) {
	var out []*ConflictRecord
	for rows.Next() {
		rec := &ConflictRecord{}
		var success int
		var createdAt string

		if err := rows.Scan(&rec.ID, &rec.ConflictID, &rec.ConflictType, &rec.Strategy, &success, &rec.DurationMS, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning conflict record row: %w", err)
		}
		rec.Success = success != 0

		ts, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing timestamp: %w", err)
		}
		rec.CreatedAt = ts
		out = append(out, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conflict record rows: %w", err)
	}
	return out, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	if limit > 500 {
		return 500
	}
	return limit
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
