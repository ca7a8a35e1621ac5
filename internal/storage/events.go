package storage

// events.go contains SQLiteStore methods for the lifecycle audit log.
// Every applied session transition becomes one row.

import (
	"errors"
	"fmt"
	"time"
)

// LifecycleEvent is one recorded session transition.
type LifecycleEvent struct {
	ID         int64     `json:"id"`
	TenantID   string    `json:"tenant_id"`
	Generation string    `json:"generation,omitempty"`
	FromState  string    `json:"from,omitempty"`
	ToState    string    `json:"to"`
	Event      string    `json:"event"`
	Reason     string    `json:"reason,omitempty"`
	At         time.Time `json:"at"`
}

// SaveAndPruneEvent inserts an event and prunes the oldest rows beyond
// maxRows in a single transaction. maxRows <= 0 disables pruning.
func (s *SQLiteStore) SaveAndPruneEvent(ev *LifecycleEvent, maxRows int) error {
	if ev == nil {
		return errors.New("lifecycle event cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	const insertQuery = `
		INSERT INTO lifecycle_events
			(tenant_id, generation, from_state, to_state, event, reason, at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	result, err := tx.Exec(insertQuery,
		ev.TenantID,
		ev.Generation,
		ev.FromState,
		ev.ToState,
		ev.Event,
		ev.Reason,
		ev.At.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert lifecycle event: %w", err)
	}
	if id, err := result.LastInsertId(); err == nil {
		ev.ID = id
	}

	if maxRows > 0 {
		const pruneQuery = `
			DELETE FROM lifecycle_events
			WHERE id NOT IN (SELECT id FROM lifecycle_events ORDER BY id DESC LIMIT ?)
		`
		if _, err := tx.Exec(pruneQuery, maxRows); err != nil {
			return fmt.Errorf("prune lifecycle events: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit lifecycle event: %w", err)
	}
	return nil
}

// ListEvents returns a tenant's events newest first. An empty tenantID
// lists events for all tenants. limit <= 0 returns every row.
func (s *SQLiteStore) ListEvents(tenantID string, limit int) ([]*LifecycleEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, tenant_id, generation, from_state, to_state, event, reason, at
		FROM lifecycle_events
	`
	var args []any
	if tenantID != "" {
		query += " WHERE tenant_id = ?"
		args = append(args, tenantID)
	}
	query += " ORDER BY id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query lifecycle events: %w", err)
	}
	defer rows.Close()

	var events []*LifecycleEvent
	for rows.Next() {
		var (
			ev LifecycleEvent
			at string
		)
		if err := rows.Scan(&ev.ID, &ev.TenantID, &ev.Generation, &ev.FromState, &ev.ToState, &ev.Event, &ev.Reason, &at); err != nil {
			return nil, fmt.Errorf("scan lifecycle event: %w", err)
		}
		t, err := time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return nil, fmt.Errorf("parse at: %w", err)
		}
		ev.At = t
		events = append(events, &ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lifecycle events: %w", err)
	}
	return events, nil
}

// CountEvents returns the number of stored events.
func (s *SQLiteStore) CountEvents() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM lifecycle_events").Scan(&n); err != nil {
		return 0, fmt.Errorf("count lifecycle events: %w", err)
	}
	return n, nil
}
