package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// EventKind is the kind of change recorded in the outbox.
type EventKind string

const (
	// EventUpserted is written on Company create and update.
	EventUpserted EventKind = "upserted"
	// EventDeleted is written on Company delete.
	EventDeleted EventKind = "deleted"
)

// Event is a pending row of the company_events outbox.
type Event struct {
	// ID is the monotonically increasing event id.
	ID int64
	// CompanyID is the Company the change applies to.
	CompanyID string
	// Kind is the change kind.
	Kind EventKind
	// CreatedAt is when the change was committed.
	CreatedAt time.Time
	// Attempts is the number of failed delivery attempts so far.
	Attempts int
	// LastError is the most recent delivery failure, if any.
	LastError string
}

func insertEvent(ctx context.Context, tx *sql.Tx, companyID string, kind EventKind, at time.Time) error {
	const q = `INSERT INTO company_events (company_id, kind, created_at) VALUES (?, ?, ?)`
	if _, err := tx.ExecContext(ctx, q, companyID, string(kind), at.Unix()); err != nil {
		return fmt.Errorf("store: insert event: %w", err)
	}
	return nil
}

// PendingEvents returns up to limit unprocessed, non-dead events, oldest first.
func (s *SQLiteStore) PendingEvents(ctx context.Context, limit int) ([]Event, error) {
	const q = `
SELECT id, company_id, kind, created_at, attempts, last_error
FROM   company_events
WHERE  processed_at IS NULL AND dead = 0
ORDER  BY id ASC
LIMIT  ?`

	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("store: pending events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			ev   Event
			kind string
			ts   int64
		)
		if err := rows.Scan(&ev.ID, &ev.CompanyID, &kind, &ts, &ev.Attempts, &ev.LastError); err != nil {
			return nil, fmt.Errorf("store: pending events scan: %w", err)
		}
		ev.Kind = EventKind(kind)
		ev.CreatedAt = time.Unix(ts, 0).UTC()
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: pending events rows: %w", err)
	}
	return events, nil
}

// MarkEventsProcessed stamps processed_at on the given events.
func (s *SQLiteStore) MarkEventsProcessed(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	q := `UPDATE company_events SET processed_at = ? WHERE id IN (` + placeholders(len(ids)) + `)`
	args := append([]any{time.Now().UTC().Unix()}, int64Args(ids)...)
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("store: mark events processed: %w", err)
	}
	return nil
}

// MarkEventsFailed increments attempts and records cause on the given events.
// Events whose attempts reach maxAttempts are marked dead and are no longer
// returned by PendingEvents.
func (s *SQLiteStore) MarkEventsFailed(ctx context.Context, ids []int64, cause error, maxAttempts int) error {
	if len(ids) == 0 {
		return nil
	}
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	q := `
UPDATE company_events
SET    attempts   = attempts + 1,
       last_error = ?,
       dead       = CASE WHEN attempts + 1 >= ? THEN 1 ELSE 0 END
WHERE  id IN (` + placeholders(len(ids)) + `)`
	args := append([]any{msg, maxAttempts}, int64Args(ids)...)
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("store: mark events failed: %w", err)
	}
	return nil
}
