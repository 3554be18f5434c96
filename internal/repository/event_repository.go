package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// EventRepository persists identifiers of externally delivered events that were already handled.
type EventRepository struct {
	db *sql.DB
}

func NewEventRepository(db *sql.DB) *EventRepository {
	return &EventRepository{db: db}
}

func (r *EventRepository) Exists(ctx context.Context, eventID string) (bool, error) {
	const query = `SELECT 1 FROM processed_events WHERE event_id = ?`
	var dummy int
	if err := r.db.QueryRowContext(ctx, query, eventID).Scan(&dummy); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check processed event: %w", err)
	}
	return true, nil
}

// Mark records the event. Marking twice is not an error.
func (r *EventRepository) Mark(ctx context.Context, eventID string) error {
	return markEvent(ctx, r.db, eventID, nil)
}

// markEvent inserts the event id and reports through inserted whether this call created the row.
func markEvent(ctx context.Context, ex execer, eventID string, inserted *bool) error {
	const query = `INSERT IGNORE INTO processed_events (event_id) VALUES (?)`
	res, err := ex.ExecContext(ctx, query, eventID)
	if err != nil {
		return fmt.Errorf("mark processed event: %w", err)
	}
	if inserted != nil {
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("processed event rows affected: %w", err)
		}
		*inserted = affected > 0
	}
	return nil
}
