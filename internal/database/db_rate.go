package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// InsertRateEvent appends one rate event for an identifier/action pair.
func (db *DB) InsertRateEvent(identifier, action string, at time.Time) error {
	_, err := db.Exec(`
        INSERT INTO rate_events (identifier, action, created_at)
        VALUES ($1, $2, $3)`, identifier, action, at)
	if err != nil {
		return fmt.Errorf("failed to insert rate event: %w", err)
	}
	return nil
}

// CountRateEvents counts events for an identifier/action inside the sliding
// window [since, now].
func (db *DB) CountRateEvents(identifier, action string, since time.Time) (int, error) {
	var n int
	err := db.Get(&n, `
        SELECT COUNT(*) FROM rate_events
        WHERE identifier = $1 AND action = $2 AND created_at >= $3`, identifier, action, since)
	if err != nil {
		return 0, fmt.Errorf("failed to count rate events: %w", err)
	}
	return n, nil
}

// OldestRateEventSince returns the creation time of the oldest event inside
// the window, used to compute when the window frees up. Nil when empty.
func (db *DB) OldestRateEventSince(identifier, action string, since time.Time) (*time.Time, error) {
	var ts time.Time
	err := db.Get(&ts, `
        SELECT created_at FROM rate_events
        WHERE identifier = $1 AND action = $2 AND created_at >= $3
        ORDER BY created_at ASC LIMIT 1`, identifier, action, since)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get oldest rate event: %w", err)
	}
	return &ts, nil
}

// DeleteRateEventsBefore prunes events older than the cutoff.
func (db *DB) DeleteRateEventsBefore(cutoff time.Time) (int64, error) {
	res, err := db.Exec(`DELETE FROM rate_events WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old rate events: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
