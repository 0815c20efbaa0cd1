package database

import (
	"fmt"
	"time"

	"github.com/mofekayode/videosift-backend/internal/models"
)

// InsertErrorEvents writes a batch of captured errors in one transaction.
func (db *DB) InsertErrorEvents(events []models.ErrorEvent) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin error event transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Preparex(`
        INSERT INTO error_events (message, type, stack, context, created_at)
        VALUES ($1, $2, $3, $4, $5)`)
	if err != nil {
		return fmt.Errorf("failed to prepare error event insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		if _, err := stmt.Exec(e.Message, e.Type, e.Stack, e.Context, e.CreatedAt); err != nil {
			return fmt.Errorf("failed to insert error event: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit error events: %w", err)
	}
	return nil
}

// ErrorStatsSince returns per-type error counts for events newer than since.
func (db *DB) ErrorStatsSince(since time.Time) (map[string]int, error) {
	rows, err := db.Queryx(`
        SELECT type, COUNT(*) AS n FROM error_events
        WHERE created_at >= $1 GROUP BY type`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to get error stats: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var typ string
		var n int
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, fmt.Errorf("failed to scan error stat row: %w", err)
		}
		out[typ] = n
	}
	return out, rows.Err()
}

// RecentErrorEvents returns the newest captured errors, newest first.
func (db *DB) RecentErrorEvents(limit int) ([]models.ErrorEvent, error) {
	var out []models.ErrorEvent
	err := db.Select(&out, `
        SELECT * FROM error_events ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent error events: %w", err)
	}
	return out, nil
}
