package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/mofekayode/videosift-backend/internal/models"
)

// pq error code for unique_violation.
const pqUniqueViolation = "23505"

// InsertLockRow attempts to create a lock row. It returns false (and no
// error) when the resource is already locked.
func (db *DB) InsertLockRow(resourceID, lockID string, expiresAt time.Time) (bool, error) {
	_, err := db.Exec(`
        INSERT INTO locks (resource_id, lock_id, expires_at)
        VALUES ($1, $2, $3)`, resourceID, lockID, expiresAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return false, nil
		}
		return false, fmt.Errorf("failed to insert lock row: %w", err)
	}
	return true, nil
}

// GetLockRow returns the lock row for a resource, or nil if absent.
func (db *DB) GetLockRow(resourceID string) (*models.LockRow, error) {
	var row models.LockRow
	err := db.Get(&row, `SELECT * FROM locks WHERE resource_id = $1`, resourceID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get lock row: %w", err)
	}
	return &row, nil
}

// DeleteExpiredLockRow deletes the row for a resource only if it has expired.
// It reports whether a row was removed.
func (db *DB) DeleteExpiredLockRow(resourceID string, now time.Time) (bool, error) {
	res, err := db.Exec(`
        DELETE FROM locks WHERE resource_id = $1 AND expires_at < $2`, resourceID, now)
	if err != nil {
		return false, fmt.Errorf("failed to delete expired lock row: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// DeleteLockRowFenced deletes a lock row only when the held lock id still
// matches, so a stale holder cannot revoke a newer lease.
func (db *DB) DeleteLockRowFenced(resourceID, lockID string) error {
	_, err := db.Exec(`
        DELETE FROM locks WHERE resource_id = $1 AND lock_id = $2`, resourceID, lockID)
	if err != nil {
		return fmt.Errorf("failed to delete lock row: %w", err)
	}
	return nil
}

// SweepExpiredLocks deletes all expired lock rows and returns how many were
// removed.
func (db *DB) SweepExpiredLocks(now time.Time) (int64, error) {
	res, err := db.Exec(`DELETE FROM locks WHERE expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired locks: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
