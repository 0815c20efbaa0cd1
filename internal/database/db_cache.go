package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GetCacheEntry returns the value of a cache entry that has not expired, or
// nil on a miss.
func (db *DB) GetCacheEntry(key string, now time.Time) ([]byte, *time.Time, error) {
	var row struct {
		Value     []byte    `db:"value"`
		ExpiresAt time.Time `db:"expires_at"`
	}
	err := db.Get(&row, `
        SELECT value, expires_at FROM cache_entries
        WHERE key = $1 AND expires_at > $2`, key, now)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get cache entry: %w", err)
	}
	return row.Value, &row.ExpiresAt, nil
}

// SetCacheEntry upserts a cache entry with its expiry.
func (db *DB) SetCacheEntry(key string, value []byte, expiresAt time.Time) error {
	_, err := db.Exec(`
        INSERT INTO cache_entries (key, value, expires_at)
        VALUES ($1, $2, $3)
        ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`,
		key, value, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to set cache entry: %w", err)
	}
	return nil
}

// DeleteExpiredCacheEntries prunes entries past their expiry and returns how
// many were removed.
func (db *DB) DeleteExpiredCacheEntries(now time.Time) (int64, error) {
	res, err := db.Exec(`DELETE FROM cache_entries WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired cache entries: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
