package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mofekayode/videosift-backend/internal/models"
)

// GetChannelByExternalID returns a channel by its provider id, or nil if absent.
func (db *DB) GetChannelByExternalID(externalID string) (*models.Channel, error) {
	var ch models.Channel
	err := db.Get(&ch, `SELECT * FROM channels WHERE external_id = $1`, externalID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get channel by external id: %w", err)
	}
	return &ch, nil
}

// GetChannelByID returns a channel by its row id, or nil if absent.
func (db *DB) GetChannelByID(id int64) (*models.Channel, error) {
	var ch models.Channel
	err := db.Get(&ch, `SELECT * FROM channels WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get channel by id: %w", err)
	}
	return &ch, nil
}

// GetOrCreateChannel returns the channel for an external id, creating a
// pending row on first ingest request.
func (db *DB) GetOrCreateChannel(externalID, title string) (*models.Channel, error) {
	var ch models.Channel
	err := db.Get(&ch, `
        INSERT INTO channels (external_id, title, status)
        VALUES ($1, $2, 'pending')
        ON CONFLICT (external_id) DO UPDATE SET
            title = CASE WHEN channels.title = '' THEN EXCLUDED.title ELSE channels.title END
        RETURNING *`, externalID, title)
	if err != nil {
		return nil, fmt.Errorf("failed to get or create channel: %w", err)
	}
	return &ch, nil
}

// UpdateChannelStatus moves a channel to a new lifecycle status.
func (db *DB) UpdateChannelStatus(id int64, status string) error {
	_, err := db.Exec(`UPDATE channels SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("failed to update channel status: %w", err)
	}
	return nil
}

// MarkChannelReady transitions a channel to ready and records its video count
// and index time.
func (db *DB) MarkChannelReady(id int64, videoCount int, indexedAt time.Time) error {
	_, err := db.Exec(`
        UPDATE channels SET status = 'ready', video_count = $2, last_indexed_at = $3
        WHERE id = $1`, id, videoCount, indexedAt)
	if err != nil {
		return fmt.Errorf("failed to mark channel ready: %w", err)
	}
	return nil
}

// ListReadyChannels returns channels whose ingest has completed, used by the
// periodic new-upload refresh tick.
func (db *DB) ListReadyChannels() ([]models.Channel, error) {
	var out []models.Channel
	if err := db.Select(&out, `SELECT * FROM channels WHERE status = 'ready' ORDER BY id`); err != nil {
		return nil, fmt.Errorf("failed to list ready channels: %w", err)
	}
	return out, nil
}

// NewestVideoPublishedAt returns the publish time of the channel's newest
// video, or nil when the channel has none.
func (db *DB) NewestVideoPublishedAt(channelID int64) (*time.Time, error) {
	var ts time.Time
	err := db.Get(&ts, `
        SELECT published_at FROM videos WHERE channel_id = $1
        ORDER BY published_at DESC LIMIT 1`, channelID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get newest video publish time: %w", err)
	}
	return &ts, nil
}
