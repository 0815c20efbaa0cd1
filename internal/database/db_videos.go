package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mofekayode/videosift-backend/internal/models"
)

// GetVideoByExternalID returns a video by its provider id, or nil if absent.
func (db *DB) GetVideoByExternalID(externalID string) (*models.Video, error) {
	var v models.Video
	err := db.Get(&v, `SELECT * FROM videos WHERE external_id = $1`, externalID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get video by external id: %w", err)
	}
	return &v, nil
}

// GetVideoByID returns a video by its row id, or nil if absent.
func (db *DB) GetVideoByID(id int64) (*models.Video, error) {
	var v models.Video
	err := db.Get(&v, `SELECT * FROM videos WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get video by id: %w", err)
	}
	return &v, nil
}

// UpsertVideoPlaceholder inserts a video row ahead of pipeline processing, or
// refreshes its metadata if the row already exists. Processing flags are left
// untouched on conflict.
func (db *DB) UpsertVideoPlaceholder(externalID string, channelID *int64, title, description string, durationSeconds int, publishedAt time.Time) (*models.Video, error) {
	var v models.Video
	err := db.Get(&v, `
        INSERT INTO videos (external_id, channel_id, title, description, duration_seconds, published_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (external_id) DO UPDATE SET
            channel_id = COALESCE(videos.channel_id, EXCLUDED.channel_id),
            title = EXCLUDED.title,
            description = EXCLUDED.description,
            duration_seconds = EXCLUDED.duration_seconds,
            published_at = EXCLUDED.published_at
        RETURNING *`, externalID, channelID, title, description, durationSeconds, publishedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert video placeholder: %w", err)
	}
	return &v, nil
}

// MarkVideoQueued flags a video for pickup by the video dispatch tick.
func (db *DB) MarkVideoQueued(id int64, queued bool) error {
	_, err := db.Exec(`UPDATE videos SET processing_queued = $2 WHERE id = $1`, id, queued)
	if err != nil {
		return fmt.Errorf("failed to mark video queued: %w", err)
	}
	return nil
}

// MarkVideoProcessed records a successful pipeline run: transcript cached,
// chunks processed, blob path set, error cleared.
func (db *DB) MarkVideoProcessed(id int64, blobPath string) error {
	_, err := db.Exec(`
        UPDATE videos SET
            transcript_cached = TRUE,
            chunks_processed = TRUE,
            processing_queued = FALSE,
            processing_error = NULL,
            transcript_blob_path = $2
        WHERE id = $1`, id, blobPath)
	if err != nil {
		return fmt.Errorf("failed to mark video processed: %w", err)
	}
	return nil
}

// MarkVideoFailed records a pipeline failure on the video row.
func (db *DB) MarkVideoFailed(id int64, processingError string) error {
	_, err := db.Exec(`
        UPDATE videos SET
            transcript_cached = FALSE,
            processing_queued = FALSE,
            processing_error = $2
        WHERE id = $1`, id, processingError)
	if err != nil {
		return fmt.Errorf("failed to mark video failed: %w", err)
	}
	return nil
}

// ListQueuedUnprocessedVideos returns up to limit videos flagged for
// processing whose transcript is not yet cached, oldest first.
func (db *DB) ListQueuedUnprocessedVideos(limit int) ([]models.Video, error) {
	var out []models.Video
	err := db.Select(&out, `
        SELECT * FROM videos
        WHERE processing_queued = TRUE AND transcript_cached = FALSE
        ORDER BY created_at ASC
        LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list queued videos: %w", err)
	}
	return out, nil
}

// ListVideosByChannel returns a channel's videos, newest first.
func (db *DB) ListVideosByChannel(channelID int64) ([]models.Video, error) {
	var out []models.Video
	err := db.Select(&out, `
        SELECT * FROM videos WHERE channel_id = $1
        ORDER BY published_at DESC`, channelID)
	if err != nil {
		return nil, fmt.Errorf("failed to list videos by channel: %w", err)
	}
	return out, nil
}

// CountVideos returns the total number of video rows.
func (db *DB) CountVideos() (int, error) {
	var n int
	if err := db.Get(&n, `SELECT COUNT(*) FROM videos`); err != nil {
		return 0, fmt.Errorf("failed to count videos: %w", err)
	}
	return n, nil
}
