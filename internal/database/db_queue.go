package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mofekayode/videosift-backend/internal/models"
)

// GetQueueItem returns a channel queue row by id, or nil if absent.
func (db *DB) GetQueueItem(id int64) (*models.ChannelQueueItem, error) {
	var item models.ChannelQueueItem
	err := db.Get(&item, `SELECT * FROM channel_queue WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get queue item: %w", err)
	}
	return &item, nil
}

// GetActiveQueueItemForChannel returns a pending or processing queue row for
// the channel, or nil when none exists. Used for idempotent enqueue.
func (db *DB) GetActiveQueueItemForChannel(channelID int64) (*models.ChannelQueueItem, error) {
	var item models.ChannelQueueItem
	err := db.Get(&item, `
        SELECT * FROM channel_queue
        WHERE channel_id = $1 AND status IN ('pending', 'processing')
        ORDER BY created_at LIMIT 1`, channelID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active queue item for channel: %w", err)
	}
	return &item, nil
}

// GetLatestQueueItemForChannel returns the newest queue row for a channel
// regardless of status, or nil when the channel was never enqueued.
func (db *DB) GetLatestQueueItemForChannel(channelID int64) (*models.ChannelQueueItem, error) {
	var item models.ChannelQueueItem
	err := db.Get(&item, `
        SELECT * FROM channel_queue WHERE channel_id = $1
        ORDER BY created_at DESC LIMIT 1`, channelID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest queue item for channel: %w", err)
	}
	return &item, nil
}

// CreateQueueItem inserts a new pending queue row.
func (db *DB) CreateQueueItem(channelID int64, requestedBy *string, priority string) (*models.ChannelQueueItem, error) {
	var item models.ChannelQueueItem
	err := db.Get(&item, `
        INSERT INTO channel_queue (channel_id, requested_by, priority)
        VALUES ($1, $2, $3)
        RETURNING *`, channelID, requestedBy, priority)
	if err != nil {
		return nil, fmt.Errorf("failed to create queue item: %w", err)
	}
	return &item, nil
}

// ListPendingQueueItems returns up to limit pending rows, oldest first.
func (db *DB) ListPendingQueueItems(limit int) ([]models.ChannelQueueItem, error) {
	var out []models.ChannelQueueItem
	err := db.Select(&out, `
        SELECT * FROM channel_queue WHERE status = 'pending'
        ORDER BY created_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending queue items: %w", err)
	}
	return out, nil
}

// QueuePosition returns the 1-based position of a pending row, or nil when
// the row is not pending.
func (db *DB) QueuePosition(id int64) (*int, error) {
	item, err := db.GetQueueItem(id)
	if err != nil {
		return nil, err
	}
	if item == nil || item.Status != models.QueueStatusPending {
		return nil, nil
	}
	var ahead int
	err = db.Get(&ahead, `
        SELECT COUNT(*) FROM channel_queue
        WHERE status = 'pending' AND created_at < $1`, item.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to compute queue position: %w", err)
	}
	pos := ahead + 1
	return &pos, nil
}

// MarkQueueItemProcessing transitions pending -> processing and records the
// start time.
func (db *DB) MarkQueueItemProcessing(id int64, startedAt time.Time) error {
	_, err := db.Exec(`
        UPDATE channel_queue SET status = 'processing', started_at = $2
        WHERE id = $1`, id, startedAt)
	if err != nil {
		return fmt.Errorf("failed to mark queue item processing: %w", err)
	}
	return nil
}

// UpdateQueueItemTotals records the video total and estimated completion time
// once the channel listing is known.
func (db *DB) UpdateQueueItemTotals(id int64, totalVideos int, estimatedCompletion time.Time) error {
	_, err := db.Exec(`
        UPDATE channel_queue SET total_videos = $2, estimated_completion_at = $3
        WHERE id = $1`, id, totalVideos, estimatedCompletion)
	if err != nil {
		return fmt.Errorf("failed to update queue item totals: %w", err)
	}
	return nil
}

// UpdateQueueItemProgress records which video the channel pipeline is on.
func (db *DB) UpdateQueueItemProgress(id int64, index int, title string, videosProcessed int) error {
	_, err := db.Exec(`
        UPDATE channel_queue SET current_video_index = $2, current_video_title = $3, videos_processed = $4
        WHERE id = $1`, id, index, title, videosProcessed)
	if err != nil {
		return fmt.Errorf("failed to update queue item progress: %w", err)
	}
	return nil
}

// MarkQueueItemCompleted transitions processing -> completed.
func (db *DB) MarkQueueItemCompleted(id int64, videosProcessed int, completedAt time.Time) error {
	_, err := db.Exec(`
        UPDATE channel_queue SET status = 'completed', videos_processed = $2, completed_at = $3
        WHERE id = $1`, id, videosProcessed, completedAt)
	if err != nil {
		return fmt.Errorf("failed to mark queue item completed: %w", err)
	}
	return nil
}

// MarkQueueItemFailed transitions to failed with an error message, retaining
// the retry count.
func (db *DB) MarkQueueItemFailed(id int64, errorMessage string) error {
	_, err := db.Exec(`
        UPDATE channel_queue SET status = 'failed', error_message = $2, completed_at = now()
        WHERE id = $1`, id, errorMessage)
	if err != nil {
		return fmt.Errorf("failed to mark queue item failed: %w", err)
	}
	return nil
}

// ResetFailedQueueItems resets up to limit failed rows with retry_count below
// maxRetries back to pending, incrementing their retry count and clearing the
// error message. It returns the ids of the reset rows.
func (db *DB) ResetFailedQueueItems(limit, maxRetries int) ([]int64, error) {
	var ids []int64
	err := db.Select(&ids, `
        UPDATE channel_queue SET status = 'pending', retry_count = retry_count + 1, error_message = NULL
        WHERE id IN (
            SELECT id FROM channel_queue
            WHERE status = 'failed' AND retry_count < $2
            ORDER BY created_at ASC LIMIT $1
        )
        RETURNING id`, limit, maxRetries)
	if err != nil {
		return nil, fmt.Errorf("failed to reset failed queue items: %w", err)
	}
	return ids, nil
}

// DeleteCompletedQueueItemsBefore garbage-collects completed rows whose
// completion is older than the cutoff; failed rows are kept. It returns the
// number of deleted rows.
func (db *DB) DeleteCompletedQueueItemsBefore(cutoff time.Time) (int64, error) {
	res, err := db.Exec(`
        DELETE FROM channel_queue WHERE status = 'completed' AND completed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete completed queue items: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// QueueDepths returns the number of queue rows per status.
func (db *DB) QueueDepths() (map[string]int, error) {
	rows, err := db.Queryx(`SELECT status, COUNT(*) AS n FROM channel_queue GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to get queue depths: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan queue depth row: %w", err)
		}
		out[status] = n
	}
	return out, rows.Err()
}
