package database

import (
	"fmt"

	"github.com/mofekayode/videosift-backend/internal/models"
)

// ReplaceVideoChunks atomically swaps a video's chunk set: all existing chunks
// are deleted and the new batch inserted within one transaction, so readers
// see either the old set or the new set, never a mixture.
func (db *DB) ReplaceVideoChunks(videoID int64, chunks []models.TranscriptChunk) error {
	tx, err := db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin chunk replacement transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM transcript_chunks WHERE video_id = $1`, videoID); err != nil {
		return fmt.Errorf("failed to delete existing chunks: %w", err)
	}

	stmt, err := tx.Preparex(`
        INSERT INTO transcript_chunks
            (video_id, chunk_index, start_time, end_time, byte_offset, byte_length, text_preview, keywords, embedding)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`)
	if err != nil {
		return fmt.Errorf("failed to prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		if _, err := stmt.Exec(videoID, c.ChunkIndex, c.StartTime, c.EndTime,
			c.ByteOffset, c.ByteLength, c.TextPreview, c.Keywords, c.Embedding); err != nil {
			return fmt.Errorf("failed to insert chunk %d: %w", c.ChunkIndex, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit chunk replacement: %w", err)
	}
	return nil
}

// GetChunksByVideo returns all chunks of a video ordered by chunk index.
func (db *DB) GetChunksByVideo(videoID int64) ([]models.TranscriptChunk, error) {
	var out []models.TranscriptChunk
	err := db.Select(&out, `
        SELECT * FROM transcript_chunks WHERE video_id = $1 ORDER BY chunk_index`, videoID)
	if err != nil {
		return nil, fmt.Errorf("failed to get chunks by video: %w", err)
	}
	return out, nil
}

// GetChunksByChannel returns all chunks across a channel's videos, ordered by
// video id then chunk index.
func (db *DB) GetChunksByChannel(channelID int64) ([]models.TranscriptChunk, error) {
	var out []models.TranscriptChunk
	err := db.Select(&out, `
        SELECT tc.* FROM transcript_chunks tc
        JOIN videos v ON v.id = tc.video_id
        WHERE v.channel_id = $1
        ORDER BY tc.video_id, tc.chunk_index`, channelID)
	if err != nil {
		return nil, fmt.Errorf("failed to get chunks by channel: %w", err)
	}
	return out, nil
}

// CountChunks returns the total number of chunk rows.
func (db *DB) CountChunks() (int, error) {
	var n int
	if err := db.Get(&n, `SELECT COUNT(*) FROM transcript_chunks`); err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return n, nil
}
