package database

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/mofekayode/videosift-backend/internal/models"
)

// GetSessionByUUID returns a chat session, or nil if absent.
func (db *DB) GetSessionByUUID(uuid string) (*models.ChatSession, error) {
	var s models.ChatSession
	err := db.Get(&s, `SELECT * FROM chat_sessions WHERE uuid = $1`, uuid)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session by uuid: %w", err)
	}
	return &s, nil
}

// CreateSession inserts a new chat session targeting exactly one of a video
// or a channel.
func (db *DB) CreateSession(uuid string, userID *string, videoID, channelID *int64, title string) (*models.ChatSession, error) {
	var s models.ChatSession
	err := db.Get(&s, `
        INSERT INTO chat_sessions (uuid, user_id, video_id, channel_id, title)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING *`, uuid, userID, videoID, channelID, title)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat session: %w", err)
	}
	return &s, nil
}

// InsertMessage appends a message to a session.
func (db *DB) InsertMessage(sessionID int64, role, content string, citations models.Citations) (*models.ChatMessage, error) {
	var m models.ChatMessage
	err := db.Get(&m, `
        INSERT INTO chat_messages (session_id, role, content, citations)
        VALUES ($1, $2, $3, $4)
        RETURNING *`, sessionID, role, content, citations)
	if err != nil {
		return nil, fmt.Errorf("failed to insert chat message: %w", err)
	}
	return &m, nil
}

// GetSessionMessages returns a session's messages ordered by creation time,
// with the row id as insertion tiebreak.
func (db *DB) GetSessionMessages(sessionID int64) ([]models.ChatMessage, error) {
	var out []models.ChatMessage
	err := db.Select(&out, `
        SELECT * FROM chat_messages WHERE session_id = $1
        ORDER BY created_at, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get session messages: %w", err)
	}
	return out, nil
}

// BumpSessionActivity updates last_activity and adds delta to message_count.
func (db *DB) BumpSessionActivity(sessionID int64, messageDelta int) error {
	_, err := db.Exec(`
        UPDATE chat_sessions SET last_activity = now(), message_count = message_count + $2
        WHERE id = $1`, sessionID, messageDelta)
	if err != nil {
		return fmt.Errorf("failed to bump session activity: %w", err)
	}
	return nil
}

// CountSessions returns the total number of chat sessions.
func (db *DB) CountSessions() (int, error) {
	var n int
	if err := db.Get(&n, `SELECT COUNT(*) FROM chat_sessions`); err != nil {
		return 0, fmt.Errorf("failed to count chat sessions: %w", err)
	}
	return n, nil
}
