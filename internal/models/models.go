// Package models defines the core data structures used throughout the application,
// representing database entities, API request/response bodies, and internal data contracts.
package models

import (
	"time"

	"github.com/lib/pq"
)

// --- Database Entities ---

// Channel represents an ingested YouTube channel.
type Channel struct {
	ID            int64      `db:"id" json:"id"`
	ExternalID    string     `db:"external_id" json:"externalId"`
	Title         string     `db:"title" json:"title"`
	Status        string     `db:"status" json:"status"` // pending, processing, ready, failed
	VideoCount    int        `db:"video_count" json:"videoCount"`
	LastIndexedAt *time.Time `db:"last_indexed_at" json:"lastIndexedAt,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"createdAt"`
}

// Channel status values. Transitions are monotonic except failed -> pending
// via an operator retry.
const (
	ChannelStatusPending    = "pending"
	ChannelStatusProcessing = "processing"
	ChannelStatusReady      = "ready"
	ChannelStatusFailed     = "failed"
)

// Video represents a single YouTube video, possibly belonging to a channel.
// Rows may exist as placeholders (TranscriptCached=false) before the pipeline
// has completed.
type Video struct {
	ID                 int64     `db:"id" json:"id"`
	ExternalID         string    `db:"external_id" json:"externalId"`
	ChannelID          *int64    `db:"channel_id" json:"channelId,omitempty"`
	Title              string    `db:"title" json:"title"`
	Description        string    `db:"description" json:"description"`
	DurationSeconds    int       `db:"duration_seconds" json:"durationSeconds"`
	TranscriptCached   bool      `db:"transcript_cached" json:"transcriptCached"`
	ChunksProcessed    bool      `db:"chunks_processed" json:"chunksProcessed"`
	ProcessingQueued   bool      `db:"processing_queued" json:"processingQueued"`
	ProcessingError    *string   `db:"processing_error" json:"processingError,omitempty"`
	TranscriptBlobPath *string   `db:"transcript_blob_path" json:"transcriptBlobPath,omitempty"`
	PublishedAt        time.Time `db:"published_at" json:"publishedAt"`
	CreatedAt          time.Time `db:"created_at" json:"createdAt"`
}

// TranscriptChunk is the retrieval unit: a contiguous slice of a video's
// transcript with its embedding and its byte span inside the transcript blob.
type TranscriptChunk struct {
	ID          int64          `db:"id" json:"id"`
	VideoID     int64          `db:"video_id" json:"videoId"`
	ChunkIndex  int            `db:"chunk_index" json:"chunkIndex"`
	StartTime   int            `db:"start_time" json:"startTime"`
	EndTime     int            `db:"end_time" json:"endTime"`
	ByteOffset  int            `db:"byte_offset" json:"byteOffset"`
	ByteLength  int            `db:"byte_length" json:"byteLength"`
	TextPreview string         `db:"text_preview" json:"textPreview"`
	Keywords    pq.StringArray `db:"keywords" json:"keywords"`
	Embedding   Vector         `db:"embedding" json:"-"`
	CreatedAt   time.Time      `db:"created_at" json:"createdAt"`
}

// ChannelQueueItem is one unit of channel ingest work tied to one channel and
// one requesting user, carrying status, progress counters and retry metadata.
type ChannelQueueItem struct {
	ID                    int64      `db:"id" json:"id"`
	ChannelID             int64      `db:"channel_id" json:"channelId"`
	RequestedBy           *string    `db:"requested_by" json:"requestedBy,omitempty"`
	Status                string     `db:"status" json:"status"`
	Priority              string     `db:"priority" json:"priority"`
	RetryCount            int        `db:"retry_count" json:"retryCount"`
	TotalVideos           int        `db:"total_videos" json:"totalVideos"`
	VideosProcessed       int        `db:"videos_processed" json:"videosProcessed"`
	CurrentVideoIndex     int        `db:"current_video_index" json:"currentVideoIndex"`
	CurrentVideoTitle     *string    `db:"current_video_title" json:"currentVideoTitle,omitempty"`
	StartedAt             *time.Time `db:"started_at" json:"startedAt,omitempty"`
	CompletedAt           *time.Time `db:"completed_at" json:"completedAt,omitempty"`
	ErrorMessage          *string    `db:"error_message" json:"errorMessage,omitempty"`
	EstimatedCompletionAt *time.Time `db:"estimated_completion_at" json:"estimatedCompletionAt,omitempty"`
	CreatedAt             time.Time  `db:"created_at" json:"createdAt"`
}

// Queue item status values.
const (
	QueueStatusPending    = "pending"
	QueueStatusProcessing = "processing"
	QueueStatusCompleted  = "completed"
	QueueStatusFailed     = "failed"
)

// Queue priorities.
const (
	PriorityHigh   = "high"
	PriorityNormal = "normal"
	PriorityLow    = "low"
)

// ChatSession groups the messages of one conversation over a video or a channel.
// Exactly one of VideoID and ChannelID is set.
type ChatSession struct {
	ID           int64     `db:"id" json:"id"`
	UUID         string    `db:"uuid" json:"uuid"`
	UserID       *string   `db:"user_id" json:"userId,omitempty"`
	VideoID      *int64    `db:"video_id" json:"videoId,omitempty"`
	ChannelID    *int64    `db:"channel_id" json:"channelId,omitempty"`
	Title        string    `db:"title" json:"title"`
	MessageCount int       `db:"message_count" json:"messageCount"`
	LastActivity time.Time `db:"last_activity" json:"lastActivity"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
}

// ChatMessage is a single turn in a chat session.
type ChatMessage struct {
	ID        int64     `db:"id" json:"id"`
	SessionID int64     `db:"session_id" json:"sessionId"`
	Role      string    `db:"role" json:"role"` // user, assistant
	Content   string    `db:"content" json:"content"`
	Citations Citations `db:"citations" json:"citations"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// Citation points at a span of a video transcript. Context citations carry
// videoId/videoTitle/startTime/endTime/text; citations extracted from the
// assistant's own output carry timestamp/seconds/text instead. Clients must
// tolerate both shapes.
type Citation struct {
	VideoID    string `json:"videoId,omitempty"`
	VideoTitle string `json:"videoTitle,omitempty"`
	StartTime  int    `json:"startTime,omitempty"`
	EndTime    int    `json:"endTime,omitempty"`
	Timestamp  string `json:"timestamp,omitempty"`
	Seconds    int    `json:"seconds,omitempty"`
	Text       string `json:"text"`
}

// LockRow is the persisted form of a lease.
type LockRow struct {
	ResourceID string    `db:"resource_id"`
	LockID     string    `db:"lock_id"`
	ExpiresAt  time.Time `db:"expires_at"`
}

// RateEvent is an append-only record of one rate-limited action.
type RateEvent struct {
	ID         int64     `db:"id"`
	Identifier string    `db:"identifier"`
	Action     string    `db:"action"`
	CreatedAt  time.Time `db:"created_at"`
}

// CacheEntry is the store tier of the two-tier cache.
type CacheEntry struct {
	Key       string    `db:"key"`
	Value     []byte    `db:"value"`
	ExpiresAt time.Time `db:"expires_at"`
}

// ErrorEvent is a captured failure with redacted context.
type ErrorEvent struct {
	ID        int64     `db:"id" json:"id"`
	Message   string    `db:"message" json:"message"`
	Type      string    `db:"type" json:"type"`
	Stack     string    `db:"stack" json:"stack,omitempty"`
	Context   JSONMap   `db:"context" json:"context,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// S3Config holds the settings needed to connect to S3-compatible storage.
type S3Config struct {
	Endpoint string
	Region   string
	KeyID    string
	AppKey   string
	Bucket   string
}

// --- Search ---

// SearchResult is one ranked chunk returned by the retrieval engine, hydrated
// with its full transcript text.
type SearchResult struct {
	Chunk      TranscriptChunk `json:"chunk"`
	VideoExtID string          `json:"videoId"`
	VideoTitle string          `json:"videoTitle"`
	Score      float64         `json:"score"`
	FullText   string          `json:"fullText"`
}

// --- API Payloads ---

// ProcessChannelRequest enqueues a channel for ingestion.
type ProcessChannelRequest struct {
	ChannelID string `json:"channelId" validate:"required,max=200"`
	Priority  string `json:"priority" validate:"omitempty,oneof=high normal low"`
}

// ProcessVideoRequest enqueues a single video for ingestion.
type ProcessVideoRequest struct {
	VideoID  string `json:"videoId" validate:"required,max=50"`
	Priority string `json:"priority" validate:"omitempty,oneof=high normal low"`
}

// ChatStreamRequest starts a streaming chat turn over a video or a channel.
type ChatStreamRequest struct {
	Messages  []ChatTurn `json:"messages" validate:"required,min=1,max=50,dive"`
	VideoID   string     `json:"videoId,omitempty" validate:"omitempty,max=50"`
	ChannelID string     `json:"channelId,omitempty" validate:"omitempty,max=200"`
	SessionID *string    `json:"sessionId,omitempty"`
}

// ChatTurn is one message in the client-supplied conversation.
type ChatTurn struct {
	Role    string `json:"role" validate:"required,oneof=user assistant"`
	Content string `json:"content" validate:"required,max=20000"`
}

// EnqueueResult reports the outcome of an enqueue call. Success is false when
// an equivalent item already exists; Item or VideoRow then describes the
// existing state.
type EnqueueResult struct {
	Success  bool              `json:"success"`
	Message  string            `json:"message"`
	Item     *ChannelQueueItem `json:"item,omitempty"`
	VideoRow *Video            `json:"video,omitempty"`
}

// RateLimitResult is the decision returned by the rate limiter, computed from
// the most restrictive active window.
type RateLimitResult struct {
	Allowed   bool      `json:"allowed"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"resetAt"`
	Window    string    `json:"window"`
}

// ChannelStats is the outcome tuple of a channel pipeline run, reported in the
// completion notification. Processed counts cached + newly processed videos.
type ChannelStats struct {
	Total        int `json:"total"`
	Processed    int `json:"processed"`
	Existing     int `json:"existing"`
	Failed       int `json:"failed"`
	NoTranscript int `json:"noTranscript"`
}

// --- SSE Frames ---

// StreamFrame is one SSE data frame of the chat stream grammar.
type StreamFrame struct {
	Type      string     `json:"type"`
	Content   string     `json:"content,omitempty"`
	Citations []Citation `json:"citations,omitempty"`
	Error     string     `json:"error,omitempty"`
	Done      *bool      `json:"done,omitempty"`
}
