// Package pipeline drives video and channel ingestion: transcript fetch,
// chunking, embedding and persistence, under distributed locks.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/lib/pq"

	"github.com/mofekayode/videosift-backend/internal/locks"
	"github.com/mofekayode/videosift-backend/internal/models"
	"github.com/mofekayode/videosift-backend/internal/transcript"
)

// VideoStore is the persistence surface the video pipeline needs.
type VideoStore interface {
	GetVideoByExternalID(externalID string) (*models.Video, error)
	ReplaceVideoChunks(videoID int64, chunks []models.TranscriptChunk) error
	MarkVideoProcessed(id int64, blobPath string) error
	MarkVideoFailed(id int64, processingError string) error
}

// Fetcher retrieves the caption track for a video.
type Fetcher interface {
	Fetch(ctx context.Context, videoID string) ([]transcript.Segment, error)
}

// Embedder vectorizes a batch of texts, yielding nil vectors for failures.
type Embedder interface {
	Embed(ctx context.Context, texts []string) []models.Vector
}

// Blobs stores transcript blobs.
type Blobs interface {
	UploadTranscript(ctx context.Context, key string, data []byte) error
}

// LockManager provides the at-most-once guard for heavy work.
type LockManager interface {
	Acquire(resourceID string, ttl time.Duration) *locks.Lease
	Release(lease *locks.Lease)
}

// VideoPipeline processes one video end to end: fetch, blob write, chunk,
// embed, transactional chunk replacement.
type VideoPipeline struct {
	store    VideoStore
	fetcher  Fetcher
	embedder Embedder
	blobs    Blobs
	locks    LockManager
	lockTTL  time.Duration
}

// NewVideoPipeline wires a video pipeline.
func NewVideoPipeline(store VideoStore, fetcher Fetcher, embedder Embedder, blobs Blobs, lockMgr LockManager, lockTTL time.Duration) *VideoPipeline {
	return &VideoPipeline{
		store:    store,
		fetcher:  fetcher,
		embedder: embedder,
		blobs:    blobs,
		locks:    lockMgr,
		lockTTL:  lockTTL,
	}
}

// Process ingests the video with the given external id. It returns false with
// a nil error when another worker holds the video's lock. On failure the
// video row records the processing error and keeps transcript_cached=false.
func (p *VideoPipeline) Process(ctx context.Context, externalID string) (bool, error) {
	lease := p.locks.Acquire("video-"+externalID, p.lockTTL)
	if lease == nil {
		log.Printf("[PIPELINE] Video %s is locked by another worker; skipping.", externalID)
		return false, nil
	}
	defer p.locks.Release(lease)

	video, err := p.store.GetVideoByExternalID(externalID)
	if err != nil {
		return false, err
	}
	if video == nil {
		return false, fmt.Errorf("video %s has no placeholder row", externalID)
	}

	if err := p.run(ctx, video); err != nil {
		if markErr := p.store.MarkVideoFailed(video.ID, err.Error()); markErr != nil {
			log.Printf("!!! [PIPELINE] Failed to record error on video %s: %v", externalID, markErr)
		}
		return false, err
	}
	return true, nil
}

func (p *VideoPipeline) run(ctx context.Context, video *models.Video) error {
	// 1. Fetch the caption track.
	segments, err := p.fetcher.Fetch(ctx, video.ExternalID)
	if err != nil {
		return err
	}
	if len(segments) == 0 {
		return &transcript.FetchError{Kind: transcript.ErrNoTranscript, VideoID: video.ExternalID}
	}

	// 2-3. Chunk, then write the blob assembled from the exact chunk buffers
	// so byte offsets agree with the stored object byte-for-byte.
	chunks := transcript.BuildChunks(segments)
	blobPath := video.ExternalID + "/transcript.txt"
	if err := p.blobs.UploadTranscript(ctx, blobPath, transcript.AssembleBlob(chunks)); err != nil {
		return err
	}

	// 4. Embed. Chunks whose embedding failed keep a nil vector and stay
	// eligible for keyword-only retrieval.
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors := p.embedder.Embed(ctx, texts)

	rows := make([]models.TranscriptChunk, len(chunks))
	for i, c := range chunks {
		rows[i] = models.TranscriptChunk{
			VideoID:     video.ID,
			ChunkIndex:  i,
			StartTime:   c.StartTime,
			EndTime:     c.EndTime,
			ByteOffset:  c.ByteOffset,
			ByteLength:  c.ByteLength,
			TextPreview: c.Preview(),
			Keywords:    pq.StringArray(c.Keywords),
			Embedding:   vectors[i],
		}
	}

	// 5. Atomically replace the chunk set.
	if err := p.store.ReplaceVideoChunks(video.ID, rows); err != nil {
		return err
	}

	// 6. Flip the processed flags and record the blob path.
	if err := p.store.MarkVideoProcessed(video.ID, blobPath); err != nil {
		return err
	}

	log.Printf("[PIPELINE] Processed video %s: %d segments -> %d chunks.", video.ExternalID, len(segments), len(chunks))
	return nil
}
