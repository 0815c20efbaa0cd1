// Package queue implements the durable ingest queue: idempotent enqueue,
// background dispatch ticks, retry and garbage collection.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/mofekayode/videosift-backend/internal/errsink"
	"github.com/mofekayode/videosift-backend/internal/models"
	"github.com/mofekayode/videosift-backend/internal/transcript"
	"github.com/mofekayode/videosift-backend/internal/youtube"
)

// maxRetries bounds automatic retry of failed channel queue items.
const maxRetries = 3

// Store is the persistence surface the queue needs.
type Store interface {
	GetOrCreateChannel(externalID, title string) (*models.Channel, error)
	GetActiveQueueItemForChannel(channelID int64) (*models.ChannelQueueItem, error)
	GetLatestQueueItemForChannel(channelID int64) (*models.ChannelQueueItem, error)
	CreateQueueItem(channelID int64, requestedBy *string, priority string) (*models.ChannelQueueItem, error)
	QueuePosition(id int64) (*int, error)
	ListPendingQueueItems(limit int) ([]models.ChannelQueueItem, error)
	ResetFailedQueueItems(limit, maxRetries int) ([]int64, error)
	DeleteCompletedQueueItemsBefore(cutoff time.Time) (int64, error)
	QueueDepths() (map[string]int, error)

	GetVideoByExternalID(externalID string) (*models.Video, error)
	UpsertVideoPlaceholder(externalID string, channelID *int64, title, description string, durationSeconds int, publishedAt time.Time) (*models.Video, error)
	MarkVideoQueued(id int64, queued bool) error
	ListQueuedUnprocessedVideos(limit int) ([]models.Video, error)

	ListReadyChannels() ([]models.Channel, error)
	NewestVideoPublishedAt(channelID int64) (*time.Time, error)
}

// ChannelProcessor runs one queued channel ingest.
type ChannelProcessor interface {
	ProcessQueueItem(ctx context.Context, qid int64) (bool, error)
}

// VideoProcessor runs one video ingest.
type VideoProcessor interface {
	Process(ctx context.Context, externalID string) (bool, error)
}

// Metadata resolves channel references and lists uploads.
type Metadata interface {
	ResolveChannel(ctx context.Context, ref string) (*youtube.ChannelInfo, error)
	ListVideos(ctx context.Context, channelID string, max int64, publishedAfter *time.Time) ([]youtube.VideoInfo, error)
}

// Service accepts ingest requests and performs the queue work that the
// Dispatcher's ticks trigger.
type Service struct {
	store    Store
	channels ChannelProcessor
	videos   VideoProcessor
	metadata Metadata
	videoCap int
	errors   *errsink.Sink
}

// NewService wires the queue service.
func NewService(store Store, channels ChannelProcessor, videos VideoProcessor, metadata Metadata, videoCap int) *Service {
	return &Service{
		store:    store,
		channels: channels,
		videos:   videos,
		metadata: metadata,
		videoCap: videoCap,
	}
}

// EnqueueChannel requests ingestion of a channel. The call is idempotent: a
// pending or processing queue row for the same channel short-circuits with
// success=false and the existing state. High-priority requests dispatch
// immediately instead of waiting for the next tick.
func (s *Service) EnqueueChannel(ctx context.Context, channelRef string, requestedBy *string, priority string) (*models.EnqueueResult, error) {
	info, err := s.metadata.ResolveChannel(ctx, channelRef)
	if err != nil {
		return nil, fmt.Errorf("could not resolve channel %q: %w", channelRef, err)
	}

	channel, err := s.store.GetOrCreateChannel(info.ID, info.Title)
	if err != nil {
		return nil, err
	}

	existing, err := s.store.GetActiveQueueItemForChannel(channel.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &models.EnqueueResult{
			Success: false,
			Message: fmt.Sprintf("channel is already %s", existing.Status),
			Item:    existing,
		}, nil
	}

	if priority == "" {
		priority = models.PriorityNormal
	}
	item, err := s.store.CreateQueueItem(channel.ID, requestedBy, priority)
	if err != nil {
		return nil, err
	}
	log.Printf("[QUEUE] Enqueued channel '%s' as queue item %d (priority %s).", info.Title, item.ID, priority)

	if priority == models.PriorityHigh {
		go s.dispatchChannel(item.ID)
	}
	return &models.EnqueueResult{Success: true, Message: "channel queued", Item: item}, nil
}

// EnqueueVideo requests ingestion of a single ad-hoc video. Already-processed
// videos short-circuit with success=false.
func (s *Service) EnqueueVideo(ctx context.Context, videoID string, requestedBy *string, priority string) (*models.EnqueueResult, error) {
	existing, err := s.store.GetVideoByExternalID(videoID)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.TranscriptCached && existing.ChunksProcessed {
		return &models.EnqueueResult{
			Success:  false,
			Message:  "video is already processed",
			VideoRow: existing,
		}, nil
	}

	video, err := s.store.UpsertVideoPlaceholder(videoID, nil, "", "", 0, time.Now())
	if err != nil {
		return nil, err
	}
	if err := s.store.MarkVideoQueued(video.ID, true); err != nil {
		return nil, err
	}
	log.Printf("[QUEUE] Queued video %s for processing.", videoID)

	if priority == models.PriorityHigh {
		go s.dispatchVideo(videoID)
	}
	return &models.EnqueueResult{Success: true, Message: "video queued", VideoRow: video}, nil
}

// Position returns the 1-based pending-queue position, or nil when the item
// is not pending.
func (s *Service) Position(qid int64) (*int, error) {
	return s.store.QueuePosition(qid)
}

// ChannelStatus returns the newest queue row for a channel reference.
func (s *Service) ChannelStatus(ctx context.Context, channelRef string) (*models.ChannelQueueItem, error) {
	info, err := s.metadata.ResolveChannel(ctx, channelRef)
	if err != nil {
		return nil, fmt.Errorf("could not resolve channel %q: %w", channelRef, err)
	}
	channel, err := s.store.GetOrCreateChannel(info.ID, info.Title)
	if err != nil {
		return nil, err
	}
	return s.store.GetLatestQueueItemForChannel(channel.ID)
}

// Depths returns queue row counts per status, for the monitor surface.
func (s *Service) Depths() (map[string]int, error) {
	return s.store.QueueDepths()
}

// SetErrorSink installs the sink dispatch failures are captured into.
func (s *Service) SetErrorSink(sink *errsink.Sink) {
	s.errors = sink
}

// dispatchChannel runs one channel ingest in the background. Lock acquisition
// inside the pipeline keeps concurrent dispatches of the same item safe.
func (s *Service) dispatchChannel(qid int64) {
	if _, err := s.channels.ProcessQueueItem(context.Background(), qid); err != nil {
		log.Printf("!!! [QUEUE] Channel dispatch for item %d failed: %v", qid, err)
		s.capture(err, map[string]interface{}{"queueItemId": qid})
	}
}

// dispatchVideo runs one video ingest in the background.
func (s *Service) dispatchVideo(videoID string) {
	if _, err := s.videos.Process(context.Background(), videoID); err != nil {
		log.Printf("!!! [QUEUE] Video dispatch for %s failed: %v", videoID, err)
		s.capture(err, map[string]interface{}{"videoId": videoID})
	}
}

func (s *Service) capture(err error, context map[string]interface{}) {
	if s.errors == nil {
		return
	}
	kind := errsink.KindInternal
	var fetchErr *transcript.FetchError
	if errors.As(err, &fetchErr) {
		kind = errsink.KindTranscript
	}
	s.errors.Capture(err, kind, context)
}
