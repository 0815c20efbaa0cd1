package pipeline

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/mofekayode/videosift-backend/internal/models"
	"github.com/mofekayode/videosift-backend/internal/transcript"
	"github.com/mofekayode/videosift-backend/internal/youtube"
)

// perVideoEstimate feeds the queue item's estimated completion time.
const perVideoEstimate = 30 * time.Second

// ChannelStore is the persistence surface the channel pipeline needs.
type ChannelStore interface {
	GetQueueItem(id int64) (*models.ChannelQueueItem, error)
	MarkQueueItemProcessing(id int64, startedAt time.Time) error
	UpdateQueueItemTotals(id int64, totalVideos int, estimatedCompletion time.Time) error
	UpdateQueueItemProgress(id int64, index int, title string, videosProcessed int) error
	MarkQueueItemCompleted(id int64, videosProcessed int, completedAt time.Time) error
	MarkQueueItemFailed(id int64, errorMessage string) error

	GetChannelByID(id int64) (*models.Channel, error)
	UpdateChannelStatus(id int64, status string) error
	MarkChannelReady(id int64, videoCount int, indexedAt time.Time) error

	GetVideoByExternalID(externalID string) (*models.Video, error)
	UpsertVideoPlaceholder(externalID string, channelID *int64, title, description string, durationSeconds int, publishedAt time.Time) (*models.Video, error)
}

// Metadata lists a channel's videos through the upstream provider.
type Metadata interface {
	ResolveChannel(ctx context.Context, ref string) (*youtube.ChannelInfo, error)
	ListVideos(ctx context.Context, channelID string, max int64, publishedAfter *time.Time) ([]youtube.VideoInfo, error)
}

// Notifier delivers the completion notification.
type Notifier interface {
	SendChannelCompletion(ctx context.Context, to, channelTitle, status string, stats models.ChannelStats, errorMessage string) error
}

// VideoProcessor is the single-video pipeline the channel pipeline drives.
type VideoProcessor interface {
	Process(ctx context.Context, externalID string) (bool, error)
}

// ProgressFunc receives the queue item after each progress update, feeding
// the monitor broadcast.
type ProgressFunc func(item *models.ChannelQueueItem)

// ChannelPipeline enumerates a channel's videos and drives the video pipeline
// for each, aggregating outcome statistics.
type ChannelPipeline struct {
	store    ChannelStore
	metadata Metadata
	videos   VideoProcessor
	notifier Notifier
	locks    LockManager

	lockTTL    time.Duration
	videoCap   int
	politeness time.Duration
	sleep      func(time.Duration)
	now        func() time.Time
	onProgress ProgressFunc
}

// NewChannelPipeline wires a channel pipeline.
func NewChannelPipeline(store ChannelStore, metadata Metadata, videos VideoProcessor, notifier Notifier, lockMgr LockManager, lockTTL time.Duration, videoCap int, politeness time.Duration) *ChannelPipeline {
	return &ChannelPipeline{
		store:      store,
		metadata:   metadata,
		videos:     videos,
		notifier:   notifier,
		locks:      lockMgr,
		lockTTL:    lockTTL,
		videoCap:   videoCap,
		politeness: politeness,
		sleep:      time.Sleep,
		now:        time.Now,
	}
}

// SetProgressFunc installs a hook invoked after each per-video progress write.
func (p *ChannelPipeline) SetProgressFunc(fn ProgressFunc) {
	p.onProgress = fn
}

// ProcessQueueItem runs one channel ingest under the queue item's lock. It
// returns false with a nil error when another worker holds the lock.
func (p *ChannelPipeline) ProcessQueueItem(ctx context.Context, qid int64) (bool, error) {
	item, err := p.store.GetQueueItem(qid)
	if err != nil {
		return false, err
	}
	if item == nil {
		return false, fmt.Errorf("queue item %d does not exist", qid)
	}

	lease := p.locks.Acquire(fmt.Sprintf("channel-queue-%d", qid), p.lockTTL)
	if lease == nil {
		log.Printf("[PIPELINE] Queue item %d is locked by another worker; skipping.", qid)
		return false, nil
	}
	defer p.locks.Release(lease)

	channel, err := p.store.GetChannelByID(item.ChannelID)
	if err != nil {
		return false, err
	}
	if channel == nil {
		return false, fmt.Errorf("queue item %d references missing channel %d", qid, item.ChannelID)
	}

	stats, err := p.run(ctx, item, channel)
	if err != nil {
		log.Printf("!!! [PIPELINE] Channel run for queue item %d failed: %v", qid, err)
		if markErr := p.store.MarkQueueItemFailed(qid, err.Error()); markErr != nil {
			log.Printf("!!! [PIPELINE] Failed to mark queue item %d failed: %v", qid, markErr)
		}
		if statusErr := p.store.UpdateChannelStatus(channel.ID, models.ChannelStatusFailed); statusErr != nil {
			log.Printf("!!! [PIPELINE] Failed to mark channel %d failed: %v", channel.ID, statusErr)
		}
		p.notify(item, channel.Title, models.QueueStatusFailed, stats, err.Error())
		return false, err
	}

	p.notify(item, channel.Title, models.QueueStatusCompleted, stats, "")
	return true, nil
}

func (p *ChannelPipeline) run(ctx context.Context, item *models.ChannelQueueItem, channel *models.Channel) (models.ChannelStats, error) {
	var stats models.ChannelStats

	now := p.now()
	if err := p.store.MarkQueueItemProcessing(item.ID, now); err != nil {
		return stats, err
	}
	if err := p.store.UpdateChannelStatus(channel.ID, models.ChannelStatusProcessing); err != nil {
		return stats, err
	}

	// Resolve handles to the canonical channel id before listing.
	info, err := p.metadata.ResolveChannel(ctx, channel.ExternalID)
	if err != nil {
		return stats, fmt.Errorf("channel resolution failed: %w", err)
	}

	listing, err := p.metadata.ListVideos(ctx, info.ID, int64(p.videoCap), nil)
	if err != nil {
		return stats, fmt.Errorf("video listing failed: %w", err)
	}

	stats.Total = len(listing)
	estimated := now.Add(time.Duration(len(listing)) * perVideoEstimate)
	if err := p.store.UpdateQueueItemTotals(item.ID, len(listing), estimated); err != nil {
		return stats, err
	}

	processed := 0
	for i, v := range listing {
		if err := p.store.UpdateQueueItemProgress(item.ID, i, v.Title, processed); err != nil {
			log.Printf("!!! [PIPELINE] Progress write for queue item %d failed: %v", item.ID, err)
		}
		p.progress(item.ID)

		existing, err := p.store.GetVideoByExternalID(v.ID)
		if err != nil {
			return stats, err
		}
		if existing != nil && existing.TranscriptCached && existing.ChunksProcessed {
			stats.Existing++
			stats.Processed++
			processed++
			continue
		}

		if _, err := p.store.UpsertVideoPlaceholder(v.ID, &channel.ID, v.Title, v.Description, v.DurationSeconds, v.PublishedAt); err != nil {
			return stats, err
		}

		ok, procErr := p.videos.Process(ctx, v.ID)
		switch {
		case ok:
			stats.Processed++
			processed++
		case procErr != nil && isNoTranscriptError(procErr):
			stats.NoTranscript++
		default:
			stats.Failed++
		}

		if i < len(listing)-1 {
			p.sleep(p.politeness)
		}
	}

	finished := p.now()
	if err := p.store.MarkQueueItemCompleted(item.ID, processed, finished); err != nil {
		return stats, err
	}
	if err := p.store.MarkChannelReady(channel.ID, len(listing), finished); err != nil {
		return stats, err
	}
	p.progress(item.ID)

	log.Printf("[PIPELINE] Channel '%s' completed: %d total, %d processed, %d existing, %d without captions, %d failed.",
		channel.Title, stats.Total, stats.Processed, stats.Existing, stats.NoTranscript, stats.Failed)
	return stats, nil
}

// notify sends the completion email when the requester left an address.
func (p *ChannelPipeline) notify(item *models.ChannelQueueItem, channelTitle, status string, stats models.ChannelStats, errorMessage string) {
	if p.notifier == nil || item.RequestedBy == nil || !strings.Contains(*item.RequestedBy, "@") {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := p.notifier.SendChannelCompletion(ctx, *item.RequestedBy, channelTitle, status, stats, errorMessage); err != nil {
		log.Printf("!!! [PIPELINE] Completion notification for queue item %d failed: %v", item.ID, err)
	}
}

func (p *ChannelPipeline) progress(qid int64) {
	if p.onProgress == nil {
		return
	}
	item, err := p.store.GetQueueItem(qid)
	if err != nil || item == nil {
		return
	}
	p.onProgress(item)
}

// isNoTranscriptError classifies a per-video failure as missing captions,
// either by the typed fetch error or by the recorded message substrings.
func isNoTranscriptError(err error) bool {
	if transcript.KindOf(err) == transcript.ErrNoTranscript {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "no_transcript") || strings.Contains(msg, "caption")
}
