package queue

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Tick tuning. Ticks are idempotent and safe to run on multiple instances;
// the pipelines' lock acquisition prevents double execution.
const (
	channelDispatchBatch = 5
	videoDispatchBatch   = 5
	retryResetBatch      = 5
	completedRetention   = 7 * 24 * time.Hour
)

// TickStatus describes one scheduled job for the monitor surface.
type TickStatus struct {
	Name      string     `json:"name"`
	Schedule  string     `json:"schedule"`
	LastRun   *time.Time `json:"lastRun,omitempty"`
	LastError string     `json:"lastError,omitempty"`
	Runs      int64      `json:"runs"`
}

// Dispatcher owns the background cron ticks that drain the queue.
type Dispatcher struct {
	service *Service
	cron    *cron.Cron

	mu    sync.Mutex
	ticks map[string]*TickStatus
}

// NewDispatcher creates the dispatcher; Start arms the schedule.
func NewDispatcher(service *Service) *Dispatcher {
	return &Dispatcher{
		service: service,
		cron:    cron.New(),
		ticks:   make(map[string]*TickStatus),
	}
}

// Start registers and starts all background ticks.
func (d *Dispatcher) Start() {
	d.register("channel-dispatch", "@every 5s", d.DispatchPendingChannels)
	d.register("video-dispatch", "@every 30s", d.DispatchQueuedVideos)
	d.register("retry-reset", "@every 5m", d.ResetFailedItems)
	d.register("queue-gc", "@every 24h", d.CollectCompletedItems)
	d.register("channel-refresh", "@every 6h", d.RefreshReadyChannels)
	d.cron.Start()
	log.Println("[QUEUE] Dispatcher ticks started.")
}

// Stop halts the schedule and waits for running jobs to finish.
func (d *Dispatcher) Stop() {
	ctx := d.cron.Stop()
	<-ctx.Done()
	log.Println("[QUEUE] Dispatcher ticks stopped.")
}

// Status lists every tick with its last run metadata.
func (d *Dispatcher) Status() []TickStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]TickStatus, 0, len(d.ticks))
	for _, t := range d.ticks {
		out = append(out, *t)
	}
	return out
}

func (d *Dispatcher) register(name, schedule string, job func() error) {
	d.mu.Lock()
	d.ticks[name] = &TickStatus{Name: name, Schedule: schedule}
	d.mu.Unlock()

	_, err := d.cron.AddFunc(schedule, func() {
		err := job()

		d.mu.Lock()
		defer d.mu.Unlock()
		tick := d.ticks[name]
		now := time.Now()
		tick.LastRun = &now
		tick.Runs++
		if err != nil {
			tick.LastError = err.Error()
			log.Printf("!!! [QUEUE] Tick '%s' failed: %v", name, err)
		} else {
			tick.LastError = ""
		}
	})
	if err != nil {
		log.Fatalf("Invalid cron schedule %q for tick '%s': %v", schedule, name, err)
	}
}

// DispatchPendingChannels picks up to five pending queue rows, oldest first,
// and dispatches each in parallel, fire-and-forget.
func (d *Dispatcher) DispatchPendingChannels() error {
	items, err := d.service.store.ListPendingQueueItems(channelDispatchBatch)
	if err != nil {
		return err
	}
	for _, item := range items {
		go d.service.dispatchChannel(item.ID)
	}
	return nil
}

// DispatchQueuedVideos picks up to five queued, unprocessed videos, oldest
// first, and dispatches the video pipeline for each.
func (d *Dispatcher) DispatchQueuedVideos() error {
	videos, err := d.service.store.ListQueuedUnprocessedVideos(videoDispatchBatch)
	if err != nil {
		return err
	}
	for _, v := range videos {
		go d.service.dispatchVideo(v.ExternalID)
	}
	return nil
}

// ResetFailedItems moves up to five failed rows with remaining retries back
// to pending.
func (d *Dispatcher) ResetFailedItems() error {
	ids, err := d.service.store.ResetFailedQueueItems(retryResetBatch, maxRetries)
	if err != nil {
		return err
	}
	if len(ids) > 0 {
		log.Printf("[QUEUE] Reset %d failed queue item(s) to pending: %v", len(ids), ids)
	}
	return nil
}

// CollectCompletedItems garbage-collects completed rows older than a week.
func (d *Dispatcher) CollectCompletedItems() error {
	n, err := d.service.store.DeleteCompletedQueueItemsBefore(time.Now().Add(-completedRetention))
	if err != nil {
		return err
	}
	if n > 0 {
		log.Printf("[QUEUE] Garbage-collected %d completed queue item(s).", n)
	}
	return nil
}

// RefreshReadyChannels checks every ready channel for uploads newer than its
// newest indexed video and queues them for the video dispatch tick.
func (d *Dispatcher) RefreshReadyChannels() error {
	channels, err := d.service.store.ListReadyChannels()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	for _, channel := range channels {
		newest, err := d.service.store.NewestVideoPublishedAt(channel.ID)
		if err != nil {
			log.Printf("!!! [QUEUE] Refresh for channel %d failed: %v", channel.ID, err)
			continue
		}

		listing, err := d.service.metadata.ListVideos(ctx, channel.ExternalID, int64(d.service.videoCap), newest)
		if err != nil {
			log.Printf("!!! [QUEUE] Upload listing for channel '%s' failed: %v", channel.Title, err)
			continue
		}

		queued := 0
		for _, v := range listing {
			existing, err := d.service.store.GetVideoByExternalID(v.ID)
			if err != nil {
				continue
			}
			if existing != nil {
				continue
			}
			video, err := d.service.store.UpsertVideoPlaceholder(v.ID, &channel.ID, v.Title, v.Description, v.DurationSeconds, v.PublishedAt)
			if err != nil {
				log.Printf("!!! [QUEUE] Placeholder for new upload %s failed: %v", v.ID, err)
				continue
			}
			if err := d.service.store.MarkVideoQueued(video.ID, true); err != nil {
				continue
			}
			queued++
		}
		if queued > 0 {
			log.Printf("[QUEUE] Channel '%s' has %d new upload(s); queued for processing.", channel.Title, queued)
		}
	}
	return nil
}
