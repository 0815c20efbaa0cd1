package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mofekayode/videosift-backend/internal/models"
	"github.com/mofekayode/videosift-backend/internal/youtube"
)

// --- fakes ---

type fakeQueueStore struct {
	mu       sync.Mutex
	channels map[string]*models.Channel
	items    map[int64]*models.ChannelQueueItem
	videos   map[string]*models.Video
	nextID   int64
}

func newFakeQueueStore() *fakeQueueStore {
	return &fakeQueueStore{
		channels: make(map[string]*models.Channel),
		items:    make(map[int64]*models.ChannelQueueItem),
		videos:   make(map[string]*models.Video),
		nextID:   1,
	}
}

func (s *fakeQueueStore) GetOrCreateChannel(externalID, title string) (*models.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.channels[externalID]; ok {
		copied := *c
		return &copied, nil
	}
	c := &models.Channel{ID: s.nextID, ExternalID: externalID, Title: title, Status: models.ChannelStatusPending}
	s.nextID++
	s.channels[externalID] = c
	copied := *c
	return &copied, nil
}

func (s *fakeQueueStore) GetActiveQueueItemForChannel(channelID int64) (*models.ChannelQueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range s.items {
		if item.ChannelID == channelID &&
			(item.Status == models.QueueStatusPending || item.Status == models.QueueStatusProcessing) {
			copied := *item
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *fakeQueueStore) GetLatestQueueItemForChannel(channelID int64) (*models.ChannelQueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *models.ChannelQueueItem
	for _, item := range s.items {
		if item.ChannelID != channelID {
			continue
		}
		if latest == nil || item.CreatedAt.After(latest.CreatedAt) {
			latest = item
		}
	}
	if latest == nil {
		return nil, nil
	}
	copied := *latest
	return &copied, nil
}

func (s *fakeQueueStore) CreateQueueItem(channelID int64, requestedBy *string, priority string) (*models.ChannelQueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item := &models.ChannelQueueItem{
		ID:        s.nextID,
		ChannelID: channelID,
		Status:    models.QueueStatusPending,
		Priority:  priority,
		CreatedAt: time.Now().Add(time.Duration(s.nextID) * time.Millisecond),
	}
	s.nextID++
	s.items[item.ID] = item
	copied := *item
	return &copied, nil
}

func (s *fakeQueueStore) QueuePosition(id int64) (*int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok || item.Status != models.QueueStatusPending {
		return nil, nil
	}
	pos := 1
	for _, other := range s.items {
		if other.Status == models.QueueStatusPending && other.CreatedAt.Before(item.CreatedAt) {
			pos++
		}
	}
	return &pos, nil
}

func (s *fakeQueueStore) ListPendingQueueItems(limit int) ([]models.ChannelQueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ChannelQueueItem
	for _, item := range s.items {
		if item.Status == models.QueueStatusPending {
			out = append(out, *item)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeQueueStore) ResetFailedQueueItems(limit, maxRetries int) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int64
	for _, item := range s.items {
		if len(ids) >= limit {
			break
		}
		if item.Status == models.QueueStatusFailed && item.RetryCount < maxRetries {
			item.Status = models.QueueStatusPending
			item.RetryCount++
			item.ErrorMessage = nil
			ids = append(ids, item.ID)
		}
	}
	return ids, nil
}

func (s *fakeQueueStore) DeleteCompletedQueueItemsBefore(cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, item := range s.items {
		if item.Status == models.QueueStatusCompleted && item.CompletedAt != nil && item.CompletedAt.Before(cutoff) {
			delete(s.items, id)
			n++
		}
	}
	return n, nil
}

func (s *fakeQueueStore) QueueDepths() (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]int{}
	for _, item := range s.items {
		out[item.Status]++
	}
	return out, nil
}

func (s *fakeQueueStore) GetVideoByExternalID(externalID string) (*models.Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.videos[externalID]; ok {
		copied := *v
		return &copied, nil
	}
	return nil, nil
}

func (s *fakeQueueStore) UpsertVideoPlaceholder(externalID string, channelID *int64, title, description string, durationSeconds int, publishedAt time.Time) (*models.Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.videos[externalID]; ok {
		copied := *v
		return &copied, nil
	}
	v := &models.Video{ID: s.nextID, ExternalID: externalID, ChannelID: channelID, Title: title}
	s.nextID++
	s.videos[externalID] = v
	copied := *v
	return &copied, nil
}

func (s *fakeQueueStore) MarkVideoQueued(id int64, queued bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.videos {
		if v.ID == id {
			v.ProcessingQueued = queued
		}
	}
	return nil
}

func (s *fakeQueueStore) ListQueuedUnprocessedVideos(limit int) ([]models.Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Video
	for _, v := range s.videos {
		if v.ProcessingQueued && !v.TranscriptCached {
			out = append(out, *v)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeQueueStore) ListReadyChannels() ([]models.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Channel
	for _, c := range s.channels {
		if c.Status == models.ChannelStatusReady {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (s *fakeQueueStore) NewestVideoPublishedAt(channelID int64) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var newest *time.Time
	for _, v := range s.videos {
		if v.ChannelID != nil && *v.ChannelID == channelID {
			ts := v.PublishedAt
			if newest == nil || ts.After(*newest) {
				newest = &ts
			}
		}
	}
	return newest, nil
}

type countingChannelProcessor struct {
	mu   sync.Mutex
	qids []int64
}

func (p *countingChannelProcessor) ProcessQueueItem(ctx context.Context, qid int64) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.qids = append(p.qids, qid)
	return true, nil
}

func (p *countingChannelProcessor) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.qids)
}

type countingVideoProcessor struct {
	mu  sync.Mutex
	ids []string
}

func (p *countingVideoProcessor) Process(ctx context.Context, externalID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ids = append(p.ids, externalID)
	return true, nil
}

func (p *countingVideoProcessor) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ids)
}

type staticMetadata struct {
	videos []youtube.VideoInfo
}

func (m *staticMetadata) ResolveChannel(ctx context.Context, ref string) (*youtube.ChannelInfo, error) {
	return &youtube.ChannelInfo{ID: "UC" + ref, Title: "Channel " + ref}, nil
}

func (m *staticMetadata) ListVideos(ctx context.Context, channelID string, max int64, publishedAfter *time.Time) ([]youtube.VideoInfo, error) {
	return m.videos, nil
}

func newService(store *fakeQueueStore) (*Service, *countingChannelProcessor, *countingVideoProcessor, *staticMetadata) {
	channels := &countingChannelProcessor{}
	videos := &countingVideoProcessor{}
	metadata := &staticMetadata{}
	return NewService(store, channels, videos, metadata, 20), channels, videos, metadata
}

// --- tests ---

func TestEnqueueChannelIsIdempotent(t *testing.T) {
	store := newFakeQueueStore()
	s, _, _, _ := newService(store)

	first, err := s.EnqueueChannel(context.Background(), "handle", nil, models.PriorityNormal)
	require.NoError(t, err)
	assert.True(t, first.Success)
	require.NotNil(t, first.Item)

	second, err := s.EnqueueChannel(context.Background(), "handle", nil, models.PriorityNormal)
	require.NoError(t, err)
	assert.False(t, second.Success, "second enqueue with no completion must be rejected")
	assert.Equal(t, first.Item.ID, second.Item.ID)

	depths, _ := s.Depths()
	assert.Equal(t, 1, depths[models.QueueStatusPending], "exactly one pending row")
}

func TestEnqueueHighPriorityDispatchesImmediately(t *testing.T) {
	store := newFakeQueueStore()
	s, channels, _, _ := newService(store)

	res, err := s.EnqueueChannel(context.Background(), "handle", nil, models.PriorityHigh)
	require.NoError(t, err)
	assert.True(t, res.Success)

	assert.Eventually(t, func() bool { return channels.count() == 1 },
		time.Second, 10*time.Millisecond, "high priority must trigger immediate dispatch")
}

func TestEnqueueVideoAlreadyProcessed(t *testing.T) {
	store := newFakeQueueStore()
	store.videos["done1"] = &models.Video{ID: 50, ExternalID: "done1", TranscriptCached: true, ChunksProcessed: true}
	s, _, _, _ := newService(store)

	res, err := s.EnqueueVideo(context.Background(), "done1", nil, models.PriorityNormal)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "already processed")
}

func TestEnqueueVideoCreatesQueuedPlaceholder(t *testing.T) {
	store := newFakeQueueStore()
	s, _, _, _ := newService(store)

	res, err := s.EnqueueVideo(context.Background(), "fresh1", nil, models.PriorityNormal)
	require.NoError(t, err)
	assert.True(t, res.Success)

	v := store.videos["fresh1"]
	require.NotNil(t, v)
	assert.True(t, v.ProcessingQueued)
}

func TestQueuePosition(t *testing.T) {
	store := newFakeQueueStore()
	s, _, _, _ := newService(store)

	a, _ := s.EnqueueChannel(context.Background(), "one", nil, models.PriorityNormal)
	b, _ := s.EnqueueChannel(context.Background(), "two", nil, models.PriorityNormal)

	posA, err := s.Position(a.Item.ID)
	require.NoError(t, err)
	require.NotNil(t, posA)
	assert.Equal(t, 1, *posA)

	posB, err := s.Position(b.Item.ID)
	require.NoError(t, err)
	require.NotNil(t, posB)
	assert.Equal(t, 2, *posB)

	// Position is null once the row leaves pending.
	store.mu.Lock()
	store.items[a.Item.ID].Status = models.QueueStatusProcessing
	store.mu.Unlock()
	posA, err = s.Position(a.Item.ID)
	require.NoError(t, err)
	assert.Nil(t, posA)
}

func TestDispatcherDispatchesPendingChannels(t *testing.T) {
	store := newFakeQueueStore()
	s, channels, _, _ := newService(store)
	d := NewDispatcher(s)

	for _, ref := range []string{"a", "b", "c"} {
		_, err := s.EnqueueChannel(context.Background(), ref, nil, models.PriorityNormal)
		require.NoError(t, err)
	}

	require.NoError(t, d.DispatchPendingChannels())
	assert.Eventually(t, func() bool { return channels.count() == 3 },
		time.Second, 10*time.Millisecond)
}

func TestDispatcherDispatchesQueuedVideos(t *testing.T) {
	store := newFakeQueueStore()
	s, _, videos, _ := newService(store)
	d := NewDispatcher(s)

	_, err := s.EnqueueVideo(context.Background(), "v1", nil, models.PriorityNormal)
	require.NoError(t, err)
	_, err = s.EnqueueVideo(context.Background(), "v2", nil, models.PriorityNormal)
	require.NoError(t, err)

	require.NoError(t, d.DispatchQueuedVideos())
	assert.Eventually(t, func() bool { return videos.count() == 2 },
		time.Second, 10*time.Millisecond)
}

func TestDispatcherResetsFailedItemsBelowRetryCap(t *testing.T) {
	store := newFakeQueueStore()
	s, _, _, _ := newService(store)
	d := NewDispatcher(s)

	res, _ := s.EnqueueChannel(context.Background(), "flaky", nil, models.PriorityNormal)
	store.mu.Lock()
	item := store.items[res.Item.ID]
	item.Status = models.QueueStatusFailed
	msg := "boom"
	item.ErrorMessage = &msg
	item.RetryCount = 2
	store.mu.Unlock()

	require.NoError(t, d.ResetFailedItems())

	store.mu.Lock()
	assert.Equal(t, models.QueueStatusPending, item.Status)
	assert.Equal(t, 3, item.RetryCount)
	assert.Nil(t, item.ErrorMessage)
	store.mu.Unlock()

	// A second failure past the retry cap stays failed.
	store.mu.Lock()
	item.Status = models.QueueStatusFailed
	store.mu.Unlock()
	require.NoError(t, d.ResetFailedItems())
	store.mu.Lock()
	assert.Equal(t, models.QueueStatusFailed, item.Status)
	store.mu.Unlock()
}

func TestDispatcherRefreshQueuesNewUploads(t *testing.T) {
	store := newFakeQueueStore()
	s, _, _, metadata := newService(store)
	d := NewDispatcher(s)

	// A ready channel with one indexed video.
	channel, _ := store.GetOrCreateChannel("UCxx", "Ready Channel")
	store.mu.Lock()
	store.channels["UCxx"].Status = models.ChannelStatusReady
	store.mu.Unlock()
	chID := channel.ID
	store.videos["oldvid"] = &models.Video{ID: 900, ExternalID: "oldvid", ChannelID: &chID, PublishedAt: time.Now().Add(-48 * time.Hour)}

	metadata.videos = []youtube.VideoInfo{{ID: "newvid", Title: "Fresh Upload", PublishedAt: time.Now()}}

	require.NoError(t, d.RefreshReadyChannels())

	v := store.videos["newvid"]
	require.NotNil(t, v, "new upload must get a placeholder")
	assert.True(t, v.ProcessingQueued)
}
