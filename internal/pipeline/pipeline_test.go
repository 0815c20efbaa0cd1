package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mofekayode/videosift-backend/internal/locks"
	"github.com/mofekayode/videosift-backend/internal/models"
	"github.com/mofekayode/videosift-backend/internal/transcript"
	"github.com/mofekayode/videosift-backend/internal/youtube"
)

// --- fakes ---

type fakeStore struct {
	mu       sync.Mutex
	videos   map[string]*models.Video
	chunks   map[int64][]models.TranscriptChunk
	channels map[int64]*models.Channel
	queue    map[int64]*models.ChannelQueueItem
	nextID   int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		videos:   make(map[string]*models.Video),
		chunks:   make(map[int64][]models.TranscriptChunk),
		channels: make(map[int64]*models.Channel),
		queue:    make(map[int64]*models.ChannelQueueItem),
		nextID:   1,
	}
}

func (s *fakeStore) GetVideoByExternalID(externalID string) (*models.Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.videos[externalID]; ok {
		copied := *v
		return &copied, nil
	}
	return nil, nil
}

func (s *fakeStore) ReplaceVideoChunks(videoID int64, chunks []models.TranscriptChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks[videoID] = chunks
	return nil
}

func (s *fakeStore) MarkVideoProcessed(id int64, blobPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.videos {
		if v.ID == id {
			v.TranscriptCached = true
			v.ChunksProcessed = true
			v.ProcessingError = nil
			v.TranscriptBlobPath = &blobPath
		}
	}
	return nil
}

func (s *fakeStore) MarkVideoFailed(id int64, processingError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.videos {
		if v.ID == id {
			v.TranscriptCached = false
			v.ProcessingError = &processingError
		}
	}
	return nil
}

func (s *fakeStore) UpsertVideoPlaceholder(externalID string, channelID *int64, title, description string, durationSeconds int, publishedAt time.Time) (*models.Video, error) {
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

func (s *fakeStore) GetQueueItem(id int64) (*models.ChannelQueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if q, ok := s.queue[id]; ok {
		copied := *q
		return &copied, nil
	}
	return nil, nil
}

func (s *fakeStore) MarkQueueItemProcessing(id int64, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue[id].Status = models.QueueStatusProcessing
	s.queue[id].StartedAt = &startedAt
	return nil
}

func (s *fakeStore) UpdateQueueItemTotals(id int64, totalVideos int, estimatedCompletion time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue[id].TotalVideos = totalVideos
	s.queue[id].EstimatedCompletionAt = &estimatedCompletion
	return nil
}

func (s *fakeStore) UpdateQueueItemProgress(id int64, index int, title string, videosProcessed int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue[id].CurrentVideoIndex = index
	s.queue[id].CurrentVideoTitle = &title
	s.queue[id].VideosProcessed = videosProcessed
	return nil
}

func (s *fakeStore) MarkQueueItemCompleted(id int64, videosProcessed int, completedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue[id].Status = models.QueueStatusCompleted
	s.queue[id].VideosProcessed = videosProcessed
	s.queue[id].CompletedAt = &completedAt
	return nil
}

func (s *fakeStore) MarkQueueItemFailed(id int64, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue[id].Status = models.QueueStatusFailed
	s.queue[id].ErrorMessage = &errorMessage
	return nil
}

func (s *fakeStore) GetChannelByID(id int64) (*models.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.channels[id]; ok {
		copied := *c
		return &copied, nil
	}
	return nil, nil
}

func (s *fakeStore) UpdateChannelStatus(id int64, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels[id].Status = status
	return nil
}

func (s *fakeStore) MarkChannelReady(id int64, videoCount int, indexedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels[id].Status = models.ChannelStatusReady
	s.channels[id].VideoCount = videoCount
	s.channels[id].LastIndexedAt = &indexedAt
	return nil
}

type fakeFetcher struct {
	segments map[string][]transcript.Segment
	errs     map[string]error
}

func (f *fakeFetcher) Fetch(ctx context.Context, videoID string) ([]transcript.Segment, error) {
	if err, ok := f.errs[videoID]; ok {
		return nil, err
	}
	return f.segments[videoID], nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, texts []string) []models.Vector {
	out := make([]models.Vector, len(texts))
	for i := range texts {
		out[i] = models.Vector{1, 0}
	}
	return out
}

type fakeBlobs struct {
	mu    sync.Mutex
	blobs map[string][]byte
	err   error
}

func (b *fakeBlobs) UploadTranscript(ctx context.Context, key string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	if b.blobs == nil {
		b.blobs = make(map[string][]byte)
	}
	b.blobs[key] = data
	return nil
}

type fakeLocks struct {
	mu   sync.Mutex
	held map[string]bool
	deny bool
}

func (l *fakeLocks) Acquire(resourceID string, ttl time.Duration) *locks.Lease {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.deny {
		return nil
	}
	if l.held == nil {
		l.held = make(map[string]bool)
	}
	if l.held[resourceID] {
		return nil
	}
	l.held[resourceID] = true
	return &locks.Lease{ResourceID: resourceID, LockID: "test", ExpiresAt: time.Now().Add(ttl)}
}

func (l *fakeLocks) Release(lease *locks.Lease) {
	if lease == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, lease.ResourceID)
}

type fakeMetadata struct {
	channel youtube.ChannelInfo
	videos  []youtube.VideoInfo
	listErr error
}

func (m *fakeMetadata) ResolveChannel(ctx context.Context, ref string) (*youtube.ChannelInfo, error) {
	info := m.channel
	return &info, nil
}

func (m *fakeMetadata) ListVideos(ctx context.Context, channelID string, max int64, publishedAfter *time.Time) ([]youtube.VideoInfo, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	if int64(len(m.videos)) > max {
		return m.videos[:max], nil
	}
	return m.videos, nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	sent   []models.ChannelStats
	status []string
}

func (n *fakeNotifier) SendChannelCompletion(ctx context.Context, to, channelTitle, status string, stats models.ChannelStats, errorMessage string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, stats)
	n.status = append(n.status, status)
	return nil
}

// punctuated produces n segments of punctuated prose.
func punctuated(n int) []transcript.Segment {
	body := strings.TrimSpace(strings.Repeat("some spoken words here ", 12)) + "."
	segs := make([]transcript.Segment, n)
	for i := range segs {
		segs[i] = transcript.Segment{StartSeconds: i * 15, EndSeconds: (i + 1) * 15, Text: body}
	}
	return segs
}

func newVideoPipeline(store *fakeStore, fetcher *fakeFetcher, blobs *fakeBlobs, lockMgr *fakeLocks) *VideoPipeline {
	return NewVideoPipeline(store, fetcher, fakeEmbedder{}, blobs, lockMgr, 600*time.Second)
}

// --- video pipeline ---

func TestVideoPipelineHappyPath(t *testing.T) {
	store := newFakeStore()
	store.videos["abc123"] = &models.Video{ID: 1, ExternalID: "abc123"}
	fetcher := &fakeFetcher{segments: map[string][]transcript.Segment{"abc123": punctuated(12)}}
	blobs := &fakeBlobs{}
	p := newVideoPipeline(store, fetcher, blobs, &fakeLocks{})

	ok, err := p.Process(context.Background(), "abc123")
	require.NoError(t, err)
	assert.True(t, ok)

	video, _ := store.GetVideoByExternalID("abc123")
	assert.True(t, video.TranscriptCached)
	assert.True(t, video.ChunksProcessed)
	require.NotNil(t, video.TranscriptBlobPath)
	assert.Equal(t, "abc123/transcript.txt", *video.TranscriptBlobPath)

	blob, ok := blobs.blobs["abc123/transcript.txt"]
	require.True(t, ok, "blob must exist at <id>/transcript.txt")

	chunks := store.chunks[1]
	require.NotEmpty(t, chunks)
	offset := 0
	for i, c := range chunks {
		assert.Equal(t, i, c.ChunkIndex, "chunk indices must be dense from 0")
		assert.Equal(t, offset, c.ByteOffset)
		offset += c.ByteLength
	}
	assert.Equal(t, len(blob), offset, "chunk byte spans must cover the blob exactly")
}

func TestVideoPipelineNoTranscript(t *testing.T) {
	store := newFakeStore()
	store.videos["silent"] = &models.Video{ID: 2, ExternalID: "silent"}
	fetcher := &fakeFetcher{errs: map[string]error{
		"silent": &transcript.FetchError{Kind: transcript.ErrNoTranscript, VideoID: "silent", Err: errors.New("captions disabled")},
	}}
	p := newVideoPipeline(store, fetcher, &fakeBlobs{}, &fakeLocks{})

	ok, err := p.Process(context.Background(), "silent")
	assert.False(t, ok)
	require.Error(t, err)

	video, _ := store.GetVideoByExternalID("silent")
	require.NotNil(t, video.ProcessingError)
	msg := strings.ToLower(*video.ProcessingError)
	assert.True(t, strings.Contains(msg, "transcript") || strings.Contains(msg, "caption"),
		"processing error %q must mention the missing captions", msg)
	assert.Empty(t, store.chunks[2], "no chunks may exist after a failed run")
	assert.False(t, video.TranscriptCached)
}

func TestVideoPipelineSkipsWhenLocked(t *testing.T) {
	store := newFakeStore()
	store.videos["abc123"] = &models.Video{ID: 1, ExternalID: "abc123"}
	lockMgr := &fakeLocks{deny: true}
	p := newVideoPipeline(store, &fakeFetcher{}, &fakeBlobs{}, lockMgr)

	ok, err := p.Process(context.Background(), "abc123")
	assert.False(t, ok)
	assert.NoError(t, err, "lock contention is not an error")
}

func TestVideoPipelineBlobFailureRecordsError(t *testing.T) {
	store := newFakeStore()
	store.videos["abc123"] = &models.Video{ID: 1, ExternalID: "abc123"}
	fetcher := &fakeFetcher{segments: map[string][]transcript.Segment{"abc123": punctuated(3)}}
	blobs := &fakeBlobs{err: errors.New("container unavailable")}
	p := newVideoPipeline(store, fetcher, blobs, &fakeLocks{})

	ok, err := p.Process(context.Background(), "abc123")
	assert.False(t, ok)
	require.Error(t, err)

	video, _ := store.GetVideoByExternalID("abc123")
	assert.False(t, video.TranscriptCached)
	require.NotNil(t, video.ProcessingError)
}

// --- channel pipeline ---

func TestChannelPipelineAggregatesStats(t *testing.T) {
	store := newFakeStore()
	store.channels[10] = &models.Channel{ID: 10, ExternalID: "UCxx", Title: "Test Channel", Status: models.ChannelStatusPending}
	qid := int64(77)
	requester := "user@example.com"
	store.queue[qid] = &models.ChannelQueueItem{ID: qid, ChannelID: 10, RequestedBy: &requester, Status: models.QueueStatusPending}

	// Two already-cached videos.
	store.videos["old1"] = &models.Video{ID: 100, ExternalID: "old1", TranscriptCached: true, ChunksProcessed: true}
	store.videos["old2"] = &models.Video{ID: 101, ExternalID: "old2", TranscriptCached: true, ChunksProcessed: true}

	fetcher := &fakeFetcher{
		segments: map[string][]transcript.Segment{
			"new1": punctuated(4),
			"new2": punctuated(4),
		},
		errs: map[string]error{
			"mute1": &transcript.FetchError{Kind: transcript.ErrNoTranscript, VideoID: "mute1"},
		},
	}
	lockMgr := &fakeLocks{}
	videoP := newVideoPipeline(store, fetcher, &fakeBlobs{}, lockMgr)

	metadata := &fakeMetadata{
		channel: youtube.ChannelInfo{ID: "UCxx", Title: "Test Channel"},
		videos: []youtube.VideoInfo{
			{ID: "new1", Title: "New One"},
			{ID: "old1", Title: "Old One"},
			{ID: "mute1", Title: "No Captions"},
			{ID: "old2", Title: "Old Two"},
			{ID: "new2", Title: "New Two"},
		},
	}
	notifier := &fakeNotifier{}

	p := NewChannelPipeline(store, metadata, videoP, notifier, lockMgr, time.Hour, 20, 2*time.Second)
	p.sleep = func(time.Duration) {}

	ok, err := p.ProcessQueueItem(context.Background(), qid)
	require.NoError(t, err)
	assert.True(t, ok)

	require.Len(t, notifier.sent, 1)
	stats := notifier.sent[0]
	assert.Equal(t, 5, stats.Total)
	assert.Equal(t, 4, stats.Processed, "processed counts cached + newly processed")
	assert.Equal(t, 2, stats.Existing)
	assert.Equal(t, 1, stats.NoTranscript)
	assert.Equal(t, 0, stats.Failed)
	assert.Equal(t, models.QueueStatusCompleted, notifier.status[0])

	item, _ := store.GetQueueItem(qid)
	assert.Equal(t, models.QueueStatusCompleted, item.Status)
	assert.Equal(t, 5, item.TotalVideos)
	assert.NotNil(t, item.EstimatedCompletionAt)

	channel, _ := store.GetChannelByID(10)
	assert.Equal(t, models.ChannelStatusReady, channel.Status)
	assert.Equal(t, 5, channel.VideoCount)
}

func TestChannelPipelineFailureMarksQueueAndChannel(t *testing.T) {
	store := newFakeStore()
	store.channels[10] = &models.Channel{ID: 10, ExternalID: "UCxx", Title: "Broken", Status: models.ChannelStatusPending}
	qid := int64(5)
	requester := "user@example.com"
	store.queue[qid] = &models.ChannelQueueItem{ID: qid, ChannelID: 10, RequestedBy: &requester, Status: models.QueueStatusPending}

	metadata := &fakeMetadata{channel: youtube.ChannelInfo{ID: "UCxx"}, listErr: errors.New("quota exceeded")}
	notifier := &fakeNotifier{}
	lockMgr := &fakeLocks{}

	p := NewChannelPipeline(store, metadata, nil, notifier, lockMgr, time.Hour, 20, 0)
	p.sleep = func(time.Duration) {}

	ok, err := p.ProcessQueueItem(context.Background(), qid)
	assert.False(t, ok)
	require.Error(t, err)

	item, _ := store.GetQueueItem(qid)
	assert.Equal(t, models.QueueStatusFailed, item.Status)
	require.NotNil(t, item.ErrorMessage)
	assert.Contains(t, *item.ErrorMessage, "quota exceeded")

	channel, _ := store.GetChannelByID(10)
	assert.Equal(t, models.ChannelStatusFailed, channel.Status)

	require.Len(t, notifier.status, 1)
	assert.Equal(t, models.QueueStatusFailed, notifier.status[0])
}

func TestChannelPipelineMissingQueueItemRejected(t *testing.T) {
	p := NewChannelPipeline(newFakeStore(), &fakeMetadata{}, nil, nil, &fakeLocks{}, time.Hour, 20, 0)
	_, err := p.ProcessQueueItem(context.Background(), 999)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")
}
