package retrieval

import (
	"context"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mofekayode/videosift-backend/internal/models"
)

// --- fakes ---

type fakeRetrievalStore struct {
	videos map[int64]*models.Video
	chunks []models.TranscriptChunk
}

func (s *fakeRetrievalStore) GetVideoByID(id int64) (*models.Video, error) {
	return s.videos[id], nil
}

func (s *fakeRetrievalStore) ListVideosByChannel(channelID int64) ([]models.Video, error) {
	var out []models.Video
	for _, v := range s.videos {
		if v.ChannelID != nil && *v.ChannelID == channelID {
			out = append(out, *v)
		}
	}
	return out, nil
}

func (s *fakeRetrievalStore) GetChunksByVideo(videoID int64) ([]models.TranscriptChunk, error) {
	var out []models.TranscriptChunk
	for _, c := range s.chunks {
		if c.VideoID == videoID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *fakeRetrievalStore) GetChunksByChannel(channelID int64) ([]models.TranscriptChunk, error) {
	var out []models.TranscriptChunk
	for _, c := range s.chunks {
		if v, ok := s.videos[c.VideoID]; ok && v.ChannelID != nil && *v.ChannelID == channelID {
			out = append(out, c)
		}
	}
	return out, nil
}

type fixedEmbedder struct {
	vec models.Vector
	err error
}

func (e fixedEmbedder) EmbedOne(ctx context.Context, text string) (models.Vector, error) {
	return e.vec, e.err
}

type fakeBlobReader struct {
	blobs map[string][]byte
}

func (b fakeBlobReader) DownloadTranscript(ctx context.Context, key string) ([]byte, error) {
	blob, ok := b.blobs[key]
	if !ok {
		return nil, fmt.Errorf("blob %s not found", key)
	}
	return blob, nil
}

func chunk(videoID int64, index int, embedding models.Vector, keywords ...string) models.TranscriptChunk {
	return models.TranscriptChunk{
		ID:         videoID*1000 + int64(index),
		VideoID:    videoID,
		ChunkIndex: index,
		StartTime:  index * 60,
		EndTime:    (index + 1) * 60,
		Keywords:   pq.StringArray(keywords),
		Embedding:  embedding,
	}
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine(models.Vector{1, 0}, models.Vector{2, 0}), 1e-9)
	assert.InDelta(t, 0.0, Cosine(models.Vector{1, 0}, models.Vector{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, Cosine(models.Vector{1, 0}, models.Vector{-1, 0}), 1e-9)
	assert.Equal(t, 0.0, Cosine(nil, models.Vector{1}))
	assert.Equal(t, 0.0, Cosine(models.Vector{1, 2}, models.Vector{1}))
}

func TestHybridBoostArithmetic(t *testing.T) {
	// Chunk A: semantic 0.80, no keyword hit -> 0.80.
	// Chunk B: semantic 0.60, keyword match while in the semantic top-set
	// (+0.3) and 2 preview hits (+0.2) -> 1.10. B must outrank A.
	store := &fakeRetrievalStore{
		videos: map[int64]*models.Video{1: {ID: 1, ExternalID: "vidA", Title: "A"}},
	}
	a := chunk(1, 0, models.Vector{4, 3})
	b := chunk(1, 1, models.Vector{3, 4}, "kubernetes", "scheduler")
	b.TextPreview = "the kubernetes scheduler assigns pods"
	store.chunks = []models.TranscriptChunk{a, b}

	engine := NewEngine(store, fixedEmbedder{vec: models.Vector{1, 0}}, fakeBlobReader{})
	results, err := engine.VideoSearch(context.Background(), 1, "kubernetes scheduler internals", 5)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, int64(1001), results[0].Chunk.ID, "keyword-boosted chunk must rank first")
	assert.InDelta(t, 1.10, results[0].Score, 1e-9)
	assert.InDelta(t, 0.80, results[1].Score, 1e-9)
}

func TestNullVectorChunksMatchByKeywordOnly(t *testing.T) {
	store := &fakeRetrievalStore{
		videos: map[int64]*models.Video{1: {ID: 1, ExternalID: "vidA"}},
	}
	null := chunk(1, 0, nil, "postgres")
	other := chunk(1, 1, models.Vector{0, 1})
	store.chunks = []models.TranscriptChunk{null, other}

	engine := NewEngine(store, fixedEmbedder{vec: models.Vector{1, 0}}, fakeBlobReader{})
	results, err := engine.VideoSearch(context.Background(), 1, "postgres tuning", 5)
	require.NoError(t, err)
	require.Len(t, results, 2)

	// The null-vector chunk scores the keyword base and outranks the
	// orthogonal semantic chunk.
	assert.Equal(t, int64(1000), results[0].Chunk.ID)
	assert.GreaterOrEqual(t, results[0].Score, 0.5)
}

func TestChannelSearchDiversification(t *testing.T) {
	channelID := int64(9)
	store := &fakeRetrievalStore{videos: map[int64]*models.Video{}}
	for v := int64(1); v <= 3; v++ {
		store.videos[v] = &models.Video{ID: v, ChannelID: &channelID, ExternalID: fmt.Sprintf("vid%d", v)}
	}

	// Video 1 top-heavy with 7 strong hits; videos 2 and 3 with 3 each.
	for i := 0; i < 7; i++ {
		store.chunks = append(store.chunks, chunk(1, i, models.Vector{1, 0}))
	}
	for v := int64(2); v <= 3; v++ {
		for i := 0; i < 3; i++ {
			store.chunks = append(store.chunks, chunk(v, i, models.Vector{0.9, 0.1}))
		}
	}

	engine := NewEngine(store, fixedEmbedder{vec: models.Vector{1, 0}}, fakeBlobReader{})
	results, err := engine.ChannelSearch(context.Background(), channelID, "anything", 9)
	require.NoError(t, err)
	require.Len(t, results, 9)

	perVideo := map[int64]int{}
	seen := map[int64]bool{}
	for _, r := range results {
		perVideo[r.Chunk.VideoID]++
		assert.False(t, seen[r.Chunk.ID], "duplicate chunk id %d", r.Chunk.ID)
		seen[r.Chunk.ID] = true
	}
	// ceil(9 / min(3,3)) = 3 per video.
	assert.Equal(t, 3, perVideo[1])
	assert.Equal(t, 3, perVideo[2])
	assert.Equal(t, 3, perVideo[3])
}

func TestScoresAreNonIncreasing(t *testing.T) {
	channelID := int64(9)
	store := &fakeRetrievalStore{videos: map[int64]*models.Video{}}
	for v := int64(1); v <= 4; v++ {
		store.videos[v] = &models.Video{ID: v, ChannelID: &channelID}
		for i := 0; i < 4; i++ {
			store.chunks = append(store.chunks, chunk(v, i, models.Vector{float32(v), float32(i)}))
		}
	}

	engine := NewEngine(store, fixedEmbedder{vec: models.Vector{1, 0.2}}, fakeBlobReader{})
	results, err := engine.ChannelSearch(context.Background(), channelID, "query terms", 6)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.LessOrEqual(t, len(results), 6)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
}

func TestHydrationUsesByteSpan(t *testing.T) {
	blobPath := "vidA/transcript.txt"
	blob := []byte("[00:00] first line.\n[01:00] second line.\n")
	store := &fakeRetrievalStore{
		videos: map[int64]*models.Video{1: {ID: 1, ExternalID: "vidA", TranscriptBlobPath: &blobPath}},
	}
	c := chunk(1, 0, models.Vector{1, 0})
	c.ByteOffset = 0
	c.ByteLength = 20
	store.chunks = []models.TranscriptChunk{c}

	engine := NewEngine(store, fixedEmbedder{vec: models.Vector{1, 0}}, fakeBlobReader{blobs: map[string][]byte{blobPath: blob}})
	results, err := engine.VideoSearch(context.Background(), 1, "first", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "[00:00] first line.\n", results[0].FullText)
}

func TestHydrationFallsBackToTimestamps(t *testing.T) {
	blobPath := "vidA/transcript.txt"
	blob := []byte("[00:00] first line.\n[01:00] second line.\n[02:00] third line.\n")
	store := &fakeRetrievalStore{
		videos: map[int64]*models.Video{1: {ID: 1, ExternalID: "vidA", TranscriptBlobPath: &blobPath}},
	}
	c := chunk(1, 1, models.Vector{1, 0}) // spans [60, 120] but carries no byte span
	c.ByteOffset = 0
	c.ByteLength = 0
	store.chunks = []models.TranscriptChunk{c}

	engine := NewEngine(store, fixedEmbedder{vec: models.Vector{1, 0}}, fakeBlobReader{blobs: map[string][]byte{blobPath: blob}})
	results, err := engine.VideoSearch(context.Background(), 1, "second", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Contains(t, results[0].FullText, "second line")
	assert.NotContains(t, results[0].FullText, "first line")
}

func TestEmbedderFailureDegradesToKeywords(t *testing.T) {
	store := &fakeRetrievalStore{
		videos: map[int64]*models.Video{1: {ID: 1, ExternalID: "vidA"}},
	}
	store.chunks = []models.TranscriptChunk{chunk(1, 0, models.Vector{1, 0}, "golang")}

	engine := NewEngine(store, fixedEmbedder{err: assert.AnError}, fakeBlobReader{})
	results, err := engine.VideoSearch(context.Background(), 1, "golang concurrency", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, 0.5, results[0].Score, 0.2, "keyword-only score expected")
}
