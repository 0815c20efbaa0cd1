// Package retrieval implements hybrid search over transcript chunk corpora:
// dense-vector cosine similarity merged with symbolic keyword matching, plus
// cross-video diversification for channel-wide queries.
package retrieval

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"

	"github.com/mofekayode/videosift-backend/internal/models"
	"github.com/mofekayode/videosift-backend/internal/transcript"
)

// Score boosts for keyword-matched chunks.
const (
	topSetKeywordBoost = 0.3 // keyword match on a chunk already in the semantic top-set
	keywordBaseScore   = 0.5 // keyword match on a chunk outside the top-set
	previewHitBoost    = 0.1 // per query-keyword hit inside the chunk's preview (video search)
)

// Store is the persistence surface the engine needs.
type Store interface {
	GetVideoByID(id int64) (*models.Video, error)
	ListVideosByChannel(channelID int64) ([]models.Video, error)
	GetChunksByVideo(videoID int64) ([]models.TranscriptChunk, error)
	GetChunksByChannel(channelID int64) ([]models.TranscriptChunk, error)
}

// Embedder vectorizes the query.
type Embedder interface {
	EmbedOne(ctx context.Context, text string) (models.Vector, error)
}

// BlobReader hydrates chunk text from transcript blobs.
type BlobReader interface {
	DownloadTranscript(ctx context.Context, key string) ([]byte, error)
}

// Engine ranks chunks for video- and channel-scoped queries.
type Engine struct {
	store    Store
	embedder Embedder
	blobs    BlobReader
}

// NewEngine wires a retrieval engine.
func NewEngine(store Store, embedder Embedder, blobs BlobReader) *Engine {
	return &Engine{store: store, embedder: embedder, blobs: blobs}
}

// VideoSearch ranks the video's chunks against the query and returns the top
// k, hydrated with their transcript text.
func (e *Engine) VideoSearch(ctx context.Context, videoID int64, query string, k int) ([]models.SearchResult, error) {
	video, err := e.store.GetVideoByID(videoID)
	if err != nil {
		return nil, err
	}
	if video == nil {
		return nil, fmt.Errorf("video %d not found", videoID)
	}

	chunks, err := e.store.GetChunksByVideo(videoID)
	if err != nil {
		return nil, err
	}

	videosByID := map[int64]*models.Video{video.ID: video}
	ranked := e.rank(ctx, chunks, query, k, true)
	if len(ranked) > k {
		ranked = ranked[:k]
	}
	return e.hydrate(ctx, ranked, videosByID), nil
}

// ChannelSearch ranks chunks across the channel's videos, applies per-video
// diversification, and returns the top k hydrated results.
func (e *Engine) ChannelSearch(ctx context.Context, channelID int64, query string, k int) ([]models.SearchResult, error) {
	videos, err := e.store.ListVideosByChannel(channelID)
	if err != nil {
		return nil, err
	}
	videosByID := make(map[int64]*models.Video, len(videos))
	for i := range videos {
		videosByID[videos[i].ID] = &videos[i]
	}

	chunks, err := e.store.GetChunksByChannel(channelID)
	if err != nil {
		return nil, err
	}

	ranked := e.rank(ctx, chunks, query, k, false)
	ranked = diversify(ranked, k)
	if len(ranked) > k {
		ranked = ranked[:k]
	}
	return e.hydrate(ctx, ranked, videosByID), nil
}

type scoredChunk struct {
	chunk models.TranscriptChunk
	score float64
}

// rank computes hybrid scores for every chunk and returns them ordered by
// score descending, ties broken by earlier chunk index then lower video id.
func (e *Engine) rank(ctx context.Context, chunks []models.TranscriptChunk, query string, k int, previewBoost bool) []scoredChunk {
	if len(chunks) == 0 {
		return nil
	}

	queryVec, err := e.embedder.EmbedOne(ctx, query)
	if err != nil {
		// Degrade to keyword-only matching rather than failing the search.
		log.Printf("!!! [RETRIEVAL] Query embedding failed, falling back to keywords: %v", err)
		queryVec = nil
	}

	// Semantic pass. Null-vector chunks score 0 but stay eligible for
	// keyword-only matches.
	semantic := make([]float64, len(chunks))
	for i, c := range chunks {
		if queryVec != nil && c.Embedding != nil {
			semantic[i] = Cosine(queryVec, c.Embedding)
		}
	}

	topSet := semanticTopSet(semantic, k)
	queryKeywords := transcript.ExtractQueryKeywords(query, 10)

	scored := make([]scoredChunk, len(chunks))
	for i, c := range chunks {
		score := semantic[i]
		if matchesKeywords(queryKeywords, c.Keywords) {
			if topSet[i] {
				score = semantic[i] + topSetKeywordBoost
			} else {
				score = keywordBaseScore
			}
			if previewBoost {
				score += previewHitBoost * float64(previewHits(queryKeywords, c.TextPreview))
			}
		}
		scored[i] = scoredChunk{chunk: c, score: score}
	}

	sort.SliceStable(scored, func(a, b int) bool {
		if scored[a].score != scored[b].score {
			return scored[a].score > scored[b].score
		}
		if scored[a].chunk.ChunkIndex != scored[b].chunk.ChunkIndex {
			return scored[a].chunk.ChunkIndex < scored[b].chunk.ChunkIndex
		}
		return scored[a].chunk.VideoID < scored[b].chunk.VideoID
	})
	return scored
}

// semanticTopSet marks the indices of the k best positive semantic scores.
func semanticTopSet(semantic []float64, k int) map[int]bool {
	type idxScore struct {
		idx   int
		score float64
	}
	var positives []idxScore
	for i, s := range semantic {
		if s > 0 {
			positives = append(positives, idxScore{i, s})
		}
	}
	sort.Slice(positives, func(a, b int) bool { return positives[a].score > positives[b].score })
	if len(positives) > k {
		positives = positives[:k]
	}
	out := make(map[int]bool, len(positives))
	for _, p := range positives {
		out[p.idx] = true
	}
	return out
}

// matchesKeywords reports whether any query keyword substring-matches any
// chunk keyword, in either direction, case-insensitively.
func matchesKeywords(queryKeywords []string, chunkKeywords []string) bool {
	for _, q := range queryKeywords {
		for _, c := range chunkKeywords {
			lc := strings.ToLower(c)
			if strings.Contains(lc, q) || strings.Contains(q, lc) {
				return true
			}
		}
	}
	return false
}

// previewHits counts how many query keywords appear in the chunk's preview.
func previewHits(queryKeywords []string, preview string) int {
	lowered := strings.ToLower(preview)
	hits := 0
	for _, q := range queryKeywords {
		if strings.Contains(lowered, q) {
			hits++
		}
	}
	return hits
}

// diversify caps the chunks taken per video at ceil(k / min(distinctVideos, 3))
// so one top-heavy video cannot crowd out the rest of the channel.
func diversify(ranked []scoredChunk, k int) []scoredChunk {
	distinct := make(map[int64]struct{})
	for _, s := range ranked {
		distinct[s.chunk.VideoID] = struct{}{}
	}
	if len(distinct) == 0 {
		return ranked
	}

	groups := len(distinct)
	if groups > 3 {
		groups = 3
	}
	perVideo := int(math.Ceil(float64(k) / float64(groups)))

	taken := make(map[int64]int)
	var out []scoredChunk
	for _, s := range ranked {
		if taken[s.chunk.VideoID] >= perVideo {
			continue
		}
		taken[s.chunk.VideoID]++
		out = append(out, s)
	}
	return out
}

// hydrate materializes each chunk's full transcript text from its blob. Blob
// failures degrade to the stored preview.
func (e *Engine) hydrate(ctx context.Context, ranked []scoredChunk, videosByID map[int64]*models.Video) []models.SearchResult {
	blobCache := make(map[string][]byte)

	out := make([]models.SearchResult, 0, len(ranked))
	for _, s := range ranked {
		result := models.SearchResult{
			Chunk:    s.chunk,
			Score:    s.score,
			FullText: s.chunk.TextPreview,
		}
		if video, ok := videosByID[s.chunk.VideoID]; ok {
			result.VideoExtID = video.ExternalID
			result.VideoTitle = video.Title
			if video.TranscriptBlobPath != nil {
				if text := e.chunkText(ctx, *video.TranscriptBlobPath, s.chunk, blobCache); text != "" {
					result.FullText = text
				}
			}
		}
		out = append(out, result)
	}
	return out
}

// chunkText slices a chunk's text out of its transcript blob, preferring the
// recorded byte span and falling back to timestamp-based line selection.
func (e *Engine) chunkText(ctx context.Context, blobPath string, chunk models.TranscriptChunk, blobCache map[string][]byte) string {
	blob, ok := blobCache[blobPath]
	if !ok {
		var err error
		blob, err = e.blobs.DownloadTranscript(ctx, blobPath)
		if err != nil {
			log.Printf("!!! [RETRIEVAL] Failed to read blob '%s': %v", blobPath, err)
			blobCache[blobPath] = nil
			return ""
		}
		blobCache[blobPath] = blob
	}
	if blob == nil {
		return ""
	}

	if chunk.ByteOffset >= 0 && chunk.ByteOffset+chunk.ByteLength <= len(blob) && chunk.ByteLength > 0 {
		return string(blob[chunk.ByteOffset : chunk.ByteOffset+chunk.ByteLength])
	}
	return linesInRange(string(blob), chunk.StartTime, chunk.EndTime)
}

// linesInRange collects blob lines whose leading [MM:SS] timestamp falls
// inside [start, end].
func linesInRange(blob string, start, end int) string {
	var b strings.Builder
	for _, line := range strings.Split(blob, "\n") {
		seconds, ok := parseLineTimestamp(line)
		if !ok || seconds < start || seconds > end {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}

// parseLineTimestamp extracts the seconds value of a line's leading [MM:SS]
// timestamp.
func parseLineTimestamp(line string) (int, bool) {
	if !strings.HasPrefix(line, "[") {
		return 0, false
	}
	end := strings.IndexByte(line, ']')
	if end < 0 {
		return 0, false
	}
	parts := strings.Split(line[1:end], ":")
	if len(parts) != 2 {
		return 0, false
	}
	var mins, secs int
	if _, err := fmt.Sscanf(parts[0], "%d", &mins); err != nil {
		return 0, false
	}
	if _, err := fmt.Sscanf(parts[1], "%d", &secs); err != nil {
		return 0, false
	}
	return mins*60 + secs, true
}

// Cosine computes cosine similarity between two vectors. Mismatched or empty
// vectors score 0.
func Cosine(a, b models.Vector) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
