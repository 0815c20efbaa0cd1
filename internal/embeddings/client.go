// Package embeddings wraps the OpenAI embedding API with batching, pacing and
// a small in-memory memo, so pipelines can vectorize chunk batches without
// tripping provider rate limits.
package embeddings

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	openai "github.com/sashabaranov/go-openai"

	"github.com/mofekayode/videosift-backend/internal/models"
)

const (
	// Dimension of the embedding vectors produced by the model.
	Dimension = 1536

	defaultBatchSize  = 10
	defaultBatchPause = time.Second
	memoEntries       = 1000
	maxAttempts       = 3
)

// api is the slice of the OpenAI client the embedding client uses; narrowed
// for tests.
type api interface {
	CreateEmbeddings(ctx context.Context, req openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
}

// Client vectorizes text through the provider in paced batches.
type Client struct {
	api   api
	memo  *lru.Cache[string, models.Vector]
	batch int
	pause time.Duration
	sleep func(time.Duration)
}

// NewClient creates an embedding client with the given API key. Non-positive
// batchSize or pause fall back to the defaults.
func NewClient(apiKey string, httpClient *http.Client, batchSize int, pause time.Duration) *Client {
	cfg := openai.DefaultConfig(apiKey)
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}
	return newClient(openai.NewClientWithConfig(cfg), batchSize, pause)
}

func newClient(a api, batchSize int, pause time.Duration) *Client {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if pause <= 0 {
		pause = defaultBatchPause
	}
	memo, err := lru.New[string, models.Vector](memoEntries)
	if err != nil {
		panic(err)
	}
	return &Client{api: a, memo: memo, batch: batchSize, pause: pause, sleep: time.Sleep}
}

// Embed vectorizes the inputs, preserving order. Inputs are processed in
// batches of the configured size with a pause between batches; calls inside a
// batch run in parallel. A failed input yields a nil vector at its position;
// callers keep the associated chunk but exclude it from similarity scoring.
func (c *Client) Embed(ctx context.Context, texts []string) []models.Vector {
	out := make([]models.Vector, len(texts))

	for start := 0; start < len(texts); start += c.batch {
		if start > 0 {
			c.sleep(c.pause)
		}
		end := start + c.batch
		if end > len(texts) {
			end = len(texts)
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				vec, err := c.EmbedOne(ctx, texts[i])
				if err != nil {
					log.Printf("!!! [EMBED] Input %d failed, keeping nil vector: %v", i, err)
					return
				}
				out[i] = vec
			}(i)
		}
		wg.Wait()
	}
	return out
}

// EmbedOne vectorizes a single input, consulting the memo first.
func (c *Client) EmbedOne(ctx context.Context, text string) (models.Vector, error) {
	if vec, ok := c.memo.Get(text); ok {
		return vec, nil
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: []string{text},
			Model: openai.SmallEmbedding3,
		})
		if err == nil {
			if len(resp.Data) == 0 {
				return nil, errors.New("embedding response contained no data")
			}
			vec := models.Vector(resp.Data[0].Embedding)
			c.memo.Add(text, vec)
			return vec, nil
		}

		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !isRetryable(err) {
			break
		}
		c.sleep(time.Duration(250*attempt) * time.Millisecond)
	}
	return nil, lastErr
}

// isRetryable reports whether an embedding call hit transient provider
// throttling or a gateway failure.
func isRetryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
	}
	return false
}
