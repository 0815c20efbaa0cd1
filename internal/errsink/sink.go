// Package errsink buffers captured errors and periodically flushes them to
// the store with sensitive context keys redacted.
package errsink

import (
	"context"
	"log"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/mofekayode/videosift-backend/internal/models"
)

// Error kinds, mirroring the service-wide error taxonomy.
const (
	KindInput      = "InputError"
	KindAuth       = "AuthError"
	KindRateLimit  = "RateLimitExceeded"
	KindNotFound   = "NotFound"
	KindTranscript = "UpstreamTranscript"
	KindMetadata   = "UpstreamMetadata"
	KindEmbedding  = "UpstreamEmbedding"
	KindLLM        = "UpstreamLLM"
	KindEmail      = "UpstreamEmail"
	KindStore      = "StoreError"
	KindInternal   = "Internal"
)

// bufferCap bounds the in-memory buffer; overflowing events force a flush.
const bufferCap = 100

// redactedKeys have their values replaced with "[REDACTED]" in context maps
// before persistence.
var redactedKeys = []string{"password", "token", "apikey", "secret", "authorization"}

// Store is the persistence surface the sink needs.
type Store interface {
	InsertErrorEvents(events []models.ErrorEvent) error
	ErrorStatsSince(since time.Time) (map[string]int, error)
}

// Sink is the buffered error collector.
type Sink struct {
	store Store
	now   func() time.Time

	mu     sync.Mutex
	buffer []models.ErrorEvent
}

// New creates an error sink over the given store.
func New(store Store) *Sink {
	return &Sink{store: store, now: time.Now}
}

// Capture buffers one error with its kind and a redacted context map. The
// Internal kind additionally records the current stack.
func (s *Sink) Capture(err error, kind string, context map[string]interface{}) {
	if err == nil {
		return
	}

	event := models.ErrorEvent{
		Message:   err.Error(),
		Type:      kind,
		Context:   Redact(context),
		CreatedAt: s.now(),
	}
	if kind == KindInternal {
		event.Stack = string(debug.Stack())
	}

	s.mu.Lock()
	s.buffer = append(s.buffer, event)
	full := len(s.buffer) >= bufferCap
	s.mu.Unlock()

	log.Printf("!!! [ERRSINK] %s: %v", kind, err)
	if full {
		s.Flush()
	}
}

// Flush writes all buffered events to the store. Events are re-buffered when
// the write fails so they are retried on the next flush.
func (s *Sink) Flush() {
	s.mu.Lock()
	events := s.buffer
	s.buffer = nil
	s.mu.Unlock()

	if len(events) == 0 {
		return
	}
	if err := s.store.InsertErrorEvents(events); err != nil {
		log.Printf("!!! [ERRSINK] Failed to flush %d event(s): %v", len(events), err)
		s.mu.Lock()
		// Drop the oldest overflow rather than growing without bound.
		s.buffer = append(events, s.buffer...)
		if len(s.buffer) > bufferCap {
			s.buffer = s.buffer[len(s.buffer)-bufferCap:]
		}
		s.mu.Unlock()
	}
}

// StartFlusher flushes on the interval until the context is cancelled, then
// performs a final flush.
func (s *Sink) StartFlusher(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Flush()
		case <-ctx.Done():
			s.Flush()
			return
		}
	}
}

// Stats returns per-kind counts of events captured since the given time.
func (s *Sink) Stats(since time.Time) (map[string]int, error) {
	return s.store.ErrorStatsSince(since)
}

// Redact returns a copy of the context with the values of known sensitive keys
// replaced by "[REDACTED]". Matching is case-insensitive on the normalized key.
func Redact(context map[string]interface{}) models.JSONMap {
	if context == nil {
		return models.JSONMap{}
	}
	out := make(models.JSONMap, len(context))
	for k, v := range context {
		if isSensitiveKey(k) {
			out[k] = "[REDACTED]"
			continue
		}
		// Redact nested maps too; errors travel with request-shaped bags.
		if nested, ok := v.(map[string]interface{}); ok {
			out[k] = map[string]interface{}(Redact(nested))
			continue
		}
		out[k] = v
	}
	return out
}

func isSensitiveKey(key string) bool {
	normalized := strings.ToLower(strings.ReplaceAll(key, "_", ""))
	for _, sensitive := range redactedKeys {
		if normalized == sensitive || strings.Contains(normalized, sensitive) {
			return true
		}
	}
	return false
}
