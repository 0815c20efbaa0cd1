package errsink

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mofekayode/videosift-backend/internal/models"
)

type fakeErrorStore struct {
	mu     sync.Mutex
	events []models.ErrorEvent
	err    error
}

func (s *fakeErrorStore) InsertErrorEvents(events []models.ErrorEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, events...)
	return nil
}

func (s *fakeErrorStore) ErrorStatsSince(since time.Time) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]int{}
	for _, e := range s.events {
		if !e.CreatedAt.Before(since) {
			out[e.Type]++
		}
	}
	return out, nil
}

func TestCaptureAndFlush(t *testing.T) {
	store := &fakeErrorStore{}
	s := New(store)

	s.Capture(errors.New("boom"), KindStore, map[string]interface{}{"videoId": "abc"})
	s.Flush()

	require.Len(t, store.events, 1)
	assert.Equal(t, "boom", store.events[0].Message)
	assert.Equal(t, KindStore, store.events[0].Type)
	assert.Equal(t, "abc", store.events[0].Context["videoId"])
}

func TestRedactSensitiveKeys(t *testing.T) {
	out := Redact(map[string]interface{}{
		"password":      "hunter2",
		"apiKey":        "sk-xyz",
		"Authorization": "Bearer abc",
		"userToken":     "t",
		"client_secret": "s",
		"videoId":       "abc123",
		"request": map[string]interface{}{
			"token": "nested",
			"path":  "/api/chat/stream",
		},
	})

	assert.Equal(t, "[REDACTED]", out["password"])
	assert.Equal(t, "[REDACTED]", out["apiKey"])
	assert.Equal(t, "[REDACTED]", out["Authorization"])
	assert.Equal(t, "[REDACTED]", out["userToken"])
	assert.Equal(t, "[REDACTED]", out["client_secret"])
	assert.Equal(t, "abc123", out["videoId"])

	nested := out["request"].(map[string]interface{})
	assert.Equal(t, "[REDACTED]", nested["token"])
	assert.Equal(t, "/api/chat/stream", nested["path"])
}

func TestInternalKindCarriesStack(t *testing.T) {
	store := &fakeErrorStore{}
	s := New(store)

	s.Capture(errors.New("panic-ish"), KindInternal, nil)
	s.Flush()

	require.Len(t, store.events, 1)
	assert.NotEmpty(t, store.events[0].Stack)
}

func TestFailedFlushRebuffers(t *testing.T) {
	store := &fakeErrorStore{err: errors.New("store down")}
	s := New(store)

	s.Capture(errors.New("one"), KindStore, nil)
	s.Flush()
	assert.Empty(t, store.events)

	store.mu.Lock()
	store.err = nil
	store.mu.Unlock()

	s.Flush()
	require.Len(t, store.events, 1)
	assert.Equal(t, "one", store.events[0].Message)
}
