package handlers

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mofekayode/videosift-backend/internal/models"
)

func TestSSESinkFrameGrammar(t *testing.T) {
	rec := httptest.NewRecorder()
	sink := newSSESink(rec, rec)

	done := false
	require.NoError(t, sink.WriteFrame(models.StreamFrame{Type: "content", Content: "hello", Done: &done}))

	final := true
	require.NoError(t, sink.WriteFrame(models.StreamFrame{Type: "done", Citations: []models.Citation{}, Done: &final}))

	body := rec.Body.String()
	frames := strings.Split(strings.TrimSuffix(body, "\n\n"), "\n\n")
	require.Len(t, frames, 2)

	assert.Equal(t, `data: {"type":"content","content":"hello","done":false}`, frames[0])
	assert.Equal(t, `data: {"type":"done","citations":[],"done":true}`, frames[1])
}

func TestSSESinkRejectsWritesAfterClose(t *testing.T) {
	rec := httptest.NewRecorder()
	sink := newSSESink(rec, rec)
	sink.Close()

	err := sink.WriteFrame(models.StreamFrame{Type: "content", Content: "late"})
	require.Error(t, err)
	assert.Empty(t, rec.Body.String())
}

func TestErrorFrameShape(t *testing.T) {
	rec := httptest.NewRecorder()
	sink := newSSESink(rec, rec)

	require.NoError(t, sink.WriteFrame(models.StreamFrame{Type: "error", Error: "boom"}))
	assert.Equal(t, "data: {\"type\":\"error\",\"error\":\"boom\"}\n\n", rec.Body.String())
}
