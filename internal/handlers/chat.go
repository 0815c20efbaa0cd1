package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/mofekayode/videosift-backend/internal/chat"
	"github.com/mofekayode/videosift-backend/internal/database"
	"github.com/mofekayode/videosift-backend/internal/middleware"
	"github.com/mofekayode/videosift-backend/internal/models"
)

// ChatHandler serves the SSE chat endpoints.
type ChatHandler struct {
	DB           *database.DB
	Orchestrator *chat.Orchestrator
	Validate     *validator.Validate
	Production   bool
}

// NewChatHandler creates a ChatHandler.
func NewChatHandler(db *database.DB, orchestrator *chat.Orchestrator, validate *validator.Validate, production bool) *ChatHandler {
	return &ChatHandler{DB: db, Orchestrator: orchestrator, Validate: validate, Production: production}
}

// StreamVideo handles POST /api/chat/stream.
func (h *ChatHandler) StreamVideo(w http.ResponseWriter, r *http.Request) {
	h.stream(w, r, false)
}

// StreamChannel handles POST /api/chat/channel/stream.
func (h *ChatHandler) StreamChannel(w http.ResponseWriter, r *http.Request) {
	h.stream(w, r, true)
}

func (h *ChatHandler) stream(w http.ResponseWriter, r *http.Request, channelScoped bool) {
	var req models.ChatStreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", false)
		return
	}
	if err := h.Validate.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, "validation error: "+err.Error(), false)
		return
	}
	if channelScoped && req.ChannelID == "" {
		respondError(w, http.StatusBadRequest, "missing channelId", false)
		return
	}
	if !channelScoped && req.VideoID == "" {
		respondError(w, http.StatusBadRequest, "missing videoId", false)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported", false)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	streamID := uuid.NewString()
	registry := h.Orchestrator.Registry()
	registry.Register(streamID)

	// Observe client disconnect in the transport layer: clearing the
	// active-stream flag makes the orchestrator stop at its next delta.
	go func() {
		<-r.Context().Done()
		registry.Cancel(streamID)
	}()

	sink := newSSESink(w, flusher)

	user := middleware.UserFrom(r.Context())
	var userID *string
	if user.ID != "" {
		userID = &user.ID
	}

	if channelScoped {
		h.Orchestrator.StreamChannelChat(r.Context(), req, userID, streamID, sink)
	} else {
		h.Orchestrator.StreamVideoChat(r.Context(), req, userID, streamID, sink)
	}
}

// SessionMessages handles GET /api/chat/sessions/{uuid}/messages.
func (h *ChatHandler) SessionMessages(w http.ResponseWriter, r *http.Request) {
	sessionUUID := chi.URLParam(r, "uuid")
	session, err := h.DB.GetSessionByUUID(sessionUUID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "could not load session", !h.Production)
		return
	}
	if session == nil {
		respondError(w, http.StatusNotFound, "session not found", false)
		return
	}
	messages, err := h.DB.GetSessionMessages(session.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "could not load messages", !h.Production)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"session":  session,
		"messages": messages,
	})
}

// sseSink adapts the orchestrator's Sink capability onto an SSE response.
// Each frame is exactly `data: <json>\n\n`.
type sseSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex
	closed  bool
}

func newSSESink(w http.ResponseWriter, flusher http.Flusher) *sseSink {
	return &sseSink{w: w, flusher: flusher}
}

// WriteFrame encodes and flushes one frame.
func (s *sseSink) WriteFrame(frame models.StreamFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("sink is closed")
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// Close marks the sink finished; the HTTP layer ends the response when the
// handler returns.
func (s *sseSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}
