package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/mofekayode/videosift-backend/internal/errsink"
	"github.com/mofekayode/videosift-backend/internal/middleware"
	"github.com/mofekayode/videosift-backend/internal/models"
	"github.com/mofekayode/videosift-backend/internal/queue"
)

// ChannelHandler serves channel ingestion requests and status reads.
type ChannelHandler struct {
	Queue      *queue.Service
	Validate   *validator.Validate
	Errors     *errsink.Sink
	Production bool
}

// NewChannelHandler creates a ChannelHandler.
func NewChannelHandler(q *queue.Service, validate *validator.Validate, errors *errsink.Sink, production bool) *ChannelHandler {
	return &ChannelHandler{Queue: q, Validate: validate, Errors: errors, Production: production}
}

// Process enqueues a channel for ingestion.
func (h *ChannelHandler) Process(w http.ResponseWriter, r *http.Request) {
	var req models.ProcessChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", false)
		return
	}
	if err := h.Validate.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, "validation error: "+err.Error(), false)
		return
	}

	user := middleware.UserFrom(r.Context())
	requestedBy := requesterOf(user)

	result, err := h.Queue.EnqueueChannel(r.Context(), req.ChannelID, requestedBy, req.Priority)
	if err != nil {
		h.Errors.Capture(err, errsink.KindMetadata, map[string]interface{}{"channelId": req.ChannelID})
		respondError(w, http.StatusBadGateway, "could not enqueue channel", !h.Production)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// Status returns the current queue row for a channel.
func (h *ChannelHandler) Status(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "id")
	if channelID == "" {
		respondError(w, http.StatusBadRequest, "missing channel id", false)
		return
	}

	item, err := h.Queue.ChannelStatus(r.Context(), channelID)
	if err != nil {
		h.Errors.Capture(err, errsink.KindStore, map[string]interface{}{"channelId": channelID})
		respondError(w, http.StatusInternalServerError, "could not load channel status", !h.Production)
		return
	}
	if item == nil {
		respondError(w, http.StatusNotFound, "channel has never been queued", false)
		return
	}
	respondJSON(w, http.StatusOK, item)
}

// requesterOf prefers the caller's email so completion notifications have an
// address to go to; anonymous requests leave it empty.
func requesterOf(user middleware.RequestUser) *string {
	switch {
	case user.Email != "":
		return &user.Email
	case user.ID != "":
		return &user.ID
	default:
		return nil
	}
}
