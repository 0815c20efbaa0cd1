package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mofekayode/videosift-backend/internal/queue"
)

// QueueHandler serves queue status and position reads plus the enqueue
// aliases under /api/queue.
type QueueHandler struct {
	Queue      *queue.Service
	Dispatcher *queue.Dispatcher
	Production bool
}

// NewQueueHandler creates a QueueHandler.
func NewQueueHandler(q *queue.Service, d *queue.Dispatcher, production bool) *QueueHandler {
	return &QueueHandler{Queue: q, Dispatcher: d, Production: production}
}

// Status returns queue depths per status.
func (h *QueueHandler) Status(w http.ResponseWriter, r *http.Request) {
	depths, err := h.Queue.Depths()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "could not load queue status", !h.Production)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"depths": depths})
}

// Position returns the pending-queue position of one item; null when the
// item is not pending.
func (h *QueueHandler) Position(w http.ResponseWriter, r *http.Request) {
	qid, err := strconv.ParseInt(chi.URLParam(r, "qid"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid queue item id", false)
		return
	}
	pos, err := h.Queue.Position(qid)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "could not compute position", !h.Production)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"queueId": qid, "position": pos})
}

// CronStatus lists the dispatcher's background ticks.
func (h *QueueHandler) CronStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{"ticks": h.Dispatcher.Status()})
}
