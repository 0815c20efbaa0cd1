package handlers

import (
	"log"
	"net/http"
	"time"

	gorillaws "github.com/gorilla/websocket"

	"github.com/mofekayode/videosift-backend/internal/chat"
	"github.com/mofekayode/videosift-backend/internal/database"
	"github.com/mofekayode/videosift-backend/internal/errsink"
	"github.com/mofekayode/videosift-backend/internal/queue"
	"github.com/mofekayode/videosift-backend/internal/websocket"
)

// MonitorHandler serves operational read surfaces: entity counts, error
// statistics and the live progress websocket.
type MonitorHandler struct {
	DB         *database.DB
	Queue      *queue.Service
	Streams    *chat.StreamRegistry
	Hub        *websocket.Hub
	Errors     *errsink.Sink
	Production bool

	upgrader gorillaws.Upgrader
}

// NewMonitorHandler creates a MonitorHandler.
func NewMonitorHandler(db *database.DB, q *queue.Service, streams *chat.StreamRegistry, hub *websocket.Hub, errors *errsink.Sink, production bool) *MonitorHandler {
	return &MonitorHandler{
		DB:         db,
		Queue:      q,
		Streams:    streams,
		Hub:        hub,
		Errors:     errors,
		Production: production,
		upgrader: gorillaws.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The shared-secret middleware has already vetted the caller.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Stats returns entity counts and live gauges.
func (h *MonitorHandler) Stats(w http.ResponseWriter, r *http.Request) {
	videos, err := h.DB.CountVideos()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "could not load stats", !h.Production)
		return
	}
	chunks, err := h.DB.CountChunks()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "could not load stats", !h.Production)
		return
	}
	sessions, err := h.DB.CountSessions()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "could not load stats", !h.Production)
		return
	}
	depths, err := h.Queue.Depths()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "could not load stats", !h.Production)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"videos":         videos,
		"chunks":         chunks,
		"chatSessions":   sessions,
		"queueDepths":    depths,
		"activeStreams":  h.Streams.ActiveCount(),
		"monitorClients": h.Hub.ClientCount(),
	})
}

// ErrorStats returns per-kind error counts for the last day plus the newest
// captured events.
func (h *MonitorHandler) ErrorStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Errors.Stats(time.Now().Add(-24 * time.Hour))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "could not load error stats", !h.Production)
		return
	}
	recent, err := h.DB.RecentErrorEvents(20)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "could not load error stats", !h.Production)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"countsByType": stats,
		"recent":       recent,
	})
}

// Socket upgrades the connection and attaches it to the monitor hub.
func (h *MonitorHandler) Socket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("!!! [HTTP] Monitor websocket upgrade failed: %v", err)
		return
	}
	client := websocket.NewClient(h.Hub, conn)
	h.Hub.Register(client)
	go client.WritePump()
	go client.ReadPump()
}
