// Package websocket implements the monitor WebSocket layer: a central hub
// fanning queue progress updates out to connected dashboard clients.
package websocket

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/mofekayode/videosift-backend/internal/models"
)

// Hub manages the lifecycle of all monitor clients: registration,
// unregistration and broadcasting of progress events.
type Hub struct {
	clients map[*Client]bool
	mu      sync.RWMutex

	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	done       chan struct{}
}

// NewHub creates and initializes a new Hub instance.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 64),
		done:       make(chan struct{}),
	}
}

// Register sends a client to the register channel for safe registration.
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Run starts the central event loop for the Hub. This method should be run
// as a goroutine.
func (h *Hub) Run() {
	log.Println("[WebSocket Hub] Hub is running.")
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			log.Printf("[WebSocket Hub] Monitor client connected (%d total).", h.ClientCount())

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.closeConnection()
			}
			h.mu.Unlock()
			log.Printf("[WebSocket Hub] Monitor client disconnected (%d remaining).", h.ClientCount())

		case message := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				client.enqueue(message)
			}
			h.mu.RUnlock()

		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				client.closeConnection()
			}
			h.clients = make(map[*Client]bool)
			h.mu.Unlock()
			log.Println("[WebSocket Hub] Hub stopped.")
			return
		}
	}
}

// Stop shuts the hub down and disconnects every client.
func (h *Hub) Stop() {
	close(h.done)
}

// ClientCount returns the number of connected monitor clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BroadcastQueueUpdate fans a queue item's progress out to every monitor
// client.
func (h *Hub) BroadcastQueueUpdate(item *models.ChannelQueueItem) {
	payload, err := json.Marshal(map[string]interface{}{
		"type": "queue_update",
		"data": item,
	})
	if err != nil {
		log.Printf("!!! [WebSocket Hub] Failed to marshal queue update: %v", err)
		return
	}
	select {
	case h.broadcast <- payload:
	default:
		// Monitor updates are advisory; drop rather than block a pipeline.
	}
}
