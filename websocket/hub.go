package websocket

import (
	"context"
	"log/slog"
	"sync"

	"copycat/types"
)

// Hub fans progress events out to every connected stream client
type Hub interface {
	Run(ctx context.Context)
	BroadcastProgress(event types.ProgressEvent)
	RegisterClient(client *Client)
	UnregisterClient(client *Client)
	ClientCount() int
}

// hub maintains the set of active clients and broadcasts events to them
type hub struct {
	clients map[*Client]struct{}

	// Broadcast channel for events of any job
	broadcast chan types.ProgressEvent

	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	// Guards clients for ClientCount
	mu sync.RWMutex
}

// NewHub creates a new WebSocket hub
func NewHub() Hub {
	return &hub{
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan types.ProgressEvent, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main event loop. It returns when ctx is done, after
// closing every client's send channel.
func (h *hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			slog.Debug("progress client connected", "remote", client.remote, "clients", n)

		case client := <-h.unregister:
			h.mu.Lock()
			h.drop(client)
			n := len(h.clients)
			h.mu.Unlock()
			slog.Debug("progress client disconnected", "remote", client.remote, "clients", n)

		case event := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- event:
				default:
					slog.Warn("progress client too slow, dropping it", "remote", client.remote)
					h.drop(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// drop removes client and closes its send channel. Callers hold mu.
func (h *hub) drop(client *Client) {
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
}

// BroadcastProgress queues an event for every client. Intermediate events
// are dropped when the broadcast channel is full; terminal events wait for
// room until the hub stops.
func (h *hub) BroadcastProgress(event types.ProgressEvent) {
	if event.Status.Terminal() {
		select {
		case h.broadcast <- event:
		case <-h.done:
		}
		return
	}

	select {
	case h.broadcast <- event:
	default:
		slog.Warn("progress broadcast channel full, dropping event", "job_id", event.JobID, "status", event.Status)
	}
}

// RegisterClient registers a new client with the hub. A client registered
// after the hub stopped has its send channel closed right away.
func (h *hub) RegisterClient(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		close(client.send)
	}
}

// UnregisterClient unregisters a client from the hub
func (h *hub) UnregisterClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
