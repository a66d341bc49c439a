package sse

import (
	"context"
	"sync"

	"github.com/oklog/ulid/v2"
)

// DefaultReplaySize is how many recent events are kept for reconnects.
const DefaultReplaySize = 100

type Client struct {
	ID   string
	Send chan Event
	Done chan struct{}
}

// Hub fans events out to every connected UI surface.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client

	// recent is a ring of the last events, oldest first once full.
	recent     []Event
	next       int
	replaySize int

	register   chan *Client
	unregister chan *Client
}

func NewHub(replaySize int) *Hub {
	if replaySize <= 0 {
		replaySize = DefaultReplaySize
	}
	return &Hub{
		clients:    make(map[string]*Client),
		replaySize: replaySize,
		register:   make(chan *Client, 256),
		unregister: make(chan *Client, 256),
	}
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) Register(client *Client) {
	h.register <- client
}

func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.ID]; ok {
		delete(h.clients, client.ID)
		close(client.Send)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, client := range h.clients {
		delete(h.clients, id)
		close(client.Send)
	}
}

// Broadcast sends event to every client. Clients with a full buffer miss it.
func (h *Hub) Broadcast(event Event) {
	if event.ID == "" {
		event.ID = ulid.Make().String()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.remember(event)

	for _, client := range h.clients {
		select {
		case client.Send <- event:
		default:
			// Client buffer full, skip
		}
	}
}

// remember stores event for replay. Caller must hold mu.
func (h *Hub) remember(event Event) {
	if len(h.recent) < h.replaySize {
		h.recent = append(h.recent, event)
		return
	}
	h.recent[h.next] = event
	h.next = (h.next + 1) % h.replaySize
}

// EventsSince returns the remembered events newer than lastEventID, oldest
// first. Event IDs are ULIDs, so they sort by creation time.
func (h *Hub) EventsSince(lastEventID string) []Event {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var events []Event
	n := len(h.recent)
	for i := range n {
		e := h.recent[(h.next+i)%n]
		if e.ID > lastEventID {
			events = append(events, e)
		}
	}
	return events
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
