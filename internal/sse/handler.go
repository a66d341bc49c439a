package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	HeartbeatInterval = 30 * time.Second
	ClientBufferSize  = 64
)

type Handler struct {
	hub       *Hub
	heartbeat time.Duration
}

func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub, heartbeat: HeartbeatInterval}
}

func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	client := &Client{
		ID:   ulid.Make().String(),
		Send: make(chan Event, ClientBufferSize),
		Done: make(chan struct{}),
	}

	h.hub.Register(client)
	defer h.hub.Unregister(client)

	h.writeEvent(w, flusher, Event{
		ID:   ulid.Make().String(),
		Type: EventConnected,
		Data: map[string]string{"clientId": client.ID},
	})

	// Replay what a reconnecting client missed.
	if lastEventID := r.Header.Get("Last-Event-ID"); lastEventID != "" {
		for _, event := range h.hub.EventsSince(lastEventID) {
			h.writeEvent(w, flusher, event)
		}
	}

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-client.Done:
			return
		case event, ok := <-client.Send:
			if !ok {
				return
			}
			h.writeEvent(w, flusher, event)
		case <-heartbeat.C:
			h.writeEvent(w, flusher, Event{
				Type: EventHeartbeat,
				Data: map[string]int64{"timestamp": time.Now().UnixMilli()},
			})
		}
	}
}

func (h *Handler) writeEvent(w http.ResponseWriter, flusher http.Flusher, event Event) {
	if event.ID != "" {
		fmt.Fprintf(w, "id: %s\n", event.ID)
	}

	// Marshal the full event (including type) so the client can dispatch by type
	data, err := json.Marshal(event)
	if err == nil {
		fmt.Fprintf(w, "data: %s\n", data)
	}

	fmt.Fprintf(w, "\n")
	flusher.Flush()
}
