package server

import (
	"log/slog"
	"sync"

	"github.com/njh/silentjack/internal/engine"
	"github.com/njh/silentjack/internal/update"
)

// TickMessage carries one evaluated tick to WebSocket clients.
type TickMessage struct {
	Type string `json:"type"`
	engine.TickReport
}

// EventMessage carries one engine event to WebSocket clients.
type EventMessage struct {
	Type  string       `json:"type"`
	Event engine.Event `json:"event"`
}

// UpdateMessage tells WebSocket clients a newer release was found.
type UpdateMessage struct {
	Type    string         `json:"type"`
	Release update.Release `json:"release"`
}

// Hub fans engine output out to connected WebSocket clients. It implements
// engine.Observer and update.Observer and never blocks the control loop: a
// client whose send buffer is full misses the message.
type Hub struct {
	mu      sync.RWMutex
	clients map[chan<- any]struct{}
}

// NewHub returns a hub with no clients.
func NewHub() *Hub {
	return &Hub{clients: make(map[chan<- any]struct{})}
}

// Subscribe adds a client send channel.
func (h *Hub) Subscribe(send chan<- any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[send] = struct{}{}
}

// Unsubscribe removes a client. Once it returns the hub no longer sends on
// the channel, so the caller may close it.
func (h *Hub) Unsubscribe(send chan<- any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, send)
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends msg to every client without blocking.
func (h *Hub) Broadcast(msg any) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for send := range h.clients {
		select {
		case send <- msg:
		default:
			slog.Debug("dropped websocket message: client too slow")
		}
	}
}

// OnTick broadcasts the tick.
func (h *Hub) OnTick(r engine.TickReport) {
	h.Broadcast(TickMessage{Type: "tick", TickReport: r})
}

// OnEvent broadcasts the event.
func (h *Hub) OnEvent(ev engine.Event) {
	h.Broadcast(EventMessage{Type: "event", Event: ev})
}

// OnUpdate broadcasts the release.
func (h *Hub) OnUpdate(r update.Release) {
	h.Broadcast(UpdateMessage{Type: "update", Release: r})
}
