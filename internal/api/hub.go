package api

import (
	"context"
	"log/slog"
	"sync"

	"github.com/victornm/songquiz/internal/game"
	"github.com/victornm/songquiz/internal/telemetry"
)

// Hub holds the open websocket clients and delivers the session effects to them.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*Client),
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()

	telemetry.ClientConnected()
}

func (h *Hub) unregister(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if cur, ok := h.clients[c.id]; !ok || cur != c {
		return false
	}
	delete(h.clients, c.id)
	telemetry.ClientDisconnected()
	return true
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients)
}

// Dispatch implements game.Dispatcher. Each payload is encoded once per effect.
func (h *Hub) Dispatch(ctx context.Context, effects []game.Effect) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, e := range effects {
		b, err := Encode(e.Event)
		if err != nil {
			slog.ErrorContext(ctx, "api: encode effect failed", "event", e.Event.EventName(), "error", err)
			continue
		}
		telemetry.ObserveEffect(e.Event.EventName(), e.Target.Kind.String())

		switch e.Target.Kind {
		case game.TargetAll:
			for _, c := range h.clients {
				h.deliver(ctx, c, b)
			}
		case game.TargetOthers:
			for id, c := range h.clients {
				if id != e.Target.ConnID {
					h.deliver(ctx, c, b)
				}
			}
		case game.TargetHost, game.TargetConn:
			if c, ok := h.clients[e.Target.ConnID]; ok {
				h.deliver(ctx, c, b)
			}
		}
	}
}

func (h *Hub) deliver(ctx context.Context, c *Client, b []byte) {
	if c.enqueue(b) {
		return
	}

	// A client that cannot keep up is cut off; its read pump reports the disconnect.
	slog.WarnContext(ctx, "api: client send buffer full, closing", "conn", c.id)
	telemetry.ObserveDroppedFrame("slow_client")
	c.closeConn()
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, c := range h.clients {
		c.closeConn()
	}
}
