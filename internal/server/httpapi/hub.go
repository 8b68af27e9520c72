package httpapi

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/ddanilov/podvault/internal/logging"
	"github.com/ddanilov/podvault/internal/syncwire"
)

// Hub fans committed changes out to the connected WebSocket subscribers.
// Each subscriber has a buffered send queue; a subscriber that cannot keep
// up is dropped, because it can always recover through a pull.
type Hub struct {
	logger logging.Logger

	mu      sync.Mutex
	clients map[*hubClient]struct{}
	closed  bool
}

type hubClient struct {
	conn *websocket.Conn
	send chan syncwire.Change
}

const clientSendBuffer = 64

func NewHub(logger logging.Logger) *Hub {
	return &Hub{
		logger:  logger.With("module", "hub"),
		clients: make(map[*hubClient]struct{}),
	}
}

// Broadcast queues the change for every subscriber.
func (h *Hub) Broadcast(ch syncwire.Change) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		select {
		case c.send <- ch:
		default:
			h.logger.Warn(context.Background(), "dropping slow subscriber")
			h.dropLocked(c)
		}
	}
}

// Attach registers conn and services it until the peer disconnects or the
// hub shuts down. Blocks for the lifetime of the connection.
func (h *Hub) Attach(conn *websocket.Conn) {
	c := &hubClient{conn: conn, send: make(chan syncwire.Change, clientSendBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	// reader only detects closure; subscribers never send
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.mu.Lock()
				h.dropLocked(c)
				h.mu.Unlock()
				return
			}
		}
	}()

	for ch := range c.send {
		if err := conn.WriteJSON(ch); err != nil {
			h.mu.Lock()
			h.dropLocked(c)
			h.mu.Unlock()
			return
		}
	}
}

// Close disconnects all subscribers.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for c := range h.clients {
		h.dropLocked(c)
	}
}

func (h *Hub) dropLocked(c *hubClient) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	_ = c.conn.Close()
}
