package render

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/signalsfoundry/terrain-visibility/internal/logging"
	"github.com/signalsfoundry/terrain-visibility/model"
)

const (
	hubWriteWait = 5 * time.Second

	// HubClientBuffer is how many layers may queue for one client before it
	// is considered stalled and disconnected.
	HubClientBuffer = 32
)

// Hub broadcasts layers to websocket clients. It is both a Sink and the
// http.Handler clients connect through. Each client has its own queue and
// writer goroutine, so Publish never waits on a network write.
type Hub struct {
	upgrader websocket.Upgrader
	log      logging.Logger

	mu      sync.Mutex
	clients map[*hubClient]struct{}
	closed  bool
	writers sync.WaitGroup
}

type hubClient struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub returns a hub accepting connections from any origin.
func NewHub(log logging.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log:     logging.OrNoop(log),
		clients: make(map[*hubClient]struct{}),
	}
}

// ServeHTTP upgrades the request and keeps the client registered until it
// disconnects. Inbound messages are discarded.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn(r.Context(), "websocket upgrade failed", logging.Err(err))
		return
	}

	c := &hubClient{conn: conn, send: make(chan []byte, HubClientBuffer)}
	n, ok := h.add(c)
	if !ok {
		_ = conn.Close()
		return
	}
	h.writers.Add(1)
	go h.writeLoop(c)
	h.log.Debug(r.Context(), "stream client connected", logging.Int("clients", n))

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.drop(c)
}

func (h *Hub) add(c *hubClient) (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return 0, false
	}
	h.clients[c] = struct{}{}
	return len(h.clients), true
}

// writeLoop is the only writer of c.conn. It exits once c.send is closed or
// a write fails, and closes the connection either way.
func (h *Hub) writeLoop(c *hubClient) {
	defer h.writers.Done()
	defer c.conn.Close()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(hubWriteWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.log.Warn(context.Background(), "dropping stream client", logging.Err(err))
			h.drop(c)
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
		time.Now().Add(time.Second))
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Publish queues the layer for every client. A client whose queue is full is
// disconnected; that is not an error for the publisher.
func (h *Hub) Publish(ctx context.Context, layer model.Layer) error {
	msg, err := json.Marshal(layer)
	if err != nil {
		return fmt.Errorf("marshal layer: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.log.Warn(ctx, "dropping stalled stream client", logging.Int("queued", len(c.send)))
			h.removeLocked(c)
		}
	}
	return nil
}

// Close disconnects every client, rejects new ones, and waits for the
// writers to finish.
func (h *Hub) Close() error {
	h.mu.Lock()
	h.closed = true
	for c := range h.clients {
		h.removeLocked(c)
	}
	h.mu.Unlock()
	h.writers.Wait()
	return nil
}

func (h *Hub) drop(c *hubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

// removeLocked unregisters c and closes its queue exactly once; the writer
// then closes the connection.
func (h *Hub) removeLocked(c *hubClient) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}
