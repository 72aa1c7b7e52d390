// Package ws pushes area snapshots to WebSocket subscribers.
package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/couchcryptid/quake-relay/internal/domain"
	"github.com/couchcryptid/quake-relay/internal/observability"
)

const (
	writeTimeout = 5 * time.Second
	readLimit    = 512
)

// SnapshotSource provides the current area snapshot for new subscribers.
type SnapshotSource interface {
	Snapshot() map[int]domain.AreaStatus
}

// Hub tracks connected subscribers and fans snapshots out to them. Delivery
// is fire-and-forget: a subscriber still busy with the previous message is
// skipped.
type Hub struct {
	upgrader websocket.Upgrader
	source   SnapshotSource
	logger   *slog.Logger
	metrics  *observability.Metrics

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

// NewHub creates a Hub that greets new subscribers with source's snapshot.
func NewHub(source SnapshotSource, logger *slog.Logger, metrics *observability.Metrics) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Subscribers are unauthenticated; any origin may connect.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		source:  source,
		logger:  logger,
		metrics: metrics,
		clients: make(map[*client]struct{}),
	}
}

// ServeHTTP upgrades the request and serves the subscriber until it
// disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, 1),
		done: make(chan struct{}),
	}
	if !h.register(c) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}
	h.logger.Info("subscriber connected", "remote", r.RemoteAddr, "subscribers", h.Len())

	go h.writeLoop(c)
	h.readLoop(c)
	h.logger.Info("subscriber disconnected", "remote", r.RemoteAddr, "subscribers", h.Len())
}

// Broadcast sends snapshot to every connected subscriber that is ready to
// receive it.
func (h *Hub) Broadcast(snapshot map[int]domain.AreaStatus) {
	msg, err := encode(snapshot)
	if err != nil {
		h.logger.Error("encode snapshot failed", "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if c.enqueue(msg) {
			h.metrics.MessagesSent.Inc()
		} else {
			h.metrics.MessagesSkipped.Inc()
		}
	}
}

// Len returns the number of connected subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every subscriber and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	clear(h.clients)
	h.mu.Unlock()
	h.metrics.Subscribers.Set(0)

	deadline := time.Now().Add(time.Second)
	for _, c := range targets {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), deadline)
		c.close()
	}
}

// register adds c and queues its initial snapshot under the same lock, so a
// concurrent broadcast cannot deliver an older snapshot after it.
func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}

	msg, err := encode(h.source.Snapshot())
	if err != nil {
		h.logger.Error("encode snapshot failed", "error", err)
	} else if c.enqueue(msg) {
		h.metrics.MessagesSent.Inc()
	}

	h.clients[c] = struct{}{}
	h.metrics.Subscribers.Set(float64(len(h.clients)))
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		h.metrics.Subscribers.Set(float64(len(h.clients)))
	}
	h.mu.Unlock()
	c.close()
}

func (h *Hub) writeLoop(c *client) {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.logger.Debug("subscriber write failed", "error", err)
				h.unregister(c)
				return
			}
		}
	}
}

// readLoop discards inbound frames; it exists to process control frames and
// notice disconnects.
func (h *Hub) readLoop(c *client) {
	c.conn.SetReadLimit(readLimit)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
	h.unregister(c)
}

func (c *client) enqueue(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func encode(snapshot map[int]domain.AreaStatus) ([]byte, error) {
	return json.Marshal(domain.NewStatusMessage(snapshot))
}
