package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// ErrHubClosed returned for operations on a closed hub
var ErrHubClosed = errors.New("hub is closed")

// Envelope wire format of every message sent to viewers
type Envelope struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// HubStats snapshot of hub counters
type HubStats struct {
	Clients   int    `json:"clients"`
	Published uint64 `json:"published"`
	Sent      uint64 `json:"sent"`
	Dropped   uint64 `json:"dropped"`
}

type viewer struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Hub fans live events out to connected websocket viewers. A viewer whose
// queue is full misses the event; nothing is buffered beyond the queue.
type Hub struct {
	upgrader websocket.Upgrader
	buffer   int
	logger   *zap.Logger

	mu      sync.RWMutex
	viewers map[string]*viewer
	closed  bool

	published atomic.Uint64
	sent      atomic.Uint64
	dropped   atomic.Uint64
}

// NewHub creates a hub. allowedOrigins lists browser origins permitted to
// connect; "*" allows any. buffer is the per-viewer queue length.
func NewHub(allowedOrigins []string, buffer int, logger *zap.Logger) *Hub {
	if buffer <= 0 {
		buffer = 1
	}
	h := &Hub{
		buffer:  buffer,
		logger:  logger,
		viewers: make(map[string]*viewer),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		return false
	}
}

// ServeHTTP upgrades the request and serves the viewer until it disconnects
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.String("origin", r.Header.Get("Origin")),
			zap.Error(err),
		)
		return
	}

	v := &viewer{
		id:   uuid.New().String(),
		conn: conn,
		send: make(chan []byte, h.buffer),
	}
	if err := h.register(v); err != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}

	h.logger.Info("Viewer connected", zap.String("viewer_id", v.id), zap.String("remote_addr", r.RemoteAddr))

	go h.writePump(v)
	h.readPump(v)

	h.unregister(v)
	h.logger.Info("Viewer disconnected", zap.String("viewer_id", v.id))
}

func (h *Hub) register(v *viewer) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHubClosed
	}
	h.viewers[v.id] = v
	return nil
}

func (h *Hub) unregister(v *viewer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.viewers[v.id]; ok {
		delete(h.viewers, v.id)
		close(v.send)
	}
}

// readPump drains inbound frames so pings and close frames are processed
func (h *Hub) readPump(v *viewer) {
	v.conn.SetReadLimit(maxMessageSize)
	v.conn.SetReadDeadline(time.Now().Add(pongWait))
	v.conn.SetPongHandler(func(string) error {
		return v.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := v.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(v *viewer) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		v.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-v.send:
			v.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				v.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := v.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			v.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := v.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Publish queues the event for every connected viewer without blocking
func (h *Hub) Publish(_ context.Context, event string, payload interface{}) error {
	msg, err := json.Marshal(Envelope{Event: event, Data: payload})
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", event, err)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return ErrHubClosed
	}
	h.published.Add(1)

	for _, v := range h.viewers {
		select {
		case v.send <- msg:
			h.sent.Add(1)
		default:
			h.dropped.Add(1)
		}
	}
	return nil
}

// ClientCount number of connected viewers
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.viewers)
}

// Stats returns a snapshot of hub counters
func (h *Hub) Stats() HubStats {
	return HubStats{
		Clients:   h.ClientCount(),
		Published: h.published.Load(),
		Sent:      h.sent.Load(),
		Dropped:   h.dropped.Load(),
	}
}

// Close disconnects every viewer and rejects new ones
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	for id, v := range h.viewers {
		delete(h.viewers, id)
		close(v.send)
	}
	return nil
}
