package monitor

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeTimeout = 5 * time.Second

	// sendBuffer is how many counts may wait for a slow subscriber
	sendBuffer = 8
)

// CountMessage is sent to WebSocket subscribers on every report
type CountMessage struct {
	Type           string    `json:"type"`
	ActiveSessions int64     `json:"active_sessions"`
	Timestamp      time.Time `json:"timestamp"`
}

// subscriber is one WebSocket connection with its own writer goroutine
type subscriber struct {
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// enqueue queues data without blocking, replacing the oldest pending count when full
func (s *subscriber) enqueue(data []byte) {
	select {
	case s.send <- data:
		return
	default:
	}

	select {
	case <-s.send:
	default:
	}

	select {
	case s.send <- data:
	default:
	}
}

func (s *subscriber) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

// Hub broadcasts session counts to WebSocket clients
type Hub struct {
	clients  map[*subscriber]bool
	last     []byte
	mu       sync.Mutex
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHub creates an empty hub
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[*subscriber]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logger,
	}
}

// HandleWebSocket upgrades the request and keeps the subscriber until it disconnects.
// A new subscriber immediately receives the most recent count, if any.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	sub := &subscriber{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	h.clients[sub] = true
	if h.last != nil {
		sub.enqueue(h.last)
	}
	h.mu.Unlock()

	go h.writeLoop(sub)

	h.logger.Debug("Session count subscriber connected", slog.String("remote_addr", r.RemoteAddr))

	// Keep connection alive until client disconnects
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.remove(sub)
}

// writeLoop is the only writer on the subscriber's connection
func (h *Hub) writeLoop(sub *subscriber) {
	for {
		select {
		case <-sub.done:
			return
		case data := <-sub.send:
			sub.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := sub.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Debug("Dropping session count subscriber", slog.String("error", err.Error()))
				h.remove(sub)
				return
			}
		}
	}
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	delete(h.clients, sub)
	h.mu.Unlock()
	sub.close()
}

// PublishCount queues the count for every subscriber. It never waits on the network.
func (h *Hub) PublishCount(count int64, at time.Time) {
	data, err := json.Marshal(CountMessage{
		Type:           "active_sessions",
		ActiveSessions: count,
		Timestamp:      at.UTC(),
	})
	if err != nil {
		return
	}

	h.mu.Lock()
	h.last = data
	subs := make([]*subscriber, 0, len(h.clients))
	for sub := range h.clients {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		sub.enqueue(data)
	}
}

// ClientCount returns the number of connected subscribers
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every subscriber
func (h *Hub) Close() {
	h.mu.Lock()
	subs := make([]*subscriber, 0, len(h.clients))
	for sub := range h.clients {
		subs = append(subs, sub)
		delete(h.clients, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}
