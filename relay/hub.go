package relay

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hazyhaar/chatwatch/capture"
	"github.com/hazyhaar/chatwatch/idgen"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 45 * time.Second
	sendBuffer = 8
)

// Hub pushes snapshot envelopes to connected mobile clients. Each client
// has a bounded send queue; a client that cannot keep up loses frames
// rather than stalling the broadcaster.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger
	newID    idgen.Generator

	mu      sync.Mutex
	clients map[*client]bool
	closed  bool
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

type envelope struct {
	Type     string            `json:"type"`
	Snapshot *capture.Snapshot `json:"snapshot,omitempty"`
}

// NewHub creates a Hub. Origins in allowed are accepted on upgrade; an
// empty list accepts only same-host and non-browser clients.
func NewHub(allowed []string, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		logger:  logger,
		newID:   idgen.Prefixed("ws_", idgen.NanoID(8)),
		clients: make(map[*client]bool),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true // same-origin or non-browser client
			}
			for _, a := range allowed {
				if a == "*" || a == origin {
					return true
				}
			}
			return false
		},
	}
	return h
}

// Handle upgrades the request and serves the client until it disconnects.
func (h *Hub) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("relay: upgrade failed", "error", err)
		return
	}

	c := &client{id: h.newID(), conn: conn, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = true
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("relay: client connected", "client", c.id, "clients", n)

	go h.writePump(c)
	h.readPump(c)
}

// BroadcastSnapshot fans a snapshot out to every connected client. It is
// the capture sink: delivery is non-blocking per client.
func (h *Hub) BroadcastSnapshot(snap capture.Snapshot) error {
	data, err := json.Marshal(envelope{Type: "snapshot", Snapshot: &snap})
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Warn("relay: client lagging, frame dropped", "client", c.id)
		}
	}
	return nil
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client. New upgrades are refused afterwards.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
	return nil
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	if h.clients[c] {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	c.conn.Close()
}

// readPump exists to observe disconnects and keep pong deadlines fresh;
// inbound payloads on the push channel are ignored.
func (h *Hub) readPump(c *client) {
	defer h.drop(c)
	c.conn.SetReadLimit(1 << 20)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.logger.Debug("relay: client gone", "client", c.id, "error", err)
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
