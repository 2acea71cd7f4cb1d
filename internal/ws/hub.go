package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/formsense/formsense/internal/report"
)

const (
	// writeTimeout is the deadline for a single write to a client.
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong response before treating the
	// connection as dead.
	pongWait = 60 * time.Second

	// pingPeriod controls how often the server sends WebSocket ping frames.
	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// queueSize is the depth of the publish queue shared by all clients.
	queueSize = 256

	// defaultSendBuf is the per-client outgoing message buffer depth.
	defaultSendBuf = 64
)

// Event names carried in Message.Event.
const (
	EventHello  = "hello"
	EventReport = "report"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Allow all origins; callers should apply CORS at the reverse-proxy level.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Message is the JSON envelope sent to clients.
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Hello is the payload of the first message on every connection.
type Hello struct {
	Session     string    `json:"session,omitempty"`
	ConnectedAt time.Time `json:"connected_at"`
}

// Hub manages WebSocket client connections and fans out published reports.
type Hub struct {
	queue   chan *report.Report
	sendBuf int

	mu      sync.RWMutex
	clients map[*client]struct{}

	dropped atomic.Uint64
}

// client represents one connected WebSocket client.
type client struct {
	conn    *websocket.Conn
	send    chan []byte
	session string
}

// New creates a Hub whose clients buffer up to sendBuf outgoing messages.
// A client that falls further behind is disconnected.
func New(sendBuf int) *Hub {
	if sendBuf <= 0 {
		sendBuf = defaultSendBuf
	}
	return &Hub{
		queue:   make(chan *report.Report, queueSize),
		sendBuf: sendBuf,
		clients: make(map[*client]struct{}),
	}
}

// Publish queues r for broadcast. It never blocks.
func (h *Hub) Publish(r *report.Report) {
	if r == nil {
		return
	}
	select {
	case h.queue <- r:
	default:
		h.dropped.Add(1)
	}
}

// Dropped returns how many reports were not streamed because the publish
// queue was full.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

// Run broadcasts queued reports to connected clients. It blocks until ctx is
// cancelled, then closes all active connections.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case r := <-h.queue:
			h.broadcast(r)
		}
	}
}

// ServeHTTP upgrades the HTTP connection to WebSocket and serves the client.
// Blocks until the connection closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	c := &client{
		conn:    conn,
		send:    make(chan []byte, h.sendBuf),
		session: r.URL.Query().Get("session"),
	}
	h.register(c)
	defer h.unregister(c)

	if data, err := json.Marshal(Message{
		Event: EventHello,
		Data:  Hello{Session: c.session, ConnectedAt: time.Now().UTC()},
	}); err == nil {
		select {
		case c.send <- data:
		default:
		}
	}

	go c.writePump()
	c.readPump() // blocks until connection closes
}

// Count returns the number of currently connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// --- internal ---------------------------------------------------------------

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

func (h *Hub) broadcast(r *report.Report) {
	data, err := json.Marshal(Message{Event: EventReport, Data: r})
	if err != nil {
		slog.Error("ws: encode report", "session", r.Meta.Session, "err", err)
		return
	}

	// Sends happen under the read lock so unregister cannot close a channel
	// mid-send.
	var slow []*client
	h.mu.RLock()
	for c := range h.clients {
		if c.session != "" && c.session != r.Meta.Session {
			continue
		}
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		// Client outgoing buffer is full, disconnect it.
		slog.Warn("ws: client too slow, disconnecting", "session", c.session)
		h.unregister(c)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

// writePump drains the client's send channel and forwards messages to the
// WebSocket connection. It also sends periodic ping frames. Runs in its own
// goroutine per client.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				// Channel was closed (hub is shutting down or client removed).
				c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads frames from the connection to process control messages (pong,
// close) and detect disconnects. Blocks until the connection closes.
func (c *client) readPump() {
	defer c.conn.Close()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}
