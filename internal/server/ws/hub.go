// Package ws pushes position lifecycle events to dashboard clients over
// WebSocket.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Subscriber is the pub/sub half of domain.SignalBus.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// Config is reported to each client in its hello frame.
type Config struct {
	Mode      string
	StartedAt time.Time
}

// Message is the frame written to clients.
type Message struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans bus messages out to connected clients. Without a bus it only
// relays what Publish is given.
type Hub struct {
	bus      Subscriber
	channels []string
	cfg      Config

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool

	logger *slog.Logger
}

// NewHub creates a hub relaying channels from bus, which may be nil.
func NewHub(bus Subscriber, channels []string, cfg Config, logger *slog.Logger) *Hub {
	if cfg.StartedAt.IsZero() {
		cfg.StartedAt = time.Now().UTC()
	}
	if cfg.Mode == "" {
		cfg.Mode = "unknown"
	}
	return &Hub{
		bus:      bus,
		channels: channels,
		cfg:      cfg,
		clients:  make(map[*client]struct{}),
		logger:   logger.With(slog.String("component", "ws_hub")),
	}
}

// Run relays bus channels until ctx is cancelled, then disconnects every
// client.
func (h *Hub) Run(ctx context.Context) error {
	if h.bus != nil {
		for _, ch := range h.channels {
			msgs, err := h.bus.Subscribe(ctx, ch)
			if err != nil {
				h.logger.Error("ws subscribe failed", slog.String("channel", ch), slog.String("error", err.Error()))
				continue
			}
			go h.relay(ctx, ch, msgs)
		}
	}
	<-ctx.Done()

	h.mu.Lock()
	h.closed = true
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
	h.mu.Unlock()
	return ctx.Err()
}

func (h *Hub) relay(ctx context.Context, channel string, msgs <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgs:
			if !ok {
				h.logger.Warn("ws channel subscription closed", slog.String("channel", channel))
				return
			}
			h.broadcast(channel, data)
		}
	}
}

// Publish broadcasts payload as if it had arrived on channel. It lets the
// hub stand in for the bus when Redis is not configured.
func (h *Hub) Publish(_ context.Context, channel string, payload []byte) error {
	h.broadcast(channel, payload)
	return nil
}

func (h *Hub) broadcast(channel string, payload []byte) {
	frame, err := encode(Message{Type: "event", Channel: channel, Data: payload})
	if err != nil {
		h.logger.Warn("ws encode failed", slog.String("channel", channel), slog.String("error", err.Error()))
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- frame:
		default:
			h.logger.Warn("ws dropping message for slow client")
		}
	}
}

// encode wraps non-JSON payloads as a JSON string.
func encode(m Message) ([]byte, error) {
	if !json.Valid(m.Data) {
		quoted, err := json.Marshal(string(m.Data))
		if err != nil {
			return nil, err
		}
		m.Data = quoted
	}
	return json.Marshal(m)
}

// ClientCount reports connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// HandleWS upgrades the request and streams events to the client.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", slog.String("error", err.Error()))
		return
	}
	c := &client{conn: conn, send: make(chan []byte, sendBufferSize)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	// Queued under the lock: Run closes send while holding it.
	if hello, err := h.hello(); err == nil {
		c.send <- hello
	}
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("ws client connected", slog.Int("clients", n))

	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) hello() ([]byte, error) {
	status, err := json.Marshal(map[string]any{
		"mode":           strings.ToLower(h.cfg.Mode),
		"uptime_seconds": int64(time.Since(h.cfg.StartedAt).Seconds()),
	})
	if err != nil {
		return nil, err
	}
	return encode(Message{Type: "status", Data: status})
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("ws client disconnected", slog.Int("clients", n))
}

// readPump discards client frames and keeps the read deadline fresh.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("ws unexpected close", slog.String("error", err.Error()))
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
