// Package relay is the realtime relay server behind the wsrelay transport.
// It keeps no game state: it forwards broadcasts to the other members of a
// topic and pushes the tracked member list whenever it changes.
package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cmhcmh79/freecell-vs/internal/transport"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	defaultSendBuffer     = 256
	defaultMaxMessageSize = 64 << 10
)

// Options configures a Hub.
type Options struct {
	// SendBuffer is the number of frames queued per connection before the
	// connection is dropped as too slow.
	SendBuffer     int
	MaxMessageSize int64
	// AllowedOrigins restricts the Origin header. Empty allows any origin.
	AllowedOrigins []string
	Logger         *zap.Logger
}

// Hub accepts websocket connections and relays frames between them.
type Hub struct {
	opts     Options
	upgrader websocket.Upgrader

	register   chan *client
	unregister chan *client
	done       chan struct{}

	mu      sync.Mutex
	clients map[*client]bool
	topics  map[string]map[string]*member

	logger *zap.Logger
}

type client struct {
	conn    *websocket.Conn
	send    chan []byte
	remote  string
	members map[*member]bool
	closed  bool
}

type member struct {
	client  *client
	topic   string
	key     string
	meta    json.RawMessage
	tracked bool
}

// NewHub creates a hub. Run must be called for it to accept connections.
func NewHub(opts Options) *Hub {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = defaultMaxMessageSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	h := &Hub{
		opts:       opts,
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		clients:    make(map[*client]bool),
		topics:     make(map[string]map[string]*member),
		logger:     logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// Run registers and unregisters connections until ctx is done, then closes
// every connection.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("client registered", zap.String("remote", c.remote), zap.Int("clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			h.dropLocked(c)
			h.mu.Unlock()
			h.logger.Debug("client unregistered", zap.String("remote", c.remote))

		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				h.dropLocked(c)
			}
			h.mu.Unlock()
			h.logger.Info("relay hub stopped")
			return
		}
	}
}

// Stats returns the number of connections and active topics.
func (h *Hub) Stats() (clients, topics int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients), len(h.topics)
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{
		conn:    conn,
		send:    make(chan []byte, h.opts.SendBuffer),
		remote:  r.RemoteAddr,
		members: make(map[*member]bool),
	}
	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go h.writeLoop(c)
	h.readLoop(c)
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range h.opts.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

func (h *Hub) readLoop(c *client) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
	}()

	c.conn.SetReadLimit(h.opts.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var f Frame
		if err := c.conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("read error", zap.String("remote", c.remote), zap.Error(err))
			}
			return
		}
		h.handleFrame(c, f)
	}
}

func (h *Hub) writeLoop(c *client) {
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

func (h *Hub) handleFrame(c *client, f Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c.closed {
		return
	}
	if f.Topic == "" || f.Key == "" {
		h.replyErrorLocked(c, f, "topic and key are required")
		return
	}

	if f.Type == FrameJoin {
		if _, taken := h.topics[f.Topic][f.Key]; taken {
			h.replyErrorLocked(c, f, "key already joined")
			return
		}
		m := &member{client: c, topic: f.Topic, key: f.Key}
		if h.topics[f.Topic] == nil {
			h.topics[f.Topic] = make(map[string]*member)
		}
		h.topics[f.Topic][f.Key] = m
		c.members[m] = true
		return
	}

	m := h.topics[f.Topic][f.Key]
	if m == nil || m.client != c {
		h.replyErrorLocked(c, f, "not joined")
		return
	}

	switch f.Type {
	case FrameLeave:
		h.removeMemberLocked(m)

	case FrameBroadcast:
		for key, other := range h.topics[f.Topic] {
			if key == m.key {
				continue
			}
			h.sendLocked(other.client, Frame{
				Type:    FrameBroadcast,
				Topic:   f.Topic,
				Key:     key,
				From:    m.key,
				Event:   f.Event,
				Payload: f.Payload,
			})
		}

	case FrameTrack:
		m.meta, m.tracked = f.Payload, true
		h.syncPresenceLocked(f.Topic)

	case FrameUntrack:
		if m.tracked {
			m.meta, m.tracked = nil, false
			h.syncPresenceLocked(f.Topic)
		}

	default:
		h.replyErrorLocked(c, f, "unknown frame type")
	}
}

func (h *Hub) removeMemberLocked(m *member) {
	delete(m.client.members, m)
	delete(h.topics[m.topic], m.key)
	if len(h.topics[m.topic]) == 0 {
		delete(h.topics, m.topic)
		return
	}
	if m.tracked {
		h.syncPresenceLocked(m.topic)
	}
}

// syncPresenceLocked pushes the tracked member list of topic to every
// member of it.
func (h *Hub) syncPresenceLocked(topic string) {
	var list []transport.Presence
	for _, m := range h.topics[topic] {
		if m.tracked {
			list = append(list, transport.Presence{Key: m.key, Meta: m.meta})
		}
	}
	transport.SortPresences(list)
	for key, m := range h.topics[topic] {
		h.sendLocked(m.client, Frame{Type: FramePresence, Topic: topic, Key: key, Presences: list})
	}
}

func (h *Hub) replyErrorLocked(c *client, f Frame, reason string) {
	h.logger.Debug("rejected frame",
		zap.String("remote", c.remote),
		zap.String("type", string(f.Type)),
		zap.String("topic", f.Topic),
		zap.String("reason", reason),
	)
	h.sendLocked(c, Frame{Type: FrameError, Topic: f.Topic, Key: f.Key, Error: reason})
}

// sendLocked queues f on c. A client whose buffer is full is dropped.
func (h *Hub) sendLocked(c *client, f Frame) {
	if c.closed {
		return
	}
	msg, err := json.Marshal(f)
	if err != nil {
		h.logger.Error("failed to encode frame", zap.Error(err))
		return
	}
	select {
	case c.send <- msg:
	default:
		h.logger.Warn("client too slow, dropping", zap.String("remote", c.remote))
		go func() {
			select {
			case h.unregister <- c:
			case <-h.done:
			}
		}()
	}
}

// dropLocked removes every membership of c and closes its send queue.
func (h *Hub) dropLocked(c *client) {
	if c.closed {
		return
	}
	c.closed = true
	delete(h.clients, c)
	for m := range c.members {
		h.removeMemberLocked(m)
	}
	close(c.send)
}
