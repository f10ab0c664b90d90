// Package memory is an in-process transport. Every Join on the same Hub
// creates a new member, so a test or a local two-player session can wire
// both peers of a duel to one hub.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cmhcmh79/freecell-vs/internal/transport"
)

// Hub holds the topics of one in-process network.
type Hub struct {
	mu     sync.Mutex
	topics map[string]map[string]*Channel
	closed bool
	logger *zap.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		topics: make(map[string]map[string]*Channel),
		logger: logger,
	}
}

// Join adds a new member to topic.
func (h *Hub) Join(_ context.Context, topic string) (transport.Channel, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, transport.ErrClosed
	}
	ch := &Channel{
		hub:    h,
		topic:  topic,
		key:    uuid.NewString(),
		router: transport.NewRouter(h.logger.With(zap.String("topic", topic))),
	}
	if h.topics[topic] == nil {
		h.topics[topic] = make(map[string]*Channel)
	}
	h.topics[topic][ch.key] = ch
	return ch, nil
}

// Close closes every channel on the hub.
func (h *Hub) Close() error {
	h.mu.Lock()
	var all []*Channel
	for _, members := range h.topics {
		for _, ch := range members {
			all = append(all, ch)
		}
	}
	h.closed = true
	h.mu.Unlock()

	for _, ch := range all {
		_ = ch.Close()
	}
	return nil
}

// Members returns the number of channels joined to topic.
func (h *Hub) Members(topic string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.topics[topic])
}

// Channel is one member of a hub topic.
type Channel struct {
	hub    *Hub
	topic  string
	key    string
	router *transport.Router

	// guarded by hub.mu
	meta    json.RawMessage
	tracked bool
	closed  bool
}

func (c *Channel) Topic() string { return c.topic }
func (c *Channel) Key() string   { return c.key }

// Send delivers the event to every other member of the topic.
func (c *Channel) Send(_ context.Context, event string, payload any) error {
	raw, err := transport.Encode(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}

	c.hub.mu.Lock()
	if c.closed {
		c.hub.mu.Unlock()
		return transport.ErrClosed
	}
	for key, member := range c.hub.topics[c.topic] {
		if key != c.key {
			member.router.Deliver(event, raw)
		}
	}
	c.hub.mu.Unlock()
	return nil
}

func (c *Channel) On(event string, h transport.Handler) func() {
	return c.router.On(event, h)
}

func (c *Channel) OnPresence(h transport.PresenceHandler) func() {
	return c.router.OnPresence(h)
}

// Track publishes meta as this member's presence.
func (c *Channel) Track(_ context.Context, meta any) error {
	raw, err := transport.Encode(meta)
	if err != nil {
		return fmt.Errorf("encode presence: %w", err)
	}

	c.hub.mu.Lock()
	if c.closed {
		c.hub.mu.Unlock()
		return transport.ErrClosed
	}
	c.meta, c.tracked = raw, true
	c.hub.syncPresenceLocked(c.topic)
	c.hub.mu.Unlock()
	return nil
}

// Untrack removes this member from the presence set.
func (c *Channel) Untrack(_ context.Context) error {
	c.hub.mu.Lock()
	if c.closed {
		c.hub.mu.Unlock()
		return transport.ErrClosed
	}
	if c.tracked {
		c.meta, c.tracked = nil, false
		c.hub.syncPresenceLocked(c.topic)
	}
	c.hub.mu.Unlock()
	return nil
}

// Close leaves the topic. Closing twice is a no-op.
func (c *Channel) Close() error {
	c.hub.mu.Lock()
	if c.closed {
		c.hub.mu.Unlock()
		return nil
	}
	c.closed = true
	was := c.tracked
	c.tracked = false
	delete(c.hub.topics[c.topic], c.key)
	if len(c.hub.topics[c.topic]) == 0 {
		delete(c.hub.topics, c.topic)
	} else if was {
		c.hub.syncPresenceLocked(c.topic)
	}
	c.hub.mu.Unlock()

	c.router.Stop()
	return nil
}

// syncPresenceLocked pushes the tracked member list to every member of
// topic. Deliveries only enqueue, so holding h.mu keeps lists in order.
func (h *Hub) syncPresenceLocked(topic string) {
	var list []transport.Presence
	for _, ch := range h.topics[topic] {
		if ch.tracked {
			list = append(list, transport.Presence{Key: ch.key, Meta: ch.meta})
		}
	}
	transport.SortPresences(list)
	for _, ch := range h.topics[topic] {
		ch.router.DeliverPresence(list)
	}
}
