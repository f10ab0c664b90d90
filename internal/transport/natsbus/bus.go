// Package natsbus is a transport over NATS core subjects. Broadcasts go to
// <prefix>.<topic>.broadcast; presence is assembled per member from join,
// heartbeat and leave messages on <prefix>.<topic>.presence and expires
// when heartbeats stop.
package natsbus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/cmhcmh79/freecell-vs/internal/transport"
)

const (
	DefaultPrefix            = "freecell"
	DefaultHeartbeatInterval = 5 * time.Second
	DefaultPresenceTTL       = 15 * time.Second

	subjectBroadcast = "broadcast"
	subjectPresence  = "presence"
)

// Options configures a Bus.
type Options struct {
	Prefix            string
	HeartbeatInterval time.Duration
	PresenceTTL       time.Duration
	Logger            *zap.Logger
}

func (o *Options) defaults() {
	if o.Prefix == "" {
		o.Prefix = DefaultPrefix
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if o.PresenceTTL <= 0 {
		o.PresenceTTL = DefaultPresenceTTL
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// envelope carries one broadcast.
type envelope struct {
	Key     string          `json:"key"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Bus is a transport.Transport backed by a NATS connection.
type Bus struct {
	nc   *nats.Conn
	owns bool
	opts Options

	mu       sync.Mutex
	channels map[*Channel]bool
	closed   bool

	logger *zap.Logger
}

// Connect dials url and returns a bus that closes the connection on Close.
func Connect(url string, opts Options, natsOpts ...nats.Option) (*Bus, error) {
	opts.defaults()
	natsOpts = append([]nats.Option{nats.Name("freecell-vs")}, natsOpts...)
	nc, err := nats.Connect(url, natsOpts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	b := New(nc, opts)
	b.owns = true
	b.logger.Info("connected to nats", zap.String("url", nc.ConnectedUrlRedacted()))
	return b, nil
}

// New wraps an existing connection. Close leaves nc open.
func New(nc *nats.Conn, opts Options) *Bus {
	opts.defaults()
	return &Bus{
		nc:       nc,
		opts:     opts,
		channels: make(map[*Channel]bool),
		logger:   opts.Logger,
	}
}

// Subject returns the NATS subject for kind on topic. Dots and wildcards
// in the topic are replaced so a topic is always exactly one token.
func Subject(prefix, topic, kind string) string {
	token := strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, topic)
	return prefix + "." + token + "." + kind
}

// Join subscribes a new member to topic.
func (b *Bus) Join(ctx context.Context, topic string) (transport.Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, transport.ErrClosed
	}
	b.mu.Unlock()

	key := uuid.NewString()
	ch := &Channel{
		bus:       b,
		topic:     topic,
		key:       key,
		broadcast: Subject(b.opts.Prefix, topic, subjectBroadcast),
		presence:  Subject(b.opts.Prefix, topic, subjectPresence),
		router:    transport.NewRouter(b.logger.With(zap.String("topic", topic))),
		table:     newPresenceTable(b.opts.PresenceTTL),
		now:       time.Now,
		stop:      make(chan struct{}),
		logger:    b.logger.With(zap.String("topic", topic), zap.String("key", key)),
	}

	// One wildcard subscription keeps broadcasts and presence in order.
	sub, err := b.nc.Subscribe(Subject(b.opts.Prefix, topic, ">"), ch.handleMsg)
	if err != nil {
		ch.router.Stop()
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	ch.sub = sub

	b.mu.Lock()
	b.channels[ch] = true
	b.mu.Unlock()

	go ch.heartbeat(b.opts.HeartbeatInterval)
	return ch, nil
}

// Close closes every channel, and the connection when the bus owns it.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	channels := make([]*Channel, 0, len(b.channels))
	for ch := range b.channels {
		channels = append(channels, ch)
	}
	b.mu.Unlock()

	for _, ch := range channels {
		_ = ch.Close()
	}
	if b.owns {
		b.nc.Close()
	}
	return nil
}

// Channel is one member of a NATS topic.
type Channel struct {
	bus       *Bus
	topic     string
	key       string
	broadcast string
	presence  string
	router    *transport.Router
	sub       *nats.Subscription
	now       func() time.Time

	mu      sync.Mutex
	table   *presenceTable
	meta    json.RawMessage
	tracked bool
	closed  bool
	stop    chan struct{}

	logger *zap.Logger
}

func (ch *Channel) Topic() string { return ch.topic }
func (ch *Channel) Key() string   { return ch.key }

// Send publishes the event on the topic's broadcast subject.
func (ch *Channel) Send(_ context.Context, event string, payload any) error {
	raw, err := transport.Encode(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}
	if ch.isClosed() {
		return transport.ErrClosed
	}
	data, err := json.Marshal(envelope{Key: ch.key, Event: event, Payload: raw})
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if err := ch.bus.nc.Publish(ch.broadcast, data); err != nil {
		return fmt.Errorf("publish %s: %w", event, err)
	}
	return nil
}

func (ch *Channel) On(event string, h transport.Handler) func() {
	return ch.router.On(event, h)
}

func (ch *Channel) OnPresence(h transport.PresenceHandler) func() {
	return ch.router.OnPresence(h)
}

// Track announces this member and keeps it alive with heartbeats.
func (ch *Channel) Track(_ context.Context, meta any) error {
	raw, err := transport.Encode(meta)
	if err != nil {
		return fmt.Errorf("encode presence: %w", err)
	}

	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return transport.ErrClosed
	}
	ch.meta, ch.tracked = raw, true
	if ch.table.upsert(ch.key, raw, ch.now()) {
		ch.router.DeliverPresence(ch.table.list())
	}
	ch.mu.Unlock()

	return ch.publishPresence(kindJoin, raw)
}

// Untrack announces that this member left the presence set.
func (ch *Channel) Untrack(_ context.Context) error {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return transport.ErrClosed
	}
	was := ch.tracked
	ch.meta, ch.tracked = nil, false
	if ch.table.remove(ch.key) {
		ch.router.DeliverPresence(ch.table.list())
	}
	ch.mu.Unlock()

	if !was {
		return nil
	}
	return ch.publishPresence(kindLeave, nil)
}

// Close leaves the topic. Closing twice is a no-op.
func (ch *Channel) Close() error {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return nil
	}
	ch.closed = true
	was := ch.tracked
	ch.tracked = false
	close(ch.stop)
	ch.mu.Unlock()

	if was {
		if err := ch.publishPresence(kindLeave, nil); err != nil {
			ch.logger.Debug("failed to announce leave", zap.Error(err))
		}
	}
	if err := ch.sub.Unsubscribe(); err != nil {
		ch.logger.Debug("failed to unsubscribe", zap.Error(err))
	}
	ch.router.Stop()

	ch.bus.mu.Lock()
	delete(ch.bus.channels, ch)
	ch.bus.mu.Unlock()
	return nil
}

func (ch *Channel) isClosed() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.closed
}

func (ch *Channel) publishPresence(kind presenceKind, meta json.RawMessage) error {
	data, err := json.Marshal(presenceMessage{Key: ch.key, Kind: kind, Meta: meta})
	if err != nil {
		return fmt.Errorf("encode presence: %w", err)
	}
	if err := ch.bus.nc.Publish(ch.presence, data); err != nil {
		return fmt.Errorf("publish presence: %w", err)
	}
	return nil
}

func (ch *Channel) handleMsg(msg *nats.Msg) {
	switch {
	case strings.HasSuffix(msg.Subject, "."+subjectBroadcast):
		var env envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			ch.logger.Debug("ignoring malformed broadcast", zap.Error(err))
			return
		}
		if env.Key == ch.key {
			return
		}
		ch.router.Deliver(env.Event, env.Payload)

	case strings.HasSuffix(msg.Subject, "."+subjectPresence):
		var pm presenceMessage
		if err := json.Unmarshal(msg.Data, &pm); err != nil || pm.Key == "" {
			ch.logger.Debug("ignoring malformed presence", zap.Error(err))
			return
		}
		if pm.Key == ch.key {
			return
		}
		ch.applyPresence(pm)
	}
}

func (ch *Channel) applyPresence(pm presenceMessage) {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return
	}
	var changed bool
	switch pm.Kind {
	case kindJoin, kindHeartbeat:
		changed = ch.table.upsert(pm.Key, pm.Meta, ch.now())
	case kindLeave:
		changed = ch.table.remove(pm.Key)
	}
	if changed {
		ch.router.DeliverPresence(ch.table.list())
	}
	// A newcomer learns about existing members without waiting a full
	// heartbeat interval.
	answer := pm.Kind == kindJoin && ch.tracked
	meta := ch.meta
	ch.mu.Unlock()

	if answer {
		if err := ch.publishPresence(kindHeartbeat, meta); err != nil {
			ch.logger.Debug("failed to answer join", zap.Error(err))
		}
	}
}

func (ch *Channel) heartbeat(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ch.stop:
			return
		case <-ticker.C:
		}

		ch.mu.Lock()
		if ch.table.sweep(ch.now(), ch.key) {
			ch.router.DeliverPresence(ch.table.list())
		}
		tracked, meta := ch.tracked, ch.meta
		ch.mu.Unlock()

		if tracked {
			if err := ch.publishPresence(kindHeartbeat, meta); err != nil {
				ch.logger.Warn("heartbeat failed", zap.Error(err))
			}
		}
	}
}
