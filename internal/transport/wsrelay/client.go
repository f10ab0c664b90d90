// Package wsrelay is a transport over one websocket connection to a relay
// server. Any number of topics, and several memberships of one topic, are
// multiplexed over the connection.
package wsrelay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cmhcmh79/freecell-vs/internal/relay"
	"github.com/cmhcmh79/freecell-vs/internal/transport"
)

const writeWait = 10 * time.Second

// Options configures Dial.
type Options struct {
	Header http.Header
	Dialer *websocket.Dialer
	Logger *zap.Logger
}

// Client is a connection to a relay. It implements transport.Transport.
type Client struct {
	conn *websocket.Conn

	// wmu serializes writers; gorilla allows one concurrent writer.
	wmu sync.Mutex

	mu       sync.Mutex
	channels map[string]*Channel
	closed   bool
	done     chan struct{}

	logger *zap.Logger
}

// Dial connects to the relay at url (ws:// or wss://).
func Dial(ctx context.Context, url string, opts Options) (*Client, error) {
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	conn, _, err := dialer.DialContext(ctx, url, opts.Header)
	if err != nil {
		return nil, fmt.Errorf("dial relay %s: %w", url, err)
	}

	c := &Client{
		conn:     conn,
		channels: make(map[string]*Channel),
		done:     make(chan struct{}),
		logger:   logger,
	}
	go c.readLoop()
	logger.Info("connected to relay", zap.String("url", url))
	return c, nil
}

// Done is closed when the connection is lost or closed.
func (c *Client) Done() <-chan struct{} { return c.done }

// Join adds a new membership of topic.
func (c *Client) Join(ctx context.Context, topic string) (transport.Channel, error) {
	ch := &Channel{
		client: c,
		topic:  topic,
		key:    uuid.NewString(),
		router: transport.NewRouter(c.logger.With(zap.String("topic", topic))),
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		ch.router.Stop()
		return nil, transport.ErrClosed
	}
	c.channels[channelID(topic, ch.key)] = ch
	c.mu.Unlock()

	if err := c.write(ctx, relay.Frame{Type: relay.FrameJoin, Topic: topic, Key: ch.key}); err != nil {
		c.forget(ch)
		return nil, fmt.Errorf("join %s: %w", topic, err)
	}
	return ch, nil
}

// Close leaves every topic and closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	channels := c.channels
	c.channels = make(map[string]*Channel)
	c.mu.Unlock()

	for _, ch := range channels {
		ch.router.Stop()
	}

	c.wmu.Lock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.wmu.Unlock()

	err := c.conn.Close()
	<-c.done
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

func (c *Client) write(ctx context.Context, f relay.Frame) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return transport.ErrClosed
	}

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteJSON(f); err != nil {
		return fmt.Errorf("write %s frame: %w", f.Type, err)
	}
	return nil
}

func (c *Client) readLoop() {
	defer func() {
		c.mu.Lock()
		c.closed = true
		channels := c.channels
		c.channels = make(map[string]*Channel)
		c.mu.Unlock()
		for _, ch := range channels {
			ch.router.Stop()
		}
		_ = c.conn.Close()
		close(c.done)
	}()

	for {
		var f relay.Frame
		if err := c.conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("relay connection lost", zap.Error(err))
			}
			return
		}

		c.mu.Lock()
		ch := c.channels[channelID(f.Topic, f.Key)]
		c.mu.Unlock()
		if ch == nil {
			continue
		}

		switch f.Type {
		case relay.FrameBroadcast:
			ch.router.Deliver(f.Event, f.Payload)
		case relay.FramePresence:
			ch.router.DeliverPresence(f.Presences)
		case relay.FrameError:
			c.logger.Warn("relay rejected frame",
				zap.String("topic", f.Topic),
				zap.String("error", f.Error),
			)
		}
	}
}

func (c *Client) forget(ch *Channel) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := channelID(ch.topic, ch.key)
	if c.channels[id] != ch {
		return false
	}
	delete(c.channels, id)
	ch.router.Stop()
	return true
}

func channelID(topic, key string) string {
	return topic + "\x00" + key
}

// Channel is one membership of a relay topic.
type Channel struct {
	client *Client
	topic  string
	key    string
	router *transport.Router
}

func (ch *Channel) Topic() string { return ch.topic }
func (ch *Channel) Key() string   { return ch.key }

// Send relays the event to the other members of the topic.
func (ch *Channel) Send(ctx context.Context, event string, payload any) error {
	raw, err := transport.Encode(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}
	return ch.client.write(ctx, relay.Frame{
		Type:    relay.FrameBroadcast,
		Topic:   ch.topic,
		Key:     ch.key,
		Event:   event,
		Payload: raw,
	})
}

func (ch *Channel) On(event string, h transport.Handler) func() {
	return ch.router.On(event, h)
}

func (ch *Channel) OnPresence(h transport.PresenceHandler) func() {
	return ch.router.OnPresence(h)
}

// Track publishes meta as this member's presence.
func (ch *Channel) Track(ctx context.Context, meta any) error {
	raw, err := transport.Encode(meta)
	if err != nil {
		return fmt.Errorf("encode presence: %w", err)
	}
	return ch.client.write(ctx, relay.Frame{Type: relay.FrameTrack, Topic: ch.topic, Key: ch.key, Payload: raw})
}

// Untrack removes this member from the presence set.
func (ch *Channel) Untrack(ctx context.Context) error {
	return ch.client.write(ctx, relay.Frame{Type: relay.FrameUntrack, Topic: ch.topic, Key: ch.key})
}

// Close leaves the topic. Closing twice is a no-op.
func (ch *Channel) Close() error {
	if !ch.client.forget(ch) {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	err := ch.client.write(ctx, relay.Frame{Type: relay.FrameLeave, Topic: ch.topic, Key: ch.key})
	if errors.Is(err, transport.ErrClosed) {
		return nil
	}
	return err
}
