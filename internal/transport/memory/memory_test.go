package memory

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cmhcmh79/freecell-vs/internal/transport"
)

type inbox struct {
	mu       sync.Mutex
	payloads []string
	members  [][]transport.Presence
}

func (i *inbox) handle(payload json.RawMessage) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.payloads = append(i.payloads, string(payload))
}

func (i *inbox) presence(members []transport.Presence) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.members = append(i.members, members)
}

func (i *inbox) received() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]string(nil), i.payloads...)
}

func (i *inbox) lastMembers() []transport.Presence {
	i.mu.Lock()
	defer i.mu.Unlock()
	if len(i.members) == 0 {
		return nil
	}
	return i.members[len(i.members)-1]
}

const wait = 2 * time.Second
const poll = 5 * time.Millisecond

func TestSendReachesOthersOnly(t *testing.T) {
	ctx := context.Background()
	hub := NewHub(nil)
	defer hub.Close()

	a, err := hub.Join(ctx, "room-1")
	require.NoError(t, err)
	b, err := hub.Join(ctx, "room-1")
	require.NoError(t, err)
	other, err := hub.Join(ctx, "room-2")
	require.NoError(t, err)

	var ina, inb, ino inbox
	a.On("move", ina.handle)
	b.On("move", inb.handle)
	other.On("move", ino.handle)

	for i := 0; i < 5; i++ {
		require.NoError(t, a.Send(ctx, "move", map[string]int{"n": i}))
	}

	require.Eventually(t, func() bool { return len(inb.received()) == 5 }, wait, poll)
	assert.Equal(t, `{"n":0}`, inb.received()[0])
	assert.Equal(t, `{"n":4}`, inb.received()[4], "order is preserved")
	assert.Empty(t, ina.received(), "no echo")
	assert.Empty(t, ino.received(), "topics are isolated")
}

func TestHandlerRemoval(t *testing.T) {
	ctx := context.Background()
	hub := NewHub(nil)
	defer hub.Close()

	a, _ := hub.Join(ctx, "t")
	b, _ := hub.Join(ctx, "t")

	var in inbox
	off := b.On("ping", in.handle)
	require.NoError(t, a.Send(ctx, "ping", "first"))
	require.Eventually(t, func() bool { return len(in.received()) == 1 }, wait, poll)

	off()
	require.NoError(t, a.Send(ctx, "ping", "second"))
	var marker inbox
	b.On("done", marker.handle)
	require.NoError(t, a.Send(ctx, "done", true))
	require.Eventually(t, func() bool { return len(marker.received()) == 1 }, wait, poll)
	assert.Len(t, in.received(), 1)
}

func TestPresenceIncludesSelf(t *testing.T) {
	ctx := context.Background()
	hub := NewHub(nil)
	defer hub.Close()

	a, _ := hub.Join(ctx, "queue")
	b, _ := hub.Join(ctx, "queue")

	var ina, inb inbox
	a.OnPresence(ina.presence)
	b.OnPresence(inb.presence)

	require.NoError(t, a.Track(ctx, map[string]string{"name": "a"}))
	require.NoError(t, b.Track(ctx, map[string]string{"name": "b"}))

	require.Eventually(t, func() bool { return len(ina.lastMembers()) == 2 }, wait, poll)
	require.Eventually(t, func() bool { return len(inb.lastMembers()) == 2 }, wait, poll)

	keys := map[string]bool{}
	for _, p := range ina.lastMembers() {
		keys[p.Key] = true
		var meta map[string]string
		require.NoError(t, p.Decode(&meta))
		assert.NotEmpty(t, meta["name"])
	}
	assert.True(t, keys[a.Key()])
	assert.True(t, keys[b.Key()])

	require.NoError(t, b.Untrack(ctx))
	require.Eventually(t, func() bool { return len(ina.lastMembers()) == 1 }, wait, poll)
	assert.Equal(t, a.Key(), ina.lastMembers()[0].Key)

	require.NoError(t, b.Track(ctx, map[string]string{"name": "b"}))
	require.Eventually(t, func() bool { return len(ina.lastMembers()) == 2 }, wait, poll)
	require.NoError(t, b.Close())
	require.Eventually(t, func() bool { return len(ina.lastMembers()) == 1 }, wait, poll)
	assert.Equal(t, 1, hub.Members("queue"))
}

func TestClosedChannel(t *testing.T) {
	ctx := context.Background()
	hub := NewHub(nil)

	a, _ := hub.Join(ctx, "t")
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	assert.ErrorIs(t, a.Send(ctx, "x", 1), transport.ErrClosed)
	assert.ErrorIs(t, a.Track(ctx, 1), transport.ErrClosed)

	require.NoError(t, hub.Close())
	_, err := hub.Join(ctx, "t")
	assert.ErrorIs(t, err, transport.ErrClosed)
}

func TestHandlerMaySendFromCallback(t *testing.T) {
	ctx := context.Background()
	hub := NewHub(nil)
	defer hub.Close()

	a, _ := hub.Join(ctx, "t")
	b, _ := hub.Join(ctx, "t")

	b.On("ping", func(json.RawMessage) {
		_ = b.Send(ctx, "pong", "ok")
	})
	var in inbox
	a.On("pong", in.handle)

	require.NoError(t, a.Send(ctx, "ping", nil))
	require.Eventually(t, func() bool { return len(in.received()) == 1 }, wait, poll)
}
