package natsbus

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cmhcmh79/freecell-vs/internal/transport"
)

const (
	wait = 5 * time.Second
	poll = 10 * time.Millisecond
)

// connect returns a bus on FREECELL_TEST_NATS_URL with a unique prefix, or
// skips the test when no server is configured.
func connect(t *testing.T) *Bus {
	t.Helper()
	url := os.Getenv("FREECELL_TEST_NATS_URL")
	if url == "" {
		t.Skip("FREECELL_TEST_NATS_URL not set")
	}
	bus, err := Connect(url, Options{
		Prefix:            "test" + uuid.NewString()[:8],
		HeartbeatInterval: 50 * time.Millisecond,
		PresenceTTL:       200 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = bus.Close() })
	return bus
}

type inbox struct {
	mu       sync.Mutex
	payloads []string
	members  []transport.Presence
}

func (i *inbox) handle(payload json.RawMessage) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.payloads = append(i.payloads, string(payload))
}

func (i *inbox) presence(members []transport.Presence) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.members = members
}

func (i *inbox) received() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]string(nil), i.payloads...)
}

func (i *inbox) count() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.members)
}

func TestBusBroadcast(t *testing.T) {
	ctx := context.Background()
	bus := connect(t)

	a, err := bus.Join(ctx, "room-1")
	require.NoError(t, err)
	b, err := bus.Join(ctx, "room-1")
	require.NoError(t, err)

	var ina, inb inbox
	a.On("move", ina.handle)
	b.On("move", inb.handle)
	require.NoError(t, bus.nc.Flush())

	for i := 0; i < 3; i++ {
		require.NoError(t, a.Send(ctx, "move", map[string]int{"n": i}))
	}
	require.Eventually(t, func() bool { return len(inb.received()) == 3 }, wait, poll)
	assert.Equal(t, `{"n":2}`, inb.received()[2])
	assert.Empty(t, ina.received(), "no echo")
}

func TestBusPresenceExpires(t *testing.T) {
	ctx := context.Background()
	bus := connect(t)

	a, err := bus.Join(ctx, "matchmaking")
	require.NoError(t, err)
	b, err := bus.Join(ctx, "matchmaking")
	require.NoError(t, err)

	var ina inbox
	a.OnPresence(ina.presence)
	require.NoError(t, a.Track(ctx, map[string]int{"rating": 1000}))
	require.NoError(t, b.Track(ctx, map[string]int{"rating": 1010}))
	require.Eventually(t, func() bool { return ina.count() == 2 }, wait, poll)

	// stop b's heartbeats without a leave message
	bc := b.(*Channel)
	bc.mu.Lock()
	bc.tracked = false
	bc.mu.Unlock()
	require.Eventually(t, func() bool { return ina.count() == 1 }, wait, poll)

	require.NoError(t, b.Close())
	require.NoError(t, a.Untrack(ctx))
	require.Eventually(t, func() bool { return ina.count() == 0 }, wait, poll)
}
