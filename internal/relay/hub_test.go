package relay

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) (*Hub, string) {
	t.Helper()
	hub := NewHub(Options{})
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func write(t *testing.T, conn *websocket.Conn, f Frame) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(f))
}

func read(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f Frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	var f Frame
	err := conn.ReadJSON(&f)
	require.Error(t, err, "unexpected frame %+v", f)
}

// joinTracked joins and tracks key on topic and waits for the presence
// frame listing want members, so the hub has handled both frames.
func joinTracked(t *testing.T, conn *websocket.Conn, topic, key string, want int) {
	t.Helper()
	write(t, conn, Frame{Type: FrameJoin, Topic: topic, Key: key})
	write(t, conn, Frame{Type: FrameTrack, Topic: topic, Key: key, Payload: json.RawMessage(`{}`)})
	f := read(t, conn)
	require.Equal(t, FramePresence, f.Type)
	require.Len(t, f.Presences, want)
}

func TestBroadcastReachesOthersOnly(t *testing.T) {
	_, url := startHub(t)
	a, b := dial(t, url), dial(t, url)

	joinTracked(t, a, "room-1", "ka", 1)
	joinTracked(t, b, "room-1", "kb", 2)
	require.Len(t, read(t, a).Presences, 2)

	write(t, a, Frame{Type: FrameBroadcast, Topic: "room-1", Key: "ka", Event: "move", Payload: json.RawMessage(`{"n":1}`)})

	got := read(t, b)
	assert.Equal(t, FrameBroadcast, got.Type)
	assert.Equal(t, "room-1", got.Topic)
	assert.Equal(t, "kb", got.Key)
	assert.Equal(t, "ka", got.From)
	assert.Equal(t, "move", got.Event)
	assert.JSONEq(t, `{"n":1}`, string(got.Payload))

	expectSilence(t, a)
}

func TestPresenceFanOut(t *testing.T) {
	hub, url := startHub(t)
	a, b := dial(t, url), dial(t, url)

	write(t, a, Frame{Type: FrameJoin, Topic: "matchmaking", Key: "ka"})
	write(t, a, Frame{Type: FrameTrack, Topic: "matchmaking", Key: "ka", Payload: json.RawMessage(`{"rating":1000}`)})
	first := read(t, a)
	require.Equal(t, FramePresence, first.Type)
	require.Len(t, first.Presences, 1)
	assert.Equal(t, "ka", first.Presences[0].Key)

	write(t, b, Frame{Type: FrameJoin, Topic: "matchmaking", Key: "kb"})
	write(t, b, Frame{Type: FrameTrack, Topic: "matchmaking", Key: "kb", Payload: json.RawMessage(`{"rating":1200}`)})
	for _, conn := range []*websocket.Conn{a, b} {
		f := read(t, conn)
		require.Equal(t, FramePresence, f.Type)
		require.Len(t, f.Presences, 2)
		assert.Equal(t, "ka", f.Presences[0].Key)
		assert.Equal(t, "kb", f.Presences[1].Key)
	}

	clients, topics := hub.Stats()
	assert.Equal(t, 2, clients)
	assert.Equal(t, 1, topics)

	require.NoError(t, b.Close())
	f := read(t, a)
	require.Equal(t, FramePresence, f.Type)
	require.Len(t, f.Presences, 1)
	assert.Equal(t, "ka", f.Presences[0].Key)
}

func TestUntrackAndLeave(t *testing.T) {
	_, url := startHub(t)
	a, b := dial(t, url), dial(t, url)

	joinTracked(t, a, "t", "ka", 1)
	joinTracked(t, b, "t", "kb", 2)
	require.Len(t, read(t, a).Presences, 2)

	write(t, b, Frame{Type: FrameUntrack, Topic: "t", Key: "kb"})
	for _, conn := range []*websocket.Conn{a, b} {
		f := read(t, conn)
		assert.Equal(t, FramePresence, f.Type)
		require.Len(t, f.Presences, 1)
		assert.Equal(t, "ka", f.Presences[0].Key)
	}

	write(t, b, Frame{Type: FrameLeave, Topic: "t", Key: "kb"})
	// the error reply shows the leave was handled before a broadcasts
	write(t, b, Frame{Type: FrameTrack, Topic: "t", Key: "kb", Payload: json.RawMessage(`{}`)})
	assert.Equal(t, "not joined", read(t, b).Error)

	write(t, a, Frame{Type: FrameBroadcast, Topic: "t", Key: "ka", Event: "x"})
	expectSilence(t, b)
}

func TestRejectedFrames(t *testing.T) {
	_, url := startHub(t)
	a, b := dial(t, url), dial(t, url)

	write(t, a, Frame{Type: FrameBroadcast, Topic: "t", Key: "ka", Event: "x"})
	f := read(t, a)
	assert.Equal(t, FrameError, f.Type)
	assert.Equal(t, "not joined", f.Error)

	write(t, a, Frame{Type: FrameJoin, Topic: "t"})
	assert.Equal(t, FrameError, read(t, a).Type)

	write(t, a, Frame{Type: FrameJoin, Topic: "t", Key: "ka"})
	write(t, a, Frame{Type: FrameTrack, Topic: "t", Key: "ka", Payload: json.RawMessage(`{}`)})
	require.Equal(t, FramePresence, read(t, a).Type)

	write(t, b, Frame{Type: FrameJoin, Topic: "t", Key: "ka"})
	f = read(t, b)
	assert.Equal(t, FrameError, f.Type)
	assert.Equal(t, "key already joined", f.Error)

	// b cannot act on a's membership
	write(t, b, Frame{Type: FrameTrack, Topic: "t", Key: "ka", Payload: json.RawMessage(`{}`)})
	assert.Equal(t, FrameError, read(t, b).Type)

	write(t, a, Frame{Type: "bogus", Topic: "t", Key: "ka"})
	assert.Equal(t, "unknown frame type", read(t, a).Error)
}

func TestCheckOrigin(t *testing.T) {
	hub := NewHub(Options{AllowedOrigins: []string{"https://freecell.example"}})

	req := httptest.NewRequest("GET", "/ws", nil)
	req.Header.Set("Origin", "https://freecell.example")
	assert.True(t, hub.checkOrigin(req))

	req.Header.Set("Origin", "https://evil.example")
	assert.False(t, hub.checkOrigin(req))

	assert.True(t, NewHub(Options{}).checkOrigin(req))
}
