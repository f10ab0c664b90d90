package transport

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouterDeliversInOrder(t *testing.T) {
	r := NewRouter(nil)
	defer r.Stop()

	var mu sync.Mutex
	var got []string
	r.On("move", func(p json.RawMessage) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, string(p))
	})

	for _, p := range []string{`1`, `2`, `3`} {
		r.Deliver("move", json.RawMessage(p))
	}
	r.Deliver("ignored", json.RawMessage(`0`))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"1", "2", "3"}, got)
}

func TestRouterPresenceCopiesList(t *testing.T) {
	r := NewRouter(nil)
	defer r.Stop()

	seen := make(chan []Presence, 1)
	r.OnPresence(func(m []Presence) { seen <- m })

	list := []Presence{{Key: "a"}}
	r.DeliverPresence(list)
	list[0].Key = "changed"

	select {
	case m := <-seen:
		assert.Equal(t, "a", m[0].Key)
	case <-time.After(time.Second):
		t.Fatal("presence not delivered")
	}
}

func TestRouterStopDropsDeliveries(t *testing.T) {
	r := NewRouter(nil)
	r.Stop()
	r.Stop()

	called := false
	r.On("x", func(json.RawMessage) { called = true })
	r.Deliver("x", nil)
	time.Sleep(10 * time.Millisecond)
	assert.False(t, called)
}

func TestEncodeAndSort(t *testing.T) {
	raw, err := Encode(map[string]int{"a": 1})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(raw))

	pre := json.RawMessage(`{"b":2}`)
	raw, err = Encode(pre)
	require.NoError(t, err)
	assert.Equal(t, pre, raw)

	members := []Presence{{Key: "c"}, {Key: "a"}, {Key: "b"}}
	SortPresences(members)
	assert.Equal(t, "a", members[0].Key)
	assert.Equal(t, "c", members[2].Key)
}
