package natsbus

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPresenceTable(t *testing.T) {
	start := time.UnixMilli(1_000)
	table := newPresenceTable(15 * time.Second)

	assert.True(t, table.upsert("b", json.RawMessage(`{"r":1}`), start))
	assert.True(t, table.upsert("a", json.RawMessage(`{"r":2}`), start))
	assert.False(t, table.upsert("a", json.RawMessage(`{"r":2}`), start.Add(time.Second)), "heartbeat alone is not a change")
	assert.True(t, table.upsert("a", json.RawMessage(`{"r":3}`), start.Add(time.Second)), "new meta is a change")

	list := table.list()
	if assert.Len(t, list, 2) {
		assert.Equal(t, "a", list[0].Key)
		assert.Equal(t, "b", list[1].Key)
	}

	assert.False(t, table.sweep(start.Add(10*time.Second), ""))
	assert.True(t, table.sweep(start.Add(16*time.Second), ""), "b missed its heartbeats")
	list = table.list()
	if assert.Len(t, list, 1) {
		assert.Equal(t, "a", list[0].Key)
	}

	assert.True(t, table.remove("a"))
	assert.False(t, table.remove("a"))
	assert.Empty(t, table.list())
}

func TestSweepKeepsSelf(t *testing.T) {
	start := time.UnixMilli(0)
	table := newPresenceTable(time.Second)
	table.upsert("self", nil, start)
	table.upsert("peer", nil, start)

	assert.True(t, table.sweep(start.Add(time.Minute), "self"))
	list := table.list()
	if assert.Len(t, list, 1) {
		assert.Equal(t, "self", list[0].Key)
	}
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "freecell.room-AB12CD.broadcast", Subject("freecell", "room-AB12CD", "broadcast"))
	assert.Equal(t, "freecell.a_b_c.presence", Subject("freecell", "a.b*c", "presence"))
	assert.Equal(t, "x.matchmaking.>", Subject("x", "matchmaking", ">"))
}
