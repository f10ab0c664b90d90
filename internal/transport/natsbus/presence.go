package natsbus

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/cmhcmh79/freecell-vs/internal/transport"
)

type presenceKind string

const (
	kindJoin      presenceKind = "join"
	kindHeartbeat presenceKind = "heartbeat"
	kindLeave     presenceKind = "leave"
)

// presenceMessage is published on the presence subject of a topic.
type presenceMessage struct {
	Key  string          `json:"key"`
	Kind presenceKind    `json:"kind"`
	Meta json.RawMessage `json:"meta,omitempty"`
}

type presenceEntry struct {
	meta json.RawMessage
	seen time.Time
}

// presenceTable is the member list one channel has assembled from
// heartbeats. Entries not refreshed within ttl are dropped by sweep.
type presenceTable struct {
	ttl     time.Duration
	entries map[string]presenceEntry
}

func newPresenceTable(ttl time.Duration) *presenceTable {
	return &presenceTable{ttl: ttl, entries: make(map[string]presenceEntry)}
}

// upsert records key as alive. It reports whether the list changed.
func (t *presenceTable) upsert(key string, meta json.RawMessage, now time.Time) bool {
	old, ok := t.entries[key]
	t.entries[key] = presenceEntry{meta: meta, seen: now}
	return !ok || !bytes.Equal(old.meta, meta)
}

func (t *presenceTable) remove(key string) bool {
	if _, ok := t.entries[key]; !ok {
		return false
	}
	delete(t.entries, key)
	return true
}

// sweep drops stale entries other than keep.
func (t *presenceTable) sweep(now time.Time, keep string) bool {
	changed := false
	for key, e := range t.entries {
		if key != keep && now.Sub(e.seen) > t.ttl {
			delete(t.entries, key)
			changed = true
		}
	}
	return changed
}

func (t *presenceTable) list() []transport.Presence {
	list := make([]transport.Presence, 0, len(t.entries))
	for key, e := range t.entries {
		list = append(list, transport.Presence{Key: key, Meta: e.meta})
	}
	transport.SortPresences(list)
	return list
}
