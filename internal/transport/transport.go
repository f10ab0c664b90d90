// Package transport defines the broadcast channel the match and matchmaking
// layers talk through: named topics carrying JSON events plus a presence
// set. Implementations live in the memory, wsrelay and natsbus
// subpackages.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
)

// ErrClosed is returned by operations on a closed channel or transport.
var ErrClosed = errors.New("transport closed")

// Handler receives the payload of one inbound event.
type Handler func(payload json.RawMessage)

// PresenceHandler receives the full member list of a topic after every
// change. The list includes the receiving member when it is tracked.
type PresenceHandler func(members []Presence)

// Presence is one tracked member of a topic.
type Presence struct {
	Key  string          `json:"key"`
	Meta json.RawMessage `json:"meta"`
}

// Decode unmarshals the member's metadata into v.
func (p Presence) Decode(v any) error {
	return json.Unmarshal(p.Meta, v)
}

// Transport opens channels on topics.
type Transport interface {
	Join(ctx context.Context, topic string) (Channel, error)
	Close() error
}

// Channel is one membership of a topic. Broadcasts reach every other member
// and are never echoed back to the sender. Handlers run on a single
// goroutine per channel, in arrival order.
type Channel interface {
	Topic() string
	// Key identifies this member in presence lists.
	Key() string

	Send(ctx context.Context, event string, payload any) error
	// On registers a handler for an event. The returned func removes it.
	On(event string, h Handler) func()
	OnPresence(h PresenceHandler) func()

	Track(ctx context.Context, meta any) error
	Untrack(ctx context.Context) error

	Close() error
}

// Encode marshals an event payload.
func Encode(payload any) (json.RawMessage, error) {
	if raw, ok := payload.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(payload)
}

// SortPresences orders members by key so every member sees the same list.
func SortPresences(members []Presence) {
	sort.Slice(members, func(i, j int) bool { return members[i].Key < members[j].Key })
}
