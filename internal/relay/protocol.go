package relay

import (
	"encoding/json"

	"github.com/cmhcmh79/freecell-vs/internal/transport"
)

// FrameType names a relay frame.
type FrameType string

const (
	// client -> relay
	FrameJoin      FrameType = "join"
	FrameLeave     FrameType = "leave"
	FrameTrack     FrameType = "track"
	FrameUntrack   FrameType = "untrack"
	FrameBroadcast FrameType = "broadcast"

	// relay -> client; broadcast is also relayed as-is
	FramePresence FrameType = "presence"
	FrameError    FrameType = "error"
)

// Frame is the single JSON message exchanged over a relay connection.
// Topic and Key name the membership a frame belongs to. On frames sent by
// the relay, Key is the receiving member and From the sending one.
type Frame struct {
	Type      FrameType            `json:"type"`
	Topic     string               `json:"topic,omitempty"`
	Key       string               `json:"key,omitempty"`
	From      string               `json:"from,omitempty"`
	Event     string               `json:"event,omitempty"`
	Payload   json.RawMessage      `json:"payload,omitempty"`
	Presences []transport.Presence `json:"presences,omitempty"`
	Error     string               `json:"error,omitempty"`
}
