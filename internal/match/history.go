package match

import (
	"sync"

	"github.com/cmhcmh79/freecell-vs/internal/game"
)

// Entry is one recorded move: the board as it was before the move and the
// endpoints the player chose.
type Entry struct {
	MoveIndex int
	From      game.Location
	To        game.Location
	Before    game.State
}

// History is the undo log of a match, keyed by move index. Boards share
// unchanged piles with their neighbors (game.State is copy-on-write), so
// recording an entry costs one array of slice headers rather than a deep
// clone.
type History struct {
	entries []Entry
	mu      sync.RWMutex
}

// NewHistory creates an empty log.
func NewHistory() *History {
	return &History{
		entries: make([]Entry, 0),
	}
}

// Record appends an entry and returns its move index.
func (h *History) Record(before game.State, from, to game.Location) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	index := len(h.entries)
	h.entries = append(h.entries, Entry{
		MoveIndex: index,
		From:      from,
		To:        to,
		Before:    before,
	})
	return index
}

// Discard drops the entry with the given move index if it is the newest.
// Used when a tentatively recorded move turns out to be illegal.
func (h *History) Discard(index int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n := len(h.entries); n > 0 && h.entries[n-1].MoveIndex == index {
		h.entries = h.entries[:n-1]
	}
}

// Pop removes and returns the newest entry.
func (h *History) Pop() (Entry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := len(h.entries)
	if n == 0 {
		return Entry{}, false
	}
	e := h.entries[n-1]
	h.entries[n-1] = Entry{}
	h.entries = h.entries[:n-1]
	return e, true
}

// Clear empties the log.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.entries = make([]Entry, 0)
}

// Size returns the number of recorded entries.
func (h *History) Size() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.entries)
}

// At returns the entry for a move index.
func (h *History) At(index int) (Entry, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if index >= 0 && index < len(h.entries) {
		return h.entries[index], true
	}
	return Entry{}, false
}

// Entries returns a copy of the log, oldest first.
func (h *History) Entries() []Entry {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Entry, len(h.entries))
	copy(out, h.entries)
	return out
}
