package match

import "github.com/cmhcmh79/freecell-vs/internal/game"

// Slot names a seat in a duel.
type Slot string

const (
	Player1 Slot = "player1"
	Player2 Slot = "player2"
)

// SlotFor maps the caller's "am I player 1" flag to a slot.
func SlotFor(isPlayer1 bool) Slot {
	if isPlayer1 {
		return Player1
	}
	return Player2
}

// Other returns the opposing slot.
func (s Slot) Other() Slot {
	if s == Player1 {
		return Player2
	}
	return Player1
}

// Valid reports whether s is one of the two seats.
func (s Slot) Valid() bool {
	return s == Player1 || s == Player2
}

// ResolveTimeout decides a duel whose clock ran out, from the point of view
// of the player in slot. More cards on the foundations wins; an exact tie
// goes to player1, so both peers reach the same verdict independently.
func ResolveTimeout(local, remote game.State, slot Slot) bool {
	mine, theirs := game.CompletedCount(local), game.CompletedCount(remote)
	if mine != theirs {
		return mine > theirs
	}
	return slot == Player1
}
