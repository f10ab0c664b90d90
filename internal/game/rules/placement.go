// Package rules implements FreeCell legality: single-card placement,
// super-move capacity, automatic promotion and win detection. Every
// function is pure over game.State values.
package rules

import "github.com/cmhcmh79/freecell-vs/internal/game"

// CanPlaceOnColumn reports whether card may go on top of column: the column
// is empty, or its top card has the opposite color and is one rank higher.
func CanPlaceOnColumn(card game.Card, column []game.Card) bool {
	top, ok := game.Top(column)
	if !ok {
		return true
	}
	return card.Red() != top.Red() && card.Rank+1 == top.Rank
}

// CanPlaceOnFoundation reports whether card continues foundation: an Ace on
// an empty pile, or the next rank of the same suit.
func CanPlaceOnFoundation(card game.Card, foundation []game.Card) bool {
	top, ok := game.Top(foundation)
	if !ok {
		return card.Rank == game.Ace
	}
	return card.Suit == top.Suit && card.Rank == top.Rank+1
}

// CheckWin reports whether every foundation is complete.
func CheckWin(s game.State) bool {
	for _, f := range s.Foundations {
		if len(f) != game.SuitSize {
			return false
		}
	}
	return true
}

// AutoPromote moves column tops and free-cell cards onto their foundations
// until nothing else can move. Moves is left untouched.
func AutoPromote(s game.State) game.State {
	for {
		moved := false
		for i, col := range s.Columns {
			top, ok := game.Top(col)
			if ok && CanPlaceOnFoundation(top, s.Foundations[top.Suit]) {
				s.Foundations[top.Suit] = game.Push(s.Foundations[top.Suit], top)
				s.Columns[i] = game.Pop(col, 1)
				moved = true
			}
		}
		for i, c := range s.FreeCells {
			if !c.IsZero() && CanPlaceOnFoundation(c, s.Foundations[c.Suit]) {
				s.Foundations[c.Suit] = game.Push(s.Foundations[c.Suit], c)
				s.FreeCells[i] = game.Card{}
				moved = true
			}
		}
		if !moved {
			return s
		}
	}
}
