package rules

import (
	"errors"
	"fmt"

	"github.com/cmhcmh79/freecell-vs/internal/game"
)

// ErrIllegalMove is returned for any placement the rules reject.
var ErrIllegalMove = errors.New("illegal move")

// Apply computes the board after moving from one location to another. It
// returns the new board and how many cards moved. Move counting and
// automatic promotion are left to the caller.
//
// Supported moves are column to column (as a super-move), free cell to
// column, column to free cell, and column or free cell to foundation.
func Apply(s game.State, from, to game.Location) (game.State, int, error) {
	if !from.Valid() || !to.Valid() {
		return s, 0, fmt.Errorf("%w: location out of range", ErrIllegalMove)
	}
	if from.SameAs(to) {
		return s, 0, fmt.Errorf("%w: source and destination are the same", ErrIllegalMove)
	}

	switch {
	case from.Kind == game.KindColumn && to.Kind == game.KindColumn:
		return columnToColumn(s, from.Index, to.Index)
	case from.Kind == game.KindFreeCell && to.Kind == game.KindColumn:
		card := s.FreeCells[from.Index]
		if card.IsZero() || !CanPlaceOnColumn(card, s.Columns[to.Index]) {
			return s, 0, fmt.Errorf("%w: %s cannot go on %s", ErrIllegalMove, card, to)
		}
		s.Columns[to.Index] = game.Push(s.Columns[to.Index], card)
		s.FreeCells[from.Index] = game.Card{}
		return s, 1, nil
	case from.Kind == game.KindColumn && to.Kind == game.KindFreeCell:
		card, ok := game.Top(s.Columns[from.Index])
		if !ok || !s.FreeCells[to.Index].IsZero() {
			return s, 0, fmt.Errorf("%w: %s to occupied or from empty pile", ErrIllegalMove, to)
		}
		s.FreeCells[to.Index] = card
		s.Columns[from.Index] = game.Pop(s.Columns[from.Index], 1)
		return s, 1, nil
	case from.Kind == game.KindColumn && to.Kind == game.KindFoundation:
		card, ok := game.Top(s.Columns[from.Index])
		if !ok || !canFound(card, s, to.Suit) {
			return s, 0, fmt.Errorf("%w: %s cannot go on %s", ErrIllegalMove, card, to)
		}
		s.Foundations[to.Suit] = game.Push(s.Foundations[to.Suit], card)
		s.Columns[from.Index] = game.Pop(s.Columns[from.Index], 1)
		return s, 1, nil
	case from.Kind == game.KindFreeCell && to.Kind == game.KindFoundation:
		card := s.FreeCells[from.Index]
		if card.IsZero() || !canFound(card, s, to.Suit) {
			return s, 0, fmt.Errorf("%w: %s cannot go on %s", ErrIllegalMove, card, to)
		}
		s.Foundations[to.Suit] = game.Push(s.Foundations[to.Suit], card)
		s.FreeCells[from.Index] = game.Card{}
		return s, 1, nil
	default:
		return s, 0, fmt.Errorf("%w: %s to %s is not supported", ErrIllegalMove, from.Kind, to.Kind)
	}
}

// canFound checks a foundation placement addressed by suit. A card only
// ever goes on its own suit's pile.
func canFound(card game.Card, s game.State, suit game.Suit) bool {
	return card.Suit == suit && CanPlaceOnFoundation(card, s.Foundations[suit])
}

func columnToColumn(s game.State, from, to int) (game.State, int, error) {
	sequence := MovableSequence(s.Columns[from])
	if len(sequence) == 0 {
		return s, 0, fmt.Errorf("%w: column %d is empty", ErrIllegalMove, from)
	}
	run := superMoveRun(sequence, MaxMovableCards(s, to), s.Columns[to])
	if len(run) == 0 {
		return s, 0, fmt.Errorf("%w: nothing in column %d fits column %d", ErrIllegalMove, from, to)
	}
	s.Columns[to] = game.Push(s.Columns[to], run...)
	s.Columns[from] = game.Pop(s.Columns[from], len(run))
	return s, len(run), nil
}
