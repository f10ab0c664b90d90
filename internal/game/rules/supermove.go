package rules

import "github.com/cmhcmh79/freecell-vs/internal/game"

// MaxMovableCards is the super-move capacity for a move into toColumn:
// (empty free cells + 1) * 2^(empty columns). An empty destination does
// not count as free space for its own move.
func MaxMovableCards(s game.State, toColumn int) int {
	emptyColumns := game.EmptyColumns(s)
	if toColumn >= 0 && toColumn < game.NumColumns && len(s.Columns[toColumn]) == 0 && emptyColumns > 0 {
		emptyColumns--
	}
	return (game.EmptyFreeCells(s) + 1) << emptyColumns
}

// MovableSequence returns the longest suffix of column in which every card
// is one rank lower than, and the opposite color of, the card beneath it.
// The result aliases column and must not be modified.
func MovableSequence(column []game.Card) []game.Card {
	if len(column) == 0 {
		return nil
	}
	start := len(column) - 1
	for start > 0 {
		above, below := column[start], column[start-1]
		if above.Red() == below.Red() || above.Rank+1 != below.Rank {
			break
		}
		start--
	}
	return column[start:]
}

// superMoveRun picks the cards a column-to-column move carries: the longest
// suffix of the movable sequence that fits the capacity and whose first
// card can be placed on dest. It returns nil when no such suffix exists.
func superMoveRun(sequence []game.Card, capacity int, dest []game.Card) []game.Card {
	if capacity < len(sequence) {
		sequence = sequence[len(sequence)-capacity:]
	}
	for i := range sequence {
		if CanPlaceOnColumn(sequence[i], dest) {
			return sequence[i:]
		}
	}
	return nil
}
