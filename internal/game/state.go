package game

import (
	"encoding/json"
	"fmt"
)

const (
	// NumColumns is the number of tableau columns.
	NumColumns = 8
	// NumFreeCells is the number of single-card holding slots.
	NumFreeCells = 4
	// DeckSize is the number of cards in play.
	DeckSize = 52
	// SuitSize is the number of cards a complete foundation holds.
	SuitSize = 13
)

// State is one player's board. It is a value: slices inside a State are
// never written after the State is built, so copies share storage safely.
// Code that derives a new State must allocate fresh slices for every pile
// it changes (see Push and Pop).
type State struct {
	Columns     [NumColumns][]Card
	FreeCells   [NumFreeCells]Card
	Foundations Foundations
	Moves       int
}

// Foundations holds the four per-suit piles, indexed by Suit.
type Foundations [4][]Card

// Of returns the pile for a suit.
func (f Foundations) Of(s Suit) []Card {
	return f[s]
}

// MarshalJSON encodes the piles as an object keyed by suit code.
func (f Foundations) MarshalJSON() ([]byte, error) {
	out := make(map[string][]Card, len(Suits))
	for _, s := range Suits {
		pile := f[s]
		if pile == nil {
			pile = []Card{}
		}
		out[s.String()] = pile
	}
	return json.Marshal(out)
}

func (f *Foundations) UnmarshalJSON(data []byte) error {
	var in map[string][]Card
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	var out Foundations
	for code, pile := range in {
		s, err := ParseSuit(code)
		if err != nil {
			return fmt.Errorf("foundations: %w", err)
		}
		if len(pile) > 0 {
			out[s] = pile
		}
	}
	*f = out
	return nil
}

type wireState struct {
	Columns     [][]Card    `json:"columns"`
	FreeCells   []Card      `json:"freeCells"`
	Foundations Foundations `json:"foundations"`
	Moves       int         `json:"moves"`
}

// MarshalJSON encodes the board in the peer wire format.
func (s State) MarshalJSON() ([]byte, error) {
	w := wireState{
		Columns:     make([][]Card, NumColumns),
		FreeCells:   s.FreeCells[:],
		Foundations: s.Foundations,
		Moves:       s.Moves,
	}
	for i, col := range s.Columns {
		if col == nil {
			col = []Card{}
		}
		w.Columns[i] = col
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the peer wire format. Boards with the wrong number
// of columns or free cells are rejected.
func (s *State) UnmarshalJSON(data []byte) error {
	var w wireState
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if len(w.Columns) != NumColumns {
		return fmt.Errorf("expected %d columns, got %d", NumColumns, len(w.Columns))
	}
	if len(w.FreeCells) != NumFreeCells {
		return fmt.Errorf("expected %d free cells, got %d", NumFreeCells, len(w.FreeCells))
	}
	var out State
	for i, col := range w.Columns {
		if len(col) > 0 {
			out.Columns[i] = col
		}
	}
	copy(out.FreeCells[:], w.FreeCells)
	out.Foundations = w.Foundations
	out.Moves = w.Moves
	*s = out
	return nil
}

// Top returns the last card of a pile.
func Top(pile []Card) (Card, bool) {
	if len(pile) == 0 {
		return Card{}, false
	}
	return pile[len(pile)-1], true
}

// Push returns a new pile with cards appended. The input is not modified.
func Push(pile []Card, cards ...Card) []Card {
	out := make([]Card, len(pile)+len(cards))
	copy(out, pile)
	copy(out[len(pile):], cards)
	return out
}

// Pop returns a new pile with the last n cards removed.
func Pop(pile []Card, n int) []Card {
	if n >= len(pile) {
		return nil
	}
	out := make([]Card, len(pile)-n)
	copy(out, pile)
	return out
}

// CompletedCount is the number of cards on foundations.
func CompletedCount(s State) int {
	n := 0
	for _, f := range s.Foundations {
		n += len(f)
	}
	return n
}

// EmptyFreeCells counts unoccupied free cells.
func EmptyFreeCells(s State) int {
	n := 0
	for _, c := range s.FreeCells {
		if c.IsZero() {
			n++
		}
	}
	return n
}

// EmptyColumns counts columns without cards.
func EmptyColumns(s State) int {
	n := 0
	for _, col := range s.Columns {
		if len(col) == 0 {
			n++
		}
	}
	return n
}

// AllCards returns every card on the board: columns, occupied free cells,
// then foundations.
func AllCards(s State) []Card {
	cards := make([]Card, 0, DeckSize)
	for _, col := range s.Columns {
		cards = append(cards, col...)
	}
	for _, c := range s.FreeCells {
		if !c.IsZero() {
			cards = append(cards, c)
		}
	}
	for _, f := range s.Foundations {
		cards = append(cards, f...)
	}
	return cards
}

// CheckIntegrity verifies that the board holds each of the 52 cards exactly
// once and that every foundation pile matches its suit.
func CheckIntegrity(s State) error {
	var seen [4][14]bool
	count := 0
	for _, c := range AllCards(s) {
		if !c.Suit.Valid() || !c.Rank.Valid() {
			return fmt.Errorf("invalid card %d/%d", c.Suit, c.Rank)
		}
		if seen[c.Suit][c.Rank] {
			return fmt.Errorf("duplicate card %s", c)
		}
		seen[c.Suit][c.Rank] = true
		count++
	}
	if count != DeckSize {
		return fmt.Errorf("expected %d cards, found %d", DeckSize, count)
	}
	for _, suit := range Suits {
		for i, c := range s.Foundations[suit] {
			if c.Suit != suit || c.Rank != Rank(i+1) {
				return fmt.Errorf("foundation %s out of order at %d", suit, i)
			}
		}
	}
	return nil
}
