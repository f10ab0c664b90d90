package game

import (
	"fmt"
	"strconv"
	"strings"
)

// LocationKind says which kind of pile a Location addresses.
type LocationKind uint8

const (
	KindColumn LocationKind = iota + 1
	KindFreeCell
	KindFoundation
)

func (k LocationKind) String() string {
	switch k {
	case KindColumn:
		return "column"
	case KindFreeCell:
		return "freeCell"
	case KindFoundation:
		return "foundation"
	default:
		return "unknown"
	}
}

// Location addresses one endpoint of a move: a column or free cell by
// index, or a foundation by suit.
type Location struct {
	Kind  LocationKind `json:"type"`
	Index int          `json:"index,omitempty"`
	Suit  Suit         `json:"suit,omitempty"`
}

func ColumnAt(i int) Location { return Location{Kind: KindColumn, Index: i} }
func FreeCellAt(i int) Location { return Location{Kind: KindFreeCell, Index: i} }
func FoundationOf(s Suit) Location { return Location{Kind: KindFoundation, Suit: s} }

// SameAs reports whether two locations address the same pile.
func (l Location) SameAs(o Location) bool {
	if l.Kind != o.Kind {
		return false
	}
	if l.Kind == KindFoundation {
		return l.Suit == o.Suit
	}
	return l.Index == o.Index
}

// Valid reports whether the location addresses an existing pile.
func (l Location) Valid() bool {
	switch l.Kind {
	case KindColumn:
		return l.Index >= 0 && l.Index < NumColumns
	case KindFreeCell:
		return l.Index >= 0 && l.Index < NumFreeCells
	case KindFoundation:
		return l.Suit.Valid()
	default:
		return false
	}
}

// String renders the short form accepted by ParseLocation: c0..c7, f0..f3,
// hS/hH/hD/hC.
func (l Location) String() string {
	switch l.Kind {
	case KindColumn:
		return "c" + strconv.Itoa(l.Index)
	case KindFreeCell:
		return "f" + strconv.Itoa(l.Index)
	case KindFoundation:
		return "h" + l.Suit.String()
	default:
		return "?"
	}
}

// ParseLocation parses the short form produced by String.
func ParseLocation(text string) (Location, error) {
	text = strings.TrimSpace(text)
	if len(text) < 2 {
		return Location{}, fmt.Errorf("invalid location %q", text)
	}
	head, rest := strings.ToLower(text[:1]), text[1:]
	var loc Location
	switch head {
	case "c", "f":
		i, err := strconv.Atoi(rest)
		if err != nil {
			return Location{}, fmt.Errorf("invalid location %q: %w", text, err)
		}
		if head == "c" {
			loc = ColumnAt(i)
		} else {
			loc = FreeCellAt(i)
		}
	case "h":
		s, err := ParseSuit(rest)
		if err != nil {
			return Location{}, fmt.Errorf("invalid location %q: %w", text, err)
		}
		loc = FoundationOf(s)
	default:
		return Location{}, fmt.Errorf("invalid location %q", text)
	}
	if !loc.Valid() {
		return Location{}, fmt.Errorf("location %q out of range", text)
	}
	return loc, nil
}
