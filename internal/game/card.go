package game

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Suit identifies one of the four French suits.
// The order matches the suit-major order of a freshly built deck.
type Suit uint8

const (
	Spade Suit = iota
	Heart
	Diamond
	Club
)

// Suits lists every suit in deck order.
var Suits = [4]Suit{Spade, Heart, Diamond, Club}

var suitCodes = [4]string{"S", "H", "D", "C"}

func (s Suit) String() string {
	if int(s) < len(suitCodes) {
		return suitCodes[s]
	}
	return "?"
}

// Red reports whether the suit is hearts or diamonds.
func (s Suit) Red() bool {
	return s == Heart || s == Diamond
}

// Valid reports whether s is one of the four suits.
func (s Suit) Valid() bool {
	return int(s) < len(suitCodes)
}

// ParseSuit parses a suit code (S, H, D, C), case-insensitively.
func ParseSuit(code string) (Suit, error) {
	for i, c := range suitCodes {
		if strings.EqualFold(c, code) {
			return Suit(i), nil
		}
	}
	return 0, fmt.Errorf("unknown suit %q", code)
}

func (s Suit) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid suit %d", s)
	}
	return []byte(s.String()), nil
}

func (s *Suit) UnmarshalText(text []byte) error {
	parsed, err := ParseSuit(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Rank is the face value of a card, Ace (1) through King (13).
// The zero Rank marks an absent card.
type Rank uint8

const (
	Ace   Rank = 1
	Jack  Rank = 11
	Queen Rank = 12
	King  Rank = 13
)

var rankCodes = [14]string{"", "A", "2", "3", "4", "5", "6", "7", "8", "9", "10", "J", "Q", "K"}

func (r Rank) String() string {
	if int(r) < len(rankCodes) && r != 0 {
		return rankCodes[r]
	}
	return "?"
}

// Valid reports whether r is within Ace..King.
func (r Rank) Valid() bool {
	return r >= Ace && r <= King
}

// ParseRank parses a rank code (A, 2..10, J, Q, K).
func ParseRank(code string) (Rank, error) {
	for i := 1; i < len(rankCodes); i++ {
		if strings.EqualFold(rankCodes[i], code) {
			return Rank(i), nil
		}
	}
	return 0, fmt.Errorf("unknown rank %q", code)
}

// Card is a single playing card. The zero Card is "no card" and is how
// an empty free cell is represented.
type Card struct {
	Suit Suit
	Rank Rank
}

// IsZero reports whether c is the empty card.
func (c Card) IsZero() bool {
	return c.Rank == 0
}

// Red reports whether the card is red.
func (c Card) Red() bool {
	return c.Suit.Red()
}

// String renders the card as rank followed by suit, e.g. "10H" or "AS".
func (c Card) String() string {
	if c.IsZero() {
		return "--"
	}
	return c.Rank.String() + c.Suit.String()
}

// ParseCard parses the String form of a card.
func ParseCard(text string) (Card, error) {
	if len(text) < 2 {
		return Card{}, fmt.Errorf("invalid card %q", text)
	}
	rank, err := ParseRank(text[:len(text)-1])
	if err != nil {
		return Card{}, fmt.Errorf("invalid card %q: %w", text, err)
	}
	suit, err := ParseSuit(text[len(text)-1:])
	if err != nil {
		return Card{}, fmt.Errorf("invalid card %q: %w", text, err)
	}
	return Card{Suit: suit, Rank: rank}, nil
}

// MustParseCards parses a space separated card list. It panics on bad
// input and is meant for fixtures.
func MustParseCards(text string) []Card {
	fields := strings.Fields(text)
	cards := make([]Card, 0, len(fields))
	for _, f := range fields {
		c, err := ParseCard(f)
		if err != nil {
			panic(err)
		}
		cards = append(cards, c)
	}
	return cards
}

type wireCard struct {
	Suit  Suit   `json:"suit"`
	Value string `json:"value"`
}

// MarshalJSON encodes the card as {"suit":"S","value":"10"}. The empty card
// encodes as null.
func (c Card) MarshalJSON() ([]byte, error) {
	if c.IsZero() {
		return []byte("null"), nil
	}
	if !c.Rank.Valid() || !c.Suit.Valid() {
		return nil, fmt.Errorf("invalid card %d/%d", c.Suit, c.Rank)
	}
	return json.Marshal(wireCard{Suit: c.Suit, Value: c.Rank.String()})
}

func (c *Card) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*c = Card{}
		return nil
	}
	var w wireCard
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	rank, err := ParseRank(w.Value)
	if err != nil {
		return err
	}
	*c = Card{Suit: w.Suit, Rank: rank}
	return nil
}
