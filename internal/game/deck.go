package game

// LCG parameters of the shuffle. Every client must use exactly these so a
// seed produces the same deal everywhere.
const (
	lcgMultiplier = 9301
	lcgIncrement  = 49297
	lcgModulus    = 233280
)

// NewDeck returns the 52 cards in suit-major, rank-ascending order.
func NewDeck() []Card {
	deck := make([]Card, 0, DeckSize)
	for _, s := range Suits {
		for r := Ace; r <= King; r++ {
			deck = append(deck, Card{Suit: s, Rank: r})
		}
	}
	return deck
}

// NormalizeSeed maps any integer seed into the LCG state space. For
// non-negative seeds the resulting shuffle is identical to feeding the raw
// seed to the recurrence.
func NormalizeSeed(seed int64) int64 {
	r := seed % lcgModulus
	if r < 0 {
		r += lcgModulus
	}
	return r
}

// GenerateDeck shuffles a fresh deck with a Fisher-Yates pass driven by the
// r = (r*9301 + 49297) mod 233280 generator.
func GenerateDeck(seed int64) []Card {
	deck := NewDeck()
	r := NormalizeSeed(seed)
	for i := len(deck) - 1; i > 0; i-- {
		r = (r*lcgMultiplier + lcgIncrement) % lcgModulus
		j := int(r % int64(i+1))
		deck[i], deck[j] = deck[j], deck[i]
	}
	return deck
}

// Deal lays the deck out round-robin: card k goes to column k mod 8.
func Deal(deck []Card) State {
	var s State
	for k, c := range deck {
		col := k % NumColumns
		s.Columns[col] = append(s.Columns[col], c)
	}
	return s
}

// NewGame returns the opening board for a seed.
func NewGame(seed int64) State {
	return Deal(GenerateDeck(seed))
}
