package game

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateDeckUniqueAndReproducible(t *testing.T) {
	for _, seed := range []int64{0, 1, 42, 12345, 999999, 233280, 1 << 40, -1, -987654} {
		deck := GenerateDeck(seed)
		require.Len(t, deck, DeckSize, "seed %d", seed)

		seen := make(map[Card]bool, DeckSize)
		for _, c := range deck {
			assert.True(t, c.Suit.Valid() && c.Rank.Valid(), "seed %d produced %v", seed, c)
			assert.False(t, seen[c], "seed %d duplicated %s", seed, c)
			seen[c] = true
		}

		assert.Equal(t, deck, GenerateDeck(seed), "seed %d not reproducible", seed)
	}
}

func TestGenerateDeckGoldenDeal(t *testing.T) {
	s := NewGame(12345)

	assert.Equal(t, MustParseCards("5S 10C 3H 2S 7D JS 5C"), s.Columns[0])
	assert.Equal(t, MustParseCards("KH 7H 10D 8D AS 9S 4H"), s.Columns[1])
	assert.Equal(t, MustParseCards("8C JC 10H KS QS 3C"), s.Columns[4])
	assert.Equal(t, MustParseCards("6H 6D 3S 2C 7C QC"), s.Columns[7])

	zero := NewGame(0)
	assert.Equal(t, MustParseCards("AS KS 7S 9D 7D 4C 3H"), zero.Columns[0])
}

func TestDealShape(t *testing.T) {
	s := NewGame(7)
	for i, col := range s.Columns {
		if i < 4 {
			assert.Len(t, col, 7, "column %d", i)
		} else {
			assert.Len(t, col, 6, "column %d", i)
		}
	}
	assert.Equal(t, NumFreeCells, EmptyFreeCells(s))
	assert.Zero(t, CompletedCount(s))
	assert.Zero(t, s.Moves)
	require.NoError(t, CheckIntegrity(s))
}

func TestNormalizeSeed(t *testing.T) {
	assert.Equal(t, int64(0), NormalizeSeed(0))
	assert.Equal(t, int64(12345), NormalizeSeed(12345))
	assert.Equal(t, int64(233279), NormalizeSeed(-1))
	assert.Equal(t, int64(1), NormalizeSeed(233281))

	assert.Equal(t, GenerateDeck(233279), GenerateDeck(-1))
	assert.Equal(t, GenerateDeck(5), GenerateDeck(5+233280))
}

func TestStageByNumber(t *testing.T) {
	stage, err := StageByNumber(1)
	require.NoError(t, err)
	assert.Equal(t, int64(12345), stage.Seed)

	last, err := StageByNumber(len(Stages))
	require.NoError(t, err)
	assert.Equal(t, "Grandmaster", last.Name)

	_, err = StageByNumber(0)
	assert.Error(t, err)
	_, err = StageByNumber(len(Stages) + 1)
	assert.Error(t, err)
}
