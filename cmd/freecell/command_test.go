package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cmhcmh79/freecell-vs/internal/game"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		line string
		want Command
	}{
		{"c3 c5", Command{Kind: CmdMove, From: game.ColumnAt(3), To: game.ColumnAt(5)}},
		{"  C0   F3 ", Command{Kind: CmdMove, From: game.ColumnAt(0), To: game.FreeCellAt(3)}},
		{"f1 hh", Command{Kind: CmdMove, From: game.FreeCellAt(1), To: game.FoundationOf(game.Heart)}},
		{"c7 h", Command{Kind: CmdMove, From: game.ColumnAt(7), AnyFoundation: true}},
		{"c2", Command{Kind: CmdSelect, From: game.ColumnAt(2)}},
		{"u", Command{Kind: CmdUndo}},
		{"reset", Command{Kind: CmdReset}},
		{"s", Command{Kind: CmdSurrender}},
		{"ready", Command{Kind: CmdReady}},
		{"?", Command{Kind: CmdHelp}},
		{"quit", Command{Kind: CmdQuit}},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := ParseCommand(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseCommandErrors(t *testing.T) {
	for _, line := range []string{"", "c9 c0", "x1", "c1 c2 c3", "f4", "hX c1"} {
		_, err := ParseCommand(line)
		assert.Error(t, err, "%q", line)
	}
}

func TestResolveFoundation(t *testing.T) {
	s := game.NewGame(12345)

	// column 0 of seed 12345 ends with 5C
	loc, err := ResolveFoundation(s, game.ColumnAt(0))
	require.NoError(t, err)
	assert.Equal(t, game.FoundationOf(game.Club), loc)

	_, err = ResolveFoundation(s, game.FreeCellAt(0))
	assert.Error(t, err, "empty free cell")

	s.FreeCells[2] = game.Card{Suit: game.Diamond, Rank: 1}
	loc, err = ResolveFoundation(s, game.FreeCellAt(2))
	require.NoError(t, err)
	assert.Equal(t, game.FoundationOf(game.Diamond), loc)

	_, err = ResolveFoundation(s, game.FoundationOf(game.Spade))
	assert.Error(t, err)
}
