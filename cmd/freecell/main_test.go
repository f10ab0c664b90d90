package main

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cmhcmh79/freecell-vs/internal/config"
)

func TestResolveIdentity(t *testing.T) {
	got := resolveIdentity(config.ClientConfig{PlayerID: "p-1", DisplayName: "  Ann "}, false)
	assert.Equal(t, identity{ID: "p-1", Name: "Ann"}, got)

	got = resolveIdentity(config.ClientConfig{PlayerID: "ab"}, false)
	assert.Equal(t, "Player-ab", got.Name)

	got = resolveIdentity(config.ClientConfig{}, false)
	_, err := uuid.Parse(got.ID)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got.Name, "Player-"))
	assert.Len(t, got.Name, len("Player-")+shortIDSize)
}

func TestNewInputClosesAtEOF(t *testing.T) {
	in := newInput(strings.NewReader("c0 f0\nu\n"))

	var lines []string
	for line := range in.lines {
		lines = append(lines, line)
	}
	assert.Equal(t, []string{"c0 f0", "u"}, lines)
}
