package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cmhcmh79/freecell-vs/internal/config"
	"github.com/cmhcmh79/freecell-vs/internal/game"
)

func TestApplyDelta(t *testing.T) {
	tests := []struct {
		rating, delta, want int
	}{
		{1000, DuelDelta, 1010},
		{1000, -DuelDelta, 990},
		{5, -DuelDelta, 0},
		{0, -DuelDelta, 0},
		{1999, StageClearBonus, 2000},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ApplyDelta(tt.rating, tt.delta), "%d%+d", tt.rating, tt.delta)
	}

	assert.Equal(t, -5, RatingChange{Old: 5, New: 0}.Delta(), "clamped change records what was applied")
}

// openTestDB connects to FREECELL_TEST_DATABASE_URL or skips.
func openTestDB(t *testing.T) *DB {
	t.Helper()
	url := os.Getenv("FREECELL_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("FREECELL_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	db, err := NewDB(ctx, config.DatabaseConfig{URL: url, MaxConns: 4}, nil)
	require.NoError(t, err)
	t.Cleanup(db.Close)
	require.NoError(t, db.Migrate(ctx))
	return db
}

func TestRecordDuel(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	winnerID, loserID := uuid.NewString(), uuid.NewString()
	require.NoError(t, db.EnsureProfile(ctx, winnerID, "Alice"))

	rating, err := db.Rating(ctx, loserID)
	require.NoError(t, err)
	assert.Equal(t, DefaultRating, rating, "missing profile has the default rating")

	winner, loser, err := db.RecordDuel(ctx, DuelResult{
		RoomCode: "123456", Seed: 42, WinnerID: winnerID, LoserID: loserID,
		WinnerMoves: 88, LoserMoves: 60, EndReason: "WIN", Duration: 3 * time.Minute,
	})
	require.NoError(t, err)
	assert.Equal(t, RatingChange{PlayerID: winnerID, Old: 1000, New: 1010}, winner)
	assert.Equal(t, RatingChange{PlayerID: loserID, Old: 1000, New: 990}, loser)

	rating, err = db.Rating(ctx, winnerID)
	require.NoError(t, err)
	assert.Equal(t, 1010, rating)

	recent, err := db.RecentResults(ctx, loserID, 5)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.False(t, recent[0].Won)
	assert.Equal(t, 60, recent[0].Moves)
	assert.Equal(t, GameTypePvP, recent[0].GameType)

	_, _, err = db.RecordDuel(ctx, DuelResult{WinnerID: winnerID, LoserID: winnerID})
	assert.ErrorIs(t, err, ErrInvalidResult)
}

func TestRecordStageClear(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	playerID := uuid.NewString()

	stage, err := game.StageByNumber(1)
	require.NoError(t, err)

	change, err := db.RecordStageClear(ctx, playerID, stage, 100, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, StageClearBonus, change.Delta())

	current, err := db.CurrentStage(ctx, playerID)
	require.NoError(t, err)
	assert.Equal(t, 2, current)

	// clearing an old stage again does not move the ladder back
	_, err = db.RecordStageClear(ctx, playerID, stage, 90, time.Minute)
	require.NoError(t, err)
	current, err = db.CurrentStage(ctx, playerID)
	require.NoError(t, err)
	assert.Equal(t, 2, current)

	require.NoError(t, db.RecordSolo(ctx, SoloResult{PlayerID: playerID, Seed: 7, Moves: 120, Duration: time.Minute}))
	recent, err := db.RecentResults(ctx, playerID, 10)
	require.NoError(t, err)
	assert.Len(t, recent, 3)

	board, err := db.Leaderboard(ctx, 1000)
	require.NoError(t, err)
	found := false
	for _, s := range board {
		if s.PlayerID == playerID {
			found = true
			assert.Equal(t, 1, s.StagesClear)
			assert.Equal(t, DefaultRating+2*StageClearBonus, s.Rating)
		}
	}
	assert.True(t, found)
}
