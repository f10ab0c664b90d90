package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/cmhcmh79/freecell-vs/internal/game"
)

const (
	// DefaultRating is the rating of a player with no profile row.
	DefaultRating = 1000
	// DuelDelta is the rating moved from the loser to the winner of a duel.
	DuelDelta = 10
	// StageClearBonus is awarded for clearing a ranked ladder stage.
	StageClearBonus = 1
)

// GameType labels a stored result.
type GameType string

const (
	GameTypePvP    GameType = "pvp"
	GameTypeRanked GameType = "ranked"
	GameTypeSolo   GameType = "solo"
)

var ErrInvalidResult = errors.New("invalid result")

// DuelResult is the outcome of a finished duel, recorded by the winner.
type DuelResult struct {
	RoomCode    string
	Seed        int64
	WinnerID    string
	LoserID     string
	WinnerMoves int
	LoserMoves  int
	EndReason   string
	Duration    time.Duration
}

// SoloResult is a cleared solo game.
type SoloResult struct {
	PlayerID string
	Seed     int64
	Moves    int
	Duration time.Duration
}

// RatingChange is one rating_history row.
type RatingChange struct {
	PlayerID string
	Old      int
	New      int
}

// Delta returns the applied change, which differs from the requested one
// when the rating was clamped at zero.
func (c RatingChange) Delta() int { return c.New - c.Old }

// ApplyDelta adds delta to rating without going below zero.
func ApplyDelta(rating, delta int) int {
	if rating+delta < 0 {
		return 0
	}
	return rating + delta
}

// Standing is one leaderboard row.
type Standing struct {
	PlayerID    string
	DisplayName string
	Rating      int
	StagesClear int
}

// ResultSummary is one row of a player's recent games.
type ResultSummary struct {
	ID        int64
	RoomCode  string
	GameType  GameType
	Won       bool
	Moves     int
	Duration  time.Duration
	CreatedAt time.Time
}

// EnsureProfile creates the profile row if it does not exist and refreshes
// the display name when one is given.
func (db *DB) EnsureProfile(ctx context.Context, playerID, displayName string) error {
	_, err := db.pool.Exec(ctx, `
		INSERT INTO profiles (id, display_name) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE
		SET display_name = CASE WHEN EXCLUDED.display_name = '' THEN profiles.display_name
		                        ELSE EXCLUDED.display_name END,
		    updated_at = now()
	`, playerID, displayName)
	if err != nil {
		return fmt.Errorf("ensure profile %s: %w", playerID, err)
	}
	return nil
}

// Rating returns the player's rating, or DefaultRating without a profile.
func (db *DB) Rating(ctx context.Context, playerID string) (int, error) {
	var rating int
	err := db.pool.QueryRow(ctx, `SELECT rating FROM profiles WHERE id = $1`, playerID).Scan(&rating)
	if errors.Is(err, pgx.ErrNoRows) {
		return DefaultRating, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load rating %s: %w", playerID, err)
	}
	return rating, nil
}

// RecordDuel stores the result and moves DuelDelta rating points from the
// loser to the winner in one transaction.
func (db *DB) RecordDuel(ctx context.Context, r DuelResult) (winner, loser RatingChange, err error) {
	if r.WinnerID == "" || r.LoserID == "" || r.WinnerID == r.LoserID {
		return winner, loser, fmt.Errorf("%w: winner %q loser %q", ErrInvalidResult, r.WinnerID, r.LoserID)
	}

	err = pgx.BeginFunc(ctx, db.pool, func(tx pgx.Tx) error {
		for _, id := range []string{r.WinnerID, r.LoserID} {
			if err := ensureProfileTx(ctx, tx, id); err != nil {
				return err
			}
		}

		var resultID int64
		if err := tx.QueryRow(ctx, `
			INSERT INTO game_results (
				room_code, game_seed, game_type, end_reason, winner_id, loser_id,
				winner_moves, loser_moves, duration_seconds
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING id
		`,
			r.RoomCode, r.Seed, GameTypePvP, r.EndReason, r.WinnerID, r.LoserID,
			r.WinnerMoves, r.LoserMoves, int(r.Duration.Seconds()),
		).Scan(&resultID); err != nil {
			return fmt.Errorf("insert game result: %w", err)
		}

		var err error
		if winner, err = adjustRatingTx(ctx, tx, r.WinnerID, DuelDelta, GameTypePvP, &resultID); err != nil {
			return err
		}
		loser, err = adjustRatingTx(ctx, tx, r.LoserID, -DuelDelta, GameTypePvP, &resultID)
		return err
	})
	if err != nil {
		return RatingChange{}, RatingChange{}, fmt.Errorf("record duel: %w", err)
	}

	db.logger.Info("duel recorded",
		zap.String("room_code", r.RoomCode),
		zap.String("winner_id", r.WinnerID),
		zap.Int("winner_rating", winner.New),
		zap.String("loser_id", r.LoserID),
		zap.Int("loser_rating", loser.New),
	)
	return winner, loser, nil
}

// RecordSolo stores a cleared solo game. Solo games carry no rating.
func (db *DB) RecordSolo(ctx context.Context, r SoloResult) error {
	if r.PlayerID == "" {
		return fmt.Errorf("%w: empty player", ErrInvalidResult)
	}
	err := pgx.BeginFunc(ctx, db.pool, func(tx pgx.Tx) error {
		if err := ensureProfileTx(ctx, tx, r.PlayerID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO game_results (room_code, game_seed, game_type, winner_id, winner_moves, duration_seconds)
			VALUES ('SOLO', $1, $2, $3, $4, $5)
		`, r.Seed, GameTypeSolo, r.PlayerID, r.Moves, int(r.Duration.Seconds()))
		return err
	})
	if err != nil {
		return fmt.Errorf("record solo: %w", err)
	}
	return nil
}

// RecordStageClear stores a ranked ladder clear, awards StageClearBonus and
// advances the player's current stage.
func (db *DB) RecordStageClear(ctx context.Context, playerID string, stage game.Stage, moves int, d time.Duration) (RatingChange, error) {
	var change RatingChange
	err := pgx.BeginFunc(ctx, db.pool, func(tx pgx.Tx) error {
		if err := ensureProfileTx(ctx, tx, playerID); err != nil {
			return err
		}

		var resultID int64
		if err := tx.QueryRow(ctx, `
			INSERT INTO game_results (room_code, game_seed, game_type, winner_id, winner_moves, duration_seconds)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id
		`, fmt.Sprintf("RANKED-STAGE-%d", stage.Number), stage.Seed, GameTypeRanked,
			playerID, moves, int(d.Seconds()),
		).Scan(&resultID); err != nil {
			return fmt.Errorf("insert stage result: %w", err)
		}

		if _, err := tx.Exec(ctx, `
			UPDATE profiles
			SET solo_current_stage = GREATEST(solo_current_stage, $2),
			    solo_cleared_stages = CASE WHEN $3 = ANY(solo_cleared_stages) THEN solo_cleared_stages
			                               ELSE array_append(solo_cleared_stages, $3) END
			WHERE id = $1
		`, playerID, stage.Number+1, stage.Number); err != nil {
			return fmt.Errorf("advance stage: %w", err)
		}

		var err error
		change, err = adjustRatingTx(ctx, tx, playerID, StageClearBonus, GameTypeRanked, &resultID)
		return err
	})
	if err != nil {
		return RatingChange{}, fmt.Errorf("record stage clear: %w", err)
	}
	return change, nil
}

// CurrentStage returns the next ladder stage the player has to clear.
func (db *DB) CurrentStage(ctx context.Context, playerID string) (int, error) {
	var stage int
	err := db.pool.QueryRow(ctx, `SELECT solo_current_stage FROM profiles WHERE id = $1`, playerID).Scan(&stage)
	if errors.Is(err, pgx.ErrNoRows) {
		return 1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load stage %s: %w", playerID, err)
	}
	return stage, nil
}

// Leaderboard returns the top players by rating.
func (db *DB) Leaderboard(ctx context.Context, limit int) ([]Standing, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT id, display_name, rating, cardinality(solo_cleared_stages)
		FROM profiles
		ORDER BY rating DESC, id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query leaderboard: %w", err)
	}
	standings, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Standing, error) {
		var s Standing
		err := row.Scan(&s.PlayerID, &s.DisplayName, &s.Rating, &s.StagesClear)
		return s, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan leaderboard: %w", err)
	}
	return standings, nil
}

// RecentResults returns the player's latest games, newest first.
func (db *DB) RecentResults(ctx context.Context, playerID string, limit int) ([]ResultSummary, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT id, room_code, game_type, COALESCE(winner_id = $1, false),
		       CASE WHEN winner_id = $1 THEN winner_moves ELSE loser_moves END,
		       duration_seconds, created_at
		FROM game_results
		WHERE winner_id = $1 OR loser_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, playerID, limit)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ResultSummary, error) {
		var (
			r       ResultSummary
			seconds int
		)
		err := row.Scan(&r.ID, &r.RoomCode, &r.GameType, &r.Won, &r.Moves, &seconds, &r.CreatedAt)
		r.Duration = time.Duration(seconds) * time.Second
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan results: %w", err)
	}
	return results, nil
}

func ensureProfileTx(ctx context.Context, tx pgx.Tx, playerID string) error {
	if _, err := tx.Exec(ctx, `INSERT INTO profiles (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, playerID); err != nil {
		return fmt.Errorf("ensure profile %s: %w", playerID, err)
	}
	return nil
}

// adjustRatingTx locks the profile row, applies delta and logs the change.
func adjustRatingTx(ctx context.Context, tx pgx.Tx, playerID string, delta int, gameType GameType, resultID *int64) (RatingChange, error) {
	change := RatingChange{PlayerID: playerID}
	if err := tx.QueryRow(ctx, `SELECT rating FROM profiles WHERE id = $1 FOR UPDATE`, playerID).Scan(&change.Old); err != nil {
		return change, fmt.Errorf("lock rating %s: %w", playerID, err)
	}
	change.New = ApplyDelta(change.Old, delta)

	if _, err := tx.Exec(ctx, `UPDATE profiles SET rating = $2, updated_at = now() WHERE id = $1`, playerID, change.New); err != nil {
		return change, fmt.Errorf("update rating %s: %w", playerID, err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO rating_history (user_id, game_type, rating_change, old_rating, new_rating, game_result_id)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, playerID, gameType, change.Delta(), change.Old, change.New, resultID); err != nil {
		return change, fmt.Errorf("insert rating history %s: %w", playerID, err)
	}
	return change, nil
}
