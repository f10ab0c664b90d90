package repository

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// schema is idempotent; Migrate can run on every start.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS profiles (
		id                  TEXT PRIMARY KEY,
		display_name        TEXT NOT NULL DEFAULT '',
		rating              INTEGER NOT NULL DEFAULT 1000,
		solo_current_stage  INTEGER NOT NULL DEFAULT 1,
		solo_cleared_stages INTEGER[] NOT NULL DEFAULT '{}',
		created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS game_results (
		id               BIGSERIAL PRIMARY KEY,
		room_code        TEXT NOT NULL,
		game_seed        BIGINT NOT NULL,
		game_type        TEXT NOT NULL,
		end_reason       TEXT NOT NULL DEFAULT '',
		winner_id        TEXT REFERENCES profiles(id),
		loser_id         TEXT REFERENCES profiles(id),
		winner_moves     INTEGER NOT NULL DEFAULT 0,
		loser_moves      INTEGER NOT NULL DEFAULT 0,
		duration_seconds INTEGER NOT NULL DEFAULT 0,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS game_results_winner_idx ON game_results (winner_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS game_results_loser_idx ON game_results (loser_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS rating_history (
		id             BIGSERIAL PRIMARY KEY,
		user_id        TEXT NOT NULL REFERENCES profiles(id),
		game_type      TEXT NOT NULL,
		rating_change  INTEGER NOT NULL,
		old_rating     INTEGER NOT NULL,
		new_rating     INTEGER NOT NULL,
		game_result_id BIGINT REFERENCES game_results(id),
		created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS rating_history_user_idx ON rating_history (user_id, created_at DESC)`,
}

// Migrate creates the tables.
func (db *DB) Migrate(ctx context.Context) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, stmt := range schema {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit migration: %w", err)
	}
	db.logger.Info("database schema up to date", zap.Int("statements", len(schema)))
	return nil
}
