package migrations

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(
		func(ctx context.Context, db *bun.DB) error {
			fmt.Println("Adding game indices...")
			stmts := []string{
				`CREATE INDEX IF NOT EXISTS idx_games_waiting_deadline ON games (waiting_deadline) WHERE matchmaking_status = 'WAITING'`,
				`CREATE INDEX IF NOT EXISTS idx_games_matchmaking ON games (game_type, matchmaking_status, created_at)`,
				`CREATE INDEX IF NOT EXISTS idx_game_players_game ON game_players (game_id) WHERE leave_time IS NULL`,
				`CREATE INDEX IF NOT EXISTS idx_game_players_user ON game_players (user_id) WHERE leave_time IS NULL`,
				`CREATE INDEX IF NOT EXISTS idx_game_events_game ON game_events (game_id, id)`,
			}
			for _, stmt := range stmts {
				if _, err := db.ExecContext(ctx, stmt); err != nil {
					return fmt.Errorf("failed to add index: %w", err)
				}
			}
			fmt.Println("Game indices added successfully")
			return nil
		},
		func(ctx context.Context, db *bun.DB) error {
			fmt.Println("Dropping game indices...")
			stmts := []string{
				`DROP INDEX IF EXISTS idx_games_waiting_deadline`,
				`DROP INDEX IF EXISTS idx_games_matchmaking`,
				`DROP INDEX IF EXISTS idx_game_players_game`,
				`DROP INDEX IF EXISTS idx_game_players_user`,
				`DROP INDEX IF EXISTS idx_game_events_game`,
			}
			for _, stmt := range stmts {
				if _, err := db.ExecContext(ctx, stmt); err != nil {
					return fmt.Errorf("failed to drop index: %w", err)
				}
			}
			return nil
		},
	)
}
