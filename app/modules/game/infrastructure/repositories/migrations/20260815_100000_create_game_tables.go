package migrations

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	gamedomain "github.com/parlorgames/arena-backend/app/modules/game/domain"
)

func init() {
	Migrations.MustRegister(
		func(ctx context.Context, db *bun.DB) error {
			fmt.Println("Creating games, game_players, game_events tables...")
			if _, err := db.NewCreateTable().Model((*gamedomain.Game)(nil)).IfNotExists().Exec(ctx); err != nil {
				return fmt.Errorf("failed to create games table: %w", err)
			}
			if _, err := db.NewCreateTable().Model((*gamedomain.GamePlayer)(nil)).IfNotExists().Exec(ctx); err != nil {
				return fmt.Errorf("failed to create game_players table: %w", err)
			}
			if _, err := db.NewCreateTable().Model((*gamedomain.GameEvent)(nil)).IfNotExists().Exec(ctx); err != nil {
				return fmt.Errorf("failed to create game_events table: %w", err)
			}
			fmt.Println("Game tables created successfully!")
			return nil
		},
		func(ctx context.Context, db *bun.DB) error {
			fmt.Println("Dropping game tables...")
			if _, err := db.NewDropTable().Model((*gamedomain.GameEvent)(nil)).IfExists().Exec(ctx); err != nil {
				return err
			}
			if _, err := db.NewDropTable().Model((*gamedomain.GamePlayer)(nil)).IfExists().Exec(ctx); err != nil {
				return err
			}
			if _, err := db.NewDropTable().Model((*gamedomain.Game)(nil)).IfExists().Cascade().Exec(ctx); err != nil {
				return err
			}
			fmt.Println("Game tables dropped successfully!")
			return nil
		},
	)
}
