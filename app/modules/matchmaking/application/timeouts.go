package matchmakingservice

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	gameservice "github.com/parlorgames/arena-backend/app/modules/game/application"
	gamedomain "github.com/parlorgames/arena-backend/app/modules/game/domain"
	gamedb "github.com/parlorgames/arena-backend/app/modules/game/infrastructure/repositories"
	"github.com/parlorgames/arena-backend/app/shared"
	"github.com/parlorgames/arena-backend/app/shared/attr"
)

// HandleWaitingTimeouts resolves every WAITING game whose deadline has
// passed: rooms that can reach the minimum seat count (with system
// backfill where the config allows it) are started, the rest are
// cancelled. Failures are isolated per game so one poisoned row cannot
// stall the sweep. Returns the games this call started, in their fresh
// post-start form.
func (s *MatchmakingService) HandleWaitingTimeouts(ctx context.Context) ([]*gamedomain.Game, error) {
	expired, err := s.repo.ListExpiredWaitingGames(ctx, s.db, s.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to list expired waiting games: %w", err)
	}

	var started []*gamedomain.Game
	for _, game := range expired {
		startedGame, err := s.resolveExpiredGame(ctx, game.ID)
		if err != nil {
			if errors.Is(err, gamedb.ErrAlreadyProcessing) {
				// Another actor holds the row; it will resolve it or the
				// next sweep will.
				continue
			}
			s.logger.ErrorContext(ctx, "Failed to resolve expired waiting game",
				attr.String("game_id", game.ID.String()),
				attr.Error(err),
			)
			continue
		}
		if startedGame != nil {
			started = append(started, startedGame)
		}
	}
	return started, nil
}

// resolveExpiredGame handles one deadline under the processing lock,
// returning the started game when the resolution was a start. The lock is
// released before any start attempt because the orchestrator acquires it
// again itself.
func (s *MatchmakingService) resolveExpiredGame(ctx context.Context, gameID shared.GameID) (*gamedomain.Game, error) {
	startAfter := false

	err := s.withGameLock(ctx, gameID, func(ctx context.Context, game *gamedomain.Game) error {
		now := s.clock.Now()
		if game.MatchmakingStatus != shared.MatchmakingStatusWaiting {
			return nil
		}
		if game.WaitingDeadline == nil || game.WaitingDeadline.After(now) {
			// Deadline moved since listing; not expired anymore.
			return nil
		}

		env, err := s.registry.Environment(game.GameType)
		if err != nil {
			return err
		}

		missing := game.MinPlayersRequired - game.CurrentPlayerCount
		if missing > 0 && env.AllowsSystemBackfill(game.Config) {
			if err := s.backfillSystemPlayers(ctx, game, missing, now); err != nil {
				return err
			}
		}

		if game.CurrentPlayerCount >= game.MinPlayersRequired {
			startAfter = true
			return nil
		}
		return s.cancelWaitingGameLocked(ctx, game, "waiting deadline expired")
	})
	if err != nil || !startAfter {
		return nil, err
	}

	result, err := s.starter.StartExistingGame(ctx, gameID)
	if err != nil {
		if errors.Is(err, gameservice.ErrGameNotWaiting) {
			// Another actor started it first; not ours to report.
			return nil, nil
		}
		return nil, fmt.Errorf("failed to start backfilled game: %w", err)
	}
	return result.Game, nil
}

// backfillSystemPlayers seats bot players until the room reaches its
// minimum. The seats commit in one transaction with the count bump.
func (s *MatchmakingService) backfillSystemPlayers(ctx context.Context, game *gamedomain.Game, missing int, now time.Time) error {
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for i := 0; i < missing; i++ {
			if err := s.repo.AddPlayer(ctx, tx, &gamedomain.GamePlayer{
				GameID:         game.ID,
				PlayerID:       shared.NewPlayerID(),
				AgentVersionID: s.cfg.SystemAgentVersionID,
				UserID:         s.cfg.SystemUserID,
				JoinTime:       now,
				IsSystemPlayer: true,
			}); err != nil {
				return err
			}
		}
		game.CurrentPlayerCount += missing
		game.UpdatedAt = now
		return s.repo.UpdateGameOptimistic(ctx, tx, game, game.Version)
	})
	if err != nil {
		return fmt.Errorf("failed to backfill system players: %w", err)
	}

	s.logger.InfoContext(ctx, "Backfilled waiting room with system players",
		attr.String("game_id", game.ID.String()),
		attr.Int("added", missing),
		attr.Int("current_players", game.CurrentPlayerCount),
	)
	return nil
}

// CancelStaleWaitingGames is the safety net behind the deadline handler:
// WAITING games older than the configured stale age are cancelled outright
// even if their own deadline never fired. Returns how many were cancelled.
func (s *MatchmakingService) CancelStaleWaitingGames(ctx context.Context) (int, error) {
	cutoff := s.clock.Now().Add(-s.cfg.StaleGameAge)
	stale, err := s.repo.ListStaleWaitingGames(ctx, s.db, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale waiting games: %w", err)
	}

	cancelled := 0
	for _, game := range stale {
		err := s.withGameLock(ctx, game.ID, func(ctx context.Context, locked *gamedomain.Game) error {
			if locked.MatchmakingStatus != shared.MatchmakingStatusWaiting {
				return nil
			}
			return s.cancelWaitingGameLocked(ctx, locked, "stale waiting game")
		})
		if err != nil {
			if errors.Is(err, gamedb.ErrAlreadyProcessing) {
				continue
			}
			s.logger.ErrorContext(ctx, "Failed to cancel stale waiting game",
				attr.String("game_id", game.ID.String()),
				attr.Error(err),
			)
			continue
		}
		cancelled++
	}
	return cancelled, nil
}

// cancelWaitingGameLocked transitions a locked WAITING game to CANCELLED
// and closes its seats.
func (s *MatchmakingService) cancelWaitingGameLocked(ctx context.Context, game *gamedomain.Game, reason string) error {
	if !game.MatchmakingStatus.CanTransitionTo(shared.MatchmakingStatusCancelled) {
		return fmt.Errorf("cannot cancel game in status %s", game.MatchmakingStatus)
	}
	now := s.clock.Now()
	game.MatchmakingStatus = shared.MatchmakingStatusCancelled
	game.UpdatedAt = now

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := s.repo.UpdateGameOptimistic(ctx, tx, game, game.Version); err != nil {
			return err
		}
		return s.repo.CloseAllSeats(ctx, tx, game.ID, now)
	})
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "Cancelled waiting game",
		attr.String("game_id", game.ID.String()),
		attr.String("reason", reason),
	)
	return nil
}
