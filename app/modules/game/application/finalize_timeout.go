package gameservice

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	gamedomain "github.com/parlorgames/arena-backend/app/modules/game/domain"
	"github.com/parlorgames/arena-backend/app/shared"
)

// FinalizeTimeoutInput asks the engine to end a game whose expected player
// ran out of clock.
type FinalizeTimeoutInput struct {
	RequestID        shared.RequestID
	GameID           shared.GameID
	RequestingUserID shared.UserID
	ExpectedPlayerID shared.PlayerID
}

// FinalizeTimeout either persists a terminal state and flips the game to
// FINISHED, or persists nothing at all. On the not-expired branch the lock
// is still released and the caller gets ErrTimeoutNotExpired; partial
// application is never observable.
func (s *GameService) FinalizeTimeout(ctx context.Context, in FinalizeTimeoutInput) (*TurnResult, error) {
	var out *TurnResult

	err := s.withTelemetry(ctx, "FinalizeTimeout", in.GameID, func(ctx context.Context) error {
		return s.withGameLock(ctx, in.GameID, in.RequestID, func(ctx context.Context, game *gamedomain.Game) error {
			if game.MatchmakingStatus.Terminal() {
				return ErrGameAlreadyFinished
			}
			if err := s.requireParticipant(ctx, game.ID, in.RequestingUserID); err != nil {
				return err
			}

			env, err := s.registry.Environment(game.GameType)
			if err != nil {
				return err
			}

			result, err := env.CheckTimeout(ctx, game.State, in.ExpectedPlayerID)
			if err != nil {
				return fmt.Errorf("failed to check timeout: %w", err)
			}
			if !result.Expired {
				// Time remains. The lock release in withGameLock still runs;
				// nothing is persisted.
				return ErrTimeoutNotExpired
			}

			now := s.clock.Now()
			previousVersion := game.Version
			game.State = result.State
			game.UpdatedAt = now
			if !game.MatchmakingStatus.CanTransitionTo(shared.MatchmakingStatusFinished) {
				return fmt.Errorf("cannot finish game in status %s", game.MatchmakingStatus)
			}
			game.MatchmakingStatus = shared.MatchmakingStatusFinished

			var events []gamedomain.GameEvent
			err = s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
				if uerr := s.repo.UpdateGameOptimistic(ctx, tx, game, previousVersion); uerr != nil {
					return uerr
				}
				if cerr := s.repo.CloseAllSeats(ctx, tx, game.ID, now); cerr != nil {
					return cerr
				}
				var aerr error
				events, aerr = s.repo.AppendEvents(ctx, tx, game.ID, result.Events)
				return aerr
			})
			if err != nil {
				return err
			}

			s.finalizeRatings(ctx, game, result.Outcome)
			s.publishUpdate(ctx, game, events)

			out = &TurnResult{Game: game, NewEvents: events, Finished: true}
			return nil
		})
	})
	return out, err
}

// requireParticipant rejects timeout claims from users who hold no active
// seat in the game. Anyone at the table may flag an expired clock, but an
// outsider may not end someone else's game.
func (s *GameService) requireParticipant(ctx context.Context, gameID shared.GameID, userID shared.UserID) error {
	players, err := s.repo.GetActivePlayers(ctx, s.db, gameID)
	if err != nil {
		return err
	}
	for i := range players {
		if players[i].UserID == userID {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrNotGameParticipant, userID)
}
