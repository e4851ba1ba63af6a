package matchmakingservice

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/uptrace/bun"

	gamedomain "github.com/parlorgames/arena-backend/app/modules/game/domain"
	"github.com/parlorgames/arena-backend/app/shared"
	"github.com/parlorgames/arena-backend/app/shared/attr"
)

// LeaveResult reports what leaving actually changed.
type LeaveResult struct {
	// WasInGame is false when the user held no open seat; leaving is then
	// a no-op, not an error.
	WasInGame bool

	// GameEnded is true when this departure emptied the waiting room and
	// the game was cancelled.
	GameEnded bool
}

// Leave closes the user's seat in a WAITING game. An empty room is
// cancelled rather than left dangling for the deadline sweep.
func (s *MatchmakingService) Leave(ctx context.Context, userID shared.UserID, gameID shared.GameID) (*LeaveResult, error) {
	out := &LeaveResult{}

	err := s.withTelemetry(ctx, "LeaveMatchmaking", userID, func(ctx context.Context) error {
		return s.withGameLock(ctx, gameID, func(ctx context.Context, game *gamedomain.Game) error {
			if game.MatchmakingStatus.Terminal() {
				return nil
			}
			if game.MatchmakingStatus != shared.MatchmakingStatusWaiting {
				return ErrGameNotWaiting
			}

			now := s.clock.Now()
			return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
				closed, cerr := s.repo.CloseSeat(ctx, tx, gameID, userID, now)
				if cerr != nil {
					return cerr
				}
				if !closed {
					return nil
				}
				out.WasInGame = true

				game.CurrentPlayerCount--
				game.UpdatedAt = now

				drafts := []gamedomain.EventDraft{leftEventDraft(userID)}
				if game.CurrentPlayerCount <= 0 {
					if !game.MatchmakingStatus.CanTransitionTo(shared.MatchmakingStatusCancelled) {
						return fmt.Errorf("cannot cancel game in status %s", game.MatchmakingStatus)
					}
					game.MatchmakingStatus = shared.MatchmakingStatusCancelled
					out.GameEnded = true
					if serr := s.repo.CloseAllSeats(ctx, tx, gameID, now); serr != nil {
						return serr
					}
				}

				if uerr := s.repo.UpdateGameOptimistic(ctx, tx, game, game.Version); uerr != nil {
					return uerr
				}
				if _, aerr := s.repo.AppendEvents(ctx, tx, gameID, drafts); aerr != nil {
					return aerr
				}

				s.logger.InfoContext(ctx, "Player left waiting room",
					attr.String("game_id", gameID.String()),
					attr.String("user_id", userID.String()),
					attr.Int("players_remaining", game.CurrentPlayerCount),
					attr.Bool("cancelled", out.GameEnded),
				)
				return nil
			})
		})
	})
	return out, err
}

func leftEventDraft(userID shared.UserID) gamedomain.EventDraft {
	payload, _ := json.Marshal(map[string]any{"user_id": userID})
	return gamedomain.EventDraft{Type: gamedomain.EventTypePlayerLeft, Payload: payload}
}
