package gameservice

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	gamedomain "github.com/parlorgames/arena-backend/app/modules/game/domain"
	"github.com/parlorgames/arena-backend/app/shared"
	"github.com/parlorgames/arena-backend/app/shared/attr"
)

// ProcessTurnInput describes one unit of turn work. ExpectedTurn is the
// turn the work item was created for; a mismatch with the row's counter
// marks the item as already completed by another attempt.
type ProcessTurnInput struct {
	RequestID    shared.RequestID
	GameID       shared.GameID
	PlayerID     shared.PlayerID
	ExpectedTurn shared.Turn

	// MoveOverride, when non-nil, is applied verbatim (human/playground
	// path). Otherwise the agent decision client is consulted.
	MoveOverride gamedomain.Move
	IsPlayground bool
}

// ProcessTurn advances a game by exactly one turn. The turn-number check
// runs before the actor check so a redelivered item is always classified
// as stale work, never as a validity error that would be retried.
func (s *GameService) ProcessTurn(ctx context.Context, in ProcessTurnInput) (*TurnResult, error) {
	var out *TurnResult

	err := s.withTelemetry(ctx, "ProcessTurn", in.GameID, func(ctx context.Context) error {
		return s.withGameLock(ctx, in.GameID, in.RequestID, func(ctx context.Context, game *gamedomain.Game) error {
			if game.MatchmakingStatus.Terminal() {
				return ErrGameAlreadyFinished
			}
			if in.ExpectedTurn != game.Turn {
				conflict := &TurnConflictError{CurrentTurn: game.Turn}
				// Best effort: the position lets a consumer re-seed a
				// pipeline whose next item was lost. A resolution failure
				// still reports the conflict, just without it.
				if env, eerr := s.registry.Environment(game.GameType); eerr == nil {
					if current, perr := env.CurrentPlayer(game.State); perr == nil {
						conflict.CurrentPlayerID = current
						conflict.Resumable = true
					}
				}
				return conflict
			}

			env, err := s.registry.Environment(game.GameType)
			if err != nil {
				return err
			}
			currentPlayer, err := env.CurrentPlayer(game.State)
			if err != nil {
				return fmt.Errorf("failed to resolve current player: %w", err)
			}
			if currentPlayer != in.PlayerID {
				return fmt.Errorf("%w: expected %s", ErrNotPlayerMove, currentPlayer)
			}

			move, err := s.resolveMove(ctx, game, in)
			if err != nil {
				return err
			}

			result, err := env.ApplyMove(ctx, game.State, in.PlayerID, move)
			if err != nil {
				return fmt.Errorf("failed to apply move: %w", err)
			}

			now := s.clock.Now()
			previousVersion := game.Version
			game.State = result.State
			game.Turn++
			game.UpdatedAt = now
			if result.Finished {
				if !game.MatchmakingStatus.CanTransitionTo(shared.MatchmakingStatusFinished) {
					return fmt.Errorf("cannot finish game in status %s", game.MatchmakingStatus)
				}
				game.MatchmakingStatus = shared.MatchmakingStatusFinished
			}

			var events []gamedomain.GameEvent
			err = s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
				if uerr := s.repo.UpdateGameOptimistic(ctx, tx, game, previousVersion); uerr != nil {
					return uerr
				}
				if result.Finished {
					if cerr := s.repo.CloseAllSeats(ctx, tx, game.ID, now); cerr != nil {
						return cerr
					}
				}
				var aerr error
				events, aerr = s.repo.AppendEvents(ctx, tx, game.ID, result.Events)
				return aerr
			})
			if err != nil {
				return err
			}

			if result.Finished {
				s.finalizeRatings(ctx, game, result.Outcome)
			}
			s.publishUpdate(ctx, game, events)

			out = &TurnResult{
				Game:         game,
				NewEvents:    events,
				Finished:     result.Finished,
				NextPlayerID: result.NextPlayerID,
			}
			return nil
		})
	})
	return out, err
}

// resolveMove picks the move for this turn: the caller's override when
// present, otherwise the agent decision client. An exit decision carries
// its own environment-defined payload (resign, fold).
func (s *GameService) resolveMove(ctx context.Context, game *gamedomain.Game, in ProcessTurnInput) (gamedomain.Move, error) {
	if in.MoveOverride != nil {
		return in.MoveOverride, nil
	}
	if s.agents == nil {
		return nil, fmt.Errorf("no move override and no agent client configured")
	}

	player, err := s.activePlayer(ctx, game.ID, in.PlayerID)
	if err != nil {
		return nil, err
	}

	decision, err := s.agents.Decide(ctx, gamedomain.DecisionRequest{
		GameID:         game.ID,
		GameType:       game.GameType,
		PlayerID:       in.PlayerID,
		AgentVersionID: player.AgentVersionID,
		Turn:           game.Turn,
		State:          game.State,
	})
	if err != nil {
		return nil, fmt.Errorf("agent decision failed: %w", err)
	}

	switch decision.Kind {
	case gamedomain.DecisionKindMove, gamedomain.DecisionKindExit:
		if decision.Move == nil {
			return nil, fmt.Errorf("agent returned %s decision without a payload", decision.Kind)
		}
		if decision.Kind == gamedomain.DecisionKindExit {
			s.logger.InfoContext(ctx, "Agent chose to exit the game",
				attr.String("game_id", game.ID.String()),
				attr.String("player_id", in.PlayerID.String()),
			)
		}
		return decision.Move, nil
	default:
		return nil, fmt.Errorf("agent returned unknown decision kind %q", decision.Kind)
	}
}

func (s *GameService) activePlayer(ctx context.Context, gameID shared.GameID, playerID shared.PlayerID) (*gamedomain.GamePlayer, error) {
	players, err := s.repo.GetActivePlayers(ctx, s.db, gameID)
	if err != nil {
		return nil, err
	}
	for i := range players {
		if players[i].PlayerID == playerID {
			return &players[i], nil
		}
	}
	return nil, fmt.Errorf("%w: player %s has no active seat", ErrNotPlayerMove, playerID)
}
