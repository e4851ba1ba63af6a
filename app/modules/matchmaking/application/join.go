package matchmakingservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/uptrace/bun"

	gameservice "github.com/parlorgames/arena-backend/app/modules/game/application"
	gamedomain "github.com/parlorgames/arena-backend/app/modules/game/domain"
	gamedb "github.com/parlorgames/arena-backend/app/modules/game/infrastructure/repositories"
	"github.com/parlorgames/arena-backend/app/shared"
	"github.com/parlorgames/arena-backend/app/shared/attr"
)

// JoinInput is one queue request: a user, the game type they want, the
// agent that will play for them, and the exact game config to match on.
type JoinInput struct {
	UserID         shared.UserID
	GameType       shared.GameType
	AgentVersionID shared.AgentVersionID
	Config         json.RawMessage
}

// JoinResult reports where the join landed.
type JoinResult struct {
	Game *gamedomain.Game

	// Started is true when this join filled the room and the game left
	// the waiting state.
	Started bool
}

// Join places a user into a compatible WAITING game, creating a fresh room
// when none exists. Config matching is exact: two rooms with different
// configs never merge. A join that fills the room starts the game
// immediately instead of waiting for the deadline.
func (s *MatchmakingService) Join(ctx context.Context, in JoinInput) (*JoinResult, error) {
	var out *JoinResult

	err := s.withTelemetry(ctx, "JoinMatchmaking", in.UserID, func(ctx context.Context) error {
		if _, err := s.repo.GetActiveQueueEntry(ctx, s.db, in.UserID, in.GameType); err == nil {
			return ErrAlreadyInQueue
		} else if !errors.Is(err, gamedb.ErrNotFound) {
			return err
		}

		env, err := s.registry.Environment(in.GameType)
		if err != nil {
			return err
		}
		reqs, err := env.PlayerRequirements(in.Config)
		if err != nil {
			return fmt.Errorf("failed to resolve player requirements: %w", err)
		}

		now := s.clock.Now()
		var game *gamedomain.Game
		err = s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			found, ferr := s.repo.FindJoinableWaitingGame(ctx, tx, in.GameType, in.Config)
			switch {
			case ferr == nil:
				game = found
			case errors.Is(ferr, gamedb.ErrNotFound):
				created, cerr := s.createWaitingGame(ctx, tx, in, reqs)
				if cerr != nil {
					return cerr
				}
				game = created
				return nil
			default:
				return ferr
			}

			if aerr := s.repo.AddPlayer(ctx, tx, &gamedomain.GamePlayer{
				GameID:         game.ID,
				PlayerID:       shared.NewPlayerID(),
				AgentVersionID: in.AgentVersionID,
				UserID:         in.UserID,
				JoinTime:       now,
			}); aerr != nil {
				return aerr
			}

			game.CurrentPlayerCount++
			game.UpdatedAt = now
			return s.repo.UpdateGameOptimistic(ctx, tx, game, game.Version)
		})
		if err != nil {
			return err
		}

		out = &JoinResult{Game: game}
		if game.CurrentPlayerCount < game.MaxPlayersAllowed {
			return nil
		}

		// Room is full. The start runs outside the join transaction and
		// takes the processing lock itself.
		if _, serr := s.starter.StartExistingGame(ctx, game.ID); serr != nil {
			if errors.Is(serr, gameservice.ErrGameNotWaiting) {
				// Another actor already started it. Same outcome.
				out.Started = true
				return nil
			}
			// The seat is committed either way; the deadline sweep will
			// start the still-full room if this attempt does not stick.
			s.logger.ErrorContext(ctx, "Failed to start filled game",
				attr.String("game_id", game.ID.String()),
				attr.Error(serr),
			)
			return nil
		}
		out.Started = true
		return nil
	})
	return out, err
}

func (s *MatchmakingService) createWaitingGame(ctx context.Context, tx bun.Tx, in JoinInput, reqs gamedomain.PlayerRequirements) (*gamedomain.Game, error) {
	gameID := shared.NewGameID()
	state, err := s.registryNewGame(ctx, gameID, in)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	deadline := now.Add(s.cfg.WaitingPeriod)
	game := &gamedomain.Game{
		ID:                 gameID,
		GameType:           in.GameType,
		State:              state,
		Config:             in.Config,
		MatchmakingStatus:  shared.MatchmakingStatusWaiting,
		WaitingDeadline:    &deadline,
		CurrentPlayerCount: 1,
		MinPlayersRequired: reqs.Min,
		MaxPlayersAllowed:  reqs.Max,
		CreatedBy:          in.UserID,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.repo.CreateGame(ctx, tx, game); err != nil {
		return nil, err
	}
	if err := s.repo.AddPlayer(ctx, tx, &gamedomain.GamePlayer{
		GameID:         gameID,
		PlayerID:       shared.NewPlayerID(),
		AgentVersionID: in.AgentVersionID,
		UserID:         in.UserID,
		JoinTime:       now,
	}); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "Opened new waiting room",
		attr.String("game_id", gameID.String()),
		attr.String("game_type", string(in.GameType)),
		attr.Time("waiting_deadline", deadline),
	)
	return game, nil
}

func (s *MatchmakingService) registryNewGame(ctx context.Context, gameID shared.GameID, in JoinInput) (gamedomain.State, error) {
	env, err := s.registry.Environment(in.GameType)
	if err != nil {
		return nil, err
	}
	state, err := env.NewGame(ctx, gameID, in.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to create initial state: %w", err)
	}
	return state, nil
}
