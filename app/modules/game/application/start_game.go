package gameservice

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/uptrace/bun"

	gamedomain "github.com/parlorgames/arena-backend/app/modules/game/domain"
	"github.com/parlorgames/arena-backend/app/shared"
	"github.com/parlorgames/arena-backend/app/shared/attr"
)

// StartGameFromPlayerViewInput seeds a game directly in IN_PROGRESS from a
// caller-supplied, pre-validated state view. Used for playground scenarios
// seeded from a pasted position or a generated description.
type StartGameFromPlayerViewInput struct {
	GameType          shared.GameType
	Config            json.RawMessage
	AgentIDs          []shared.AgentVersionID
	InitialPlayerView gamedomain.State
	RequestingUserID  shared.UserID
	IsPlayground      bool

	// CleanupTargetUserID, when set, discards that user's prior playground
	// games before creating the new one.
	CleanupTargetUserID *shared.UserID
}

// TurnResult is the authoritative output of every orchestrator mutation.
// The queue consumer builds the next work item from NextPlayerID and
// Game.Turn; nothing else decides whose turn is next.
type TurnResult struct {
	Game         *gamedomain.Game
	NewEvents    []gamedomain.GameEvent
	Finished     bool
	NextPlayerID shared.PlayerID
}

func startedEventDraft(game *gamedomain.Game) gamedomain.EventDraft {
	payload, _ := json.Marshal(map[string]any{
		"game_id":    game.ID,
		"game_type":  game.GameType,
		"playground": game.IsPlayground,
	})
	return gamedomain.EventDraft{Type: gamedomain.EventTypeGameStarted, Payload: payload}
}

// StartGameFromPlayerView creates a fully seated game that skips the
// waiting room entirely.
func (s *GameService) StartGameFromPlayerView(ctx context.Context, in StartGameFromPlayerViewInput) (*TurnResult, error) {
	var out *TurnResult
	gameID := shared.NewGameID()

	err := s.withTelemetry(ctx, "StartGameFromPlayerView", gameID, func(ctx context.Context) error {
		if len(in.AgentIDs) == 0 {
			return ErrNoAgentsProvided
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
		game := &gamedomain.Game{
			ID:                 gameID,
			GameType:           in.GameType,
			State:              in.InitialPlayerView,
			Config:             in.Config,
			MatchmakingStatus:  shared.MatchmakingStatusInProgress,
			CurrentPlayerCount: len(in.AgentIDs),
			MinPlayersRequired: reqs.Min,
			MaxPlayersAllowed:  reqs.Max,
			StartedAt:          &now,
			IsPlayground:       in.IsPlayground,
			CreatedBy:          in.RequestingUserID,
			CreatedAt:          now,
			UpdatedAt:          now,
		}

		drafts := []gamedomain.EventDraft{startedEventDraft(game)}
		players := make([]gamedomain.GamePlayer, 0, len(in.AgentIDs))
		state := in.InitialPlayerView
		for _, agentID := range in.AgentIDs {
			playerID := shared.NewPlayerID()
			joined, joinEvents, jerr := env.JoinPlayer(ctx, state, playerID, agentID, agentID.String())
			if jerr != nil {
				return fmt.Errorf("failed to seat agent %s: %w", agentID, jerr)
			}
			state = joined
			drafts = append(drafts, joinEvents...)
			players = append(players, gamedomain.GamePlayer{
				GameID:         gameID,
				PlayerID:       playerID,
				AgentVersionID: agentID,
				UserID:         in.RequestingUserID,
				JoinTime:       now,
			})
		}
		game.State = state

		var events []gamedomain.GameEvent
		err = s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			if in.CleanupTargetUserID != nil {
				discarded, derr := s.repo.DiscardPlaygroundGames(ctx, tx, *in.CleanupTargetUserID, now)
				if derr != nil {
					return derr
				}
				if discarded > 0 {
					s.logger.InfoContext(ctx, "Discarded prior playground games",
						attr.String("user_id", in.CleanupTargetUserID.String()),
						attr.Int("count", discarded),
					)
				}
			}
			if cerr := s.repo.CreateGame(ctx, tx, game); cerr != nil {
				return cerr
			}
			for i := range players {
				if perr := s.repo.AddPlayer(ctx, tx, &players[i]); perr != nil {
					return perr
				}
			}
			var aerr error
			events, aerr = s.repo.AppendEvents(ctx, tx, gameID, drafts)
			return aerr
		})
		if err != nil {
			return err
		}

		nextPlayer, err := env.CurrentPlayer(game.State)
		if err != nil {
			return fmt.Errorf("failed to resolve current player: %w", err)
		}
		s.enqueueNextTurn(ctx, game, nextPlayer)
		s.publishUpdate(ctx, game, events)

		out = &TurnResult{Game: game, NewEvents: events, NextPlayerID: nextPlayer}
		return nil
	})
	return out, err
}

// StartExistingGame transitions a matched WAITING game to its first turn,
// seating every active player through the environment.
func (s *GameService) StartExistingGame(ctx context.Context, gameID shared.GameID) (*TurnResult, error) {
	var out *TurnResult

	err := s.withTelemetry(ctx, "StartExistingGame", gameID, func(ctx context.Context) error {
		return s.withGameLock(ctx, gameID, shared.NewRequestID(), func(ctx context.Context, game *gamedomain.Game) error {
			if game.MatchmakingStatus.Terminal() {
				return ErrGameAlreadyFinished
			}
			if game.MatchmakingStatus != shared.MatchmakingStatusWaiting {
				return ErrGameNotWaiting
			}

			env, err := s.registry.Environment(game.GameType)
			if err != nil {
				return err
			}
			players, err := s.repo.GetActivePlayers(ctx, s.db, gameID)
			if err != nil {
				return err
			}

			state := game.State
			var drafts []gamedomain.EventDraft
			for _, p := range players {
				joined, joinEvents, jerr := env.JoinPlayer(ctx, state, p.PlayerID, p.AgentVersionID, p.UserID.String())
				if jerr != nil {
					return fmt.Errorf("failed to seat player %s: %w", p.PlayerID, jerr)
				}
				state = joined
				drafts = append(drafts, joinEvents...)
			}

			now := s.clock.Now()
			game.State = state
			game.MatchmakingStatus = shared.MatchmakingStatusInProgress
			game.StartedAt = &now
			game.UpdatedAt = now
			drafts = append(drafts, startedEventDraft(game))

			var events []gamedomain.GameEvent
			err = s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
				if uerr := s.repo.UpdateGameOptimistic(ctx, tx, game, game.Version); uerr != nil {
					return uerr
				}
				var aerr error
				events, aerr = s.repo.AppendEvents(ctx, tx, gameID, drafts)
				return aerr
			})
			if err != nil {
				return err
			}

			nextPlayer, err := env.CurrentPlayer(game.State)
			if err != nil {
				return fmt.Errorf("failed to resolve current player: %w", err)
			}
			s.enqueueNextTurn(ctx, game, nextPlayer)
			s.publishUpdate(ctx, game, events)

			out = &TurnResult{Game: game, NewEvents: events, NextPlayerID: nextPlayer}
			return nil
		})
	})
	return out, err
}

// enqueueNextTurn seeds the self-perpetuating turn pipeline. The game is
// already committed; a failed insert is logged so an operator can re-seed,
// and the queue's ByArgs uniqueness makes re-seeding safe.
func (s *GameService) enqueueNextTurn(ctx context.Context, game *gamedomain.Game, playerID shared.PlayerID) {
	if s.queue == nil {
		return
	}
	if err := s.queue.EnqueueTurn(ctx, game.ID, playerID, game.Turn); err != nil {
		s.logger.ErrorContext(ctx, "Failed to enqueue turn work item",
			attr.String("game_id", game.ID.String()),
			attr.String("player_id", playerID.String()),
			attr.Int64("turn", int64(game.Turn)),
			attr.Error(err),
		)
	}
}
