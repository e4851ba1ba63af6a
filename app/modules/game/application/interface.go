package gameservice

import (
	"context"

	"github.com/parlorgames/arena-backend/app/shared"
)

// Service is the public surface of the game turn orchestrator.
type Service interface {
	StartGameFromPlayerView(ctx context.Context, in StartGameFromPlayerViewInput) (*TurnResult, error)
	StartExistingGame(ctx context.Context, gameID shared.GameID) (*TurnResult, error)
	ProcessTurn(ctx context.Context, in ProcessTurnInput) (*TurnResult, error)
	FinalizeTimeout(ctx context.Context, in FinalizeTimeoutInput) (*TurnResult, error)
}

var _ Service = (*GameService)(nil)
