package matchmakingservice

import (
	"context"
	"errors"
	"testing"

	gamedomain "github.com/parlorgames/arena-backend/app/modules/game/domain"
	"github.com/parlorgames/arena-backend/app/shared"
)

func TestLeave_ClosesSeat(t *testing.T) {
	fx := newTestFixture()
	room := fx.waitingRoom(2, 2, 2)
	fx.repo.Players = append(fx.repo.Players, gamedomain.GamePlayer{
		GameID: room.ID, PlayerID: shared.NewPlayerID(), AgentVersionID: "agent-b", UserID: "user-b",
	})

	result, err := fx.service.Leave(context.Background(), "user-b", room.ID)
	if err != nil {
		t.Fatalf("Leave failed: %v", err)
	}

	if !result.WasInGame {
		t.Error("expected the user's seat to be found")
	}
	if result.GameEnded {
		t.Error("a room with a player left must not be cancelled")
	}
	if fx.repo.Game.CurrentPlayerCount != 1 {
		t.Errorf("expected 1 seat remaining, got %d", fx.repo.Game.CurrentPlayerCount)
	}
	if fx.repo.Game.MatchmakingStatus != shared.MatchmakingStatusWaiting {
		t.Errorf("expected the room to keep WAITING, got %s", fx.repo.Game.MatchmakingStatus)
	}
	if fx.repo.Game.Locked() {
		t.Error("processing lock must be released after leave")
	}
}

func TestLeave_LastPlayerCancelsRoom(t *testing.T) {
	fx := newTestFixture()
	room := fx.waitingRoom(1, 2, 2)

	result, err := fx.service.Leave(context.Background(), "user-a", room.ID)
	if err != nil {
		t.Fatalf("Leave failed: %v", err)
	}

	if !result.WasInGame || !result.GameEnded {
		t.Errorf("expected WasInGame and GameEnded, got %+v", result)
	}
	if fx.repo.Game.MatchmakingStatus != shared.MatchmakingStatusCancelled {
		t.Errorf("expected CANCELLED, got %s", fx.repo.Game.MatchmakingStatus)
	}
	if fx.repo.Calls("CloseAllSeats") != 1 {
		t.Error("cancelling a room must close its seats")
	}
}

func TestLeave_WithoutSeatIsNoOp(t *testing.T) {
	fx := newTestFixture()
	room := fx.waitingRoom(1, 2, 2)

	result, err := fx.service.Leave(context.Background(), "user-z", room.ID)
	if err != nil {
		t.Fatalf("Leave failed: %v", err)
	}
	if result.WasInGame || result.GameEnded {
		t.Errorf("expected a no-op, got %+v", result)
	}
	if fx.repo.Calls("UpdateGameOptimistic") != 0 {
		t.Error("a no-op leave must not mutate the game")
	}
}

func TestLeave_RunningGameRejected(t *testing.T) {
	fx := newTestFixture()
	room := fx.waitingRoom(2, 2, 2)
	room.MatchmakingStatus = shared.MatchmakingStatusInProgress

	_, err := fx.service.Leave(context.Background(), "user-a", room.ID)
	if !errors.Is(err, ErrGameNotWaiting) {
		t.Fatalf("expected ErrGameNotWaiting, got %v", err)
	}
}

func TestLeave_TerminalGameIsNoOp(t *testing.T) {
	fx := newTestFixture()
	room := fx.waitingRoom(1, 2, 2)
	room.MatchmakingStatus = shared.MatchmakingStatusCancelled

	result, err := fx.service.Leave(context.Background(), "user-a", room.ID)
	if err != nil {
		t.Fatalf("Leave failed: %v", err)
	}
	if result.WasInGame {
		t.Error("a terminal game holds no open seats")
	}
}
