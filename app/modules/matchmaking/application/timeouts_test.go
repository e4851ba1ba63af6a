package matchmakingservice

import (
	"context"
	"testing"
	"time"

	"github.com/uptrace/bun"

	gameservice "github.com/parlorgames/arena-backend/app/modules/game/application"
	gamedomain "github.com/parlorgames/arena-backend/app/modules/game/domain"
	"github.com/parlorgames/arena-backend/app/shared"
)

func (fx *testFixture) expireRoom(room *gamedomain.Game) {
	past := fx.clock.Now().Add(-5 * time.Second)
	room.WaitingDeadline = &past
	fx.repo.ListExpiredWaitingGamesFunc = func(ctx context.Context, db bun.IDB, now time.Time) ([]*gamedomain.Game, error) {
		return []*gamedomain.Game{room}, nil
	}
}

func TestHandleWaitingTimeouts_BackfillsAndStarts(t *testing.T) {
	fx := newTestFixture()
	room := fx.waitingRoom(1, 2, 2)
	fx.env.Backfill = true
	fx.expireRoom(room)

	started, err := fx.service.HandleWaitingTimeouts(context.Background())
	if err != nil {
		t.Fatalf("HandleWaitingTimeouts failed: %v", err)
	}
	if len(started) != 1 || started[0].ID != room.ID {
		t.Errorf("expected the backfilled room in the started list, got %+v", started)
	}
	if started[0].MatchmakingStatus != shared.MatchmakingStatusInProgress {
		t.Errorf("started games must be reported post-start, got %s", started[0].MatchmakingStatus)
	}

	if fx.repo.Game.CurrentPlayerCount != 2 {
		t.Errorf("expected backfill to 2 seats, got %d", fx.repo.Game.CurrentPlayerCount)
	}
	bots := 0
	for _, p := range fx.repo.Players {
		if p.IsSystemPlayer {
			bots++
			if p.AgentVersionID != fx.cfg.SystemAgentVersionID || p.UserID != fx.cfg.SystemUserID {
				t.Errorf("bot seat carries wrong identity: %+v", p)
			}
		}
	}
	if bots != 1 {
		t.Errorf("expected exactly one bot seat, got %d", bots)
	}
	if len(fx.starter.Started) != 1 || fx.starter.Started[0] != room.ID {
		t.Errorf("expected the backfilled room to start, got %v", fx.starter.Started)
	}
	if fx.repo.Game.Locked() {
		t.Error("processing lock must be released before the start attempt")
	}
}

func TestHandleWaitingTimeouts_CancelsWhenBackfillDisallowed(t *testing.T) {
	fx := newTestFixture()
	room := fx.waitingRoom(1, 2, 2)
	fx.env.Backfill = false
	fx.expireRoom(room)

	started, err := fx.service.HandleWaitingTimeouts(context.Background())
	if err != nil {
		t.Fatalf("HandleWaitingTimeouts failed: %v", err)
	}
	if len(started) != 0 {
		t.Errorf("a cancelled room must not be reported as started, got %+v", started)
	}

	if fx.repo.Game.MatchmakingStatus != shared.MatchmakingStatusCancelled {
		t.Errorf("expected CANCELLED, got %s", fx.repo.Game.MatchmakingStatus)
	}
	if fx.repo.Calls("CloseAllSeats") != 1 {
		t.Error("cancelling must close all seats")
	}
	if len(fx.starter.Started) != 0 {
		t.Errorf("an under-subscribed room must not start, got %v", fx.starter.Started)
	}
}

func TestHandleWaitingTimeouts_StartsRoomAlreadyAtMinimum(t *testing.T) {
	fx := newTestFixture()
	room := fx.waitingRoom(2, 2, 4)
	fx.expireRoom(room)

	started, err := fx.service.HandleWaitingTimeouts(context.Background())
	if err != nil {
		t.Fatalf("HandleWaitingTimeouts failed: %v", err)
	}
	if len(started) != 1 || started[0].ID != room.ID {
		t.Errorf("a room at its minimum must start at the deadline, got %+v", started)
	}
	if fx.repo.Calls("AddPlayer") != 0 {
		t.Error("no backfill is needed at the minimum")
	}
}

func TestHandleWaitingTimeouts_RaceLostStartIsNotReported(t *testing.T) {
	fx := newTestFixture()
	room := fx.waitingRoom(2, 2, 4)
	fx.expireRoom(room)
	fx.starter.StartFunc = func(ctx context.Context, gameID shared.GameID) (*gameservice.TurnResult, error) {
		return nil, gameservice.ErrGameNotWaiting
	}

	started, err := fx.service.HandleWaitingTimeouts(context.Background())
	if err != nil {
		t.Fatalf("HandleWaitingTimeouts failed: %v", err)
	}
	if len(started) != 0 {
		t.Errorf("a start won by another actor must not be reported, got %+v", started)
	}
	if len(fx.starter.Started) != 1 {
		t.Errorf("expected exactly one start attempt, got %v", fx.starter.Started)
	}
}

func TestHandleWaitingTimeouts_SkipsRowsHeldByOthers(t *testing.T) {
	fx := newTestFixture()
	room := fx.waitingRoom(1, 2, 2)
	fx.expireRoom(room)
	now := fx.clock.Now()
	held := shared.NewRequestID()
	room.ProcessingStartedAt = &now
	room.ProcessingRequestID = &held

	started, err := fx.service.HandleWaitingTimeouts(context.Background())
	if err != nil {
		t.Fatalf("HandleWaitingTimeouts failed: %v", err)
	}
	if len(started) != 0 {
		t.Errorf("a held row must be skipped, got %+v started", started)
	}
	if len(fx.starter.Started) != 0 {
		t.Errorf("unexpected start calls: %v", fx.starter.Started)
	}
}

func TestHandleWaitingTimeouts_DeadlineMovedIsNoOp(t *testing.T) {
	fx := newTestFixture()
	room := fx.waitingRoom(1, 2, 2)
	// Listed as expired, but by the time the lock is held the deadline is
	// in the future again.
	fx.repo.ListExpiredWaitingGamesFunc = func(ctx context.Context, db bun.IDB, now time.Time) ([]*gamedomain.Game, error) {
		return []*gamedomain.Game{room}, nil
	}

	_, err := fx.service.HandleWaitingTimeouts(context.Background())
	if err != nil {
		t.Fatalf("HandleWaitingTimeouts failed: %v", err)
	}
	if fx.repo.Game.MatchmakingStatus != shared.MatchmakingStatusWaiting {
		t.Errorf("expected the room untouched, got %s", fx.repo.Game.MatchmakingStatus)
	}
	if len(fx.starter.Started) != 0 || fx.repo.Calls("UpdateGameOptimistic") != 0 {
		t.Error("a no-longer-expired room must not be mutated")
	}
}

func TestCancelStaleWaitingGames(t *testing.T) {
	fx := newTestFixture()
	room := fx.waitingRoom(1, 2, 2)
	fx.repo.ListStaleWaitingGamesFunc = func(ctx context.Context, db bun.IDB, olderThan time.Time) ([]*gamedomain.Game, error) {
		want := fx.clock.Now().Add(-fx.cfg.StaleGameAge)
		if !olderThan.Equal(want) {
			t.Errorf("expected cutoff %v, got %v", want, olderThan)
		}
		return []*gamedomain.Game{room}, nil
	}

	cancelled, err := fx.service.CancelStaleWaitingGames(context.Background())
	if err != nil {
		t.Fatalf("CancelStaleWaitingGames failed: %v", err)
	}
	if cancelled != 1 {
		t.Errorf("expected 1 cancelled game, got %d", cancelled)
	}
	if fx.repo.Game.MatchmakingStatus != shared.MatchmakingStatusCancelled {
		t.Errorf("expected CANCELLED, got %s", fx.repo.Game.MatchmakingStatus)
	}
}
