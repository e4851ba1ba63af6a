package gameservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	gamedomain "github.com/parlorgames/arena-backend/app/modules/game/domain"
	"github.com/parlorgames/arena-backend/app/shared"
)

func TestStartExistingGame_SeatsPlayersAndSeedsFirstTurn(t *testing.T) {
	fx := newTestFixture()
	game := fx.waitingGame()
	first := fx.repo.Players[0].PlayerID

	seated := 0
	fx.env.JoinPlayerFunc = func(ctx context.Context, state gamedomain.State, playerID shared.PlayerID, agentVersionID shared.AgentVersionID, name string) (gamedomain.State, []gamedomain.EventDraft, error) {
		seated++
		payload, _ := json.Marshal(map[string]any{"player_id": playerID})
		return json.RawMessage(fmt.Sprintf(`{"seated":%d}`, seated)),
			[]gamedomain.EventDraft{{Type: gamedomain.EventTypePlayerJoined, Payload: payload}},
			nil
	}
	fx.env.Current = first

	result, err := fx.service.StartExistingGame(context.Background(), game.ID)
	if err != nil {
		t.Fatalf("StartExistingGame failed: %v", err)
	}

	if seated != 2 {
		t.Errorf("expected both players seated, got %d", seated)
	}
	if result.Game.MatchmakingStatus != shared.MatchmakingStatusInProgress {
		t.Errorf("expected IN_PROGRESS, got %s", result.Game.MatchmakingStatus)
	}
	if result.Game.StartedAt == nil || !result.Game.StartedAt.Equal(fx.clock.Now()) {
		t.Errorf("expected started_at %v, got %v", fx.clock.Now(), result.Game.StartedAt)
	}
	if result.Game.Version != 1 {
		t.Errorf("expected version bump to 1, got %d", result.Game.Version)
	}

	// 2 seat events + game_started.
	if len(result.NewEvents) != 3 {
		t.Errorf("expected 3 events, got %d", len(result.NewEvents))
	}
	if last := result.NewEvents[len(result.NewEvents)-1]; last.EventType != gamedomain.EventTypeGameStarted {
		t.Errorf("expected trailing game_started event, got %s", last.EventType)
	}

	if len(fx.enqueuer.Enqueued) != 1 {
		t.Fatalf("expected one seeded turn item, got %d", len(fx.enqueuer.Enqueued))
	}
	item := fx.enqueuer.Enqueued[0]
	if item.GameID != game.ID || item.PlayerID != first || item.Turn != 0 {
		t.Errorf("unexpected first turn item: %+v", item)
	}
	if fx.repo.Game.Locked() {
		t.Error("processing lock must be released after the start commits")
	}
}

func TestStartExistingGame_RejectsNonWaitingGame(t *testing.T) {
	tests := []struct {
		name    string
		status  shared.MatchmakingStatus
		wantErr error
	}{
		{"already running", shared.MatchmakingStatusInProgress, ErrGameNotWaiting},
		{"already finished", shared.MatchmakingStatusFinished, ErrGameAlreadyFinished},
		{"cancelled", shared.MatchmakingStatusCancelled, ErrGameAlreadyFinished},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newTestFixture()
			game := fx.waitingGame()
			game.MatchmakingStatus = tt.status

			_, err := fx.service.StartExistingGame(context.Background(), game.ID)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if fx.repo.Calls("UpdateGameOptimistic") != 0 {
				t.Error("rejected start must not mutate the game")
			}
			if len(fx.enqueuer.Enqueued) != 0 {
				t.Error("rejected start must not seed the turn queue")
			}
		})
	}
}

func TestStartGameFromPlayerView_CreatesRunningGame(t *testing.T) {
	fx := newTestFixture()
	fx.env.CurrentPlayerFunc = func(state gamedomain.State) (shared.PlayerID, error) {
		if len(fx.repo.Players) == 0 {
			t.Fatal("current player resolved before any seats existed")
		}
		return fx.repo.Players[0].PlayerID, nil
	}

	result, err := fx.service.StartGameFromPlayerView(context.Background(), StartGameFromPlayerViewInput{
		GameType:          shared.GameTypeChess,
		Config:            json.RawMessage(`{"variant":"standard"}`),
		AgentIDs:          []shared.AgentVersionID{"agent-a", "agent-b"},
		InitialPlayerView: json.RawMessage(`{"fen":"startpos"}`),
		RequestingUserID:  "user-a",
		IsPlayground:      true,
	})
	if err != nil {
		t.Fatalf("StartGameFromPlayerView failed: %v", err)
	}

	if result.Game.MatchmakingStatus != shared.MatchmakingStatusInProgress {
		t.Errorf("expected IN_PROGRESS, got %s", result.Game.MatchmakingStatus)
	}
	if !result.Game.IsPlayground {
		t.Error("expected a playground game")
	}
	if result.Game.CurrentPlayerCount != 2 {
		t.Errorf("expected 2 seats, got %d", result.Game.CurrentPlayerCount)
	}
	if fx.repo.Calls("CreateGame") != 1 || fx.repo.Calls("AddPlayer") != 2 {
		t.Errorf("unexpected repository trace: %v", fx.repo.Trace())
	}
	if len(fx.enqueuer.Enqueued) != 1 || fx.enqueuer.Enqueued[0].Turn != 0 {
		t.Errorf("expected one turn-0 item, got %+v", fx.enqueuer.Enqueued)
	}
}

func TestStartGameFromPlayerView_RequiresAgents(t *testing.T) {
	fx := newTestFixture()
	_, err := fx.service.StartGameFromPlayerView(context.Background(), StartGameFromPlayerViewInput{
		GameType:         shared.GameTypeChess,
		RequestingUserID: "user-a",
	})
	if !errors.Is(err, ErrNoAgentsProvided) {
		t.Fatalf("expected ErrNoAgentsProvided, got %v", err)
	}
}

func TestStartGameFromPlayerView_DiscardsPriorPlaygrounds(t *testing.T) {
	fx := newTestFixture()
	target := shared.UserID("user-a")

	_, err := fx.service.StartGameFromPlayerView(context.Background(), StartGameFromPlayerViewInput{
		GameType:            shared.GameTypeChess,
		AgentIDs:            []shared.AgentVersionID{"agent-a"},
		RequestingUserID:    target,
		IsPlayground:        true,
		CleanupTargetUserID: &target,
	})
	if err != nil {
		t.Fatalf("StartGameFromPlayerView failed: %v", err)
	}
	if fx.repo.Calls("DiscardPlaygroundGames") != 1 {
		t.Error("expected prior playground games to be discarded")
	}
}

func TestStartExistingGame_SurvivesEnqueueFailure(t *testing.T) {
	fx := newTestFixture()
	game := fx.waitingGame()
	fx.env.Current = fx.repo.Players[0].PlayerID
	fx.enqueuer.EnqueueTurnFunc = func(ctx context.Context, gameID shared.GameID, playerID shared.PlayerID, turn shared.Turn) error {
		return errors.New("queue unavailable")
	}

	result, err := fx.service.StartExistingGame(context.Background(), game.ID)
	if err != nil {
		t.Fatalf("start must not fail on a seeding error, got: %v", err)
	}
	if result.Game.MatchmakingStatus != shared.MatchmakingStatusInProgress {
		t.Errorf("the committed start must stand, got %s", result.Game.MatchmakingStatus)
	}
}
