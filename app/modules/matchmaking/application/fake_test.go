package matchmakingservice

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace/noop"

	gameservice "github.com/parlorgames/arena-backend/app/modules/game/application"
	gamedomain "github.com/parlorgames/arena-backend/app/modules/game/domain"
	"github.com/parlorgames/arena-backend/app/modules/game/infrastructure/repositories/fakes"
	"github.com/parlorgames/arena-backend/app/shared"
)

// fakeEnvironment is a programmable rules engine.
type fakeEnvironment struct {
	Backfill bool

	NewGameFunc              func(ctx context.Context, gameID shared.GameID, config json.RawMessage) (gamedomain.State, error)
	PlayerRequirementsFunc   func(config json.RawMessage) (gamedomain.PlayerRequirements, error)
	AllowsSystemBackfillFunc func(config json.RawMessage) bool
}

var _ gamedomain.Environment = (*fakeEnvironment)(nil)

func (f *fakeEnvironment) NewGame(ctx context.Context, gameID shared.GameID, config json.RawMessage) (gamedomain.State, error) {
	if f.NewGameFunc != nil {
		return f.NewGameFunc(ctx, gameID, config)
	}
	return json.RawMessage(`{"fresh":true}`), nil
}

func (f *fakeEnvironment) JoinPlayer(ctx context.Context, state gamedomain.State, playerID shared.PlayerID, agentVersionID shared.AgentVersionID, name string) (gamedomain.State, []gamedomain.EventDraft, error) {
	return state, nil, nil
}

func (f *fakeEnvironment) ApplyMove(ctx context.Context, state gamedomain.State, playerID shared.PlayerID, move gamedomain.Move) (gamedomain.MoveResult, error) {
	return gamedomain.MoveResult{State: state}, nil
}

func (f *fakeEnvironment) CurrentPlayer(state gamedomain.State) (shared.PlayerID, error) {
	return shared.PlayerID{}, nil
}

func (f *fakeEnvironment) CheckTimeout(ctx context.Context, state gamedomain.State, expectedPlayerID shared.PlayerID) (gamedomain.TimeoutResult, error) {
	return gamedomain.TimeoutResult{Expired: false, State: state}, nil
}

func (f *fakeEnvironment) PlayerRequirements(config json.RawMessage) (gamedomain.PlayerRequirements, error) {
	if f.PlayerRequirementsFunc != nil {
		return f.PlayerRequirementsFunc(config)
	}
	return gamedomain.PlayerRequirements{Min: 2, Max: 2}, nil
}

func (f *fakeEnvironment) AllowsSystemBackfill(config json.RawMessage) bool {
	if f.AllowsSystemBackfillFunc != nil {
		return f.AllowsSystemBackfillFunc(config)
	}
	return f.Backfill
}

type fakeStarter struct {
	StartFunc func(ctx context.Context, gameID shared.GameID) (*gameservice.TurnResult, error)
	Started   []shared.GameID
}

func (f *fakeStarter) StartExistingGame(ctx context.Context, gameID shared.GameID) (*gameservice.TurnResult, error) {
	f.Started = append(f.Started, gameID)
	if f.StartFunc != nil {
		return f.StartFunc(ctx, gameID)
	}
	return &gameservice.TurnResult{
		Game: &gamedomain.Game{ID: gameID, MatchmakingStatus: shared.MatchmakingStatusInProgress},
	}, nil
}

type noopMetrics struct{}

func (noopMetrics) RecordOperationAttempt(ctx context.Context, operation string) {}
func (noopMetrics) RecordOperationSuccess(ctx context.Context, operation string) {}
func (noopMetrics) RecordOperationFailure(ctx context.Context, operation string) {}
func (noopMetrics) RecordOperationDuration(ctx context.Context, operation string, duration time.Duration) {
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type testFixture struct {
	service *MatchmakingService
	repo    *fakes.FakeRepository
	env     *fakeEnvironment
	starter *fakeStarter
	clock   fixedClock
	cfg     Config
}

func newTestFixture() *testFixture {
	repo := fakes.NewFakeRepository()
	env := &fakeEnvironment{}
	starter := &fakeStarter{}
	clock := fixedClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
	cfg := Config{
		WaitingPeriod:        30 * time.Second,
		StaleGameAge:         10 * time.Minute,
		SystemAgentVersionID: "system-bot",
		SystemUserID:         "system",
	}

	registry := gamedomain.NewRegistry(map[shared.GameType]gamedomain.Environment{
		shared.GameTypeChess: env,
	})

	service := NewMatchmakingService(
		&fakes.FakeDB{},
		repo,
		registry,
		starter,
		cfg,
		clock,
		slog.New(slog.DiscardHandler),
		noopMetrics{},
		noop.NewTracerProvider().Tracer("test"),
	)

	return &testFixture{
		service: service,
		repo:    repo,
		env:     env,
		starter: starter,
		clock:   clock,
		cfg:     cfg,
	}
}

// waitingRoom seeds the fake repository with a WAITING chess game holding
// one seated player.
func (fx *testFixture) waitingRoom(current, min, max int) *gamedomain.Game {
	deadline := fx.clock.Now().Add(fx.cfg.WaitingPeriod)
	game := &gamedomain.Game{
		ID:                 shared.NewGameID(),
		GameType:           shared.GameTypeChess,
		State:              json.RawMessage(`{"fresh":true}`),
		Config:             json.RawMessage(`{}`),
		MatchmakingStatus:  shared.MatchmakingStatusWaiting,
		WaitingDeadline:    &deadline,
		CurrentPlayerCount: current,
		MinPlayersRequired: min,
		MaxPlayersAllowed:  max,
		CreatedBy:          "user-a",
	}
	fx.repo.Game = game
	fx.repo.Players = []gamedomain.GamePlayer{
		{GameID: game.ID, PlayerID: shared.NewPlayerID(), AgentVersionID: "agent-a", UserID: "user-a"},
	}
	return game
}
