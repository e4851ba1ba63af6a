package gameservice

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace/noop"

	gamedomain "github.com/parlorgames/arena-backend/app/modules/game/domain"
	"github.com/parlorgames/arena-backend/app/modules/game/infrastructure/repositories/fakes"
	"github.com/parlorgames/arena-backend/app/shared"
)

// fakeEnvironment is a programmable rules engine.
type fakeEnvironment struct {
	Current shared.PlayerID

	NewGameFunc              func(ctx context.Context, gameID shared.GameID, config json.RawMessage) (gamedomain.State, error)
	JoinPlayerFunc           func(ctx context.Context, state gamedomain.State, playerID shared.PlayerID, agentVersionID shared.AgentVersionID, name string) (gamedomain.State, []gamedomain.EventDraft, error)
	ApplyMoveFunc            func(ctx context.Context, state gamedomain.State, playerID shared.PlayerID, move gamedomain.Move) (gamedomain.MoveResult, error)
	CurrentPlayerFunc        func(state gamedomain.State) (shared.PlayerID, error)
	CheckTimeoutFunc         func(ctx context.Context, state gamedomain.State, expectedPlayerID shared.PlayerID) (gamedomain.TimeoutResult, error)
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
	if f.JoinPlayerFunc != nil {
		return f.JoinPlayerFunc(ctx, state, playerID, agentVersionID, name)
	}
	return state, nil, nil
}

func (f *fakeEnvironment) ApplyMove(ctx context.Context, state gamedomain.State, playerID shared.PlayerID, move gamedomain.Move) (gamedomain.MoveResult, error) {
	if f.ApplyMoveFunc != nil {
		return f.ApplyMoveFunc(ctx, state, playerID, move)
	}
	return gamedomain.MoveResult{State: state, NextPlayerID: f.Current}, nil
}

func (f *fakeEnvironment) CurrentPlayer(state gamedomain.State) (shared.PlayerID, error) {
	if f.CurrentPlayerFunc != nil {
		return f.CurrentPlayerFunc(state)
	}
	return f.Current, nil
}

func (f *fakeEnvironment) CheckTimeout(ctx context.Context, state gamedomain.State, expectedPlayerID shared.PlayerID) (gamedomain.TimeoutResult, error) {
	if f.CheckTimeoutFunc != nil {
		return f.CheckTimeoutFunc(ctx, state, expectedPlayerID)
	}
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
	return false
}

type fakeAgentClient struct {
	DecideFunc func(ctx context.Context, req gamedomain.DecisionRequest) (gamedomain.Decision, error)
	Requests   []gamedomain.DecisionRequest
}

func (f *fakeAgentClient) Decide(ctx context.Context, req gamedomain.DecisionRequest) (gamedomain.Decision, error) {
	f.Requests = append(f.Requests, req)
	if f.DecideFunc != nil {
		return f.DecideFunc(ctx, req)
	}
	return gamedomain.Decision{Kind: gamedomain.DecisionKindMove, Move: json.RawMessage(`{"pass":true}`)}, nil
}

type enqueuedTurn struct {
	GameID   shared.GameID
	PlayerID shared.PlayerID
	Turn     shared.Turn
}

type fakeEnqueuer struct {
	EnqueueTurnFunc func(ctx context.Context, gameID shared.GameID, playerID shared.PlayerID, turn shared.Turn) error
	Enqueued        []enqueuedTurn
}

func (f *fakeEnqueuer) EnqueueTurn(ctx context.Context, gameID shared.GameID, playerID shared.PlayerID, turn shared.Turn) error {
	f.Enqueued = append(f.Enqueued, enqueuedTurn{GameID: gameID, PlayerID: playerID, Turn: turn})
	if f.EnqueueTurnFunc != nil {
		return f.EnqueueTurnFunc(ctx, gameID, playerID, turn)
	}
	return nil
}

type fakePublisher struct {
	Published int
	Err       error
}

func (f *fakePublisher) PublishGameUpdated(ctx context.Context, game *gamedomain.Game, events []gamedomain.GameEvent) error {
	f.Published++
	return f.Err
}

type fakeRatings struct {
	Outcomes []gamedomain.GameOutcome
	Err      error
}

func (f *fakeRatings) FinalizeGame(ctx context.Context, outcome gamedomain.GameOutcome) error {
	f.Outcomes = append(f.Outcomes, outcome)
	return f.Err
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
	service   *GameService
	repo      *fakes.FakeRepository
	env       *fakeEnvironment
	agents    *fakeAgentClient
	enqueuer  *fakeEnqueuer
	publisher *fakePublisher
	ratings   *fakeRatings
	clock     fixedClock
}

func newTestFixture() *testFixture {
	repo := fakes.NewFakeRepository()
	env := &fakeEnvironment{}
	agents := &fakeAgentClient{}
	enqueuer := &fakeEnqueuer{}
	publisher := &fakePublisher{}
	ratings := &fakeRatings{}
	clock := fixedClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}

	registry := gamedomain.NewRegistry(map[shared.GameType]gamedomain.Environment{
		shared.GameTypeChess: env,
	})

	service := NewGameService(
		&fakes.FakeDB{},
		repo,
		registry,
		agents,
		ratings,
		enqueuer,
		publisher,
		clock,
		slog.New(slog.DiscardHandler),
		noopMetrics{},
		noop.NewTracerProvider().Tracer("test"),
	)

	return &testFixture{
		service:   service,
		repo:      repo,
		env:       env,
		agents:    agents,
		enqueuer:  enqueuer,
		publisher: publisher,
		ratings:   ratings,
		clock:     clock,
	}
}

// waitingGame seeds the fake repository with a WAITING chess game and two
// seated players, returning the game.
func (fx *testFixture) waitingGame() *gamedomain.Game {
	game := &gamedomain.Game{
		ID:                 shared.NewGameID(),
		GameType:           shared.GameTypeChess,
		State:              json.RawMessage(`{"fresh":true}`),
		Config:             json.RawMessage(`{}`),
		MatchmakingStatus:  shared.MatchmakingStatusWaiting,
		CurrentPlayerCount: 2,
		MinPlayersRequired: 2,
		MaxPlayersAllowed:  2,
		CreatedBy:          "user-a",
	}
	fx.repo.Game = game
	fx.repo.Players = []gamedomain.GamePlayer{
		{GameID: game.ID, PlayerID: shared.NewPlayerID(), AgentVersionID: "agent-a", UserID: "user-a"},
		{GameID: game.ID, PlayerID: shared.NewPlayerID(), AgentVersionID: "agent-b", UserID: "user-b"},
	}
	return game
}

// inProgressGame seeds a running game whose expected actor is the first
// seated player.
func (fx *testFixture) inProgressGame() *gamedomain.Game {
	game := fx.waitingGame()
	now := fx.clock.Now()
	game.MatchmakingStatus = shared.MatchmakingStatusInProgress
	game.StartedAt = &now
	game.Turn = 3
	game.Version = 5
	fx.env.Current = fx.repo.Players[0].PlayerID
	return game
}
