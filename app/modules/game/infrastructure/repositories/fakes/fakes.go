// Package fakes provides hand-rolled programmable stubs for the game
// repository, shared by the service test suites.
package fakes

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/uptrace/bun"

	gamedomain "github.com/parlorgames/arena-backend/app/modules/game/domain"
	gamedb "github.com/parlorgames/arena-backend/app/modules/game/infrastructure/repositories"
	"github.com/parlorgames/arena-backend/app/shared"
)

// FakeDB satisfies the RunInTx requirement without a real database. Repo
// fakes ignore the bun.IDB they are handed, so an empty bun.Tx works.
type FakeDB struct {
	bun.IDB
}

func (f *FakeDB) RunInTx(ctx context.Context, opts *sql.TxOptions, fn func(context.Context, bun.Tx) error) error {
	return fn(ctx, bun.Tx{})
}

// FakeRepository is a programmable stub for gamedb.Repository. Each method
// records its call, then delegates to the matching Func field when set,
// otherwise falls back to simple in-memory behavior driven by Game and
// Players.
type FakeRepository struct {
	trace []string

	Game    *gamedomain.Game
	Players []gamedomain.GamePlayer

	nextEventID int64

	CreateGameFunc              func(ctx context.Context, db bun.IDB, game *gamedomain.Game) error
	GetGameFunc                 func(ctx context.Context, db bun.IDB, gameID shared.GameID) (*gamedomain.Game, error)
	AcquireProcessingLockFunc   func(ctx context.Context, db bun.IDB, gameID shared.GameID, requestID shared.RequestID) (*gamedomain.Game, error)
	ReleaseProcessingLockFunc   func(ctx context.Context, db bun.IDB, gameID shared.GameID) error
	UpdateGameOptimisticFunc    func(ctx context.Context, db bun.IDB, game *gamedomain.Game, expectedVersion shared.Version) error
	AppendEventsFunc            func(ctx context.Context, db bun.IDB, gameID shared.GameID, drafts []gamedomain.EventDraft) ([]gamedomain.GameEvent, error)
	ListEventsFunc              func(ctx context.Context, db bun.IDB, gameID shared.GameID, afterID int64) ([]gamedomain.GameEvent, error)
	AddPlayerFunc               func(ctx context.Context, db bun.IDB, player *gamedomain.GamePlayer) error
	GetActivePlayersFunc        func(ctx context.Context, db bun.IDB, gameID shared.GameID) ([]gamedomain.GamePlayer, error)
	CloseSeatFunc               func(ctx context.Context, db bun.IDB, gameID shared.GameID, userID shared.UserID, at time.Time) (bool, error)
	CloseAllSeatsFunc           func(ctx context.Context, db bun.IDB, gameID shared.GameID, at time.Time) error
	FindJoinableWaitingGameFunc func(ctx context.Context, db bun.IDB, gameType shared.GameType, config json.RawMessage) (*gamedomain.Game, error)
	GetActiveQueueEntryFunc     func(ctx context.Context, db bun.IDB, userID shared.UserID, gameType shared.GameType) (*gamedomain.Game, error)
	GetMatchmakingEntryFunc     func(ctx context.Context, db bun.IDB, userID shared.UserID) (*gamedb.MatchmakingEntry, error)
	ListExpiredWaitingGamesFunc func(ctx context.Context, db bun.IDB, now time.Time) ([]*gamedomain.Game, error)
	ListStaleWaitingGamesFunc   func(ctx context.Context, db bun.IDB, olderThan time.Time) ([]*gamedomain.Game, error)
	DiscardPlaygroundGamesFunc  func(ctx context.Context, db bun.IDB, userID shared.UserID, at time.Time) (int, error)
}

var _ gamedb.Repository = (*FakeRepository)(nil)

func NewFakeRepository() *FakeRepository {
	return &FakeRepository{trace: []string{}}
}

// Trace returns the sequence of repository calls made so far.
func (f *FakeRepository) Trace() []string {
	out := make([]string, len(f.trace))
	copy(out, f.trace)
	return out
}

// Calls counts how often the named method was invoked.
func (f *FakeRepository) Calls(method string) int {
	n := 0
	for _, step := range f.trace {
		if step == method {
			n++
		}
	}
	return n
}

func (f *FakeRepository) record(step string) {
	f.trace = append(f.trace, step)
}

func (f *FakeRepository) CreateGame(ctx context.Context, db bun.IDB, game *gamedomain.Game) error {
	f.record("CreateGame")
	if f.CreateGameFunc != nil {
		return f.CreateGameFunc(ctx, db, game)
	}
	f.Game = game
	return nil
}

func (f *FakeRepository) GetGame(ctx context.Context, db bun.IDB, gameID shared.GameID) (*gamedomain.Game, error) {
	f.record("GetGame")
	if f.GetGameFunc != nil {
		return f.GetGameFunc(ctx, db, gameID)
	}
	if f.Game == nil || f.Game.ID != gameID {
		return nil, gamedb.ErrNotFound
	}
	return f.Game, nil
}

func (f *FakeRepository) AcquireProcessingLock(ctx context.Context, db bun.IDB, gameID shared.GameID, requestID shared.RequestID) (*gamedomain.Game, error) {
	f.record("AcquireProcessingLock")
	if f.AcquireProcessingLockFunc != nil {
		return f.AcquireProcessingLockFunc(ctx, db, gameID, requestID)
	}
	if f.Game == nil || f.Game.ID != gameID {
		return nil, gamedb.ErrNotFound
	}
	if f.Game.Locked() {
		return nil, gamedb.ErrAlreadyProcessing
	}
	now := time.Now()
	f.Game.ProcessingStartedAt = &now
	f.Game.ProcessingRequestID = &requestID
	return f.Game, nil
}

func (f *FakeRepository) ReleaseProcessingLock(ctx context.Context, db bun.IDB, gameID shared.GameID) error {
	f.record("ReleaseProcessingLock")
	if f.ReleaseProcessingLockFunc != nil {
		return f.ReleaseProcessingLockFunc(ctx, db, gameID)
	}
	if f.Game != nil && f.Game.ID == gameID {
		f.Game.ProcessingStartedAt = nil
		f.Game.ProcessingRequestID = nil
	}
	return nil
}

func (f *FakeRepository) UpdateGameOptimistic(ctx context.Context, db bun.IDB, game *gamedomain.Game, expectedVersion shared.Version) error {
	f.record("UpdateGameOptimistic")
	if f.UpdateGameOptimisticFunc != nil {
		return f.UpdateGameOptimisticFunc(ctx, db, game, expectedVersion)
	}
	if f.Game != nil && f.Game.Version != expectedVersion {
		return gamedb.ErrConcurrentModification
	}
	game.Version = expectedVersion + 1
	f.Game = game
	return nil
}

func (f *FakeRepository) AppendEvents(ctx context.Context, db bun.IDB, gameID shared.GameID, drafts []gamedomain.EventDraft) ([]gamedomain.GameEvent, error) {
	f.record("AppendEvents")
	if f.AppendEventsFunc != nil {
		return f.AppendEventsFunc(ctx, db, gameID, drafts)
	}
	events := make([]gamedomain.GameEvent, len(drafts))
	for i, draft := range drafts {
		f.nextEventID++
		events[i] = gamedomain.GameEvent{
			ID:        f.nextEventID,
			GameID:    gameID,
			EventType: draft.Type,
			Payload:   draft.Payload,
		}
	}
	return events, nil
}

func (f *FakeRepository) ListEvents(ctx context.Context, db bun.IDB, gameID shared.GameID, afterID int64) ([]gamedomain.GameEvent, error) {
	f.record("ListEvents")
	if f.ListEventsFunc != nil {
		return f.ListEventsFunc(ctx, db, gameID, afterID)
	}
	return nil, nil
}

func (f *FakeRepository) AddPlayer(ctx context.Context, db bun.IDB, player *gamedomain.GamePlayer) error {
	f.record("AddPlayer")
	if f.AddPlayerFunc != nil {
		return f.AddPlayerFunc(ctx, db, player)
	}
	f.Players = append(f.Players, *player)
	return nil
}

func (f *FakeRepository) GetActivePlayers(ctx context.Context, db bun.IDB, gameID shared.GameID) ([]gamedomain.GamePlayer, error) {
	f.record("GetActivePlayers")
	if f.GetActivePlayersFunc != nil {
		return f.GetActivePlayersFunc(ctx, db, gameID)
	}
	active := make([]gamedomain.GamePlayer, 0, len(f.Players))
	for _, p := range f.Players {
		if p.GameID == gameID && p.Active() {
			active = append(active, p)
		}
	}
	return active, nil
}

func (f *FakeRepository) CloseSeat(ctx context.Context, db bun.IDB, gameID shared.GameID, userID shared.UserID, at time.Time) (bool, error) {
	f.record("CloseSeat")
	if f.CloseSeatFunc != nil {
		return f.CloseSeatFunc(ctx, db, gameID, userID, at)
	}
	for i := range f.Players {
		if f.Players[i].GameID == gameID && f.Players[i].UserID == userID && f.Players[i].Active() {
			f.Players[i].LeaveTime = &at
			return true, nil
		}
	}
	return false, nil
}

func (f *FakeRepository) CloseAllSeats(ctx context.Context, db bun.IDB, gameID shared.GameID, at time.Time) error {
	f.record("CloseAllSeats")
	if f.CloseAllSeatsFunc != nil {
		return f.CloseAllSeatsFunc(ctx, db, gameID, at)
	}
	for i := range f.Players {
		if f.Players[i].GameID == gameID && f.Players[i].Active() {
			f.Players[i].LeaveTime = &at
		}
	}
	return nil
}

func (f *FakeRepository) FindJoinableWaitingGame(ctx context.Context, db bun.IDB, gameType shared.GameType, config json.RawMessage) (*gamedomain.Game, error) {
	f.record("FindJoinableWaitingGame")
	if f.FindJoinableWaitingGameFunc != nil {
		return f.FindJoinableWaitingGameFunc(ctx, db, gameType, config)
	}
	return nil, gamedb.ErrNotFound
}

func (f *FakeRepository) GetActiveQueueEntry(ctx context.Context, db bun.IDB, userID shared.UserID, gameType shared.GameType) (*gamedomain.Game, error) {
	f.record("GetActiveQueueEntry")
	if f.GetActiveQueueEntryFunc != nil {
		return f.GetActiveQueueEntryFunc(ctx, db, userID, gameType)
	}
	return nil, gamedb.ErrNotFound
}

func (f *FakeRepository) GetMatchmakingEntry(ctx context.Context, db bun.IDB, userID shared.UserID) (*gamedb.MatchmakingEntry, error) {
	f.record("GetMatchmakingEntry")
	if f.GetMatchmakingEntryFunc != nil {
		return f.GetMatchmakingEntryFunc(ctx, db, userID)
	}
	return nil, gamedb.ErrNotFound
}

func (f *FakeRepository) ListExpiredWaitingGames(ctx context.Context, db bun.IDB, now time.Time) ([]*gamedomain.Game, error) {
	f.record("ListExpiredWaitingGames")
	if f.ListExpiredWaitingGamesFunc != nil {
		return f.ListExpiredWaitingGamesFunc(ctx, db, now)
	}
	return nil, nil
}

func (f *FakeRepository) ListStaleWaitingGames(ctx context.Context, db bun.IDB, olderThan time.Time) ([]*gamedomain.Game, error) {
	f.record("ListStaleWaitingGames")
	if f.ListStaleWaitingGamesFunc != nil {
		return f.ListStaleWaitingGamesFunc(ctx, db, olderThan)
	}
	return nil, nil
}

func (f *FakeRepository) DiscardPlaygroundGames(ctx context.Context, db bun.IDB, userID shared.UserID, at time.Time) (int, error) {
	f.record("DiscardPlaygroundGames")
	if f.DiscardPlaygroundGamesFunc != nil {
		return f.DiscardPlaygroundGamesFunc(ctx, db, userID, at)
	}
	return 0, nil
}
