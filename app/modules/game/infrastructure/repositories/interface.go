package gamedb

import (
	"context"
	"encoding/json"
	"time"

	"github.com/uptrace/bun"

	gamedomain "github.com/parlorgames/arena-backend/app/modules/game/domain"
	"github.com/parlorgames/arena-backend/app/shared"
)

// MatchmakingEntry is the caller-facing snapshot of a queue position, and
// the comparable signal behind the matchmaking status long poll.
type MatchmakingEntry struct {
	GameID          shared.GameID
	Status          shared.MatchmakingStatus
	CurrentPlayers  int
	MinPlayers      int
	MaxPlayers      int
	WaitingDeadline *time.Time
}

// Repository is the persistence surface for games, seats, and events.
// Methods take a bun.IDB so callers can pass either the root DB or an open
// transaction.
type Repository interface {
	CreateGame(ctx context.Context, db bun.IDB, game *gamedomain.Game) error
	GetGame(ctx context.Context, db bun.IDB, gameID shared.GameID) (*gamedomain.Game, error)

	// AcquireProcessingLock atomically claims the single-writer lock on a
	// game row. A lock older than staleAfter is treated as abandoned and
	// reclaimed. Fails with ErrAlreadyProcessing when the row is held.
	AcquireProcessingLock(ctx context.Context, db bun.IDB, gameID shared.GameID, requestID shared.RequestID) (*gamedomain.Game, error)

	// ReleaseProcessingLock unconditionally clears the lock fields. It is
	// idempotent and must be invoked on every exit path.
	ReleaseProcessingLock(ctx context.Context, db bun.IDB, gameID shared.GameID) error

	// UpdateGameOptimistic persists all mutable columns of game, guarded
	// by expectedVersion, and bumps version by one. Fails with
	// ErrConcurrentModification when the guard misses.
	UpdateGameOptimistic(ctx context.Context, db bun.IDB, game *gamedomain.Game, expectedVersion shared.Version) error

	AppendEvents(ctx context.Context, db bun.IDB, gameID shared.GameID, drafts []gamedomain.EventDraft) ([]gamedomain.GameEvent, error)
	ListEvents(ctx context.Context, db bun.IDB, gameID shared.GameID, afterID int64) ([]gamedomain.GameEvent, error)

	AddPlayer(ctx context.Context, db bun.IDB, player *gamedomain.GamePlayer) error
	GetActivePlayers(ctx context.Context, db bun.IDB, gameID shared.GameID) ([]gamedomain.GamePlayer, error)
	CloseSeat(ctx context.Context, db bun.IDB, gameID shared.GameID, userID shared.UserID, at time.Time) (bool, error)
	CloseAllSeats(ctx context.Context, db bun.IDB, gameID shared.GameID, at time.Time) error

	// FindJoinableWaitingGame claims a compatible WAITING game row for the
	// duration of the surrounding transaction, skipping rows other
	// matchmakers hold.
	FindJoinableWaitingGame(ctx context.Context, db bun.IDB, gameType shared.GameType, config json.RawMessage) (*gamedomain.Game, error)

	// GetActiveQueueEntry finds the user's live seat in a non-terminal
	// game of the given type, if any.
	GetActiveQueueEntry(ctx context.Context, db bun.IDB, userID shared.UserID, gameType shared.GameType) (*gamedomain.Game, error)

	// GetMatchmakingEntry snapshots the user's most recent live queue
	// position across all game types.
	GetMatchmakingEntry(ctx context.Context, db bun.IDB, userID shared.UserID) (*MatchmakingEntry, error)

	ListExpiredWaitingGames(ctx context.Context, db bun.IDB, now time.Time) ([]*gamedomain.Game, error)
	ListStaleWaitingGames(ctx context.Context, db bun.IDB, olderThan time.Time) ([]*gamedomain.Game, error)

	// DiscardPlaygroundGames cancels a user's playground games and closes
	// their seats. Playgrounds are disposable scratch sessions.
	DiscardPlaygroundGames(ctx context.Context, db bun.IDB, userID shared.UserID, at time.Time) (int, error)
}
