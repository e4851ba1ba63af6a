package gamedb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"

	gamedomain "github.com/parlorgames/arena-backend/app/modules/game/domain"
	"github.com/parlorgames/arena-backend/app/shared"
)

// DefaultLockStaleAfter is how old a held processing lock must be before
// acquire treats it as abandoned and reclaims it.
const DefaultLockStaleAfter = 10 * time.Minute

// GameDBImpl is the bun-backed Repository implementation.
type GameDBImpl struct {
	LockStaleAfter time.Duration
}

var _ Repository = (*GameDBImpl)(nil)

// NewGameDB returns a repository with the default lock staleness policy.
func NewGameDB() *GameDBImpl {
	return &GameDBImpl{LockStaleAfter: DefaultLockStaleAfter}
}

func (r *GameDBImpl) staleAfter() time.Duration {
	if r.LockStaleAfter > 0 {
		return r.LockStaleAfter
	}
	return DefaultLockStaleAfter
}

func (r *GameDBImpl) CreateGame(ctx context.Context, db bun.IDB, game *gamedomain.Game) error {
	if _, err := db.NewInsert().Model(game).Exec(ctx); err != nil {
		return fmt.Errorf("failed to create game: %w", err)
	}
	return nil
}

func (r *GameDBImpl) GetGame(ctx context.Context, db bun.IDB, gameID shared.GameID) (*gamedomain.Game, error) {
	game := new(gamedomain.Game)
	err := db.NewSelect().Model(game).Where("g.id = ?", gameID).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch game: %w", err)
	}
	return game, nil
}

// AcquireProcessingLock claims the single-writer lock in one conditional
// write: the lock fields are set only when they are unset or stale. The
// losing caller cannot tell a held lock from a just-released one, so it
// re-reads the row to classify the failure.
func (r *GameDBImpl) AcquireProcessingLock(ctx context.Context, db bun.IDB, gameID shared.GameID, requestID shared.RequestID) (*gamedomain.Game, error) {
	now := time.Now()
	staleBefore := now.Add(-r.staleAfter())

	game := new(gamedomain.Game)
	res, err := db.NewUpdate().
		Model(game).
		Set("processing_started_at = ?", now).
		Set("processing_request_id = ?", requestID).
		Where("id = ?", gameID).
		Where("(processing_started_at IS NULL OR processing_started_at < ?)", staleBefore).
		Returning("*").
		Exec(ctx)
	if err != nil {
		if isSerializationFailure(err) {
			return nil, ErrConcurrentModification
		}
		return nil, fmt.Errorf("failed to acquire processing lock: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read lock acquire result: %w", err)
	}
	if rows == 0 {
		exists, exErr := db.NewSelect().
			Model((*gamedomain.Game)(nil)).
			Where("g.id = ?", gameID).
			Exists(ctx)
		if exErr != nil {
			return nil, fmt.Errorf("failed to classify lock contention: %w", exErr)
		}
		if !exists {
			return nil, ErrNotFound
		}
		return nil, ErrAlreadyProcessing
	}
	return game, nil
}

// ReleaseProcessingLock clears the lock fields unconditionally. Releasing
// an unheld lock is a no-op.
func (r *GameDBImpl) ReleaseProcessingLock(ctx context.Context, db bun.IDB, gameID shared.GameID) error {
	_, err := db.NewUpdate().
		Model((*gamedomain.Game)(nil)).
		Set("processing_started_at = NULL").
		Set("processing_request_id = NULL").
		Where("id = ?", gameID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to release processing lock: %w", err)
	}
	return nil
}

// UpdateGameOptimistic persists the mutable columns guarded by the version
// counter. The version bump is what gives long pollers their cheap change
// signal, so every externally visible mutation must go through here.
func (r *GameDBImpl) UpdateGameOptimistic(ctx context.Context, db bun.IDB, game *gamedomain.Game, expectedVersion shared.Version) error {
	res, err := db.NewUpdate().
		Model(game).
		Column("state", "turn", "matchmaking_status", "waiting_deadline",
			"current_player_count", "started_at", "updated_at").
		Set("version = ?", expectedVersion+1).
		Where("id = ?", game.ID).
		Where("version = ?", expectedVersion).
		Exec(ctx)
	if err != nil {
		if isSerializationFailure(err) {
			return ErrConcurrentModification
		}
		return fmt.Errorf("failed to update game: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read game update result: %w", err)
	}
	if rows == 0 {
		return ErrConcurrentModification
	}
	game.Version = expectedVersion + 1
	return nil
}

func (r *GameDBImpl) AppendEvents(ctx context.Context, db bun.IDB, gameID shared.GameID, drafts []gamedomain.EventDraft) ([]gamedomain.GameEvent, error) {
	if len(drafts) == 0 {
		return nil, nil
	}
	events := make([]gamedomain.GameEvent, len(drafts))
	for i, draft := range drafts {
		events[i] = gamedomain.GameEvent{
			GameID:    gameID,
			EventType: draft.Type,
			Payload:   draft.Payload,
		}
	}
	if _, err := db.NewInsert().Model(&events).Returning("id, created_at").Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to append game events: %w", err)
	}
	return events, nil
}

func (r *GameDBImpl) ListEvents(ctx context.Context, db bun.IDB, gameID shared.GameID, afterID int64) ([]gamedomain.GameEvent, error) {
	var events []gamedomain.GameEvent
	err := db.NewSelect().
		Model(&events).
		Where("ge.game_id = ?", gameID).
		Where("ge.id > ?", afterID).
		Order("ge.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list game events: %w", err)
	}
	return events, nil
}

func (r *GameDBImpl) AddPlayer(ctx context.Context, db bun.IDB, player *gamedomain.GamePlayer) error {
	if _, err := db.NewInsert().Model(player).Exec(ctx); err != nil {
		return fmt.Errorf("failed to add game player: %w", err)
	}
	return nil
}

func (r *GameDBImpl) GetActivePlayers(ctx context.Context, db bun.IDB, gameID shared.GameID) ([]gamedomain.GamePlayer, error) {
	var players []gamedomain.GamePlayer
	err := db.NewSelect().
		Model(&players).
		Where("gp.game_id = ?", gameID).
		Where("gp.leave_time IS NULL").
		Order("gp.join_time ASC", "gp.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get active players: %w", err)
	}
	return players, nil
}

func (r *GameDBImpl) CloseSeat(ctx context.Context, db bun.IDB, gameID shared.GameID, userID shared.UserID, at time.Time) (bool, error) {
	res, err := db.NewUpdate().
		Model((*gamedomain.GamePlayer)(nil)).
		Set("leave_time = ?", at).
		Where("game_id = ?", gameID).
		Where("user_id = ?", userID).
		Where("leave_time IS NULL").
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to close seat: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read close seat result: %w", err)
	}
	return rows > 0, nil
}

func (r *GameDBImpl) CloseAllSeats(ctx context.Context, db bun.IDB, gameID shared.GameID, at time.Time) error {
	_, err := db.NewUpdate().
		Model((*gamedomain.GamePlayer)(nil)).
		Set("leave_time = ?", at).
		Where("game_id = ?", gameID).
		Where("leave_time IS NULL").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to close seats: %w", err)
	}
	return nil
}

// FindJoinableWaitingGame claims a compatible waiting room for the
// duration of the surrounding transaction. SKIP LOCKED keeps concurrent
// matchmakers from serializing on the same row.
func (r *GameDBImpl) FindJoinableWaitingGame(ctx context.Context, db bun.IDB, gameType shared.GameType, config json.RawMessage) (*gamedomain.Game, error) {
	game := new(gamedomain.Game)
	q := db.NewSelect().
		Model(game).
		Where("g.game_type = ?", gameType).
		Where("g.matchmaking_status = ?", shared.MatchmakingStatusWaiting).
		Where("g.is_playground = FALSE").
		Where("g.current_player_count < g.max_players_allowed").
		Order("g.created_at ASC").
		Limit(1).
		For("UPDATE SKIP LOCKED")
	if len(config) > 0 {
		q = q.Where("g.config = ?::jsonb", string(config))
	}
	if err := q.Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find joinable waiting game: %w", err)
	}
	return game, nil
}

func (r *GameDBImpl) GetActiveQueueEntry(ctx context.Context, db bun.IDB, userID shared.UserID, gameType shared.GameType) (*gamedomain.Game, error) {
	game := new(gamedomain.Game)
	err := db.NewSelect().
		Model(game).
		Join("JOIN game_players AS gp ON gp.game_id = g.id").
		Where("gp.user_id = ?", userID).
		Where("gp.leave_time IS NULL").
		Where("g.game_type = ?", gameType).
		Where("g.is_playground = FALSE").
		Where("g.matchmaking_status IN (?)", bun.In([]shared.MatchmakingStatus{
			shared.MatchmakingStatusWaiting,
			shared.MatchmakingStatusInProgress,
		})).
		Order("gp.join_time DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get active queue entry: %w", err)
	}
	return game, nil
}

func (r *GameDBImpl) GetMatchmakingEntry(ctx context.Context, db bun.IDB, userID shared.UserID) (*MatchmakingEntry, error) {
	game := new(gamedomain.Game)
	err := db.NewSelect().
		Model(game).
		Join("JOIN game_players AS gp ON gp.game_id = g.id").
		Where("gp.user_id = ?", userID).
		Where("gp.leave_time IS NULL").
		Where("g.is_playground = FALSE").
		Where("g.matchmaking_status IN (?)", bun.In([]shared.MatchmakingStatus{
			shared.MatchmakingStatusWaiting,
			shared.MatchmakingStatusInProgress,
		})).
		Order("gp.join_time DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get matchmaking entry: %w", err)
	}
	return &MatchmakingEntry{
		GameID:          game.ID,
		Status:          game.MatchmakingStatus,
		CurrentPlayers:  game.CurrentPlayerCount,
		MinPlayers:      game.MinPlayersRequired,
		MaxPlayers:      game.MaxPlayersAllowed,
		WaitingDeadline: game.WaitingDeadline,
	}, nil
}

func (r *GameDBImpl) ListExpiredWaitingGames(ctx context.Context, db bun.IDB, now time.Time) ([]*gamedomain.Game, error) {
	var games []*gamedomain.Game
	err := db.NewSelect().
		Model(&games).
		Where("g.matchmaking_status = ?", shared.MatchmakingStatusWaiting).
		Where("g.waiting_deadline IS NOT NULL").
		Where("g.waiting_deadline <= ?", now).
		Order("g.waiting_deadline ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired waiting games: %w", err)
	}
	return games, nil
}

func (r *GameDBImpl) ListStaleWaitingGames(ctx context.Context, db bun.IDB, olderThan time.Time) ([]*gamedomain.Game, error) {
	var games []*gamedomain.Game
	err := db.NewSelect().
		Model(&games).
		Where("g.matchmaking_status = ?", shared.MatchmakingStatusWaiting).
		Where("g.created_at < ?", olderThan).
		Order("g.created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale waiting games: %w", err)
	}
	return games, nil
}

func (r *GameDBImpl) DiscardPlaygroundGames(ctx context.Context, db bun.IDB, userID shared.UserID, at time.Time) (int, error) {
	var ids []shared.GameID
	err := db.NewSelect().
		Model((*gamedomain.Game)(nil)).
		Column("g.id").
		Where("g.created_by_user_id = ?", userID).
		Where("g.is_playground = TRUE").
		Where("g.matchmaking_status IN (?)", bun.In([]shared.MatchmakingStatus{
			shared.MatchmakingStatusWaiting,
			shared.MatchmakingStatusInProgress,
		})).
		Scan(ctx, &ids)
	if err != nil {
		return 0, fmt.Errorf("failed to find playground games: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	_, err = db.NewUpdate().
		Model((*gamedomain.Game)(nil)).
		Set("matchmaking_status = ?", shared.MatchmakingStatusCancelled).
		Set("version = version + 1").
		Set("updated_at = ?", at).
		Where("id IN (?)", bun.In(ids)).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to discard playground games: %w", err)
	}

	_, err = db.NewUpdate().
		Model((*gamedomain.GamePlayer)(nil)).
		Set("leave_time = ?", at).
		Where("game_id IN (?)", bun.In(ids)).
		Where("leave_time IS NULL").
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to close playground seats: %w", err)
	}
	return len(ids), nil
}

// isSerializationFailure detects Postgres optimistic-concurrency class
// failures (40001 serialization_failure, 40P01 deadlock_detected).
func isSerializationFailure(err error) bool {
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) {
		code := pgErr.Field('C')
		return code == "40001" || code == "40P01"
	}
	return false
}
