package gameservice

import (
	"errors"
	"fmt"

	gamedb "github.com/parlorgames/arena-backend/app/modules/game/infrastructure/repositories"
	"github.com/parlorgames/arena-backend/app/shared"
)

// Domain errors for the game orchestrator. Queue consumers and HTTP
// handlers classify on these sentinels, so wrap rather than replace them.
var (
	// ErrGameAlreadyFinished indicates the game reached a terminal status
	// before this operation ran.
	ErrGameAlreadyFinished = errors.New("game has already finished")

	// ErrGameNotWaiting indicates a start was attempted on a game that is
	// not in the WAITING status.
	ErrGameNotWaiting = errors.New("game is not waiting to start")

	// ErrNotPlayerMove indicates the given player is not the expected
	// current actor.
	ErrNotPlayerMove = errors.New("not this player's move")

	// ErrTurnAdvancementConflict is the duplicate-delivery guard: the work
	// item describes a turn that has already been completed. Never retried;
	// consumers drop the item.
	ErrTurnAdvancementConflict = errors.New("turn has already been advanced")

	// ErrTimeoutNotExpired indicates FinalizeTimeout ran while the expected
	// player still had time on the clock. Nothing was persisted.
	ErrTimeoutNotExpired = errors.New("player clock has not expired")

	// ErrNotGameParticipant indicates the requesting user holds no active
	// seat in the game.
	ErrNotGameParticipant = errors.New("user is not a participant in this game")

	// ErrNoAgentsProvided indicates a game start with an empty seat list.
	ErrNoAgentsProvided = errors.New("at least one agent is required")
)

// TurnConflictError is the concrete turn-advancement conflict. Besides
// marking the item as stale work it carries the game's current position,
// so a consumer whose next item went missing (a crash between commit and
// enqueue) can re-seed the pipeline instead of stalling the game.
type TurnConflictError struct {
	CurrentTurn     shared.Turn
	CurrentPlayerID shared.PlayerID

	// Resumable is set when the game is still running and CurrentPlayerID
	// was resolved from its state.
	Resumable bool
}

func (e *TurnConflictError) Error() string {
	return fmt.Sprintf("%v: game is at turn %d", ErrTurnAdvancementConflict, e.CurrentTurn)
}

func (e *TurnConflictError) Unwrap() error { return ErrTurnAdvancementConflict }

// IsRetryable reports whether the caller may safely retry the same request.
// Lock contention on a held row and stale-work conflicts are not retryable:
// the former may be duplicate work, the latter definitely is.
func IsRetryable(err error) bool {
	return errors.Is(err, gamedb.ErrConcurrentModification)
}

// IsStaleWork reports whether the error marks an already-completed work
// item that should be dropped rather than redelivered.
func IsStaleWork(err error) bool {
	return errors.Is(err, ErrTurnAdvancementConflict)
}
