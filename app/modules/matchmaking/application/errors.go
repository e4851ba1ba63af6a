package matchmakingservice

import "errors"

var (
	// ErrAlreadyInQueue indicates the user already has an active queue
	// entry for this game type.
	ErrAlreadyInQueue = errors.New("user already has an active queue entry")

	// ErrGameNotWaiting indicates a queue operation targeted a game that
	// has already left the WAITING status.
	ErrGameNotWaiting = errors.New("game is not in the waiting room")

	// ErrNoEntry indicates the user has no live matchmaking entry.
	ErrNoEntry = errors.New("no active matchmaking entry")
)
