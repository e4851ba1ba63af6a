package gamedb

import "errors"

var (
	// ErrNotFound indicates the requested game row does not exist.
	ErrNotFound = errors.New("game not found")

	// ErrAlreadyProcessing indicates the processing lock is currently held
	// by another in-flight attempt. Not safe to retry blindly; the work
	// item may be stale or duplicated.
	ErrAlreadyProcessing = errors.New("game is already being processed")

	// ErrConcurrentModification indicates the row changed between read and
	// conditional write. Retryable: a fresh read may succeed.
	ErrConcurrentModification = errors.New("game was modified concurrently")
)
