package gamedomain

import "context"

// RatingService is invoked once per finished game with the final outcome.
// Idempotency across duplicate invocations is the rating side's concern.
type RatingService interface {
	FinalizeGame(ctx context.Context, outcome GameOutcome) error
}

// NoopRatingService discards outcomes. Playground games and tests use it.
type NoopRatingService struct{}

func (NoopRatingService) FinalizeGame(ctx context.Context, outcome GameOutcome) error { return nil }
