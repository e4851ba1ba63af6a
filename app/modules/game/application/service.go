package gameservice

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	gamedomain "github.com/parlorgames/arena-backend/app/modules/game/domain"
	gamedb "github.com/parlorgames/arena-backend/app/modules/game/infrastructure/repositories"
	"github.com/parlorgames/arena-backend/app/shared"
	"github.com/parlorgames/arena-backend/app/shared/attr"
)

// Metrics is the observability contract for orchestrator operations.
type Metrics interface {
	RecordOperationAttempt(ctx context.Context, operation string)
	RecordOperationSuccess(ctx context.Context, operation string)
	RecordOperationFailure(ctx context.Context, operation string)
	RecordOperationDuration(ctx context.Context, operation string, duration time.Duration)
}

// TurnEnqueuer inserts turn work items into the durable queue.
type TurnEnqueuer interface {
	EnqueueTurn(ctx context.Context, gameID shared.GameID, playerID shared.PlayerID, turn shared.Turn) error
}

// EventPublisher pushes best-effort notifications after a committed
// mutation. Failures are logged, never propagated: the game row is the
// source of truth, notifications are a convenience.
type EventPublisher interface {
	PublishGameUpdated(ctx context.Context, game *gamedomain.Game, events []gamedomain.GameEvent) error
}

// GameService owns the turn-advancement state machine. It is the single
// place that mutates a game's authoritative state.
type GameService struct {
	db        bun.IDB
	repo      gamedb.Repository
	registry  *gamedomain.Registry
	agents    gamedomain.AgentClient
	ratings   gamedomain.RatingService
	queue     TurnEnqueuer
	publisher EventPublisher
	clock     shared.Clock
	logger    *slog.Logger
	metrics   Metrics
	tracer    trace.Tracer
}

// NewGameService wires the orchestrator. All collaborators are explicit;
// there are no process-wide registries.
func NewGameService(
	db bun.IDB,
	repo gamedb.Repository,
	registry *gamedomain.Registry,
	agents gamedomain.AgentClient,
	ratings gamedomain.RatingService,
	queue TurnEnqueuer,
	publisher EventPublisher,
	clock shared.Clock,
	logger *slog.Logger,
	metrics Metrics,
	tracer trace.Tracer,
) *GameService {
	if clock == nil {
		clock = shared.RealClock{}
	}
	return &GameService{
		db:        db,
		repo:      repo,
		registry:  registry,
		agents:    agents,
		ratings:   ratings,
		queue:     queue,
		publisher: publisher,
		clock:     clock,
		logger:    logger,
		metrics:   metrics,
		tracer:    tracer,
	}
}

// withTelemetry wraps a service operation with tracing, metrics, and panic
// recovery, standardizing observability across all orchestrator methods.
func (s *GameService) withTelemetry(ctx context.Context, operationName string, gameID shared.GameID, op func(ctx context.Context) error) (err error) {
	ctx, span := s.tracer.Start(ctx, operationName, trace.WithAttributes(
		attribute.String("operation", operationName),
		attribute.String("game_id", gameID.String()),
	))
	defer span.End()

	s.metrics.RecordOperationAttempt(ctx, operationName)

	startTime := time.Now()
	defer func() {
		s.metrics.RecordOperationDuration(ctx, operationName, time.Since(startTime))
	}()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s: %v", operationName, r)
			s.logger.ErrorContext(ctx, "Critical panic recovered",
				attr.String("game_id", gameID.String()),
				attr.Error(err),
			)
			s.metrics.RecordOperationFailure(ctx, operationName)
			span.RecordError(err)
		}
	}()

	if err = op(ctx); err != nil {
		wrappedErr := fmt.Errorf("%s: %w", operationName, err)
		s.logger.WarnContext(ctx, "Operation failed",
			attr.String("operation", operationName),
			attr.String("game_id", gameID.String()),
			attr.Error(wrappedErr),
		)
		s.metrics.RecordOperationFailure(ctx, operationName)
		span.RecordError(wrappedErr)
		return wrappedErr
	}

	s.metrics.RecordOperationSuccess(ctx, operationName)
	return nil
}

// withGameLock acquires the single-writer lock, runs op on the locked row,
// and releases the lock on every exit path. Release uses a detached
// context so cancellation cannot leak a held lock.
func (s *GameService) withGameLock(ctx context.Context, gameID shared.GameID, requestID shared.RequestID, op func(ctx context.Context, game *gamedomain.Game) error) error {
	game, err := s.repo.AcquireProcessingLock(ctx, s.db, gameID, requestID)
	if err != nil {
		return err
	}

	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if rerr := s.repo.ReleaseProcessingLock(releaseCtx, s.db, gameID); rerr != nil {
			s.logger.ErrorContext(releaseCtx, "Failed to release processing lock",
				attr.String("game_id", gameID.String()),
				attr.String("request_id", requestID.String()),
				attr.Error(rerr),
			)
		}
	}()

	return op(ctx, game)
}

// publishUpdate emits a best-effort notification for a committed mutation.
func (s *GameService) publishUpdate(ctx context.Context, game *gamedomain.Game, events []gamedomain.GameEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishGameUpdated(ctx, game, events); err != nil {
		s.logger.WarnContext(ctx, "Failed to publish game update notification",
			attr.String("game_id", game.ID.String()),
			attr.Error(err),
		)
	}
}

// finalizeRatings reports a finished game to the rating service. Rating is
// external and idempotent on its side; a failure here is logged rather
// than propagated because the turn that finished the game has already
// committed and a redelivery would be dropped as stale work.
func (s *GameService) finalizeRatings(ctx context.Context, game *gamedomain.Game, outcome *gamedomain.GameOutcome) {
	if game.IsPlayground || outcome == nil || s.ratings == nil {
		return
	}
	if err := s.ratings.FinalizeGame(ctx, *outcome); err != nil {
		s.logger.ErrorContext(ctx, "Failed to finalize ratings",
			attr.String("game_id", game.ID.String()),
			attr.Error(err),
		)
	}
}
