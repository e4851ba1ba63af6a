package matchmakingservice

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	gameservice "github.com/parlorgames/arena-backend/app/modules/game/application"
	gamedomain "github.com/parlorgames/arena-backend/app/modules/game/domain"
	gamedb "github.com/parlorgames/arena-backend/app/modules/game/infrastructure/repositories"
	"github.com/parlorgames/arena-backend/app/shared"
	"github.com/parlorgames/arena-backend/app/shared/attr"
)

// Metrics is the observability contract for matchmaking operations.
type Metrics interface {
	RecordOperationAttempt(ctx context.Context, operation string)
	RecordOperationSuccess(ctx context.Context, operation string)
	RecordOperationFailure(ctx context.Context, operation string)
	RecordOperationDuration(ctx context.Context, operation string, duration time.Duration)
}

// GameStarter is the slice of the orchestrator matchmaking needs: turning
// a filled waiting room into a running game.
type GameStarter interface {
	StartExistingGame(ctx context.Context, gameID shared.GameID) (*gameservice.TurnResult, error)
}

// Config tunes the waiting-room state machine.
type Config struct {
	// WaitingPeriod is how long a room waits for players before deadline
	// handling fills or cancels it.
	WaitingPeriod time.Duration

	// StaleGameAge is the safety-sweep threshold: WAITING games older than
	// this are cancelled regardless of their own deadline.
	StaleGameAge time.Duration

	// SystemAgentVersionID is the bot agent used to backfill
	// under-subscribed rooms.
	SystemAgentVersionID shared.AgentVersionID

	// SystemUserID owns backfilled bot seats.
	SystemUserID shared.UserID
}

// DefaultConfig mirrors the production waiting-room policy.
func DefaultConfig() Config {
	return Config{
		WaitingPeriod:        60 * time.Second,
		StaleGameAge:         10 * time.Minute,
		SystemAgentVersionID: "system-bot",
		SystemUserID:         "system",
	}
}

// MatchmakingService owns the waiting-room state machine.
type MatchmakingService struct {
	db       bun.IDB
	repo     gamedb.Repository
	registry *gamedomain.Registry
	starter  GameStarter
	cfg      Config
	clock    shared.Clock
	logger   *slog.Logger
	metrics  Metrics
	tracer   trace.Tracer
}

// NewMatchmakingService wires the matchmaking engine.
func NewMatchmakingService(
	db bun.IDB,
	repo gamedb.Repository,
	registry *gamedomain.Registry,
	starter GameStarter,
	cfg Config,
	clock shared.Clock,
	logger *slog.Logger,
	metrics Metrics,
	tracer trace.Tracer,
) *MatchmakingService {
	if clock == nil {
		clock = shared.RealClock{}
	}
	if cfg.WaitingPeriod <= 0 {
		cfg.WaitingPeriod = DefaultConfig().WaitingPeriod
	}
	if cfg.StaleGameAge <= 0 {
		cfg.StaleGameAge = DefaultConfig().StaleGameAge
	}
	return &MatchmakingService{
		db:       db,
		repo:     repo,
		registry: registry,
		starter:  starter,
		cfg:      cfg,
		clock:    clock,
		logger:   logger,
		metrics:  metrics,
		tracer:   tracer,
	}
}

// withTelemetry standardizes tracing, metrics, and panic recovery across
// matchmaking operations.
func (s *MatchmakingService) withTelemetry(ctx context.Context, operationName string, userID shared.UserID, op func(ctx context.Context) error) (err error) {
	ctx, span := s.tracer.Start(ctx, operationName, trace.WithAttributes(
		attribute.String("operation", operationName),
		attribute.String("user_id", userID.String()),
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
				attr.String("user_id", userID.String()),
				attr.Error(err),
			)
			s.metrics.RecordOperationFailure(ctx, operationName)
			span.RecordError(err)
		}
	}()

	if err = op(ctx); err != nil {
		wrappedErr := fmt.Errorf("%s: %w", operationName, err)
		s.metrics.RecordOperationFailure(ctx, operationName)
		span.RecordError(wrappedErr)
		return wrappedErr
	}

	s.metrics.RecordOperationSuccess(ctx, operationName)
	return nil
}

// withGameLock mirrors the orchestrator's lock discipline for matchmaking
// mutations of an existing game row.
func (s *MatchmakingService) withGameLock(ctx context.Context, gameID shared.GameID, op func(ctx context.Context, game *gamedomain.Game) error) error {
	requestID := shared.NewRequestID()
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
