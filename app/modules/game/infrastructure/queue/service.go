package gamequeue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"

	gameservice "github.com/parlorgames/arena-backend/app/modules/game/application"
	"github.com/parlorgames/arena-backend/app/shared"
	"github.com/parlorgames/arena-backend/app/shared/attr"
)

// Service owns the River client for the turn queue.
type Service struct {
	client *river.Client[pgx.Tx]
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var _ gameservice.TurnEnqueuer = (*Service)(nil)

// NewService creates the turn queue over its own pgx pool (River requires
// pgx, not database/sql). The worker is registered here but bound to the
// orchestrator later, once the orchestrator exists.
func NewService(ctx context.Context, dsn string, worker *TurnWorker, maxWorkers int, logger *slog.Logger) (*Service, error) {
	if maxWorkers <= 0 {
		maxWorkers = 25
	}
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DSN for turn queue: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool for turn queue: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database for turn queue: %w", err)
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, worker)

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			QueueGameTurns: {MaxWorkers: maxWorkers},
		},
		Workers: workers,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create River client: %w", err)
	}

	return &Service{client: client, pool: pool, logger: logger}, nil
}

// Start begins consuming turn jobs.
func (s *Service) Start(ctx context.Context) error {
	s.logger.Info("Starting turn queue")
	if err := s.client.Start(ctx); err != nil {
		return fmt.Errorf("failed to start River client: %w", err)
	}
	return nil
}

// Stop drains in-flight jobs and shuts the queue down.
func (s *Service) Stop(ctx context.Context) error {
	s.logger.Info("Stopping turn queue")
	if err := s.client.Stop(ctx); err != nil {
		return fmt.Errorf("failed to stop River client: %w", err)
	}
	s.pool.Close()
	return nil
}

// EnqueueTurn inserts the next work item of the self-perpetuating turn
// pipeline. ByArgs uniqueness makes re-seeding the same turn a no-op.
func (s *Service) EnqueueTurn(ctx context.Context, gameID shared.GameID, playerID shared.PlayerID, turn shared.Turn) error {
	start := time.Now()
	result, err := s.client.Insert(ctx, TurnJobArgs{
		GameID:   gameID,
		PlayerID: playerID,
		Turn:     turn,
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to enqueue turn job: %w", err)
	}

	s.logger.DebugContext(ctx, "Turn job enqueued",
		attr.String("game_id", gameID.String()),
		attr.String("player_id", playerID.String()),
		attr.Int64("turn", int64(turn)),
		attr.Int64("job_id", result.Job.ID),
		attr.Bool("duplicate_skipped", result.UniqueSkippedAsDuplicate),
		attr.Duration("insert_duration", time.Since(start)),
	)
	return nil
}
