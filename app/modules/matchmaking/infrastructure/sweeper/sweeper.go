// Package sweeper runs the periodic matchmaking maintenance jobs: the
// waiting-deadline handler and the stale-game safety net.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	gamedomain "github.com/parlorgames/arena-backend/app/modules/game/domain"
	"github.com/parlorgames/arena-backend/app/shared/attr"
)

// DeadlineHandler is the matchmaking surface the sweeper drives.
type DeadlineHandler interface {
	HandleWaitingTimeouts(ctx context.Context) ([]*gamedomain.Game, error)
	CancelStaleWaitingGames(ctx context.Context) (int, error)
}

const (
	// DefaultDeadlineInterval bounds how late a waiting deadline fires.
	DefaultDeadlineInterval = 1 * time.Second

	// DefaultStaleInterval is the cadence of the stale-game safety net.
	DefaultStaleInterval = 1 * time.Minute
)

// Sweeper schedules the maintenance jobs on a shared scheduler. Both jobs
// run in singleton mode so a slow sweep never overlaps itself.
type Sweeper struct {
	scheduler gocron.Scheduler
	handler   DeadlineHandler
	logger    *slog.Logger

	deadlineInterval time.Duration
	staleInterval    time.Duration
}

// New builds the sweeper. Zero intervals fall back to the defaults.
func New(handler DeadlineHandler, logger *slog.Logger, deadlineInterval, staleInterval time.Duration) (*Sweeper, error) {
	if deadlineInterval <= 0 {
		deadlineInterval = DefaultDeadlineInterval
	}
	if staleInterval <= 0 {
		staleInterval = DefaultStaleInterval
	}
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create sweep scheduler: %w", err)
	}
	return &Sweeper{
		scheduler:        scheduler,
		handler:          handler,
		logger:           logger,
		deadlineInterval: deadlineInterval,
		staleInterval:    staleInterval,
	}, nil
}

// Start registers both jobs and begins the schedule.
func (s *Sweeper) Start(ctx context.Context) error {
	if _, err := s.scheduler.NewJob(
		gocron.DurationJob(s.deadlineInterval),
		gocron.NewTask(func() { s.runDeadlineSweep(ctx) }),
		gocron.WithName("matchmaking-deadline-sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		return fmt.Errorf("failed to schedule deadline sweep: %w", err)
	}
	if _, err := s.scheduler.NewJob(
		gocron.DurationJob(s.staleInterval),
		gocron.NewTask(func() { s.runStaleSweep(ctx) }),
		gocron.WithName("matchmaking-stale-sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		return fmt.Errorf("failed to schedule stale sweep: %w", err)
	}

	s.scheduler.Start()
	s.logger.Info("Matchmaking sweeper started",
		attr.Duration("deadline_interval", s.deadlineInterval),
		attr.Duration("stale_interval", s.staleInterval),
	)
	return nil
}

// Stop shuts the scheduler down, waiting for running jobs to finish.
func (s *Sweeper) Stop() error {
	s.logger.Info("Stopping matchmaking sweeper")
	if err := s.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("failed to shut down sweep scheduler: %w", err)
	}
	return nil
}

func (s *Sweeper) runDeadlineSweep(ctx context.Context) {
	started, err := s.handler.HandleWaitingTimeouts(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "Deadline sweep failed", attr.Error(err))
		return
	}
	for _, game := range started {
		s.logger.InfoContext(ctx, "Deadline sweep started game",
			attr.String("game_id", game.ID.String()),
			attr.Int("players", game.CurrentPlayerCount),
		)
	}
}

func (s *Sweeper) runStaleSweep(ctx context.Context) {
	cancelled, err := s.handler.CancelStaleWaitingGames(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "Stale sweep failed", attr.Error(err))
		return
	}
	if cancelled > 0 {
		s.logger.InfoContext(ctx, "Stale sweep cancelled games", attr.Int("cancelled", cancelled))
	}
}
