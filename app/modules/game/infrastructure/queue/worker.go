package gamequeue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/riverqueue/river"
	"golang.org/x/time/rate"

	gameservice "github.com/parlorgames/arena-backend/app/modules/game/application"
	"github.com/parlorgames/arena-backend/app/shared"
	"github.com/parlorgames/arena-backend/app/shared/attr"
)

// TurnWorker drains turn work items: one ProcessTurn call per item, then
// the next item is enqueued from the orchestrator's authoritative output.
// No external scheduler decides whose turn is next.
type TurnWorker struct {
	river.WorkerDefaults[TurnJobArgs]

	logger  *slog.Logger
	limiter *rate.Limiter

	mu           sync.RWMutex
	orchestrator gameservice.Service
	enqueuer     gameservice.TurnEnqueuer
}

// NewTurnWorker builds the worker. The limiter throttles agent-driven
// turns so a burst of redeliveries cannot stampede the decision backend;
// pass nil to disable throttling.
func NewTurnWorker(logger *slog.Logger, limiter *rate.Limiter) *TurnWorker {
	return &TurnWorker{logger: logger, limiter: limiter}
}

// Bind attaches the orchestrator and enqueuer after construction. The
// queue client needs the worker at build time and the orchestrator needs
// the queue client, so the worker is bound last.
func (w *TurnWorker) Bind(orchestrator gameservice.Service, enqueuer gameservice.TurnEnqueuer) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.orchestrator = orchestrator
	w.enqueuer = enqueuer
}

func (w *TurnWorker) deps() (gameservice.Service, gameservice.TurnEnqueuer) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.orchestrator, w.enqueuer
}

// Work processes one turn item. A TurnAdvancementConflict means the item
// describes work another attempt already completed: it is logged and
// acknowledged, never redelivered. Every other failure propagates so
// River's native retry/backoff applies.
func (w *TurnWorker) Work(ctx context.Context, job *river.Job[TurnJobArgs]) error {
	orchestrator, enqueuer := w.deps()
	if orchestrator == nil {
		return fmt.Errorf("turn worker is not bound to an orchestrator")
	}

	if w.limiter != nil {
		if err := w.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter wait aborted: %w", err)
		}
	}

	result, err := orchestrator.ProcessTurn(ctx, gameservice.ProcessTurnInput{
		RequestID:    shared.NewRequestID(),
		GameID:       job.Args.GameID,
		PlayerID:     job.Args.PlayerID,
		ExpectedTurn: job.Args.Turn,
	})
	if err != nil {
		if gameservice.IsStaleWork(err) {
			// A stale item can mean the previous attempt committed its turn
			// but died before seeding the next one. Re-seed the current
			// position before acking; ByArgs uniqueness makes this a no-op
			// when the next item already exists.
			var conflict *gameservice.TurnConflictError
			if errors.As(err, &conflict) && conflict.Resumable && enqueuer != nil {
				if qerr := enqueuer.EnqueueTurn(ctx, job.Args.GameID, conflict.CurrentPlayerID, conflict.CurrentTurn); qerr != nil {
					return fmt.Errorf("failed to re-seed current turn: %w", qerr)
				}
			}
			w.logger.InfoContext(ctx, "Dropping already-completed turn item",
				attr.String("game_id", job.Args.GameID.String()),
				attr.Int64("turn", int64(job.Args.Turn)),
				attr.Int("attempt", job.Attempt),
			)
			return nil
		}
		return err
	}

	if result.Finished {
		w.logger.InfoContext(ctx, "Game finished",
			attr.String("game_id", job.Args.GameID.String()),
			attr.Int64("final_turn", int64(result.Game.Turn)),
		)
		return nil
	}

	if enqueuer == nil {
		return fmt.Errorf("turn worker is not bound to an enqueuer")
	}
	if err := enqueuer.EnqueueTurn(ctx, result.Game.ID, result.NextPlayerID, result.Game.Turn); err != nil {
		// The turn itself committed; only the next-item insert failed.
		return fmt.Errorf("failed to enqueue next turn: %w", err)
	}
	return nil
}
