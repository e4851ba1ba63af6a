// Package app wires the arena backend together: database, turn queue,
// event bus, orchestrator, matchmaking, and the sweep worker.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"
	"golang.org/x/time/rate"

	"github.com/parlorgames/arena-backend/app/eventbus"
	gameservice "github.com/parlorgames/arena-backend/app/modules/game/application"
	gamedomain "github.com/parlorgames/arena-backend/app/modules/game/domain"
	gamequeue "github.com/parlorgames/arena-backend/app/modules/game/infrastructure/queue"
	matchmakingservice "github.com/parlorgames/arena-backend/app/modules/matchmaking/application"
	"github.com/parlorgames/arena-backend/app/modules/matchmaking/infrastructure/sweeper"
	"github.com/parlorgames/arena-backend/app/observability"
	"github.com/parlorgames/arena-backend/app/shared"
	"github.com/parlorgames/arena-backend/config"
	"github.com/parlorgames/arena-backend/db/bundb"
)

// Dependencies are the domain collaborators the backend consumes but does
// not implement: game rules, agent decisions, and ratings.
type Dependencies struct {
	Environments *gamedomain.Registry
	Agents       gamedomain.AgentClient
	Ratings      gamedomain.RatingService
}

// App owns every long-lived component of the backend.
type App struct {
	Config      *config.Config
	GameService gameservice.Service
	Matchmaking *matchmakingservice.MatchmakingService

	db       *bundb.DBService
	eventBus *eventbus.EventBus
	queue    *gamequeue.Service
	sweeper  *sweeper.Sweeper
	promReg  *prometheus.Registry
	opsSrv   *http.Server
	logger   *slog.Logger
}

// NewApp constructs the backend. The turn worker is registered with the
// queue before the orchestrator exists and bound to it afterwards; every
// other dependency flows one way.
func NewApp(ctx context.Context, cfg *config.Config, deps Dependencies, logger *slog.Logger) (*App, error) {
	dbService, err := bundb.NewBunDBService(ctx, cfg.Postgres, cfg.Game.LockStaleAfter)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database service: %w", err)
	}

	bus, err := eventbus.New(ctx, cfg.NATS.URL, logger)
	if err != nil {
		dbService.Close()
		return nil, fmt.Errorf("failed to initialize event bus: %w", err)
	}

	var limiter *rate.Limiter
	if rps := cfg.Queue.AgentRequestsPerSecond; rps > 0 {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
	worker := gamequeue.NewTurnWorker(logger, limiter)

	queue, err := gamequeue.NewService(ctx, cfg.Postgres.DSN, worker, cfg.Queue.MaxWorkers, logger)
	if err != nil {
		bus.Close()
		dbService.Close()
		return nil, fmt.Errorf("failed to initialize turn queue: %w", err)
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	tracer := otel.Tracer("github.com/parlorgames/arena-backend")

	gameService := gameservice.NewGameService(
		dbService.GetDB(),
		dbService.GameDB,
		deps.Environments,
		deps.Agents,
		deps.Ratings,
		queue,
		bus,
		shared.RealClock{},
		logger,
		observability.NewOperationMetrics(promReg, "game"),
		tracer,
	)
	worker.Bind(gameService, queue)

	matchmaking := matchmakingservice.NewMatchmakingService(
		dbService.GetDB(),
		dbService.GameDB,
		deps.Environments,
		gameService,
		matchmakingservice.Config{
			WaitingPeriod:        cfg.Matchmaking.WaitingPeriod,
			StaleGameAge:         cfg.Matchmaking.StaleGameAge,
			SystemAgentVersionID: shared.AgentVersionID(cfg.Matchmaking.SystemAgentVersionID),
			SystemUserID:         shared.UserID(cfg.Matchmaking.SystemUserID),
		},
		shared.RealClock{},
		logger,
		observability.NewOperationMetrics(promReg, "matchmaking"),
		tracer,
	)

	sweep, err := sweeper.New(matchmaking, logger, cfg.Matchmaking.DeadlineInterval, cfg.Matchmaking.StaleSweepInterval)
	if err != nil {
		queue.Stop(ctx)
		bus.Close()
		dbService.Close()
		return nil, fmt.Errorf("failed to initialize sweeper: %w", err)
	}

	return &App{
		Config:      cfg,
		GameService: gameService,
		Matchmaking: matchmaking,
		db:          dbService,
		eventBus:    bus,
		queue:       queue,
		sweeper:     sweep,
		promReg:     promReg,
		logger:      logger,
	}, nil
}

// DB returns the database service.
func (a *App) DB() *bundb.DBService {
	return a.db
}

// EventBus returns the notification bus.
func (a *App) EventBus() *eventbus.EventBus {
	return a.eventBus
}
