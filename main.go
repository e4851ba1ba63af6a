package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/parlorgames/arena-backend/app"
	gamedomain "github.com/parlorgames/arena-backend/app/modules/game/domain"
	"github.com/parlorgames/arena-backend/app/shared/attr"
	"github.com/parlorgames/arena-backend/config"
)

func main() {
	configFile := flag.String("config", "config.yaml", "Path to the configuration file")
	flag.Parse()

	// Missing .env is fine; config falls back to real env and the file.
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		logger.Error("Failed to load config", attr.Error(err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.NewApp(ctx, cfg, app.Dependencies{
		// Game environments, the agent decision client, and the rating
		// service are deployment-specific; builds embedding this backend
		// register theirs here.
		Environments: gamedomain.NewRegistry(nil),
	}, logger)
	if err != nil {
		logger.Error("Failed to initialize app", attr.Error(err))
		os.Exit(1)
	}

	if err := application.Start(ctx); err != nil {
		logger.Error("Failed to start app", attr.Error(err))
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("Shutdown signal received")

	shutdownCtx := context.Background()
	if err := application.Stop(shutdownCtx); err != nil {
		logger.Error("Shutdown finished with errors", attr.Error(err))
		os.Exit(1)
	}
}
