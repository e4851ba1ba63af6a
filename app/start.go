package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/parlorgames/arena-backend/app/shared/attr"
)

// Start brings the background components up: the turn queue consumer, the
// matchmaking sweeper, and the ops HTTP server when configured.
func (a *App) Start(ctx context.Context) error {
	if err := a.queue.Start(ctx); err != nil {
		return fmt.Errorf("failed to start turn queue: %w", err)
	}
	if err := a.sweeper.Start(ctx); err != nil {
		return fmt.Errorf("failed to start sweeper: %w", err)
	}

	if addr := a.Config.Observability.OpsAddress; addr != "" {
		a.opsSrv = &http.Server{
			Addr:              addr,
			Handler:           a.opsRouter(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			a.logger.Info("Ops server listening", attr.String("address", addr))
			if err := a.opsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("Ops server failed", attr.Error(err))
			}
		}()
	}

	a.logger.Info("Arena backend started")
	return nil
}

// Stop shuts everything down in reverse dependency order. Each failure is
// logged and the shutdown continues; the first error is returned.
func (a *App) Stop(ctx context.Context) error {
	var firstErr error
	fail := func(stage string, err error) {
		a.logger.Error("Shutdown stage failed", attr.String("stage", stage), attr.Error(err))
		if firstErr == nil {
			firstErr = fmt.Errorf("%s: %w", stage, err)
		}
	}

	if a.opsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := a.opsSrv.Shutdown(shutdownCtx); err != nil {
			fail("ops server shutdown", err)
		}
		cancel()
	}
	if err := a.sweeper.Stop(); err != nil {
		fail("sweeper stop", err)
	}
	if err := a.queue.Stop(ctx); err != nil {
		fail("turn queue stop", err)
	}
	if err := a.eventBus.Close(); err != nil {
		fail("event bus close", err)
	}
	if err := a.db.Close(); err != nil {
		fail("database close", err)
	}

	a.logger.Info("Arena backend stopped")
	return firstErr
}

func (a *App) opsRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(a.promReg, promhttp.HandlerOpts{}))
	return r
}
