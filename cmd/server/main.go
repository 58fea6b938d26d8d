// Command server runs the tracking routes, the analytics and ingest API and
// an analytics refresher in one process.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ignite/engagement-tracker/internal/api"
	"github.com/ignite/engagement-tracker/internal/app"
	"github.com/ignite/engagement-tracker/internal/pkg/logger"
)

func main() {
	logger.Info("Starting engagement tracker server...")

	cfg, err := app.LoadConfig()
	if err != nil {
		app.Fatal("config", "error", err)
	}

	// Create cancellable context for background tasks
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		app.Fatal("startup failed", "error", err)
	}
	defer a.Close()

	dispatcher, err := a.Dispatcher(ctx)
	if err != nil {
		app.Fatal("dispatcher", "error", err)
	}

	opts := a.APIRoutes(ctx)
	opts.Tracking, err = a.TrackingHandler(dispatcher)
	if err != nil {
		app.Fatal("tracking handler", "error", err)
	}
	server := api.NewServer(cfg.Server, opts)

	refresher := a.Refresher()
	go refresher.Start(ctx)

	// Setup graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("listening", "addr", cfg.Server.Addr(), "dispatch", cfg.Tracking.Dispatch)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			app.Fatal("server error", "error", err)
		}
	}()

	<-done
	logger.Info("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout())
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	// Let in-flight captures finish before the datastore goes away.
	if err := dispatcher.Wait(shutdownCtx); err != nil {
		logger.Warn("captures still in flight at shutdown", "inflight", dispatcher.Inflight())
	}
	cancel()

	logger.Info("Server stopped")
}
