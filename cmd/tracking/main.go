// Command tracking serves only the pixel, redirect and unsubscribe routes.
// Deploy it with tracking.dispatch: sqs and run cmd/worker to record.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/ignite/engagement-tracker/internal/api"
	"github.com/ignite/engagement-tracker/internal/app"
	"github.com/ignite/engagement-tracker/internal/pkg/logger"
)

func main() {
	cfg, err := app.LoadConfig()
	if err != nil {
		app.Fatal("config", "error", err)
	}
	// Lets the edge share a config file with cmd/server on another port.
	if v := os.Getenv("TRACKING_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

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

	handler, err := a.TrackingHandler(dispatcher)
	if err != nil {
		app.Fatal("tracking handler", "error", err)
	}

	server := api.NewServer(cfg.Server, api.RouterOptions{
		Tracking: handler,
		Health:   a.HealthChecker(),
	})

	go func() {
		logger.Info("tracking service listening", "addr", cfg.Server.Addr(), "dispatch", cfg.Tracking.Dispatch)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			app.Fatal("listen", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down tracking service...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout())
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	if err := dispatcher.Wait(shutdownCtx); err != nil {
		logger.Warn("captures still in flight at shutdown", "inflight", dispatcher.Inflight())
	}
	logger.Info("tracking service stopped")
}
