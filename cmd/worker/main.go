// Command worker drains the tracking queue into the recorder and keeps
// campaign analytics fresh.
package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/ignite/engagement-tracker/internal/app"
	"github.com/ignite/engagement-tracker/internal/pkg/logger"
)

func main() {
	logger.Info("Starting engagement worker...")

	cfg, err := app.LoadConfig()
	if err != nil {
		app.Fatal("config", "error", err)
	}

	// Create cancellable context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		app.Fatal("startup failed", "error", err)
	}
	defer a.Close()

	var wg sync.WaitGroup

	if cfg.Tracking.SQSQueueURL != "" {
		consumer, err := a.Consumer(ctx)
		if err != nil {
			app.Fatal("sqs consumer", "error", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			consumer.Run(ctx)
		}()
	} else {
		logger.Warn("no tracking queue configured; running the analytics refresher only")
	}

	refresher := a.Refresher()
	wg.Add(1)
	go func() {
		defer wg.Done()
		refresher.Start(ctx)
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig.String())

	cancel()
	wg.Wait()
	logger.Info("Worker stopped")
}
