package main

import (
	"context"
	"errors"
	"os"
	"time"

	"fintrack/internal/backend"
	"fintrack/internal/cli"
	"fintrack/internal/log"
	"fintrack/internal/services"
	"fintrack/internal/worker"
)

func main() {
	cfg, logger := cli.Bootstrap(log.ComponentWorker, cli.ModeBackground, os.Stdout)

	logger.Info("Starting fintrack-worker")

	// The memory backend is private to the API process; nothing to audit here.
	if cfg.DataBackend != backend.SQLiteBackend.String() {
		logger.Error("fintrack-worker needs the shared sqlite backend", "backend", cfg.DataBackend)
		os.Exit(1)
	}

	ctx, cancel := cli.ShutdownContext(logger)
	defer cancel()

	be := cli.OpenBackend(ctx, cfg, logger)
	defer cli.CloseBackend(be, logger)

	// Audits are read-only, so the account service gets no publisher.
	accounts := services.NewAccountService(be.Store, services.Options{
		Timeout: cfg.StoreTimeout,
		Logger:  logger,
	})
	auditor := worker.NewAuditWorker(accounts, be.Store, worker.DefaultConfig(), logger)

	// On startup, catch up on anything missed while the worker was down
	logger.Info("Performing startup balance audit...")
	if _, err := auditor.AuditAll(ctx); err != nil && ctx.Err() == nil {
		logger.Error("Startup balance audit failed", log.FieldError, err.Error())
		// Don't exit - continue with normal operation
	}

	consumerDone := make(chan struct{})
	if be.Events != nil {
		go func() {
			defer close(consumerDone)
			if err := be.Events.ConsumeLedgerEvents(ctx, auditor.HandleLedgerEvent); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Ledger event consumption failed", log.FieldError, err.Error())
				cancel()
			}
		}()
	} else {
		close(consumerDone)
		logger.Info("Skipping ledger event consumption - no AMQP broker available")
	}

	go auditor.RunPeriodic(ctx, cfg.AuditInterval)

	<-ctx.Done()
	logger.Info("Shutting down worker...")

	// Let the in-flight handler finish before the store closes
	select {
	case <-consumerDone:
	case <-time.After(10 * time.Second):
		logger.Warn("Shutdown timeout reached")
	}

	stats := auditor.Stats()
	logger.Info("Worker shutdown complete",
		"events_handled", stats.EventsHandled,
		"drifts_found", stats.DriftsFound,
		"sweeps", stats.Sweeps)
}
