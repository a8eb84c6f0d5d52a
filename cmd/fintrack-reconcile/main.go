// Command fintrack-reconcile recomputes stored account balances from
// cleared transactions.
//
//	fintrack-reconcile                 # report drift for every user
//	fintrack-reconcile -fix            # also correct it
//	fintrack-reconcile -user <id> -fix # one user only
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"fintrack/internal/backend"
	"fintrack/internal/cli"
	"fintrack/internal/config"
	"fintrack/internal/log"
	"fintrack/internal/services"
	"fintrack/internal/worker"
)

var (
	userID      = flag.String("user", "", "Only reconcile this user id")
	fix         = flag.Bool("fix", false, "Write computed balances back to drifted accounts")
	concurrency = flag.Int("concurrency", 4, "Users processed in parallel")
)

func main() {
	flag.Parse()

	// Output is the report on stdout; logs go to stderr.
	cfg, logger := cli.Bootstrap(log.ComponentWorker, cli.ModeBackground, os.Stderr)

	ctx, cancel := cli.ShutdownContext(logger)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Reconciliation failed", log.FieldError, err.Error())
		cancel()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *log.Logger) error {
	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return err
	}
	// Corrections are announced on the event stream when a broker is set.
	be, err := backend.NewFactory(logger).CreateBackend(ctx, backendCfg)
	if err != nil {
		return fmt.Errorf("initialize backend: %w", err)
	}
	defer cli.CloseBackend(be, logger)

	accounts := services.NewAccountService(be.Store, services.Options{
		Timeout:   cfg.StoreTimeout,
		Publisher: be.Publisher(),
		Logger:    logger,
	})
	w := worker.NewAuditWorker(accounts, be.Store, worker.Config{
		Concurrency: *concurrency,
		Repair:      *fix,
	}, logger)

	if *userID != "" {
		drifts, err := w.AuditUser(ctx, *userID)
		if err != nil {
			return err
		}
		drifted := 0
		for _, d := range drifts {
			status := "ok"
			if d.Drifted() {
				drifted++
				status = "DRIFT"
			}
			fmt.Printf("%-6s %s %-24s stored=%s computed=%s\n", status, d.AccountID, d.Name, d.Stored, d.Computed)
		}
		fmt.Printf("%d accounts checked, %d drifted\n", len(drifts), drifted)
		return nil
	}

	rep, err := w.AuditAll(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("%d users, %d accounts checked, %d drifted, %d failed (fix=%t)\n",
		rep.Users, rep.Accounts, rep.Drifted, rep.Failed, *fix)
	if rep.Failed > 0 {
		return fmt.Errorf("%d users could not be reconciled", rep.Failed)
	}
	return nil
}
