// Package worker audits account balances in the background: it reacts to
// ledger events from the broker and periodically sweeps every user.
package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"fintrack/internal/amqp"
	"fintrack/internal/core"
	"fintrack/internal/log"

	"golang.org/x/sync/errgroup"
)

// Auditor is satisfied by *services.AccountService.
type Auditor interface {
	Audit(ctx context.Context, userID string, accountIDs ...string) ([]core.BalanceDrift, error)
	Reconcile(ctx context.Context, userID string) ([]core.BalanceDrift, error)
}

// UserLister enumerates the users a full sweep visits.
type UserLister interface {
	ListUserIDs(ctx context.Context) ([]string, error)
}

// Config tunes an AuditWorker.
type Config struct {
	// Concurrency caps the users audited at once during a sweep.
	Concurrency int
	// Repair rewrites drifted balances instead of only reporting them.
	Repair bool
}

// DefaultConfig returns a read-only auditor with modest parallelism.
func DefaultConfig() Config {
	return Config{Concurrency: 4}
}

// Report summarises one sweep.
type Report struct {
	Users    int
	Accounts int
	Drifted  int
	Failed   int
	Duration time.Duration
}

// Stats are cumulative counters since the worker started.
type Stats struct {
	EventsHandled int64
	DriftsFound   int64
	Sweeps        int64
}

// AuditWorker checks that stored balances match the cleared transactions.
type AuditWorker struct {
	auditor Auditor
	users   UserLister
	cfg     Config
	logger  *log.Logger

	eventsHandled atomic.Int64
	driftsFound   atomic.Int64
	sweeps        atomic.Int64
}

func NewAuditWorker(auditor Auditor, users UserLister, cfg Config, logger *log.Logger) *AuditWorker {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &AuditWorker{
		auditor: auditor,
		users:   users,
		cfg:     cfg,
		logger:  logger.WithComponent(log.ComponentWorker),
	}
}

// HandleLedgerEvent audits the accounts an event touched. Returning an
// error asks the consumer to requeue the message.
func (w *AuditWorker) HandleLedgerEvent(ctx context.Context, msg *amqp.LedgerEvent) error {
	w.eventsHandled.Add(1)

	if msg.Event == amqp.EventBalancesReconciled {
		w.logger.DebugContext(ctx, "Skipping audit of reconciled balances",
			log.FieldUserID, msg.UserID,
			log.FieldEvent, string(msg.Event))
		return nil
	}
	if len(msg.AccountIDs) == 0 {
		return nil
	}

	drifts, err := w.auditor.Audit(ctx, msg.UserID, msg.AccountIDs...)
	if err != nil {
		if core.KindOf(err) == core.KindNotFound {
			// the user or account is gone; nothing left to audit
			return nil
		}
		return fmt.Errorf("audit accounts of user %s: %w", msg.UserID, err)
	}
	w.reportDrifts(ctx, msg.UserID, drifts)

	w.logger.DebugContext(ctx, "Audited ledger event",
		log.FieldUserID, msg.UserID,
		log.FieldTransactionID, msg.TransactionID,
		log.FieldEvent, string(msg.Event),
		"accounts", len(drifts))
	return nil
}

// AuditAll sweeps every user. Failures for one user are logged and counted
// without stopping the sweep; only listing users or a cancelled context
// returns an error.
func (w *AuditWorker) AuditAll(ctx context.Context) (Report, error) {
	start := time.Now()
	ids, err := w.users.ListUserIDs(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("list users: %w", err)
	}

	var (
		mu  sync.Mutex
		rep = Report{Users: len(ids)}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.Concurrency)
	for _, id := range ids {
		g.Go(func() error {
			drifts, err := w.auditUser(gctx, id)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				rep.Failed++
				log.LogError(gctx, w.logger, "Failed to audit user balances", err,
					string(core.KindOf(err)), log.OpAudit, log.NewFields().WithUser(id))
				return nil
			}
			rep.Accounts += len(drifts)
			for _, d := range drifts {
				if d.Drifted() {
					rep.Drifted++
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return rep, err
	}
	if err := ctx.Err(); err != nil {
		return rep, err
	}

	rep.Duration = time.Since(start)
	w.sweeps.Add(1)
	w.logger.InfoContext(ctx, "Balance audit completed",
		"users", rep.Users,
		"accounts", rep.Accounts,
		"drifted", rep.Drifted,
		"failed", rep.Failed,
		"repair", w.cfg.Repair,
		log.FieldDuration, rep.Duration.Milliseconds())
	return rep, nil
}

// AuditUser audits or repairs a single user.
func (w *AuditWorker) AuditUser(ctx context.Context, userID string) ([]core.BalanceDrift, error) {
	return w.auditUser(ctx, userID)
}

func (w *AuditWorker) auditUser(ctx context.Context, userID string) ([]core.BalanceDrift, error) {
	if w.cfg.Repair {
		// Reconcile logs each correction itself
		drifts, err := w.auditor.Reconcile(ctx, userID)
		if err == nil {
			w.countDrifts(drifts)
		}
		return drifts, err
	}
	drifts, err := w.auditor.Audit(ctx, userID)
	if err != nil {
		return nil, err
	}
	w.reportDrifts(ctx, userID, drifts)
	return drifts, nil
}

func (w *AuditWorker) reportDrifts(ctx context.Context, userID string, drifts []core.BalanceDrift) {
	for _, d := range drifts {
		if !d.Drifted() {
			continue
		}
		w.logger.WarnContext(ctx, "Account balance drift detected",
			log.FieldUserID, userID,
			log.FieldAccountID, d.AccountID,
			"account_name", d.Name,
			"stored", d.Stored.String(),
			"computed", d.Computed.String())
	}
	w.countDrifts(drifts)
}

func (w *AuditWorker) countDrifts(drifts []core.BalanceDrift) {
	for _, d := range drifts {
		if d.Drifted() {
			w.driftsFound.Add(1)
		}
	}
}

// RunPeriodic sweeps every interval until ctx ends.
func (w *AuditWorker) RunPeriodic(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.AuditAll(ctx); err != nil && ctx.Err() == nil {
				w.logger.ErrorContext(ctx, "Periodic balance audit failed", log.FieldError, err.Error())
			}
		}
	}
}

func (w *AuditWorker) Stats() Stats {
	return Stats{
		EventsHandled: w.eventsHandled.Load(),
		DriftsFound:   w.driftsFound.Load(),
		Sweeps:        w.sweeps.Load(),
	}
}
