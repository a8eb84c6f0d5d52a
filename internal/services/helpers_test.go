package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"fintrack/internal/amqp"
	"fintrack/internal/cache"
	"fintrack/internal/core"
	"fintrack/internal/ledger"
	"fintrack/internal/log"
	"fintrack/internal/storage"
	"fintrack/internal/storage/memory"
)

var testNow = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

func quietLogger() *log.Logger {
	return log.New(log.Config{Level: slog.LevelError, Output: io.Discard})
}

// forEachStore runs fn once against the in-memory store and once against a
// fresh SQLite database.
func forEachStore(t *testing.T, fn func(t *testing.T, store ledger.Store)) {
	t.Helper()

	t.Run("memory", func(t *testing.T) {
		fn(t, memory.New())
	})
	t.Run("sqlite", func(t *testing.T) {
		store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "ledger.db"))
		if err != nil {
			t.Fatalf("failed to open sqlite store: %v", err)
		}
		t.Cleanup(func() { store.Close() })
		fn(t, store)
	})
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*amqp.LedgerEvent
	err    error
}

func (p *recordingPublisher) PublishLedgerEvent(_ context.Context, e *amqp.LedgerEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) types() []amqp.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]amqp.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Event)
	}
	return out
}

type testEnv struct {
	store     ledger.Store
	ledger    *LedgerService
	summary   *SummaryService
	accounts  *AccountService
	provision *ProvisioningService
	publisher *recordingPublisher
	user      core.User
}

func newTestEnv(t *testing.T, store ledger.Store) *testEnv {
	t.Helper()

	env := &testEnv{store: store, publisher: &recordingPublisher{}}
	env.summary = NewSummaryService(store, core.StatusPolicyAll,
		cache.NewLRUCache[Report](32, time.Minute), Options{Logger: quietLogger()})

	opts := Options{
		Publisher:   env.publisher,
		Invalidator: env.summary,
		Logger:      quietLogger(),
		Now:         func() time.Time { return testNow },
	}
	env.ledger = NewLedgerService(store, opts)
	env.accounts = NewAccountService(store, opts)
	env.provision = NewProvisioningService(store, opts)

	u, err := env.provision.EnsureUser(context.Background(), core.Identity{Ref: "firebase|alice", Email: "alice@example.com"})
	if err != nil {
		t.Fatalf("failed to provision user: %v", err)
	}
	env.user = u
	return env
}

// account creates a fresh account so balances start at zero.
func (e *testEnv) account(t *testing.T, name string) core.Account {
	t.Helper()
	acc, err := e.accounts.Create(context.Background(), e.user.ID, NewAccount{Name: name, Kind: "checking"})
	if err != nil {
		t.Fatalf("failed to create account %q: %v", name, err)
	}
	return acc
}

func (e *testEnv) balance(t *testing.T, accountID string) core.Money {
	t.Helper()
	acc, err := e.store.GetAccount(context.Background(), e.user.ID, accountID)
	if err != nil {
		t.Fatalf("failed to read account: %v", err)
	}
	return acc.Balance
}

func (e *testEnv) create(t *testing.T, accountRef string, cents int64, typ core.TransactionType, status core.TransactionStatus, date core.Date) core.Transaction {
	t.Helper()
	tx, err := e.ledger.Create(context.Background(), e.user.ID, NewTransaction{
		AccountRef:  accountRef,
		CategoryRef: "Food",
		Amount:      core.MoneyFromCents(cents),
		Type:        typ,
		Status:      status,
		Date:        date,
		Description: "test",
	})
	if err != nil {
		t.Fatalf("failed to create transaction: %v", err)
	}
	return tx
}

// assertConsistent checks that every account balance equals the signed sum
// of its cleared transactions.
func (e *testEnv) assertConsistent(t *testing.T) {
	t.Helper()
	drifts, err := e.accounts.Audit(context.Background(), e.user.ID)
	if err != nil {
		t.Fatalf("audit failed: %v", err)
	}
	for _, d := range drifts {
		if d.Drifted() {
			t.Errorf("account %s drifted: stored %s computed %s", d.Name, d.Stored, d.Computed)
		}
	}
}

func wantMoney(t *testing.T, got core.Money, cents int64) {
	t.Helper()
	if got.Cents() != cents {
		t.Errorf("expected %s, got %s", core.MoneyFromCents(cents), got)
	}
}

var errInjected = errors.New("injected failure")

// faultyStore hands InTx callbacks a Queries whose AdjustBalance fails, as
// if the balance write were lost after the row write succeeded.
type faultyStore struct {
	ledger.Store
}

func (f faultyStore) InTx(ctx context.Context, fn func(q ledger.Queries) error) error {
	return f.Store.InTx(ctx, func(q ledger.Queries) error {
		return fn(faultyQueries{q})
	})
}

type faultyQueries struct {
	ledger.Queries
}

func (faultyQueries) AdjustBalance(context.Context, string, string, core.Money) error {
	return core.Storage("adjust balance", errInjected)
}
