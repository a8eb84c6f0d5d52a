package services

import (
	"context"
	"strings"
	"time"

	"fintrack/internal/amqp"
	"fintrack/internal/core"
	"fintrack/internal/ledger"
	"fintrack/internal/log"
)

// NewAccount is the input to AccountService.Create.
type NewAccount struct {
	Name     string
	Kind     string
	Currency string
}

// NewCategory is the input to AccountService.CreateCategory.
type NewCategory struct {
	Name  string
	Icon  string
	Color string
}

// AccountService manages accounts and categories and reports balances.
// Balances are never written here except by Reconcile.
type AccountService struct {
	store ledger.Store
	opts  Options
}

func NewAccountService(store ledger.Store, opts Options) *AccountService {
	return &AccountService{store: store, opts: opts.withDefaults(log.ComponentLedger)}
}

func (s *AccountService) Create(ctx context.Context, userID string, in NewAccount) (core.Account, error) {
	ctx, cancel := s.opts.bound(ctx)
	defer cancel()

	acc := core.Account{
		ID:        s.opts.NewID(),
		UserID:    userID,
		Name:      strings.TrimSpace(in.Name),
		Kind:      strings.ToLower(strings.TrimSpace(in.Kind)),
		Currency:  strings.ToUpper(strings.TrimSpace(in.Currency)),
		IsActive:  true,
		CreatedAt: s.opts.Now(),
	}
	if acc.Currency == "" {
		acc.Currency = DefaultCurrency
	}
	if err := acc.Validate(); err != nil {
		return core.Account{}, err
	}
	if err := s.store.InsertAccount(ctx, acc); err != nil {
		return core.Account{}, err
	}
	s.opts.Logger.InfoContext(ctx, "Account created", log.FieldUserID, userID, log.FieldAccountID, acc.ID)
	return acc, nil
}

func (s *AccountService) List(ctx context.Context, userID string, includeInactive bool) ([]core.Account, error) {
	ctx, cancel := s.opts.bound(ctx)
	defer cancel()
	return s.store.ListAccounts(ctx, userID, includeInactive)
}

// Deactivate hides the account from balance reports and new transactions.
func (s *AccountService) Deactivate(ctx context.Context, userID, accountID string) error {
	ctx, cancel := s.opts.bound(ctx)
	defer cancel()
	if err := s.store.SetAccountActive(ctx, userID, accountID, false); err != nil {
		return err
	}
	s.opts.Logger.InfoContext(ctx, "Account deactivated", log.FieldUserID, userID, log.FieldAccountID, accountID)
	return nil
}

// Delete removes an account that no transaction references.
func (s *AccountService) Delete(ctx context.Context, userID, accountID string) error {
	ctx, cancel := s.opts.bound(ctx)
	defer cancel()
	if err := s.store.DeleteAccount(ctx, userID, accountID); err != nil {
		return err
	}
	s.opts.Logger.InfoContext(ctx, "Account deleted", log.FieldUserID, userID, log.FieldAccountID, accountID)
	return nil
}

func (s *AccountService) CreateCategory(ctx context.Context, userID string, in NewCategory) (core.Category, error) {
	ctx, cancel := s.opts.bound(ctx)
	defer cancel()

	cat := core.Category{
		ID:        s.opts.NewID(),
		UserID:    userID,
		Name:      strings.TrimSpace(in.Name),
		Icon:      strings.TrimSpace(in.Icon),
		Color:     strings.TrimSpace(in.Color),
		CreatedAt: s.opts.Now(),
	}
	if err := cat.Validate(); err != nil {
		return core.Category{}, err
	}
	if err := s.store.InsertCategory(ctx, cat); err != nil {
		return core.Category{}, err
	}
	return cat, nil
}

func (s *AccountService) ListCategories(ctx context.Context, userID string) ([]core.Category, error) {
	ctx, cancel := s.opts.bound(ctx)
	defer cancel()
	return s.store.ListCategories(ctx, userID)
}

func (s *AccountService) DeleteCategory(ctx context.Context, userID, categoryID string) error {
	ctx, cancel := s.opts.bound(ctx)
	defer cancel()
	return s.store.DeleteCategory(ctx, userID, categoryID)
}

// Balances reports active account balances and their total. With
// includeMonthly it adds the expense total of the calendar month of now.
func (s *AccountService) Balances(ctx context.Context, userID string, includeMonthly bool, now time.Time) (core.BalanceReport, error) {
	ctx, cancel := s.opts.bound(ctx)
	defer cancel()

	accounts, err := s.store.ListAccounts(ctx, userID, false)
	if err != nil {
		return core.BalanceReport{}, err
	}

	rep := core.BalanceReport{Accounts: make([]core.AccountBalance, 0, len(accounts))}
	for _, a := range accounts {
		rep.Accounts = append(rep.Accounts, core.AccountBalance{
			AccountID: a.ID,
			Name:      a.Name,
			Kind:      a.Kind,
			Currency:  a.Currency,
			Balance:   a.Balance,
		})
		rep.TotalBalance = rep.TotalBalance.Add(a.Balance)
	}

	if includeMonthly {
		f := ledger.Filter{Range: core.MonthRange(now), Type: core.Expense}
		_, expenses, err := s.store.SumByType(ctx, userID, f)
		if err != nil {
			return core.BalanceReport{}, err
		}
		rep.MonthlyExpenditure = &expenses
	}
	return rep, nil
}

// Reconcile recomputes every account balance from cleared transactions in
// one unit of work and returns the per-account comparison.
func (s *AccountService) Reconcile(ctx context.Context, userID string) ([]core.BalanceDrift, error) {
	ctx, cancel := s.opts.bound(ctx)
	defer cancel()

	var drifts []core.BalanceDrift
	err := s.store.InTx(ctx, func(q ledger.Queries) error {
		var err error
		drifts, err = computeDrift(ctx, q, userID)
		if err != nil {
			return err
		}
		for _, d := range drifts {
			if !d.Drifted() {
				continue
			}
			if err := q.SetBalance(ctx, userID, d.AccountID, d.Computed); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.LogError(ctx, s.opts.Logger, "Failed to reconcile balances", err,
			string(core.KindOf(err)), log.OpReconcile, log.NewFields().WithUser(userID))
		return nil, err
	}

	var touched []string
	for _, d := range drifts {
		if d.Drifted() {
			touched = append(touched, d.AccountID)
			s.opts.Logger.WarnContext(ctx, "Corrected account balance drift",
				log.FieldUserID, userID,
				log.FieldAccountID, d.AccountID,
				"stored", d.Stored.String(),
				"computed", d.Computed.String())
		}
	}
	if len(touched) > 0 {
		s.opts.notify(ctx, amqp.EventBalancesReconciled, userID, "", touched...)
	}
	return drifts, nil
}

// Audit compares stored and computed balances without writing. Both reads
// share one unit of work so a concurrent commit cannot fall between them.
// When accountIDs is non-empty only those accounts are reported.
func (s *AccountService) Audit(ctx context.Context, userID string, accountIDs ...string) ([]core.BalanceDrift, error) {
	ctx, cancel := s.opts.bound(ctx)
	defer cancel()

	var drifts []core.BalanceDrift
	err := s.store.InTx(ctx, func(q ledger.Queries) error {
		var err error
		drifts, err = computeDrift(ctx, q, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(accountIDs) == 0 {
		return drifts, nil
	}
	want := make(map[string]bool, len(accountIDs))
	for _, id := range accountIDs {
		want[id] = true
	}
	out := drifts[:0]
	for _, d := range drifts {
		if want[d.AccountID] {
			out = append(out, d)
		}
	}
	return out, nil
}

func computeDrift(ctx context.Context, q ledger.Queries, userID string) ([]core.BalanceDrift, error) {
	accounts, err := q.ListAccounts(ctx, userID, true)
	if err != nil {
		return nil, err
	}
	computed, err := q.ClearedBalances(ctx, userID)
	if err != nil {
		return nil, err
	}
	drifts := make([]core.BalanceDrift, 0, len(accounts))
	for _, a := range accounts {
		drifts = append(drifts, core.BalanceDrift{
			AccountID: a.ID,
			Name:      a.Name,
			Stored:    a.Balance,
			Computed:  computed[a.ID],
		})
	}
	return drifts, nil
}
