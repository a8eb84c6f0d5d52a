package services

import (
	"context"
	"encoding/json"
	"strings"

	"fintrack/internal/amqp"
	"fintrack/internal/core"
	"fintrack/internal/ledger"
	"fintrack/internal/log"
)

// NewTransaction is the input to Create. AccountRef and CategoryRef hold
// either an id or a name owned by the caller.
type NewTransaction struct {
	AccountRef  string
	CategoryRef string
	Amount      core.Money
	Type        core.TransactionType
	Status      core.TransactionStatus // defaults to CLEARED
	Date        core.Date
	Description string
	Notes       string
	ReceiptRef  string
	ReceiptData json.RawMessage
}

// TransactionPatch is the input to Update. Nil fields stay unchanged.
type TransactionPatch struct {
	AccountRef  *string
	CategoryRef *string
	Amount      *core.Money
	Type        *core.TransactionType
	Status      *core.TransactionStatus
	Date        *core.Date
	Description *string
	Notes       *string
}

// ListOptions pages through a user's transactions. Zero Limit returns all.
type ListOptions struct {
	Limit  int
	Offset int
	Range  core.DateRange
}

// LedgerService is the only writer of transactions. Each mutation and the
// balance adjustment it implies commit together or not at all.
type LedgerService struct {
	store ledger.Store
	opts  Options
}

func NewLedgerService(store ledger.Store, opts Options) *LedgerService {
	return &LedgerService{store: store, opts: opts.withDefaults(log.ComponentLedger)}
}

// Create records a transaction and, when cleared, moves the account balance.
func (s *LedgerService) Create(ctx context.Context, userID string, in NewTransaction) (core.Transaction, error) {
	ctx, cancel := s.opts.bound(ctx)
	defer cancel()

	if in.Status == "" {
		in.Status = core.Cleared
	}
	now := s.opts.Now()
	tx := core.Transaction{
		ID:          s.opts.NewID(),
		UserID:      userID,
		AccountID:   strings.TrimSpace(in.AccountRef),
		CategoryID:  strings.TrimSpace(in.CategoryRef),
		Amount:      in.Amount,
		Type:        in.Type,
		Status:      in.Status,
		Date:        in.Date,
		Description: strings.TrimSpace(in.Description),
		Notes:       strings.TrimSpace(in.Notes),
		ReceiptRef:  in.ReceiptRef,
		ReceiptData: in.ReceiptData,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := tx.Validate(); err != nil {
		return core.Transaction{}, err
	}

	var out core.Transaction
	err := s.store.InTx(ctx, func(q ledger.Queries) error {
		acc, err := q.ResolveAccount(ctx, userID, tx.AccountID)
		if err != nil {
			return err
		}
		if !acc.IsActive {
			return core.Validation("account", "account "+acc.Name+" is inactive")
		}
		cat, err := q.ResolveCategory(ctx, userID, tx.CategoryID)
		if err != nil {
			return err
		}
		tx.AccountID, tx.CategoryID = acc.ID, cat.ID

		if err := q.InsertTransaction(ctx, tx); err != nil {
			return err
		}
		if err := applyEffect(ctx, q, tx, false); err != nil {
			return err
		}
		out, err = q.GetTransaction(ctx, userID, tx.ID)
		return err
	})
	if err != nil {
		s.logFailure(ctx, "Failed to create transaction", userID, log.OpCreate, err)
		return core.Transaction{}, err
	}

	s.opts.Logger.InfoContext(ctx, "Transaction created", log.NewFields().
		WithUser(userID).
		WithTransaction(out.ID, out.AccountID, string(out.Type), string(out.Status), out.Amount.String()).
		ToSlice()...)

	s.opts.notify(ctx, amqp.EventTransactionCreated, userID, out.ID, out.AccountID)
	return out, nil
}

// Update reverses the old balance effect, merges the patch and applies the
// new effect, all in one unit of work.
func (s *LedgerService) Update(ctx context.Context, userID, txID string, patch TransactionPatch) (core.Transaction, error) {
	ctx, cancel := s.opts.bound(ctx)
	defer cancel()

	var old, out core.Transaction
	err := s.store.InTx(ctx, func(q ledger.Queries) error {
		var err error
		old, err = q.GetTransaction(ctx, userID, txID)
		if err != nil {
			return err
		}
		if err := applyEffect(ctx, q, old, true); err != nil {
			return err
		}

		merged := mergePatch(old, patch)
		merged.UpdatedAt = s.opts.Now()
		if err := merged.Validate(); err != nil {
			return err
		}

		if patch.AccountRef != nil {
			acc, err := q.ResolveAccount(ctx, userID, merged.AccountID)
			if err != nil {
				return err
			}
			if acc.ID != old.AccountID && !acc.IsActive {
				return core.Validation("account", "account "+acc.Name+" is inactive")
			}
			merged.AccountID = acc.ID
		}
		if patch.CategoryRef != nil {
			cat, err := q.ResolveCategory(ctx, userID, merged.CategoryID)
			if err != nil {
				return err
			}
			merged.CategoryID = cat.ID
		}

		if err := q.UpdateTransaction(ctx, merged); err != nil {
			return err
		}
		if err := applyEffect(ctx, q, merged, false); err != nil {
			return err
		}
		out, err = q.GetTransaction(ctx, userID, txID)
		return err
	})
	if err != nil {
		s.logFailure(ctx, "Failed to update transaction", userID, log.OpUpdate, err)
		return core.Transaction{}, err
	}

	s.opts.Logger.InfoContext(ctx, "Transaction updated", log.NewFields().
		WithUser(userID).
		WithTransaction(out.ID, out.AccountID, string(out.Type), string(out.Status), out.Amount.String()).
		ToSlice()...)

	s.opts.notify(ctx, amqp.EventTransactionUpdated, userID, out.ID, old.AccountID, out.AccountID)
	return out, nil
}

// Delete removes a transaction and reverses its balance effect.
func (s *LedgerService) Delete(ctx context.Context, userID, txID string) error {
	ctx, cancel := s.opts.bound(ctx)
	defer cancel()

	var old core.Transaction
	err := s.store.InTx(ctx, func(q ledger.Queries) error {
		var err error
		old, err = q.GetTransaction(ctx, userID, txID)
		if err != nil {
			return err
		}
		if err := applyEffect(ctx, q, old, true); err != nil {
			return err
		}
		return q.DeleteTransaction(ctx, userID, txID)
	})
	if err != nil {
		s.logFailure(ctx, "Failed to delete transaction", userID, log.OpDelete, err)
		return err
	}

	s.opts.Logger.InfoContext(ctx, "Transaction deleted", log.NewFields().
		WithUser(userID).
		WithTransaction(old.ID, old.AccountID, string(old.Type), string(old.Status), old.Amount.String()).
		ToSlice()...)

	s.opts.notify(ctx, amqp.EventTransactionDeleted, userID, old.ID, old.AccountID)
	return nil
}

func (s *LedgerService) Get(ctx context.Context, userID, txID string) (core.Transaction, error) {
	ctx, cancel := s.opts.bound(ctx)
	defer cancel()
	return s.store.GetTransaction(ctx, userID, txID)
}

// List returns a page of transactions, newest date first, plus the number
// of transactions matching the range regardless of paging.
func (s *LedgerService) List(ctx context.Context, userID string, opts ListOptions) ([]core.Transaction, int, error) {
	if opts.Limit < 0 || opts.Offset < 0 {
		return nil, 0, core.Validation("limit", "limit and offset must not be negative")
	}
	if err := opts.Range.Validate(); err != nil {
		return nil, 0, err
	}

	ctx, cancel := s.opts.bound(ctx)
	defer cancel()

	f := ledger.Filter{Range: opts.Range, Limit: opts.Limit, Offset: opts.Offset}
	txs, err := s.store.ListTransactions(ctx, userID, f)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.store.CountTransactions(ctx, userID, ledger.Filter{Range: opts.Range})
	if err != nil {
		return nil, 0, err
	}
	return txs, total, nil
}

// applyEffect moves the account balance by the transaction's effect, or by
// its negation when reverse is set. Non-cleared transactions are a no-op.
// The resulting balance must stay within core.MaxBalance.
func applyEffect(ctx context.Context, q ledger.Queries, tx core.Transaction, reverse bool) error {
	delta := tx.BalanceEffect()
	if delta.IsZero() {
		return nil
	}
	if reverse {
		delta = delta.Neg()
	}
	acc, err := q.GetAccount(ctx, tx.UserID, tx.AccountID)
	if err != nil {
		return err
	}
	if acc.Balance.Add(delta).Abs().Cmp(core.MaxBalance) > 0 {
		return core.Validation("amount", "balance of account "+acc.Name+" would exceed "+core.MaxBalance.String())
	}
	return q.AdjustBalance(ctx, tx.UserID, tx.AccountID, delta)
}

func mergePatch(t core.Transaction, p TransactionPatch) core.Transaction {
	if p.AccountRef != nil {
		t.AccountID = strings.TrimSpace(*p.AccountRef)
	}
	if p.CategoryRef != nil {
		t.CategoryID = strings.TrimSpace(*p.CategoryRef)
	}
	if p.Amount != nil {
		t.Amount = *p.Amount
	}
	if p.Type != nil {
		t.Type = *p.Type
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.Date != nil {
		t.Date = *p.Date
	}
	if p.Description != nil {
		t.Description = strings.TrimSpace(*p.Description)
	}
	if p.Notes != nil {
		t.Notes = strings.TrimSpace(*p.Notes)
	}
	return t
}

func (s *LedgerService) logFailure(ctx context.Context, msg, userID, op string, err error) {
	kind := core.KindOf(err)
	if kind == core.KindValidation || kind == core.KindNotFound {
		s.opts.Logger.DebugContext(ctx, msg, log.NewFields().
			WithUser(userID).WithOperation(op).WithError(err).WithErrorType(string(kind)).ToSlice()...)
		return
	}
	log.LogError(ctx, s.opts.Logger, msg, err, string(kind), op, log.NewFields().WithUser(userID))
}
