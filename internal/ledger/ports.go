// Package ledger defines the persistence ports the services run against.
//
// Every lookup is scoped by the owning user id: a record owned by someone
// else is indistinguishable from a missing one and yields core.ErrNotFound.
package ledger

import (
	"context"

	"fintrack/internal/core"
)

// Filter narrows transaction reads and aggregations.
type Filter struct {
	Range  core.DateRange
	Policy core.StatusPolicy // empty means all statuses
	Type   core.TransactionType
	Limit  int // 0 means no limit
	Offset int
}

// Ports implemented by storage adapters.
type (
	UserQueries interface {
		GetUserByIdentity(ctx context.Context, identityRef string) (core.User, error)
		// InsertUser fails with core.ErrConflict when the identity ref is taken.
		InsertUser(ctx context.Context, u core.User) error
		ListUserIDs(ctx context.Context) ([]string, error)
	}

	AccountQueries interface {
		// InsertAccount fails with core.ErrConflict on a duplicate name.
		InsertAccount(ctx context.Context, a core.Account) error
		GetAccount(ctx context.Context, userID, accountID string) (core.Account, error)
		// ResolveAccount matches ref against the id first, then the name.
		ResolveAccount(ctx context.Context, userID, ref string) (core.Account, error)
		ListAccounts(ctx context.Context, userID string, includeInactive bool) ([]core.Account, error)
		SetAccountActive(ctx context.Context, userID, accountID string, active bool) error
		// DeleteAccount fails with core.ErrConflict while transactions reference it.
		DeleteAccount(ctx context.Context, userID, accountID string) error
		// AdjustBalance adds delta to the stored balance in place.
		AdjustBalance(ctx context.Context, userID, accountID string, delta core.Money) error
		SetBalance(ctx context.Context, userID, accountID string, balance core.Money) error
	}

	CategoryQueries interface {
		InsertCategory(ctx context.Context, c core.Category) error
		ResolveCategory(ctx context.Context, userID, ref string) (core.Category, error)
		ListCategories(ctx context.Context, userID string) ([]core.Category, error)
		DeleteCategory(ctx context.Context, userID, categoryID string) error
	}

	TransactionQueries interface {
		InsertTransaction(ctx context.Context, t core.Transaction) error
		GetTransaction(ctx context.Context, userID, txID string) (core.Transaction, error)
		UpdateTransaction(ctx context.Context, t core.Transaction) error
		DeleteTransaction(ctx context.Context, userID, txID string) error
		// ListTransactions orders by date descending, then insertion order.
		ListTransactions(ctx context.Context, userID string, f Filter) ([]core.Transaction, error)
		CountTransactions(ctx context.Context, userID string, f Filter) (int, error)
	}

	AggregateQueries interface {
		SumByType(ctx context.Context, userID string, f Filter) (income, expenses core.Money, err error)
		// SumExpensesByCategory returns unordered per-category expense totals.
		SumExpensesByCategory(ctx context.Context, userID string, f Filter) ([]core.CategoryTotal, error)
		// ClearedBalances returns the signed cleared sum per account id.
		ClearedBalances(ctx context.Context, userID string) (map[string]core.Money, error)
	}

	// Queries is the full set of operations available inside and outside
	// a unit of work.
	Queries interface {
		UserQueries
		AccountQueries
		CategoryQueries
		TransactionQueries
		AggregateQueries
	}

	// Store is a Queries plus atomic units of work.
	Store interface {
		Queries
		// InTx runs fn in one atomic unit of work. The work commits when fn
		// returns nil and rolls back entirely otherwise.
		InTx(ctx context.Context, fn func(q Queries) error) error
		Ping(ctx context.Context) error
		Close() error
	}
)
