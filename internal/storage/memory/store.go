// Package memory is an in-process ledger.Store used for development and
// tests. A unit of work runs against a private copy of the state which
// replaces the live state only when the work succeeds.
package memory

import (
	"context"
	"sort"
	"sync"

	"fintrack/internal/core"
	"fintrack/internal/ledger"
)

type txRow struct {
	tx  core.Transaction
	seq int64
}

type state struct {
	users      map[string]core.User
	identities map[string]string // identity ref -> user id
	accounts   map[string]core.Account
	categories map[string]core.Category
	txs        map[string]txRow
	seq        int64
}

func newState() *state {
	return &state{
		users:      map[string]core.User{},
		identities: map[string]string{},
		accounts:   map[string]core.Account{},
		categories: map[string]core.Category{},
		txs:        map[string]txRow{},
	}
}

// clone copies the maps; values are plain structs so a shallow copy per
// entry is enough. ReceiptData is never mutated in place.
func (s *state) clone() *state {
	c := &state{
		users:      make(map[string]core.User, len(s.users)),
		identities: make(map[string]string, len(s.identities)),
		accounts:   make(map[string]core.Account, len(s.accounts)),
		categories: make(map[string]core.Category, len(s.categories)),
		txs:        make(map[string]txRow, len(s.txs)),
		seq:        s.seq,
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.identities {
		c.identities[k] = v
	}
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	for k, v := range s.categories {
		c.categories[k] = v
	}
	for k, v := range s.txs {
		c.txs[k] = v
	}
	return c
}

// Store serializes all access behind one mutex. Callers must not use the
// Store itself from inside an InTx callback; use the Queries passed in.
type Store struct {
	mu sync.Mutex
	st *state
}

var _ ledger.Store = (*Store)(nil)

func New() *Store {
	return &Store{st: newState()}
}

func (s *Store) InTx(ctx context.Context, fn func(q ledger.Queries) error) error {
	if err := ctx.Err(); err != nil {
		return core.Storage("begin", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(&view{st: work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return core.Storage("commit", err)
	}
	s.st = work
	return nil
}

func (s *Store) read(ctx context.Context, fn func(v *view) error) error {
	if err := ctx.Err(); err != nil {
		return core.Storage("read", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&view{st: s.st})
}

func (s *Store) write(ctx context.Context, fn func(v *view) error) error {
	return s.InTx(ctx, func(q ledger.Queries) error { return fn(q.(*view)) })
}

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }
func (s *Store) Close() error                   { return nil }

func (s *Store) GetUserByIdentity(ctx context.Context, ref string) (u core.User, err error) {
	err = s.read(ctx, func(v *view) error { u, err = v.GetUserByIdentity(ctx, ref); return err })
	return u, err
}

func (s *Store) InsertUser(ctx context.Context, u core.User) error {
	return s.write(ctx, func(v *view) error { return v.InsertUser(ctx, u) })
}

func (s *Store) ListUserIDs(ctx context.Context) (ids []string, err error) {
	err = s.read(ctx, func(v *view) error { ids, err = v.ListUserIDs(ctx); return err })
	return ids, err
}

func (s *Store) InsertAccount(ctx context.Context, a core.Account) error {
	return s.write(ctx, func(v *view) error { return v.InsertAccount(ctx, a) })
}

func (s *Store) GetAccount(ctx context.Context, userID, id string) (a core.Account, err error) {
	err = s.read(ctx, func(v *view) error { a, err = v.GetAccount(ctx, userID, id); return err })
	return a, err
}

func (s *Store) ResolveAccount(ctx context.Context, userID, ref string) (a core.Account, err error) {
	err = s.read(ctx, func(v *view) error { a, err = v.ResolveAccount(ctx, userID, ref); return err })
	return a, err
}

func (s *Store) ListAccounts(ctx context.Context, userID string, includeInactive bool) (out []core.Account, err error) {
	err = s.read(ctx, func(v *view) error { out, err = v.ListAccounts(ctx, userID, includeInactive); return err })
	return out, err
}

func (s *Store) SetAccountActive(ctx context.Context, userID, id string, active bool) error {
	return s.write(ctx, func(v *view) error { return v.SetAccountActive(ctx, userID, id, active) })
}

func (s *Store) DeleteAccount(ctx context.Context, userID, id string) error {
	return s.write(ctx, func(v *view) error { return v.DeleteAccount(ctx, userID, id) })
}

func (s *Store) AdjustBalance(ctx context.Context, userID, id string, delta core.Money) error {
	return s.write(ctx, func(v *view) error { return v.AdjustBalance(ctx, userID, id, delta) })
}

func (s *Store) SetBalance(ctx context.Context, userID, id string, balance core.Money) error {
	return s.write(ctx, func(v *view) error { return v.SetBalance(ctx, userID, id, balance) })
}

func (s *Store) InsertCategory(ctx context.Context, c core.Category) error {
	return s.write(ctx, func(v *view) error { return v.InsertCategory(ctx, c) })
}

func (s *Store) ResolveCategory(ctx context.Context, userID, ref string) (c core.Category, err error) {
	err = s.read(ctx, func(v *view) error { c, err = v.ResolveCategory(ctx, userID, ref); return err })
	return c, err
}

func (s *Store) ListCategories(ctx context.Context, userID string) (out []core.Category, err error) {
	err = s.read(ctx, func(v *view) error { out, err = v.ListCategories(ctx, userID); return err })
	return out, err
}

func (s *Store) DeleteCategory(ctx context.Context, userID, id string) error {
	return s.write(ctx, func(v *view) error { return v.DeleteCategory(ctx, userID, id) })
}

func (s *Store) InsertTransaction(ctx context.Context, t core.Transaction) error {
	return s.write(ctx, func(v *view) error { return v.InsertTransaction(ctx, t) })
}

func (s *Store) GetTransaction(ctx context.Context, userID, id string) (t core.Transaction, err error) {
	err = s.read(ctx, func(v *view) error { t, err = v.GetTransaction(ctx, userID, id); return err })
	return t, err
}

func (s *Store) UpdateTransaction(ctx context.Context, t core.Transaction) error {
	return s.write(ctx, func(v *view) error { return v.UpdateTransaction(ctx, t) })
}

func (s *Store) DeleteTransaction(ctx context.Context, userID, id string) error {
	return s.write(ctx, func(v *view) error { return v.DeleteTransaction(ctx, userID, id) })
}

func (s *Store) ListTransactions(ctx context.Context, userID string, f ledger.Filter) (out []core.Transaction, err error) {
	err = s.read(ctx, func(v *view) error { out, err = v.ListTransactions(ctx, userID, f); return err })
	return out, err
}

func (s *Store) CountTransactions(ctx context.Context, userID string, f ledger.Filter) (n int, err error) {
	err = s.read(ctx, func(v *view) error { n, err = v.CountTransactions(ctx, userID, f); return err })
	return n, err
}

func (s *Store) SumByType(ctx context.Context, userID string, f ledger.Filter) (income, expenses core.Money, err error) {
	err = s.read(ctx, func(v *view) error { income, expenses, err = v.SumByType(ctx, userID, f); return err })
	return income, expenses, err
}

func (s *Store) SumExpensesByCategory(ctx context.Context, userID string, f ledger.Filter) (out []core.CategoryTotal, err error) {
	err = s.read(ctx, func(v *view) error { out, err = v.SumExpensesByCategory(ctx, userID, f); return err })
	return out, err
}

func (s *Store) ClearedBalances(ctx context.Context, userID string) (out map[string]core.Money, err error) {
	err = s.read(ctx, func(v *view) error { out, err = v.ClearedBalances(ctx, userID); return err })
	return out, err
}

// sortedRows returns the user's transactions matching f, newest date first
// and insertion order within a date.
func (st *state) sortedRows(userID string, f ledger.Filter) []txRow {
	var rows []txRow
	for _, r := range st.txs {
		if r.tx.UserID != userID || !matches(f, r.tx) {
			continue
		}
		rows = append(rows, r)
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].tx.Date.Equal(rows[j].tx.Date.Time) {
			return rows[i].tx.Date.After(rows[j].tx.Date)
		}
		return rows[i].seq < rows[j].seq
	})
	return rows
}

func matches(f ledger.Filter, t core.Transaction) bool {
	if !f.Range.Contains(t.Date) {
		return false
	}
	if f.Policy != "" && !f.Policy.Includes(t.Status) {
		return false
	}
	if f.Type != "" && t.Type != f.Type {
		return false
	}
	return true
}
