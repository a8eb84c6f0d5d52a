package memory

import (
	"context"
	"sort"

	"fintrack/internal/core"
	"fintrack/internal/ledger"
)

// view implements ledger.Queries over one state snapshot. The caller holds
// the store mutex for the lifetime of a view.
type view struct {
	st *state
}

var _ ledger.Queries = (*view)(nil)

func (v *view) GetUserByIdentity(_ context.Context, ref string) (core.User, error) {
	id, ok := v.st.identities[ref]
	if !ok {
		return core.User{}, core.NotFound("user", "")
	}
	return v.st.users[id], nil
}

func (v *view) InsertUser(_ context.Context, u core.User) error {
	if _, ok := v.st.identities[u.IdentityRef]; ok {
		return core.Conflict("user", "identity already provisioned")
	}
	u.Accounts, u.Categories = nil, nil
	v.st.users[u.ID] = u
	v.st.identities[u.IdentityRef] = u.ID
	return nil
}

func (v *view) ListUserIDs(_ context.Context) ([]string, error) {
	ids := make([]string, 0, len(v.st.users))
	for id := range v.st.users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (v *view) InsertAccount(_ context.Context, a core.Account) error {
	if _, ok := v.st.users[a.UserID]; !ok {
		return core.NotFound("user", "")
	}
	for _, existing := range v.st.accounts {
		if existing.UserID == a.UserID && existing.Name == a.Name {
			return core.Conflict("account", "an account named "+a.Name+" already exists")
		}
	}
	v.st.accounts[a.ID] = a
	return nil
}

func (v *view) GetAccount(_ context.Context, userID, id string) (core.Account, error) {
	a, ok := v.st.accounts[id]
	if !ok || a.UserID != userID {
		return core.Account{}, core.NotFound("account", id)
	}
	return a, nil
}

func (v *view) ResolveAccount(ctx context.Context, userID, ref string) (core.Account, error) {
	if a, err := v.GetAccount(ctx, userID, ref); err == nil {
		return a, nil
	}
	for _, a := range v.st.accounts {
		if a.UserID == userID && a.Name == ref {
			return a, nil
		}
	}
	return core.Account{}, core.NotFound("account", ref)
}

func (v *view) ListAccounts(_ context.Context, userID string, includeInactive bool) ([]core.Account, error) {
	var out []core.Account
	for _, a := range v.st.accounts {
		if a.UserID == userID && (includeInactive || a.IsActive) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (v *view) SetAccountActive(ctx context.Context, userID, id string, active bool) error {
	a, err := v.GetAccount(ctx, userID, id)
	if err != nil {
		return err
	}
	a.IsActive = active
	v.st.accounts[id] = a
	return nil
}

func (v *view) DeleteAccount(ctx context.Context, userID, id string) error {
	if _, err := v.GetAccount(ctx, userID, id); err != nil {
		return err
	}
	for _, r := range v.st.txs {
		if r.tx.AccountID == id {
			return core.Conflict("account", "account still has transactions")
		}
	}
	delete(v.st.accounts, id)
	return nil
}

func (v *view) AdjustBalance(ctx context.Context, userID, id string, delta core.Money) error {
	a, err := v.GetAccount(ctx, userID, id)
	if err != nil {
		return err
	}
	a.Balance = a.Balance.Add(delta)
	v.st.accounts[id] = a
	return nil
}

func (v *view) SetBalance(ctx context.Context, userID, id string, balance core.Money) error {
	a, err := v.GetAccount(ctx, userID, id)
	if err != nil {
		return err
	}
	a.Balance = balance
	v.st.accounts[id] = a
	return nil
}

func (v *view) InsertCategory(_ context.Context, c core.Category) error {
	if _, ok := v.st.users[c.UserID]; !ok {
		return core.NotFound("user", "")
	}
	for _, existing := range v.st.categories {
		if existing.UserID == c.UserID && existing.Name == c.Name {
			return core.Conflict("category", "a category named "+c.Name+" already exists")
		}
	}
	v.st.categories[c.ID] = c
	return nil
}

func (v *view) ResolveCategory(_ context.Context, userID, ref string) (core.Category, error) {
	if c, ok := v.st.categories[ref]; ok && c.UserID == userID {
		return c, nil
	}
	for _, c := range v.st.categories {
		if c.UserID == userID && c.Name == ref {
			return c, nil
		}
	}
	return core.Category{}, core.NotFound("category", ref)
}

func (v *view) ListCategories(_ context.Context, userID string) ([]core.Category, error) {
	var out []core.Category
	for _, c := range v.st.categories {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (v *view) DeleteCategory(_ context.Context, userID, id string) error {
	c, ok := v.st.categories[id]
	if !ok || c.UserID != userID {
		return core.NotFound("category", id)
	}
	for _, r := range v.st.txs {
		if r.tx.CategoryID == id {
			return core.Conflict("category", "category still has transactions")
		}
	}
	delete(v.st.categories, id)
	return nil
}

func (v *view) InsertTransaction(ctx context.Context, t core.Transaction) error {
	if err := v.checkRefs(ctx, t); err != nil {
		return err
	}
	if _, ok := v.st.txs[t.ID]; ok {
		return core.Conflict("transaction", "duplicate transaction id")
	}
	v.st.seq++
	v.st.txs[t.ID] = txRow{tx: stripDisplay(t), seq: v.st.seq}
	return nil
}

func (v *view) GetTransaction(_ context.Context, userID, id string) (core.Transaction, error) {
	r, ok := v.st.txs[id]
	if !ok || r.tx.UserID != userID {
		return core.Transaction{}, core.NotFound("transaction", id)
	}
	return v.withDisplay(r.tx), nil
}

func (v *view) UpdateTransaction(ctx context.Context, t core.Transaction) error {
	r, ok := v.st.txs[t.ID]
	if !ok || r.tx.UserID != t.UserID {
		return core.NotFound("transaction", t.ID)
	}
	if err := v.checkRefs(ctx, t); err != nil {
		return err
	}
	t.CreatedAt = r.tx.CreatedAt
	r.tx = stripDisplay(t)
	v.st.txs[t.ID] = r
	return nil
}

func (v *view) DeleteTransaction(_ context.Context, userID, id string) error {
	r, ok := v.st.txs[id]
	if !ok || r.tx.UserID != userID {
		return core.NotFound("transaction", id)
	}
	delete(v.st.txs, id)
	return nil
}

func (v *view) ListTransactions(_ context.Context, userID string, f ledger.Filter) ([]core.Transaction, error) {
	rows := v.st.sortedRows(userID, f)
	if f.Offset > 0 {
		if f.Offset >= len(rows) {
			rows = nil
		} else {
			rows = rows[f.Offset:]
		}
	}
	if f.Limit > 0 && len(rows) > f.Limit {
		rows = rows[:f.Limit]
	}
	out := make([]core.Transaction, 0, len(rows))
	for _, r := range rows {
		out = append(out, v.withDisplay(r.tx))
	}
	return out, nil
}

func (v *view) CountTransactions(_ context.Context, userID string, f ledger.Filter) (int, error) {
	return len(v.st.sortedRows(userID, f)), nil
}

func (v *view) SumByType(_ context.Context, userID string, f ledger.Filter) (core.Money, core.Money, error) {
	var income, expenses core.Money
	for _, r := range v.st.txs {
		if r.tx.UserID != userID || !matches(f, r.tx) {
			continue
		}
		switch r.tx.Type {
		case core.Income:
			income = income.Add(r.tx.Amount)
		case core.Expense:
			expenses = expenses.Add(r.tx.Amount)
		}
	}
	return income, expenses, nil
}

func (v *view) SumExpensesByCategory(_ context.Context, userID string, f ledger.Filter) ([]core.CategoryTotal, error) {
	byCat := map[string]*core.CategoryTotal{}
	for _, r := range v.st.txs {
		if r.tx.UserID != userID || r.tx.Type != core.Expense || !matches(f, r.tx) {
			continue
		}
		row, ok := byCat[r.tx.CategoryID]
		if !ok {
			c := v.st.categories[r.tx.CategoryID]
			row = &core.CategoryTotal{CategoryID: c.ID, Name: c.Name, Icon: c.Icon, Color: c.Color}
			byCat[r.tx.CategoryID] = row
		}
		row.Total = row.Total.Add(r.tx.Amount)
		row.Count++
	}
	out := make([]core.CategoryTotal, 0, len(byCat))
	for _, row := range byCat {
		out = append(out, *row)
	}
	return out, nil
}

func (v *view) ClearedBalances(_ context.Context, userID string) (map[string]core.Money, error) {
	out := map[string]core.Money{}
	for _, a := range v.st.accounts {
		if a.UserID == userID {
			out[a.ID] = core.Money{}
		}
	}
	for _, r := range v.st.txs {
		if r.tx.UserID != userID {
			continue
		}
		out[r.tx.AccountID] = out[r.tx.AccountID].Add(r.tx.BalanceEffect())
	}
	return out, nil
}

// checkRefs enforces the foreign keys a relational store would.
func (v *view) checkRefs(_ context.Context, t core.Transaction) error {
	if _, ok := v.st.users[t.UserID]; !ok {
		return core.NotFound("user", "")
	}
	if a, ok := v.st.accounts[t.AccountID]; !ok || a.UserID != t.UserID {
		return core.NotFound("account", t.AccountID)
	}
	if c, ok := v.st.categories[t.CategoryID]; !ok || c.UserID != t.UserID {
		return core.NotFound("category", t.CategoryID)
	}
	return nil
}

func (v *view) withDisplay(t core.Transaction) core.Transaction {
	if a, ok := v.st.accounts[t.AccountID]; ok {
		t.AccountName, t.AccountKind = a.Name, a.Kind
	}
	if c, ok := v.st.categories[t.CategoryID]; ok {
		t.CategoryName, t.CategoryIcon, t.CategoryColor = c.Name, c.Icon, c.Color
	}
	return t
}

func stripDisplay(t core.Transaction) core.Transaction {
	t.AccountName, t.AccountKind = "", ""
	t.CategoryName, t.CategoryIcon, t.CategoryColor = "", "", ""
	return t
}
