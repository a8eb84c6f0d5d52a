package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"fintrack/internal/core"
	"fintrack/internal/ledger"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type queries struct {
	db dbtx
}

var _ ledger.Queries = (*queries)(nil)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

// minorUnits converts m for an INTEGER column, refusing values that would
// not survive the round trip.
func minorUnits(field string, m core.Money) (int64, error) {
	cents, ok := m.MinorUnits()
	if !ok {
		return 0, core.Validation(field, "amount "+m.String()+" is out of range")
	}
	return cents, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var constraintText = map[int]string{
	sqlite3.SQLITE_CONSTRAINT_UNIQUE:     "UNIQUE constraint failed",
	sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY: "FOREIGN KEY constraint failed",
}

// isConstraint matches the extended result code, falling back to the
// message when only the primary code was reported.
func isConstraint(err error, code int) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code() == code || strings.Contains(se.Error(), constraintText[code])
}

// ---- users ----

func (q *queries) GetUserByIdentity(ctx context.Context, ref string) (core.User, error) {
	var u core.User
	var created string
	err := q.db.QueryRowContext(ctx,
		`SELECT id, identity_ref, email, display_name, created_at FROM users WHERE identity_ref = ?`, ref).
		Scan(&u.ID, &u.IdentityRef, &u.Email, &u.DisplayName, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return core.User{}, core.NotFound("user", "")
	}
	if err != nil {
		return core.User{}, core.Storage("get user", err)
	}
	u.CreatedAt = parseTime(created)
	return u, nil
}

func (q *queries) InsertUser(ctx context.Context, u core.User) error {
	res, err := q.db.ExecContext(ctx,
		`INSERT INTO users (id, identity_ref, email, display_name, created_at)
		 VALUES (?, ?, ?, ?, ?) ON CONFLICT (identity_ref) DO NOTHING`,
		u.ID, u.IdentityRef, u.Email, u.DisplayName, formatTime(u.CreatedAt))
	if err != nil {
		return core.Storage("insert user", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return core.Conflict("user", "identity already provisioned")
	}
	return nil
}

func (q *queries) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT id FROM users ORDER BY id`)
	if err != nil {
		return nil, core.Storage("list users", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, core.Storage("scan user", err)
		}
		ids = append(ids, id)
	}
	return ids, core.Storage("list users", rows.Err())
}

// ---- accounts ----

const accountColumns = `id, user_id, name, kind, balance_cents, currency, is_active, created_at`

func scanAccount(sc interface{ Scan(...any) error }) (core.Account, error) {
	var a core.Account
	var cents int64
	var active int
	var created string
	if err := sc.Scan(&a.ID, &a.UserID, &a.Name, &a.Kind, &cents, &a.Currency, &active, &created); err != nil {
		return core.Account{}, err
	}
	a.Balance = core.MoneyFromCents(cents)
	a.IsActive = active != 0
	a.CreatedAt = parseTime(created)
	return a, nil
}

func (q *queries) InsertAccount(ctx context.Context, a core.Account) error {
	balance, err := minorUnits("balance", a.Balance)
	if err != nil {
		return err
	}
	_, err = q.db.ExecContext(ctx,
		`INSERT INTO accounts (`+accountColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.UserID, a.Name, a.Kind, balance, a.Currency, boolInt(a.IsActive), formatTime(a.CreatedAt))
	if isConstraint(err, sqlite3.SQLITE_CONSTRAINT_UNIQUE) {
		return core.Conflict("account", "an account named "+a.Name+" already exists")
	}
	return core.Storage("insert account", err)
}

func (q *queries) GetAccount(ctx context.Context, userID, id string) (core.Account, error) {
	a, err := scanAccount(q.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ? AND user_id = ?`, id, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Account{}, core.NotFound("account", id)
	}
	if err != nil {
		return core.Account{}, core.Storage("get account", err)
	}
	return a, nil
}

func (q *queries) ResolveAccount(ctx context.Context, userID, ref string) (core.Account, error) {
	a, err := scanAccount(q.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts
		 WHERE user_id = ? AND (id = ? OR name = ?)
		 ORDER BY CASE WHEN id = ? THEN 0 ELSE 1 END LIMIT 1`, userID, ref, ref, ref))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Account{}, core.NotFound("account", ref)
	}
	if err != nil {
		return core.Account{}, core.Storage("resolve account", err)
	}
	return a, nil
}

func (q *queries) ListAccounts(ctx context.Context, userID string, includeInactive bool) ([]core.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE user_id = ?`
	if !includeInactive {
		query += ` AND is_active = 1`
	}
	query += ` ORDER BY created_at, name`

	rows, err := q.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, core.Storage("list accounts", err)
	}
	defer rows.Close()

	var out []core.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, core.Storage("scan account", err)
		}
		out = append(out, a)
	}
	return out, core.Storage("list accounts", rows.Err())
}

// execOwned runs a single-row statement and reports NotFound when no row
// owned by the user matched.
func (q *queries) execOwned(ctx context.Context, entity, id, op, query string, args ...any) error {
	res, err := q.db.ExecContext(ctx, query, args...)
	if err != nil {
		if isConstraint(err, sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY) {
			return core.Conflict(entity, entity+" is still referenced by transactions")
		}
		return core.Storage(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return core.Storage(op, err)
	}
	if n == 0 {
		return core.NotFound(entity, id)
	}
	return nil
}

func (q *queries) SetAccountActive(ctx context.Context, userID, id string, active bool) error {
	return q.execOwned(ctx, "account", id, "update account",
		`UPDATE accounts SET is_active = ? WHERE id = ? AND user_id = ?`, boolInt(active), id, userID)
}

func (q *queries) DeleteAccount(ctx context.Context, userID, id string) error {
	if _, err := q.GetAccount(ctx, userID, id); err != nil {
		return err
	}
	if err := q.ensureUnreferenced(ctx, "account", "account_id", id); err != nil {
		return err
	}
	return q.execOwned(ctx, "account", id, "delete account",
		`DELETE FROM accounts WHERE id = ? AND user_id = ?`, id, userID)
}

func (q *queries) ensureUnreferenced(ctx context.Context, entity, column, id string) error {
	var n int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions WHERE `+column+` = ?`, id).Scan(&n)
	if err != nil {
		return core.Storage("count references", err)
	}
	if n > 0 {
		return core.Conflict(entity, fmt.Sprintf("%s still has %d transactions", entity, n))
	}
	return nil
}

func (q *queries) AdjustBalance(ctx context.Context, userID, id string, delta core.Money) error {
	cents, err := minorUnits("amount", delta)
	if err != nil {
		return err
	}
	return q.execOwned(ctx, "account", id, "adjust balance",
		`UPDATE accounts SET balance_cents = balance_cents + ? WHERE id = ? AND user_id = ?`,
		cents, id, userID)
}

func (q *queries) SetBalance(ctx context.Context, userID, id string, balance core.Money) error {
	cents, err := minorUnits("balance", balance)
	if err != nil {
		return err
	}
	return q.execOwned(ctx, "account", id, "set balance",
		`UPDATE accounts SET balance_cents = ? WHERE id = ? AND user_id = ?`,
		cents, id, userID)
}

// ---- categories ----

const categoryColumns = `id, user_id, name, icon, color, created_at`

func scanCategory(sc interface{ Scan(...any) error }) (core.Category, error) {
	var c core.Category
	var created string
	if err := sc.Scan(&c.ID, &c.UserID, &c.Name, &c.Icon, &c.Color, &created); err != nil {
		return core.Category{}, err
	}
	c.CreatedAt = parseTime(created)
	return c, nil
}

func (q *queries) InsertCategory(ctx context.Context, c core.Category) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO categories (`+categoryColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.Name, c.Icon, c.Color, formatTime(c.CreatedAt))
	if isConstraint(err, sqlite3.SQLITE_CONSTRAINT_UNIQUE) {
		return core.Conflict("category", "a category named "+c.Name+" already exists")
	}
	return core.Storage("insert category", err)
}

func (q *queries) ResolveCategory(ctx context.Context, userID, ref string) (core.Category, error) {
	c, err := scanCategory(q.db.QueryRowContext(ctx,
		`SELECT `+categoryColumns+` FROM categories
		 WHERE user_id = ? AND (id = ? OR name = ?)
		 ORDER BY CASE WHEN id = ? THEN 0 ELSE 1 END LIMIT 1`, userID, ref, ref, ref))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Category{}, core.NotFound("category", ref)
	}
	if err != nil {
		return core.Category{}, core.Storage("resolve category", err)
	}
	return c, nil
}

func (q *queries) ListCategories(ctx context.Context, userID string) ([]core.Category, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+categoryColumns+` FROM categories WHERE user_id = ? ORDER BY name`, userID)
	if err != nil {
		return nil, core.Storage("list categories", err)
	}
	defer rows.Close()

	var out []core.Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, core.Storage("scan category", err)
		}
		out = append(out, c)
	}
	return out, core.Storage("list categories", rows.Err())
}

func (q *queries) DeleteCategory(ctx context.Context, userID, id string) error {
	c, err := q.ResolveCategory(ctx, userID, id)
	if err != nil {
		return err
	}
	if c.ID != id {
		return core.NotFound("category", id)
	}
	if err := q.ensureUnreferenced(ctx, "category", "category_id", id); err != nil {
		return err
	}
	return q.execOwned(ctx, "category", id, "delete category",
		`DELETE FROM categories WHERE id = ? AND user_id = ?`, id, userID)
}

// ---- transactions ----

const transactionSelect = `SELECT t.id, t.user_id, t.account_id, t.category_id, t.amount_cents, t.type,
	t.status, t.date, t.description, t.notes, t.receipt_ref, t.receipt_data, t.created_at, t.updated_at,
	a.name, a.kind, c.name, c.icon, c.color
	FROM transactions t
	JOIN accounts a ON a.id = t.account_id
	JOIN categories c ON c.id = t.category_id`

func scanTransaction(sc interface{ Scan(...any) error }) (core.Transaction, error) {
	var (
		t                 core.Transaction
		cents             int64
		typ, status, date string
		receipt           sql.NullString
		created, updated  string
	)
	err := sc.Scan(&t.ID, &t.UserID, &t.AccountID, &t.CategoryID, &cents, &typ,
		&status, &date, &t.Description, &t.Notes, &t.ReceiptRef, &receipt, &created, &updated,
		&t.AccountName, &t.AccountKind, &t.CategoryName, &t.CategoryIcon, &t.CategoryColor)
	if err != nil {
		return core.Transaction{}, err
	}
	d, err := core.ParseDate(date)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("stored date %q: %w", date, err)
	}
	t.Amount = core.MoneyFromCents(cents)
	t.Type = core.TransactionType(typ)
	t.Status = core.TransactionStatus(status)
	t.Date = d
	if receipt.Valid && receipt.String != "" {
		t.ReceiptData = json.RawMessage(receipt.String)
	}
	t.CreatedAt = parseTime(created)
	t.UpdatedAt = parseTime(updated)
	return t, nil
}

func receiptValue(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func (q *queries) InsertTransaction(ctx context.Context, t core.Transaction) error {
	amount, err := minorUnits("amount", t.Amount)
	if err != nil {
		return err
	}
	_, err = q.db.ExecContext(ctx,
		`INSERT INTO transactions (id, user_id, account_id, category_id, amount_cents, type, status, date,
		  description, notes, receipt_ref, receipt_data, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.AccountID, t.CategoryID, amount, string(t.Type), string(t.Status), t.Date.String(),
		t.Description, t.Notes, t.ReceiptRef, receiptValue(t.ReceiptData), formatTime(t.CreatedAt), formatTime(t.UpdatedAt))
	if isConstraint(err, sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY) {
		return core.NotFound("account or category", "")
	}
	return core.Storage("insert transaction", err)
}

func (q *queries) GetTransaction(ctx context.Context, userID, id string) (core.Transaction, error) {
	t, err := scanTransaction(q.db.QueryRowContext(ctx,
		transactionSelect+` WHERE t.id = ? AND t.user_id = ?`, id, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, core.NotFound("transaction", id)
	}
	if err != nil {
		return core.Transaction{}, core.Storage("get transaction", err)
	}
	return t, nil
}

func (q *queries) UpdateTransaction(ctx context.Context, t core.Transaction) error {
	amount, err := minorUnits("amount", t.Amount)
	if err != nil {
		return err
	}
	return q.execOwned(ctx, "transaction", t.ID, "update transaction",
		`UPDATE transactions SET account_id = ?, category_id = ?, amount_cents = ?, type = ?, status = ?,
		  date = ?, description = ?, notes = ?, receipt_ref = ?, receipt_data = ?, updated_at = ?
		 WHERE id = ? AND user_id = ?`,
		t.AccountID, t.CategoryID, amount, string(t.Type), string(t.Status),
		t.Date.String(), t.Description, t.Notes, t.ReceiptRef, receiptValue(t.ReceiptData), formatTime(t.UpdatedAt),
		t.ID, t.UserID)
}

func (q *queries) DeleteTransaction(ctx context.Context, userID, id string) error {
	return q.execOwned(ctx, "transaction", id, "delete transaction",
		`DELETE FROM transactions WHERE id = ? AND user_id = ?`, id, userID)
}

// where renders the filter as a WHERE clause over alias t.
func where(userID string, f ledger.Filter) (string, []any) {
	conds := []string{"t.user_id = ?"}
	args := []any{userID}
	if f.Range.Start != nil {
		conds = append(conds, "t.date >= ?")
		args = append(args, f.Range.Start.String())
	}
	if f.Range.End != nil {
		conds = append(conds, "t.date <= ?")
		args = append(args, f.Range.End.String())
	}
	if f.Policy == core.StatusPolicyCleared {
		conds = append(conds, "t.status = ?")
		args = append(args, string(core.Cleared))
	}
	if f.Type != "" {
		conds = append(conds, "t.type = ?")
		args = append(args, string(f.Type))
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (q *queries) ListTransactions(ctx context.Context, userID string, f ledger.Filter) ([]core.Transaction, error) {
	clause, args := where(userID, f)
	limit := -1
	if f.Limit > 0 {
		limit = f.Limit
	}
	args = append(args, limit, max(f.Offset, 0))

	rows, err := q.db.QueryContext(ctx,
		transactionSelect+clause+` ORDER BY t.date DESC, t.seq ASC LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, core.Storage("list transactions", err)
	}
	defer rows.Close()

	out := []core.Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, core.Storage("scan transaction", err)
		}
		out = append(out, t)
	}
	return out, core.Storage("list transactions", rows.Err())
}

func (q *queries) CountTransactions(ctx context.Context, userID string, f ledger.Filter) (int, error) {
	clause, args := where(userID, f)
	var n int
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions t`+clause, args...).Scan(&n); err != nil {
		return 0, core.Storage("count transactions", err)
	}
	return n, nil
}

// ---- aggregates ----

func (q *queries) SumByType(ctx context.Context, userID string, f ledger.Filter) (core.Money, core.Money, error) {
	clause, args := where(userID, f)
	var income, expenses int64
	err := q.db.QueryRowContext(ctx,
		`SELECT
		   COALESCE(SUM(CASE WHEN t.type = 'INCOME' THEN t.amount_cents END), 0),
		   COALESCE(SUM(CASE WHEN t.type = 'EXPENSE' THEN t.amount_cents END), 0)
		 FROM transactions t`+clause, args...).Scan(&income, &expenses)
	if err != nil {
		return core.Money{}, core.Money{}, core.Storage("sum transactions", err)
	}
	return core.MoneyFromCents(income), core.MoneyFromCents(expenses), nil
}

func (q *queries) SumExpensesByCategory(ctx context.Context, userID string, f ledger.Filter) ([]core.CategoryTotal, error) {
	f.Type = core.Expense
	clause, args := where(userID, f)
	rows, err := q.db.QueryContext(ctx,
		`SELECT c.id, c.name, c.icon, c.color, SUM(t.amount_cents), COUNT(*)
		 FROM transactions t JOIN categories c ON c.id = t.category_id`+clause+
			` GROUP BY c.id, c.name, c.icon, c.color`, args...)
	if err != nil {
		return nil, core.Storage("sum by category", err)
	}
	defer rows.Close()

	var out []core.CategoryTotal
	for rows.Next() {
		var row core.CategoryTotal
		var cents int64
		if err := rows.Scan(&row.CategoryID, &row.Name, &row.Icon, &row.Color, &cents, &row.Count); err != nil {
			return nil, core.Storage("scan category total", err)
		}
		row.Total = core.MoneyFromCents(cents)
		out = append(out, row)
	}
	return out, core.Storage("sum by category", rows.Err())
}

func (q *queries) ClearedBalances(ctx context.Context, userID string) (map[string]core.Money, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT a.id, COALESCE(SUM(CASE
		     WHEN t.status = 'CLEARED' AND t.type = 'INCOME' THEN t.amount_cents
		     WHEN t.status = 'CLEARED' AND t.type = 'EXPENSE' THEN -t.amount_cents
		   END), 0)
		 FROM accounts a LEFT JOIN transactions t ON t.account_id = a.id
		 WHERE a.user_id = ?
		 GROUP BY a.id`, userID)
	if err != nil {
		return nil, core.Storage("cleared balances", err)
	}
	defer rows.Close()

	out := map[string]core.Money{}
	for rows.Next() {
		var id string
		var cents int64
		if err := rows.Scan(&id, &cents); err != nil {
			return nil, core.Storage("scan cleared balance", err)
		}
		out[id] = core.MoneyFromCents(cents)
	}
	return out, core.Storage("cleared balances", rows.Err())
}
