package core

import (
	"encoding/json"
	"strings"
	"time"
)

const (
	Income  TransactionType = "INCOME"
	Expense TransactionType = "EXPENSE"
)

const (
	Cleared   TransactionStatus = "CLEARED"
	Pending   TransactionStatus = "PENDING"
	Cancelled TransactionStatus = "CANCELLED"
)

const (
	maxNameLength        = 100
	maxDescriptionLength = 500
)

type (
	TransactionType   string
	TransactionStatus string

	// Identity is what the identity provider tells us about a caller.
	Identity struct {
		Ref         string
		Email       string
		DisplayName string
	}

	User struct {
		ID          string
		IdentityRef string
		Email       string
		DisplayName string
		CreatedAt   time.Time
		Accounts    []Account
		Categories  []Category
	}

	// Account balance always equals the signed sum of its cleared transactions.
	Account struct {
		ID        string
		UserID    string
		Name      string
		Kind      string // savings, checking, credit, ...
		Balance   Money
		Currency  string
		IsActive  bool
		CreatedAt time.Time
	}

	Category struct {
		ID        string
		UserID    string
		Name      string
		Icon      string
		Color     string
		CreatedAt time.Time
	}

	Transaction struct {
		ID          string
		UserID      string
		AccountID   string
		CategoryID  string
		Amount      Money
		Type        TransactionType
		Status      TransactionStatus
		Date        Date
		Description string
		Notes       string
		ReceiptRef  string
		ReceiptData json.RawMessage
		CreatedAt   time.Time
		UpdatedAt   time.Time

		// Display data resolved on read.
		AccountName   string
		AccountKind   string
		CategoryName  string
		CategoryIcon  string
		CategoryColor string
	}
)

// ParseTransactionType accepts any casing of income/expense.
func ParseTransactionType(s string) (TransactionType, error) {
	switch TransactionType(strings.ToUpper(strings.TrimSpace(s))) {
	case Income:
		return Income, nil
	case Expense:
		return Expense, nil
	}
	return "", Validation("type", "type must be income or expense")
}

func (t TransactionType) Valid() bool {
	return t == Income || t == Expense
}

// Label is the display form, e.g. "Income".
func (t TransactionType) Label() string {
	return titleCase(string(t))
}

// ParseTransactionStatus accepts any casing of cleared/pending/cancelled.
func ParseTransactionStatus(s string) (TransactionStatus, error) {
	switch TransactionStatus(strings.ToUpper(strings.TrimSpace(s))) {
	case Cleared:
		return Cleared, nil
	case Pending:
		return Pending, nil
	case Cancelled:
		return Cancelled, nil
	}
	return "", Validation("status", "status must be cleared, pending or cancelled")
}

func (s TransactionStatus) Valid() bool {
	return s == Cleared || s == Pending || s == Cancelled
}

func (s TransactionStatus) Label() string {
	return titleCase(string(s))
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	lower := strings.ToLower(s)
	return strings.ToUpper(lower[:1]) + lower[1:]
}

// SignedDelta is the balance contribution of an amount of the given type.
func SignedDelta(t TransactionType, amount Money) Money {
	if t == Expense {
		return amount.Neg()
	}
	return amount
}

// BalanceEffect is what this transaction contributes to its account
// balance. Only cleared transactions count.
func (t Transaction) BalanceEffect() Money {
	if t.Status != Cleared {
		return Money{}
	}
	return SignedDelta(t.Type, t.Amount)
}

func (t Transaction) Validate() error {
	if !t.Amount.IsPositive() {
		return Validation("amount", "amount must be greater than zero")
	}
	if t.Amount.Cmp(MaxAmount) > 0 {
		return Validation("amount", "amount must not exceed "+MaxAmount.String())
	}
	if !t.Type.Valid() {
		return Validation("type", "type must be income or expense")
	}
	if !t.Status.Valid() {
		return Validation("status", "status must be cleared, pending or cancelled")
	}
	if err := t.Date.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(t.AccountID) == "" {
		return Validation("account", "account is required")
	}
	if strings.TrimSpace(t.CategoryID) == "" {
		return Validation("category", "category is required")
	}
	if len(t.Description) > maxDescriptionLength {
		return Validation("description", "description too long (max 500 characters)")
	}
	if len(t.Notes) > maxDescriptionLength {
		return Validation("notes", "notes too long (max 500 characters)")
	}
	if len(t.ReceiptData) > 0 && !json.Valid(t.ReceiptData) {
		return Validation("receiptData", "receipt data must be valid JSON")
	}
	return nil
}

func (a Account) Validate() error {
	if err := validateName("account", a.Name); err != nil {
		return err
	}
	if strings.TrimSpace(a.Kind) == "" {
		return Validation("kind", "account kind is required")
	}
	return nil
}

func (c Category) Validate() error {
	return validateName("category", c.Name)
}

func validateName(entity, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return Validation("name", entity+" name is required")
	}
	if len(name) > maxNameLength {
		return Validation("name", entity+" name too long (max 100 characters)")
	}
	return nil
}

func (i Identity) Validate() error {
	if strings.TrimSpace(i.Ref) == "" {
		return Auth("missing caller identity")
	}
	return nil
}
