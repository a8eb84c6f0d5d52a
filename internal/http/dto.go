package http

import (
	"encoding/json"
	"math"
	"time"

	"fintrack/internal/core"
	"fintrack/internal/services"
)

// Wire types. Transaction type and status use their display labels
// ("Income", "Cleared") on output and accept any casing on input.

type transactionJSON struct {
	ID            string          `json:"id"`
	Date          core.Date       `json:"date"`
	Account       string          `json:"account"`
	AccountID     string          `json:"accountId"`
	Category      string          `json:"category"`
	CategoryID    string          `json:"categoryId"`
	CategoryIcon  string          `json:"categoryIcon,omitempty"`
	CategoryColor string          `json:"categoryColor,omitempty"`
	Type          string          `json:"type"`
	Amount        core.Money      `json:"amount"`
	Status        string          `json:"status"`
	Description   string          `json:"description,omitempty"`
	Notes         string          `json:"notes,omitempty"`
	ReceiptURL    string          `json:"receiptUrl,omitempty"`
	ReceiptData   json.RawMessage `json:"receiptData,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

func toTransactionJSON(t core.Transaction) transactionJSON {
	return transactionJSON{
		ID:            t.ID,
		Date:          t.Date,
		Account:       t.AccountName,
		AccountID:     t.AccountID,
		Category:      t.CategoryName,
		CategoryID:    t.CategoryID,
		CategoryIcon:  t.CategoryIcon,
		CategoryColor: t.CategoryColor,
		Type:          t.Type.Label(),
		Amount:        t.Amount,
		Status:        t.Status.Label(),
		Description:   t.Description,
		Notes:         t.Notes,
		ReceiptURL:    t.ReceiptRef,
		ReceiptData:   t.ReceiptData,
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
	}
}

type transactionListJSON struct {
	Transactions []transactionJSON `json:"transactions"`
	Total        int               `json:"total"`
}

type transactionEnvelope struct {
	Success     bool            `json:"success"`
	Transaction transactionJSON `json:"transaction"`
}

type messageJSON struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// transactionRequest is the body of POST and PUT /api/transactions. Absent
// fields are left untouched by PUT.
type transactionRequest struct {
	Date        *string         `json:"date"`
	Account     *string         `json:"account"`
	Category    *string         `json:"category"`
	Type        *string         `json:"type"`
	Amount      *core.Money     `json:"amount"`
	Status      *string         `json:"status"`
	Description *string         `json:"description"`
	Notes       *string         `json:"notes"`
	ReceiptData json.RawMessage `json:"receiptData"`
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (req transactionRequest) toNew() (services.NewTransaction, error) {
	typ, err := core.ParseTransactionType(deref(req.Type))
	if err != nil {
		return services.NewTransaction{}, err
	}
	date, err := core.ParseDate(deref(req.Date))
	if err != nil {
		return services.NewTransaction{}, err
	}
	in := services.NewTransaction{
		AccountRef:  deref(req.Account),
		CategoryRef: deref(req.Category),
		Type:        typ,
		Date:        date,
		Description: deref(req.Description),
		Notes:       deref(req.Notes),
		ReceiptData: req.ReceiptData,
	}
	if req.Amount != nil {
		in.Amount = *req.Amount
	}
	if req.Status != nil {
		if in.Status, err = core.ParseTransactionStatus(*req.Status); err != nil {
			return services.NewTransaction{}, err
		}
	}
	return in, nil
}

func (req transactionRequest) toPatch() (services.TransactionPatch, error) {
	p := services.TransactionPatch{
		AccountRef:  req.Account,
		CategoryRef: req.Category,
		Amount:      req.Amount,
		Description: req.Description,
		Notes:       req.Notes,
	}
	if req.Type != nil {
		typ, err := core.ParseTransactionType(*req.Type)
		if err != nil {
			return p, err
		}
		p.Type = &typ
	}
	if req.Status != nil {
		status, err := core.ParseTransactionStatus(*req.Status)
		if err != nil {
			return p, err
		}
		p.Status = &status
	}
	if req.Date != nil {
		date, err := core.ParseDate(*req.Date)
		if err != nil {
			return p, err
		}
		p.Date = &date
	}
	return p, nil
}

type summaryJSON struct {
	TotalIncome   core.Money `json:"totalIncome"`
	TotalExpenses core.Money `json:"totalExpenses"`
	NetCashflow   core.Money `json:"netCashflow"`
	SavingsRate   float64    `json:"savingsRate"`
	Policy        string     `json:"statusPolicy"`
}

func toSummaryJSON(s core.Summary, policy core.StatusPolicy) summaryJSON {
	return summaryJSON{
		TotalIncome:   s.TotalIncome,
		TotalExpenses: s.TotalExpenses,
		NetCashflow:   s.NetCashflow,
		SavingsRate:   s.SavingsRate,
		Policy:        string(policy),
	}
}

// categoryTotalJSON carries the expense share twice: PercentOfExpenseTotal
// as a ratio and Percentage scaled to 0-100 for display.
type categoryTotalJSON struct {
	CategoryID            string     `json:"categoryId"`
	Category              string     `json:"category"`
	Icon                  string     `json:"icon,omitempty"`
	Color                 string     `json:"color,omitempty"`
	Total                 core.Money `json:"total"`
	Count                 int        `json:"count"`
	PercentOfExpenseTotal float64    `json:"percentOfExpenseTotal"`
	Percentage            float64    `json:"percentage"`
}

type categoryReportJSON struct {
	Categories   []categoryTotalJSON `json:"categories"`
	TotalExpense core.Money          `json:"totalExpenses"`
	Policy       string              `json:"statusPolicy"`
}

func toCategoryReportJSON(rows []core.CategoryTotal, policy core.StatusPolicy) categoryReportJSON {
	out := categoryReportJSON{Categories: make([]categoryTotalJSON, 0, len(rows)), Policy: string(policy)}
	for _, r := range rows {
		out.TotalExpense = out.TotalExpense.Add(r.Total)
		out.Categories = append(out.Categories, categoryTotalJSON{
			CategoryID:            r.CategoryID,
			Category:              r.Name,
			Icon:                  r.Icon,
			Color:                 r.Color,
			Total:                 r.Total,
			Count:                 r.Count,
			PercentOfExpenseTotal: math.Round(r.Percent*10000) / 10000,
			Percentage:            math.Round(r.Percent*10000) / 100,
		})
	}
	return out
}

type accountJSON struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Kind      string     `json:"type"`
	Balance   core.Money `json:"balance"`
	Currency  string     `json:"currency"`
	IsActive  bool       `json:"isActive"`
	CreatedAt time.Time  `json:"createdAt"`
}

func toAccountJSON(a core.Account) accountJSON {
	return accountJSON{
		ID:        a.ID,
		Name:      a.Name,
		Kind:      a.Kind,
		Balance:   a.Balance,
		Currency:  a.Currency,
		IsActive:  a.IsActive,
		CreatedAt: a.CreatedAt,
	}
}

func toAccountsJSON(accounts []core.Account) []accountJSON {
	out := make([]accountJSON, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, toAccountJSON(a))
	}
	return out
}

type accountRequest struct {
	Name     string `json:"name"`
	Kind     string `json:"type"`
	Currency string `json:"currency"`
}

type categoryJSON struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Icon  string `json:"icon,omitempty"`
	Color string `json:"color,omitempty"`
}

func toCategoriesJSON(categories []core.Category) []categoryJSON {
	out := make([]categoryJSON, 0, len(categories))
	for _, c := range categories {
		out = append(out, categoryJSON{ID: c.ID, Name: c.Name, Icon: c.Icon, Color: c.Color})
	}
	return out
}

type categoryRequest struct {
	Name  string `json:"name"`
	Icon  string `json:"icon"`
	Color string `json:"color"`
}

type userJSON struct {
	ID          string         `json:"id"`
	Email       string         `json:"email,omitempty"`
	DisplayName string         `json:"displayName,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	Accounts    []accountJSON  `json:"accounts"`
	Categories  []categoryJSON `json:"categories"`
}

type accountBalanceJSON struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Kind     string     `json:"type"`
	Currency string     `json:"currency"`
	Balance  core.Money `json:"balance"`
}

type balanceJSON struct {
	TotalBalance       core.Money           `json:"totalBalance"`
	Accounts           []accountBalanceJSON `json:"accounts"`
	MonthlyExpenditure *core.Money          `json:"monthlyExpenditure,omitempty"`
}

func toBalanceJSON(b core.BalanceReport) balanceJSON {
	out := balanceJSON{
		TotalBalance:       b.TotalBalance,
		Accounts:           make([]accountBalanceJSON, 0, len(b.Accounts)),
		MonthlyExpenditure: b.MonthlyExpenditure,
	}
	for _, a := range b.Accounts {
		out.Accounts = append(out.Accounts, accountBalanceJSON{
			ID: a.AccountID, Name: a.Name, Kind: a.Kind, Currency: a.Currency, Balance: a.Balance,
		})
	}
	return out
}

type driftJSON struct {
	AccountID string     `json:"accountId"`
	Name      string     `json:"name"`
	Stored    core.Money `json:"storedBalance"`
	Computed  core.Money `json:"computedBalance"`
}

type reconcileJSON struct {
	Checked    int         `json:"checked"`
	Reconciled int         `json:"reconciled"`
	Drifts     []driftJSON `json:"drifts"`
}

// toReconcileJSON lists only the accounts whose stored balance was wrong.
func toReconcileJSON(drifts []core.BalanceDrift) reconcileJSON {
	out := reconcileJSON{Checked: len(drifts), Drifts: []driftJSON{}}
	for _, d := range drifts {
		if !d.Drifted() {
			continue
		}
		out.Drifts = append(out.Drifts, driftJSON{AccountID: d.AccountID, Name: d.Name, Stored: d.Stored, Computed: d.Computed})
	}
	out.Reconciled = len(out.Drifts)
	return out
}

// scanJSON mirrors the receipt fields the model returned, plus what was
// saved. A parse failure is reported as {error, raw_response}.
type scanJSON struct {
	Receipt     json.RawMessage  `json:"receipt,omitempty"`
	ReceiptURL  string           `json:"receiptUrl,omitempty"`
	Transaction *transactionJSON `json:"transaction,omitempty"`
	Error       string           `json:"error,omitempty"`
	RawResponse string           `json:"raw_response,omitempty"`
}

func toScanJSON(res services.ScanResult) scanJSON {
	out := scanJSON{
		Receipt:     res.Data,
		ReceiptURL:  res.ReceiptRef,
		Error:       res.ParseError,
		RawResponse: res.RawResponse,
	}
	if res.Transaction != nil {
		tx := toTransactionJSON(*res.Transaction)
		out.Transaction = &tx
	}
	return out
}
