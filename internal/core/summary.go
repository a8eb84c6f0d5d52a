package core

import (
	"sort"
	"strings"
)

const (
	// StatusPolicyAll counts every transaction regardless of status.
	StatusPolicyAll StatusPolicy = "all"
	// StatusPolicyCleared counts only cleared transactions.
	StatusPolicyCleared StatusPolicy = "cleared"
)

// StatusPolicy selects which transactions an aggregation considers.
type StatusPolicy string

func ParseStatusPolicy(s string) (StatusPolicy, error) {
	switch StatusPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", StatusPolicyAll:
		return StatusPolicyAll, nil
	case StatusPolicyCleared:
		return StatusPolicyCleared, nil
	}
	return "", Validation("status", "status policy must be all or cleared")
}

// Includes reports whether a transaction with status s is counted.
func (p StatusPolicy) Includes(s TransactionStatus) bool {
	if p == StatusPolicyCleared {
		return s == Cleared
	}
	return true
}

// DateRange is inclusive on both ends; a nil bound is open.
type DateRange struct {
	Start *Date
	End   *Date
}

func (r DateRange) Validate() error {
	if r.Start != nil && r.End != nil && r.End.Before(*r.Start) {
		return Validation("endDate", "endDate must not be before startDate")
	}
	return nil
}

func (r DateRange) Contains(d Date) bool {
	if r.Start != nil && d.Before(*r.Start) {
		return false
	}
	if r.End != nil && d.After(*r.End) {
		return false
	}
	return true
}

// Key is a stable string form used for cache keys.
func (r DateRange) Key() string {
	var start, end string
	if r.Start != nil {
		start = r.Start.String()
	}
	if r.End != nil {
		end = r.End.String()
	}
	return start + ".." + end
}

// Summary is the cashflow over a range.
type Summary struct {
	TotalIncome   Money
	TotalExpenses Money
	NetCashflow   Money
	SavingsRate   float64
}

// NewSummary derives net cashflow and savings rate from the two totals.
// Savings rate is 0 when there is no income.
func NewSummary(income, expenses Money) Summary {
	net := income.Sub(expenses)
	rate := 0.0
	if income.IsPositive() {
		rate = net.Ratio(income)
	}
	return Summary{
		TotalIncome:   income,
		TotalExpenses: expenses,
		NetCashflow:   net,
		SavingsRate:   rate,
	}
}

// CategoryTotal is one row of the expense breakdown.
type CategoryTotal struct {
	CategoryID string
	Name       string
	Icon       string
	Color      string
	Total      Money
	Count      int
	Percent    float64 // share of total expenses, 0..1
}

// RankCategories sorts rows by total descending (name breaks ties) and
// fills in each row's share of the combined total.
func RankCategories(rows []CategoryTotal) []CategoryTotal {
	out := make([]CategoryTotal, len(rows))
	copy(out, rows)

	var all Money
	for _, r := range out {
		all = all.Add(r.Total)
	}
	for i := range out {
		out[i].Percent = out[i].Total.Ratio(all)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if c := out[i].Total.Cmp(out[j].Total); c != 0 {
			return c > 0
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// AccountBalance is one row of a balance report.
type AccountBalance struct {
	AccountID string
	Name      string
	Kind      string
	Currency  string
	Balance   Money
}

// BalanceReport lists active account balances and their total.
type BalanceReport struct {
	Accounts           []AccountBalance
	TotalBalance       Money
	MonthlyExpenditure *Money
}

// BalanceDrift records a reconciliation correction.
type BalanceDrift struct {
	AccountID string
	Name      string
	Stored    Money
	Computed  Money
}

func (d BalanceDrift) Drifted() bool {
	return !d.Stored.Equal(d.Computed)
}
