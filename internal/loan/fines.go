package loan

import (
	"time"

	"github.com/shopspring/decimal"
)

// FineCalculator prices overdue days under a Policy.
type FineCalculator struct {
	policy Policy
}

// NewFineCalculator returns a calculator for the given policy.
func NewFineCalculator(policy Policy) FineCalculator {
	return FineCalculator{policy: policy}
}

// CalculateFine returns the fine owed for l on today: nothing up to and
// including the due date, then DailyFine per day, never more than FineCap.
func (c FineCalculator) CalculateFine(l *Loan, today time.Time) decimal.Decimal {
	days := DaysBetween(l.DueDate, today)
	if days <= 0 {
		return decimal.Zero
	}
	amount := c.policy.DailyFine.Mul(decimal.NewFromInt(int64(days)))
	if amount.GreaterThan(c.policy.FineCap) {
		return c.policy.FineCap
	}
	return amount
}

// Total sums the fines of the open loans in loans. Returned loans are
// settled and contribute nothing.
func (c FineCalculator) Total(loans []*Loan, today time.Time) decimal.Decimal {
	total := decimal.Zero
	for _, l := range loans {
		if !l.Status.Open() {
			continue
		}
		total = total.Add(c.CalculateFine(l, today))
	}
	return total
}
