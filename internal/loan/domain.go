// internal/loan/domain.go
package loan

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a loan.
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusOverdue  Status = "OVERDUE"
	StatusReturned Status = "RETURNED"
)

// Open reports whether the loan still holds its book.
func (s Status) Open() bool {
	return s == StatusActive || s == StatusOverdue
}

// Loan represents one borrowing episode of a book by a borrower.
type Loan struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	BorrowerID   uuid.UUID  `json:"borrower_id" db:"borrower_id"`
	BookID       uuid.UUID  `json:"book_id" db:"book_id"`
	LoanDate     time.Time  `json:"loan_date" db:"loan_date"`
	DueDate      time.Time  `json:"due_date" db:"due_date"`
	ReturnDate   *time.Time `json:"return_date,omitempty" db:"return_date"`
	Status       Status     `json:"status" db:"status"`
	RenewalCount int        `json:"renewal_count" db:"renewal_count"`
	Version      int        `json:"version" db:"version"`
}

// Overdue reports whether an active loan is past its due date on today.
func (l *Loan) Overdue(today time.Time) bool {
	return l.Status == StatusActive && l.DueDate.Before(Day(today))
}

// CreateLoanRequest carries the input of a borrow operation. The book is
// looked up by BookID when set, by ISBN otherwise.
type CreateLoanRequest struct {
	BorrowerID uuid.UUID  `json:"borrower_id"`
	BookID     uuid.UUID  `json:"book_id,omitempty"`
	ISBN       string     `json:"isbn,omitempty"`
	LoanDate   *time.Time `json:"loan_date,omitempty"`
}

// Policy holds the lending rules.
type Policy struct {
	LoanPeriodDays int
	MaxRenewals    int
	MaxActiveLoans int
	// OverdueAllowance is how many overdue loans a borrower may hold and
	// still borrow. Zero blocks on the first one.
	OverdueAllowance int
	FineLimit        decimal.Decimal
	DailyFine        decimal.Decimal
	FineCap          decimal.Decimal
}

// DefaultPolicy is two weeks per period, two renewals, three active loans,
// fifty cents a day capped at twenty, borrowing blocked above ten.
func DefaultPolicy() Policy {
	return Policy{
		LoanPeriodDays: 14,
		MaxRenewals:    2,
		MaxActiveLoans: 3,
		FineLimit:      decimal.NewFromInt(10),
		DailyFine:      decimal.RequireFromString("0.5"),
		FineCap:        decimal.NewFromInt(20),
	}
}

// Event types recorded for a loan.
const (
	EventLoanCreated       = "LoanCreated"
	EventLoanRenewed       = "LoanRenewed"
	EventLoanMarkedOverdue = "LoanMarkedOverdue"
	EventLoanReturned      = "LoanReturned"
	EventLoanDeleted       = "LoanDeleted"
)

// LoanCreatedEvent is recorded when a loan starts.
type LoanCreatedEvent struct {
	LoanID     uuid.UUID `json:"loan_id"`
	BorrowerID uuid.UUID `json:"borrower_id"`
	BookID     uuid.UUID `json:"book_id"`
	LoanDate   time.Time `json:"loan_date"`
	DueDate    time.Time `json:"due_date"`
}

// LoanRenewedEvent is recorded on each successful renewal.
type LoanRenewedEvent struct {
	LoanID       uuid.UUID `json:"loan_id"`
	DueDate      time.Time `json:"due_date"`
	RenewalCount int       `json:"renewal_count"`
}

// LoanMarkedOverdueEvent is recorded when an active loan flips to overdue.
type LoanMarkedOverdueEvent struct {
	LoanID  uuid.UUID `json:"loan_id"`
	DueDate time.Time `json:"due_date"`
	AsOf    time.Time `json:"as_of"`
}

// LoanReturnedEvent is recorded when the book comes back.
type LoanReturnedEvent struct {
	LoanID     uuid.UUID `json:"loan_id"`
	BookID     uuid.UUID `json:"book_id"`
	ReturnDate time.Time `json:"return_date"`
}

// LoanDeletedEvent is recorded when a librarian removes a loan.
type LoanDeletedEvent struct {
	LoanID         uuid.UUID `json:"loan_id"`
	BookID         uuid.UUID `json:"book_id"`
	PreviousStatus Status    `json:"previous_status"`
}
