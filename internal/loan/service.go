// internal/loan/service.go
package loan

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"loandesk/internal/catalog"
	"loandesk/internal/membership"
)

// Service defines the loan lifecycle operations.
type Service interface {
	CreateLoan(ctx context.Context, req CreateLoanRequest) (*Loan, error)
	RenewLoan(ctx context.Context, id uuid.UUID) (*Loan, error)
	ReturnLoan(ctx context.Context, id uuid.UUID) (*Loan, error)
	DeleteLoan(ctx context.Context, id uuid.UUID) error
	GetLoan(ctx context.Context, id uuid.UUID) (*Loan, error)
	ListLoans(ctx context.Context) ([]*Loan, error)
	LoansForBorrower(ctx context.Context, borrowerID uuid.UUID) ([]*Loan, error)
	IsLoanOwner(ctx context.Context, loanID, borrowerID uuid.UUID) bool
	TotalFinesForBorrower(ctx context.Context, borrowerID uuid.UUID) (decimal.Decimal, error)
	ReconcileAll(ctx context.Context) (int, error)
}

// Store is durable loan storage.
//
// Save inserts a loan whose Version is 0 and otherwise updates it only if
// the stored version still equals loan.Version, returning
// ErrConcurrencyConflict when it does not. FindByID returns ErrLoanNotFound
// for a missing loan. MarkOverdue flips the loan from ACTIVE to OVERDUE only
// if it is still ACTIVE with a due date before today, and reports whether it
// changed anything.
type Store interface {
	Save(ctx context.Context, loan *Loan) (*Loan, error)
	FindByID(ctx context.Context, id uuid.UUID) (*Loan, error)
	DeleteByID(ctx context.Context, id uuid.UUID) error
	FindAll(ctx context.Context) ([]*Loan, error)
	FindByBorrowerID(ctx context.Context, borrowerID uuid.UUID) ([]*Loan, error)
	FindByStatus(ctx context.Context, status Status) ([]*Loan, error)
	CountByBorrowerIDAndStatus(ctx context.Context, borrowerID uuid.UUID, status Status) (int, error)
	FindByBorrowerIDAndStatusIn(ctx context.Context, borrowerID uuid.UUID, statuses []Status) ([]*Loan, error)
	CountByBookIDAndStatus(ctx context.Context, bookID uuid.UUID, status Status) (int, error)
	MarkOverdue(ctx context.Context, id uuid.UUID, today time.Time) (bool, error)
}

// BookGateway reads books and flips their availability.
//
// MarkUnavailable must be an atomic compare-and-set: when the book is
// already unavailable it fails with catalog.ErrBookUnavailable and changes
// nothing, so two borrowers racing for the same copy cannot both win.
// MarkAvailable is idempotent.
type BookGateway interface {
	GetBook(ctx context.Context, id uuid.UUID) (*catalog.Book, error)
	GetBookByISBN(ctx context.Context, isbn string) (*catalog.Book, error)
	MarkAvailable(ctx context.Context, id uuid.UUID) error
	MarkUnavailable(ctx context.Context, id uuid.UUID) error
}

// BorrowerDirectory looks up members allowed to borrow.
type BorrowerDirectory interface {
	GetMember(ctx context.Context, id uuid.UUID) (*membership.Member, error)
}

// Recorder keeps the history of a loan.
type Recorder interface {
	Record(ctx context.Context, loanID uuid.UUID, eventType string, data any) error
}

type nopRecorder struct{}

func (nopRecorder) Record(context.Context, uuid.UUID, string, any) error { return nil }
