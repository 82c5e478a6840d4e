// internal/loan/implementation.go
package loan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"loandesk/internal/catalog"
	"loandesk/internal/membership"
)

// Option configures the service.
type Option func(*service)

// WithClock sets the source of "today". Defaults to SystemClock in UTC.
func WithClock(clock Clock) Option {
	return func(s *service) { s.clock = clock }
}

// WithPolicy replaces DefaultPolicy.
func WithPolicy(policy Policy) Option {
	return func(s *service) { s.policy = policy }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *service) { s.logger = logger }
}

// WithRecorder keeps loan history in recorder.
func WithRecorder(recorder Recorder) Option {
	return func(s *service) { s.recorder = recorder }
}

// service implements the Service interface.
type service struct {
	store      Store
	books      BookGateway
	borrowers  BorrowerDirectory
	recorder   Recorder
	clock      Clock
	policy     Policy
	fines      FineCalculator
	reconciler *Reconciler
	logger     *slog.Logger
	tracer     trace.Tracer
}

// NewService creates a new loan service instance.
func NewService(store Store, books BookGateway, borrowers BorrowerDirectory, opts ...Option) Service {
	s := &service{
		store:     store,
		books:     books,
		borrowers: borrowers,
		recorder:  nopRecorder{},
		clock:     SystemClock{},
		policy:    DefaultPolicy(),
		logger:    slog.Default(),
		tracer:    otel.Tracer("loandesk/loan"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.fines = NewFineCalculator(s.policy)
	s.reconciler = NewReconciler(store, s.logger, s.recorder)
	return s
}

// CreateLoan lends a book to a borrower. Rules are checked in a fixed order
// and the first one that fails decides the error.
func (s *service) CreateLoan(ctx context.Context, req CreateLoanRequest) (*Loan, error) {
	ctx, span := s.tracer.Start(ctx, "loan.create",
		trace.WithAttributes(
			attribute.String("borrower.id", req.BorrowerID.String()),
			attribute.String("book.id", req.BookID.String()),
			attribute.String("book.isbn", req.ISBN),
		),
	)
	defer span.End()

	today := s.clock.Today()
	loanDate := today
	if req.LoanDate != nil {
		loanDate = Day(*req.LoanDate)
		earliest := AddDays(today, -s.policy.LoanPeriodDays)
		if loanDate.After(today) || loanDate.Before(earliest) {
			return nil, newError(KindInvalidLoanDate,
				"Cannot create loan: loan date %s must be between %s and %s.",
				loanDate.Format(time.DateOnly), earliest.Format(time.DateOnly), today.Format(time.DateOnly))
		}
	}

	// Step 1: Validate the borrower
	if _, err := s.borrowers.GetMember(ctx, req.BorrowerID); err != nil {
		if errors.Is(err, membership.ErrMemberNotFound) {
			return nil, newError(KindBorrowerNotFound, "Cannot create loan: borrower %s not found.", req.BorrowerID)
		}
		return nil, fmt.Errorf("get borrower: %w", err)
	}

	// Step 2: Find the book and check availability
	book, err := s.findBook(ctx, req)
	if err != nil {
		return nil, err
	}
	if !book.Available {
		return nil, newError(KindBookUnavailable, "Cannot create loan: book %q is currently unavailable.", book.Title)
	}
	open, err := s.openLoansForBook(ctx, book.ID)
	if err != nil {
		return nil, err
	}
	if open > 0 {
		return nil, newError(KindBookUnavailable, "Cannot create loan: book %q is already on loan.", book.Title)
	}

	// Step 3: Bring the borrower's loans up to date before judging them
	if _, err := s.reconciler.ReconcileForBorrower(ctx, req.BorrowerID, today); err != nil {
		return nil, fmt.Errorf("reconcile overdue loans: %w", err)
	}

	// Step 4: Borrowing rules
	overdue, err := s.store.CountByBorrowerIDAndStatus(ctx, req.BorrowerID, StatusOverdue)
	if err != nil {
		return nil, fmt.Errorf("count overdue loans: %w", err)
	}
	if overdue > s.policy.OverdueAllowance {
		return nil, newError(KindOverdueBlock, "Cannot borrow: borrower has %d overdue book(s). Please return them first.", overdue)
	}

	total, err := s.totalFines(ctx, req.BorrowerID, today)
	if err != nil {
		return nil, err
	}
	if total.GreaterThan(s.policy.FineLimit) {
		return nil, newError(KindFineLimitExceeded,
			"Cannot borrow: outstanding fines exceed $%s (total: $%s). Please pay your fines.",
			s.policy.FineLimit.StringFixed(2), total.StringFixed(2))
	}

	active, err := s.store.CountByBorrowerIDAndStatus(ctx, req.BorrowerID, StatusActive)
	if err != nil {
		return nil, fmt.Errorf("count active loans: %w", err)
	}
	if active >= s.policy.MaxActiveLoans {
		return nil, newError(KindLoanLimitExceeded,
			"Cannot borrow: maximum %d active loans allowed per borrower.", s.policy.MaxActiveLoans)
	}

	// Step 5: Take the book (with compensation) and persist the loan
	l := &Loan{
		ID:         uuid.New(),
		BorrowerID: req.BorrowerID,
		BookID:     book.ID,
		LoanDate:   loanDate,
		DueDate:    AddDays(loanDate, s.policy.LoanPeriodDays),
		Status:     StatusActive,
	}

	if err := s.books.MarkUnavailable(ctx, book.ID); err != nil {
		if errors.Is(err, catalog.ErrBookUnavailable) {
			return nil, newError(KindBookUnavailable, "Cannot create loan: book %q is currently unavailable.", book.Title)
		}
		return nil, fmt.Errorf("mark book unavailable: %w", err)
	}

	saved, err := s.store.Save(ctx, l)
	if err != nil {
		// Another open loan holds the book, so it stays unavailable.
		if errors.Is(err, ErrBookUnavailable) {
			return nil, newError(KindBookUnavailable, "Cannot create loan: book %q is already on loan.", book.Title)
		}
		s.releaseBook(ctx, book.ID, "failed loan creation")
		return nil, fmt.Errorf("save loan: %w", err)
	}

	s.record(ctx, saved.ID, EventLoanCreated, LoanCreatedEvent{
		LoanID:     saved.ID,
		BorrowerID: saved.BorrowerID,
		BookID:     saved.BookID,
		LoanDate:   saved.LoanDate,
		DueDate:    saved.DueDate,
	})
	span.SetAttributes(attribute.String("loan.id", saved.ID.String()))
	return saved, nil
}

func (s *service) findBook(ctx context.Context, req CreateLoanRequest) (*catalog.Book, error) {
	var (
		book *catalog.Book
		err  error
		ref  string
	)
	if req.BookID != uuid.Nil {
		ref = req.BookID.String()
		book, err = s.books.GetBook(ctx, req.BookID)
	} else {
		ref = "ISBN " + req.ISBN
		book, err = s.books.GetBookByISBN(ctx, req.ISBN)
	}
	if err != nil {
		if errors.Is(err, catalog.ErrBookNotFound) {
			return nil, newError(KindBookNotFound, "Cannot create loan: book %s not found.", ref)
		}
		return nil, fmt.Errorf("get book: %w", err)
	}
	return book, nil
}

func (s *service) openLoansForBook(ctx context.Context, bookID uuid.UUID) (int, error) {
	open := 0
	for _, status := range []Status{StatusActive, StatusOverdue} {
		n, err := s.store.CountByBookIDAndStatus(ctx, bookID, status)
		if err != nil {
			return 0, fmt.Errorf("count loans for book: %w", err)
		}
		open += n
	}
	return open, nil
}

// RenewLoan pushes the due date of an active loan back by one loan period.
// A loan found past due is marked OVERDUE and stays so even though the
// renewal is refused.
func (s *service) RenewLoan(ctx context.Context, id uuid.UUID) (*Loan, error) {
	ctx, span := s.tracer.Start(ctx, "loan.renew",
		trace.WithAttributes(attribute.String("loan.id", id.String())),
	)
	defer span.End()

	l, err := s.loadLoan(ctx, id, "renew")
	if err != nil {
		return nil, err
	}

	today := s.clock.Today()
	if l.Status.Open() && l.DueDate.Before(today) {
		if l.Status == StatusActive {
			if _, err := s.reconciler.markOverdue(ctx, l, today); err != nil {
				return nil, err
			}
		}
		return nil, newError(KindLoanOverdue,
			"Cannot renew loan %s: loan has been overdue since %s. Please return the book.",
			id, l.DueDate.Format(time.DateOnly))
	}

	if l.Status != StatusActive {
		return nil, newError(KindLoanNotActive,
			"Cannot renew loan %s: only active loans can be renewed. Current status: %s.", id, l.Status)
	}

	if l.RenewalCount >= s.policy.MaxRenewals {
		return nil, newError(KindRenewalLimitExceeded,
			"Cannot renew loan %s: maximum %d renewals allowed.", id, s.policy.MaxRenewals)
	}

	l.DueDate = AddDays(l.DueDate, s.policy.LoanPeriodDays)
	l.RenewalCount++
	saved, err := s.store.Save(ctx, l)
	if err != nil {
		return nil, fmt.Errorf("save loan: %w", err)
	}

	s.record(ctx, saved.ID, EventLoanRenewed, LoanRenewedEvent{
		LoanID:       saved.ID,
		DueDate:      saved.DueDate,
		RenewalCount: saved.RenewalCount,
	})
	return saved, nil
}

// ReturnLoan closes an active or overdue loan and puts the book back on
// the shelf.
func (s *service) ReturnLoan(ctx context.Context, id uuid.UUID) (*Loan, error) {
	ctx, span := s.tracer.Start(ctx, "loan.return",
		trace.WithAttributes(attribute.String("loan.id", id.String())),
	)
	defer span.End()

	l, err := s.loadLoan(ctx, id, "return")
	if err != nil {
		return nil, err
	}
	if !l.Status.Open() {
		return nil, newError(KindLoanNotReturnable,
			"Cannot return loan %s: loan is not active or overdue. Current status: %s.", id, l.Status)
	}

	before := *l
	today := s.clock.Today()
	l.Status = StatusReturned
	l.ReturnDate = &today

	saved, err := s.store.Save(ctx, l)
	if err != nil {
		return nil, fmt.Errorf("save loan: %w", err)
	}

	if err := s.books.MarkAvailable(ctx, saved.BookID); err != nil {
		// Compensation: reopen the loan so it keeps matching the book.
		before.Version = saved.Version
		if _, cerr := s.store.Save(context.WithoutCancel(ctx), &before); cerr != nil {
			s.logger.ErrorContext(ctx, "failed to compensate loan return",
				"loan_id", id, "error", cerr)
		}
		return nil, fmt.Errorf("mark book available: %w", err)
	}

	s.record(ctx, saved.ID, EventLoanReturned, LoanReturnedEvent{
		LoanID:     saved.ID,
		BookID:     saved.BookID,
		ReturnDate: today,
	})
	return saved, nil
}

// DeleteLoan removes a loan record. An open loan gives its book back first.
func (s *service) DeleteLoan(ctx context.Context, id uuid.UUID) error {
	ctx, span := s.tracer.Start(ctx, "loan.delete",
		trace.WithAttributes(attribute.String("loan.id", id.String())),
	)
	defer span.End()

	l, err := s.loadLoan(ctx, id, "delete")
	if err != nil {
		return err
	}

	if l.Status.Open() {
		if err := s.books.MarkAvailable(ctx, l.BookID); err != nil {
			return fmt.Errorf("mark book available: %w", err)
		}
	}

	if err := s.store.DeleteByID(ctx, id); err != nil {
		if l.Status.Open() {
			if cerr := s.books.MarkUnavailable(context.WithoutCancel(ctx), l.BookID); cerr != nil {
				s.logger.ErrorContext(ctx, "failed to compensate book availability",
					"book_id", l.BookID, "loan_id", id, "error", cerr)
			}
		}
		return fmt.Errorf("delete loan: %w", err)
	}

	s.record(ctx, id, EventLoanDeleted, LoanDeletedEvent{
		LoanID:         id,
		BookID:         l.BookID,
		PreviousStatus: l.Status,
	})
	return nil
}

// GetLoan returns a single loan.
func (s *service) GetLoan(ctx context.Context, id uuid.UUID) (*Loan, error) {
	return s.loadLoan(ctx, id, "get")
}

// ListLoans returns every loan.
func (s *service) ListLoans(ctx context.Context) ([]*Loan, error) {
	loans, err := s.store.FindAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list loans: %w", err)
	}
	return loans, nil
}

// LoansForBorrower returns the loans of one borrower, returned ones included.
func (s *service) LoansForBorrower(ctx context.Context, borrowerID uuid.UUID) ([]*Loan, error) {
	loans, err := s.store.FindByBorrowerID(ctx, borrowerID)
	if err != nil {
		return nil, fmt.Errorf("find loans for borrower: %w", err)
	}
	return loans, nil
}

// IsLoanOwner reports whether the loan exists and belongs to borrowerID.
func (s *service) IsLoanOwner(ctx context.Context, loanID, borrowerID uuid.UUID) bool {
	l, err := s.store.FindByID(ctx, loanID)
	if err != nil {
		if !errors.Is(err, ErrLoanNotFound) {
			s.logger.WarnContext(ctx, "ownership lookup failed", "loan_id", loanID, "error", err)
		}
		return false
	}
	return l.BorrowerID == borrowerID
}

// TotalFinesForBorrower sums the fines of the borrower's open loans as of today.
func (s *service) TotalFinesForBorrower(ctx context.Context, borrowerID uuid.UUID) (decimal.Decimal, error) {
	if _, err := s.borrowers.GetMember(ctx, borrowerID); err != nil {
		if errors.Is(err, membership.ErrMemberNotFound) {
			return decimal.Zero, newError(KindBorrowerNotFound, "Borrower %s not found.", borrowerID)
		}
		return decimal.Zero, fmt.Errorf("get borrower: %w", err)
	}
	return s.totalFines(ctx, borrowerID, s.clock.Today())
}

// ReconcileAll runs the overdue sweep for today.
func (s *service) ReconcileAll(ctx context.Context) (int, error) {
	return s.reconciler.ReconcileAll(ctx, s.clock.Today())
}

func (s *service) totalFines(ctx context.Context, borrowerID uuid.UUID, today time.Time) (decimal.Decimal, error) {
	loans, err := s.store.FindByBorrowerIDAndStatusIn(ctx, borrowerID, []Status{StatusActive, StatusOverdue})
	if err != nil {
		return decimal.Zero, fmt.Errorf("find open loans: %w", err)
	}
	return s.fines.Total(loans, today), nil
}

func (s *service) loadLoan(ctx context.Context, id uuid.UUID, action string) (*Loan, error) {
	l, err := s.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrLoanNotFound) {
			return nil, newError(KindLoanNotFound, "Cannot %s loan: loan %s not found.", action, id)
		}
		return nil, fmt.Errorf("find loan: %w", err)
	}
	return l, nil
}

func (s *service) releaseBook(ctx context.Context, bookID uuid.UUID, reason string) {
	s.logger.WarnContext(ctx, "compensating book availability", "book_id", bookID, "reason", reason)
	if err := s.books.MarkAvailable(context.WithoutCancel(ctx), bookID); err != nil {
		s.logger.ErrorContext(ctx, "failed to compensate book availability", "book_id", bookID, "error", err)
	}
}

func (s *service) record(ctx context.Context, loanID uuid.UUID, eventType string, data any) {
	if err := s.recorder.Record(ctx, loanID, eventType, data); err != nil {
		s.logger.WarnContext(ctx, "record loan history", "loan_id", loanID, "event", eventType, "error", err)
	}
}
