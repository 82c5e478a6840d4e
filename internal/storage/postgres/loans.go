package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"loandesk/internal/loan"
)

// legacyBorrowed is an old label for ACTIVE still present in some rows.
const legacyBorrowed = "BORROWED"

const loanColumns = `id, borrower_id, book_id, loan_date, due_date, return_date, status, renewal_count, version`

// loanRow is the stored shape of a loan. Its status is kept as the raw
// label so legacy values can be mapped on the way out.
type loanRow struct {
	ID           uuid.UUID  `db:"id"`
	BorrowerID   uuid.UUID  `db:"borrower_id"`
	BookID       uuid.UUID  `db:"book_id"`
	LoanDate     time.Time  `db:"loan_date"`
	DueDate      time.Time  `db:"due_date"`
	ReturnDate   *time.Time `db:"return_date"`
	Status       string     `db:"status"`
	RenewalCount int        `db:"renewal_count"`
	Version      int        `db:"version"`
}

func (r loanRow) toLoan() *loan.Loan {
	l := &loan.Loan{
		ID:           r.ID,
		BorrowerID:   r.BorrowerID,
		BookID:       r.BookID,
		LoanDate:     loan.Day(r.LoanDate),
		DueDate:      loan.Day(r.DueDate),
		Status:       normalizeStatus(r.Status),
		RenewalCount: r.RenewalCount,
		Version:      r.Version,
	}
	if r.ReturnDate != nil {
		d := loan.Day(*r.ReturnDate)
		l.ReturnDate = &d
	}
	return l
}

// sqlDate renders a calendar day as a DATE literal so the session time
// zone cannot shift it.
func sqlDate(t time.Time) string {
	return loan.Day(t).Format(time.DateOnly)
}

func sqlDateOrNull(t *time.Time) any {
	if t == nil {
		return nil
	}
	return sqlDate(*t)
}

func normalizeStatus(label string) loan.Status {
	if label == legacyBorrowed {
		return loan.StatusActive
	}
	return loan.Status(label)
}

// statusLabels lists the stored labels that mean status.
func statusLabels(statuses ...loan.Status) pq.StringArray {
	labels := make(pq.StringArray, 0, len(statuses)+1)
	for _, s := range statuses {
		labels = append(labels, string(s))
		if s == loan.StatusActive {
			labels = append(labels, legacyBorrowed)
		}
	}
	return labels
}

// LoanStore implements loan.Store on Postgres.
type LoanStore struct {
	db     *sqlx.DB
	tracer trace.Tracer
}

// NewLoanStore creates a loan store on db.
func NewLoanStore(db *sqlx.DB) *LoanStore {
	return &LoanStore{
		db:     db,
		tracer: otel.Tracer("loandesk/storage/postgres"),
	}
}

// Save inserts a new loan or updates an existing one if its version still
// matches.
func (s *LoanStore) Save(ctx context.Context, l *loan.Loan) (*loan.Loan, error) {
	ctx, span := s.tracer.Start(ctx, "loans.save",
		trace.WithAttributes(
			attribute.String("loan.id", l.ID.String()),
			attribute.Int("expected.version", l.Version),
		),
	)
	defer span.End()

	if l.Version == 0 {
		return s.insert(ctx, l)
	}

	var row loanRow
	err := s.db.GetContext(ctx, &row, `
		UPDATE loans
		SET due_date = $1, return_date = $2, status = $3, renewal_count = $4,
		    version = version + 1, updated_at = NOW()
		WHERE id = $5 AND version = $6
		RETURNING `+loanColumns,
		sqlDate(l.DueDate), sqlDateOrNull(l.ReturnDate), string(l.Status), l.RenewalCount, l.ID, l.Version)
	if errors.Is(err, sql.ErrNoRows) {
		if _, ferr := s.FindByID(ctx, l.ID); ferr != nil {
			return nil, ferr
		}
		span.SetAttributes(attribute.Bool("conflict.detected", true))
		return nil, loan.ErrConcurrencyConflict
	}
	if err != nil {
		return nil, fmt.Errorf("update loan: %w", err)
	}
	return row.toLoan(), nil
}

func (s *LoanStore) insert(ctx context.Context, l *loan.Loan) (*loan.Loan, error) {
	var row loanRow
	err := s.db.GetContext(ctx, &row, `
		INSERT INTO loans (id, borrower_id, book_id, loan_date, due_date, return_date, status, renewal_count, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1)
		RETURNING `+loanColumns,
		l.ID, l.BorrowerID, l.BookID, sqlDate(l.LoanDate), sqlDate(l.DueDate), sqlDateOrNull(l.ReturnDate), string(l.Status), l.RenewalCount)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" && pqErr.Constraint == "loans_one_open_per_book" {
			return nil, loan.ErrBookUnavailable
		}
		return nil, fmt.Errorf("insert loan: %w", err)
	}
	return row.toLoan(), nil
}

// FindByID returns loan.ErrLoanNotFound when there is no such loan.
func (s *LoanStore) FindByID(ctx context.Context, id uuid.UUID) (*loan.Loan, error) {
	var row loanRow
	err := s.db.GetContext(ctx, &row, `SELECT `+loanColumns+` FROM loans WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, loan.ErrLoanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get loan: %w", err)
	}
	return row.toLoan(), nil
}

// DeleteByID removes a loan; deleting a missing loan is not an error.
func (s *LoanStore) DeleteByID(ctx context.Context, id uuid.UUID) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM loans WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete loan: %w", err)
	}
	return nil
}

func (s *LoanStore) FindAll(ctx context.Context) ([]*loan.Loan, error) {
	return s.selectLoans(ctx, `SELECT `+loanColumns+` FROM loans ORDER BY loan_date, id`)
}

func (s *LoanStore) FindByBorrowerID(ctx context.Context, borrowerID uuid.UUID) ([]*loan.Loan, error) {
	return s.selectLoans(ctx, `
		SELECT `+loanColumns+` FROM loans
		WHERE borrower_id = $1
		ORDER BY loan_date, id
	`, borrowerID)
}

func (s *LoanStore) FindByStatus(ctx context.Context, status loan.Status) ([]*loan.Loan, error) {
	return s.selectLoans(ctx, `
		SELECT `+loanColumns+` FROM loans
		WHERE status = ANY($1)
		ORDER BY due_date, id
	`, statusLabels(status))
}

func (s *LoanStore) FindByBorrowerIDAndStatusIn(ctx context.Context, borrowerID uuid.UUID, statuses []loan.Status) ([]*loan.Loan, error) {
	return s.selectLoans(ctx, `
		SELECT `+loanColumns+` FROM loans
		WHERE borrower_id = $1 AND status = ANY($2)
		ORDER BY loan_date, id
	`, borrowerID, statusLabels(statuses...))
}

func (s *LoanStore) CountByBorrowerIDAndStatus(ctx context.Context, borrowerID uuid.UUID, status loan.Status) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM loans WHERE borrower_id = $1 AND status = ANY($2)
	`, borrowerID, statusLabels(status))
	if err != nil {
		return 0, fmt.Errorf("count loans: %w", err)
	}
	return n, nil
}

func (s *LoanStore) CountByBookIDAndStatus(ctx context.Context, bookID uuid.UUID, status loan.Status) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM loans WHERE book_id = $1 AND status = ANY($2)
	`, bookID, statusLabels(status))
	if err != nil {
		return 0, fmt.Errorf("count loans: %w", err)
	}
	return n, nil
}

// MarkOverdue flips a still-active, past-due loan to OVERDUE in a single
// conditional statement.
func (s *LoanStore) MarkOverdue(ctx context.Context, id uuid.UUID, today time.Time) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "loans.mark_overdue",
		trace.WithAttributes(attribute.String("loan.id", id.String())),
	)
	defer span.End()

	res, err := s.db.ExecContext(ctx, `
		UPDATE loans
		SET status = 'OVERDUE', version = version + 1, updated_at = NOW()
		WHERE id = $1 AND status = ANY($2) AND due_date < $3
	`, id, statusLabels(loan.StatusActive), sqlDate(today))
	if err != nil {
		return false, fmt.Errorf("mark loan overdue: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	span.SetAttributes(attribute.Bool("loan.flipped", n == 1))
	return n == 1, nil
}

func (s *LoanStore) selectLoans(ctx context.Context, query string, args ...any) ([]*loan.Loan, error) {
	var rows []loanRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("select loans: %w", err)
	}
	loans := make([]*loan.Loan, 0, len(rows))
	for _, r := range rows {
		loans = append(loans, r.toLoan())
	}
	return loans, nil
}
