package postgres_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loandesk/internal/loan"
	"loandesk/internal/storage/postgres"
	"loandesk/internal/testutil"
)

func newLoan(t *testing.T, db *sqlx.DB, borrower uuid.UUID, status loan.Status) *loan.Loan {
	t.Helper()
	day := testutil.Date(2024, 3, 1)
	l := &loan.Loan{
		ID:         uuid.New(),
		BorrowerID: borrower,
		BookID:     testutil.SeedBook(t, db),
		LoanDate:   day,
		DueDate:    loan.AddDays(day, 14),
		Status:     status,
	}
	if status == loan.StatusReturned {
		l.ReturnDate = &day
	}
	return l
}

func TestLoanStoreSaveAndFind(t *testing.T) {
	db := testutil.OpenDB(t)
	store := postgres.NewLoanStore(db)
	ctx := context.Background()
	borrower := testutil.SeedMember(t, db, "MEMBER")

	l := newLoan(t, db, borrower, loan.StatusActive)
	saved, err := store.Save(ctx, l)
	require.NoError(t, err)
	assert.Equal(t, 1, saved.Version)
	assert.Equal(t, l.DueDate, saved.DueDate)

	saved.RenewalCount = 1
	saved.DueDate = loan.AddDays(saved.DueDate, 14)
	renewed, err := store.Save(ctx, saved)
	require.NoError(t, err)
	assert.Equal(t, 2, renewed.Version)

	got, err := store.FindByID(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.RenewalCount)
	assert.Equal(t, testutil.Date(2024, 3, 29), got.DueDate)

	// The first copy is stale now.
	_, err = store.Save(ctx, saved)
	assert.ErrorIs(t, err, loan.ErrConcurrencyConflict)

	_, err = store.FindByID(ctx, uuid.New())
	assert.ErrorIs(t, err, loan.ErrLoanNotFound)

	mine, err := store.FindByBorrowerID(ctx, borrower)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, l.ID, mine[0].ID)

	require.NoError(t, store.DeleteByID(ctx, l.ID))
	_, err = store.FindByID(ctx, l.ID)
	assert.ErrorIs(t, err, loan.ErrLoanNotFound)
}

func TestLoanStoreOneOpenLoanPerBook(t *testing.T) {
	db := testutil.OpenDB(t)
	store := postgres.NewLoanStore(db)
	ctx := context.Background()

	first := newLoan(t, db, testutil.SeedMember(t, db, "MEMBER"), loan.StatusActive)
	_, err := store.Save(ctx, first)
	require.NoError(t, err)

	second := newLoan(t, db, testutil.SeedMember(t, db, "MEMBER"), loan.StatusActive)
	second.BookID = first.BookID
	_, err = store.Save(ctx, second)
	assert.ErrorIs(t, err, loan.ErrBookUnavailable)
}

func TestLoanStoreCountsAndFilters(t *testing.T) {
	db := testutil.OpenDB(t)
	store := postgres.NewLoanStore(db)
	ctx := context.Background()
	borrower := testutil.SeedMember(t, db, "MEMBER")

	var active *loan.Loan
	for _, status := range []loan.Status{loan.StatusActive, loan.StatusActive, loan.StatusOverdue, loan.StatusReturned} {
		saved, err := store.Save(ctx, newLoan(t, db, borrower, status))
		require.NoError(t, err)
		if status == loan.StatusActive {
			active = saved
		}
	}

	n, err := store.CountByBorrowerIDAndStatus(ctx, borrower, loan.StatusActive)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	open, err := store.FindByBorrowerIDAndStatusIn(ctx, borrower, []loan.Status{loan.StatusActive, loan.StatusOverdue})
	require.NoError(t, err)
	assert.Len(t, open, 3)

	n, err = store.CountByBookIDAndStatus(ctx, active.BookID, loan.StatusActive)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	overdue, err := store.FindByStatus(ctx, loan.StatusOverdue)
	require.NoError(t, err)
	assert.Condition(t, func() bool {
		for _, l := range overdue {
			if l.BorrowerID == borrower {
				return true
			}
		}
		return false
	})
}

func TestLoanStoreLegacyBorrowedStatus(t *testing.T) {
	db := testutil.OpenDB(t)
	store := postgres.NewLoanStore(db)
	ctx := context.Background()
	borrower := testutil.SeedMember(t, db, "MEMBER")
	l := newLoan(t, db, borrower, loan.StatusActive)

	_, err := db.Exec(`
		INSERT INTO loans (id, borrower_id, book_id, loan_date, due_date, status)
		VALUES ($1, $2, $3, $4, $5, 'BORROWED')
	`, l.ID, l.BorrowerID, l.BookID, l.LoanDate.Format(time.DateOnly), l.DueDate.Format(time.DateOnly))
	require.NoError(t, err)

	got, err := store.FindByID(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, loan.StatusActive, got.Status)

	n, err := store.CountByBorrowerIDAndStatus(ctx, borrower, loan.StatusActive)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	flipped, err := store.MarkOverdue(ctx, l.ID, loan.AddDays(l.DueDate, 1))
	require.NoError(t, err)
	assert.True(t, flipped)

	got, err = store.FindByID(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, loan.StatusOverdue, got.Status)
}

func TestLoanStoreMarkOverdueIsConditional(t *testing.T) {
	db := testutil.OpenDB(t)
	store := postgres.NewLoanStore(db)
	ctx := context.Background()
	saved, err := store.Save(ctx, newLoan(t, db, testutil.SeedMember(t, db, "MEMBER"), loan.StatusActive))
	require.NoError(t, err)

	flipped, err := store.MarkOverdue(ctx, saved.ID, saved.DueDate)
	require.NoError(t, err)
	assert.False(t, flipped, "not overdue on the due date itself")

	const workers = 5
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		flips int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.MarkOverdue(ctx, saved.ID, loan.AddDays(saved.DueDate, 1))
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				flips++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, flips)
}
