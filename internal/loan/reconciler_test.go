package loan_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loandesk/internal/loan"
	"loandesk/internal/testutil"
)

// flakyStore fails MarkOverdue for one loan.
type flakyStore struct {
	*testutil.Loans
	failID uuid.UUID
}

func (s *flakyStore) MarkOverdue(ctx context.Context, id uuid.UUID, today time.Time) (bool, error) {
	if id == s.failID {
		return false, errors.New("lock timeout")
	}
	return s.Loans.MarkOverdue(ctx, id, today)
}

func TestReconcileContinuesPastFailures(t *testing.T) {
	today := testutil.Date(2024, time.May, 10)
	store := &flakyStore{Loans: testutil.NewLoans()}
	borrower := uuid.New()
	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		l := store.Put(loan.Loan{
			BorrowerID: borrower,
			BookID:     uuid.New(),
			LoanDate:   loan.AddDays(today, -20),
			DueDate:    loan.AddDays(today, -6+i),
			Status:     loan.StatusActive,
		})
		ids = append(ids, l.ID)
	}
	store.failID = ids[1]

	r := loan.NewReconciler(store, nil, nil)
	updated, err := r.ReconcileAll(context.Background(), today)
	assert.Equal(t, 2, updated)
	require.Error(t, err)
	assert.ErrorContains(t, err, ids[1].String())

	store.failID = uuid.Nil
	updated, err = r.ReconcileForBorrower(context.Background(), borrower, today)
	require.NoError(t, err)
	assert.Equal(t, 1, updated)
}

func TestReconcileSkipsLoansNotYetDue(t *testing.T) {
	today := testutil.Date(2024, time.May, 10)
	store := testutil.NewLoans()
	store.Put(loan.Loan{BorrowerID: uuid.New(), BookID: uuid.New(), LoanDate: today, DueDate: today, Status: loan.StatusActive})
	returnDay := loan.AddDays(today, -1)
	store.Put(loan.Loan{BorrowerID: uuid.New(), BookID: uuid.New(), LoanDate: loan.AddDays(today, -30), DueDate: loan.AddDays(today, -16), ReturnDate: &returnDay, Status: loan.StatusReturned})

	updated, err := loan.NewReconciler(store, nil, nil).ReconcileAll(context.Background(), today)
	require.NoError(t, err)
	assert.Zero(t, updated)
}
