package loan_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"loandesk/internal/loan"
)

func TestErrorMatchesByKind(t *testing.T) {
	err := fmt.Errorf("handler: %w", &loan.Error{Kind: loan.KindOverdueBlock, Message: "Cannot borrow: borrower has 2 overdue book(s)."})

	assert.ErrorIs(t, err, loan.ErrOverdueBlock)
	assert.NotErrorIs(t, err, loan.ErrLoanLimitExceeded)
	assert.Equal(t, loan.KindOverdueBlock, loan.KindOf(err))
	assert.Equal(t, "handler: Cannot borrow: borrower has 2 overdue book(s).", err.Error())
}

func TestKindOfPlainError(t *testing.T) {
	assert.Equal(t, loan.Kind(""), loan.KindOf(errors.New("boom")))
	assert.Equal(t, loan.Kind(""), loan.KindOf(loan.ErrConcurrencyConflict))
	assert.Equal(t, loan.Kind(""), loan.KindOf(nil))
}
