package loan_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"loandesk/internal/loan"
	"loandesk/internal/testutil"
)

func TestDayArithmetic(t *testing.T) {
	late := time.Date(2024, time.March, 9, 23, 59, 0, 0, time.FixedZone("CET", 3600))
	assert.Equal(t, testutil.Date(2024, time.March, 9), loan.Day(late))
	assert.Equal(t, testutil.Date(2024, time.March, 23), loan.AddDays(late, 14))

	// Leap day and a DST change in between do not shift the count.
	assert.Equal(t, 14, loan.DaysBetween(testutil.Date(2024, time.February, 25), testutil.Date(2024, time.March, 10)))
	assert.Equal(t, -1, loan.DaysBetween(testutil.Date(2024, time.March, 2), testutil.Date(2024, time.March, 1)))
	assert.Equal(t, 0, loan.DaysBetween(late, testutil.Date(2024, time.March, 9)))
}

func TestSystemClockUsesLocation(t *testing.T) {
	today := loan.SystemClock{Location: time.UTC}.Today()
	assert.Equal(t, loan.Day(time.Now().UTC()), today)
	assert.Equal(t, time.UTC, today.Location())
}

func TestLoanOverdue(t *testing.T) {
	due := testutil.Date(2024, time.June, 1)
	l := &loan.Loan{DueDate: due, Status: loan.StatusActive}

	assert.False(t, l.Overdue(due))
	assert.True(t, l.Overdue(due.Add(25*time.Hour)))

	l.Status = loan.StatusOverdue
	assert.False(t, l.Overdue(due.AddDate(0, 0, 3)), "already overdue loans are not flipped again")
}
