package testutil

import (
	"sync"
	"time"

	"loandesk/internal/loan"
)

// Clock is a settable loan.Clock for tests.
//
// Thread-safety: all methods are safe for concurrent use.
type Clock struct {
	mu    sync.Mutex
	today time.Time
}

// NewClock creates a clock frozen on the given day.
func NewClock(today time.Time) *Clock {
	return &Clock{today: loan.Day(today)}
}

// Date is shorthand for a calendar day.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// Today returns the frozen day.
func (c *Clock) Today() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.today
}

// Set moves the clock to day.
func (c *Clock) Set(day time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.today = loan.Day(day)
}

// Advance moves the clock forward by n days.
func (c *Clock) Advance(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.today = loan.AddDays(c.today, n)
}
