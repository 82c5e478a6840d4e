package loan

import "time"

// Clock supplies the current calendar day. Everything in this package that
// depends on "today" reads it from a Clock so that results are repeatable.
type Clock interface {
	Today() time.Time
}

// SystemClock reads the wall clock in Location (UTC when nil).
type SystemClock struct {
	Location *time.Location
}

// Today returns the current day in the clock's location, normalised by Day.
func (c SystemClock) Today() time.Time {
	now := time.Now()
	if c.Location != nil {
		now = now.In(c.Location)
	}
	return Day(now)
}

// Day drops the time of day, keeping the calendar date as midnight UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// AddDays moves a day forward (or back) by n calendar days.
func AddDays(day time.Time, n int) time.Time {
	return Day(day).AddDate(0, 0, n)
}

// DaysBetween counts the calendar days from a to b; negative when b is earlier.
func DaysBetween(a, b time.Time) int {
	return int(Day(b).Sub(Day(a)).Hours() / 24)
}
