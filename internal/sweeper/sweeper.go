// Package sweeper runs the overdue reconciliation once a day.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Reconciler is the maintenance entry point being scheduled.
type Reconciler interface {
	ReconcileAll(ctx context.Context) (int, error)
}

// Sweeper calls ReconcileAll every day at a fixed wall-clock time.
type Sweeper struct {
	target Reconciler
	hour   int
	minute int
	loc    *time.Location
	logger *slog.Logger

	now   func() time.Time
	after func(time.Duration) <-chan time.Time
}

// New schedules target at "HH:MM" in loc.
func New(target Reconciler, at string, loc *time.Location, logger *slog.Logger) (*Sweeper, error) {
	hour, minute, err := ParseTimeOfDay(at)
	if err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Sweeper{
		target: target,
		hour:   hour,
		minute: minute,
		loc:    loc,
		logger: logger,
		now:    time.Now,
		after:  time.After,
	}, nil
}

// ParseTimeOfDay parses "HH:MM" in 24-hour form.
func ParseTimeOfDay(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time of day %q: want HH:MM", s)
	}
	return t.Hour(), t.Minute(), nil
}

// NextRun returns the first instant at hour:minute in loc strictly after now.
func NextRun(now time.Time, hour, minute int, loc *time.Location) time.Time {
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, hour, minute, 0, 0, loc)
	}
	return next
}

// Run blocks until ctx is done, sweeping once per day. A failed sweep is
// logged and retried at the next scheduled time.
func (s *Sweeper) Run(ctx context.Context) error {
	for {
		next := NextRun(s.now(), s.hour, s.minute, s.loc)
		s.logger.InfoContext(ctx, "next overdue sweep scheduled", "at", next)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.after(next.Sub(s.now())):
		}

		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.ErrorContext(ctx, "overdue sweep failed", "error", err)
		}
	}
}

// RunOnce sweeps immediately.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	start := s.now()
	updated, err := s.target.ReconcileAll(ctx)
	s.logger.InfoContext(ctx, "overdue sweep finished",
		"updated", updated, "duration", s.now().Sub(start))
	return updated, err
}
