package loan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Reconciler moves active loans whose due date has passed to OVERDUE.
// Running it again for the same day changes nothing.
type Reconciler struct {
	store      Store
	recorder   Recorder
	logger     *slog.Logger
	tracer     trace.Tracer
	reconciled metric.Int64Counter
}

// NewReconciler creates a reconciler over store. A nil recorder keeps no
// history.
func NewReconciler(store Store, logger *slog.Logger, recorder Recorder) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	counter, err := otel.Meter("loandesk/loan").Int64Counter(
		"loandesk.loans.reconciled",
		metric.WithDescription("Loans moved from ACTIVE to OVERDUE"),
	)
	if err != nil {
		logger.Warn("create reconciled counter", "error", err)
	}
	return &Reconciler{
		store:      store,
		recorder:   recorder,
		logger:     logger,
		tracer:     otel.Tracer("loandesk/loan"),
		reconciled: counter,
	}
}

// ReconcileForBorrower brings the loans of one borrower up to date.
func (r *Reconciler) ReconcileForBorrower(ctx context.Context, borrowerID uuid.UUID, today time.Time) (int, error) {
	ctx, span := r.tracer.Start(ctx, "loan.reconcile_borrower",
		trace.WithAttributes(attribute.String("borrower.id", borrowerID.String())),
	)
	defer span.End()

	loans, err := r.store.FindByBorrowerID(ctx, borrowerID)
	if err != nil {
		return 0, fmt.Errorf("find loans for borrower: %w", err)
	}
	updated, err := r.Reconcile(ctx, loans, today)
	span.SetAttributes(attribute.Int("loans.updated", updated))
	return updated, err
}

// ReconcileAll sweeps every active loan. It is safe to run while borrowers
// are creating, renewing and returning loans: each flip is a conditional
// write, so a loan flipped elsewhere is neither flipped nor counted twice.
func (r *Reconciler) ReconcileAll(ctx context.Context, today time.Time) (int, error) {
	ctx, span := r.tracer.Start(ctx, "loan.reconcile_all")
	defer span.End()

	r.logger.InfoContext(ctx, "overdue reconciliation started", "today", today.Format(time.DateOnly))
	loans, err := r.store.FindByStatus(ctx, StatusActive)
	if err != nil {
		return 0, fmt.Errorf("find active loans: %w", err)
	}
	updated, err := r.Reconcile(ctx, loans, today)
	span.SetAttributes(attribute.Int("loans.updated", updated))
	if err != nil {
		span.RecordError(err)
		r.logger.ErrorContext(ctx, "overdue reconciliation finished with errors", "updated", updated, "error", err)
		return updated, err
	}
	r.logger.InfoContext(ctx, "overdue reconciliation completed", "updated", updated)
	return updated, nil
}

// Reconcile flips every loan in loans that is ACTIVE and past due on today.
// Failures on single loans do not stop the others; they are joined into
// the returned error.
func (r *Reconciler) Reconcile(ctx context.Context, loans []*Loan, today time.Time) (int, error) {
	today = Day(today)
	updated := 0
	var errs []error
	for _, l := range loans {
		if !l.Overdue(today) {
			continue
		}
		flipped, err := r.markOverdue(ctx, l, today)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if flipped {
			updated++
		}
	}
	return updated, errors.Join(errs...)
}

func (r *Reconciler) markOverdue(ctx context.Context, l *Loan, today time.Time) (bool, error) {
	flipped, err := r.store.MarkOverdue(ctx, l.ID, today)
	if err != nil {
		return false, fmt.Errorf("mark loan %s overdue: %w", l.ID, err)
	}
	if !flipped {
		return false, nil
	}
	l.Status = StatusOverdue
	if r.reconciled != nil {
		r.reconciled.Add(ctx, 1)
	}
	r.logger.DebugContext(ctx, "loan is now overdue",
		"loan_id", l.ID, "borrower_id", l.BorrowerID, "due_date", l.DueDate.Format(time.DateOnly))
	if err := r.recorder.Record(ctx, l.ID, EventLoanMarkedOverdue, LoanMarkedOverdueEvent{
		LoanID:  l.ID,
		DueDate: l.DueDate,
		AsOf:    today,
	}); err != nil {
		r.logger.WarnContext(ctx, "record loan history", "loan_id", l.ID, "event", EventLoanMarkedOverdue, "error", err)
	}
	return true, nil
}
