// Package journal keeps an append-only history of loan events in Postgres.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var ErrConcurrencyConflict = errors.New("concurrency conflict: version mismatch")

// Entry is one recorded event of a loan.
type Entry struct {
	ID        int64             `json:"id" db:"id"`
	LoanID    uuid.UUID         `json:"loan_id" db:"loan_id"`
	EventType string            `json:"event_type" db:"event_type"`
	EventData json.RawMessage   `json:"event_data" db:"event_data"`
	Metadata  map[string]string `json:"metadata,omitempty" db:"-"`
	Version   int               `json:"version" db:"version"`
	CreatedAt time.Time         `json:"created_at" db:"created_at"`
}

// Journal appends and reads loan events.
type Journal struct {
	db     *sqlx.DB
	tracer trace.Tracer
	now    func() time.Time
}

// New creates a journal on db.
func New(db *sqlx.DB) *Journal {
	return &Journal{
		db:     db,
		tracer: otel.Tracer("loandesk/journal"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// maxRecordAttempts bounds how often Record re-reads the version after
// losing against a concurrent append.
const maxRecordAttempts = 8

// Record appends a single event for loanID after the latest one. A
// concurrent append to the same loan makes it retry on the new version.
func (j *Journal) Record(ctx context.Context, loanID uuid.UUID, eventType string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}

	metadata := map[string]string{}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		metadata["trace_id"] = sc.TraceID().String()
	}
	entry := Entry{EventType: eventType, EventData: payload, Metadata: metadata}

	for attempt := 1; ; attempt++ {
		version, err := j.CurrentVersion(ctx, loanID)
		if err != nil {
			return err
		}
		err = j.Append(ctx, loanID, version, []Entry{entry})
		if !errors.Is(err, ErrConcurrencyConflict) || attempt == maxRecordAttempts {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * 5 * time.Millisecond):
		}
	}
}

// Append atomically appends entries with optimistic concurrency control:
// it fails with ErrConcurrencyConflict unless the loan's latest version is
// expectedVersion.
func (j *Journal) Append(ctx context.Context, loanID uuid.UUID, expectedVersion int, entries []Entry) error {
	ctx, span := j.tracer.Start(ctx, "journal.append",
		trace.WithAttributes(
			attribute.String("loan.id", loanID.String()),
			attribute.Int("expected.version", expectedVersion),
			attribute.Int("event.count", len(entries)),
		),
	)
	defer span.End()

	tx, err := j.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var currentVersion int
	err = tx.GetContext(ctx, &currentVersion, `
		SELECT COALESCE(MAX(version), 0)
		FROM loan_events
		WHERE loan_id = $1
	`, loanID)
	if err != nil {
		if isConflict(err) {
			return ErrConcurrencyConflict
		}
		return fmt.Errorf("query current version: %w", err)
	}
	if currentVersion != expectedVersion {
		span.SetAttributes(
			attribute.Int("actual.version", currentVersion),
			attribute.Bool("conflict.detected", true),
		)
		return ErrConcurrencyConflict
	}

	for i, entry := range entries {
		version := expectedVersion + i + 1
		metadataJSON, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO loan_events (loan_id, event_type, event_data, metadata, version, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, loanID, entry.EventType, []byte(entry.EventData), metadataJSON, version, j.now())
		if err != nil {
			if isConflict(err) {
				return ErrConcurrencyConflict
			}
			return fmt.Errorf("insert event %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		if isConflict(err) {
			return ErrConcurrencyConflict
		}
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// isConflict reports a unique violation or a serialization failure, the
// two ways a concurrent append shows up.
func isConflict(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && (pqErr.Code == "23505" || pqErr.Code == "40001")
}

// CurrentVersion returns the latest version recorded for a loan, 0 if none.
func (j *Journal) CurrentVersion(ctx context.Context, loanID uuid.UUID) (int, error) {
	var version int
	err := j.db.GetContext(ctx, &version, `
		SELECT COALESCE(MAX(version), 0)
		FROM loan_events
		WHERE loan_id = $1
	`, loanID)
	if err != nil {
		return 0, fmt.Errorf("query version: %w", err)
	}
	return version, nil
}

// History returns the events of a loan in the order they were recorded.
func (j *Journal) History(ctx context.Context, loanID uuid.UUID) ([]Entry, error) {
	ctx, span := j.tracer.Start(ctx, "journal.history",
		trace.WithAttributes(attribute.String("loan.id", loanID.String())),
	)
	defer span.End()

	rows, err := j.db.QueryxContext(ctx, `
		SELECT id, loan_id, event_type, event_data, metadata, version, created_at
		FROM loan_events
		WHERE loan_id = $1
		ORDER BY version ASC
	`, loanID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			entry        Entry
			data         []byte
			metadataJSON []byte
		)
		if err := rows.Scan(&entry.ID, &entry.LoanID, &entry.EventType, &data, &metadataJSON, &entry.Version, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		entry.EventData = data
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata: %w", err)
			}
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	span.SetAttributes(attribute.Int("events.loaded", len(entries)))
	return entries, nil
}
