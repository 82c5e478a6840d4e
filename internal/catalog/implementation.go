// internal/catalog/implementation.go
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const bookColumns = `id, isbn, title, author, category, published_year, available, version, created_at, updated_at`

// service implements the Service interface.
type service struct {
	db     *sqlx.DB
	tracer trace.Tracer
}

// NewService creates a new catalog service instance.
func NewService(db *sqlx.DB) Service {
	return &service{
		db:     db,
		tracer: otel.Tracer("loandesk/catalog"),
	}
}

// AddBook creates a new, available book in the catalog.
func (s *service) AddBook(ctx context.Context, nb NewBook) (*Book, error) {
	if err := nb.Validate(); err != nil {
		return nil, err
	}

	book := &Book{}
	query := `
		INSERT INTO books (id, isbn, title, author, category, published_year, available, version)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE, 1)
		RETURNING ` + bookColumns
	err := s.db.GetContext(ctx, book, query, uuid.New(), nb.ISBN, nb.Title, nb.Author, nb.Category, nb.PublishedYear)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil, ErrDuplicateISBN
		}
		return nil, fmt.Errorf("insert book: %w", err)
	}
	return book, nil
}

// GetBook retrieves a book by its ID.
func (s *service) GetBook(ctx context.Context, id uuid.UUID) (*Book, error) {
	return s.getBook(ctx, `SELECT `+bookColumns+` FROM books WHERE id = $1 AND retired_at IS NULL`, id)
}

// GetBookByISBN retrieves a book by its ISBN.
func (s *service) GetBookByISBN(ctx context.Context, isbn string) (*Book, error) {
	return s.getBook(ctx, `SELECT `+bookColumns+` FROM books WHERE isbn = $1 AND retired_at IS NULL`, isbn)
}

func (s *service) getBook(ctx context.Context, query string, arg any) (*Book, error) {
	book := &Book{}
	if err := s.db.GetContext(ctx, book, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBookNotFound
		}
		return nil, fmt.Errorf("get book: %w", err)
	}
	return book, nil
}

// ListBooks returns the whole catalog ordered by title.
func (s *service) ListBooks(ctx context.Context) ([]*Book, error) {
	var books []*Book
	if err := s.db.SelectContext(ctx, &books, `SELECT `+bookColumns+` FROM books WHERE retired_at IS NULL ORDER BY title`); err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	return books, nil
}

// Search finds books whose title, author or ISBN contain query.
func (s *service) Search(ctx context.Context, query string) ([]*Book, error) {
	pattern := "%" + strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(query) + "%"
	var books []*Book
	err := s.db.SelectContext(ctx, &books, `
		SELECT `+bookColumns+`
		FROM books
		WHERE retired_at IS NULL AND (title ILIKE $1 OR author ILIKE $1 OR isbn ILIKE $1)
		ORDER BY title
		LIMIT 50
	`, pattern)
	if err != nil {
		return nil, fmt.Errorf("search books: %w", err)
	}
	return books, nil
}

// UpdateBook replaces the descriptive fields of a book. The write is
// conditional on the version read first, so a concurrent update fails with
// ErrVersionConflict instead of being overwritten.
func (s *service) UpdateBook(ctx context.Context, id uuid.UUID, upd BookUpdate) (*Book, error) {
	ctx, span := s.tracer.Start(ctx, "catalog.update_book",
		trace.WithAttributes(attribute.String("book.id", id.String())),
	)
	defer span.End()

	if err := upd.Validate(); err != nil {
		return nil, err
	}
	book, err := s.GetBook(ctx, id)
	if err != nil {
		return nil, err
	}
	if upd.Version != 0 && upd.Version != book.Version {
		span.SetAttributes(attribute.Bool("conflict.detected", true))
		return nil, ErrVersionConflict
	}

	updated := &Book{}
	query := `
		UPDATE books
		SET isbn = $1, title = $2, author = $3, category = $4, published_year = $5,
			version = version + 1, updated_at = NOW()
		WHERE id = $6 AND version = $7 AND retired_at IS NULL
		RETURNING ` + bookColumns
	err = s.db.GetContext(ctx, updated, query,
		upd.ISBN, upd.Title, upd.Author, upd.Category, upd.PublishedYear, id, book.Version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			span.SetAttributes(attribute.Bool("conflict.detected", true))
			return nil, ErrVersionConflict
		}
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil, ErrDuplicateISBN
		}
		return nil, fmt.Errorf("update book: %w", err)
	}
	return updated, nil
}

// RemoveBook retires a book. Retired books drop out of every lookup but
// keep their row, so past loans still reference them. Only a book on the
// shelf with no open loan can be retired; the availability check makes a
// checkout in flight lose against, or win over, the retirement.
func (s *service) RemoveBook(ctx context.Context, id uuid.UUID) error {
	ctx, span := s.tracer.Start(ctx, "catalog.remove_book",
		trace.WithAttributes(attribute.String("book.id", id.String())),
	)
	defer span.End()

	res, err := s.db.ExecContext(ctx, `
		UPDATE books
		SET retired_at = NOW(), available = FALSE, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND retired_at IS NULL AND available = TRUE
			AND NOT EXISTS (
				SELECT 1 FROM loans
				WHERE book_id = $1 AND status IN ('ACTIVE', 'OVERDUE', 'BORROWED')
			)
	`, id)
	if err != nil {
		return fmt.Errorf("retire book: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}
	if _, err := s.GetBook(ctx, id); err != nil {
		return err
	}
	return ErrBookOnLoan
}

// MarkUnavailable takes the book off the shelf. The update only matches an
// available book, so of two concurrent callers exactly one succeeds and the
// other gets ErrBookUnavailable.
func (s *service) MarkUnavailable(ctx context.Context, id uuid.UUID) error {
	ctx, span := s.tracer.Start(ctx, "catalog.mark_unavailable",
		trace.WithAttributes(attribute.String("book.id", id.String())),
	)
	defer span.End()

	res, err := s.db.ExecContext(ctx, `
		UPDATE books
		SET available = FALSE, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND available = TRUE AND retired_at IS NULL
	`, id)
	if err != nil {
		return fmt.Errorf("update book availability: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}
	if _, err := s.GetBook(ctx, id); err != nil {
		return err
	}
	span.SetAttributes(attribute.Bool("conflict.detected", true))
	return ErrBookUnavailable
}

// MarkAvailable puts the book back on the shelf. Calling it on an
// available book is a no-op.
func (s *service) MarkAvailable(ctx context.Context, id uuid.UUID) error {
	ctx, span := s.tracer.Start(ctx, "catalog.mark_available",
		trace.WithAttributes(attribute.String("book.id", id.String())),
	)
	defer span.End()

	res, err := s.db.ExecContext(ctx, `
		UPDATE books
		SET available = TRUE, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND available = FALSE AND retired_at IS NULL
	`, id)
	if err != nil {
		return fmt.Errorf("update book availability: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		if _, err := s.GetBook(ctx, id); err != nil {
			return err
		}
	}
	return nil
}
