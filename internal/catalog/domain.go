// internal/catalog/domain.go
package catalog

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrBookNotFound    = errors.New("book not found")
	ErrBookUnavailable = errors.New("book is unavailable")
	ErrDuplicateISBN   = errors.New("a book with this ISBN already exists")
	ErrInvalidBook     = errors.New("isbn, title and author are required")
	ErrVersionConflict = errors.New("book was changed by another request")
	ErrBookOnLoan      = errors.New("book has an open loan")
)

// Book represents a lendable copy in the catalog.
type Book struct {
	ID            uuid.UUID `json:"id" db:"id"`
	ISBN          string    `json:"isbn" db:"isbn"`
	Title         string    `json:"title" db:"title"`
	Author        string    `json:"author" db:"author"`
	Category      string    `json:"category,omitempty" db:"category"`
	PublishedYear int       `json:"published_year,omitempty" db:"published_year"`
	Available     bool      `json:"available" db:"available"`
	Version       int       `json:"version" db:"version"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// NewBook is the input for adding a book.
type NewBook struct {
	ISBN          string `json:"isbn"`
	Title         string `json:"title"`
	Author        string `json:"author"`
	Category      string `json:"category"`
	PublishedYear int    `json:"published_year"`
}

// Validate checks the required fields.
func (b NewBook) Validate() error {
	if b.ISBN == "" || b.Title == "" || b.Author == "" {
		return ErrInvalidBook
	}
	return nil
}

// BookUpdate replaces a book's descriptive fields. Version must match the
// stored version; zero means the caller accepts whatever is current.
type BookUpdate struct {
	NewBook
	Version int `json:"version"`
}
