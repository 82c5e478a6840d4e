// internal/catalog/service.go
package catalog

import (
	"context"

	"github.com/google/uuid"
)

// Service defines the interface for the catalog service.
type Service interface {
	AddBook(ctx context.Context, book NewBook) (*Book, error)
	GetBook(ctx context.Context, id uuid.UUID) (*Book, error)
	GetBookByISBN(ctx context.Context, isbn string) (*Book, error)
	ListBooks(ctx context.Context) ([]*Book, error)
	Search(ctx context.Context, query string) ([]*Book, error)
	UpdateBook(ctx context.Context, id uuid.UUID, upd BookUpdate) (*Book, error)
	RemoveBook(ctx context.Context, id uuid.UUID) error
	MarkAvailable(ctx context.Context, id uuid.UUID) error
	MarkUnavailable(ctx context.Context, id uuid.UUID) error
}
