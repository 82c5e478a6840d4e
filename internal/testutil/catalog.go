package testutil

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"loandesk/internal/catalog"
)

// Books is an in-memory book gateway with an atomic availability flag.
type Books struct {
	mu    sync.Mutex
	books map[uuid.UUID]catalog.Book

	// MarkAvailableErr, when set, is returned by every MarkAvailable call.
	MarkAvailableErr error
}

// NewBooks creates an empty catalog.
func NewBooks() *Books {
	return &Books{books: make(map[uuid.UUID]catalog.Book)}
}

// Add stores an available book with the given title and returns it.
func (b *Books) Add(title, isbn string) *catalog.Book {
	b.mu.Lock()
	defer b.mu.Unlock()
	book := catalog.Book{
		ID:        uuid.New(),
		ISBN:      isbn,
		Title:     title,
		Author:    "Anonymous",
		Available: true,
		Version:   1,
	}
	b.books[book.ID] = book
	return &book
}

// Available reports the current flag of a book.
func (b *Books) Available(id uuid.UUID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.books[id].Available
}

func (b *Books) GetBook(_ context.Context, id uuid.UUID) (*catalog.Book, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	book, ok := b.books[id]
	if !ok {
		return nil, catalog.ErrBookNotFound
	}
	return &book, nil
}

func (b *Books) GetBookByISBN(_ context.Context, isbn string) (*catalog.Book, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, book := range b.books {
		if book.ISBN == isbn {
			return &book, nil
		}
	}
	return nil, catalog.ErrBookNotFound
}

func (b *Books) MarkAvailable(_ context.Context, id uuid.UUID) error {
	if b.MarkAvailableErr != nil {
		return b.MarkAvailableErr
	}
	return b.set(id, true)
}

func (b *Books) MarkUnavailable(_ context.Context, id uuid.UUID) error {
	return b.set(id, false)
}

func (b *Books) set(id uuid.UUID, available bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	book, ok := b.books[id]
	if !ok {
		return catalog.ErrBookNotFound
	}
	if !available && !book.Available {
		return catalog.ErrBookUnavailable
	}
	if book.Available != available {
		book.Available = available
		book.Version++
		b.books[id] = book
	}
	return nil
}
