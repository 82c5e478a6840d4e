package catalog_test

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loandesk/internal/catalog"
	"loandesk/internal/testutil"
)

func uniqueBook(title string) catalog.NewBook {
	return catalog.NewBook{
		ISBN:   "978" + uuid.NewString()[:10],
		Title:  title + " " + uuid.NewString()[:6],
		Author: "Jane Austen",
	}
}

func TestAddAndLookup(t *testing.T) {
	svc := catalog.NewService(testutil.OpenDB(t))
	ctx := context.Background()

	nb := uniqueBook("Persuasion")
	book, err := svc.AddBook(ctx, nb)
	require.NoError(t, err)
	assert.True(t, book.Available)
	assert.Equal(t, 1, book.Version)

	byID, err := svc.GetBook(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, nb.Title, byID.Title)

	byISBN, err := svc.GetBookByISBN(ctx, nb.ISBN)
	require.NoError(t, err)
	assert.Equal(t, book.ID, byISBN.ID)

	_, err = svc.AddBook(ctx, nb)
	assert.ErrorIs(t, err, catalog.ErrDuplicateISBN)

	_, err = svc.GetBook(ctx, uuid.New())
	assert.ErrorIs(t, err, catalog.ErrBookNotFound)

	found, err := svc.Search(ctx, nb.Title)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, book.ID, found[0].ID)
}

func TestSearchEscapesWildcards(t *testing.T) {
	svc := catalog.NewService(testutil.OpenDB(t))
	found, err := svc.Search(context.Background(), "%_no_such_title_"+uuid.NewString())
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestAvailabilityTransitions(t *testing.T) {
	svc := catalog.NewService(testutil.OpenDB(t))
	ctx := context.Background()
	book, err := svc.AddBook(ctx, uniqueBook("Emma"))
	require.NoError(t, err)

	require.NoError(t, svc.MarkUnavailable(ctx, book.ID))
	assert.ErrorIs(t, svc.MarkUnavailable(ctx, book.ID), catalog.ErrBookUnavailable)

	require.NoError(t, svc.MarkAvailable(ctx, book.ID))
	require.NoError(t, svc.MarkAvailable(ctx, book.ID), "marking an available book available is a no-op")

	assert.ErrorIs(t, svc.MarkAvailable(ctx, uuid.New()), catalog.ErrBookNotFound)
	assert.ErrorIs(t, svc.MarkUnavailable(ctx, uuid.New()), catalog.ErrBookNotFound)
}

func TestConcurrentMarkUnavailable(t *testing.T) {
	svc := catalog.NewService(testutil.OpenDB(t))
	ctx := context.Background()
	book, err := svc.AddBook(ctx, uniqueBook("Sanditon"))
	require.NoError(t, err)

	const callers = 6
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		won int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := svc.MarkUnavailable(ctx, book.ID)
			if err == nil {
				mu.Lock()
				won++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, catalog.ErrBookUnavailable)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, won)
}

func TestNewBookValidate(t *testing.T) {
	assert.NoError(t, catalog.NewBook{ISBN: "1", Title: "T", Author: "A"}.Validate())
	assert.ErrorIs(t, catalog.NewBook{Title: "T", Author: "A"}.Validate(), catalog.ErrInvalidBook)
	assert.ErrorIs(t, catalog.NewBook{ISBN: "1", Author: "A"}.Validate(), catalog.ErrInvalidBook)
}

func TestUpdateBook(t *testing.T) {
	svc := catalog.NewService(testutil.OpenDB(t))
	ctx := context.Background()
	book, err := svc.AddBook(ctx, uniqueBook("Emma"))
	require.NoError(t, err)

	upd := catalog.BookUpdate{NewBook: uniqueBook("Emma, revised"), Version: book.Version}
	updated, err := svc.UpdateBook(ctx, book.ID, upd)
	require.NoError(t, err)
	assert.Equal(t, upd.Title, updated.Title)
	assert.Equal(t, upd.ISBN, updated.ISBN)
	assert.Equal(t, book.Version+1, updated.Version)
	assert.True(t, updated.Available)

	_, err = svc.UpdateBook(ctx, book.ID, upd)
	assert.ErrorIs(t, err, catalog.ErrVersionConflict)

	other, err := svc.AddBook(ctx, uniqueBook("Mansfield Park"))
	require.NoError(t, err)
	clash := catalog.BookUpdate{NewBook: catalog.NewBook{ISBN: updated.ISBN, Title: other.Title, Author: other.Author}}
	_, err = svc.UpdateBook(ctx, other.ID, clash)
	assert.ErrorIs(t, err, catalog.ErrDuplicateISBN)

	_, err = svc.UpdateBook(ctx, uuid.New(), catalog.BookUpdate{NewBook: uniqueBook("Ghost")})
	assert.ErrorIs(t, err, catalog.ErrBookNotFound)

	_, err = svc.UpdateBook(ctx, book.ID, catalog.BookUpdate{})
	assert.ErrorIs(t, err, catalog.ErrInvalidBook)
}

func TestRemoveBook(t *testing.T) {
	db := testutil.OpenDB(t)
	svc := catalog.NewService(db)
	ctx := context.Background()
	book, err := svc.AddBook(ctx, uniqueBook("Lady Susan"))
	require.NoError(t, err)

	require.NoError(t, svc.RemoveBook(ctx, book.ID))

	_, err = svc.GetBook(ctx, book.ID)
	assert.ErrorIs(t, err, catalog.ErrBookNotFound)
	found, err := svc.Search(ctx, book.Title)
	require.NoError(t, err)
	assert.Empty(t, found)
	assert.ErrorIs(t, svc.MarkUnavailable(ctx, book.ID), catalog.ErrBookNotFound)
	assert.ErrorIs(t, svc.RemoveBook(ctx, book.ID), catalog.ErrBookNotFound)
}

func TestRemoveBookRefusesOpenLoan(t *testing.T) {
	db := testutil.OpenDB(t)
	svc := catalog.NewService(db)
	ctx := context.Background()
	book, err := svc.AddBook(ctx, uniqueBook("Northanger Abbey"))
	require.NoError(t, err)

	require.NoError(t, svc.MarkUnavailable(ctx, book.ID))
	loanID := insertLoan(t, db, book.ID, "ACTIVE")
	assert.ErrorIs(t, svc.RemoveBook(ctx, book.ID), catalog.ErrBookOnLoan)

	_, err = db.ExecContext(ctx, `UPDATE loans SET status = 'RETURNED', return_date = loan_date WHERE id = $1`, loanID)
	require.NoError(t, err)
	require.NoError(t, svc.MarkAvailable(ctx, book.ID))
	require.NoError(t, svc.RemoveBook(ctx, book.ID), "a book with only closed loans can be retired")
}

func TestRemoveBookRacesCheckout(t *testing.T) {
	svc := catalog.NewService(testutil.OpenDB(t))
	ctx := context.Background()
	book, err := svc.AddBook(ctx, uniqueBook("The Watsons"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	var removeErr, checkErr error
	wg.Add(2)
	go func() { defer wg.Done(); removeErr = svc.RemoveBook(ctx, book.ID) }()
	go func() { defer wg.Done(); checkErr = svc.MarkUnavailable(ctx, book.ID) }()
	wg.Wait()

	if removeErr == nil {
		assert.ErrorIs(t, checkErr, catalog.ErrBookNotFound)
	} else {
		assert.ErrorIs(t, removeErr, catalog.ErrBookOnLoan)
		assert.NoError(t, checkErr)
	}
}

func insertLoan(t *testing.T, db *sqlx.DB, bookID uuid.UUID, status string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := db.Exec(`
		INSERT INTO loans (id, borrower_id, book_id, loan_date, due_date, status)
		VALUES ($1, $2, $3, '2024-03-01', '2024-03-15', $4)
	`, id, testutil.SeedMember(t, db, "MEMBER"), bookID, status)
	require.NoError(t, err)
	return id
}
