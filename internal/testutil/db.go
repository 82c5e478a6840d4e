package testutil

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"loandesk/internal/storage/postgres"
)

// OpenDB connects to the Postgres named by the PG* environment variables
// and applies the schema. The test is skipped when no server answers.
// Tests share the database, so they must create their own rows with
// unique keys instead of truncating tables.
func OpenDB(t testing.TB) *sqlx.DB {
	t.Helper()

	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		getEnv("PGHOST", "localhost"),
		getEnv("PGPORT", "5432"),
		getEnv("PGUSER", "loandesk"),
		getEnv("PGPASSWORD", "dev_password_change_in_prod"),
		getEnv("PGDATABASE", "loandesk_test"),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	db, err := postgres.Open(ctx, connStr)
	if err != nil {
		t.Skipf("skipping database tests: could not connect to postgres: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := postgres.Migrate(ctx, db); err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}
	return db
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// SeedMember inserts a member with a unique username and returns its ID.
func SeedMember(t testing.TB, db *sqlx.DB, role string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	name := "m" + id.String()[:12]
	_, err := db.Exec(`
		INSERT INTO members (id, username, email, name, role)
		VALUES ($1, $2, $3, $2, $4)
	`, id, name, name+"@example.com", role)
	if err != nil {
		t.Fatalf("seed member: %v", err)
	}
	return id
}

// SeedBook inserts an available book with a unique ISBN and returns its ID.
func SeedBook(t testing.TB, db *sqlx.DB) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := db.Exec(`
		INSERT INTO books (id, isbn, title, author)
		VALUES ($1, $2, $3, 'Test Author')
	`, id, "isbn-"+id.String(), "Book "+id.String()[:8])
	if err != nil {
		t.Fatalf("seed book: %v", err)
	}
	return id
}
