// internal/membership/implementation.go
package membership

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"golang.org/x/time/rate"
)

const memberColumns = `id, username, email, name, role, status, version, created_at, updated_at`

// service implements the Service interface.
type service struct {
	db          *sqlx.DB
	rateLimiter *rate.Limiter
}

// NewService creates a new membership service instance. Registration and
// login share one limiter of burst requests refilled every interval.
func NewService(db *sqlx.DB, interval time.Duration, burst int) Service {
	return &service{
		db:          db,
		rateLimiter: rate.NewLimiter(rate.Every(interval), burst),
	}
}

// Register creates a new member with hashed credentials.
func (s *service) Register(ctx context.Context, reg Registration) (*Member, error) {
	if !s.rateLimiter.Allow() {
		return nil, ErrRateLimited
	}
	if reg.Username == "" || reg.Email == "" || reg.Password == "" {
		return nil, ErrInvalidRegistration
	}
	if reg.Role == "" {
		reg.Role = RoleMember
	}

	passwordHash, salt, err := hashPassword(reg.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	member := &Member{}
	err = tx.GetContext(ctx, member, `
		INSERT INTO members (id, username, email, name, role, status, version)
		VALUES ($1, $2, $3, $4, $5, 'active', 1)
		RETURNING `+memberColumns,
		uuid.New(), reg.Username, reg.Email, reg.Name, reg.Role)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil, ErrMemberExists
		}
		return nil, fmt.Errorf("insert member: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO credentials (member_id, password_hash, salt)
		VALUES ($1, $2, $3)
	`, member.ID, passwordHash, salt)
	if err != nil {
		return nil, fmt.Errorf("insert credentials: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return member, nil
}

// Authenticate verifies a member's credentials and returns the member if successful.
func (s *service) Authenticate(ctx context.Context, username, password string) (*Member, error) {
	if !s.rateLimiter.Allow() {
		return nil, ErrRateLimited
	}

	member, err := s.GetMemberByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrMemberNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("authentication failed: %w", err)
	}

	credential := &Credential{}
	err = s.db.GetContext(ctx, credential, `
		SELECT member_id, password_hash, salt
		FROM credentials
		WHERE member_id = $1
	`, member.ID)
	if err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}

	ok, err := verifyPassword(password, credential.Salt, credential.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}
	if member.Status != StatusActive {
		return nil, ErrMemberSuspended
	}

	return member, nil
}

// GetMember retrieves an active member by their ID.
func (s *service) GetMember(ctx context.Context, id uuid.UUID) (*Member, error) {
	return s.getMember(ctx, `SELECT `+memberColumns+` FROM members WHERE id = $1 AND status = 'active'`, id)
}

// LookupMember retrieves a member by their ID, suspended or not.
func (s *service) LookupMember(ctx context.Context, id uuid.UUID) (*Member, error) {
	return s.getMember(ctx, `SELECT `+memberColumns+` FROM members WHERE id = $1`, id)
}

// GetMemberByUsername retrieves a member by their login name.
func (s *service) GetMemberByUsername(ctx context.Context, username string) (*Member, error) {
	return s.getMember(ctx, `SELECT `+memberColumns+` FROM members WHERE username = $1`, username)
}

func (s *service) getMember(ctx context.Context, query string, arg any) (*Member, error) {
	member := &Member{}
	if err := s.db.GetContext(ctx, member, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMemberNotFound
		}
		return nil, fmt.Errorf("failed to get member: %w", err)
	}
	return member, nil
}

// ListMembers returns every member ordered by username.
func (s *service) ListMembers(ctx context.Context) ([]*Member, error) {
	var members []*Member
	if err := s.db.SelectContext(ctx, &members, `SELECT `+memberColumns+` FROM members ORDER BY username`); err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	return members, nil
}

// SearchMembers finds members whose username, email or name contain query.
func (s *service) SearchMembers(ctx context.Context, query string) ([]*Member, error) {
	pattern := "%" + strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(query) + "%"
	var members []*Member
	err := s.db.SelectContext(ctx, &members, `
		SELECT `+memberColumns+`
		FROM members
		WHERE username ILIKE $1 OR email ILIKE $1 OR name ILIKE $1
		ORDER BY username
		LIMIT 50
	`, pattern)
	if err != nil {
		return nil, fmt.Errorf("search members: %w", err)
	}
	return members, nil
}

// UpdateMember changes a member's role or status. The write is conditional
// on the version read first.
func (s *service) UpdateMember(ctx context.Context, id uuid.UUID, upd MemberUpdate) (*Member, error) {
	if (upd.Role != nil && !upd.Role.Valid()) || (upd.Status != nil && !upd.Status.Valid()) {
		return nil, ErrInvalidMemberUpdate
	}

	member, err := s.LookupMember(ctx, id)
	if err != nil {
		return nil, err
	}
	if upd.Version != 0 && upd.Version != member.Version {
		return nil, ErrVersionConflict
	}

	role, status := member.Role, member.Status
	if upd.Role != nil {
		role = *upd.Role
	}
	if upd.Status != nil {
		status = *upd.Status
	}

	updated := &Member{}
	err = s.db.GetContext(ctx, updated, `
		UPDATE members
		SET role = $1, status = $2, version = version + 1, updated_at = NOW()
		WHERE id = $3 AND version = $4
		RETURNING `+memberColumns,
		role, status, id, member.Version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrVersionConflict
		}
		return nil, fmt.Errorf("update member: %w", err)
	}
	return updated, nil
}

// SuspendMember stops a member from logging in and borrowing. Their loans
// and history are kept. Suspending a suspended member is a no-op.
func (s *service) SuspendMember(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE members
		SET status = 'suspended', version = version + 1, updated_at = NOW()
		WHERE id = $1 AND status <> 'suspended'
	`, id)
	if err != nil {
		return fmt.Errorf("suspend member: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		if _, err := s.LookupMember(ctx, id); err != nil {
			return err
		}
	}
	return nil
}
