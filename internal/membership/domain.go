// internal/membership/domain.go
package membership

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrMemberNotFound      = errors.New("member not found")
	ErrMemberExists        = errors.New("username or email already registered")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrRateLimited         = errors.New("rate limit exceeded")
	ErrInvalidRegistration = errors.New("username, email and password are required")
	ErrMemberSuspended     = errors.New("member is suspended")
	ErrInvalidMemberUpdate = errors.New("unknown role or status")
	ErrVersionConflict     = errors.New("member was changed by another request")
)

// Role decides what a member may do beyond managing their own loans.
type Role string

const (
	RoleMember    Role = "MEMBER"
	RoleLibrarian Role = "LIBRARIAN"
)

// Status decides whether a member may log in and borrow.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleMember || r == RoleLibrarian
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusActive || s == StatusSuspended
}

// Member represents a library member entitled to hold loans.
type Member struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Username  string    `json:"username" db:"username"`
	Email     string    `json:"email" db:"email"`
	Name      string    `json:"name" db:"name"`
	Role      Role      `json:"role" db:"role"`
	Status    Status    `json:"status" db:"status"`
	Version   int       `json:"version" db:"version"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Credential represents a member's login credentials.
type Credential struct {
	MemberID     uuid.UUID `db:"member_id"`
	PasswordHash string    `db:"password_hash"`
	Salt         string    `db:"salt"`
}

// Registration is the input for creating a member.
type Registration struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
	Role     Role   `json:"-"`
}

// MemberUpdate changes a member's role or status. Nil fields are left
// alone. A non-zero Version must match the stored one.
type MemberUpdate struct {
	Role    *Role   `json:"role,omitempty"`
	Status  *Status `json:"status,omitempty"`
	Version int     `json:"version"`
}
