// internal/membership/service.go
package membership

import (
	"context"

	"github.com/google/uuid"
)

// Service defines the interface for the membership service.
type Service interface {
	Register(ctx context.Context, reg Registration) (*Member, error)
	Authenticate(ctx context.Context, username, password string) (*Member, error)
	// GetMember returns an active member; suspended members are reported
	// as ErrMemberNotFound.
	GetMember(ctx context.Context, id uuid.UUID) (*Member, error)
	// LookupMember returns a member whatever their status.
	LookupMember(ctx context.Context, id uuid.UUID) (*Member, error)
	GetMemberByUsername(ctx context.Context, username string) (*Member, error)
	ListMembers(ctx context.Context) ([]*Member, error)
	SearchMembers(ctx context.Context, query string) ([]*Member, error)
	UpdateMember(ctx context.Context, id uuid.UUID, upd MemberUpdate) (*Member, error)
	SuspendMember(ctx context.Context, id uuid.UUID) error
}
