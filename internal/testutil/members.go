package testutil

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"loandesk/internal/membership"
)

// Members is an in-memory borrower directory.
type Members struct {
	mu      sync.Mutex
	members map[uuid.UUID]membership.Member
}

// NewMembers creates an empty directory.
func NewMembers() *Members {
	return &Members{members: make(map[uuid.UUID]membership.Member)}
}

// Add registers a member with the given username and role.
func (m *Members) Add(username string, role membership.Role) *membership.Member {
	m.mu.Lock()
	defer m.mu.Unlock()
	member := membership.Member{
		ID:       uuid.New(),
		Username: username,
		Email:    username + "@example.com",
		Role:     role,
		Status:   membership.StatusActive,
		Version:  1,
	}
	m.members[member.ID] = member
	return &member
}

func (m *Members) GetMember(_ context.Context, id uuid.UUID) (*membership.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	member, ok := m.members[id]
	if !ok || member.Status != membership.StatusActive {
		return nil, membership.ErrMemberNotFound
	}
	return &member, nil
}

// Suspend marks a member suspended, hiding them from GetMember.
func (m *Members) Suspend(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if member, ok := m.members[id]; ok {
		member.Status = membership.StatusSuspended
		m.members[id] = member
	}
}
