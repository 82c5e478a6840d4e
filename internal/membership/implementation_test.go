package membership_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loandesk/internal/membership"
	"loandesk/internal/testutil"
)

func TestRegisterAndAuthenticate(t *testing.T) {
	svc := membership.NewService(testutil.OpenDB(t), time.Millisecond, 100)
	ctx := context.Background()
	username := "bea-" + uuid.NewString()[:8]

	member, err := svc.Register(ctx, membership.Registration{
		Username: username,
		Email:    username + "@example.com",
		Name:     "Bea",
		Password: "SecurePass123!",
	})
	require.NoError(t, err)
	assert.Equal(t, membership.RoleMember, member.Role)

	got, err := svc.Authenticate(ctx, username, "SecurePass123!")
	require.NoError(t, err)
	assert.Equal(t, member.ID, got.ID)

	_, err = svc.Authenticate(ctx, username, "wrong")
	assert.ErrorIs(t, err, membership.ErrInvalidCredentials)
	_, err = svc.Authenticate(ctx, "nobody-"+uuid.NewString(), "x")
	assert.ErrorIs(t, err, membership.ErrInvalidCredentials)

	_, err = svc.Register(ctx, membership.Registration{
		Username: username, Email: "other-" + username + "@example.com", Password: "x",
	})
	assert.ErrorIs(t, err, membership.ErrMemberExists)

	byName, err := svc.GetMemberByUsername(ctx, username)
	require.NoError(t, err)
	assert.Equal(t, member.ID, byName.ID)

	_, err = svc.GetMember(ctx, uuid.New())
	assert.ErrorIs(t, err, membership.ErrMemberNotFound)
}

func TestRegisterLibrarian(t *testing.T) {
	svc := membership.NewService(testutil.OpenDB(t), time.Millisecond, 100)
	username := "lena-" + uuid.NewString()[:8]

	member, err := svc.Register(context.Background(), membership.Registration{
		Username: username,
		Email:    username + "@example.com",
		Password: "pw",
		Role:     membership.RoleLibrarian,
	})
	require.NoError(t, err)
	assert.Equal(t, membership.RoleLibrarian, member.Role)
}

func TestRegisterIsRateLimited(t *testing.T) {
	svc := membership.NewService(testutil.OpenDB(t), time.Hour, 1)
	ctx := context.Background()

	_, err := svc.Register(ctx, membership.Registration{})
	assert.ErrorIs(t, err, membership.ErrInvalidRegistration)
	_, err = svc.Register(ctx, membership.Registration{})
	assert.ErrorIs(t, err, membership.ErrRateLimited)
}

func registerMember(t *testing.T, svc membership.Service, prefix string) *membership.Member {
	t.Helper()
	username := prefix + "-" + uuid.NewString()[:8]
	member, err := svc.Register(context.Background(), membership.Registration{
		Username: username,
		Email:    username + "@example.com",
		Name:     "Member " + username,
		Password: "SecurePass123!",
	})
	require.NoError(t, err)
	return member
}

func TestSuspendedMemberCannotLogInOrBorrow(t *testing.T) {
	svc := membership.NewService(testutil.OpenDB(t), time.Millisecond, 100)
	ctx := context.Background()
	member := registerMember(t, svc, "sam")

	require.NoError(t, svc.SuspendMember(ctx, member.ID))
	require.NoError(t, svc.SuspendMember(ctx, member.ID), "suspending twice is a no-op")

	_, err := svc.GetMember(ctx, member.ID)
	assert.ErrorIs(t, err, membership.ErrMemberNotFound)

	got, err := svc.LookupMember(ctx, member.ID)
	require.NoError(t, err)
	assert.Equal(t, membership.StatusSuspended, got.Status)

	_, err = svc.Authenticate(ctx, member.Username, "SecurePass123!")
	assert.ErrorIs(t, err, membership.ErrMemberSuspended)
	_, err = svc.Authenticate(ctx, member.Username, "wrong")
	assert.ErrorIs(t, err, membership.ErrInvalidCredentials)

	assert.ErrorIs(t, svc.SuspendMember(ctx, uuid.New()), membership.ErrMemberNotFound)
}

func TestUpdateMember(t *testing.T) {
	svc := membership.NewService(testutil.OpenDB(t), time.Millisecond, 100)
	ctx := context.Background()
	member := registerMember(t, svc, "uma")

	librarian := membership.RoleLibrarian
	updated, err := svc.UpdateMember(ctx, member.ID, membership.MemberUpdate{Role: &librarian, Version: member.Version})
	require.NoError(t, err)
	assert.Equal(t, membership.RoleLibrarian, updated.Role)
	assert.Equal(t, membership.StatusActive, updated.Status)
	assert.Equal(t, member.Version+1, updated.Version)

	_, err = svc.UpdateMember(ctx, member.ID, membership.MemberUpdate{Role: &librarian, Version: member.Version})
	assert.ErrorIs(t, err, membership.ErrVersionConflict)

	suspended := membership.StatusSuspended
	updated, err = svc.UpdateMember(ctx, member.ID, membership.MemberUpdate{Status: &suspended})
	require.NoError(t, err)
	assert.Equal(t, membership.StatusSuspended, updated.Status)
	assert.Equal(t, membership.RoleLibrarian, updated.Role)

	active := membership.StatusActive
	_, err = svc.UpdateMember(ctx, member.ID, membership.MemberUpdate{Status: &active})
	require.NoError(t, err)
	_, err = svc.GetMember(ctx, member.ID)
	assert.NoError(t, err, "reactivated members can borrow again")

	bogus := membership.Role("ADMIN")
	_, err = svc.UpdateMember(ctx, member.ID, membership.MemberUpdate{Role: &bogus})
	assert.ErrorIs(t, err, membership.ErrInvalidMemberUpdate)

	_, err = svc.UpdateMember(ctx, uuid.New(), membership.MemberUpdate{Status: &active})
	assert.ErrorIs(t, err, membership.ErrMemberNotFound)
}

func TestListAndSearchMembers(t *testing.T) {
	svc := membership.NewService(testutil.OpenDB(t), time.Millisecond, 100)
	ctx := context.Background()
	member := registerMember(t, svc, "quinn")

	all, err := svc.ListMembers(ctx)
	require.NoError(t, err)
	var ids []uuid.UUID
	for _, m := range all {
		ids = append(ids, m.ID)
	}
	assert.Contains(t, ids, member.ID)

	found, err := svc.SearchMembers(ctx, member.Username)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, member.ID, found[0].ID)

	found, err = svc.SearchMembers(ctx, "%_nobody_"+uuid.NewString())
	require.NoError(t, err)
	assert.Empty(t, found)
}
