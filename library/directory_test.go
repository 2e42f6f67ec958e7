package library

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureAdminOnlyOnce(t *testing.T) {
	f := newFixture(t)
	created, err := f.db.EnsureAdmin(context.Background(), NewUser{
		UserInput:    UserInput{Username: "second", Email: "second@library.test", FullName: "Second"},
		PasswordHash: "x",
	})
	require.NoError(t, err)
	assert.False(t, created)
}

func TestAddUserUniqueness(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		in   UserInput
	}{
		{"username", UserInput{Username: "alice", Email: "new1@college.test", FullName: "n"}},
		{"email", UserInput{Username: "new2", Email: "alice@college.test", FullName: "n"}},
		{"student id", UserInput{Username: "new3", Email: "new3@college.test", StudentID: "S-alice", FullName: "n"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.db.AddUser(ctx, f.admin, NewUser{UserInput: tt.in, PasswordHash: "x"})
			assert.ErrorIs(t, err, ErrDuplicateKey)
		})
	}

	// Empty student ids never collide.
	for _, name := range []string{"carol", "dave"} {
		_, err := f.db.AddUser(ctx, f.admin, NewUser{
			UserInput:    UserInput{Username: name, Email: name + "@college.test", FullName: name},
			PasswordHash: "x",
		})
		require.NoError(t, err)
	}
}

func TestAddUserRequiresAdmin(t *testing.T) {
	f := newFixture(t)
	_, err := f.db.AddUser(context.Background(), f.alice, NewUser{
		UserInput:    UserInput{Username: "mallory", Email: "m@college.test", FullName: "M"},
		PasswordHash: "x",
	})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestUpdateUserPermissions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	up := UserUpdate{Email: "alice2@college.test", FullName: "Alice Liddell", StudentID: "S-alice"}

	u, err := f.db.UpdateUser(ctx, f.alice, f.alice.ID, up)
	require.NoError(t, err)
	assert.Equal(t, "alice2@college.test", u.Email)
	assert.Equal(t, RoleStudent, u.Role)

	_, err = f.db.UpdateUser(ctx, f.bob, f.alice.ID, up)
	assert.ErrorIs(t, err, ErrForbidden)

	admin := RoleAdmin
	up.Role = &admin
	_, err = f.db.UpdateUser(ctx, f.alice, f.alice.ID, up)
	assert.ErrorIs(t, err, ErrForbidden)

	u, err = f.db.UpdateUser(ctx, f.admin, f.alice.ID, up)
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, u.Role)

	clash := UserUpdate{Email: "bob@college.test", FullName: "Bob"}
	_, err = f.db.UpdateUser(ctx, f.admin, f.alice.ID, clash)
	assert.ErrorIs(t, err, ErrDuplicateKey)
}

func TestDeactivateUserRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.addBook(t, "978-u", 1)

	err := f.db.DeactivateUser(ctx, f.admin, f.admin.ID)
	assert.ErrorIs(t, err, ErrProtectedUser)

	err = f.db.DeactivateUser(ctx, f.alice, f.bob.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	l, err := f.db.IssueBook(ctx, f.admin, IssueRequest{UserID: f.alice.ID, BookID: b.ID})
	require.NoError(t, err)
	err = f.db.DeactivateUser(ctx, f.admin, f.alice.ID)
	require.ErrorIs(t, err, ErrActiveLoans)
	assert.ErrorIs(t, err, ErrConflict)

	_, err = f.db.ReturnBook(ctx, f.admin, l.ID)
	require.NoError(t, err)
	require.NoError(t, f.db.DeactivateUser(ctx, f.admin, f.alice.ID))

	_, err = f.db.GetUser(ctx, f.admin, f.alice.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.db.UserByUsername(ctx, "alice")
	assert.ErrorIs(t, err, ErrNotFound)

	// The username is free again for a new registration.
	_, err = f.db.AddUser(ctx, f.admin, NewUser{
		UserInput:    UserInput{Username: "alice", Email: "alice@college.test", FullName: "Alice Again", StudentID: "S-alice"},
		PasswordHash: "x",
	})
	assert.NoError(t, err)
}

func TestGetAndListUsers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u, err := f.db.GetUser(ctx, f.alice, f.alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)

	_, err = f.db.GetUser(ctx, f.alice, f.bob.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.db.ListUsers(ctx, f.alice, UserFilter{})
	assert.ErrorIs(t, err, ErrForbidden)

	all, err := f.db.ListUsers(ctx, f.admin, UserFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	students, err := f.db.ListUsers(ctx, f.admin, UserFilter{Role: RoleStudent})
	require.NoError(t, err)
	assert.Len(t, students, 2)

	found, err := f.db.ListUsers(ctx, f.admin, UserFilter{Query: "bob@"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, f.bob.ID, found[0].ID)
}

func TestSetPasswordHash(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.db.SetPasswordHash(ctx, f.alice, f.alice.ID, "new-hash"))
	u, err := f.db.UserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "new-hash", u.PasswordHash)

	assert.ErrorIs(t, f.db.SetPasswordHash(ctx, f.bob, f.alice.ID, "h"), ErrForbidden)
	assert.ErrorIs(t, f.db.SetPasswordHash(ctx, f.admin, 999, "h"), ErrNotFound)
}
