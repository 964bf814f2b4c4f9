package storage

import (
	"testing"

	"github.com/kwgt/luwiki-sub000/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddUserThenVerify(t *testing.T) {
	m := newTestManager(t)

	_, err := m.AddUser("alice", "hunter2", "Alice")
	require.NoError(t, err)

	verified, err := m.VerifyUser("alice", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "alice", verified.Username)
	assert.Equal(t, "Alice", verified.DisplayName)
}

func TestVerifyUserRejectsWrongPassword(t *testing.T) {
	m := newTestManager(t)
	mustUser(t, m, "alice")

	_, err := m.VerifyUser("alice", "wrong password")
	assert.ErrorIs(t, err, types.ErrUserNotFound)
}

func TestAddUserDuplicateUsernameFails(t *testing.T) {
	m := newTestManager(t)
	mustUser(t, m, "alice")

	_, err := m.AddUser("alice", "another password", "Alice Again")
	assert.ErrorIs(t, err, types.ErrUserAlreadyExists)
}

func TestGetUserByUsernameNotFound(t *testing.T) {
	m := newTestManager(t)
	_, err := m.GetUserByUsername("nobody")
	assert.ErrorIs(t, err, types.ErrUserNotFound)
}

func TestDeleteUserRemovesBothIndexes(t *testing.T) {
	m := newTestManager(t)
	u := mustUser(t, m, "alice")

	require.NoError(t, m.DeleteUser(u.Id))

	_, err := m.GetUserByUsername("alice")
	assert.ErrorIs(t, err, types.ErrUserNotFound)
	_, err = m.GetUserByID(u.Id)
	assert.ErrorIs(t, err, types.ErrUserNotFound)
}

func TestUpdateUserChangesDisplayNameAndPassword(t *testing.T) {
	m := newTestManager(t)
	u := mustUser(t, m, "alice")

	require.NoError(t, m.UpdateUser(u.Id, "Alice W.", "new password"))

	got, err := m.GetUserByID(u.Id)
	require.NoError(t, err)
	assert.Equal(t, "Alice W.", got.DisplayName)

	_, err = m.VerifyUser("alice", "new password")
	require.NoError(t, err)
}

func TestUpdateUserRequiresAtLeastOneField(t *testing.T) {
	m := newTestManager(t)
	u := mustUser(t, m, "alice")

	err := m.UpdateUser(u.Id, "", "")
	assert.Error(t, err)
}

func TestUserCountAndHasRegisteredUsers(t *testing.T) {
	m := newTestManager(t)

	has, err := m.HasRegisteredUsers()
	require.NoError(t, err)
	assert.False(t, has)

	mustUser(t, m, "alice")
	mustUser(t, m, "bob")

	count, err := m.UserCount()
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	has, err = m.HasRegisteredUsers()
	require.NoError(t, err)
	assert.True(t, has)
}

func TestListUsersReturnsEveryUser(t *testing.T) {
	m := newTestManager(t)
	mustUser(t, m, "alice")
	mustUser(t, m, "bob")

	users, err := m.ListUsers()
	require.NoError(t, err)
	assert.Len(t, users, 2)
}
