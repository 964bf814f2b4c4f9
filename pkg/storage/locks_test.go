package storage

import (
	"testing"
	"time"

	"github.com/kwgt/luwiki-sub000/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
)

// expireLock rewrites token's row in the lock table so it is already
// expired, letting a test exercise sweep/recovery paths without waiting out
// the real five-minute lock lifetime.
func expireLock(t *testing.T, m *Manager, token types.LockToken) {
	t.Helper()
	require.NoError(t, m.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLockInfo)
		var info types.LockInfo
		has, err := getJSON(b, token.Bytes(), &info)
		require.NoError(t, err)
		require.True(t, has)
		info.ExpiresAt = time.Now().Add(-time.Minute)
		return putJSON(b, token.Bytes(), &info)
	}))
}

func TestAcquirePageLockThenSecondAcquireFails(t *testing.T) {
	m := newTestManager(t)
	author := mustUser(t, m, "alice")
	page, err := m.CreatePage("/x", "alice", "hello")
	require.NoError(t, err)

	lock, err := m.AcquirePageLock(page.Id, author.Id)
	require.NoError(t, err)
	assert.Equal(t, page.Id, lock.PageId)

	_, err = m.AcquirePageLock(page.Id, author.Id)
	assert.ErrorIs(t, err, types.ErrPageLocked)
}

func TestAcquirePageLockRecoversExpiredLock(t *testing.T) {
	m := newTestManager(t)
	author := mustUser(t, m, "alice")
	page, err := m.CreatePage("/x", "alice", "hello")
	require.NoError(t, err)

	first, err := m.AcquirePageLock(page.Id, author.Id)
	require.NoError(t, err)
	expireLock(t, m, first.Token)

	second, err := m.AcquirePageLock(page.Id, author.Id)
	require.NoError(t, err)
	assert.NotEqual(t, first.Token, second.Token)
}

func TestRenewPageLockRequiresOwner(t *testing.T) {
	m := newTestManager(t)
	author := mustUser(t, m, "alice")
	other := mustUser(t, m, "bob")
	page, err := m.CreatePage("/x", "alice", "hello")
	require.NoError(t, err)

	lock, err := m.AcquirePageLock(page.Id, author.Id)
	require.NoError(t, err)

	_, err = m.RenewPageLock(page.Id, other.Id, lock.Token)
	assert.ErrorIs(t, err, types.ErrLockForbidden)

	renewed, err := m.RenewPageLock(page.Id, author.Id, lock.Token)
	require.NoError(t, err)
	assert.True(t, renewed.ExpiresAt.After(lock.ExpiresAt) || renewed.ExpiresAt.Equal(lock.ExpiresAt))
	assert.NotEqual(t, lock.Token, renewed.Token)
}

func TestReleasePageLockClearsIndexToken(t *testing.T) {
	m := newTestManager(t)
	author := mustUser(t, m, "alice")
	page, err := m.CreatePage("/x", "alice", "hello")
	require.NoError(t, err)

	lock, err := m.AcquirePageLock(page.Id, author.Id)
	require.NoError(t, err)

	require.NoError(t, m.ReleasePageLock(page.Id, author.Id, lock.Token))

	index, err := m.GetPageIndexByID(page.Id)
	require.NoError(t, err)
	_, locked := index.Lock()
	assert.False(t, locked)
}

func TestReleasePageLockCascadesDraftDeletion(t *testing.T) {
	m := newTestManager(t)
	author := mustUser(t, m, "alice")

	draftID, lock, err := m.CreateDraftPage("/draft", "alice")
	require.NoError(t, err)

	require.NoError(t, m.ReleasePageLock(draftID, author.Id, lock.Token))

	_, err = m.GetPageIndexByID(draftID)
	assert.ErrorIs(t, err, types.ErrPageNotFound)
}

func TestCleanupExpiredLocksSweepsStaleLiveLock(t *testing.T) {
	m := newTestManager(t)
	author := mustUser(t, m, "alice")
	page, err := m.CreatePage("/x", "alice", "hello")
	require.NoError(t, err)

	lock, err := m.AcquirePageLock(page.Id, author.Id)
	require.NoError(t, err)
	expireLock(t, m, lock.Token)

	n, err := m.CleanupExpiredLocks()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	index, err := m.GetPageIndexByID(page.Id)
	require.NoError(t, err)
	_, locked := index.Lock()
	assert.False(t, locked)

	n, err = m.CleanupExpiredLocks()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestCleanupExpiredLocksCascadesDraftDeletion(t *testing.T) {
	m := newTestManager(t)
	mustUser(t, m, "alice")
	draftID, lock, err := m.CreateDraftPage("/draft", "alice")
	require.NoError(t, err)

	expireLock(t, m, lock.Token)

	n, err := m.CleanupExpiredLocks()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = m.GetPageIndexByID(draftID)
	assert.ErrorIs(t, err, types.ErrPageNotFound)
}

func TestListLocksJoinsPathAndUsername(t *testing.T) {
	m := newTestManager(t)
	author := mustUser(t, m, "alice")
	page, err := m.CreatePage("/x", "alice", "hello")
	require.NoError(t, err)

	_, err = m.AcquirePageLock(page.Id, author.Id)
	require.NoError(t, err)

	entries, err := m.ListLocks()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "/x", entries[0].Path)
	assert.Equal(t, "alice", entries[0].Username)
}

func TestDeleteLockByTokenCascadesDraftDeletion(t *testing.T) {
	m := newTestManager(t)
	mustUser(t, m, "alice")
	_, lock, err := m.CreateDraftPage("/draft", "alice")
	require.NoError(t, err)

	require.NoError(t, m.DeleteLock(lock.Token))

	_, err = m.GetPageLockInfo(lock.PageId)
	assert.ErrorIs(t, err, types.ErrPageNotFound)
}

func TestDeletePageLockByIDFindsActiveLock(t *testing.T) {
	m := newTestManager(t)
	author := mustUser(t, m, "alice")
	page, err := m.CreatePage("/x", "alice", "hello")
	require.NoError(t, err)

	_, err = m.AcquirePageLock(page.Id, author.Id)
	require.NoError(t, err)

	require.NoError(t, m.DeletePageLockByID(page.Id))

	index, err := m.GetPageIndexByID(page.Id)
	require.NoError(t, err)
	_, locked := index.Lock()
	assert.False(t, locked)
}

func TestDeletePageLockByIDNotFound(t *testing.T) {
	m := newTestManager(t)
	err := m.DeletePageLockByID(types.NewPageId())
	assert.ErrorIs(t, err, types.ErrLockNotFound)
}
