package storage

import (
	"path/filepath"
	"testing"

	"github.com/kwgt/luwiki-sub000/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
)

// newTestManager opens a fresh Manager backed by a temp dir bbolt database
// and asset root, per test, with no shared fixtures.
func newTestManager(t *testing.T) *Manager {
	t.Helper()
	dir := t.TempDir()

	db, err := bolt.Open(filepath.Join(dir, "store.db"), 0o600, nil)
	require.NoError(t, err)

	m, err := NewManager(db, filepath.Join(dir, "assets"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	return m
}

func mustUser(t *testing.T, m *Manager, username string) types.UserInfo {
	t.Helper()
	u, err := m.AddUser(username, "correct horse battery staple", username)
	require.NoError(t, err)
	return u
}

func TestOpenCreatesDatabaseAndAssetRoot(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "nested", "store.db")
	assetRoot := filepath.Join(dir, "nested", "assets")

	m, err := Open(dbPath, assetRoot)
	require.NoError(t, err)
	defer m.Close()

	assert.FileExists(t, dbPath)
	assert.DirExists(t, assetRoot)
}

func TestNewManagerIsIdempotentAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "store.db")

	m1, err := Open(dbPath, filepath.Join(dir, "assets"))
	require.NoError(t, err)
	mustUser(t, m1, "alice")
	require.NoError(t, m1.Close())

	m2, err := Open(dbPath, filepath.Join(dir, "assets"))
	require.NoError(t, err)
	defer m2.Close()

	u, err := m2.GetUserByUsername("alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)
}

func TestEnsureDefaultRootCreatesRootPage(t *testing.T) {
	m := newTestManager(t)
	mustUser(t, m, "admin")

	require.NoError(t, m.EnsureDefaultRoot("admin"))

	id, err := m.GetPageIDByPath(types.RootPagePath)
	require.NoError(t, err)

	index, err := m.GetPageIndexByID(id)
	require.NoError(t, err)
	assert.False(t, index.Draft)
	assert.Equal(t, uint64(1), index.LatestRev)
}

func TestEnsureDefaultRootIsANoOpWhenRootExists(t *testing.T) {
	m := newTestManager(t)
	mustUser(t, m, "admin")

	require.NoError(t, m.EnsureDefaultRoot("admin"))
	idBefore, err := m.GetPageIDByPath(types.RootPagePath)
	require.NoError(t, err)

	require.NoError(t, m.EnsureDefaultRoot("admin"))
	idAfter, err := m.GetPageIDByPath(types.RootPagePath)
	require.NoError(t, err)

	assert.Equal(t, idBefore, idAfter)
}
