package storage

import (
	"testing"

	"github.com/kwgt/luwiki-sub000/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetPageSourceAndGetPageIDByPath(t *testing.T) {
	m := newTestManager(t)
	mustUser(t, m, "alice")

	index, err := m.CreatePage("/x", "alice", "# Hello")
	require.NoError(t, err)

	id, err := m.GetPageIDByPath("/x")
	require.NoError(t, err)
	assert.Equal(t, index.Id, id)

	source, err := m.GetPageSource(index.Id, 1)
	require.NoError(t, err)
	assert.Equal(t, "# Hello", source.Markdown)
}

func TestGetPageSourceInvalidRevision(t *testing.T) {
	m := newTestManager(t)
	mustUser(t, m, "alice")
	index, err := m.CreatePage("/x", "alice", "body")
	require.NoError(t, err)

	_, err = m.GetPageSource(index.Id, 99)
	assert.ErrorIs(t, err, types.ErrInvalidRevision)
}

func TestListPagesJoinsAuthorAndLockState(t *testing.T) {
	m := newTestManager(t)
	author := mustUser(t, m, "alice")
	index, err := m.CreatePage("/x", "alice", "body")
	require.NoError(t, err)

	entries, err := m.ListPages()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "/x", entries[0].Path)
	assert.Equal(t, "alice", entries[0].AuthorUsername)
	assert.False(t, entries[0].Locked)

	_, err = m.AcquirePageLock(index.Id, author.Id)
	require.NoError(t, err)

	entries, err = m.ListPages()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Locked)
}

func TestListPageEntriesByPrefixScopesToSubtree(t *testing.T) {
	m := newTestManager(t)
	mustUser(t, m, "alice")
	_, err := m.CreatePage("/docs", "alice", "root of docs")
	require.NoError(t, err)
	_, err = m.CreatePage("/docs/intro", "alice", "intro")
	require.NoError(t, err)
	_, err = m.CreatePage("/docs2", "alice", "unrelated")
	require.NoError(t, err)

	entries, err := m.ListPageEntriesByPrefix("/docs", false)
	require.NoError(t, err)

	var paths []string
	for _, e := range entries {
		paths = append(paths, e.Path)
	}
	assert.ElementsMatch(t, []string{"/docs", "/docs/intro"}, paths)
}

func TestListPageEntriesByPrefixIncludesDeletedWhenAsked(t *testing.T) {
	m := newTestManager(t)
	mustUser(t, m, "alice")
	index, err := m.CreatePage("/docs/intro", "alice", "intro")
	require.NoError(t, err)
	require.NoError(t, m.DeletePageByID(index.Id))

	entries, err := m.ListPageEntriesByPrefix("/docs", false)
	require.NoError(t, err)
	assert.Empty(t, entries)

	entries, err = m.ListPageEntriesByPrefix("/docs", true)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Deleted)
}

func TestListPageSourceEntriesByID(t *testing.T) {
	m := newTestManager(t)
	author := mustUser(t, m, "alice")
	index, err := m.CreatePage("/x", "alice", "v1")
	require.NoError(t, err)
	_, err = m.PutPage(index.Id, author.Id, "v2", false)
	require.NoError(t, err)

	revisions, err := m.ListPageSourceEntriesByID(index.Id)
	require.NoError(t, err)
	require.Len(t, revisions, 2)
	assert.Equal(t, uint64(1), revisions[0].Revision)
	assert.Equal(t, uint64(2), revisions[1].Revision)
}

func TestListPageSourceEntriesCoversEveryPage(t *testing.T) {
	m := newTestManager(t)
	mustUser(t, m, "alice")
	_, err := m.CreatePage("/a", "alice", "a")
	require.NoError(t, err)
	_, err = m.CreatePage("/b", "alice", "b")
	require.NoError(t, err)

	sources, err := m.ListPageSourceEntries()
	require.NoError(t, err)
	assert.Len(t, sources, 2)
}

func TestListPageIndexEntries(t *testing.T) {
	m := newTestManager(t)
	mustUser(t, m, "alice")
	_, err := m.CreatePage("/a", "alice", "a")
	require.NoError(t, err)

	indexes, err := m.ListPageIndexEntries()
	require.NoError(t, err)
	assert.Len(t, indexes, 1)
}
