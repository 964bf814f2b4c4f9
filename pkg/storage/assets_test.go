package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/kwgt/luwiki-sub000/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAssetWritesFileAndRecord(t *testing.T) {
	m := newTestManager(t)
	mustUser(t, m, "alice")
	page, err := m.CreatePage("/x", "alice", "body")
	require.NoError(t, err)

	asset, err := m.CreateAsset(page.Id, "diagram.png", "image/png", "alice", []byte("pixels"))
	require.NoError(t, err)
	assert.Equal(t, int64(len("pixels")), asset.Size)

	data, err := m.ReadAssetData(asset.Id)
	require.NoError(t, err)
	assert.Equal(t, []byte("pixels"), data)
}

func TestCreateAssetRejectsConflictWithLiveAsset(t *testing.T) {
	m := newTestManager(t)
	mustUser(t, m, "alice")
	page, err := m.CreatePage("/x", "alice", "body")
	require.NoError(t, err)

	_, err = m.CreateAsset(page.Id, "diagram.png", "image/png", "alice", []byte("a"))
	require.NoError(t, err)

	_, err = m.CreateAsset(page.Id, "diagram.png", "image/png", "alice", []byte("b"))
	assert.ErrorIs(t, err, types.ErrAssetAlreadyExists)
}

func TestCreateAssetEvictsStaleTombstonedLookup(t *testing.T) {
	m := newTestManager(t)
	mustUser(t, m, "alice")
	page, err := m.CreatePage("/x", "alice", "body")
	require.NoError(t, err)

	first, err := m.CreateAsset(page.Id, "diagram.png", "image/png", "alice", []byte("a"))
	require.NoError(t, err)
	require.NoError(t, m.DeleteAsset(first.Id))

	second, err := m.CreateAsset(page.Id, "diagram.png", "image/png", "alice", []byte("b"))
	require.NoError(t, err)
	assert.NotEqual(t, first.Id, second.Id)

	data, err := m.ReadAssetData(second.Id)
	require.NoError(t, err)
	assert.Equal(t, []byte("b"), data)
}

func TestCreateAssetFailsOnMissingPageAndRemovesFile(t *testing.T) {
	m := newTestManager(t)
	mustUser(t, m, "alice")
	_, err := m.CreateAsset(types.NewPageId(), "diagram.png", "image/png", "alice", []byte("a"))
	assert.Error(t, err)
	assert.ErrorIs(t, err, types.ErrPageNotFound)

	files := 0
	require.NoError(t, filepath.WalkDir(m.assetRoot, func(_ string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			files++
		}
		return nil
	}))
	assert.Zero(t, files)
}

func TestDeleteAssetTombstonesAndClearsLookup(t *testing.T) {
	m := newTestManager(t)
	mustUser(t, m, "alice")
	page, err := m.CreatePage("/x", "alice", "body")
	require.NoError(t, err)
	asset, err := m.CreateAsset(page.Id, "diagram.png", "image/png", "alice", []byte("a"))
	require.NoError(t, err)

	require.NoError(t, m.DeleteAsset(asset.Id))

	assets, err := m.ListPageAssets(page.Id)
	require.NoError(t, err)
	require.Len(t, assets, 1)
	assert.True(t, assets[0].Deleted)
	assert.True(t, assets[0].IsZombie())
}

func TestDeleteAssetTwiceFails(t *testing.T) {
	m := newTestManager(t)
	mustUser(t, m, "alice")
	page, err := m.CreatePage("/x", "alice", "body")
	require.NoError(t, err)
	asset, err := m.CreateAsset(page.Id, "diagram.png", "image/png", "alice", []byte("a"))
	require.NoError(t, err)
	require.NoError(t, m.DeleteAsset(asset.Id))

	err = m.DeleteAsset(asset.Id)
	assert.ErrorIs(t, err, types.ErrAssetDeleted)
}

func TestDeleteAssetHardRemovesFileFromDisk(t *testing.T) {
	m := newTestManager(t)
	mustUser(t, m, "alice")
	page, err := m.CreatePage("/x", "alice", "body")
	require.NoError(t, err)
	asset, err := m.CreateAsset(page.Id, "diagram.png", "image/png", "alice", []byte("a"))
	require.NoError(t, err)

	path := m.assetFilePath(asset.Id)
	require.FileExists(t, path)

	require.NoError(t, m.DeleteAssetHard(asset.Id))

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	_, err = m.ReadAssetData(asset.Id)
	assert.ErrorIs(t, err, types.ErrAssetNotFound)
}

func TestUndeleteAssetWithRename(t *testing.T) {
	m := newTestManager(t)
	mustUser(t, m, "alice")
	page, err := m.CreatePage("/x", "alice", "body")
	require.NoError(t, err)
	asset, err := m.CreateAsset(page.Id, "diagram.png", "image/png", "alice", []byte("a"))
	require.NoError(t, err)
	require.NoError(t, m.DeleteAsset(asset.Id))

	revived, err := m.UndeleteAsset(asset.Id, "")
	require.NoError(t, err)
	assert.False(t, revived.Deleted)
	assert.True(t, revived.IsZombie())

	require.NoError(t, m.DeleteAsset(asset.Id))
	renamed, err := m.UndeleteAsset(asset.Id, "diagram-v2.png")
	require.NoError(t, err)
	assert.Equal(t, "diagram-v2.png", renamed.FileName)
}

func TestMoveAssetOutcomes(t *testing.T) {
	m := newTestManager(t)
	mustUser(t, m, "alice")
	src, err := m.CreatePage("/src", "alice", "body")
	require.NoError(t, err)
	dst, err := m.CreatePage("/dst", "alice", "body")
	require.NoError(t, err)

	asset, err := m.CreateAsset(src.Id, "diagram.png", "image/png", "alice", []byte("a"))
	require.NoError(t, err)

	outcome, err := m.MoveAsset(asset.Id, dst.Id, false)
	require.NoError(t, err)
	assert.Equal(t, MoveOutcomeMoved, outcome)

	outcome, err = m.MoveAsset(asset.Id, types.NewPageId(), false)
	require.NoError(t, err)
	assert.Equal(t, MoveOutcomePageNotFound, outcome)
}

func TestMoveAssetNameConflictWithoutForce(t *testing.T) {
	m := newTestManager(t)
	mustUser(t, m, "alice")
	src, err := m.CreatePage("/src", "alice", "body")
	require.NoError(t, err)
	dst, err := m.CreatePage("/dst", "alice", "body")
	require.NoError(t, err)

	asset, err := m.CreateAsset(src.Id, "diagram.png", "image/png", "alice", []byte("a"))
	require.NoError(t, err)
	_, err = m.CreateAsset(dst.Id, "diagram.png", "image/png", "alice", []byte("b"))
	require.NoError(t, err)

	outcome, err := m.MoveAsset(asset.Id, dst.Id, false)
	require.NoError(t, err)
	assert.Equal(t, MoveOutcomeNameConflict, outcome)

	outcome, err = m.MoveAsset(asset.Id, dst.Id, true)
	require.NoError(t, err)
	assert.Equal(t, MoveOutcomeMoved, outcome)
}

func TestMoveAssetToDeletedPageRequiresForce(t *testing.T) {
	m := newTestManager(t)
	mustUser(t, m, "alice")
	src, err := m.CreatePage("/src", "alice", "body")
	require.NoError(t, err)
	dst, err := m.CreatePage("/dst", "alice", "body")
	require.NoError(t, err)
	require.NoError(t, m.DeletePageByID(dst.Id))

	asset, err := m.CreateAsset(src.Id, "diagram.png", "image/png", "alice", []byte("a"))
	require.NoError(t, err)

	outcome, err := m.MoveAsset(asset.Id, dst.Id, false)
	require.NoError(t, err)
	assert.Equal(t, MoveOutcomePageDeleted, outcome)

	outcome, err = m.MoveAsset(asset.Id, dst.Id, true)
	require.NoError(t, err)
	assert.Equal(t, MoveOutcomeMoved, outcome)
}

func TestHasDeletedAssetByPageFile(t *testing.T) {
	m := newTestManager(t)
	mustUser(t, m, "alice")
	page, err := m.CreatePage("/x", "alice", "body")
	require.NoError(t, err)
	asset, err := m.CreateAsset(page.Id, "diagram.png", "image/png", "alice", []byte("a"))
	require.NoError(t, err)

	has, err := m.HasDeletedAssetByPageFile(page.Id, "diagram.png")
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, m.DeleteAsset(asset.Id))

	has, err = m.HasDeletedAssetByPageFile(page.Id, "diagram.png")
	require.NoError(t, err)
	assert.True(t, has)
}

func TestListAssetsReturnsEveryRecord(t *testing.T) {
	m := newTestManager(t)
	mustUser(t, m, "alice")
	page, err := m.CreatePage("/x", "alice", "body")
	require.NoError(t, err)
	_, err = m.CreateAsset(page.Id, "a.png", "image/png", "alice", []byte("a"))
	require.NoError(t, err)
	_, err = m.CreateAsset(page.Id, "b.png", "image/png", "alice", []byte("b"))
	require.NoError(t, err)

	assets, err := m.ListAssets()
	require.NoError(t, err)
	assert.Len(t, assets, 2)
}
