package storage

import (
	"testing"

	"github.com/kwgt/luwiki-sub000/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
)

func TestPageSourceKeyOrdersByRevision(t *testing.T) {
	page := types.NewPageId()

	k1 := pageSourceKey(page, 1)
	k2 := pageSourceKey(page, 2)
	k10 := pageSourceKey(page, 10)

	assert.Less(t, string(k1), string(k2))
	assert.Less(t, string(k2), string(k10))
	assert.Equal(t, uint64(1), pageSourceRevision(k1))
	assert.Equal(t, uint64(10), pageSourceRevision(k10))
}

func TestAssetLookupKeyRoundTripsFileName(t *testing.T) {
	page := types.NewPageId()
	key := assetLookupKey(page, "diagram.png")

	name, ok := assetLookupFileName(page, key)
	require.True(t, ok)
	assert.Equal(t, "diagram.png", name)
}

func TestAssetLookupFileNameRejectsForeignPage(t *testing.T) {
	page := types.NewPageId()
	other := types.NewPageId()
	key := assetLookupKey(page, "diagram.png")

	_, ok := assetLookupFileName(other, key)
	assert.False(t, ok)
}

func TestMultimapPutValuesDelete(t *testing.T) {
	dir := t.TempDir()
	db, err := bolt.Open(dir+"/test.db", 0o600, nil)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Update(func(tx *bolt.Tx) error {
		parent, err := tx.CreateBucket([]byte("parent"))
		if err != nil {
			return err
		}

		key := []byte("group")
		require.NoError(t, multimapPut(parent, key, []byte("a")))
		require.NoError(t, multimapPut(parent, key, []byte("b")))

		values := multimapValues(parent, key)
		assert.ElementsMatch(t, [][]byte{[]byte("a"), []byte("b")}, values)

		require.NoError(t, multimapDelete(parent, key, []byte("a")))
		assert.Equal(t, [][]byte{[]byte("b")}, multimapValues(parent, key))

		require.NoError(t, multimapDelete(parent, key, []byte("b")))
		assert.Nil(t, multimapValues(parent, key))
		return nil
	}))
}

func TestMultimapRemoveAllReturnsValuesAndClearsBucket(t *testing.T) {
	dir := t.TempDir()
	db, err := bolt.Open(dir+"/test.db", 0o600, nil)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Update(func(tx *bolt.Tx) error {
		parent, err := tx.CreateBucket([]byte("parent"))
		if err != nil {
			return err
		}

		key := []byte("group")
		require.NoError(t, multimapPut(parent, key, []byte("a")))
		require.NoError(t, multimapPut(parent, key, []byte("b")))

		values, err := multimapRemoveAll(parent, key)
		require.NoError(t, err)
		assert.ElementsMatch(t, [][]byte{[]byte("a"), []byte("b")}, values)
		assert.Nil(t, multimapValues(parent, key))
		return nil
	}))
}

func TestMultimapRemoveAllOnMissingKey(t *testing.T) {
	dir := t.TempDir()
	db, err := bolt.Open(dir+"/test.db", 0o600, nil)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Update(func(tx *bolt.Tx) error {
		parent, err := tx.CreateBucket([]byte("parent"))
		if err != nil {
			return err
		}
		values, err := multimapRemoveAll(parent, []byte("absent"))
		require.NoError(t, err)
		assert.Nil(t, values)
		return nil
	}))
}

func TestCreateBucketsIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	db, err := bolt.Open(dir+"/test.db", 0o600, nil)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, createBuckets(db))
	require.NoError(t, createBuckets(db))

	require.NoError(t, db.View(func(tx *bolt.Tx) error {
		for _, name := range allBuckets {
			assert.NotNil(t, tx.Bucket(name), "bucket %s should exist", name)
		}
		return nil
	}))
}

func TestDefaultRootSourceIsNonEmpty(t *testing.T) {
	assert.NotEmpty(t, defaultRootSource())
}
