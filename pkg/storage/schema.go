package storage

import (
	"bytes"
	"embed"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/kwgt/luwiki-sub000/pkg/types"
	bolt "go.etcd.io/bbolt"
)

// Bucket names. Ten top-level buckets realize the tables named in the
// data model: two are emulated multimaps (a bucket of nested buckets),
// the rest are ordinary key -> JSON-value tables, following the same
// bucket-per-entity layout and JSON-as-value-format convention used
// throughout this store.
var (
	bucketPagePath        = []byte("page_path_table")
	bucketDeletedPagePath = []byte("deleted_page_path_table")
	bucketPageIndex       = []byte("page_index_table")
	bucketPageSource      = []byte("page_source_table")
	bucketLockInfo        = []byte("lock_info_table")
	bucketAssetInfo       = []byte("asset_info_table")
	bucketAssetLookup     = []byte("asset_lookup_table")
	bucketAssetGroup      = []byte("asset_group_table")
	bucketUserID          = []byte("user_id_table")
	bucketUserInfo        = []byte("user_info_table")
)

var allBuckets = [][]byte{
	bucketPagePath,
	bucketDeletedPagePath,
	bucketPageIndex,
	bucketPageSource,
	bucketLockInfo,
	bucketAssetInfo,
	bucketAssetLookup,
	bucketAssetGroup,
	bucketUserID,
	bucketUserInfo,
}

//go:embed data/default_root.md
var defaultRootFS embed.FS

func defaultRootSource() string {
	data, err := defaultRootFS.ReadFile("data/default_root.md")
	if err != nil {
		// Embedded at build time; a missing file is a packaging bug.
		panic(fmt.Sprintf("storage: embedded default root template missing: %v", err))
	}
	return string(data)
}

func createBuckets(db *bolt.DB) error {
	return db.Update(func(tx *bolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

// pageSourceKey encodes the (page id, revision) composite key so that
// byte order equals numeric (page id, revision) order; this is what makes
// a prefix scan on the 16-byte page id equivalent to a range scan over
// every revision of that page.
func pageSourceKey(page types.PageId, revision uint64) []byte {
	key := make([]byte, 24)
	copy(key[:16], page.Bytes())
	binary.BigEndian.PutUint64(key[16:], revision)
	return key
}

func pageSourceRevision(key []byte) uint64 {
	return binary.BigEndian.Uint64(key[16:])
}

// assetLookupKey encodes (page id, file name). File names are validated
// at the boundary to exclude the NUL byte, so it is a safe separator
// between the fixed-width id and the variable-width name.
func assetLookupKey(page types.PageId, fileName string) []byte {
	key := make([]byte, 0, 17+len(fileName))
	key = append(key, page.Bytes()...)
	key = append(key, 0x00)
	key = append(key, fileName...)
	return key
}

func assetLookupFileName(page types.PageId, key []byte) (string, bool) {
	prefix := page.Bytes()
	if len(key) <= len(prefix)+1 || !bytes.Equal(key[:len(prefix)], prefix) || key[len(prefix)] != 0x00 {
		return "", false
	}
	return string(key[len(prefix)+1:]), true
}

func getJSON(b *bolt.Bucket, key []byte, v interface{}) (bool, error) {
	data := b.Get(key)
	if data == nil {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("unmarshal %x: %w", key, err)
	}
	return true, nil
}

func putJSON(b *bolt.Bucket, key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %x: %w", key, err)
	}
	return b.Put(key, data)
}

// multimapPut adds value to the set stored under key in a nested-bucket
// emulated multimap table.
func multimapPut(parent *bolt.Bucket, key, value []byte) error {
	nested, err := parent.CreateBucketIfNotExists(key)
	if err != nil {
		return err
	}
	return nested.Put(value, []byte{})
}

// multimapDelete removes value from the set stored under key, deleting
// the nested bucket entirely once it is empty so an absent key means an
// empty set, not a dangling empty bucket.
func multimapDelete(parent *bolt.Bucket, key, value []byte) error {
	nested := parent.Bucket(key)
	if nested == nil {
		return nil
	}
	if err := nested.Delete(value); err != nil {
		return err
	}
	if nested.Stats().KeyN == 0 {
		return parent.DeleteBucket(key)
	}
	return nil
}

// multimapValues returns every value in the set stored under key.
func multimapValues(parent *bolt.Bucket, key []byte) [][]byte {
	nested := parent.Bucket(key)
	if nested == nil {
		return nil
	}
	var out [][]byte
	_ = nested.ForEach(func(k, _ []byte) error {
		cp := make([]byte, len(k))
		copy(cp, k)
		out = append(out, cp)
		return nil
	})
	return out
}

// multimapRemoveAll deletes the entire nested bucket for key and returns
// the values it held, mirroring redb's MultimapTable::remove_all.
func multimapRemoveAll(parent *bolt.Bucket, key []byte) ([][]byte, error) {
	values := multimapValues(parent, key)
	if values == nil {
		return nil, nil
	}
	if err := parent.DeleteBucket(key); err != nil && err != bolt.ErrBucketNotFound {
		return nil, err
	}
	return values, nil
}
