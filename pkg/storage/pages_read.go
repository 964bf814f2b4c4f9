package storage

import (
	"encoding/json"
	"time"

	"github.com/kwgt/luwiki-sub000/pkg/types"
	bolt "go.etcd.io/bbolt"
)

// PageEntry is a page index joined with its latest revision's author and
// lock state, the shape list_pages and list_page_entries_by_prefix need.
// Draft rows carry IsDraft == true and leave LatestRev, EarliestRev and
// AuthorUsername at their zero value.
type PageEntry struct {
	PageId         types.PageId
	Path           string
	IsDraft        bool
	Deleted        bool
	EarliestRev    uint64
	LatestRev      uint64
	AuthorUsername string
	Locked         bool
}

// GetPageIndexByID is a direct point query on the page index table.
func (m *Manager) GetPageIndexByID(id types.PageId) (types.PageIndex, error) {
	var index types.PageIndex
	err := m.db.View(func(tx *bolt.Tx) error {
		has, err := getJSON(tx.Bucket(bucketPageIndex), id.Bytes(), &index)
		if err != nil {
			return types.WrapError("GetPageIndexByID", types.KindInternal, err)
		}
		if !has {
			return types.ErrPageNotFound
		}
		return nil
	})
	return index, err
}

// GetPageSource is a direct point query on (page, revision).
func (m *Manager) GetPageSource(page types.PageId, revision uint64) (types.PageSource, error) {
	var source types.PageSource
	err := m.db.View(func(tx *bolt.Tx) error {
		has, err := getJSON(tx.Bucket(bucketPageSource), pageSourceKey(page, revision), &source)
		if err != nil {
			return types.WrapError("GetPageSource", types.KindInternal, err)
		}
		if !has {
			return types.ErrInvalidRevision
		}
		return nil
	})
	return source, err
}

// GetPageIDByPath is a direct point query on the live-path table.
func (m *Manager) GetPageIDByPath(path string) (types.PageId, error) {
	var id types.PageId
	err := m.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketPagePath).Get([]byte(path))
		if raw == nil {
			return types.ErrPageNotFound
		}
		parsed, err := types.IdFromBytes(raw)
		if err != nil {
			return types.WrapError("GetPageIDByPath", types.KindInternal, err)
		}
		id = types.PageId(parsed)
		return nil
	})
	return id, err
}

// GetDeletedPageIDsByPath returns every tombstoned page id that was once
// live at path.
func (m *Manager) GetDeletedPageIDsByPath(path string) ([]types.PageId, error) {
	var ids []types.PageId
	err := m.db.View(func(tx *bolt.Tx) error {
		for _, raw := range multimapValues(tx.Bucket(bucketDeletedPagePath), []byte(path)) {
			parsed, err := types.IdFromBytes(raw)
			if err != nil {
				return types.WrapError("GetDeletedPageIDsByPath", types.KindInternal, err)
			}
			ids = append(ids, types.PageId(parsed))
		}
		return nil
	})
	return ids, err
}

func (m *Manager) entryFromIndex(tx *bolt.Tx, index types.PageIndex) (PageEntry, error) {
	entry := PageEntry{
		PageId:  index.Id,
		Path:    index.Path,
		IsDraft: index.Draft,
		Deleted: index.Deleted,
	}

	if index.Draft {
		if _, _, found := findLockByPage(tx, index.Id); found {
			entry.Locked = true
		}
		return entry, nil
	}

	entry.EarliestRev = index.EarliestRev
	entry.LatestRev = index.LatestRev

	if token, ok := index.Lock(); ok {
		var info types.LockInfo
		if has, err := getJSON(tx.Bucket(bucketLockInfo), token.Bytes(), &info); err == nil && has {
			entry.Locked = !info.IsExpired(time.Now())
		}
	}

	var source types.PageSource
	if has, err := getJSON(tx.Bucket(bucketPageSource), pageSourceKey(index.Id, index.LatestRev), &source); err == nil && has {
		var user types.UserInfo
		if hasUser, err := getJSON(tx.Bucket(bucketUserInfo), source.AuthorUserId.Bytes(), &user); err == nil && hasUser {
			entry.AuthorUsername = user.Username
		}
	}

	return entry, nil
}

// ListPages performs one table scan joining every page index with its
// latest revision's author and current lock state.
func (m *Manager) ListPages() ([]PageEntry, error) {
	var out []PageEntry
	err := m.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPageIndex).ForEach(func(_, v []byte) error {
			var index types.PageIndex
			if err := json.Unmarshal(v, &index); err != nil {
				return types.WrapError("ListPages", types.KindInternal, err)
			}
			entry, err := m.entryFromIndex(tx, index)
			if err != nil {
				return err
			}
			out = append(out, entry)
			return nil
		})
	})
	return out, err
}

// ListPageEntriesByPrefix range-scans the live-path table from base
// onward, stopping at the first path neither equal to base nor prefixed
// by base+"/". When includeDeleted, a parallel scan of the deleted-path
// multimap contributes tombstoned entries under the same prefix.
func (m *Manager) ListPageEntriesByPrefix(base string, includeDeleted bool) ([]PageEntry, error) {
	var out []PageEntry
	err := m.db.View(func(tx *bolt.Tx) error {
		pathBucket := tx.Bucket(bucketPagePath)
		indexBucket := tx.Bucket(bucketPageIndex)
		prefix := recursivePrefix(base)

		c := pathBucket.Cursor()
		for k, v := c.Seek([]byte(base)); k != nil; k, v = c.Next() {
			path := string(k)
			if !pathInSubtree(path, base, prefix) {
				break
			}
			id, err := types.IdFromBytes(v)
			if err != nil {
				return types.WrapError("ListPageEntriesByPrefix", types.KindInternal, err)
			}
			var index types.PageIndex
			has, err := getJSON(indexBucket, id[:], &index)
			if err != nil {
				return types.WrapError("ListPageEntriesByPrefix", types.KindInternal, err)
			}
			if !has {
				continue
			}
			entry, err := m.entryFromIndex(tx, index)
			if err != nil {
				return err
			}
			out = append(out, entry)
		}

		if !includeDeleted {
			return nil
		}

		deletedBucket := tx.Bucket(bucketDeletedPagePath)
		dc := deletedBucket.Cursor()
		for k, v := dc.Seek([]byte(base)); k != nil; k, v = dc.Next() {
			if v != nil {
				continue
			}
			path := string(k)
			if !pathInSubtree(path, base, prefix) {
				break
			}
			for _, raw := range multimapValues(deletedBucket, k) {
				id, err := types.IdFromBytes(raw)
				if err != nil {
					return types.WrapError("ListPageEntriesByPrefix", types.KindInternal, err)
				}
				var index types.PageIndex
				has, err := getJSON(indexBucket, id[:], &index)
				if err != nil {
					return types.WrapError("ListPageEntriesByPrefix", types.KindInternal, err)
				}
				if !has {
					continue
				}
				entry, err := m.entryFromIndex(tx, index)
				if err != nil {
					return err
				}
				out = append(out, entry)
			}
		}

		return nil
	})
	return out, err
}

// ListPageSourceEntriesByID returns every revision of page, by range
// scan on the (page, 0)..(page, max) key prefix.
func (m *Manager) ListPageSourceEntriesByID(page types.PageId) ([]types.PageSource, error) {
	var out []types.PageSource
	err := m.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketPageSource).Cursor()
		prefix := page.Bytes()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var source types.PageSource
			if err := json.Unmarshal(v, &source); err != nil {
				return types.WrapError("ListPageSourceEntriesByID", types.KindInternal, err)
			}
			out = append(out, source)
		}
		return nil
	})
	return out, err
}

// ListPageSourceEntries returns every revision of every page in the
// store, for an external full-text indexer to do a full reindex.
func (m *Manager) ListPageSourceEntries() ([]types.PageSource, error) {
	var out []types.PageSource
	err := m.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPageSource).ForEach(func(_, v []byte) error {
			var source types.PageSource
			if err := json.Unmarshal(v, &source); err != nil {
				return types.WrapError("ListPageSourceEntries", types.KindInternal, err)
			}
			out = append(out, source)
			return nil
		})
	})
	return out, err
}

// ListPageIndexEntries returns every page index row in the store.
func (m *Manager) ListPageIndexEntries() ([]types.PageIndex, error) {
	var out []types.PageIndex
	err := m.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPageIndex).ForEach(func(_, v []byte) error {
			var index types.PageIndex
			if err := json.Unmarshal(v, &index); err != nil {
				return types.WrapError("ListPageIndexEntries", types.KindInternal, err)
			}
			out = append(out, index)
			return nil
		})
	})
	return out, err
}

func hasPrefix(key, prefix []byte) bool {
	if len(key) < len(prefix) {
		return false
	}
	for i := range prefix {
		if key[i] != prefix[i] {
			return false
		}
	}
	return true
}
