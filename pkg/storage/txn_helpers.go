package storage

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/kwgt/luwiki-sub000/pkg/types"
	bolt "go.etcd.io/bbolt"
)

// recursivePageTarget pairs a page id with the path it was found at
// during a recursive collection scan.
type recursivePageTarget struct {
	PageId types.PageId
	Path   string
}

// findLockByPage linearly scans the lock table for a row whose PageId
// matches. The lock table is small (at most one row per currently-locked
// page) so a full scan is an acceptable cost for this lookup, matching
// the source system's own approach.
func findLockByPage(tx *bolt.Tx, page types.PageId) (types.LockToken, types.LockInfo, bool) {
	b := tx.Bucket(bucketLockInfo)
	var token types.LockToken
	var info types.LockInfo
	found := false

	_ = b.ForEach(func(k, v []byte) error {
		if found {
			return nil
		}
		var li types.LockInfo
		if err := json.Unmarshal(v, &li); err != nil {
			return nil
		}
		if li.PageId == page {
			if id, err := types.IdFromBytes(k); err == nil {
				token = types.LockToken(id)
				info = li
				found = true
			}
		}
		return nil
	})

	return token, info, found
}

// verifyPageLockInTxn enforces the load-bearing write guard: if index
// carries a token and that token's row is still live (not expired), the
// write must fail with PageLocked. If the row is missing or expired, the
// stale token is cleared from both the index and (if present) the lock
// table, and the index row is rewritten so the caller's subsequent write
// in the same transaction sees the cleared state.
func verifyPageLockInTxn(tx *bolt.Tx, page types.PageId, index *types.PageIndex, now time.Time) error {
	token, ok := index.Lock()
	if !ok {
		return nil
	}

	lockBucket := tx.Bucket(bucketLockInfo)
	indexBucket := tx.Bucket(bucketPageIndex)

	var info types.LockInfo
	hasRow, err := getJSON(lockBucket, token.Bytes(), &info)
	if err != nil {
		return types.WrapError("verifyPageLock", types.KindInternal, err)
	}

	if hasRow && !info.IsExpired(now) {
		return types.ErrPageLocked
	}

	if hasRow {
		if err := lockBucket.Delete(token.Bytes()); err != nil {
			return types.WrapError("verifyPageLock", types.KindInternal, err)
		}
	}

	*index = index.WithoutLock()
	if err := putJSON(indexBucket, page.Bytes(), index); err != nil {
		return types.WrapError("verifyPageLock", types.KindInternal, err)
	}
	return nil
}

func recursivePrefix(basePath string) string {
	if basePath == types.RootPagePath {
		return types.RootPagePath
	}
	base := basePath
	for len(base) > 1 && base[len(base)-1] == '/' {
		base = base[:len(base)-1]
	}
	return base + "/"
}

func pathInSubtree(path, basePath, prefix string) bool {
	return path == basePath || bytes.HasPrefix([]byte(path), []byte(prefix))
}

// collectRecursiveLiveIDs range-scans the live-path table from basePath
// onward and returns the id of every row in the subtree rooted at
// basePath. It aborts before returning anything if a draft, a live
// (non-expired) lock, or the absence of an expected index row is found,
// so callers either get the whole subtree or an error with no partial
// mutation having occurred.
func collectRecursiveLiveIDs(tx *bolt.Tx, basePath string) ([]types.PageId, error) {
	targets, err := collectRecursiveLiveTargets(tx, basePath)
	if err != nil {
		return nil, err
	}
	ids := make([]types.PageId, len(targets))
	for i, t := range targets {
		ids[i] = t.PageId
	}
	return ids, nil
}

func collectRecursiveLiveTargets(tx *bolt.Tx, basePath string) ([]recursivePageTarget, error) {
	pathBucket := tx.Bucket(bucketPagePath)
	indexBucket := tx.Bucket(bucketPageIndex)

	prefix := recursivePrefix(basePath)
	now := time.Now()

	c := pathBucket.Cursor()
	var targets []recursivePageTarget

	for k, v := c.Seek([]byte(basePath)); k != nil; k, v = c.Next() {
		path := string(k)
		if !pathInSubtree(path, basePath, prefix) {
			break
		}

		id, err := types.IdFromBytes(v)
		if err != nil {
			return nil, types.WrapError("collectRecursiveLiveTargets", types.KindInternal, err)
		}
		pageID := types.PageId(id)

		var index types.PageIndex
		has, err := getJSON(indexBucket, pageID.Bytes(), &index)
		if err != nil {
			return nil, types.WrapError("collectRecursiveLiveTargets", types.KindInternal, err)
		}
		if !has {
			return nil, types.ErrPageNotFound
		}

		if index.Draft {
			return nil, types.ErrPageLocked
		}
		if index.Deleted {
			return nil, types.ErrPageDeleted
		}

		if err := verifyPageLockInTxn(tx, pageID, &index, now); err != nil {
			return nil, err
		}

		targets = append(targets, recursivePageTarget{PageId: pageID, Path: path})
	}

	return targets, nil
}

// collectRecursiveDeletedTargets is the tombstone-side counterpart of
// collectRecursiveLiveTargets: it scans the deleted-path multimap instead
// of the live-path table and requires every hit to already be tombstoned.
func collectRecursiveDeletedTargets(tx *bolt.Tx, basePath string) ([]recursivePageTarget, error) {
	deletedBucket := tx.Bucket(bucketDeletedPagePath)
	indexBucket := tx.Bucket(bucketPageIndex)

	prefix := recursivePrefix(basePath)
	now := time.Now()

	c := deletedBucket.Cursor()
	var targets []recursivePageTarget

	for k, v := c.Seek([]byte(basePath)); k != nil; k, v = c.Next() {
		if v != nil {
			// Not a nested bucket; skip (should not happen in this table).
			continue
		}
		path := string(k)
		if !pathInSubtree(path, basePath, prefix) {
			break
		}

		for _, idBytes := range multimapValues(deletedBucket, k) {
			id, err := types.IdFromBytes(idBytes)
			if err != nil {
				return nil, types.WrapError("collectRecursiveDeletedTargets", types.KindInternal, err)
			}
			pageID := types.PageId(id)

			var index types.PageIndex
			has, err := getJSON(indexBucket, pageID.Bytes(), &index)
			if err != nil {
				return nil, types.WrapError("collectRecursiveDeletedTargets", types.KindInternal, err)
			}
			if !has {
				return nil, types.ErrPageNotFound
			}
			if index.Draft {
				return nil, types.ErrPageLocked
			}
			if !index.Deleted {
				return nil, types.NewError("collectRecursiveDeletedTargets", types.KindInternal)
			}

			if err := verifyPageLockInTxn(tx, pageID, &index, now); err != nil {
				return nil, err
			}

			targets = append(targets, recursivePageTarget{PageId: pageID, Path: path})
		}
	}

	return targets, nil
}

// deleteDraftInTxn tears down a draft's path entry, index row, and every
// asset attached to it, returning the affected asset ids so their files
// can be removed after commit.
func deleteDraftInTxn(tx *bolt.Tx, page types.PageId) ([]types.AssetId, error) {
	pathBucket := tx.Bucket(bucketPagePath)
	indexBucket := tx.Bucket(bucketPageIndex)
	assetBucket := tx.Bucket(bucketAssetInfo)
	lookupBucket := tx.Bucket(bucketAssetLookup)
	groupBucket := tx.Bucket(bucketAssetGroup)

	var index types.PageIndex
	has, err := getJSON(indexBucket, page.Bytes(), &index)
	if err != nil {
		return nil, types.WrapError("deleteDraft", types.KindInternal, err)
	}
	if !has {
		return nil, types.ErrPageNotFound
	}
	if !index.Draft {
		return nil, types.ErrPageNotFound
	}
	if types.IsRootPath(index.Path) {
		return nil, types.ErrRootPageProtected
	}

	assetIDRaw, err := multimapRemoveAll(groupBucket, page.Bytes())
	if err != nil {
		return nil, types.WrapError("deleteDraft", types.KindInternal, err)
	}

	var assetIDs []types.AssetId
	for _, raw := range assetIDRaw {
		id, err := types.IdFromBytes(raw)
		if err != nil {
			return nil, types.WrapError("deleteDraft", types.KindInternal, err)
		}
		assetID := types.AssetId(id)

		var info types.AssetInfo
		hasInfo, err := getJSON(assetBucket, assetID.Bytes(), &info)
		if err != nil {
			return nil, types.WrapError("deleteDraft", types.KindInternal, err)
		}
		if !hasInfo {
			assetIDs = append(assetIDs, assetID)
			continue
		}

		_ = lookupBucket.Delete(assetLookupKey(page, info.FileName))
		_ = assetBucket.Delete(assetID.Bytes())
		assetIDs = append(assetIDs, assetID)
	}

	_ = pathBucket.Delete([]byte(index.Path))
	_ = indexBucket.Delete(page.Bytes())

	return assetIDs, nil
}

// deletePageSoftInTxn tombstones a live page: rejects root, draft and
// already-deleted pages, clears any lock, moves the path from live to
// deleted, and detaches (without hard-deleting) every attached asset.
func deletePageSoftInTxn(tx *bolt.Tx, page types.PageId) error {
	pathBucket := tx.Bucket(bucketPagePath)
	deletedBucket := tx.Bucket(bucketDeletedPagePath)
	indexBucket := tx.Bucket(bucketPageIndex)
	lockBucket := tx.Bucket(bucketLockInfo)
	assetBucket := tx.Bucket(bucketAssetInfo)
	lookupBucket := tx.Bucket(bucketAssetLookup)
	groupBucket := tx.Bucket(bucketAssetGroup)

	var index types.PageIndex
	has, err := getJSON(indexBucket, page.Bytes(), &index)
	if err != nil {
		return types.WrapError("deletePageSoft", types.KindInternal, err)
	}
	if !has {
		return types.ErrPageNotFound
	}
	if index.Draft {
		return types.ErrPageLocked
	}
	if index.Deleted {
		return types.NewError("deletePageSoft", types.KindInternal)
	}
	if types.IsRootPath(index.Path) {
		return types.ErrRootPageProtected
	}

	if token, ok := index.Lock(); ok {
		_ = lockBucket.Delete(token.Bytes())
	}

	currentPath := index.Path
	index = index.WithoutLock()
	index.Deleted = true
	index.Path = currentPath
	if err := putJSON(indexBucket, page.Bytes(), &index); err != nil {
		return types.WrapError("deletePageSoft", types.KindInternal, err)
	}

	_ = pathBucket.Delete([]byte(currentPath))
	if err := multimapPut(deletedBucket, []byte(currentPath), page.Bytes()); err != nil {
		return types.WrapError("deletePageSoft", types.KindInternal, err)
	}

	for _, assetIDRaw := range multimapValues(groupBucket, page.Bytes()) {
		assetID, err := types.IdFromBytes(assetIDRaw)
		if err != nil {
			return types.WrapError("deletePageSoft", types.KindInternal, err)
		}
		var info types.AssetInfo
		hasInfo, err := getJSON(assetBucket, assetID[:], &info)
		if err != nil {
			return types.WrapError("deletePageSoft", types.KindInternal, err)
		}
		if !hasInfo {
			return types.NewError("deletePageSoft", types.KindInternal)
		}
		if info.Deleted {
			continue
		}

		_ = lookupBucket.Delete(assetLookupKey(page, info.FileName))
		info.Deleted = true
		info.PageId = nil
		if err := putJSON(assetBucket, assetID[:], &info); err != nil {
			return types.WrapError("deletePageSoft", types.KindInternal, err)
		}
	}

	return nil
}

// deletePageHardInTxn permanently erases a (non-draft, non-root) page:
// every revision, its index row, its live/deleted path entries, and it
// detaches (not hard-deletes) every attached asset, appending the
// detached ids to assetIDs so their files can be purged after commit.
func deletePageHardInTxn(tx *bolt.Tx, page types.PageId, assetIDs *[]types.AssetId) error {
	pathBucket := tx.Bucket(bucketPagePath)
	deletedBucket := tx.Bucket(bucketDeletedPagePath)
	indexBucket := tx.Bucket(bucketPageIndex)
	sourceBucket := tx.Bucket(bucketPageSource)
	lockBucket := tx.Bucket(bucketLockInfo)
	assetBucket := tx.Bucket(bucketAssetInfo)
	lookupBucket := tx.Bucket(bucketAssetLookup)
	groupBucket := tx.Bucket(bucketAssetGroup)

	var index types.PageIndex
	has, err := getJSON(indexBucket, page.Bytes(), &index)
	if err != nil {
		return types.WrapError("deletePageHard", types.KindInternal, err)
	}
	if !has {
		return types.ErrPageNotFound
	}
	if index.Draft {
		return types.ErrPageLocked
	}
	if types.IsRootPath(index.Path) {
		return types.ErrRootPageProtected
	}

	if token, ok := index.Lock(); ok {
		_ = lockBucket.Delete(token.Bytes())
	}

	groupIDs, err := multimapRemoveAll(groupBucket, page.Bytes())
	if err != nil {
		return types.WrapError("deletePageHard", types.KindInternal, err)
	}
	for _, raw := range groupIDs {
		assetID, err := types.IdFromBytes(raw)
		if err != nil {
			return types.WrapError("deletePageHard", types.KindInternal, err)
		}
		var info types.AssetInfo
		hasInfo, err := getJSON(assetBucket, assetID[:], &info)
		if err != nil {
			return types.WrapError("deletePageHard", types.KindInternal, err)
		}
		if !hasInfo {
			continue
		}

		_ = lookupBucket.Delete(assetLookupKey(page, info.FileName))
		info.Deleted = true
		info.PageId = nil
		if err := putJSON(assetBucket, assetID[:], &info); err != nil {
			return types.WrapError("deletePageHard", types.KindInternal, err)
		}
		*assetIDs = append(*assetIDs, types.AssetId(assetID))
	}

	for rev := index.EarliestRev; rev <= index.LatestRev; rev++ {
		_ = sourceBucket.Delete(pageSourceKey(page, rev))
	}

	if !index.Deleted {
		_ = pathBucket.Delete([]byte(index.Path))
	} else {
		if err := multimapDelete(deletedBucket, []byte(index.Path), page.Bytes()); err != nil {
			return types.WrapError("deletePageHard", types.KindInternal, err)
		}
	}

	_ = indexBucket.Delete(page.Bytes())

	return nil
}

