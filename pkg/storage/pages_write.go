package storage

import (
	"strings"
	"time"

	"github.com/kwgt/luwiki-sub000/pkg/events"
	"github.com/kwgt/luwiki-sub000/pkg/metrics"
	"github.com/kwgt/luwiki-sub000/pkg/types"
	bolt "go.etcd.io/bbolt"
)

// lastPathSegment returns the final non-empty "/"-delimited segment of
// path, or "" if path has none (root).
func lastPathSegment(path string) string {
	trimmed := strings.TrimSuffix(path, "/")
	idx := strings.LastIndex(trimmed, "/")
	return trimmed[idx+1:]
}

// effectiveDestPath appends srcPath's final segment to dstPath when
// dstPath names a directory (ends with "/"), matching a Unix mv-into-
// directory shorthand.
func effectiveDestPath(srcPath, dstPath string) string {
	if !strings.HasSuffix(dstPath, "/") {
		return dstPath
	}
	return strings.TrimSuffix(dstPath, "/") + "/" + lastPathSegment(srcPath)
}

func recordPageWrite(op string, err error, timer *metrics.Timer) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.PageWritesTotal.WithLabelValues(op, result).Inc()
	timer.ObserveDurationVec(metrics.PageWriteDuration, op)
}

// CreatePage creates a live page at revision 1. Fails PageAlreadyExists
// if path is already taken.
func (m *Manager) CreatePage(path, userName, source string) (types.PageIndex, error) {
	const op = "create_page"
	timer := metrics.NewTimer()
	var index types.PageIndex

	err := m.db.Update(func(tx *bolt.Tx) error {
		pathBucket := tx.Bucket(bucketPagePath)
		indexBucket := tx.Bucket(bucketPageIndex)
		sourceBucket := tx.Bucket(bucketPageSource)

		if pathBucket.Get([]byte(path)) != nil {
			return types.ErrPageAlreadyExists
		}

		user, err := m.GetUserByUsername(userName)
		if err != nil {
			return err
		}

		id := types.NewPageId()
		links := resolveLinkRefs(tx, path, source)

		index = types.NewLivePageIndex(id, path, 1)

		src := types.PageSource{
			Revision:     1,
			Timestamp:    time.Now(),
			AuthorUserId: user.Id,
			RenameInfo:   &types.RenameInfo{From: nil, To: path, LinkRefs: links},
			Markdown:     source,
		}

		if err := putJSON(indexBucket, id.Bytes(), &index); err != nil {
			return types.WrapError(op, types.KindInternal, err)
		}
		if err := putJSON(sourceBucket, pageSourceKey(id, 1), &src); err != nil {
			return types.WrapError(op, types.KindInternal, err)
		}
		return pathBucket.Put([]byte(path), id.Bytes())
	})

	recordPageWrite(op, err, timer)
	if err != nil {
		return types.PageIndex{}, err
	}

	m.publish(&events.Event{Type: events.EventPageCreated, PageId: index.Id, Path: path})
	return index, nil
}

// CreateDraftPage creates a draft index and mints a lock on it, returning
// the new page id and the lock. Fails PageAlreadyExists if path is taken.
func (m *Manager) CreateDraftPage(path, userName string) (types.PageId, types.LockInfo, error) {
	const op = "create_draft_page"
	timer := metrics.NewTimer()
	var id types.PageId
	var lock types.LockInfo

	err := m.db.Update(func(tx *bolt.Tx) error {
		pathBucket := tx.Bucket(bucketPagePath)
		indexBucket := tx.Bucket(bucketPageIndex)
		lockBucket := tx.Bucket(bucketLockInfo)

		if pathBucket.Get([]byte(path)) != nil {
			return types.ErrPageAlreadyExists
		}

		user, err := m.GetUserByUsername(userName)
		if err != nil {
			return err
		}

		id = types.NewPageId()
		index := types.NewDraftPageIndex(id, path)
		lock = types.NewLockInfo(id, user.Id, time.Now())

		if err := putJSON(indexBucket, id.Bytes(), &index); err != nil {
			return types.WrapError(op, types.KindInternal, err)
		}
		if err := putJSON(lockBucket, lock.Token.Bytes(), &lock); err != nil {
			return types.WrapError(op, types.KindInternal, err)
		}
		return pathBucket.Put([]byte(path), id.Bytes())
	})

	recordPageWrite(op, err, timer)
	if err != nil {
		return types.PageId{}, types.LockInfo{}, err
	}
	return id, lock, nil
}

// PutPage writes a new draft-graduating revision, an amended revision, or
// a fresh incremented revision, per the page index's current state.
func (m *Manager) PutPage(page types.PageId, user types.UserId, source string, amend bool) (types.PageIndex, error) {
	const op = "put_page"
	timer := metrics.NewTimer()
	var index types.PageIndex
	var eventType events.EventType

	err := m.db.Update(func(tx *bolt.Tx) error {
		indexBucket := tx.Bucket(bucketPageIndex)
		sourceBucket := tx.Bucket(bucketPageSource)

		has, err := getJSON(indexBucket, page.Bytes(), &index)
		if err != nil {
			return types.WrapError(op, types.KindInternal, err)
		}
		if !has {
			return types.ErrPageNotFound
		}

		if index.Draft {
			if amend {
				return types.ErrAmendForbidden
			}

			links := resolveLinkRefs(tx, index.Path, source)
			token, _, found := findLockByPage(tx, page)

			index = types.NewLivePageIndex(page, index.Path, 1)
			if found {
				index = index.WithLock(token)
			}

			src := types.PageSource{
				Revision:     1,
				Timestamp:    time.Now(),
				AuthorUserId: user,
				RenameInfo:   &types.RenameInfo{From: nil, To: index.Path, LinkRefs: links},
				Markdown:     source,
			}

			if err := putJSON(sourceBucket, pageSourceKey(page, 1), &src); err != nil {
				return types.WrapError(op, types.KindInternal, err)
			}
			if err := putJSON(indexBucket, page.Bytes(), &index); err != nil {
				return types.WrapError(op, types.KindInternal, err)
			}
			eventType = events.EventPageCreated
			return nil
		}

		if index.Deleted {
			return types.ErrPageDeleted
		}

		if amend {
			var latest types.PageSource
			hasLatest, err := getJSON(sourceBucket, pageSourceKey(page, index.LatestRev), &latest)
			if err != nil {
				return types.WrapError(op, types.KindInternal, err)
			}
			if !hasLatest {
				return types.NewError(op, types.KindInternal)
			}
			if latest.AuthorUserId != user {
				return types.ErrAmendForbidden
			}

			latest.Markdown = source
			latest.Timestamp = time.Now()
			if err := putJSON(sourceBucket, pageSourceKey(page, index.LatestRev), &latest); err != nil {
				return types.WrapError(op, types.KindInternal, err)
			}
			eventType = events.EventPageUpdated
			return nil
		}

		if err := verifyPageLockInTxn(tx, page, &index, time.Now()); err != nil {
			return err
		}

		newRev := index.LatestRev + 1
		src := types.PageSource{
			Revision:     newRev,
			Timestamp:    time.Now(),
			AuthorUserId: user,
			Markdown:     source,
		}
		if err := putJSON(sourceBucket, pageSourceKey(page, newRev), &src); err != nil {
			return types.WrapError(op, types.KindInternal, err)
		}

		index.LatestRev = newRev
		if err := putJSON(indexBucket, page.Bytes(), &index); err != nil {
			return types.WrapError(op, types.KindInternal, err)
		}
		eventType = events.EventPageUpdated
		return nil
	})

	recordPageWrite(op, err, timer)
	if err != nil {
		return types.PageIndex{}, err
	}

	m.publish(&events.Event{Type: eventType, PageId: page, Path: index.Path})
	return index, nil
}

// RenamePage moves a live page from srcPath to dstPath (or, if dstPath
// ends with "/", to dstPath + srcPath's last segment), recording the
// rename in a new revision.
func (m *Manager) RenamePage(srcPath, dstPath string) (types.PageIndex, error) {
	const op = "rename_page"
	timer := metrics.NewTimer()
	var index types.PageIndex

	if types.IsRootPath(srcPath) {
		return types.PageIndex{}, types.ErrRootPageProtected
	}
	effective := effectiveDestPath(srcPath, dstPath)

	err := m.db.Update(func(tx *bolt.Tx) error {
		pathBucket := tx.Bucket(bucketPagePath)
		indexBucket := tx.Bucket(bucketPageIndex)
		sourceBucket := tx.Bucket(bucketPageSource)

		raw := pathBucket.Get([]byte(srcPath))
		if raw == nil {
			return types.ErrPageNotFound
		}
		id, err := types.IdFromBytes(raw)
		if err != nil {
			return types.WrapError(op, types.KindInternal, err)
		}
		page := types.PageId(id)

		has, err := getJSON(indexBucket, page.Bytes(), &index)
		if err != nil {
			return types.WrapError(op, types.KindInternal, err)
		}
		if !has {
			return types.ErrPageNotFound
		}
		if index.Draft {
			return types.ErrPageLocked
		}
		if pathBucket.Get([]byte(effective)) != nil {
			return types.ErrPageAlreadyExists
		}

		var latest types.PageSource
		hasLatest, err := getJSON(sourceBucket, pageSourceKey(page, index.LatestRev), &latest)
		if err != nil {
			return types.WrapError(op, types.KindInternal, err)
		}
		if !hasLatest {
			return types.NewError(op, types.KindInternal)
		}

		links := resolveLinkRefs(tx, srcPath, latest.Markdown)
		from := srcPath
		newRev := index.LatestRev + 1
		src := types.PageSource{
			Revision:     newRev,
			Timestamp:    time.Now(),
			AuthorUserId: latest.AuthorUserId,
			RenameInfo:   &types.RenameInfo{From: &from, To: effective, LinkRefs: links},
			Markdown:     latest.Markdown,
		}
		if err := putJSON(sourceBucket, pageSourceKey(page, newRev), &src); err != nil {
			return types.WrapError(op, types.KindInternal, err)
		}

		index.Path = effective
		index.LatestRev = newRev
		index.RenameRevisions = append(index.RenameRevisions, newRev)
		if err := putJSON(indexBucket, page.Bytes(), &index); err != nil {
			return types.WrapError(op, types.KindInternal, err)
		}

		_ = pathBucket.Delete([]byte(srcPath))
		return pathBucket.Put([]byte(effective), page.Bytes())
	})

	recordPageWrite(op, err, timer)
	if err != nil {
		return types.PageIndex{}, err
	}

	m.publish(&events.Event{Type: events.EventPageRenamed, PageId: index.Id, Path: effective})
	return index, nil
}

// RollbackPageSourceOnly deletes every revision after rollbackTo, leaving
// path and rename history untouched.
func (m *Manager) RollbackPageSourceOnly(page types.PageId, rollbackTo uint64) error {
	const op = "rollback_page_source_only"
	timer := metrics.NewTimer()

	err := m.db.Update(func(tx *bolt.Tx) error {
		indexBucket := tx.Bucket(bucketPageIndex)
		sourceBucket := tx.Bucket(bucketPageSource)

		var index types.PageIndex
		has, err := getJSON(indexBucket, page.Bytes(), &index)
		if err != nil {
			return types.WrapError(op, types.KindInternal, err)
		}
		if !has {
			return types.ErrPageNotFound
		}
		if index.Draft {
			return types.ErrPageLocked
		}
		if index.Deleted {
			return types.ErrPageDeleted
		}
		if rollbackTo < index.EarliestRev || rollbackTo > index.LatestRev {
			return types.ErrInvalidRevision
		}
		if err := verifyPageLockInTxn(tx, page, &index, time.Now()); err != nil {
			return err
		}

		for rev := rollbackTo + 1; rev <= index.LatestRev; rev++ {
			_ = sourceBucket.Delete(pageSourceKey(page, rev))
		}
		index.LatestRev = rollbackTo
		return putJSON(indexBucket, page.Bytes(), &index)
	})

	recordPageWrite(op, err, timer)
	if err != nil {
		return err
	}
	m.publish(&events.Event{Type: events.EventPageUpdated, PageId: page})
	return nil
}

// CompactPageSource deletes every revision before keepFrom, leaving path
// and rename history untouched.
func (m *Manager) CompactPageSource(page types.PageId, keepFrom uint64) error {
	const op = "compact_page_source"
	timer := metrics.NewTimer()

	err := m.db.Update(func(tx *bolt.Tx) error {
		indexBucket := tx.Bucket(bucketPageIndex)
		sourceBucket := tx.Bucket(bucketPageSource)

		var index types.PageIndex
		has, err := getJSON(indexBucket, page.Bytes(), &index)
		if err != nil {
			return types.WrapError(op, types.KindInternal, err)
		}
		if !has {
			return types.ErrPageNotFound
		}
		if index.Draft {
			return types.ErrPageLocked
		}
		if index.Deleted {
			return types.ErrPageDeleted
		}
		if keepFrom < index.EarliestRev || keepFrom > index.LatestRev {
			return types.ErrInvalidRevision
		}
		if err := verifyPageLockInTxn(tx, page, &index, time.Now()); err != nil {
			return err
		}

		for rev := index.EarliestRev; rev < keepFrom; rev++ {
			_ = sourceBucket.Delete(pageSourceKey(page, rev))
		}
		index.EarliestRev = keepFrom
		return putJSON(indexBucket, page.Bytes(), &index)
	})

	recordPageWrite(op, err, timer)
	return err
}

// DeletePageByID soft-deletes (tombstones) page, or cascade-deletes it if
// it is a draft.
func (m *Manager) DeletePageByID(page types.PageId) error {
	const op = "delete_page_by_id"
	timer := metrics.NewTimer()
	var orphanedAssets []types.AssetId

	err := m.db.Update(func(tx *bolt.Tx) error {
		var index types.PageIndex
		has, err := getJSON(tx.Bucket(bucketPageIndex), page.Bytes(), &index)
		if err != nil {
			return types.WrapError(op, types.KindInternal, err)
		}
		if !has {
			return types.ErrPageNotFound
		}
		if index.Draft {
			ids, err := deleteDraftInTxn(tx, page)
			if err != nil {
				return err
			}
			orphanedAssets = ids
			return nil
		}
		return deletePageSoftInTxn(tx, page)
	})

	recordPageWrite(op, err, timer)
	if err != nil {
		return err
	}
	if len(orphanedAssets) > 0 {
		m.deleteAssetFiles(orphanedAssets)
	}
	m.publish(&events.Event{Type: events.EventPageDeleted, PageId: page})
	return nil
}

// DeletePageByIDHard permanently erases page and every revision.
func (m *Manager) DeletePageByIDHard(page types.PageId) error {
	const op = "delete_page_by_id_hard"
	timer := metrics.NewTimer()
	var orphanedAssets []types.AssetId

	err := m.db.Update(func(tx *bolt.Tx) error {
		var index types.PageIndex
		has, err := getJSON(tx.Bucket(bucketPageIndex), page.Bytes(), &index)
		if err != nil {
			return types.WrapError(op, types.KindInternal, err)
		}
		if !has {
			return types.ErrPageNotFound
		}
		if index.Draft {
			ids, err := deleteDraftInTxn(tx, page)
			if err != nil {
				return err
			}
			orphanedAssets = ids
			return nil
		}
		return deletePageHardInTxn(tx, page, &orphanedAssets)
	})

	recordPageWrite(op, err, timer)
	if err != nil {
		return err
	}
	if len(orphanedAssets) > 0 {
		m.deleteAssetFiles(orphanedAssets)
	}
	m.publish(&events.Event{Type: events.EventPageDeleted, PageId: page})
	return nil
}

// DeletePageByIDWithLockToken soft-deletes a live page, enforcing that
// whoever holds an active lock on it must present the matching token.
func (m *Manager) DeletePageByIDWithLockToken(page types.PageId, user types.UserId, token *types.LockToken) error {
	const op = "delete_page_by_id_with_lock_token"
	timer := metrics.NewTimer()

	err := m.db.Update(func(tx *bolt.Tx) error {
		indexBucket := tx.Bucket(bucketPageIndex)
		lockBucket := tx.Bucket(bucketLockInfo)

		var index types.PageIndex
		has, err := getJSON(indexBucket, page.Bytes(), &index)
		if err != nil {
			return types.WrapError(op, types.KindInternal, err)
		}
		if !has {
			return types.ErrPageNotFound
		}
		if index.Draft {
			return types.ErrPageLocked
		}

		if heldToken, ok := index.Lock(); ok {
			var info types.LockInfo
			hasRow, err := getJSON(lockBucket, heldToken.Bytes(), &info)
			if err != nil {
				return types.WrapError(op, types.KindInternal, err)
			}
			if hasRow && !info.IsExpired(time.Now()) {
				if token == nil {
					return types.ErrPageLocked
				}
				if *token != heldToken || info.UserId != user {
					return types.ErrLockForbidden
				}
				_ = lockBucket.Delete(heldToken.Bytes())
			} else if hasRow {
				_ = lockBucket.Delete(heldToken.Bytes())
			}
		}

		return deletePageSoftInTxn(tx, page)
	})

	recordPageWrite(op, err, timer)
	if err != nil {
		return err
	}
	m.publish(&events.Event{Type: events.EventPageDeleted, PageId: page})
	return nil
}

// DeletePagesRecursiveByID applies a soft or hard delete to page and
// every page in its subtree, after confirming the whole subtree is
// lock-clean and draft-free. Returns the ids touched.
func (m *Manager) DeletePagesRecursiveByID(page types.PageId, hard bool) ([]types.PageId, error) {
	const op = "delete_pages_recursive_by_id"
	timer := metrics.NewTimer()

	var touched []types.PageId
	var orphanedAssets []types.AssetId

	err := m.db.Update(func(tx *bolt.Tx) error {
		var index types.PageIndex
		has, err := getJSON(tx.Bucket(bucketPageIndex), page.Bytes(), &index)
		if err != nil {
			return types.WrapError(op, types.KindInternal, err)
		}
		if !has {
			return types.ErrPageNotFound
		}
		if types.IsRootPath(index.Path) {
			return types.ErrRootPageProtected
		}

		targets, err := collectRecursiveLiveTargets(tx, index.Path)
		if err != nil {
			return err
		}

		found := false
		for _, t := range targets {
			if t.PageId == page {
				found = true
				break
			}
		}
		if !found {
			return types.NewError(op, types.KindInternal)
		}

		for _, t := range targets {
			if hard {
				if err := deletePageHardInTxn(tx, t.PageId, &orphanedAssets); err != nil {
					return err
				}
			} else {
				if err := deletePageSoftInTxn(tx, t.PageId); err != nil {
					return err
				}
			}
			touched = append(touched, t.PageId)
		}

		return nil
	})

	recordPageWrite(op, err, timer)
	if err != nil {
		return nil, err
	}

	if len(orphanedAssets) > 0 {
		m.deleteAssetFiles(orphanedAssets)
	}
	for _, id := range touched {
		m.publish(&events.Event{Type: events.EventPageDeleted, PageId: id})
	}
	return touched, nil
}

// renamePlanEntry pairs a subtree target with its computed destination.
type renamePlanEntry struct {
	recursivePageTarget
	dstPath string
}

// RenamePagesRecursiveByID moves page and its entire subtree under
// renameTo, computing every destination path before applying any of
// them so the whole plan commits or none of it does.
func (m *Manager) RenamePagesRecursiveByID(page types.PageId, renameTo string) ([]types.PageIndex, error) {
	const op = "rename_pages_recursive_by_id"
	timer := metrics.NewTimer()

	var results []types.PageIndex

	err := m.db.Update(func(tx *bolt.Tx) error {
		indexBucket := tx.Bucket(bucketPageIndex)
		pathBucket := tx.Bucket(bucketPagePath)
		sourceBucket := tx.Bucket(bucketPageSource)

		var rootIndex types.PageIndex
		has, err := getJSON(indexBucket, page.Bytes(), &rootIndex)
		if err != nil {
			return types.WrapError(op, types.KindInternal, err)
		}
		if !has {
			return types.ErrPageNotFound
		}
		if types.IsRootPath(rootIndex.Path) {
			return types.ErrRootPageProtected
		}

		srcBase := rootIndex.Path
		dstBase := effectiveDestPath(srcBase, renameTo)

		if pathInSubtree(dstBase, srcBase, recursivePrefix(srcBase)) {
			return types.NewError(op, types.KindInvalidPath)
		}

		targets, err := collectRecursiveLiveTargets(tx, srcBase)
		if err != nil {
			return err
		}

		targetIDs := make(map[types.PageId]bool, len(targets))
		for _, t := range targets {
			targetIDs[t.PageId] = true
		}

		plan := make([]renamePlanEntry, 0, len(targets))
		planDst := make(map[string]bool, len(targets))
		for _, t := range targets {
			suffix := strings.TrimPrefix(t.Path, srcBase)
			dst := dstBase + suffix
			if planDst[dst] {
				return types.ErrPageAlreadyExists
			}
			planDst[dst] = true

			if existing := pathBucket.Get([]byte(dst)); existing != nil {
				id, err := types.IdFromBytes(existing)
				if err != nil {
					return types.WrapError(op, types.KindInternal, err)
				}
				if !targetIDs[types.PageId(id)] {
					return types.ErrPageAlreadyExists
				}
			}

			plan = append(plan, renamePlanEntry{recursivePageTarget: t, dstPath: dst})
		}

		for _, entry := range plan {
			var index types.PageIndex
			has, err := getJSON(indexBucket, entry.PageId.Bytes(), &index)
			if err != nil {
				return types.WrapError(op, types.KindInternal, err)
			}
			if !has {
				return types.NewError(op, types.KindInternal)
			}

			var latest types.PageSource
			hasLatest, err := getJSON(sourceBucket, pageSourceKey(entry.PageId, index.LatestRev), &latest)
			if err != nil {
				return types.WrapError(op, types.KindInternal, err)
			}
			if !hasLatest {
				return types.NewError(op, types.KindInternal)
			}

			links := resolveLinkRefs(tx, entry.Path, latest.Markdown)
			from := entry.Path
			newRev := index.LatestRev + 1
			src := types.PageSource{
				Revision:     newRev,
				Timestamp:    time.Now(),
				AuthorUserId: latest.AuthorUserId,
				RenameInfo:   &types.RenameInfo{From: &from, To: entry.dstPath, LinkRefs: links},
				Markdown:     latest.Markdown,
			}
			if err := putJSON(sourceBucket, pageSourceKey(entry.PageId, newRev), &src); err != nil {
				return types.WrapError(op, types.KindInternal, err)
			}

			index.Path = entry.dstPath
			index.LatestRev = newRev
			index.RenameRevisions = append(index.RenameRevisions, newRev)
			if err := putJSON(indexBucket, entry.PageId.Bytes(), &index); err != nil {
				return types.WrapError(op, types.KindInternal, err)
			}

			_ = pathBucket.Delete([]byte(entry.Path))
			if err := pathBucket.Put([]byte(entry.dstPath), entry.PageId.Bytes()); err != nil {
				return types.WrapError(op, types.KindInternal, err)
			}

			results = append(results, index)
		}

		return nil
	})

	recordPageWrite(op, err, timer)
	if err != nil {
		return nil, err
	}
	for _, idx := range results {
		m.publish(&events.Event{Type: events.EventPageRenamed, PageId: idx.Id, Path: idx.Path})
	}
	return results, nil
}

// UndeletePageByID restores a tombstoned page to restoreTo (or, if
// restoreTo ends with "/", to restoreTo + the page's final segment).
func (m *Manager) UndeletePageByID(page types.PageId, restoreTo string, withAssets bool) (types.PageIndex, error) {
	const op = "undelete_page_by_id"
	timer := metrics.NewTimer()
	var index types.PageIndex

	err := m.db.Update(func(tx *bolt.Tx) error {
		indexBucket := tx.Bucket(bucketPageIndex)
		pathBucket := tx.Bucket(bucketPagePath)
		deletedBucket := tx.Bucket(bucketDeletedPagePath)
		assetBucket := tx.Bucket(bucketAssetInfo)
		lookupBucket := tx.Bucket(bucketAssetLookup)
		groupBucket := tx.Bucket(bucketAssetGroup)

		has, err := getJSON(indexBucket, page.Bytes(), &index)
		if err != nil {
			return types.WrapError(op, types.KindInternal, err)
		}
		if !has {
			return types.ErrPageNotFound
		}
		if !index.Deleted {
			return types.NewError(op, types.KindInternal)
		}

		effective := effectiveDestPath(index.Path, restoreTo)
		if pathBucket.Get([]byte(effective)) != nil {
			return types.ErrPageAlreadyExists
		}

		if err := multimapDelete(deletedBucket, []byte(index.Path), page.Bytes()); err != nil {
			return types.WrapError(op, types.KindInternal, err)
		}

		index.Deleted = false
		index.Path = effective
		if err := putJSON(indexBucket, page.Bytes(), &index); err != nil {
			return types.WrapError(op, types.KindInternal, err)
		}
		if err := pathBucket.Put([]byte(effective), page.Bytes()); err != nil {
			return types.WrapError(op, types.KindInternal, err)
		}

		if withAssets {
			for _, raw := range multimapValues(groupBucket, page.Bytes()) {
				id, err := types.IdFromBytes(raw)
				if err != nil {
					return types.WrapError(op, types.KindInternal, err)
				}
				assetID := types.AssetId(id)

				var info types.AssetInfo
				hasInfo, err := getJSON(assetBucket, assetID.Bytes(), &info)
				if err != nil {
					return types.WrapError(op, types.KindInternal, err)
				}
				if !hasInfo || !info.IsZombie() {
					continue
				}

				info.Deleted = false
				p := page
				info.PageId = &p
				if err := putJSON(assetBucket, assetID.Bytes(), &info); err != nil {
					return types.WrapError(op, types.KindInternal, err)
				}
				if err := lookupBucket.Put(assetLookupKey(page, info.FileName), assetID.Bytes()); err != nil {
					return types.WrapError(op, types.KindInternal, err)
				}
			}
		}

		return nil
	})

	recordPageWrite(op, err, timer)
	if err != nil {
		return types.PageIndex{}, err
	}
	m.publish(&events.Event{Type: events.EventPageUndeleted, PageId: index.Id, Path: index.Path})
	return index, nil
}

// UndeletePagesRecursiveByID restores a tombstoned subtree under
// restoreTo, with the same plan-before-apply discipline as
// RenamePagesRecursiveByID.
func (m *Manager) UndeletePagesRecursiveByID(page types.PageId, restoreTo string, withAssets bool) ([]types.PageIndex, error) {
	const op = "undelete_pages_recursive_by_id"
	timer := metrics.NewTimer()

	var results []types.PageIndex

	err := m.db.Update(func(tx *bolt.Tx) error {
		indexBucket := tx.Bucket(bucketPageIndex)
		pathBucket := tx.Bucket(bucketPagePath)
		deletedBucket := tx.Bucket(bucketDeletedPagePath)
		assetBucket := tx.Bucket(bucketAssetInfo)
		lookupBucket := tx.Bucket(bucketAssetLookup)
		groupBucket := tx.Bucket(bucketAssetGroup)

		var rootIndex types.PageIndex
		has, err := getJSON(indexBucket, page.Bytes(), &rootIndex)
		if err != nil {
			return types.WrapError(op, types.KindInternal, err)
		}
		if !has {
			return types.ErrPageNotFound
		}
		if !rootIndex.Deleted {
			return types.NewError(op, types.KindInternal)
		}

		srcBase := rootIndex.Path
		dstBase := effectiveDestPath(srcBase, restoreTo)

		targets, err := collectRecursiveDeletedTargets(tx, srcBase)
		if err != nil {
			return err
		}

		plan := make([]renamePlanEntry, 0, len(targets))
		planDst := make(map[string]bool, len(targets))
		for _, t := range targets {
			suffix := strings.TrimPrefix(t.Path, srcBase)
			dst := dstBase + suffix
			if planDst[dst] {
				return types.ErrPageAlreadyExists
			}
			planDst[dst] = true
			if pathBucket.Get([]byte(dst)) != nil {
				return types.ErrPageAlreadyExists
			}
			plan = append(plan, renamePlanEntry{recursivePageTarget: t, dstPath: dst})
		}

		for _, entry := range plan {
			var index types.PageIndex
			has, err := getJSON(indexBucket, entry.PageId.Bytes(), &index)
			if err != nil {
				return types.WrapError(op, types.KindInternal, err)
			}
			if !has {
				return types.NewError(op, types.KindInternal)
			}

			if err := multimapDelete(deletedBucket, []byte(entry.Path), entry.PageId.Bytes()); err != nil {
				return types.WrapError(op, types.KindInternal, err)
			}

			index.Deleted = false
			index.Path = entry.dstPath
			if err := putJSON(indexBucket, entry.PageId.Bytes(), &index); err != nil {
				return types.WrapError(op, types.KindInternal, err)
			}
			if err := pathBucket.Put([]byte(entry.dstPath), entry.PageId.Bytes()); err != nil {
				return types.WrapError(op, types.KindInternal, err)
			}

			if withAssets {
				for _, raw := range multimapValues(groupBucket, entry.PageId.Bytes()) {
					id, err := types.IdFromBytes(raw)
					if err != nil {
						return types.WrapError(op, types.KindInternal, err)
					}
					assetID := types.AssetId(id)

					var info types.AssetInfo
					hasInfo, err := getJSON(assetBucket, assetID.Bytes(), &info)
					if err != nil {
						return types.WrapError(op, types.KindInternal, err)
					}
					if !hasInfo || !info.IsZombie() {
						continue
					}

					info.Deleted = false
					pid := entry.PageId
					info.PageId = &pid
					if err := putJSON(assetBucket, assetID.Bytes(), &info); err != nil {
						return types.WrapError(op, types.KindInternal, err)
					}
					if err := lookupBucket.Put(assetLookupKey(entry.PageId, info.FileName), assetID.Bytes()); err != nil {
						return types.WrapError(op, types.KindInternal, err)
					}
				}
			}

			results = append(results, index)
		}

		return nil
	})

	recordPageWrite(op, err, timer)
	if err != nil {
		return nil, err
	}
	for _, idx := range results {
		m.publish(&events.Event{Type: events.EventPageUndeleted, PageId: idx.Id, Path: idx.Path})
	}
	return results, nil
}
