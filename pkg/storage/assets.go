package storage

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/kwgt/luwiki-sub000/pkg/events"
	"github.com/kwgt/luwiki-sub000/pkg/metrics"
	"github.com/kwgt/luwiki-sub000/pkg/types"
	"github.com/natefinch/atomic"
	bolt "go.etcd.io/bbolt"
)

// MoveOutcome is the caller-visible result of MoveAsset: none of its
// four values is an error, they are outcomes the caller formats into
// a response (spec names this "so the caller can format an exit code").
type MoveOutcome string

const (
	MoveOutcomeMoved        MoveOutcome = "moved"
	MoveOutcomePageNotFound MoveOutcome = "page_not_found"
	MoveOutcomePageDeleted  MoveOutcome = "page_deleted"
	MoveOutcomeNameConflict MoveOutcome = "name_conflict"
)

// assetFilePath returns the deterministic two-level fan-out path for an
// asset id: <root>/<id[0:2]>/<id[2:5]>/<id>.
func (m *Manager) assetFilePath(id types.AssetId) string {
	s := id.String()
	return filepath.Join(m.assetRoot, s[0:2], s[2:5], s)
}

// CreateAsset writes file data to disk at a fresh id's deterministic
// path, then records its metadata. The file is written before the
// transaction opens; if anything fails before commit, the file is
// removed, preserving "file exists on disk only if its row exists in the
// store."
func (m *Manager) CreateAsset(page types.PageId, fileName, mime, username string, data []byte) (types.AssetInfo, error) {
	const op = "CreateAsset"

	user, err := m.GetUserByUsername(username)
	if err != nil {
		return types.AssetInfo{}, err
	}

	id := types.NewAssetId()
	path := m.assetFilePath(id)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return types.AssetInfo{}, types.WrapError(op, types.KindInternal, err)
	}
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return types.AssetInfo{}, types.WrapError(op, types.KindInternal, err)
	}

	info := types.AssetInfo{
		Id:        id,
		PageId:    &page,
		FileName:  fileName,
		Mime:      mime,
		Size:      int64(len(data)),
		UserId:    user.Id,
		Timestamp: time.Now(),
	}

	err = m.db.Update(func(tx *bolt.Tx) error {
		indexBucket := tx.Bucket(bucketPageIndex)
		assetBucket := tx.Bucket(bucketAssetInfo)
		lookupBucket := tx.Bucket(bucketAssetLookup)
		groupBucket := tx.Bucket(bucketAssetGroup)

		var index types.PageIndex
		has, err := getJSON(indexBucket, page.Bytes(), &index)
		if err != nil {
			return types.WrapError(op, types.KindInternal, err)
		}
		if !has {
			return types.ErrPageNotFound
		}

		lookupKey := assetLookupKey(page, fileName)
		if existingID := lookupBucket.Get(lookupKey); existingID != nil {
			var existing types.AssetInfo
			hasExisting, err := getJSON(assetBucket, existingID, &existing)
			if err != nil {
				return types.WrapError(op, types.KindInternal, err)
			}
			if hasExisting && !existing.Deleted {
				return types.ErrAssetAlreadyExists
			}
			// Tombstoned conflict: evict the stale lookup entry only.
			// The other asset's own file is untouched here; it is
			// cleaned up by a separate asset purge, per the deliberate
			// evict-and-succeed rule.
			if err := lookupBucket.Delete(lookupKey); err != nil {
				return types.WrapError(op, types.KindInternal, err)
			}
		}

		if err := putJSON(assetBucket, id.Bytes(), &info); err != nil {
			return types.WrapError(op, types.KindInternal, err)
		}
		if err := lookupBucket.Put(lookupKey, id.Bytes()); err != nil {
			return types.WrapError(op, types.KindInternal, err)
		}
		return multimapPut(groupBucket, page.Bytes(), id.Bytes())
	})
	if err != nil {
		_ = os.Remove(path)
		metrics.AssetOpsTotal.WithLabelValues("create", "error").Inc()
		return types.AssetInfo{}, err
	}

	metrics.AssetOpsTotal.WithLabelValues("create", "ok").Inc()
	metrics.AssetBytesWrittenTotal.Add(float64(len(data)))
	m.publish(&events.Event{Type: events.EventAssetCreated, PageId: page, AssetId: &id, Path: fileName})
	return info, nil
}

// DeleteAsset soft-deletes asset: marks it deleted and removes its
// lookup entry. A defensive scan for any residual lookup entry pointing
// at an already-zombie asset is preserved even though it should be
// unreachable by invariant (zombies never have a lookup entry).
func (m *Manager) DeleteAsset(id types.AssetId) error {
	const op = "DeleteAsset"

	err := m.db.Update(func(tx *bolt.Tx) error {
		assetBucket := tx.Bucket(bucketAssetInfo)
		lookupBucket := tx.Bucket(bucketAssetLookup)

		var info types.AssetInfo
		has, err := getJSON(assetBucket, id.Bytes(), &info)
		if err != nil {
			return types.WrapError(op, types.KindInternal, err)
		}
		if !has {
			return types.ErrAssetNotFound
		}
		if info.Deleted {
			return types.ErrAssetDeleted
		}

		if info.PageId != nil {
			_ = lookupBucket.Delete(assetLookupKey(*info.PageId, info.FileName))
		} else {
			// Should be unreachable: a zombie has no lookup entry.
			m.purgeResidualLookupEntries(lookupBucket, id)
		}

		info.Deleted = true
		info.PageId = nil
		return putJSON(assetBucket, id.Bytes(), &info)
	})
	if err != nil {
		metrics.AssetOpsTotal.WithLabelValues("delete", "error").Inc()
		return err
	}
	metrics.AssetOpsTotal.WithLabelValues("delete", "ok").Inc()
	m.publish(&events.Event{Type: events.EventAssetDeleted, AssetId: &id})
	return nil
}

func (m *Manager) purgeResidualLookupEntries(lookupBucket *bolt.Bucket, id types.AssetId) {
	var stale [][]byte
	_ = lookupBucket.ForEach(func(k, v []byte) error {
		if len(v) == 16 {
			var other types.AssetId
			copy(other[:], v)
			if other == id {
				stale = append(stale, append([]byte(nil), k...))
			}
		}
		return nil
	})
	for _, k := range stale {
		m.log.Warn().Str("asset_id", id.String()).Msg("removing residual lookup entry for zombie asset")
		_ = lookupBucket.Delete(k)
	}
}

// DeleteAssetHard permanently erases asset's metadata and removes its
// file from disk after commit.
func (m *Manager) DeleteAssetHard(id types.AssetId) error {
	const op = "DeleteAssetHard"

	err := m.db.Update(func(tx *bolt.Tx) error {
		assetBucket := tx.Bucket(bucketAssetInfo)
		lookupBucket := tx.Bucket(bucketAssetLookup)
		groupBucket := tx.Bucket(bucketAssetGroup)

		var info types.AssetInfo
		has, err := getJSON(assetBucket, id.Bytes(), &info)
		if err != nil {
			return types.WrapError(op, types.KindInternal, err)
		}
		if !has {
			return types.ErrAssetNotFound
		}

		if info.PageId != nil {
			_ = lookupBucket.Delete(assetLookupKey(*info.PageId, info.FileName))
			if err := multimapDelete(groupBucket, info.PageId.Bytes(), id.Bytes()); err != nil {
				return types.WrapError(op, types.KindInternal, err)
			}
		}
		return assetBucket.Delete(id.Bytes())
	})
	if err != nil {
		metrics.AssetOpsTotal.WithLabelValues("delete_hard", "error").Inc()
		return err
	}

	m.deleteAssetFiles([]types.AssetId{id})
	metrics.AssetOpsTotal.WithLabelValues("delete_hard", "ok").Inc()
	return nil
}

// UndeleteAsset clears an asset's deleted flag, optionally renaming it.
// The asset must currently be deleted. If it still has a page id, the
// destination (page, name) must be free.
func (m *Manager) UndeleteAsset(id types.AssetId, newName string) (types.AssetInfo, error) {
	const op = "UndeleteAsset"
	var result types.AssetInfo

	err := m.db.Update(func(tx *bolt.Tx) error {
		assetBucket := tx.Bucket(bucketAssetInfo)
		lookupBucket := tx.Bucket(bucketAssetLookup)

		var info types.AssetInfo
		has, err := getJSON(assetBucket, id.Bytes(), &info)
		if err != nil {
			return types.WrapError(op, types.KindInternal, err)
		}
		if !has {
			return types.ErrAssetNotFound
		}
		if !info.Deleted {
			return types.NewError(op, types.KindInternal)
		}

		name := info.FileName
		if newName != "" {
			name = newName
		}

		if info.PageId != nil {
			key := assetLookupKey(*info.PageId, name)
			if existing := lookupBucket.Get(key); existing != nil {
				return types.ErrAssetAlreadyExists
			}
			if newName != "" {
				_ = lookupBucket.Delete(assetLookupKey(*info.PageId, info.FileName))
			}
			if err := lookupBucket.Put(key, id.Bytes()); err != nil {
				return types.WrapError(op, types.KindInternal, err)
			}
		}

		info.FileName = name
		info.Deleted = false
		if err := putJSON(assetBucket, id.Bytes(), &info); err != nil {
			return types.WrapError(op, types.KindInternal, err)
		}
		result = info
		return nil
	})
	return result, err
}

// MoveAsset reattaches asset to dstPage. See MoveOutcome for the four
// results this can produce; only a genuine storage fault returns a
// non-nil error.
func (m *Manager) MoveAsset(id types.AssetId, dstPage types.PageId, force bool) (MoveOutcome, error) {
	const op = "MoveAsset"

	var outcome MoveOutcome
	var evicted *types.AssetId

	err := m.db.Update(func(tx *bolt.Tx) error {
		indexBucket := tx.Bucket(bucketPageIndex)
		assetBucket := tx.Bucket(bucketAssetInfo)
		lookupBucket := tx.Bucket(bucketAssetLookup)
		groupBucket := tx.Bucket(bucketAssetGroup)

		var info types.AssetInfo
		has, err := getJSON(assetBucket, id.Bytes(), &info)
		if err != nil {
			return types.WrapError(op, types.KindInternal, err)
		}
		if !has {
			return types.ErrAssetNotFound
		}

		var dstIndex types.PageIndex
		hasDst, err := getJSON(indexBucket, dstPage.Bytes(), &dstIndex)
		if err != nil {
			return types.WrapError(op, types.KindInternal, err)
		}
		if !hasDst {
			outcome = MoveOutcomePageNotFound
			return nil
		}
		if dstIndex.Deleted && !force {
			outcome = MoveOutcomePageDeleted
			return nil
		}

		key := assetLookupKey(dstPage, info.FileName)
		if conflictID := lookupBucket.Get(key); conflictID != nil {
			var conflict types.AssetId
			copy(conflict[:], conflictID)
			if conflict != id {
				if !force {
					outcome = MoveOutcomeNameConflict
					return nil
				}
				var conflictInfo types.AssetInfo
				hasConflict, err := getJSON(assetBucket, conflict[:], &conflictInfo)
				if err != nil {
					return types.WrapError(op, types.KindInternal, err)
				}
				if hasConflict {
					if conflictInfo.PageId != nil {
						_ = multimapDelete(groupBucket, conflictInfo.PageId.Bytes(), conflict[:])
					}
					if err := assetBucket.Delete(conflict[:]); err != nil {
						return types.WrapError(op, types.KindInternal, err)
					}
				}
				_ = lookupBucket.Delete(key)
				evicted = &conflict
			}
		}

		if info.PageId != nil {
			_ = lookupBucket.Delete(assetLookupKey(*info.PageId, info.FileName))
			if err := multimapDelete(groupBucket, info.PageId.Bytes(), id.Bytes()); err != nil {
				return types.WrapError(op, types.KindInternal, err)
			}
		}

		info.PageId = &dstPage
		if err := putJSON(assetBucket, id.Bytes(), &info); err != nil {
			return types.WrapError(op, types.KindInternal, err)
		}
		if err := lookupBucket.Put(key, id.Bytes()); err != nil {
			return types.WrapError(op, types.KindInternal, err)
		}
		if err := multimapPut(groupBucket, dstPage.Bytes(), id.Bytes()); err != nil {
			return types.WrapError(op, types.KindInternal, err)
		}

		outcome = MoveOutcomeMoved
		return nil
	})
	if err != nil {
		return "", err
	}

	if evicted != nil {
		m.deleteAssetFiles([]types.AssetId{*evicted})
	}
	if outcome == MoveOutcomeMoved {
		m.publish(&events.Event{Type: events.EventAssetMoved, PageId: dstPage, AssetId: &id})
	}
	return outcome, nil
}

// ReadAssetData reads the raw bytes of an asset's file. No store access.
func (m *Manager) ReadAssetData(id types.AssetId) ([]byte, error) {
	data, err := os.ReadFile(m.assetFilePath(id))
	if err != nil {
		return nil, types.WrapError("ReadAssetData", types.KindAssetNotFound, err)
	}
	return data, nil
}

// ListPageAssets returns every asset (live or zombie-but-grouped) ever
// attached to page.
func (m *Manager) ListPageAssets(page types.PageId) ([]types.AssetInfo, error) {
	var out []types.AssetInfo
	err := m.db.View(func(tx *bolt.Tx) error {
		groupBucket := tx.Bucket(bucketAssetGroup)
		assetBucket := tx.Bucket(bucketAssetInfo)

		for _, raw := range multimapValues(groupBucket, page.Bytes()) {
			var info types.AssetInfo
			has, err := getJSON(assetBucket, raw, &info)
			if err != nil {
				return types.WrapError("ListPageAssets", types.KindInternal, err)
			}
			if has {
				out = append(out, info)
			}
		}
		return nil
	})
	return out, err
}

// ListAssets returns every asset record in the store.
func (m *Manager) ListAssets() ([]types.AssetInfo, error) {
	var out []types.AssetInfo
	err := m.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAssetInfo).ForEach(func(_, v []byte) error {
			var info types.AssetInfo
			if err := json.Unmarshal(v, &info); err != nil {
				return types.WrapError("ListAssets", types.KindInternal, err)
			}
			out = append(out, info)
			return nil
		})
	})
	return out, err
}

// HasDeletedAssetByPageFile reports whether page has a tombstoned asset
// on record with the given file name (used to surface a name conflict to
// the caller before attempting a create).
func (m *Manager) HasDeletedAssetByPageFile(page types.PageId, fileName string) (bool, error) {
	found := false
	err := m.db.View(func(tx *bolt.Tx) error {
		groupBucket := tx.Bucket(bucketAssetGroup)
		assetBucket := tx.Bucket(bucketAssetInfo)

		for _, raw := range multimapValues(groupBucket, page.Bytes()) {
			var info types.AssetInfo
			has, err := getJSON(assetBucket, raw, &info)
			if err != nil {
				return types.WrapError("HasDeletedAssetByPageFile", types.KindInternal, err)
			}
			if has && info.Deleted && info.FileName == fileName {
				found = true
				return nil
			}
		}
		return nil
	})
	return found, err
}

// deleteAssetFiles removes asset files from disk after the transaction
// that detached them has committed. Failures are logged, not returned:
// an orphaned row-less file is an administrative cleanup concern, not a
// caller-visible error.
func (m *Manager) deleteAssetFiles(ids []types.AssetId) {
	for _, id := range ids {
		path := m.assetFilePath(id)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			m.log.Warn().Err(err).Str("asset_id", id.String()).Msg("failed to remove asset file")
		}
	}
}
