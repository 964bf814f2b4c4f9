package storage

import (
	"encoding/json"
	"time"

	"github.com/kwgt/luwiki-sub000/pkg/events"
	"github.com/kwgt/luwiki-sub000/pkg/metrics"
	"github.com/kwgt/luwiki-sub000/pkg/types"
	bolt "go.etcd.io/bbolt"
)

// LockEntry is a lock row joined with the page path and owner username,
// the shape list_locks needs so a front-end can render a lock list
// without a second round trip per row.
type LockEntry struct {
	Token     types.LockToken
	PageId    types.PageId
	Path      string
	Username  string
	ExpiresAt time.Time
}

// GetPageLockInfo returns the current lock on page, if any. A stale
// token (missing or expired row) is cleared as a side effect; for a
// draft whose lock has lapsed, the draft itself is cascade-deleted and
// (nil, nil) is returned.
func (m *Manager) GetPageLockInfo(page types.PageId) (*types.LockInfo, error) {
	const op = "GetPageLockInfo"

	var result *types.LockInfo
	var orphanedAssets []types.AssetId
	var draftDeleted bool

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

		now := time.Now()

		if index.Draft {
			token, info, found := findLockByPage(tx, page)
			if !found || info.IsExpired(now) {
				if found {
					_ = lockBucket.Delete(token.Bytes())
				}
				ids, err := deleteDraftInTxn(tx, page)
				if err != nil {
					return err
				}
				orphanedAssets = ids
				draftDeleted = true
				return nil
			}
			result = &info
			return nil
		}

		token, ok := index.Lock()
		if !ok {
			return nil
		}

		var info types.LockInfo
		hasRow, err := getJSON(lockBucket, token.Bytes(), &info)
		if err != nil {
			return types.WrapError(op, types.KindInternal, err)
		}
		if !hasRow {
			index = index.WithoutLock()
			return putJSON(indexBucket, page.Bytes(), &index)
		}
		if info.IsExpired(now) {
			_ = lockBucket.Delete(token.Bytes())
			index = index.WithoutLock()
			return putJSON(indexBucket, page.Bytes(), &index)
		}

		result = &info
		return nil
	})
	if err != nil {
		return nil, err
	}

	if draftDeleted {
		m.deleteAssetFiles(orphanedAssets)
		m.publish(&events.Event{Type: events.EventPageDeleted, PageId: page})
	}

	return result, nil
}

// AcquirePageLock mints a lock on page for user.
func (m *Manager) AcquirePageLock(page types.PageId, user types.UserId) (types.LockInfo, error) {
	const op = "AcquirePageLock"
	var info types.LockInfo

	if _, err := m.GetUserByID(user); err != nil {
		return info, types.NewError(op, types.KindUserNotFound)
	}

	err := m.db.Update(func(tx *bolt.Tx) error {
		indexBucket := tx.Bucket(bucketPageIndex)
		lockBucket := tx.Bucket(bucketLockInfo)

		var index types.PageIndex
		has, err := getJSON(indexBucket, page.Bytes(), &index)
		if err != nil {
			return types.WrapError(op, types.KindInternal, err)
		}
		if !has {
			return types.ErrLockNotFound
		}

		now := time.Now()

		if existingToken, ok := index.Lock(); ok {
			var existing types.LockInfo
			hasRow, err := getJSON(lockBucket, existingToken.Bytes(), &existing)
			if err != nil {
				return types.WrapError(op, types.KindInternal, err)
			}
			if hasRow && !existing.IsExpired(now) {
				return types.ErrPageLocked
			}
			if hasRow {
				_ = lockBucket.Delete(existingToken.Bytes())
			}
		} else if !index.Draft {
			if _, existing, found := findLockByPage(tx, page); found && !existing.IsExpired(now) {
				return types.ErrPageLocked
			}
		}

		info = types.NewLockInfo(page, user, now)
		if err := putJSON(lockBucket, info.Token.Bytes(), &info); err != nil {
			return types.WrapError(op, types.KindInternal, err)
		}

		if !index.Draft {
			index = index.WithLock(info.Token)
			if err := putJSON(indexBucket, page.Bytes(), &index); err != nil {
				return types.WrapError(op, types.KindInternal, err)
			}
		}

		return nil
	})
	if err != nil {
		metrics.LockOpsTotal.WithLabelValues("acquire", "error").Inc()
		return types.LockInfo{}, err
	}

	metrics.LockOpsTotal.WithLabelValues("acquire", "ok").Inc()
	return info, nil
}

// RenewPageLock re-mints token, extending its expiration, provided token
// is current, unexpired, and owned by user.
func (m *Manager) RenewPageLock(page types.PageId, user types.UserId, token types.LockToken) (types.LockInfo, error) {
	const op = "RenewPageLock"
	var renewed types.LockInfo

	err := m.db.Update(func(tx *bolt.Tx) error {
		lockBucket := tx.Bucket(bucketLockInfo)
		indexBucket := tx.Bucket(bucketPageIndex)

		var info types.LockInfo
		has, err := getJSON(lockBucket, token.Bytes(), &info)
		if err != nil {
			return types.WrapError(op, types.KindInternal, err)
		}
		if !has || info.PageId != page {
			return types.ErrLockNotFound
		}
		if info.IsExpired(time.Now()) {
			return types.ErrLockNotFound
		}
		if info.UserId != user {
			return types.ErrLockForbidden
		}

		renewed = info.Renewed(time.Now())
		if err := lockBucket.Delete(token.Bytes()); err != nil {
			return types.WrapError(op, types.KindInternal, err)
		}
		if err := putJSON(lockBucket, renewed.Token.Bytes(), &renewed); err != nil {
			return types.WrapError(op, types.KindInternal, err)
		}

		var index types.PageIndex
		has, err = getJSON(indexBucket, page.Bytes(), &index)
		if err != nil {
			return types.WrapError(op, types.KindInternal, err)
		}
		if has && !index.Draft {
			index = index.WithLock(renewed.Token)
			if err := putJSON(indexBucket, page.Bytes(), &index); err != nil {
				return types.WrapError(op, types.KindInternal, err)
			}
		}

		return nil
	})
	if err != nil {
		metrics.LockOpsTotal.WithLabelValues("renew", "error").Inc()
		return types.LockInfo{}, err
	}

	metrics.LockOpsTotal.WithLabelValues("renew", "ok").Inc()
	return renewed, nil
}

// ReleasePageLock releases token, provided it matches page and user. For
// a draft, releasing its lock cascades to deleting the draft.
func (m *Manager) ReleasePageLock(page types.PageId, user types.UserId, token types.LockToken) error {
	const op = "ReleasePageLock"

	var orphanedAssets []types.AssetId
	var draftDeleted bool

	err := m.db.Update(func(tx *bolt.Tx) error {
		lockBucket := tx.Bucket(bucketLockInfo)
		indexBucket := tx.Bucket(bucketPageIndex)

		var info types.LockInfo
		has, err := getJSON(lockBucket, token.Bytes(), &info)
		if err != nil {
			return types.WrapError(op, types.KindInternal, err)
		}
		if !has || info.PageId != page {
			return types.ErrLockNotFound
		}
		if info.IsExpired(time.Now()) {
			return types.ErrLockNotFound
		}
		if info.UserId != user {
			return types.ErrLockForbidden
		}

		if err := lockBucket.Delete(token.Bytes()); err != nil {
			return types.WrapError(op, types.KindInternal, err)
		}

		var index types.PageIndex
		hasIndex, err := getJSON(indexBucket, page.Bytes(), &index)
		if err != nil {
			return types.WrapError(op, types.KindInternal, err)
		}
		if hasIndex && index.Draft {
			ids, err := deleteDraftInTxn(tx, page)
			if err != nil {
				return err
			}
			orphanedAssets = ids
			draftDeleted = true
			return nil
		}
		if hasIndex {
			index = index.WithoutLock()
			return putJSON(indexBucket, page.Bytes(), &index)
		}

		return nil
	})
	if err != nil {
		metrics.LockOpsTotal.WithLabelValues("release", "error").Inc()
		return err
	}

	if draftDeleted {
		m.deleteAssetFiles(orphanedAssets)
		m.publish(&events.Event{Type: events.EventPageDeleted, PageId: page})
	}
	metrics.LockOpsTotal.WithLabelValues("release", "ok").Inc()
	return nil
}

// CleanupExpiredLocks sweeps the lock table, clearing every expired row
// and the index token (or cascade-deleting the draft) it pointed at.
// Returns the count removed. Idempotent: a second call after the first
// returns 0.
func (m *Manager) CleanupExpiredLocks() (int, error) {
	const op = "CleanupExpiredLocks"

	type expired struct {
		token   types.LockToken
		page    types.PageId
		isDraft bool
	}

	var removed []expired
	var orphanedAssets []types.AssetId

	err := m.db.Update(func(tx *bolt.Tx) error {
		lockBucket := tx.Bucket(bucketLockInfo)
		indexBucket := tx.Bucket(bucketPageIndex)
		now := time.Now()

		var stale []expired
		_ = lockBucket.ForEach(func(k, v []byte) error {
			var info types.LockInfo
			if err := unmarshalLockInfo(v, &info); err != nil {
				return nil
			}
			if !info.IsExpired(now) {
				return nil
			}
			token, err := types.IdFromBytes(k)
			if err != nil {
				return nil
			}
			var index types.PageIndex
			has, _ := getJSON(indexBucket, info.PageId.Bytes(), &index)
			stale = append(stale, expired{
				token:   types.LockToken(token),
				page:    info.PageId,
				isDraft: has && index.Draft,
			})
			return nil
		})

		for _, e := range stale {
			if err := lockBucket.Delete(e.token.Bytes()); err != nil {
				return types.WrapError(op, types.KindInternal, err)
			}

			if e.isDraft {
				ids, err := deleteDraftInTxn(tx, e.page)
				if err != nil {
					return err
				}
				orphanedAssets = append(orphanedAssets, ids...)
			} else {
				var index types.PageIndex
				has, err := getJSON(indexBucket, e.page.Bytes(), &index)
				if err != nil {
					return types.WrapError(op, types.KindInternal, err)
				}
				if has {
					index = index.WithoutLock()
					if err := putJSON(indexBucket, e.page.Bytes(), &index); err != nil {
						return types.WrapError(op, types.KindInternal, err)
					}
				}
			}
			removed = append(removed, e)
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	if len(orphanedAssets) > 0 {
		m.deleteAssetFiles(orphanedAssets)
	}
	if len(removed) > 0 {
		metrics.LockSweepRemovedTotal.Add(float64(len(removed)))
		m.log.Debug().Int("count", len(removed)).Msg("swept expired locks")
	}

	return len(removed), nil
}

// ListLocks sweeps expired locks, then returns every remaining lock
// joined with its page path and owner username.
func (m *Manager) ListLocks() ([]LockEntry, error) {
	const op = "ListLocks"

	if _, err := m.CleanupExpiredLocks(); err != nil {
		return nil, err
	}

	var out []LockEntry
	err := m.db.View(func(tx *bolt.Tx) error {
		lockBucket := tx.Bucket(bucketLockInfo)
		indexBucket := tx.Bucket(bucketPageIndex)
		userBucket := tx.Bucket(bucketUserInfo)

		return lockBucket.ForEach(func(k, v []byte) error {
			var info types.LockInfo
			if err := unmarshalLockInfo(v, &info); err != nil {
				return types.WrapError(op, types.KindInternal, err)
			}

			var index types.PageIndex
			_, _ = getJSON(indexBucket, info.PageId.Bytes(), &index)

			var user types.UserInfo
			_, _ = getJSON(userBucket, info.UserId.Bytes(), &user)

			out = append(out, LockEntry{
				Token:     info.Token,
				PageId:    info.PageId,
				Path:      index.Path,
				Username:  user.Username,
				ExpiresAt: info.ExpiresAt,
			})
			return nil
		})
	})
	return out, err
}

// DeleteLock administratively purges a lock row by token, cascading to
// draft deletion the same way ReleasePageLock does.
func (m *Manager) DeleteLock(token types.LockToken) error {
	const op = "DeleteLock"

	var page types.PageId
	var hadRow bool
	var orphanedAssets []types.AssetId
	var draftDeleted bool

	err := m.db.Update(func(tx *bolt.Tx) error {
		lockBucket := tx.Bucket(bucketLockInfo)
		indexBucket := tx.Bucket(bucketPageIndex)

		var info types.LockInfo
		has, err := getJSON(lockBucket, token.Bytes(), &info)
		if err != nil {
			return types.WrapError(op, types.KindInternal, err)
		}
		if !has {
			return types.ErrLockNotFound
		}
		hadRow = true
		page = info.PageId

		if err := lockBucket.Delete(token.Bytes()); err != nil {
			return types.WrapError(op, types.KindInternal, err)
		}

		var index types.PageIndex
		hasIndex, err := getJSON(indexBucket, page.Bytes(), &index)
		if err != nil {
			return types.WrapError(op, types.KindInternal, err)
		}
		if hasIndex && index.Draft {
			ids, err := deleteDraftInTxn(tx, page)
			if err != nil {
				return err
			}
			orphanedAssets = ids
			draftDeleted = true
			return nil
		}
		if hasIndex {
			index = index.WithoutLock()
			return putJSON(indexBucket, page.Bytes(), &index)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if hadRow && draftDeleted {
		m.deleteAssetFiles(orphanedAssets)
		m.publish(&events.Event{Type: events.EventPageDeleted, PageId: page})
	}
	return nil
}

// DeletePageLockByID administratively purges whatever lock currently
// targets page (if any), cascading draft deletion identically to
// DeleteLock.
func (m *Manager) DeletePageLockByID(page types.PageId) error {
	var token types.LockToken
	var found bool

	err := m.db.View(func(tx *bolt.Tx) error {
		t, _, ok := findLockByPage(tx, page)
		token = t
		found = ok
		return nil
	})
	if err != nil {
		return err
	}
	if !found {
		return types.ErrLockNotFound
	}
	return m.DeleteLock(token)
}

func unmarshalLockInfo(data []byte, v *types.LockInfo) error {
	return json.Unmarshal(data, v)
}
