package types

import "time"

// RootPagePath is the path of the wiki's single root page. It is exempt
// from delete, rename and hard-delete.
const RootPagePath = "/"

// IsRootPath reports whether path addresses the root page.
func IsRootPath(path string) bool {
	return path == RootPagePath
}

// PageIndex is the tagged live/draft page header. Check the Draft field to
// switch on the variant before reading the live-only fields (Deleted,
// LatestRev, EarliestRev, RenameRevisions) or calling Lock; they hold zero
// values for a draft rather than panicking, but a caller that cares about
// the distinction must check Draft first.
type PageIndex struct {
	Id PageId

	// Draft, when true, means this index carries only a path: no
	// revisions, no rename history, no lock reference (the lock, if
	// any, lives solely in the lock table and is found by page id).
	Draft bool

	// Path is the draft's path (Draft == true) or the page's current
	// live path / last tombstoned path (Draft == false), depending on
	// Deleted.
	Path string

	// Deleted is the live page's path_state: true means the page is
	// tombstoned and Path records its last live path. Always false for
	// a draft.
	Deleted bool

	// EarliestRev and LatestRev bound the closed interval of revisions
	// with a stored source row. Meaningless for a draft (both zero).
	EarliestRev uint64
	LatestRev   uint64

	// LockToken, when non-nil, names the lock row expected to exist for
	// this live page. Always nil for a draft; a draft's lock is found
	// via the lock table's page index instead.
	LockToken *LockToken

	// RenameRevisions lists, in strictly ascending order, every
	// revision at which the path was set or changed (including initial
	// creation). Always empty for a draft.
	RenameRevisions []uint64
}

// NewLivePageIndex builds the index for a freshly created live page at
// revision 1.
func NewLivePageIndex(id PageId, path string, revision uint64) PageIndex {
	return PageIndex{
		Id:              id,
		Path:            path,
		EarliestRev:     revision,
		LatestRev:       revision,
		RenameRevisions: []uint64{revision},
	}
}

// NewDraftPageIndex builds the index for a freshly created draft.
func NewDraftPageIndex(id PageId, path string) PageIndex {
	return PageIndex{Id: id, Draft: true, Path: path}
}

// IsTombstoned reports whether a live page is soft-deleted. Always false
// for a draft.
func (p PageIndex) IsTombstoned() bool {
	return !p.Draft && p.Deleted
}

// Lock returns the page index's recorded lock token, if any. Always
// returns (zero, false) for a draft; callers must resolve a draft's lock
// via the lock table's page-scoped lookup instead.
func (p PageIndex) Lock() (LockToken, bool) {
	if p.Draft || p.LockToken == nil {
		return LockToken{}, false
	}
	return *p.LockToken, true
}

// WithLock returns a copy of p with its lock token set. No-op shape for a
// draft: the returned copy still carries Draft == true and the caller is
// responsible for not persisting a lock token on a draft's index.
func (p PageIndex) WithLock(token LockToken) PageIndex {
	t := token
	p.LockToken = &t
	return p
}

// WithoutLock returns a copy of p with any recorded lock token cleared.
func (p PageIndex) WithoutLock() PageIndex {
	p.LockToken = nil
	return p
}

// LinkRef is one entry of a page revision's link-reference snapshot: a
// normalized internal link target resolved, at write time, to the page id
// it then pointed at (or nil if no such page existed yet).
type LinkRef struct {
	Path   string
	PageId *PageId
}

// RenameInfo is present on a page source row exactly when that revision
// set or changed the page's path. From is nil for the initial creation of
// a page (there was no prior path).
type RenameInfo struct {
	From     *string
	To       string
	LinkRefs []LinkRef
}

// PageSource is one numbered revision of a page's Markdown source.
type PageSource struct {
	Revision     uint64
	Timestamp    time.Time
	AuthorUserId UserId
	RenameInfo   *RenameInfo
	Markdown     string
}
