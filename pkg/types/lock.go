package types

import "time"

// LockLifetime is how long a lock lease is valid after mint or renew.
const LockLifetime = 5 * time.Minute

// LockInfo is a single-writer lease on a page.
type LockInfo struct {
	Token     LockToken
	PageId    PageId
	UserId    UserId
	ExpiresAt time.Time
}

// NewLockInfo mints a fresh lease for page, owned by user, expiring
// LockLifetime from now.
func NewLockInfo(page PageId, user UserId, now time.Time) LockInfo {
	return LockInfo{
		Token:     NewLockToken(),
		PageId:    page,
		UserId:    user,
		ExpiresAt: now.Add(LockLifetime),
	}
}

// IsExpired reports whether the lease is no longer valid at now.
func (l LockInfo) IsExpired(now time.Time) bool {
	return !l.ExpiresAt.After(now)
}

// Renewed returns a copy of l with a freshly minted token and a pushed-out
// expiration, leaving page and owner unchanged.
func (l LockInfo) Renewed(now time.Time) LockInfo {
	l.Token = NewLockToken()
	l.ExpiresAt = now.Add(LockLifetime)
	return l
}
