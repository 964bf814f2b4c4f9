package types

import (
	"crypto/rand"
	"fmt"
	"sync"

	"github.com/oklog/ulid/v2"
)

// Id is a 128-bit sortable identifier. Lexicographic byte order matches
// creation order for ids minted monotonically through NewId. Every entity
// kind (page, asset, user, lock token) shares this representation; the
// named aliases below exist purely for readability at call sites.
type Id [16]byte

// idEntropy is a monotonic entropy source shared across the process so
// ids minted within the same millisecond still sort by mint order.
var (
	idMu      sync.Mutex
	idEntropy = ulid.Monotonic(rand.Reader, 0)
)

// NewId mints a fresh, monotonically sortable id.
func NewId() Id {
	idMu.Lock()
	defer idMu.Unlock()

	u := ulid.MustNew(ulid.Now(), idEntropy)
	return Id(u)
}

// IdFromString parses the canonical textual form of an id (Crockford
// base32, 26 characters).
func IdFromString(s string) (Id, error) {
	u, err := ulid.ParseStrict(s)
	if err != nil {
		return Id{}, fmt.Errorf("parse id %q: %w", s, err)
	}
	return Id(u), nil
}

// IdFromBytes decodes the 16-byte store representation of an id.
func IdFromBytes(b []byte) (Id, error) {
	var id Id
	if len(b) != 16 {
		return id, fmt.Errorf("id must be exactly 16 bytes, got %d", len(b))
	}
	copy(id[:], b)
	return id, nil
}

// Bytes returns the 16-byte store representation.
func (id Id) Bytes() []byte {
	out := make([]byte, 16)
	copy(out, id[:])
	return out
}

// String returns the canonical textual form.
func (id Id) String() string {
	return ulid.ULID(id).String()
}

// Compare orders two ids by raw byte value, which for monotonically
// minted ids also orders them by creation time.
func (id Id) Compare(other Id) int {
	return ulid.ULID(id).Compare(ulid.ULID(other))
}

// IsZero reports whether id is the zero value (never a valid minted id).
func (id Id) IsZero() bool {
	return id == Id{}
}

func (id Id) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *Id) UnmarshalText(text []byte) error {
	parsed, err := IdFromString(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// PageId identifies a page (live or draft).
type PageId Id

func (id PageId) String() string                   { return Id(id).String() }
func (id PageId) Bytes() []byte                     { return Id(id).Bytes() }
func (id PageId) IsZero() bool                      { return Id(id).IsZero() }
func (id PageId) MarshalText() ([]byte, error)      { return Id(id).MarshalText() }
func (id *PageId) UnmarshalText(text []byte) error  { return (*Id)(id).UnmarshalText(text) }

// AssetId identifies an asset.
type AssetId Id

func (id AssetId) String() string                  { return Id(id).String() }
func (id AssetId) Bytes() []byte                    { return Id(id).Bytes() }
func (id AssetId) IsZero() bool                     { return Id(id).IsZero() }
func (id AssetId) MarshalText() ([]byte, error)     { return Id(id).MarshalText() }
func (id *AssetId) UnmarshalText(text []byte) error { return (*Id)(id).UnmarshalText(text) }

// UserId identifies a user.
type UserId Id

func (id UserId) String() string                  { return Id(id).String() }
func (id UserId) Bytes() []byte                    { return Id(id).Bytes() }
func (id UserId) IsZero() bool                     { return Id(id).IsZero() }
func (id UserId) MarshalText() ([]byte, error)     { return Id(id).MarshalText() }
func (id *UserId) UnmarshalText(text []byte) error { return (*Id)(id).UnmarshalText(text) }

// LockToken identifies a lock lease. A fresh token is minted on every
// acquire and renew.
type LockToken Id

func (id LockToken) String() string                  { return Id(id).String() }
func (id LockToken) Bytes() []byte                    { return Id(id).Bytes() }
func (id LockToken) IsZero() bool                     { return Id(id).IsZero() }
func (id LockToken) MarshalText() ([]byte, error)     { return Id(id).MarshalText() }
func (id *LockToken) UnmarshalText(text []byte) error { return (*Id)(id).UnmarshalText(text) }

// NewPageId, NewAssetId, NewUserId and NewLockToken mint fresh ids typed
// for their respective entity kind.
func NewPageId() PageId      { return PageId(NewId()) }
func NewAssetId() AssetId    { return AssetId(NewId()) }
func NewUserId() UserId      { return UserId(NewId()) }
func NewLockToken() LockToken { return LockToken(NewId()) }

func PageIdFromString(s string) (PageId, error) {
	id, err := IdFromString(s)
	return PageId(id), err
}

func AssetIdFromString(s string) (AssetId, error) {
	id, err := IdFromString(s)
	return AssetId(id), err
}

func UserIdFromString(s string) (UserId, error) {
	id, err := IdFromString(s)
	return UserId(id), err
}

func LockTokenFromString(s string) (LockToken, error) {
	id, err := IdFromString(s)
	return LockToken(id), err
}
