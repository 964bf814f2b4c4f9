package types

import "time"

// AssetInfo is an asset's metadata row, independent of its file bytes.
type AssetInfo struct {
	Id        AssetId
	PageId    *PageId // nil means the asset is a zombie: detached from any page.
	FileName  string
	Mime      string
	Size      int64
	UserId    UserId
	Timestamp time.Time
	Deleted   bool
}

// IsZombie reports whether the asset is currently detached from a page.
func (a AssetInfo) IsZombie() bool {
	return a.PageId == nil
}

// IsLive reports whether the asset is attached, non-deleted, and
// therefore eligible to appear in the asset-lookup table.
func (a AssetInfo) IsLive() bool {
	return !a.Deleted && a.PageId != nil
}
