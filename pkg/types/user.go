package types

import "time"

// UserInfo is a credential record. PasswordHash and Salt are opaque byte
// strings produced by the engine's memory-hard password hash; callers
// never see or set them directly outside pkg/storage's user store.
type UserInfo struct {
	Id           UserId
	Username     string
	PasswordHash []byte
	Salt         []byte
	DisplayName  string
	Timestamp    time.Time
}
