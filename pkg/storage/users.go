package storage

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kwgt/luwiki-sub000/pkg/types"
	"golang.org/x/crypto/argon2"
	bolt "go.etcd.io/bbolt"
)

// argon2 parameters. These favor an interactive, single-node wiki: one
// verification per login should cost low tens of milliseconds, not
// contend for all available memory on a small host.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024 // KiB
	argonThreads = 4
	argonKeyLen  = 32
	saltLen      = 16
)

func hashPassword(password string) (hash, salt []byte, err error) {
	salt = make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, nil, fmt.Errorf("generate salt: %w", err)
	}
	hash = argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return hash, salt, nil
}

func verifyPassword(password string, hash, salt []byte) bool {
	candidate := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	if len(candidate) != len(hash) {
		return false
	}
	var diff byte
	for i := range candidate {
		diff |= candidate[i] ^ hash[i]
	}
	return diff == 0
}

// AddUser creates a credential record. Fails with KindUserAlreadyExists
// if username is taken.
func (m *Manager) AddUser(username, password, displayName string) (types.UserInfo, error) {
	const op = "AddUser"

	hash, salt, err := hashPassword(password)
	if err != nil {
		return types.UserInfo{}, types.WrapError(op, types.KindInternal, err)
	}

	info := types.UserInfo{
		Id:           types.NewUserId(),
		Username:     username,
		PasswordHash: hash,
		Salt:         salt,
		DisplayName:  displayName,
		Timestamp:    time.Now(),
	}

	err = m.db.Update(func(tx *bolt.Tx) error {
		idBucket := tx.Bucket(bucketUserID)
		infoBucket := tx.Bucket(bucketUserInfo)

		if idBucket.Get([]byte(username)) != nil {
			return types.ErrUserAlreadyExists
		}

		if err := idBucket.Put([]byte(username), info.Id.Bytes()); err != nil {
			return types.WrapError(op, types.KindInternal, err)
		}
		return putJSON(infoBucket, info.Id.Bytes(), &info)
	})
	if err != nil {
		return types.UserInfo{}, err
	}

	m.log.Info().Str("username", username).Msg("user created")
	return info, nil
}

// DeleteUser removes a user's id and username rows atomically.
func (m *Manager) DeleteUser(id types.UserId) error {
	const op = "DeleteUser"

	return m.db.Update(func(tx *bolt.Tx) error {
		idBucket := tx.Bucket(bucketUserID)
		infoBucket := tx.Bucket(bucketUserInfo)

		var info types.UserInfo
		has, err := getJSON(infoBucket, id.Bytes(), &info)
		if err != nil {
			return types.WrapError(op, types.KindInternal, err)
		}
		if !has {
			return types.ErrUserNotFound
		}

		if err := idBucket.Delete([]byte(info.Username)); err != nil {
			return types.WrapError(op, types.KindInternal, err)
		}
		return infoBucket.Delete(id.Bytes())
	})
}

// UpdateUser changes a user's display name and/or password. At least one
// of newDisplayName, newPassword must be non-empty.
func (m *Manager) UpdateUser(id types.UserId, newDisplayName, newPassword string) error {
	const op = "UpdateUser"

	if newDisplayName == "" && newPassword == "" {
		return types.NewError(op, types.KindInternal)
	}

	return m.db.Update(func(tx *bolt.Tx) error {
		infoBucket := tx.Bucket(bucketUserInfo)

		var info types.UserInfo
		has, err := getJSON(infoBucket, id.Bytes(), &info)
		if err != nil {
			return types.WrapError(op, types.KindInternal, err)
		}
		if !has {
			return types.ErrUserNotFound
		}

		if newDisplayName != "" {
			info.DisplayName = newDisplayName
		}
		if newPassword != "" {
			hash, salt, err := hashPassword(newPassword)
			if err != nil {
				return types.WrapError(op, types.KindInternal, err)
			}
			info.PasswordHash = hash
			info.Salt = salt
		}

		return putJSON(infoBucket, id.Bytes(), &info)
	})
}

// VerifyUser checks username/password, returning the user record on
// success.
func (m *Manager) VerifyUser(username, password string) (types.UserInfo, error) {
	const op = "VerifyUser"

	info, err := m.GetUserByUsername(username)
	if err != nil {
		return types.UserInfo{}, err
	}

	if !verifyPassword(password, info.PasswordHash, info.Salt) {
		return types.UserInfo{}, types.NewError(op, types.KindUserNotFound)
	}
	return info, nil
}

// GetUserByID looks up a user by id.
func (m *Manager) GetUserByID(id types.UserId) (types.UserInfo, error) {
	const op = "GetUserByID"
	var info types.UserInfo

	err := m.db.View(func(tx *bolt.Tx) error {
		has, err := getJSON(tx.Bucket(bucketUserInfo), id.Bytes(), &info)
		if err != nil {
			return types.WrapError(op, types.KindInternal, err)
		}
		if !has {
			return types.ErrUserNotFound
		}
		return nil
	})
	return info, err
}

// GetUserByUsername looks up a user by username.
func (m *Manager) GetUserByUsername(username string) (types.UserInfo, error) {
	const op = "GetUserByUsername"
	var info types.UserInfo

	err := m.db.View(func(tx *bolt.Tx) error {
		idBucket := tx.Bucket(bucketUserID)
		idBytes := idBucket.Get([]byte(username))
		if idBytes == nil {
			return types.ErrUserNotFound
		}

		has, err := getJSON(tx.Bucket(bucketUserInfo), idBytes, &info)
		if err != nil {
			return types.WrapError(op, types.KindInternal, err)
		}
		if !has {
			return types.ErrUserNotFound
		}
		return nil
	})
	return info, err
}

// ListUsers returns every user record.
func (m *Manager) ListUsers() ([]types.UserInfo, error) {
	const op = "ListUsers"
	var out []types.UserInfo

	err := m.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketUserInfo).ForEach(func(k, v []byte) error {
			var info types.UserInfo
			if err := json.Unmarshal(v, &info); err != nil {
				return types.WrapError(op, types.KindInternal, err)
			}
			out = append(out, info)
			return nil
		})
	})
	return out, err
}

// UserCount returns the number of registered users. Used by
// HasRegisteredUsers and the periodic metrics collector.
func (m *Manager) UserCount() (int, error) {
	count := 0
	err := m.db.View(func(tx *bolt.Tx) error {
		count = tx.Bucket(bucketUserInfo).Stats().KeyN
		return nil
	})
	return count, err
}

// HasRegisteredUsers reports whether any user exists, used to decide
// whether first-run bootstrap should prompt for an admin account.
func (m *Manager) HasRegisteredUsers() (bool, error) {
	n, err := m.UserCount()
	return n > 0, err
}
