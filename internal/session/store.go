package session

import (
	"context"
	"errors"
)

// Keys under which the session is persisted. They match the storage keys the
// web client used, so a store can be shared with tooling that reads them.
const (
	KeyAccessToken  = "token"
	KeyRefreshToken = "refreshToken"
	KeyUser         = "user"
	KeyFollowing    = "following"
)

var allKeys = []string{KeyAccessToken, KeyRefreshToken, KeyUser, KeyFollowing}

// ErrKeyNotFound is returned by Store.Get for a key that was never set or was deleted.
var ErrKeyNotFound = errors.New("session key not found")

// Store is a durable string key/value store for session state.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}
