// Package storage holds the key-value persistence port and its adapters.
package storage

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
)

var ErrNotFound = errors.New("key not found")

// Well-known keys.
const (
	KeyVault       = "vault"
	KeyWalletState = "walletState"
	KeyPermissions = "permissions"
	KeySessions    = "sessions"
	KeyNetworks    = "networks"
	KeyUsername    = "username"
	KeySessionKey  = "sessionSecret"

	// DataPrefix namespaces opaque values stored through storeData.
	DataPrefix = "data:"
)

// Store is an async get/set/remove key-value service. Get returns
// ErrNotFound for absent keys; Remove of an absent key is not an error.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
}

// GetJSON decodes the document under key. ok is false when the key is absent.
func GetJSON[T any](ctx context.Context, s Store, key string) (v T, ok bool, err error) {
	b, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return v, false, nil
	}
	if err != nil {
		return v, false, err
	}
	if err := json.Unmarshal(b, &v); err != nil {
		return v, false, errors.Wrapf(err, "decode %s", key)
	}
	return v, true, nil
}

func SetJSON(ctx context.Context, s Store, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "encode %s", key)
	}
	return s.Set(ctx, key, b)
}
