package permissions

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/quantumauth-io/quantum-wallet/internal/storage"
)

type permissionFile struct {
	Permissions []Permission `json:"permissions"`
	Updated     string       `json:"updated,omitempty"`
}

// Load replaces the table with the persisted permission list. A missing
// list leaves the table empty.
func (s *Store) Load(ctx context.Context, st storage.Store) error {
	pf, ok, err := storage.GetJSON[permissionFile](ctx, st, storage.KeyPermissions)
	if err != nil {
		return errors.Wrap(err, "load permissions")
	}
	if !ok {
		s.replace(nil)
		return nil
	}
	s.replace(pf.Permissions)
	return nil
}

// Save sweeps expired grants and writes the remaining list.
func (s *Store) Save(ctx context.Context, st storage.Store) error {
	s.SweepExpired()
	pf := permissionFile{
		Permissions: s.List(),
		Updated:     s.now().UTC().Format(time.RFC3339),
	}
	if err := storage.SetJSON(ctx, st, storage.KeyPermissions, pf); err != nil {
		return errors.Wrap(err, "save permissions")
	}
	return nil
}
