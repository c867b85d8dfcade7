package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumauth-io/quantum-wallet/internal/core"
	"github.com/quantumauth-io/quantum-wallet/internal/securefile"
)

var fastKDF = securefile.Options{
	KDF: securefile.Envelope{Version: 1, ArgonTime: 1, ArgonMemory: 1024, ArgonThreads: 1, ArgonKeyLen: 32},
}

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Get(ctx, KeyUsername)
	require.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, s.Set(ctx, KeyUsername, []byte("alice")))
	v, err := s.Get(ctx, KeyUsername)
	require.NoError(t, err)
	assert.Equal(t, []byte("alice"), v)

	require.NoError(t, s.Remove(ctx, KeyUsername))
	require.NoError(t, s.Remove(ctx, KeyUsername), "removing an absent key is not an error")
	_, err = s.Get(ctx, KeyUsername)
	require.True(t, errors.Is(err, ErrNotFound))
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	exerciseStore(t, NewFileStore(path, []byte("pw"), fastKDF))
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store.json")

	s := NewFileStore(path, []byte("pw"), fastKDF)
	require.NoError(t, SetJSON(ctx, s, KeyWalletState, map[string]string{"chainId": "0x1"}))

	reopened := NewFileStore(path, []byte("pw"), fastKDF)
	got, ok, err := GetJSON[map[string]string](ctx, reopened, KeyWalletState)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "0x1", got["chainId"])

	wrong := NewFileStore(path, []byte("nope"), fastKDF)
	_, err = wrong.Get(ctx, KeyWalletState)
	assert.True(t, errors.Is(err, securefile.ErrInvalidPasswordOrCorrupt))
}

func TestGetJSONAbsentKey(t *testing.T) {
	_, ok, err := GetJSON[[]string](context.Background(), NewMemoryStore(), KeyPermissions)
	require.NoError(t, err)
	assert.False(t, ok)
}

type stallingStore struct{ *MemoryStore }

func (s *stallingStore) Get(ctx context.Context, key string) ([]byte, error) {
	time.Sleep(200 * time.Millisecond)
	return nil, ErrNotFound
}

func TestWithTimeout(t *testing.T) {
	s := WithTimeout(&stallingStore{MemoryStore: NewMemoryStore()}, 20*time.Millisecond)

	start := time.Now()
	_, err := s.Get(context.Background(), KeyVault)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrStorageTimeout))
	assert.Less(t, time.Since(start), 150*time.Millisecond)

	require.NoError(t, s.Set(context.Background(), KeyVault, []byte("x")))
}

func TestWithTimeoutParentCancelled(t *testing.T) {
	s := WithTimeout(&stallingStore{MemoryStore: NewMemoryStore()}, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Get(ctx, KeyVault)
	assert.True(t, errors.Is(err, context.Canceled))
}
