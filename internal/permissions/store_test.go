package permissions

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumauth-io/quantum-wallet/internal/storage"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

const dapp = "https://dapp.example"

func TestPermissionLifecycle(t *testing.T) {
	clock := newFakeClock()
	s := NewStore(WithClock(clock.Now))

	revoked := make(chan Revoked, 4)
	defer s.SubscribeRevoked(revoked).Unsubscribe()

	s.Grant(dapp, []string{"eth_accounts"}, 1000*time.Millisecond)
	assert.True(t, s.Has(dapp, "eth_accounts"))
	assert.False(t, s.Has(dapp, "eth_sendTransaction"))

	clock.Advance(999 * time.Millisecond)
	assert.True(t, s.Has(dapp, "eth_accounts"))

	clock.Advance(101 * time.Millisecond)
	assert.False(t, s.Has(dapp, "eth_accounts"))
	require.Len(t, revoked, 1)
	assert.Equal(t, dapp, (<-revoked).Origin)

	assert.Equal(t, 0, s.Count(), "expired entry is removed on read")
	assert.False(t, s.Has(dapp, "eth_accounts"))
	assert.Empty(t, revoked, "no second revoke for an already removed entry")
}

func TestPermissionExpiryBoundary(t *testing.T) {
	clock := newFakeClock()
	s := NewStore(WithClock(clock.Now))

	ttl := 5 * time.Second
	s.Grant(dapp, []string{"eth_chainId"}, ttl)
	clock.Advance(ttl)
	assert.False(t, s.Has(dapp, "eth_chainId"), "elapsed == ttl is expired")
}

func TestGrantReplacesPriorSet(t *testing.T) {
	s := NewStore()
	s.Grant(dapp, []string{"eth_accounts", "personal_sign"}, 0)
	s.Grant(dapp, []string{"eth_chainId"}, 0)

	assert.True(t, s.Has(dapp, "eth_chainId"))
	assert.False(t, s.Has(dapp, "eth_accounts"))
	assert.False(t, s.Has(dapp, "personal_sign"))

	p, ok := s.Permissions(dapp)
	require.True(t, ok)
	assert.Equal(t, []string{"eth_chainId"}, p.Methods)
}

func TestGrantDefaultTTL(t *testing.T) {
	clock := newFakeClock()
	s := NewStore(WithClock(clock.Now))

	p := s.Grant(dapp, []string{"eth_accounts"}, 0)
	require.NotNil(t, p.ExpiresAt)
	assert.Equal(t, clock.Now().Add(DefaultTTL), *p.ExpiresAt)
}

func TestRevokeEmitsOnlyWhenRemoved(t *testing.T) {
	s := NewStore()
	revoked := make(chan Revoked, 4)
	granted := make(chan Granted, 4)
	defer s.SubscribeRevoked(revoked).Unsubscribe()
	defer s.SubscribeGranted(granted).Unsubscribe()

	assert.False(t, s.Revoke(dapp))
	assert.Empty(t, revoked)

	s.Grant(dapp, []string{"eth_accounts"}, 0)
	require.Len(t, granted, 1)
	assert.Equal(t, Granted{Origin: dapp, Methods: []string{"eth_accounts"}}, <-granted)

	assert.True(t, s.Revoke(dapp))
	assert.Len(t, revoked, 1)
}

func TestOriginNormalization(t *testing.T) {
	s := NewStore()
	s.Grant("HTTPS://Dapp.Example/path?q=1", []string{"eth_accounts"}, 0)

	assert.True(t, s.Has(dapp, "eth_accounts"))
	assert.True(t, s.Has("https://dapp.example/other", "eth_accounts"))
	assert.False(t, s.Has("http://dapp.example", "eth_accounts"))
}

func TestSweepExpired(t *testing.T) {
	clock := newFakeClock()
	s := NewStore(WithClock(clock.Now))

	s.Grant("https://a.example", []string{"eth_accounts"}, time.Second)
	s.Grant("https://b.example", []string{"eth_accounts"}, time.Hour)
	clock.Advance(2 * time.Second)

	assert.Equal(t, 1, s.SweepExpired())
	list := s.List()
	require.Len(t, list, 1)
	assert.Equal(t, "https://b.example", list[0].Origin)
}

func TestSaveAndLoad(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	st := storage.NewMemoryStore()

	s := NewStore(WithClock(clock.Now))
	s.Grant("https://a.example", ConnectSiteMethods, time.Hour)
	s.Grant("https://b.example", []string{"eth_accounts"}, time.Second)
	clock.Advance(2 * time.Second)
	require.NoError(t, s.Save(ctx, st))

	restored := NewStore(WithClock(clock.Now))
	require.NoError(t, restored.Load(ctx, st))
	assert.True(t, restored.Has("https://a.example", "wallet_switchEthereumChain"))
	assert.False(t, restored.Has("https://b.example", "eth_accounts"))
	assert.Equal(t, 1, restored.Count())
}

func TestLoadMissingListIsEmpty(t *testing.T) {
	s := NewStore()
	s.Grant(dapp, []string{"eth_accounts"}, 0)
	require.NoError(t, s.Load(context.Background(), storage.NewMemoryStore()))
	assert.Equal(t, 0, s.Count())
}
