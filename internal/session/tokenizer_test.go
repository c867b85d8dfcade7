package session

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumauth-io/quantum-wallet/internal/storage"
)

func TestTokenRoundTrip(t *testing.T) {
	st := storage.NewMemoryStore()
	secret, err := LoadOrCreateSecret(context.Background(), st)
	require.NoError(t, err)
	again, err := LoadOrCreateSecret(context.Background(), st)
	require.NoError(t, err)
	assert.Equal(t, secret, again)

	tok, err := NewTokenizer(secret)
	require.NoError(t, err)

	now := time.Now()
	auth := Auth{
		ID:        "a1",
		Origin:    origin,
		Address:   address,
		ChainID:   "0x1",
		Message:   "hello",
		Signature: "0xabc",
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}
	raw, err := tok.SessionToToken(auth)
	require.NoError(t, err)

	got, err := tok.TokenToSession(raw)
	require.NoError(t, err)
	assert.Equal(t, auth.ID, got.ID)
	assert.Equal(t, auth.Origin, got.Origin)
	assert.Equal(t, auth.Address, got.Address)
	assert.Equal(t, auth.ChainID, got.ChainID)
	assert.Equal(t, auth.Signature, got.Signature)
	assert.WithinDuration(t, auth.ExpiresAt, got.ExpiresAt, time.Second)
}

func TestTokenRejections(t *testing.T) {
	_, err := NewTokenizer([]byte("short"))
	require.Error(t, err)

	tok, err := NewTokenizer(bytes.Repeat([]byte{1}, 32))
	require.NoError(t, err)
	other, err := NewTokenizer(bytes.Repeat([]byte{2}, 32))
	require.NoError(t, err)

	now := time.Now()
	expired := Auth{ID: "x", Origin: origin, Address: address, CreatedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour)}
	raw, err := tok.SessionToToken(expired)
	require.NoError(t, err)
	_, err = tok.TokenToSession(raw)
	assert.Error(t, err)

	live := Auth{ID: "y", Origin: origin, Address: address, CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	raw, err = other.SessionToToken(live)
	require.NoError(t, err)
	_, err = tok.TokenToSession(raw)
	assert.Error(t, err)
}
