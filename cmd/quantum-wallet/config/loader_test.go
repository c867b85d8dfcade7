package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumauth-io/quantum-wallet/internal/session"
)

func TestEmbeddedDefaults(t *testing.T) {
	cfg, err := parse(nil, EmbeddedConfigYAML)
	require.NoError(t, err)

	assert.Equal(t, "8787", cfg.App.Port)
	assert.Equal(t, BackendFile, cfg.Storage.Backend)
	assert.Equal(t, BackendMemory, cfg.Broadcast.Backend)
	assert.Equal(t, 500*time.Millisecond, cfg.Retry.InitialDelay)
	assert.Equal(t, 30*time.Second, cfg.Retry.MaxDelay)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.Tabs.ClaimTimeout)
	assert.Equal(t, 30*time.Second, cfg.Tabs.InactivityThreshold)
	assert.Equal(t, 500*time.Millisecond, cfg.Networks.Debounce)
	assert.Equal(t, session.ModeSigned, cfg.Session.Mode)
	assert.Equal(t, 24*time.Hour, cfg.Permissions.DefaultTTL)
	assert.Equal(t, []string{"http://127.0.0.1:6137", "http://localhost:6137"}, cfg.App.AllowedOrigins)

	w := cfg.Wallet()
	assert.Equal(t, cfg.Retry, w.Retry)
	assert.Equal(t, cfg.Networks.DefaultChainID, w.Networks.DefaultChainID)
}

func TestFileOverlayAndEnv(t *testing.T) {
	dir := t.TempDir()
	overlay := `
Storage:
  Backend: Redis
Networks:
  DefaultChainID: "11155111"
  Custom:
    - ChainID: "8453"
      Name: Base
      RPCURLs:
        - https://mainnet.base.org
      ValidationRules:
        MinGasLimit: 21000
        MaxGasPrice: "50"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(overlay), 0o600))
	t.Setenv("QW_SESSION_MODE", "basic")
	t.Setenv("QW_TABS_CLAIMTIMEOUT", "750ms")

	cfg, err := parse([]string{dir}, EmbeddedConfigYAML)
	require.NoError(t, err)

	assert.Equal(t, BackendRedis, cfg.Storage.Backend)
	assert.Equal(t, "0xaa36a7", cfg.Networks.DefaultChainID)
	require.Len(t, cfg.Networks.Custom, 1)
	assert.Equal(t, "Base", cfg.Networks.Custom[0].Name)
	assert.Equal(t, "50", cfg.Networks.Custom[0].ValidationRules.MaxGasPrice.String())
	assert.Equal(t, session.ModeBasic, cfg.Session.Mode)
	assert.Equal(t, 750*time.Millisecond, cfg.Tabs.ClaimTimeout)
	// untouched keys keep their defaults
	assert.Equal(t, "8787", cfg.App.Port)
}

func TestNormalizeRejects(t *testing.T) {
	base := func() Config {
		return Config{
			App:       App{Signer: true},
			Storage:   Storage{Backend: BackendMemory},
			Broadcast: Broadcast{Backend: BackendMemory},
		}
	}
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"storage backend", func(c *Config) { c.Storage.Backend = "s3" }},
		{"broadcast backend", func(c *Config) { c.Broadcast.Backend = "kafka" }},
		{"session mode", func(c *Config) { c.Session.Mode = "magic" }},
		{"signed without signer", func(c *Config) { c.App.Signer = false }},
		{"chain id", func(c *Config) { c.Networks.DefaultChainID = "mainnet" }},
		{"origin", func(c *Config) { c.App.AllowedOrigins = []string{"not an origin"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(&c)
			assert.Error(t, c.Normalize())
		})
	}

	c := base()
	c.App.AllowedOrigins = []string{"HTTP://LocalHost:6137/", "http://localhost:6137"}
	require.NoError(t, c.Normalize())
	assert.Equal(t, []string{"http://localhost:6137"}, c.App.AllowedOrigins)
}
