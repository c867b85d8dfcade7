package securefile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastOpts = Options{
	KDF: Envelope{Version: 1, ArgonTime: 1, ArgonMemory: 1024, ArgonThreads: 1, ArgonKeyLen: 32},
	AAD: []byte("quantumwallet:test:v1"),
}

type doc struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestEncryptedJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "doc.json")

	require.NoError(t, WriteEncryptedJSON(path, doc{Name: "vault", Count: 3}, []byte("pw"), fastOpts))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "vault")

	got, err := ReadEncryptedJSON[doc](path, []byte("pw"), fastOpts)
	require.NoError(t, err)
	assert.Equal(t, doc{Name: "vault", Count: 3}, got)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestReadEncryptedJSONFailures(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.json")
	require.NoError(t, WriteEncryptedJSON(path, doc{Name: "x"}, []byte("pw"), fastOpts))

	_, err := ReadEncryptedJSON[doc](path, []byte("wrong"), fastOpts)
	assert.True(t, errors.Is(err, ErrInvalidPasswordOrCorrupt))

	other := fastOpts
	other.AAD = []byte("another purpose")
	_, err = ReadEncryptedJSON[doc](path, []byte("pw"), other)
	assert.True(t, errors.Is(err, ErrInvalidPasswordOrCorrupt))

	_, err = ReadEncryptedJSON[doc](filepath.Join(dir, "missing.json"), []byte("pw"), fastOpts)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestEnvFolder(t *testing.T) {
	tests := map[string]string{"": "", "prod": "", "local": "local", "DEV": "develop"}
	for in, want := range tests {
		t.Setenv("QW_ENV", in)
		got, err := EnvFolder()
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	t.Setenv("QW_ENV", "staging")
	_, err := EnvFolder()
	require.Error(t, err)
}
