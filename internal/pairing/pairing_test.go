package pairing

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateToken(t *testing.T) {
	a, err := GenerateToken()
	require.NoError(t, err)
	b, err := GenerateToken()
	require.NoError(t, err)

	assert.Len(t, a, TokenLength)
	assert.NotEqual(t, a, b)
	for _, r := range a {
		assert.True(t, strings.ContainsRune(alphabet, r), "unexpected symbol %q", r)
	}
}

func TestEnsureCreatesOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "pair_token.txt")

	first, created, err := Ensure(path)
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := Ensure(path)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first, second)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestLoadRejectsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(path, []byte("  \n"), 0o600))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestMatches(t *testing.T) {
	tests := []struct {
		want, got string
		ok        bool
	}{
		{"ABCD", "ABCD", true},
		{"ABCD", "ABCE", false},
		{"ABCD", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.ok, Matches(tt.want, tt.got), "%q vs %q", tt.want, tt.got)
	}
}
