// Package pairing issues the shared token a browser extension presents to
// the local agent.
package pairing

import (
	crand "crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/quantumauth-io/quantum-wallet/internal/constants"
	"github.com/quantumauth-io/quantum-wallet/internal/securefile"
)

const (
	alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789" // no 0 O I 1
	// TokenLength gives 160 bits over the 32-symbol alphabet.
	TokenLength = 32
)

func GenerateToken() (string, error) {
	b := make([]byte, TokenLength)
	if _, err := crand.Read(b); err != nil {
		return "", errors.Wrap(err, "generate pairing token")
	}
	for i := range b {
		b[i] = alphabet[int(b[i])%len(alphabet)]
	}
	return string(b), nil
}

func HashToken(token string) []byte {
	h := sha256.Sum256([]byte(token))
	return h[:]
}

// Matches compares got against want in constant time.
func Matches(want, got string) bool {
	if want == "" || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare(HashToken(want), HashToken(got)) == 1
}

// Load reads the token stored at path.
func Load(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Wrap(err, "read pairing token")
	}
	token := strings.TrimSpace(string(b))
	if token == "" {
		return "", errors.New("empty pairing token")
	}
	return token, nil
}

// Ensure returns the token at path, writing a fresh one when the file does
// not exist yet. created reports whether a token was written.
func Ensure(path string) (token string, created bool, err error) {
	token, err = Load(path)
	if err == nil {
		return token, false, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return "", false, err
	}

	if token, err = GenerateToken(); err != nil {
		return "", false, err
	}
	if err := os.MkdirAll(filepath.Dir(path), constants.DirectoryPerm); err != nil {
		return "", false, errors.Wrap(err, "create pairing token dir")
	}
	if err := securefile.AtomicWriteFile(path, []byte(token+"\n"), constants.FilePerm); err != nil {
		return "", false, err
	}
	return token, true, nil
}
