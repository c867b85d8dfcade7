// Package securefile reads and writes password-encrypted JSON documents.
// Keys are derived with Argon2id and payloads sealed with XChaCha20-Poly1305;
// writes are atomic (temp file + rename).
package securefile

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// ErrInvalidPasswordOrCorrupt is returned when decryption fails. Kept generic
// so callers cannot tell a wrong password from a damaged file.
var ErrInvalidPasswordOrCorrupt = errors.New("invalid password or corrupted file")

// Envelope is the on-disk form of an encrypted document.
type Envelope struct {
	Version int `json:"version"`

	ArgonTime    uint32 `json:"argon_time"`
	ArgonMemory  uint32 `json:"argon_memory_kib"`
	ArgonThreads uint8  `json:"argon_threads"`
	ArgonKeyLen  uint32 `json:"argon_key_len"`

	SaltB64  string `json:"salt_b64"`
	NonceB64 string `json:"nonce_b64"`
	CTB64    string `json:"ct_b64"`
}

// DefaultKDF suits an interactive unlock on a desktop machine.
var DefaultKDF = Envelope{
	Version:      1,
	ArgonTime:    2,
	ArgonMemory:  64 * 1024,
	ArgonThreads: 1,
	ArgonKeyLen:  32,
}

type Options struct {
	KDF           Envelope
	FilePerm      os.FileMode
	DirectoryPerm os.FileMode

	// AAD binds the ciphertext to a purpose label; it must match on read.
	AAD []byte
}

func (o Options) withDefaults() Options {
	if o.KDF.Version == 0 {
		o.KDF = DefaultKDF
	}
	if o.FilePerm == 0 {
		o.FilePerm = 0o600
	}
	if o.DirectoryPerm == 0 {
		o.DirectoryPerm = 0o700
	}
	return o
}

// WriteEncryptedJSON marshals v, seals it with password and writes it to path.
func WriteEncryptedJSON[T any](path string, v T, password []byte, opt Options) error {
	o := opt.withDefaults()

	plain, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "marshal document")
	}
	env, err := seal(plain, password, o)
	if err != nil {
		return err
	}
	b, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal envelope")
	}

	if err := os.MkdirAll(filepath.Dir(path), o.DirectoryPerm); err != nil {
		return errors.Wrapf(err, "mkdir %s", filepath.Dir(path))
	}
	return AtomicWriteFile(path, b, o.FilePerm)
}

// ReadEncryptedJSON opens the document at path. A missing file surfaces as an
// error satisfying errors.Is(err, os.ErrNotExist).
func ReadEncryptedJSON[T any](path string, password []byte, opt Options) (T, error) {
	var out T
	o := opt.withDefaults()

	b, err := os.ReadFile(path)
	if err != nil {
		return out, errors.Wrapf(err, "read %s", path)
	}
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return out, errors.Wrap(err, "decode envelope")
	}
	plain, err := open(env, password, o)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(plain, &out); err != nil {
		return out, errors.Wrap(err, "decode document")
	}
	return out, nil
}

func seal(plain, password []byte, o Options) (Envelope, error) {
	if o.KDF.Version != 1 {
		return Envelope{}, errors.Newf("unsupported kdf version %d", o.KDF.Version)
	}
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return Envelope{}, errors.Wrap(err, "salt")
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return Envelope{}, errors.Wrap(err, "nonce")
	}

	key := argon2.IDKey(password, salt, o.KDF.ArgonTime, o.KDF.ArgonMemory, o.KDF.ArgonThreads, o.KDF.ArgonKeyLen)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return Envelope{}, errors.Wrap(err, "aead")
	}

	env := o.KDF
	env.SaltB64 = base64.StdEncoding.EncodeToString(salt)
	env.NonceB64 = base64.StdEncoding.EncodeToString(nonce)
	env.CTB64 = base64.StdEncoding.EncodeToString(aead.Seal(nil, nonce, plain, o.AAD))
	return env, nil
}

func open(env Envelope, password []byte, o Options) ([]byte, error) {
	if env.Version != 1 {
		return nil, errors.Newf("unsupported envelope version %d", env.Version)
	}
	salt, err := base64.StdEncoding.DecodeString(env.SaltB64)
	if err != nil {
		return nil, errors.Wrap(err, "decode salt")
	}
	nonce, err := base64.StdEncoding.DecodeString(env.NonceB64)
	if err != nil {
		return nil, errors.Wrap(err, "decode nonce")
	}
	ct, err := base64.StdEncoding.DecodeString(env.CTB64)
	if err != nil {
		return nil, errors.Wrap(err, "decode ciphertext")
	}

	key := argon2.IDKey(password, salt, env.ArgonTime, env.ArgonMemory, env.ArgonThreads, env.ArgonKeyLen)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, errors.Wrap(err, "aead")
	}
	plain, err := aead.Open(nil, nonce, ct, o.AAD)
	if err != nil {
		return nil, ErrInvalidPasswordOrCorrupt
	}
	return plain, nil
}

// AtomicWriteFile writes data next to path and renames it into place.
func AtomicWriteFile(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"
	_ = os.Remove(tmp)

	if err := os.WriteFile(tmp, data, perm); err != nil {
		return errors.Wrap(err, "write tmp")
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrap(err, "rename")
	}
	return nil
}

// DataDir returns <user config dir>/<app>, with a QW_ENV subfolder for
// non-production environments (local, develop).
func DataDir(app string) (string, error) {
	if strings.TrimSpace(app) == "" {
		return "", errors.New("app must not be empty")
	}
	base, err := os.UserConfigDir()
	if err != nil {
		home := os.Getenv("HOME")
		if home == "" {
			return "", errors.Wrap(err, "user config dir")
		}
		base = filepath.Join(home, ".config")
	}

	env, err := EnvFolder()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, app, env), nil
}

func EnvFolder() (string, error) {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv("QW_ENV")))
	switch raw {
	case "", "prod", "production":
		return "", nil
	case "local":
		return "local", nil
	case "dev", "develop", "development":
		return "develop", nil
	default:
		return "", errors.Newf("invalid QW_ENV %q (allowed: local, develop, empty)", raw)
	}
}
