// Package userwallet is a locally held secp256k1 key, encrypted at rest,
// that implements the wtypes.Signer capability.
package userwallet

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/quantumauth-io/quantum-wallet/internal/constants"
	"github.com/quantumauth-io/quantum-wallet/internal/core"
	"github.com/quantumauth-io/quantum-wallet/internal/ethwallet/wtypes"
	"github.com/quantumauth-io/quantum-wallet/internal/securefile"
)

var ErrUnknownAccount = errors.Mark(errors.New("unknown account"), core.ErrInvalidInput)

// Wallet is the decrypted vault document.
type Wallet struct {
	Version    int    `json:"version"`
	AddressHex string `json:"address"`
	PrivKeyHex string `json:"priv_key_hex"`
	CreatedAt  string `json:"created_at,omitempty"`
}

var _ wtypes.Signer = (*Wallet)(nil)

func (w *Wallet) Address() common.Address {
	return common.HexToAddress(w.AddressHex)
}

func (w *Wallet) privateKey() (*ecdsa.PrivateKey, error) {
	b, err := hexutil.Decode(w.PrivKeyHex)
	if err != nil {
		return nil, errors.Wrap(err, "decode private key")
	}
	k, err := crypto.ToECDSA(b)
	if err != nil {
		return nil, errors.Wrap(err, "to ecdsa")
	}
	return k, nil
}

func (w *Wallet) Accounts(_ context.Context) ([]common.Address, error) {
	return []common.Address{w.Address()}, nil
}

// SignHash signs a 32-byte digest; V is 0/1.
func (w *Wallet) SignHash(_ context.Context, digest32 []byte) ([]byte, error) {
	if len(digest32) != 32 {
		return nil, errors.Newf("digest must be 32 bytes, got %d", len(digest32))
	}
	key, err := w.privateKey()
	if err != nil {
		return nil, err
	}
	return crypto.Sign(digest32, key)
}

func (w *Wallet) SignMessage(ctx context.Context, address common.Address, message []byte) (string, error) {
	if address != w.Address() {
		return "", errors.Wrapf(ErrUnknownAccount, "%s", address.Hex())
	}
	sig, err := w.SignHash(ctx, accounts.TextHash(message))
	if err != nil {
		return "", errors.Wrap(err, "sign message")
	}
	sig, err = wtypes.SigToV27(sig)
	if err != nil {
		return "", err
	}
	return hexutil.Encode(sig), nil
}

// Store locates the encrypted vault file.
type Store struct {
	Path string
	Opt  securefile.Options
}

// NewStore places the vault under dataDir.
func NewStore(dataDir string) *Store {
	return &Store{
		Path: filepath.Join(dataDir, constants.WalletFile),
		Opt:  securefile.Options{AAD: []byte(constants.WalletAAD)},
	}
}

// Ensure unlocks the vault, creating a fresh key if none exists yet.
func (s *Store) Ensure(password []byte) (*Wallet, error) {
	w, err := securefile.ReadEncryptedJSON[Wallet](s.Path, password, s.Opt)
	if err == nil {
		return &w, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, errors.Wrapf(err, "unlock wallet %s", s.Path)
	}

	nw, err := NewRandomWallet()
	if err != nil {
		return nil, err
	}
	if err := securefile.WriteEncryptedJSON(s.Path, *nw, password, s.Opt); err != nil {
		return nil, err
	}
	return nw, nil
}

func NewRandomWallet() (*Wallet, error) {
	key, err := ecdsa.GenerateKey(crypto.S256(), rand.Reader)
	if err != nil {
		return nil, errors.Wrap(err, "generate key")
	}
	return FromKey(key), nil
}

func FromKey(key *ecdsa.PrivateKey) *Wallet {
	return &Wallet{
		Version:    constants.SchemaV1,
		AddressHex: crypto.PubkeyToAddress(key.PublicKey).Hex(),
		PrivKeyHex: hexutil.Encode(crypto.FromECDSA(key)),
		CreatedAt:  time.Now().UTC().Format(time.RFC3339),
	}
}
