package session

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/quantumauth-io/quantum-wallet/internal/core"
	"github.com/quantumauth-io/quantum-wallet/internal/ethwallet/wtypes"
)

const messageVersion = "1"

// SignInMessage renders an EIP-4361 style challenge.
func SignInMessage(origin string, address common.Address, chainID core.ChainID, nonce string, issuedAt time.Time) string {
	domain := origin
	if u, err := url.Parse(origin); err == nil && u.Host != "" {
		domain = u.Host
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s wants you to sign in with your Ethereum account:\n", domain)
	fmt.Fprintf(&b, "%s\n\n", address.Hex())
	fmt.Fprintf(&b, "URI: %s\n", origin)
	fmt.Fprintf(&b, "Version: %s\n", messageVersion)
	fmt.Fprintf(&b, "Chain ID: %s\n", chainID.Decimal())
	fmt.Fprintf(&b, "Nonce: %s\n", nonce)
	fmt.Fprintf(&b, "Issued At: %s", issuedAt.UTC().Format(time.RFC3339Nano))
	return b.String()
}

func newNonce() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", errors.Wrap(err, "nonce")
	}
	return hex.EncodeToString(b), nil
}

// RecoverSigner returns the address that produced a personal_sign signature
// over message.
func RecoverSigner(message, signatureHex string) (common.Address, error) {
	sig, err := hexutil.Decode(signatureHex)
	if err != nil {
		return common.Address{}, errors.Wrap(err, "decode signature")
	}
	sig, err = wtypes.SigToV01(sig)
	if err != nil {
		return common.Address{}, err
	}
	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return common.Address{}, errors.Wrap(err, "recover public key")
	}
	return crypto.PubkeyToAddress(*pub), nil
}
