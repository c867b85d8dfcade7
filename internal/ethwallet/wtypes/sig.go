package wtypes

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"

	"github.com/quantumauth-io/quantum-wallet/internal/core"
)

// Signer is the signing capability the coordination core consumes. Failures
// propagate as plain errors; implementations never retry.
type Signer interface {
	Accounts(ctx context.Context) ([]common.Address, error)
	// SignMessage returns a 0x-prefixed 65-byte personal_sign signature (V=27/28).
	SignMessage(ctx context.Context, address common.Address, message []byte) (string, error)
	// SignTransaction returns the 0x-prefixed raw signed transaction.
	SignTransaction(ctx context.Context, tx core.Transaction) (string, error)
}

// SigToV27 converts V 0/1 -> 27/28. If V is already 27/28, it leaves it unchanged.
func SigToV27(sig65 []byte) ([]byte, error) {
	out, err := copySig(sig65)
	if err != nil {
		return nil, err
	}
	switch out[64] {
	case 0, 1:
		out[64] += 27
	case 27, 28:
	default:
		return nil, errors.Newf("unexpected v value %d", out[64])
	}
	return out, nil
}

// SigToV01 converts V 27/28 -> 0/1, the form crypto.SigToPub expects.
func SigToV01(sig65 []byte) ([]byte, error) {
	out, err := copySig(sig65)
	if err != nil {
		return nil, err
	}
	switch out[64] {
	case 27, 28:
		out[64] -= 27
	case 0, 1:
	default:
		return nil, errors.Newf("unexpected v value %d", out[64])
	}
	return out, nil
}

func copySig(sig65 []byte) ([]byte, error) {
	if len(sig65) != 65 {
		return nil, errors.Newf("signature must be 65 bytes, got %d", len(sig65))
	}
	out := make([]byte, 65)
	copy(out, sig65)
	return out, nil
}
