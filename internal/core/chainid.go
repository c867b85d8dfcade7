package core

import (
	"encoding/json"
	"math/big"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ChainID is a chain identifier in canonical form: lowercase, 0x-prefixed
// hex without leading zeros. Decoding from JSON normalizes the input, so a
// ChainID read off the wire is always canonical.
type ChainID string

// NormalizeChainID converts decimal ("1", "11155111"), unprefixed hex
// ("aa36a7"), uppercase hex ("0XAA36A7") or canonical hex into canonical form.
// Strings made only of decimal digits are read as decimal.
func NormalizeChainID(raw string) (ChainID, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return "", errors.Wrap(ErrInvalidChain, "empty chain id")
	}

	var (
		n  = new(big.Int)
		ok bool
	)
	switch {
	case strings.HasPrefix(s, "0x"):
		digits := s[2:]
		if digits == "" {
			return "", errors.Wrapf(ErrInvalidChain, "chain id %q", raw)
		}
		_, ok = n.SetString(digits, 16)
	case isDecimal(s):
		_, ok = n.SetString(s, 10)
	default:
		_, ok = n.SetString(s, 16)
	}
	if !ok || n.Sign() <= 0 {
		return "", errors.Wrapf(ErrInvalidChain, "chain id %q", raw)
	}
	return ChainID(hexutil.EncodeBig(n)), nil
}

// MustChainID normalizes raw and panics on failure. Intended for constants.
func MustChainID(raw string) ChainID {
	id, err := NormalizeChainID(raw)
	if err != nil {
		panic(err)
	}
	return id
}

func ChainIDFromUint64(v uint64) ChainID {
	return ChainID(hexutil.EncodeUint64(v))
}

func (c ChainID) String() string { return string(c) }

// Big returns the numeric value, or nil if c is not canonical.
func (c ChainID) Big() *big.Int {
	n, err := hexutil.DecodeBig(string(c))
	if err != nil {
		return nil
	}
	return n
}

// Decimal is the base-10 rendering used in human-readable sign-in messages.
func (c ChainID) Decimal() string {
	n := c.Big()
	if n == nil {
		return ""
	}
	return n.String()
}

// UnmarshalJSON accepts a JSON number or string in any supported notation.
func (c *ChainID) UnmarshalJSON(b []byte) error {
	raw := strings.TrimSpace(string(b))
	if raw == "null" || raw == `""` {
		*c = ""
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return errors.Wrap(err, "decode chain id")
		}
		raw = s
	}
	id, err := NormalizeChainID(raw)
	if err != nil {
		return err
	}
	*c = id
	return nil
}

func isDecimal(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
