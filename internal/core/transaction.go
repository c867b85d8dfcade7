package core

import (
	"math/big"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/core/types"
)

// Transaction is the dapp-facing transaction request. Numeric fields are
// quantities: 0x-prefixed hex or decimal strings.
type Transaction struct {
	ChainID              ChainID `json:"chainId,omitempty"`
	From                 string  `json:"from,omitempty"`
	To                   string  `json:"to,omitempty"`
	Value                string  `json:"value,omitempty"`
	Data                 string  `json:"data,omitempty"`
	GasLimit             string  `json:"gasLimit,omitempty"`
	GasPrice             string  `json:"gasPrice,omitempty"`
	MaxFeePerGas         string  `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas string  `json:"maxPriorityFeePerGas,omitempty"`
	Nonce                string  `json:"nonce,omitempty"`
	Type                 string  `json:"type,omitempty"`
}

const (
	TxTypeLegacy  = "legacy"
	TxTypeEIP2930 = "eip2930"
	TxTypeEIP1559 = "eip1559"
)

// TypeName resolves the transaction envelope type. An empty Type yields "".
func (t Transaction) TypeName() (string, error) {
	s := strings.ToLower(strings.TrimSpace(t.Type))
	switch s {
	case "":
		return "", nil
	case TxTypeLegacy, TxTypeEIP2930, TxTypeEIP1559:
		return s, nil
	}
	n, err := ParseQuantity(s)
	if err != nil || !n.IsUint64() {
		return "", errors.Newf("invalid transaction type %q", t.Type)
	}
	switch n.Uint64() {
	case types.LegacyTxType:
		return TxTypeLegacy, nil
	case types.AccessListTxType:
		return TxTypeEIP2930, nil
	case types.DynamicFeeTxType:
		return TxTypeEIP1559, nil
	}
	return "", errors.Newf("unsupported transaction type %q", t.Type)
}

// ParseQuantity parses a 0x-prefixed hex or decimal quantity. Leading zeros
// are tolerated since dapps send them.
func ParseQuantity(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("empty quantity")
	}
	n := new(big.Int)
	var ok bool
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		digits := s[2:]
		if digits == "" {
			return nil, errors.Newf("invalid quantity %q", s)
		}
		_, ok = n.SetString(digits, 16)
	} else {
		_, ok = n.SetString(s, 10)
	}
	if !ok || n.Sign() < 0 {
		return nil, errors.Newf("invalid quantity %q", s)
	}
	return n, nil
}
