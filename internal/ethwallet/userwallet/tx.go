package userwallet

import (
	"context"
	"math/big"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/quantumauth-io/quantum-wallet/internal/core"
)

// SignTransaction builds a legacy or EIP-1559 transaction from the request
// and signs it for the request's chain. Nonce and gas limit are required:
// this signer never talks to a node.
func (w *Wallet) SignTransaction(_ context.Context, req core.Transaction) (string, error) {
	if req.From != "" && !strings.EqualFold(common.HexToAddress(req.From).Hex(), w.Address().Hex()) {
		return "", errors.Wrapf(ErrUnknownAccount, "%s", req.From)
	}
	chainID := req.ChainID.Big()
	if chainID == nil {
		return "", errors.Wrapf(core.ErrInvalidChain, "chain id %q", req.ChainID)
	}

	nonce, err := requiredUint64(req.Nonce, "nonce")
	if err != nil {
		return "", err
	}
	gas, err := requiredUint64(req.GasLimit, "gasLimit")
	if err != nil {
		return "", err
	}
	value, err := optionalBig(req.Value)
	if err != nil {
		return "", errors.Wrap(err, "value")
	}
	data, err := decodeData(req.Data)
	if err != nil {
		return "", err
	}
	var to *common.Address
	if strings.TrimSpace(req.To) != "" {
		if !common.IsHexAddress(req.To) {
			return "", errors.Newf("invalid to address %q", req.To)
		}
		addr := common.HexToAddress(req.To)
		to = &addr
	}

	typeName, err := req.TypeName()
	if err != nil {
		return "", err
	}
	if typeName == "" && req.MaxFeePerGas != "" {
		typeName = core.TxTypeEIP1559
	}

	var inner types.TxData
	switch typeName {
	case core.TxTypeEIP1559:
		feeCap, err := core.ParseQuantity(req.MaxFeePerGas)
		if err != nil {
			return "", errors.Wrap(err, "maxFeePerGas")
		}
		tip, err := core.ParseQuantity(req.MaxPriorityFeePerGas)
		if err != nil {
			return "", errors.Wrap(err, "maxPriorityFeePerGas")
		}
		inner = &types.DynamicFeeTx{
			ChainID:   chainID,
			Nonce:     nonce,
			GasTipCap: tip,
			GasFeeCap: feeCap,
			Gas:       gas,
			To:        to,
			Value:     value,
			Data:      data,
		}
	case core.TxTypeLegacy, "":
		gasPrice, err := core.ParseQuantity(req.GasPrice)
		if err != nil {
			return "", errors.Wrap(err, "gasPrice")
		}
		inner = &types.LegacyTx{
			Nonce:    nonce,
			GasPrice: gasPrice,
			Gas:      gas,
			To:       to,
			Value:    value,
			Data:     data,
		}
	default:
		return "", errors.Newf("transaction type %s not supported by signer", typeName)
	}

	key, err := w.privateKey()
	if err != nil {
		return "", err
	}
	signed, err := types.SignTx(types.NewTx(inner), types.LatestSignerForChainID(chainID), key)
	if err != nil {
		return "", errors.Wrap(err, "sign transaction")
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return "", errors.Wrap(err, "encode transaction")
	}
	return hexutil.Encode(raw), nil
}

func requiredUint64(s, field string) (uint64, error) {
	n, err := core.ParseQuantity(s)
	if err != nil {
		return 0, errors.Wrap(err, field)
	}
	if !n.IsUint64() {
		return 0, errors.Newf("%s out of range", field)
	}
	return n.Uint64(), nil
}

func optionalBig(s string) (*big.Int, error) {
	if strings.TrimSpace(s) == "" {
		return new(big.Int), nil
	}
	return core.ParseQuantity(s)
}

func decodeData(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0x" {
		return nil, nil
	}
	b, err := hexutil.Decode(s)
	if err != nil {
		return nil, errors.Wrap(err, "data")
	}
	return b, nil
}
