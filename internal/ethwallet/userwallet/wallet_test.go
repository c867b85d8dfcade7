package userwallet

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumauth-io/quantum-wallet/internal/core"
	"github.com/quantumauth-io/quantum-wallet/internal/ethwallet/wtypes"
	"github.com/quantumauth-io/quantum-wallet/internal/securefile"
)

func TestStoreEnsureCreatesThenUnlocks(t *testing.T) {
	s := NewStore(t.TempDir())
	s.Opt.KDF = securefile.Envelope{Version: 1, ArgonTime: 1, ArgonMemory: 1024, ArgonThreads: 1, ArgonKeyLen: 32}

	created, err := s.Ensure([]byte("pw"))
	require.NoError(t, err)

	again, err := s.Ensure([]byte("pw"))
	require.NoError(t, err)
	assert.Equal(t, created.Address(), again.Address())

	_, err = s.Ensure([]byte("wrong"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, securefile.ErrInvalidPasswordOrCorrupt))
	assert.Equal(t, "wallet.json", filepath.Base(s.Path))
}

func TestSignMessageRecoversToAddress(t *testing.T) {
	w, err := NewRandomWallet()
	require.NoError(t, err)
	ctx := context.Background()

	msg := []byte("https://dapp.example wants you to sign in")
	sigHex, err := w.SignMessage(ctx, w.Address(), msg)
	require.NoError(t, err)

	sig, err := hexutil.Decode(sigHex)
	require.NoError(t, err)
	require.Len(t, sig, 65)
	assert.Contains(t, []byte{27, 28}, sig[64])

	sig01, err := wtypes.SigToV01(sig)
	require.NoError(t, err)
	pub, err := crypto.SigToPub(accounts.TextHash(msg), sig01)
	require.NoError(t, err)
	assert.Equal(t, w.Address(), crypto.PubkeyToAddress(*pub))

	_, err = w.SignMessage(ctx, common.HexToAddress("0x0000000000000000000000000000000000000001"), msg)
	assert.True(t, errors.Is(err, ErrUnknownAccount))
	assert.True(t, core.IsPermanent(err))
}

func TestSignTransaction(t *testing.T) {
	w, err := NewRandomWallet()
	require.NoError(t, err)
	ctx := context.Background()

	tests := []struct {
		name     string
		tx       core.Transaction
		wantType uint8
	}{
		{
			name: "eip1559",
			tx: core.Transaction{
				ChainID:              "0xaa36a7",
				To:                   "0x000000000000000000000000000000000000dEaD",
				Value:                "0x2386f26fc10000",
				GasLimit:             "21000",
				MaxFeePerGas:         "0x77359400",
				MaxPriorityFeePerGas: "0x3b9aca00",
				Nonce:                "0x0",
			},
			wantType: types.DynamicFeeTxType,
		},
		{
			name: "legacy",
			tx: core.Transaction{
				ChainID:  "0x1",
				To:       "0x000000000000000000000000000000000000dEaD",
				GasLimit: "0x5208",
				GasPrice: "1000000000",
				Nonce:    "7",
				Data:     "0x",
			},
			wantType: types.LegacyTxType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := w.SignTransaction(ctx, tt.tx)
			require.NoError(t, err)

			b, err := hexutil.Decode(raw)
			require.NoError(t, err)
			var decoded types.Transaction
			require.NoError(t, decoded.UnmarshalBinary(b))
			assert.Equal(t, tt.wantType, decoded.Type())
			assert.Equal(t, uint64(21000), decoded.Gas())

			chainID := tt.tx.ChainID.Big()
			from, err := types.Sender(types.LatestSignerForChainID(chainID), &decoded)
			require.NoError(t, err)
			assert.Equal(t, w.Address(), from)
			assert.Equal(t, 0, decoded.ChainId().Cmp(chainID))
		})
	}
}

func TestSignTransactionRequiresNonce(t *testing.T) {
	w, err := NewRandomWallet()
	require.NoError(t, err)

	_, err = w.SignTransaction(context.Background(), core.Transaction{
		ChainID:  "0x1",
		GasLimit: "21000",
		GasPrice: "1",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nonce")

	_, err = w.SignTransaction(context.Background(), core.Transaction{
		ChainID:  "0x1",
		From:     "0x0000000000000000000000000000000000000001",
		Nonce:    "0",
		GasLimit: "21000",
		GasPrice: "1",
	})
	assert.True(t, errors.Is(err, ErrUnknownAccount))
}
