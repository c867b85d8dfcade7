package core

import (
	"encoding/json"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeChainID(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want ChainID
	}{
		{name: "decimal", in: "1", want: "0x1"},
		{name: "decimal sepolia", in: "11155111", want: "0xaa36a7"},
		{name: "unprefixed hex", in: "aa36a7", want: "0xaa36a7"},
		{name: "uppercase hex", in: "0XAA36A7", want: "0xaa36a7"},
		{name: "canonical", in: "0x89", want: "0x89"},
		{name: "leading zeros", in: "0x0001", want: "0x1"},
		{name: "whitespace", in: "  0x1 ", want: "0x1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeChainID(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			again, err := NormalizeChainID(string(got))
			require.NoError(t, err)
			assert.Equal(t, got, again, "normalization must be idempotent")
		})
	}
}

func TestNormalizeChainIDRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "0x", "0", "0x0", "zz", "-1", "0xgg"} {
		_, err := NormalizeChainID(in)
		require.Error(t, err, in)
		assert.True(t, errors.Is(err, ErrInvalidChain), in)
	}
}

func TestChainIDUnmarshalJSON(t *testing.T) {
	var req struct {
		ChainID ChainID `json:"chainId"`
	}

	require.NoError(t, json.Unmarshal([]byte(`{"chainId":137}`), &req))
	assert.Equal(t, ChainID("0x89"), req.ChainID)

	require.NoError(t, json.Unmarshal([]byte(`{"chainId":"0X89"}`), &req))
	assert.Equal(t, ChainID("0x89"), req.ChainID)

	require.Error(t, json.Unmarshal([]byte(`{"chainId":"nope"}`), &req))
}

func TestChainIDDecimal(t *testing.T) {
	assert.Equal(t, "11155111", ChainID("0xaa36a7").Decimal())
	assert.Equal(t, "", ChainID("bogus").Decimal())
}

func TestTransactionTypeName(t *testing.T) {
	tests := map[string]string{
		"":        "",
		"0x2":     TxTypeEIP1559,
		"0":       TxTypeLegacy,
		"eip1559": TxTypeEIP1559,
		"0x1":     TxTypeEIP2930,
	}
	for in, want := range tests {
		got, err := Transaction{Type: in}.TypeName()
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := Transaction{Type: "0x7f"}.TypeName()
	require.Error(t, err)
}

func TestIsPermanent(t *testing.T) {
	assert.True(t, IsPermanent(errors.Wrap(ErrUnsupportedChain, "switch")))
	assert.True(t, IsPermanent(NewValidationFailed([]ValidationError{{Rule: "x", Message: "y"}})))
	assert.True(t, IsPermanent(errors.Wrap(errors.Mark(errors.New("origin is required"), ErrInvalidInput), "authenticate")))
	assert.False(t, IsPermanent(errors.New("dial tcp: connection refused")))
	assert.False(t, IsPermanent(nil))
}

func TestValidationFailedErrorUnwrapsList(t *testing.T) {
	err := errors.Wrap(NewValidationFailed([]ValidationError{
		{Rule: "gas_limit_min", Message: "Gas limit below minimum required (21000)"},
	}), "validate")

	require.True(t, errors.Is(err, ErrValidationFailed))

	var vf *ValidationFailedError
	require.True(t, errors.As(err, &vf))
	require.Len(t, vf.Errors, 1)
	assert.Contains(t, err.Error(), "below minimum")
}
