package networks

import (
	"fmt"
	"math/big"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/quantumauth-io/quantum-wallet/internal/core"
)

// ValidateTransaction checks tx against the rules of chainID and returns
// every violation found. It does not mutate anything.
func (c *Coordinator) ValidateTransaction(chainID core.ChainID, tx core.Transaction) []core.ValidationError {
	cfg, ok := c.Config(chainID)
	if !ok {
		return []core.ValidationError{{Rule: "chain", Message: "Unsupported chain ID"}}
	}
	return validate(cfg, tx)
}

func validate(cfg ChainConfig, tx core.Transaction) []core.ValidationError {
	var out []core.ValidationError
	add := func(rule, format string, args ...any) {
		out = append(out, core.ValidationError{Rule: rule, Message: fmt.Sprintf(format, args...)})
	}
	rules := cfg.ValidationRules

	if tx.GasLimit != "" {
		gas, err := core.ParseQuantity(tx.GasLimit)
		switch {
		case err != nil:
			add("gasLimit", "Invalid gas limit %q", tx.GasLimit)
		case rules.MinGasLimit > 0 && gas.Cmp(new(big.Int).SetUint64(rules.MinGasLimit)) < 0:
			add("gasLimit", "Gas limit below minimum required (%d)", rules.MinGasLimit)
		case rules.MaxGasLimit > 0 && gas.Cmp(new(big.Int).SetUint64(rules.MaxGasLimit)) > 0:
			add("gasLimit", "Gas limit exceeds maximum allowed (%d)", rules.MaxGasLimit)
		}
	}

	if mev := cfg.MEVProtection; mev != nil && mev.UsePrivatePools {
		if !hasPayload(tx.Data) {
			add("mevProtection", "Transaction must use private pools for MEV protection")
		}
	}

	if gas := cfg.GasOptimization; gas != nil && gas.UseEIP1559 {
		if tx.MaxFeePerGas == "" || tx.MaxPriorityFeePerGas == "" {
			add("eip1559", "EIP-1559 transaction must include maxFeePerGas and maxPriorityFeePerGas")
		}
	}

	if rules.MaxGasPrice.IsPositive() {
		price := tx.MaxFeePerGas
		if price == "" {
			price = tx.GasPrice
		}
		if price != "" {
			wei, err := core.ParseQuantity(price)
			if err != nil {
				add("gasPrice", "Invalid gas price %q", price)
			} else if gwei := decimal.NewFromBigInt(wei, -9); gwei.GreaterThan(rules.MaxGasPrice) {
				add("gasPrice", "Gas price exceeds maximum allowed (%s gwei)", rules.MaxGasPrice.String())
			}
		}
	}

	if len(rules.SupportedTxTypes) > 0 {
		name, err := tx.TypeName()
		if err != nil {
			add("txType", "%s", err.Error())
		} else if name != "" && !slices.Contains(rules.SupportedTxTypes, name) {
			add("txType", "Transaction type %s not supported", name)
		}
	}
	return out
}

func hasPayload(data string) bool {
	data = strings.TrimSpace(data)
	return strings.HasPrefix(data, "0x") && len(data) > 2
}
