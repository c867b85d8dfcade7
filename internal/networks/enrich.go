package networks

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantumauth-io/quantum-wallet/internal/core"
)

var knownChains = map[core.ChainID]struct {
	Name     string
	Explorer string
}{
	"0x1":      {"Ethereum Mainnet", "https://etherscan.io"},
	"0xaa36a7": {"Sepolia", "https://sepolia.etherscan.io"},
	"0x4268":   {"Holesky", "https://holesky.etherscan.io"},

	"0xa4b1":  {"Arbitrum One", "https://arbiscan.io"},
	"0x66eee": {"Arbitrum Sepolia", "https://sepolia.arbiscan.io"},

	"0xa":      {"OP Mainnet", "https://optimistic.etherscan.io"},
	"0xaa37dc": {"OP Sepolia", "https://sepolia-optimistic.etherscan.io"},

	"0x2105":  {"Base", "https://basescan.org"},
	"0x14a34": {"Base Sepolia", "https://sepolia.basescan.org"},

	"0x89": {"Polygon", "https://polygonscan.com"},

	"0x82750": {"Scroll", "https://scrollscan.com"},
	"0x8274f": {"Scroll Sepolia", "https://sepolia.scrollscan.com"},
}

// DefaultChains returns the built-in registry.
func DefaultChains() []ChainConfig {
	return []ChainConfig{
		ethereumPolicy(ChainConfig{
			ChainID:  "0x1",
			Name:     "Ethereum Mainnet",
			RPCURLs:  []string{"https://ethereum-rpc.publicnode.com", "https://eth.llamarpc.com"},
			Explorer: "https://etherscan.io",
		}),
		ethereumPolicy(ChainConfig{
			ChainID:  "0xaa36a7",
			Name:     "Sepolia",
			RPCURLs:  []string{"https://ethereum-sepolia-rpc.publicnode.com"},
			Explorer: "https://sepolia.etherscan.io",
		}),
	}
}

func ethereumPolicy(c ChainConfig) ChainConfig {
	c.NativeCurrency = NativeCurrency{Name: "Ether", Symbol: "ETH", Decimals: 18}
	c.ValidationRules = ValidationRules{
		MinGasLimit:           21000,
		MaxGasLimit:           8_000_000,
		MaxGasPrice:           decimal.NewFromInt(1000),
		SupportedTxTypes:      []string{core.TxTypeLegacy, core.TxTypeEIP1559},
		RequiredConfirmations: 12,
	}
	c.MEVProtection = &MEVProtection{
		Enabled:            true,
		MaxSlippage:        0.5,
		UsePrivatePools:    true,
		FlashbotProtection: true,
	}
	c.GasOptimization = &GasOptimization{
		Enabled:           true,
		MaxPriorityFee:    decimal.NewFromInt(2),
		BaseFeeMultiplier: 1.2,
		UseEIP1559:        true,
	}
	c.RPCOptimization = &RPCOptimization{
		UseMultipleProviders: true,
		FailoverStrategy:     FailoverLatency,
		HealthCheckInterval:  30 * time.Second,
	}
	return c
}

// enrich fills blank descriptive fields of a user-supplied chain from the
// known-chain table and trims what the user typed.
func enrich(c ChainConfig) ChainConfig {
	c.Name = strings.TrimSpace(c.Name)
	c.Explorer = strings.TrimSpace(c.Explorer)
	c.RPCURLs = normalizeRPCs(c.RPCURLs)

	if d, ok := knownChains[c.ChainID]; ok {
		if c.Name == "" {
			c.Name = d.Name
		}
		if c.Explorer == "" {
			c.Explorer = d.Explorer
		}
	}
	if c.NativeCurrency.Symbol == "" {
		c.NativeCurrency = NativeCurrency{Name: "Ether", Symbol: "ETH", Decimals: 18}
	}
	if c.RPCOptimization != nil && c.RPCOptimization.FailoverStrategy == "" {
		c.RPCOptimization.FailoverStrategy = FailoverLatency
	}
	return c
}

func normalizeRPCs(in []string) []string {
	out := make([]string, 0, len(in))
	seen := map[string]bool{}
	for _, u := range in {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		key := strings.ToLower(u)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, u)
	}
	return out
}
