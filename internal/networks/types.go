package networks

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantumauth-io/quantum-wallet/internal/core"
)

const (
	FailoverLatency    = "latency-based"
	FailoverRoundRobin = "round-robin"
)

type NativeCurrency struct {
	Name     string `json:"name" mapstructure:"Name"`
	Symbol   string `json:"symbol" mapstructure:"Symbol"`
	Decimals int    `json:"decimals" mapstructure:"Decimals"`
}

type ValidationRules struct {
	MinGasLimit uint64 `json:"minGasLimit" mapstructure:"MinGasLimit"`
	MaxGasLimit uint64 `json:"maxGasLimit" mapstructure:"MaxGasLimit"`
	// MaxGasPrice is in gwei; zero disables the check.
	MaxGasPrice           decimal.Decimal `json:"maxGasPrice" mapstructure:"MaxGasPrice"`
	SupportedTxTypes      []string        `json:"supportedTxTypes" mapstructure:"SupportedTxTypes"`
	RequiredConfirmations int             `json:"requiredConfirmations" mapstructure:"RequiredConfirmations"`
}

type MEVProtection struct {
	Enabled            bool    `json:"enabled" mapstructure:"Enabled"`
	MaxSlippage        float64 `json:"maxSlippage" mapstructure:"MaxSlippage"`
	UsePrivatePools    bool    `json:"usePrivatePools" mapstructure:"UsePrivatePools"`
	FlashbotProtection bool    `json:"flashbotProtection" mapstructure:"FlashbotProtection"`
}

type GasOptimization struct {
	Enabled bool `json:"enabled" mapstructure:"Enabled"`
	// MaxPriorityFee is in gwei.
	MaxPriorityFee    decimal.Decimal `json:"maxPriorityFee" mapstructure:"MaxPriorityFee"`
	BaseFeeMultiplier float64         `json:"baseFeeMultiplier" mapstructure:"BaseFeeMultiplier"`
	UseEIP1559        bool            `json:"useEIP1559" mapstructure:"UseEIP1559"`
}

type RPCOptimization struct {
	UseMultipleProviders bool          `json:"useMultipleProviders" mapstructure:"UseMultipleProviders"`
	FailoverStrategy     string        `json:"failoverStrategy" mapstructure:"FailoverStrategy"`
	HealthCheckInterval  time.Duration `json:"healthCheckInterval" mapstructure:"HealthCheckInterval"`
}

// ChainConfig is the registered descriptor of a chain. It does not change
// after registration.
type ChainConfig struct {
	ChainID         core.ChainID     `json:"chainId" mapstructure:"ChainID"`
	Name            string           `json:"name" mapstructure:"Name"`
	RPCURLs         []string         `json:"rpcUrls" mapstructure:"RPCURLs"`
	Explorer        string           `json:"explorer,omitempty" mapstructure:"Explorer"`
	NativeCurrency  NativeCurrency   `json:"nativeCurrency" mapstructure:"NativeCurrency"`
	ValidationRules ValidationRules  `json:"validationRules" mapstructure:"ValidationRules"`
	MEVProtection   *MEVProtection   `json:"mevProtection,omitempty" mapstructure:"MEVProtection"`
	GasOptimization *GasOptimization `json:"gasOptimization,omitempty" mapstructure:"GasOptimization"`
	RPCOptimization *RPCOptimization `json:"rpcOptimization,omitempty" mapstructure:"RPCOptimization"`
}

// NetworkState is the runtime snapshot of one chain.
type NetworkState struct {
	ChainID          core.ChainID     `json:"chainId"`
	IsConnected      bool             `json:"isConnected"`
	LastBlockNumber  uint64           `json:"lastBlockNumber"`
	GasPrice         decimal.Decimal  `json:"gasPrice"`
	RPCURL           string           `json:"rpcUrl,omitempty"`
	ValidationErrors []string         `json:"validationErrors"`
	MEVProtection    *MEVProtection   `json:"mevProtection,omitempty"`
	GasOptimization  *GasOptimization `json:"gasOptimization,omitempty"`
	UpdatedAt        time.Time        `json:"updatedAt"`
}

// StatePatch is a shallow update; nil fields are left untouched.
type StatePatch struct {
	IsConnected      *bool            `json:"isConnected,omitempty"`
	LastBlockNumber  *uint64          `json:"lastBlockNumber,omitempty"`
	GasPrice         *decimal.Decimal `json:"gasPrice,omitempty"`
	RPCURL           *string          `json:"rpcUrl,omitempty"`
	ValidationErrors []string         `json:"validationErrors,omitempty"`
}

type NetworkSwitched struct {
	ChainID core.ChainID
	State   NetworkState
	Config  ChainConfig
}

type NetworkSwitchError struct {
	ChainID core.ChainID
	Err     error
}

func cloneConfig(c ChainConfig) ChainConfig {
	c.RPCURLs = append([]string(nil), c.RPCURLs...)
	c.ValidationRules.SupportedTxTypes = append([]string(nil), c.ValidationRules.SupportedTxTypes...)
	if c.MEVProtection != nil {
		v := *c.MEVProtection
		c.MEVProtection = &v
	}
	if c.GasOptimization != nil {
		v := *c.GasOptimization
		c.GasOptimization = &v
	}
	if c.RPCOptimization != nil {
		v := *c.RPCOptimization
		c.RPCOptimization = &v
	}
	return c
}

func cloneState(s NetworkState) NetworkState {
	s.ValidationErrors = append([]string{}, s.ValidationErrors...)
	if s.MEVProtection != nil {
		v := *s.MEVProtection
		s.MEVProtection = &v
	}
	if s.GasOptimization != nil {
		v := *s.GasOptimization
		s.GasOptimization = &v
	}
	return s
}
