package http

import (
	"encoding/json"
	"time"

	"github.com/quantumauth-io/quantum-wallet/internal/core"
	"github.com/quantumauth-io/quantum-wallet/internal/networks"
)

// Request is the inbound envelope sent by the UI and content scripts.
type Request struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Response is returned for every request, including failed ones.
type Response struct {
	Success bool   `json:"success"`
	Value   any    `json:"value,omitempty"`
	Error   string `json:"error,omitempty"`
}

type dataReq struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value,omitempty"`
}

type permissionReq struct {
	Origin string `json:"origin"`
	Method string `json:"method"`
}

type grantReq struct {
	Origin  string   `json:"origin"`
	Methods []string `json:"methods,omitempty"`
	// TTLMs is the grant lifetime in milliseconds; zero uses the default.
	TTLMs int64 `json:"ttlMs,omitempty"`
}

type originReq struct {
	Origin string `json:"origin"`
}

type signMessageReq struct {
	Address string `json:"address"`
	Message string `json:"message"` // hex or utf8
}

type switchNetworkReq struct {
	ChainID core.ChainID `json:"chainId"`
}

type addressReq struct {
	Address string `json:"address,omitempty"`
}

type sessionReq struct {
	Origin  string `json:"origin"`
	Address string `json:"address,omitempty"`
}

type visibilityReq struct {
	Visible *bool `json:"visible"`
}

type initializeResp struct {
	TabID   string       `json:"tabId"`
	Leader  bool         `json:"leader"`
	ChainID core.ChainID `json:"chainId"`
}

type balanceResp struct {
	Address string `json:"address"`
	ChainID string `json:"chainId"`
	Wei     string `json:"wei"`
	Ether   string `json:"ether"`
}

type networkResp struct {
	ChainID core.ChainID          `json:"chainId"`
	State   networks.NetworkState `json:"state"`
	Config  networks.ChainConfig  `json:"config"`
}

type networksResp struct {
	Current  core.ChainID           `json:"currentChainId,omitempty"`
	Networks []networks.ChainConfig `json:"networks"`
}

type validationResp struct {
	Valid  bool                   `json:"valid"`
	Errors []core.ValidationError `json:"errors,omitempty"`
}

type sessionResp struct {
	ID        string    `json:"id"`
	Origin    string    `json:"origin"`
	Address   string    `json:"address"`
	Message   string    `json:"message,omitempty"`
	Signature string    `json:"signature,omitempty"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type visibilityResp struct {
	Visible bool `json:"visible"`
	Leader  bool `json:"leader"`
}

type healthResp struct {
	Status      string `json:"status"`
	TabID       string `json:"tabId"`
	Initialized bool   `json:"initialized"`
	Leader      bool   `json:"leader"`
}
