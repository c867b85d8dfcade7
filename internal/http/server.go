// Package http exposes the wallet's inbound message surface over loopback
// HTTP. Every request gets a Response envelope; errors and panics never
// escape as raw failures.
package http

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/quantumauth-io/quantum-go-utils/log"

	"github.com/quantumauth-io/quantum-wallet/internal/core"
	"github.com/quantumauth-io/quantum-wallet/internal/metrics"
	"github.com/quantumauth-io/quantum-wallet/internal/networks"
	"github.com/quantumauth-io/quantum-wallet/internal/permissions"
	"github.com/quantumauth-io/quantum-wallet/internal/session"
	"github.com/quantumauth-io/quantum-wallet/internal/wallet"
)

// Wallet is the facade the server drives; *wallet.Wallet satisfies it.
type Wallet interface {
	Initialize(ctx context.Context) error
	IsInitialized() bool
	TabID() string
	IsLeader() bool
	RecordActivity()
	SetVisible(ctx context.Context, visible bool) (bool, error)
	RecordOriginRequest(origin string, success bool, latency time.Duration)

	StoreData(ctx context.Context, key string, value json.RawMessage) error
	RetrieveData(ctx context.Context, key string) (json.RawMessage, bool, error)

	HasPermission(origin, method string) bool
	GrantPermission(ctx context.Context, origin string, methods []string, ttl time.Duration) (permissions.Permission, error)
	RevokePermission(ctx context.Context, origin string) (bool, error)

	ValidateTransaction(tx core.Transaction) error
	SignTransaction(ctx context.Context, tx core.Transaction) (string, error)
	SignMessage(ctx context.Context, address string, message []byte) (string, error)
	Accounts(ctx context.Context) ([]string, error)
	Balance(ctx context.Context, address string) (*big.Int, error)

	SwitchNetwork(ctx context.Context, chainID core.ChainID) (networks.NetworkState, error)
	Network() (networks.NetworkState, networks.ChainConfig, error)
	Networks() *networks.Coordinator
	AddNetwork(ctx context.Context, cfg networks.ChainConfig) (networks.ChainConfig, error)

	AuthenticateSession(ctx context.Context, origin, address string) (session.Auth, error)
	Preferences() wallet.Preferences
	UpdatePreferences(ctx context.Context, patch wallet.PreferencesPatch) (wallet.Preferences, error)
}

type handlerFunc func(ctx context.Context, data json.RawMessage) (any, error)

type Option func(*Server)

// WithMetrics records request timings on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

type Server struct {
	wallet   Wallet
	metrics  *metrics.Metrics
	handlers map[string]handlerFunc
}

func NewServer(w Wallet, opts ...Option) *Server {
	s := &Server{wallet: w}
	for _, o := range opts {
		o(s)
	}
	s.handlers = map[string]handlerFunc{
		MsgInitialize:          s.handleInitialize,
		MsgStoreData:           s.handleStoreData,
		MsgRetrieveData:        s.handleRetrieveData,
		MsgCheckPermission:     s.handleCheckPermission,
		MsgGrantPermission:     s.handleGrantPermission,
		MsgRevokePermission:    s.handleRevokePermission,
		MsgSignTransaction:     s.handleSignTransaction,
		MsgSignMessage:         s.handleSignMessage,
		MsgSwitchNetwork:       s.handleSwitchNetwork,
		MsgGetAccounts:         s.handleGetAccounts,
		MsgGetBalance:          s.handleGetBalance,
		MsgGetNetwork:          s.handleGetNetwork,
		MsgAuthenticateSession: s.handleAuthenticateSession,
		MsgValidateTransaction: s.handleValidateTransaction,
		MsgUpdatePreferences:   s.handleUpdatePreferences,
		MsgGetPreferences:      s.handleGetPreferences,
		MsgAddNetwork:          s.handleAddNetwork,
		MsgGetNetworks:         s.handleGetNetworks,
		MsgSetVisibility:       s.handleSetVisibility,
	}
	return s
}

// Types lists the message types the server understands.
func (s *Server) Types() []string {
	out := make([]string, 0, len(s.handlers))
	for t := range s.handlers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Handle runs one request. It always returns an envelope. Known requests
// count as user activity, and requests naming an origin feed that origin's
// session health.
func (s *Server) Handle(ctx context.Context, req Request) (resp Response) {
	start := time.Now()
	label := req.Type
	h, ok := s.handlers[req.Type]
	if !ok {
		label = "unknown"
	}
	origin := requestOrigin(req.Data)
	defer func() {
		if r := recover(); r != nil {
			log.Error("message handler panicked", "type", req.Type, "panic", fmt.Sprint(r))
			resp = Response{Success: false, Error: ErrorInternalText}
		}
		elapsed := time.Since(start)
		if s.metrics != nil {
			s.metrics.ObserveRequest(label, resp.Success, elapsed)
		}
		if ok && origin != "" {
			s.recordOrigin(origin, resp.Success, elapsed)
		}
	}()

	if !ok {
		return Response{Success: false, Error: fmt.Sprintf("%s: %q", ErrorUnknownMessageText, req.Type)}
	}
	s.wallet.RecordActivity()
	v, err := h(ctx, req.Data)
	if err != nil {
		return Response{Success: false, Error: err.Error()}
	}
	return Response{Success: true, Value: v}
}

func (s *Server) recordOrigin(origin string, success bool, elapsed time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("origin health update panicked", "origin", origin, "panic", fmt.Sprint(r))
		}
	}()
	s.wallet.RecordOriginRequest(origin, success, elapsed)
}
