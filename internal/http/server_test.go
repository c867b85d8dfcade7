package http

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumauth-io/quantum-wallet/internal/backoff"
	"github.com/quantumauth-io/quantum-wallet/internal/broadcast"
	"github.com/quantumauth-io/quantum-wallet/internal/ethwallet/userwallet"
	"github.com/quantumauth-io/quantum-wallet/internal/metrics"
	"github.com/quantumauth-io/quantum-wallet/internal/networks"
	"github.com/quantumauth-io/quantum-wallet/internal/storage"
	"github.com/quantumauth-io/quantum-wallet/internal/tabs"
	"github.com/quantumauth-io/quantum-wallet/internal/wallet"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type staticClient struct{ balance *big.Int }

func (c staticClient) BlockNumber(context.Context) (uint64, error) { return 1, nil }
func (c staticClient) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}
func (c staticClient) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	return c.balance, nil
}
func (c staticClient) Close() {}

type staticDialer struct{ balance *big.Int }

func (d staticDialer) Dial(context.Context, string) (networks.Client, error) {
	return staticClient(d), nil
}

// envelope mirrors Response with the value left undecoded.
type envelope struct {
	Success bool            `json:"success"`
	Value   json.RawMessage `json:"value"`
	Error   string          `json:"error"`
}

func newTestWallet(t *testing.T) (*wallet.Wallet, *userwallet.Wallet) {
	t.Helper()
	signer, err := userwallet.NewRandomWallet()
	require.NoError(t, err)
	bus := broadcast.NewBus()
	t.Cleanup(func() { _ = bus.Close() })

	oneAndHalfEth, _ := new(big.Int).SetString("1500000000000000000", 10)
	w, err := wallet.New(wallet.Config{
		Retry: backoff.Config{InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, BackoffFactor: 2, MaxAttempts: 2},
		Tabs: tabs.Config{
			ClaimTimeout:        30 * time.Millisecond,
			HeartbeatInterval:   10 * time.Millisecond,
			ElectionInterval:    20 * time.Millisecond,
			InactivityThreshold: 200 * time.Millisecond,
		},
		Networks: networks.Config{Debounce: 10 * time.Millisecond},
	}, wallet.Deps{
		Transport: broadcast.NewInProcess(bus, "http-test"),
		Store:     storage.NewMemoryStore(),
		Signer:    signer,
		Dialer:    staticDialer{balance: oneAndHalfEth},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Cleanup(context.Background()) })
	return w, signer
}

func send(t *testing.T, h http.Handler, typ string, data any) envelope {
	t.Helper()
	body := map[string]any{"type": typ}
	if data != nil {
		body["data"] = data
	}
	b, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/message", bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "127.0.0.1:50000"
	req.Host = "127.0.0.1:8787"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func value[T any](t *testing.T, env envelope) T {
	t.Helper()
	require.True(t, env.Success, env.Error)
	var v T
	require.NoError(t, json.Unmarshal(env.Value, &v))
	return v
}

func TestMessageSurface(t *testing.T) {
	w, signer := newTestWallet(t)
	r := NewRouter(NewServer(w), RouterConfig{LoopbackOnly: true}, nil)

	env := send(t, r, MsgSwitchNetwork, map[string]any{"chainId": "0xaa36a7"})
	assert.False(t, env.Success)
	assert.Contains(t, env.Error, "wallet not initialized")

	started := value[initializeResp](t, send(t, r, MsgInitialize, nil))
	assert.True(t, started.Leader)
	assert.Equal(t, "0x1", started.ChainID.String())

	state := value[networks.NetworkState](t, send(t, r, MsgSwitchNetwork, map[string]any{"chainId": 11155111}))
	assert.Equal(t, "0xaa36a7", state.ChainID.String())

	net := value[networkResp](t, send(t, r, MsgGetNetwork, nil))
	assert.Equal(t, "0xaa36a7", net.ChainID.String())
	assert.Equal(t, "Sepolia", net.Config.Name)

	accts := value[[]string](t, send(t, r, MsgGetAccounts, nil))
	require.Equal(t, []string{signer.Address().Hex()}, accts)

	bal := value[balanceResp](t, send(t, r, MsgGetBalance, nil))
	assert.Equal(t, "1.5", bal.Ether)
	assert.Equal(t, "0x14d1120d7b160000", bal.Wei)

	sig := value[string](t, send(t, r, MsgSignMessage, map[string]any{"message": "hello"}))
	assert.True(t, strings.HasPrefix(sig, "0x"))

	sess := value[sessionResp](t, send(t, r, MsgAuthenticateSession, map[string]any{"origin": "https://Dapp.Example"}))
	assert.Equal(t, "https://dapp.example", sess.Origin)
	assert.NotEmpty(t, sess.Signature)

	added := value[networks.ChainConfig](t, send(t, r, MsgAddNetwork, map[string]any{
		"chainId": "8453",
		"rpcUrls": []string{"https://mainnet.base.org"},
	}))
	assert.Equal(t, "0x2105", added.ChainID.String())
	list := value[networksResp](t, send(t, r, MsgGetNetworks, nil))
	assert.Len(t, list.Networks, 3)
	assert.Equal(t, "0xaa36a7", list.Current.String())

	env = send(t, r, MsgAddNetwork, map[string]any{"chainId": "0x2105", "rpcUrls": []string{"https://x"}})
	assert.False(t, env.Success)
	assert.Contains(t, env.Error, "network already exists")
}

func TestPermissionAndDataMessages(t *testing.T) {
	w, _ := newTestWallet(t)
	r := NewRouter(NewServer(w), RouterConfig{}, nil)
	const origin = "https://dapp.example"

	granted := send(t, r, MsgGrantPermission, map[string]any{"origin": origin})
	require.True(t, granted.Success, granted.Error)
	assert.True(t, value[bool](t, send(t, r, MsgCheckPermission, map[string]any{"origin": origin, "method": "eth_accounts"})))
	assert.False(t, value[bool](t, send(t, r, MsgCheckPermission, map[string]any{"origin": origin, "method": "eth_sign"})))

	env := send(t, r, MsgCheckPermission, map[string]any{"origin": origin})
	assert.False(t, env.Success)
	assert.Equal(t, "method is required", env.Error)

	assert.True(t, value[bool](t, send(t, r, MsgRevokePermission, map[string]any{"origin": origin})))
	assert.False(t, value[bool](t, send(t, r, MsgCheckPermission, map[string]any{"origin": origin, "method": "eth_accounts"})))

	require.True(t, send(t, r, MsgStoreData, map[string]any{"key": "ui", "value": map[string]any{"tab": 2}}).Success)
	got := send(t, r, MsgRetrieveData, map[string]any{"key": "ui"})
	require.True(t, got.Success)
	assert.JSONEq(t, `{"tab":2}`, string(got.Value))

	missing := send(t, r, MsgRetrieveData, map[string]any{"key": "nope"})
	assert.True(t, missing.Success)
	assert.Empty(t, missing.Value)
}

func TestValidateAndPreferencesMessages(t *testing.T) {
	w, _ := newTestWallet(t)
	r := NewRouter(NewServer(w), RouterConfig{}, nil)
	send(t, r, MsgInitialize, nil)

	res := value[validationResp](t, send(t, r, MsgValidateTransaction, map[string]any{
		"chainId":  "1",
		"gasLimit": "10000",
	}))
	assert.False(t, res.Valid)
	require.NotEmpty(t, res.Errors)
	assert.Equal(t, "Gas limit below minimum required (21000)", res.Errors[0].Message)

	env := send(t, r, MsgSignTransaction, map[string]any{"gasLimit": "10000"})
	assert.False(t, env.Success)
	assert.Contains(t, env.Error, "transaction validation failed")

	prefs := value[wallet.Preferences](t, send(t, r, MsgUpdatePreferences, map[string]any{"theme": "dark"}))
	assert.Equal(t, wallet.ThemeDark, prefs.Theme)
	assert.Equal(t, wallet.ThemeDark, value[wallet.Preferences](t, send(t, r, MsgGetPreferences, nil)).Theme)
}

type panickingWallet struct{ Wallet }

func (panickingWallet) Preferences() wallet.Preferences { panic("boom") }
func (panickingWallet) RecordActivity() {}
func (panickingWallet) RecordOriginRequest(string, bool, time.Duration) {
	panic("health store unavailable")
}

func TestHandleNeverEscapes(t *testing.T) {
	s := NewServer(panickingWallet{}, WithMetrics(metrics.New(prometheus.NewRegistry())))

	resp := s.Handle(context.Background(), Request{Type: MsgGetPreferences})
	assert.Equal(t, Response{Success: false, Error: ErrorInternalText}, resp)

	resp = s.Handle(context.Background(), Request{Type: "selfDestruct"})
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, ErrorUnknownMessageText)

	resp = s.Handle(context.Background(), Request{Type: MsgCheckPermission, Data: json.RawMessage(`{"origin":`)})
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, HTTPErrorInvalidJSONText)

	assert.NotPanics(t, func() {
		resp = s.Handle(context.Background(), Request{Type: MsgGetPreferences, Data: json.RawMessage(`{"origin":"https://dapp.example"}`)})
	})
	assert.False(t, resp.Success)
}

func TestRouterGuards(t *testing.T) {
	w, _ := newTestWallet(t)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	r := NewRouter(NewServer(w, WithMetrics(m)), RouterConfig{LoopbackOnly: true, Token: "paired-secret"}, reg)

	do := func(method, path, remote, token, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.RemoteAddr = remote
		req.Host = "localhost:8787"
		if token != "" {
			req.Header.Set(extensionTokenHeader, token)
		}
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	msg := `{"type":"getPreferences"}`
	tests := []struct {
		name   string
		method string
		path   string
		remote string
		token  string
		body   string
		want   int
	}{
		{"remote caller", http.MethodPost, "/api/message", "10.0.0.7:4000", "paired-secret", msg, http.StatusForbidden},
		{"missing token", http.MethodPost, "/api/message", "127.0.0.1:4000", "", msg, http.StatusUnauthorized},
		{"wrong token", http.MethodPost, "/api/message", "127.0.0.1:4000", "guess", msg, http.StatusUnauthorized},
		{"bad json", http.MethodPost, "/api/message", "127.0.0.1:4000", "paired-secret", "{", http.StatusBadRequest},
		{"paired", http.MethodPost, "/api/message", "127.0.0.1:4000", "paired-secret", msg, http.StatusOK},
		{"health", http.MethodGet, "/api/health", "127.0.0.1:4000", "", "", http.StatusOK},
		{"message types", http.MethodGet, "/api/messages", "127.0.0.1:4000", "", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, do(tt.method, tt.path, tt.remote, tt.token, tt.body).Code)
		})
	}

	rec := do(http.MethodGet, "/metrics", "127.0.0.1:4000", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "quantum_wallet_messages_duration_seconds")
}

func TestLocalAddressChecks(t *testing.T) {
	remotes := []struct {
		in string
		ok bool
	}{
		{"127.0.0.1:1234", true},
		{"[::1]:1234", true},
		{"[::ffff:127.0.0.1]:1234", true},
		{"10.0.0.5:1234", false},
		{"not-an-ip", false},
	}
	for _, tt := range remotes {
		assert.Equal(t, tt.ok, loopbackAddr(tt.in), tt.in)
	}

	hosts := []struct {
		in string
		ok bool
	}{
		{"localhost:8787", true},
		{"LOCALHOST", true},
		{"[::1]:8787", true},
		{"127.0.0.1", true},
		{"evil.example:8787", false},
		{"192.168.1.2:8787", false},
	}
	for _, tt := range hosts {
		assert.Equal(t, tt.ok, localHostHeader(tt.in), tt.in)
	}
}

type observedWallet struct {
	*wallet.Wallet
	activity int
	origins  []string
}

func (o *observedWallet) RecordActivity() {
	o.activity++
	o.Wallet.RecordActivity()
}

func (o *observedWallet) RecordOriginRequest(origin string, success bool, latency time.Duration) {
	o.origins = append(o.origins, origin)
	o.Wallet.RecordOriginRequest(origin, success, latency)
}

func TestActivityAndOriginHealth(t *testing.T) {
	w, signer := newTestWallet(t)
	o := &observedWallet{Wallet: w}
	s := NewServer(o)
	ctx := context.Background()

	require.True(t, s.Handle(ctx, Request{Type: MsgInitialize}).Success)
	assert.Equal(t, 1, o.activity)
	assert.Empty(t, o.origins)

	s.Handle(ctx, Request{Type: "selfDestruct", Data: json.RawMessage(`{"origin":"https://dapp.example"}`)})
	assert.Equal(t, 1, o.activity)
	assert.Empty(t, o.origins)

	data, err := json.Marshal(map[string]string{"origin": "https://DApp.example/login", "address": signer.Address().Hex()})
	require.NoError(t, err)
	require.True(t, s.Handle(ctx, Request{Type: MsgAuthenticateSession, Data: data}).Success)
	assert.Equal(t, 2, o.activity)
	assert.Equal(t, []string{"https://dapp.example"}, o.origins)

	m, ok := w.Sessions().Health().Metrics("https://dapp.example")
	require.True(t, ok)
	assert.Equal(t, 1, m.Successful)
}

func TestSetVisibilityMessage(t *testing.T) {
	w, _ := newTestWallet(t)
	r := NewRouter(NewServer(w), RouterConfig{LoopbackOnly: true}, nil)

	env := send(t, r, MsgSetVisibility, map[string]any{"visible": false})
	assert.False(t, env.Success)
	assert.Contains(t, env.Error, "wallet not initialized")

	require.True(t, value[initializeResp](t, send(t, r, MsgInitialize, nil)).Leader)

	env = send(t, r, MsgSetVisibility, map[string]any{})
	assert.False(t, env.Success)
	assert.Contains(t, env.Error, "visible is required")

	hidden := value[visibilityResp](t, send(t, r, MsgSetVisibility, map[string]any{"visible": false}))
	assert.False(t, hidden.Visible)
	assert.False(t, hidden.Leader)
	assert.False(t, w.IsLeader())

	shown := value[visibilityResp](t, send(t, r, MsgSetVisibility, map[string]any{"visible": true}))
	assert.True(t, shown.Visible)
	require.Eventually(t, w.IsLeader, 2*time.Second, 10*time.Millisecond)
}
