package wallet

import (
	"context"
	"encoding/json"
	"math/big"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/quantumauth-io/quantum-go-utils/log"

	"github.com/quantumauth-io/quantum-wallet/internal/backoff"
	"github.com/quantumauth-io/quantum-wallet/internal/core"
	"github.com/quantumauth-io/quantum-wallet/internal/networks"
	"github.com/quantumauth-io/quantum-wallet/internal/permissions"
	"github.com/quantumauth-io/quantum-wallet/internal/session"
	"github.com/quantumauth-io/quantum-wallet/internal/storage"
)

// SwitchNetwork debounces a switch to chainID and shares the committed state
// with the other tabs.
func (w *Wallet) SwitchNetwork(ctx context.Context, chainID core.ChainID) (networks.NetworkState, error) {
	if err := w.requireInitialized(); err != nil {
		return networks.NetworkState{}, w.fail("switchNetwork", err)
	}
	id, err := core.NormalizeChainID(string(chainID))
	if err != nil {
		return networks.NetworkState{}, w.fail("switchNetwork", errors.Mark(err, core.ErrUnsupportedChain))
	}

	state, err := backoff.Retry(ctx, w.retry, "network-switch:"+string(id), func(ctx context.Context) (networks.NetworkState, error) {
		return w.nets.SwitchTo(ctx, id)
	})
	if err != nil {
		return networks.NetworkState{}, w.fail("switchNetwork", err)
	}
	if err := w.tabs.BroadcastNetworkUpdate(ctx, networkUpdate{State: state}); err != nil {
		return state, w.fail("switchNetwork", err)
	}
	if err := w.persistIfLeader(ctx); err != nil {
		return state, w.fail("switchNetwork", err)
	}
	return state, nil
}

// Network returns the current network state and its configuration.
func (w *Wallet) Network() (networks.NetworkState, networks.ChainConfig, error) {
	st, ok := w.nets.Current()
	if !ok {
		return networks.NetworkState{}, networks.ChainConfig{}, core.ErrNotInitialized
	}
	cfg, _ := w.nets.Config(st.ChainID)
	return st, cfg, nil
}

func (w *Wallet) AddNetwork(ctx context.Context, cfg networks.ChainConfig) (networks.ChainConfig, error) {
	added, err := w.nets.AddNetwork(ctx, cfg)
	if err != nil {
		return networks.ChainConfig{}, w.fail("addNetwork", err)
	}
	return added, nil
}

// AuthenticateSession creates a session for origin and hands it to the
// other tabs as a signed sync token.
func (w *Wallet) AuthenticateSession(ctx context.Context, origin, address string) (session.Auth, error) {
	if err := w.requireInitialized(); err != nil {
		return session.Auth{}, w.fail("authenticateSession", err)
	}
	key := "session-auth:" + core.NormalizeOrigin(origin) + ":" + strings.ToLower(address)
	auth, err := backoff.Retry(ctx, w.retry, key, func(ctx context.Context) (session.Auth, error) {
		return w.auth.Authenticate(ctx, origin, address)
	})
	if err != nil {
		return session.Auth{}, w.fail("authenticateSession", err)
	}

	w.sessionFeed.Send(SessionUpdate{Auth: auth})
	if err := w.broadcastSession(ctx, auth); err != nil {
		return auth, w.fail("authenticateSession", err)
	}
	if err := w.persistSessions(ctx); err != nil {
		return auth, w.fail("authenticateSession", err)
	}
	return auth, nil
}

// ValidateTransaction checks tx against the rules of its chain, or of the
// current chain when tx names none. Violations come back as a
// *core.ValidationFailedError.
func (w *Wallet) ValidateTransaction(tx core.Transaction) error {
	if err := w.requireInitialized(); err != nil {
		return w.fail("validateTransaction", err)
	}
	chainID := w.currentChainID()
	if tx.ChainID != "" {
		if id, err := core.NormalizeChainID(string(tx.ChainID)); err == nil {
			chainID = id
		} else {
			chainID = tx.ChainID
		}
	}
	if errs := w.nets.ValidateTransaction(chainID, tx); len(errs) > 0 {
		return w.fail("validateTransaction", core.NewValidationFailed(errs))
	}
	return nil
}

// SignTransaction validates tx and signs it with the configured signer.
func (w *Wallet) SignTransaction(ctx context.Context, tx core.Transaction) (string, error) {
	if tx.ChainID == "" {
		tx.ChainID = w.currentChainID()
	}
	if err := w.ValidateTransaction(tx); err != nil {
		return "", err
	}
	if w.signer == nil {
		return "", w.fail("signTransaction", session.ErrSignerUnavailable)
	}
	raw, err := w.signer.SignTransaction(ctx, tx)
	if err != nil {
		return "", w.fail("signTransaction", err)
	}
	return raw, nil
}

func (w *Wallet) SignMessage(ctx context.Context, address string, message []byte) (string, error) {
	if w.signer == nil {
		return "", w.fail("signMessage", session.ErrSignerUnavailable)
	}
	if !common.IsHexAddress(address) {
		return "", w.fail("signMessage", errors.Mark(errors.Newf("invalid address %q", address), core.ErrInvalidInput))
	}
	sig, err := w.signer.SignMessage(ctx, common.HexToAddress(address), message)
	if err != nil {
		return "", w.fail("signMessage", err)
	}
	return sig, nil
}

func (w *Wallet) Accounts(ctx context.Context) ([]string, error) {
	if w.signer == nil {
		return []string{}, nil
	}
	addrs, err := w.signer.Accounts(ctx)
	if err != nil {
		return nil, w.fail("getAccounts", err)
	}
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.Hex())
	}
	return out, nil
}

// Balance returns the wei balance of address on the current chain.
func (w *Wallet) Balance(ctx context.Context, address string) (*big.Int, error) {
	if err := w.requireInitialized(); err != nil {
		return nil, w.fail("getBalance", err)
	}
	bal, err := w.nets.Balance(ctx, w.currentChainID(), address)
	if err != nil {
		return nil, w.fail("getBalance", err)
	}
	return bal, nil
}

// GrantPermission replaces origin's grant. No methods means the default
// connect-site set.
func (w *Wallet) GrantPermission(ctx context.Context, origin string, methods []string, ttl time.Duration) (permissions.Permission, error) {
	if strings.TrimSpace(origin) == "" {
		return permissions.Permission{}, w.fail("grantPermission", errors.Mark(errors.New("origin is required"), core.ErrInvalidInput))
	}
	if len(methods) == 0 {
		methods = permissions.ConnectSiteMethods
	}
	p := w.perms.Grant(origin, methods, ttl)
	if err := w.perms.Save(ctx, w.store); err != nil {
		return p, w.fail("grantPermission", err)
	}
	return p, nil
}

func (w *Wallet) RevokePermission(ctx context.Context, origin string) (bool, error) {
	removed := w.perms.Revoke(origin)
	w.auth.Revoke(origin)
	if !removed {
		return false, nil
	}
	if err := w.perms.Save(ctx, w.store); err != nil {
		return true, w.fail("revokePermission", err)
	}
	return true, nil
}

func (w *Wallet) HasPermission(origin, method string) bool {
	return w.perms.Has(origin, method)
}

// StoreData keeps an opaque JSON value under key.
func (w *Wallet) StoreData(ctx context.Context, key string, value json.RawMessage) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return w.fail("storeData", errors.Mark(errors.New("key is required"), core.ErrInvalidInput))
	}
	if !json.Valid(value) {
		return w.fail("storeData", errors.Mark(errors.New("value must be valid JSON"), core.ErrInvalidInput))
	}
	if err := w.store.Set(ctx, storage.DataPrefix+key, value); err != nil {
		return w.fail("storeData", err)
	}
	return nil
}

// RetrieveData returns the value stored under key; ok is false when absent.
func (w *Wallet) RetrieveData(ctx context.Context, key string) (json.RawMessage, bool, error) {
	b, err := w.store.Get(ctx, storage.DataPrefix+strings.TrimSpace(key))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, w.fail("retrieveData", err)
	}
	return json.RawMessage(b), true, nil
}

// RecordActivity stamps user activity on this tab. Contested leadership
// claims are settled in favour of the most recently active tab.
func (w *Wallet) RecordActivity() {
	w.tabs.RecordActivity()
}

// SetVisible follows the tab's visibility. A hidden tab gives up leadership;
// a tab that becomes visible claims it again and asks the leader for a
// snapshot when it does not win. It reports whether this tab leads.
func (w *Wallet) SetVisible(ctx context.Context, visible bool) (bool, error) {
	if err := w.requireInitialized(); err != nil {
		return false, w.fail("setVisibility", err)
	}
	if err := w.tabs.SetVisible(ctx, visible); err != nil {
		return w.IsLeader(), w.fail("setVisibility", err)
	}
	if visible && !w.IsLeader() {
		if err := w.tabs.RequestStateSync(ctx); err != nil {
			return false, w.fail("setVisibility", err)
		}
	}
	return w.IsLeader(), nil
}

// RecordOriginRequest folds the outcome of a request made on behalf of
// origin into that origin's session health.
func (w *Wallet) RecordOriginRequest(origin string, success bool, latency time.Duration) {
	origin = core.NormalizeOrigin(origin)
	if origin == "" {
		return
	}
	prev := w.auth.Health().Health(origin)
	m := w.auth.Health().UpdateMetrics(origin, success, latency)
	if m.Health != prev {
		log.Info("origin health changed", "origin", origin, "from", string(prev), "to", string(m.Health))
	}
}
