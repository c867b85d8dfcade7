package wallet

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/quantumauth-io/quantum-go-utils/log"

	"github.com/quantumauth-io/quantum-wallet/internal/backoff"
	"github.com/quantumauth-io/quantum-wallet/internal/constants"
	"github.com/quantumauth-io/quantum-wallet/internal/networks"
	"github.com/quantumauth-io/quantum-wallet/internal/session"
	"github.com/quantumauth-io/quantum-wallet/internal/storage"
	"github.com/quantumauth-io/quantum-wallet/internal/tabs"
)

type networkUpdate struct {
	State networks.NetworkState `json:"state"`
}

type sessionUpdate struct {
	Token string `json:"token"`
}

type stateUpdate struct {
	Preferences *Preferences `json:"preferences,omitempty"`
}

// walletState is the consolidated document only the leader writes.
type walletState struct {
	Schema      int                    `json:"schema"`
	Preferences Preferences            `json:"preferences"`
	Network     *networks.NetworkState `json:"network,omitempty"`
	LeaderTabID string                 `json:"leaderTabId"`
	UpdatedAt   time.Time              `json:"updatedAt"`
}

// startBridge relays subsystem events onto the wallet feeds and reconciles
// updates from other tabs until ctx is done.
func (w *Wallet) startBridge(ctx context.Context) {
	updates := make(chan tabs.UpdateEvent, 64)
	leadership := make(chan tabs.LeadershipEvent, 16)
	switched := make(chan networks.NetworkSwitched, 16)
	scheduled := make(chan backoff.RetryScheduled, 64)
	exceeded := make(chan backoff.MaxRetriesExceeded, 16)

	subs := []event.Subscription{
		w.tabs.SubscribeUpdates(updates),
		w.tabs.SubscribeLeadership(leadership),
		w.nets.SubscribeSwitched(switched),
		w.retry.SubscribeScheduled(scheduled),
		w.retry.SubscribeExceeded(exceeded),
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() {
			for _, s := range subs {
				s.Unsubscribe()
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-updates:
				w.reconcile(ctx, ev)
			case ev := <-leadership:
				w.leadershipFeed.Send(ev)
				if ev.Kind == tabs.LeadershipAcquired {
					if err := w.persistAll(ctx); err != nil {
						log.Warn("wallet state not persisted after election", "error", err)
					}
				}
			case ev := <-switched:
				w.networkFeed.Send(NetworkChanged{ChainID: ev.ChainID, State: ev.State})
			case ev := <-scheduled:
				w.retryFeed.Send(RetryEvent{Key: ev.Key, Attempt: ev.Attempt, Delay: ev.Delay})
			case ev := <-exceeded:
				w.retryFeed.Send(RetryEvent{Key: ev.Key, Attempt: ev.Attempt, Exhausted: true})
			}
		}
	}()
}

// reconcile applies a broadcast from another tab. Incoming state is a hint:
// it replaces local state only when its timestamp is newer.
func (w *Wallet) reconcile(ctx context.Context, ev tabs.UpdateEvent) {
	switch ev.Type {
	case tabs.MsgNetworkUpdate:
		var u networkUpdate
		if !w.decode(ev, &u) {
			return
		}
		stored, current := w.nets.Adopt(u.State)
		if current {
			st, _ := w.nets.Current()
			w.networkFeed.Send(NetworkChanged{ChainID: st.ChainID, State: st, Remote: true})
		}
		if stored {
			w.persistOrWarn(ctx, w.persistIfLeader)
		}

	case tabs.MsgSessionUpdate:
		var u sessionUpdate
		if !w.decode(ev, &u) {
			return
		}
		tokens := w.tokenizer()
		if tokens == nil {
			return
		}
		auth, err := tokens.TokenToSession(u.Token)
		if err != nil {
			log.Warn("rejected session from another tab", "from", ev.SenderTabID, "error", err)
			return
		}
		if w.auth.Adopt(auth) {
			w.sessionFeed.Send(SessionUpdate{Auth: auth, Remote: true})
			w.persistOrWarn(ctx, w.persistSessions)
		}

	case tabs.MsgStateUpdate:
		var u stateUpdate
		if !w.decode(ev, &u) || u.Preferences == nil {
			return
		}
		if w.adoptPreferences(*u.Preferences) {
			w.prefsFeed.Send(*u.Preferences)
			w.persistOrWarn(ctx, w.persistIfLeader)
		}

	case tabs.MsgStateSyncRequest:
		if w.tabs.IsLeader() {
			w.publishSnapshot(ctx)
		}
	}
}

// publishSnapshot rebroadcasts everything a fresh tab needs to converge.
func (w *Wallet) publishSnapshot(ctx context.Context) {
	p := w.Preferences()
	if err := w.tabs.BroadcastStateUpdate(ctx, stateUpdate{Preferences: &p}); err != nil {
		log.Warn("snapshot preferences not sent", "error", err)
	}
	if st, ok := w.nets.Current(); ok {
		if err := w.tabs.BroadcastNetworkUpdate(ctx, networkUpdate{State: st}); err != nil {
			log.Warn("snapshot network not sent", "error", err)
		}
	}
	for _, a := range w.auth.Sessions() {
		if err := w.broadcastSession(ctx, a); err != nil {
			log.Warn("snapshot session not sent", "origin", a.Origin, "error", err)
		}
	}
}

// sessionSyncConn keys the connection-failure backoff of session broadcasts.
const sessionSyncConn = "session-sync"

func (w *Wallet) broadcastSession(ctx context.Context, a session.Auth) error {
	tokens := w.tokenizer()
	if tokens == nil {
		return nil
	}
	tok, err := tokens.SessionToToken(a)
	if err != nil {
		return err
	}
	if err := w.tabs.BroadcastSessionUpdate(ctx, sessionUpdate{Token: tok}); err != nil {
		delay, ferr := w.auth.HandleConnectionFailure(sessionSyncConn)
		if ferr != nil {
			log.Error("session sync broadcast keeps failing", "origin", a.Origin, "error", err)
		} else {
			log.Warn("session sync broadcast failed", "origin", a.Origin, "retryIn", delay, "error", err)
		}
		return err
	}
	w.auth.ConnectionRestored(sessionSyncConn)
	return nil
}

func (w *Wallet) tokenizer() *session.Tokenizer {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.tokens
}

func (w *Wallet) decode(ev tabs.UpdateEvent, v any) bool {
	if err := json.Unmarshal(ev.Payload, v); err != nil {
		log.Warn("malformed update from another tab", "type", ev.Type, "from", ev.SenderTabID, "error", err)
		return false
	}
	return true
}

func (w *Wallet) persistOrWarn(ctx context.Context, persist func(context.Context) error) {
	if err := persist(ctx); err != nil {
		log.Warn("wallet state not persisted", "error", err)
	}
}

// persistIfLeader writes the consolidated wallet state when this tab leads.
func (w *Wallet) persistIfLeader(ctx context.Context) error {
	if !w.tabs.IsLeader() {
		return nil
	}
	return w.persistWalletState(ctx)
}

func (w *Wallet) persistAll(ctx context.Context) error {
	if err := w.persistWalletState(ctx); err != nil {
		return err
	}
	return w.persistSessions(ctx)
}

func (w *Wallet) persistWalletState(ctx context.Context) error {
	ws := walletState{
		Schema:      constants.SchemaV1,
		Preferences: w.Preferences(),
		LeaderTabID: w.TabID(),
		UpdatedAt:   w.now(),
	}
	if st, ok := w.nets.Current(); ok {
		ws.Network = &st
	}
	return storage.SetJSON(ctx, w.store, storage.KeyWalletState, ws)
}

func (w *Wallet) persistSessions(ctx context.Context) error {
	if !w.tabs.IsLeader() {
		return nil
	}
	return storage.SetJSON(ctx, w.store, storage.KeySessions, w.auth.Sessions())
}

func (w *Wallet) loadWalletState(ctx context.Context) error {
	ws, ok, err := storage.GetJSON[walletState](ctx, w.store, storage.KeyWalletState)
	if err != nil || !ok {
		return err
	}
	if _, known := w.nets.Config(ws.Preferences.DefaultChainID); !known {
		log.Warn("persisted default chain is not registered", "chainId", ws.Preferences.DefaultChainID)
		return nil
	}
	w.mu.Lock()
	w.prefs = ws.Preferences
	w.mu.Unlock()
	return nil
}

func (w *Wallet) loadSessions(ctx context.Context) error {
	saved, ok, err := storage.GetJSON[[]session.Auth](ctx, w.store, storage.KeySessions)
	if err != nil || !ok {
		return err
	}
	for _, a := range saved {
		w.auth.Adopt(a)
	}
	return nil
}
