// Package wallet composes retry, permissions, sessions, networks and tab
// coordination into the wallet instance one tab owns.
package wallet

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/event"
	"github.com/quantumauth-io/quantum-go-utils/log"

	"github.com/quantumauth-io/quantum-wallet/internal/backoff"
	"github.com/quantumauth-io/quantum-wallet/internal/broadcast"
	"github.com/quantumauth-io/quantum-wallet/internal/core"
	"github.com/quantumauth-io/quantum-wallet/internal/ethwallet/wtypes"
	"github.com/quantumauth-io/quantum-wallet/internal/networks"
	"github.com/quantumauth-io/quantum-wallet/internal/permissions"
	"github.com/quantumauth-io/quantum-wallet/internal/session"
	"github.com/quantumauth-io/quantum-wallet/internal/storage"
	"github.com/quantumauth-io/quantum-wallet/internal/tabs"
)

type PermissionsConfig struct {
	DefaultTTL    time.Duration `mapstructure:"DefaultTTL"`
	SweepInterval time.Duration `mapstructure:"SweepInterval"`
}

type Config struct {
	Retry       backoff.Config    `mapstructure:"Retry"`
	Tabs        tabs.Config       `mapstructure:"Tabs"`
	Networks    networks.Config   `mapstructure:"Networks"`
	Session     session.Config    `mapstructure:"Session"`
	Permissions PermissionsConfig `mapstructure:"Permissions"`
}

// Deps are the capabilities a wallet consumes. Signer may be nil when
// sessions run in basic mode and nothing is signed.
type Deps struct {
	Transport broadcast.Transport
	Store     storage.Store
	Signer    wtypes.Signer
	Dialer    networks.Dialer
	Clock     func() time.Time
	TabID     string
}

type Initialized struct {
	TabID   string
	Leader  bool
	ChainID core.ChainID
}

type NetworkChanged struct {
	ChainID core.ChainID
	State   networks.NetworkState
	Remote  bool
}

type SessionUpdate struct {
	Auth   session.Auth
	Remote bool
}

type RetryEvent struct {
	Key       string
	Attempt   int
	Delay     time.Duration
	Exhausted bool
}

type ErrorEvent struct {
	Op  string
	Err error
}

type Wallet struct {
	store  storage.Store
	signer wtypes.Signer
	now    func() time.Time
	cfg    Config

	retry *backoff.Coordinator
	perms *permissions.Store
	auth  *session.Authenticator
	nets  *networks.Coordinator
	tabs  *tabs.Coordinator

	initMu     sync.Mutex
	initCancel context.CancelFunc

	mu          sync.RWMutex
	initialized bool
	tokens      *session.Tokenizer
	prefs       Preferences
	cancel      context.CancelFunc
	wg          sync.WaitGroup

	initializedFeed event.FeedOf[Initialized]
	networkFeed     event.FeedOf[NetworkChanged]
	sessionFeed     event.FeedOf[SessionUpdate]
	prefsFeed       event.FeedOf[Preferences]
	leadershipFeed  event.FeedOf[tabs.LeadershipEvent]
	retryFeed       event.FeedOf[RetryEvent]
	errorFeed       event.FeedOf[ErrorEvent]
}

// New constructs a wallet and its subsystems. Nothing runs until Initialize.
func New(cfg Config, deps Deps) (*Wallet, error) {
	if deps.Transport == nil {
		return nil, errors.New("wallet: transport is required")
	}
	if deps.Store == nil {
		return nil, errors.New("wallet: store is required")
	}
	now := deps.Clock
	if now == nil {
		now = time.Now
	}

	w := &Wallet{
		store:  deps.Store,
		signer: deps.Signer,
		now:    now,
		cfg:    cfg,
		retry:  backoff.New(cfg.Retry),
		perms: permissions.NewStore(
			permissions.WithClock(now),
			permissions.WithDefaultTTL(cfg.Permissions.DefaultTTL),
		),
	}

	netOpts := []networks.Option{networks.WithStore(deps.Store), networks.WithClock(now)}
	if deps.Dialer != nil {
		netOpts = append(netOpts, networks.WithDialer(deps.Dialer))
	}
	nets, err := networks.NewCoordinator(cfg.Networks, netOpts...)
	if err != nil {
		return nil, err
	}
	w.nets = nets

	w.auth = session.NewAuthenticator(cfg.Session, deps.Signer, w.retry,
		session.WithClock(now),
		session.WithChainID(w.currentChainID),
	)

	tabOpts := []tabs.Option{tabs.WithClock(now)}
	if deps.TabID != "" {
		tabOpts = append(tabOpts, tabs.WithTabID(deps.TabID))
	}
	w.tabs = tabs.NewCoordinator(cfg.Tabs, deps.Transport, tabOpts...)

	w.prefs = defaultPreferences(nets)
	return w, nil
}

func (w *Wallet) TabID() string { return w.tabs.ID() }
func (w *Wallet) IsLeader() bool { return w.tabs.IsLeader() }
func (w *Wallet) Networks() *networks.Coordinator { return w.nets }
func (w *Wallet) Sessions() *session.Authenticator { return w.auth }
func (w *Wallet) PermissionStore() *permissions.Store { return w.perms }
func (w *Wallet) RetryCoordinator() *backoff.Coordinator { return w.retry }

func (w *Wallet) IsInitialized() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.initialized
}

// Initialize acquires the tab lock, loads persisted state and initializes
// the default chain. Calling it again after success is a no-op.
func (w *Wallet) Initialize(ctx context.Context) error {
	w.initMu.Lock()
	defer w.initMu.Unlock()
	if w.IsInitialized() {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.initCancel = cancel
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.initCancel = nil
		w.mu.Unlock()
		cancel()
	}()

	if err := w.initialize(ctx); err != nil {
		w.stop()
		return w.fail("initialize", err)
	}
	return nil
}

func (w *Wallet) initialize(ctx context.Context) error {
	secret, err := session.LoadOrCreateSecret(ctx, w.store)
	if err != nil {
		return err
	}
	tokens, err := session.NewTokenizer(secret)
	if err != nil {
		return err
	}
	if err := w.nets.Load(ctx); err != nil {
		return errors.Wrap(err, "load networks")
	}
	if err := w.perms.Load(ctx, w.store); err != nil {
		return err
	}
	if err := w.loadSessions(ctx); err != nil {
		return err
	}
	if err := w.loadWalletState(ctx); err != nil {
		return err
	}

	lifetime, cancel := context.WithCancel(context.Background())
	w.mu.Lock()
	w.tokens = tokens
	w.cancel = cancel
	w.mu.Unlock()

	w.startBridge(lifetime)
	if err := w.tabs.Start(lifetime); err != nil {
		return err
	}

	leader, err := backoff.Retry(ctx, w.retry, "tab-lock", w.tabs.RequestLock)
	if err != nil {
		return errors.Wrap(err, "acquire tab lock")
	}

	chainID := w.Preferences().DefaultChainID
	state, err := backoff.Retry(ctx, w.retry, "network-init", func(context.Context) (networks.NetworkState, error) {
		return w.nets.InitializeState(chainID)
	})
	if err != nil {
		if leader {
			w.releaseLock()
		}
		return errors.Wrapf(err, "initialize network %s", chainID)
	}

	w.mu.Lock()
	w.initialized = true
	w.mu.Unlock()

	if !leader {
		if err := w.tabs.RequestStateSync(ctx); err != nil {
			log.Warn("state sync request failed", "tabId", w.TabID(), "error", err)
		}
	} else if err := w.persistWalletState(ctx); err != nil {
		log.Warn("wallet state not persisted", "error", err)
	}

	w.wg.Add(2)
	go func() {
		defer w.wg.Done()
		w.perms.Run(lifetime, w.cfg.Permissions.SweepInterval)
	}()
	go func() {
		defer w.wg.Done()
		w.nets.RunHealthChecks(lifetime)
	}()

	log.Info("wallet initialized", "tabId", w.TabID(), "leader", leader, "chainId", state.ChainID)
	w.initializedFeed.Send(Initialized{TabID: w.TabID(), Leader: leader, ChainID: state.ChainID})
	return nil
}

// Cleanup tears every subsystem down. An Initialize still in progress is
// cancelled first. The wallet can be initialized again.
func (w *Wallet) Cleanup(ctx context.Context) error {
	w.mu.Lock()
	if w.initCancel != nil {
		w.initCancel()
	}
	w.mu.Unlock()
	w.retry.Cleanup()

	w.initMu.Lock()
	defer w.initMu.Unlock()

	w.stop()
	w.retry.Cleanup()
	w.nets.Cleanup()
	w.auth.Cleanup()
	err := w.tabs.Cleanup(ctx)

	w.mu.Lock()
	w.initialized = false
	w.mu.Unlock()
	log.Info("wallet cleaned up", "tabId", w.TabID())
	return err
}

// releaseLock hands leadership back so siblings can elect at once instead of
// waiting out the inactivity threshold.
func (w *Wallet) releaseLock() {
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.Tabs.ClaimTimeout+time.Second)
	defer cancel()
	if err := w.tabs.ReleaseLock(ctx); err != nil {
		log.Warn("tab lock not released", "tabId", w.TabID(), "error", err)
	}
}

func (w *Wallet) stop() {
	w.mu.Lock()
	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	w.wg.Wait()
}

func (w *Wallet) requireInitialized() error {
	if !w.IsInitialized() {
		return core.ErrNotInitialized
	}
	return nil
}

// fail reports err on the error feed and returns it.
func (w *Wallet) fail(op string, err error) error {
	log.Error("wallet operation failed", "op", op, "error", err)
	w.errorFeed.Send(ErrorEvent{Op: op, Err: err})
	return err
}

func (w *Wallet) currentChainID() core.ChainID {
	if st, ok := w.nets.Current(); ok {
		return st.ChainID
	}
	return w.Preferences().DefaultChainID
}

func (w *Wallet) SubscribeInitialized(ch chan<- Initialized) event.Subscription {
	return w.initializedFeed.Subscribe(ch)
}

func (w *Wallet) SubscribeNetworkChanged(ch chan<- NetworkChanged) event.Subscription {
	return w.networkFeed.Subscribe(ch)
}

func (w *Wallet) SubscribeSessionUpdate(ch chan<- SessionUpdate) event.Subscription {
	return w.sessionFeed.Subscribe(ch)
}

func (w *Wallet) SubscribePreferences(ch chan<- Preferences) event.Subscription {
	return w.prefsFeed.Subscribe(ch)
}

func (w *Wallet) SubscribeLeadership(ch chan<- tabs.LeadershipEvent) event.Subscription {
	return w.leadershipFeed.Subscribe(ch)
}

func (w *Wallet) SubscribeRetry(ch chan<- RetryEvent) event.Subscription {
	return w.retryFeed.Subscribe(ch)
}

func (w *Wallet) SubscribeErrors(ch chan<- ErrorEvent) event.Subscription {
	return w.errorFeed.Subscribe(ch)
}
