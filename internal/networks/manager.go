// Package networks owns the chain registry and per-chain runtime state.
package networks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/event"
	"github.com/quantumauth-io/quantum-go-utils/log"

	"github.com/quantumauth-io/quantum-wallet/internal/constants"
	"github.com/quantumauth-io/quantum-wallet/internal/core"
	"github.com/quantumauth-io/quantum-wallet/internal/storage"
)

const DefaultDebounce = 500 * time.Millisecond

type Config struct {
	DefaultChainID string        `mapstructure:"DefaultChainID"`
	Debounce       time.Duration `mapstructure:"Debounce"`
	ProbeInterval  time.Duration `mapstructure:"ProbeInterval"`
	ProbeTimeout   time.Duration `mapstructure:"ProbeTimeout"`
	Custom         []ChainConfig `mapstructure:"Custom"`
}

type Option func(*Coordinator)

// WithStore persists networks added at runtime.
func WithStore(st storage.Store) Option {
	return func(c *Coordinator) { c.store = st }
}

func WithDialer(d Dialer) Option {
	return func(c *Coordinator) { c.dialer = d }
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

type Coordinator struct {
	cfg    Config
	store  storage.Store
	dialer Dialer
	now    func() time.Time

	mu      sync.Mutex
	chains  map[core.ChainID]ChainConfig
	custom  map[core.ChainID]bool
	states  map[core.ChainID]NetworkState
	current core.ChainID
	pending *pendingSwitch
	rpc     map[core.ChainID]*endpointStats

	switchedFeed event.FeedOf[NetworkSwitched]
	errorFeed    event.FeedOf[NetworkSwitchError]
}

// NewCoordinator returns a coordinator with the built-in chains and the
// configured custom ones registered.
func NewCoordinator(cfg Config, opts ...Option) (*Coordinator, error) {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	if cfg.DefaultChainID == "" {
		cfg.DefaultChainID = "0x1"
	}

	c := &Coordinator{
		cfg:    cfg,
		dialer: EthDialer{},
		now:    time.Now,
		chains: make(map[core.ChainID]ChainConfig),
		custom: make(map[core.ChainID]bool),
		states: make(map[core.ChainID]NetworkState),
		rpc:    make(map[core.ChainID]*endpointStats),
	}
	for _, o := range opts {
		o(c)
	}

	for _, ch := range append(DefaultChains(), cfg.Custom...) {
		if err := c.RegisterChain(ch); err != nil {
			return nil, errors.Wrapf(err, "register chain %s", ch.ChainID)
		}
	}
	return c, nil
}

// DefaultChainID is the chain initialized at wallet startup.
func (c *Coordinator) DefaultChainID() (core.ChainID, error) {
	return core.NormalizeChainID(c.cfg.DefaultChainID)
}

func (c *Coordinator) SubscribeSwitched(ch chan<- NetworkSwitched) event.Subscription {
	return c.switchedFeed.Subscribe(ch)
}

func (c *Coordinator) SubscribeSwitchErrors(ch chan<- NetworkSwitchError) event.Subscription {
	return c.errorFeed.Subscribe(ch)
}

// RegisterChain adds cfg to the registry. A chain id can only be registered once.
func (c *Coordinator) RegisterChain(cfg ChainConfig) error {
	id, err := core.NormalizeChainID(string(cfg.ChainID))
	if err != nil {
		return errors.Mark(err, core.ErrInvalidChain)
	}
	cfg.ChainID = id
	cfg = enrich(cloneConfig(cfg))

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.chains[id]; ok {
		return errors.Wrapf(core.ErrDuplicateChain, "chain %s", id)
	}
	c.chains[id] = cfg
	return nil
}

// AddNetwork registers a user-supplied chain and persists it.
func (c *Coordinator) AddNetwork(ctx context.Context, cfg ChainConfig) (ChainConfig, error) {
	if len(normalizeRPCs(cfg.RPCURLs)) == 0 {
		return ChainConfig{}, errors.New("network.rpcUrls is required")
	}
	if err := c.RegisterChain(cfg); err != nil {
		return ChainConfig{}, err
	}

	c.mu.Lock()
	id, _ := core.NormalizeChainID(string(cfg.ChainID))
	c.custom[id] = true
	added := cloneConfig(c.chains[id])
	c.mu.Unlock()

	if err := c.persist(ctx); err != nil {
		return ChainConfig{}, err
	}
	log.Info("network added", "chainId", id, "name", added.Name)
	return added, nil
}

// Load registers the networks persisted by earlier AddNetwork calls.
func (c *Coordinator) Load(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	saved, ok, err := storage.GetJSON[networksFile](ctx, c.store, storage.KeyNetworks)
	if err != nil || !ok {
		return err
	}
	for _, n := range saved.Networks {
		err := c.RegisterChain(n)
		switch {
		case errors.Is(err, core.ErrDuplicateChain):
			log.Warn("skipping persisted network that is already registered", "chainId", n.ChainID)
			continue
		case err != nil:
			log.Warn("skipping invalid persisted network", "chainId", n.ChainID, "error", err)
			continue
		}
		c.mu.Lock()
		id, _ := core.NormalizeChainID(string(n.ChainID))
		c.custom[id] = true
		c.mu.Unlock()
	}
	return nil
}

type networksFile struct {
	Schema   int           `json:"schema"`
	Networks []ChainConfig `json:"networks"`
}

func (c *Coordinator) persist(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	c.mu.Lock()
	f := networksFile{Schema: constants.SchemaV1}
	for id := range c.custom {
		f.Networks = append(f.Networks, cloneConfig(c.chains[id]))
	}
	c.mu.Unlock()
	sort.Slice(f.Networks, func(i, j int) bool { return f.Networks[i].ChainID < f.Networks[j].ChainID })

	if err := storage.SetJSON(ctx, c.store, storage.KeyNetworks, f); err != nil {
		return errors.Wrap(err, "persist networks")
	}
	return nil
}

// Config returns the registered descriptor for chainID.
func (c *Coordinator) Config(chainID core.ChainID) (ChainConfig, bool) {
	chainID = canonical(chainID)
	c.mu.Lock()
	defer c.mu.Unlock()
	cfg, ok := c.chains[chainID]
	if !ok {
		return ChainConfig{}, false
	}
	return cloneConfig(cfg), true
}

// Networks lists every registered chain ordered by chain id.
func (c *Coordinator) Networks() []ChainConfig {
	c.mu.Lock()
	out := make([]ChainConfig, 0, len(c.chains))
	for _, cfg := range c.chains {
		out = append(out, cloneConfig(cfg))
	}
	c.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		bi, bj := out[i].ChainID.Big(), out[j].ChainID.Big()
		return bi.Cmp(bj) < 0
	})
	return out
}
