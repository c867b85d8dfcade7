// Package tabs elects one leader among wallet instances sharing a broadcast
// channel and relays state updates between them.
package tabs

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/event"
	"github.com/google/uuid"
	"github.com/quantumauth-io/quantum-go-utils/log"

	"github.com/quantumauth-io/quantum-wallet/internal/broadcast"
	"github.com/quantumauth-io/quantum-wallet/internal/core"
)

type Role int

const (
	Follower Role = iota
	ClaimPending
	Leader
)

func (r Role) String() string {
	switch r {
	case ClaimPending:
		return "claim-pending"
	case Leader:
		return "leader"
	default:
		return "follower"
	}
}

type Config struct {
	ClaimTimeout        time.Duration `mapstructure:"ClaimTimeout"`
	HeartbeatInterval   time.Duration `mapstructure:"HeartbeatInterval"`
	ElectionInterval    time.Duration `mapstructure:"ElectionInterval"`
	InactivityThreshold time.Duration `mapstructure:"InactivityThreshold"`
}

func DefaultConfig() Config {
	return Config{
		ClaimTimeout:        5 * time.Second,
		HeartbeatInterval:   time.Second,
		ElectionInterval:    2 * time.Second,
		InactivityThreshold: 30 * time.Second,
	}
}

type LeadershipKind string

const (
	LeadershipAcquired LeadershipKind = "acquired"
	LeadershipReleased LeadershipKind = "released"
	LeadershipChanged  LeadershipKind = "changed"
)

type LeadershipEvent struct {
	Kind     LeadershipKind
	TabID    string
	LeaderID string
}

// UpdateEvent is a state, session, network or sync message from another tab.
type UpdateEvent struct {
	Type        string
	Payload     json.RawMessage
	SenderTabID string
	Timestamp   int64
}

type Option func(*Coordinator)

func WithTabID(id string) Option {
	return func(c *Coordinator) { c.id = id }
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

type Coordinator struct {
	id        string
	cfg       Config
	transport broadcast.Transport
	now       func() time.Time

	mu            sync.Mutex
	role          Role
	leaderID      string
	lastHeartbeat time.Time
	activeAt      time.Time
	hidden        bool
	claimTimer    *time.Timer
	waiters       []chan bool
	running       bool
	cancel        context.CancelFunc
	wg            sync.WaitGroup

	leadershipFeed event.FeedOf[LeadershipEvent]
	updateFeed     event.FeedOf[UpdateEvent]
}

func NewCoordinator(cfg Config, transport broadcast.Transport, opts ...Option) *Coordinator {
	def := DefaultConfig()
	if cfg.ClaimTimeout <= 0 {
		cfg.ClaimTimeout = def.ClaimTimeout
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.ElectionInterval <= 0 {
		cfg.ElectionInterval = def.ElectionInterval
	}
	if cfg.InactivityThreshold <= 0 {
		cfg.InactivityThreshold = def.InactivityThreshold
	}
	c := &Coordinator{
		id:        uuid.NewString(),
		cfg:       cfg,
		transport: transport,
		now:       time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	c.activeAt = c.now()
	return c
}

func (c *Coordinator) ID() string { return c.id }

func (c *Coordinator) SubscribeLeadership(ch chan<- LeadershipEvent) event.Subscription {
	return c.leadershipFeed.Subscribe(ch)
}

func (c *Coordinator) SubscribeUpdates(ch chan<- UpdateEvent) event.Subscription {
	return c.updateFeed.Subscribe(ch)
}

func (c *Coordinator) Role() Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

func (c *Coordinator) IsLeader() bool { return c.Role() == Leader }

// LeaderID is the tab this tab currently believes is leader, possibly itself.
func (c *Coordinator) LeaderID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.leaderID
}

// Start subscribes to the transport and runs the heartbeat and election
// loops until Cleanup or ctx is done.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	in, err := c.transport.Subscribe(ctx)
	if err != nil {
		c.mu.Unlock()
		cancel()
		return errors.Wrap(err, "subscribe coordination channel")
	}
	c.running = true
	c.cancel = cancel
	c.wg.Add(1)
	c.mu.Unlock()

	go c.loop(ctx, in)
	log.Info("tab coordinator started", "tabId", c.id)
	return nil
}

func (c *Coordinator) loop(ctx context.Context, in <-chan broadcast.Envelope) {
	defer c.wg.Done()
	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()
	heartbeat := time.NewTicker(c.cfg.HeartbeatInterval)
	defer heartbeat.Stop()
	election := time.NewTicker(c.cfg.ElectionInterval)
	defer election.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-in:
			if !ok {
				return
			}
			c.handle(ctx, env)
		case <-heartbeat.C:
			if c.IsLeader() {
				if err := c.sendPresence(ctx, MsgHeartbeat); err != nil {
					log.Warn("coordination message not sent", "tabId", c.id, "type", MsgHeartbeat, "error", err)
				}
			}
		case <-election.C:
			c.checkElection(ctx)
		}
	}
}

// RequestLock claims leadership and waits for the outcome. It reports false
// without error when another live tab keeps or takes leadership.
func (c *Coordinator) RequestLock(ctx context.Context) (bool, error) {
	c.mu.Lock()
	if c.hidden {
		c.mu.Unlock()
		return false, errors.Wrap(core.ErrTabLockFailed, "tab is hidden")
	}
	if c.role == Leader {
		c.mu.Unlock()
		return true, nil
	}
	waiter := make(chan bool, 1)
	c.waiters = append(c.waiters, waiter)
	startClaim := c.role == Follower
	if startClaim {
		c.beginClaimLocked()
	}
	c.mu.Unlock()

	if startClaim {
		if err := c.sendPresence(ctx, MsgLeadershipClaim); err != nil {
			c.mu.Lock()
			fx := c.abandonClaimLocked("")
			c.mu.Unlock()
			c.apply(ctx, fx)
			return false, errors.Mark(errors.Wrap(err, "broadcast leadership claim"), core.ErrTabLockFailed)
		}
	}

	select {
	case won := <-waiter:
		return won, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// ReleaseLock gives up leadership or a pending claim.
func (c *Coordinator) ReleaseLock(ctx context.Context) error {
	c.mu.Lock()
	switch c.role {
	case Leader:
		c.role = Follower
		c.leaderID = ""
		c.mu.Unlock()
		log.Info("tab released leadership", "tabId", c.id)
		err := c.sendPresence(ctx, MsgLockRelease)
		c.leadershipFeed.Send(LeadershipEvent{Kind: LeadershipReleased, TabID: c.id})
		return err
	case ClaimPending:
		fx := c.abandonClaimLocked("")
		c.mu.Unlock()
		c.apply(ctx, fx)
		return nil
	default:
		c.mu.Unlock()
		return nil
	}
}

// SetVisible releases leadership when the tab is hidden and claims it again
// once visible.
func (c *Coordinator) SetVisible(ctx context.Context, visible bool) error {
	c.mu.Lock()
	c.hidden = !visible
	if visible {
		c.activeAt = c.now()
	}
	c.mu.Unlock()

	if !visible {
		return c.ReleaseLock(ctx)
	}
	return c.claim(ctx)
}

// RecordActivity stamps user activity, the currency of contested claims.
func (c *Coordinator) RecordActivity() {
	c.mu.Lock()
	c.activeAt = c.now()
	c.mu.Unlock()
}

func (c *Coordinator) BroadcastStateUpdate(ctx context.Context, payload any) error {
	return c.publish(ctx, MsgStateUpdate, payload)
}

func (c *Coordinator) BroadcastSessionUpdate(ctx context.Context, payload any) error {
	return c.publish(ctx, MsgSessionUpdate, payload)
}

func (c *Coordinator) BroadcastNetworkUpdate(ctx context.Context, payload any) error {
	return c.publish(ctx, MsgNetworkUpdate, payload)
}

// RequestStateSync asks the leader to rebroadcast its state.
func (c *Coordinator) RequestStateSync(ctx context.Context) error {
	return c.publish(ctx, MsgStateSyncRequest, nil)
}

// Cleanup stops the loops, releases leadership and closes the transport.
func (c *Coordinator) Cleanup(ctx context.Context) error {
	c.mu.Lock()
	wasLeader := c.role == Leader
	fx := effects{}
	if c.role == ClaimPending {
		fx = c.abandonClaimLocked("")
	}
	c.role = Follower
	c.leaderID = ""
	cancel := c.cancel
	c.cancel = nil
	c.running = false
	c.mu.Unlock()

	c.apply(ctx, fx)
	var err error
	if wasLeader {
		if perr := c.sendPresence(ctx, MsgLockRelease); perr != nil {
			log.Warn("failed to announce leadership release", "tabId", c.id, "error", perr)
		}
	}
	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
	if cerr := c.transport.Close(); cerr != nil {
		err = errors.Wrap(cerr, "close coordination channel")
	}
	return err
}

func (c *Coordinator) publish(ctx context.Context, typ string, payload any) error {
	env, err := c.envelope(typ, payload)
	if err != nil {
		return err
	}
	if err := c.transport.Publish(ctx, env); err != nil {
		return errors.Wrapf(err, "broadcast %s", typ)
	}
	return nil
}

func (c *Coordinator) sendPresence(ctx context.Context, typ string) error {
	c.mu.Lock()
	p := presence{ActiveAt: c.activeAt.UnixMilli()}
	c.mu.Unlock()
	return c.publish(ctx, typ, p)
}

// claim starts a claim without waiting for its outcome.
func (c *Coordinator) claim(ctx context.Context) error {
	c.mu.Lock()
	if c.hidden || c.role != Follower {
		c.mu.Unlock()
		return nil
	}
	c.beginClaimLocked()
	c.mu.Unlock()

	if err := c.sendPresence(ctx, MsgLeadershipClaim); err != nil {
		c.mu.Lock()
		fx := c.abandonClaimLocked("")
		c.mu.Unlock()
		c.apply(ctx, fx)
		return errors.Mark(errors.Wrap(err, "broadcast leadership claim"), core.ErrTabLockFailed)
	}
	return nil
}

func (c *Coordinator) checkElection(ctx context.Context) {
	c.mu.Lock()
	vacant := c.leaderID == "" || c.now().Sub(c.lastHeartbeat) > c.cfg.InactivityThreshold
	eligible := c.role == Follower && !c.hidden && vacant
	c.mu.Unlock()

	if eligible {
		if err := c.claim(ctx); err != nil {
			log.Warn("leadership claim failed", "tabId", c.id, "error", err)
		}
	}
}
