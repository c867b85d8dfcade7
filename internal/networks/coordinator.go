package networks

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/quantumauth-io/quantum-go-utils/log"

	"github.com/quantumauth-io/quantum-wallet/internal/core"
)

type switchResult struct {
	state NetworkState
	err   error
}

type pendingSwitch struct {
	chainID core.ChainID
	timer   *time.Timer
	done    chan switchResult
}

// SwitchTo makes chainID the current network once the debounce window passes
// without a newer call. A caller replaced by a newer call gets ErrSuperseded;
// cancelling ctx withdraws the call.
func (c *Coordinator) SwitchTo(ctx context.Context, chainID core.ChainID) (NetworkState, error) {
	id, err := core.NormalizeChainID(string(chainID))
	if err != nil {
		return NetworkState{}, errors.Mark(err, core.ErrUnsupportedChain)
	}

	p := &pendingSwitch{chainID: id, done: make(chan switchResult, 1)}

	c.mu.Lock()
	if prev := c.pending; prev != nil {
		prev.timer.Stop()
		prev.done <- switchResult{err: errors.Wrapf(core.ErrSuperseded, "switch to %s", prev.chainID)}
	}
	c.pending = p
	p.timer = time.AfterFunc(c.cfg.Debounce, func() { c.commitSwitch(p) })
	c.mu.Unlock()

	select {
	case r := <-p.done:
		return r.state, r.err
	case <-ctx.Done():
		c.mu.Lock()
		if c.pending == p {
			p.timer.Stop()
			c.pending = nil
		}
		c.mu.Unlock()
		select {
		case r := <-p.done:
			return r.state, r.err
		default:
			return NetworkState{}, ctx.Err()
		}
	}
}

func (c *Coordinator) commitSwitch(p *pendingSwitch) {
	c.mu.Lock()
	if c.pending != p {
		c.mu.Unlock()
		return
	}
	c.pending = nil

	cfg, ok := c.chains[p.chainID]
	if !ok {
		c.mu.Unlock()
		err := errors.Wrapf(core.ErrUnsupportedChain, "chain %s", p.chainID)
		log.Warn("network switch rejected", "chainId", p.chainID, "error", err)
		c.errorFeed.Send(NetworkSwitchError{ChainID: p.chainID, Err: err})
		p.done <- switchResult{err: err}
		return
	}

	state := c.freshStateLocked(cfg)
	c.states[p.chainID] = state
	c.current = p.chainID
	c.mu.Unlock()

	log.Info("network switched", "chainId", p.chainID, "rpc", state.RPCURL)
	c.switchedFeed.Send(NetworkSwitched{ChainID: p.chainID, State: cloneState(state), Config: cloneConfig(cfg)})
	p.done <- switchResult{state: cloneState(state)}
}

func (c *Coordinator) freshStateLocked(cfg ChainConfig) NetworkState {
	s := NetworkState{
		ChainID:          cfg.ChainID,
		RPCURL:           c.selectEndpointLocked(cfg),
		ValidationErrors: []string{},
		UpdatedAt:        c.now(),
	}
	cp := cloneConfig(cfg)
	s.MEVProtection = cp.MEVProtection
	s.GasOptimization = cp.GasOptimization
	return s
}

// canonical returns chainID in its map-key form. Ids that do not parse are
// returned unchanged and match nothing.
func canonical(chainID core.ChainID) core.ChainID {
	if id, err := core.NormalizeChainID(string(chainID)); err == nil {
		return id
	}
	return chainID
}

// InitializeState creates the first runtime state for a registered chain and
// makes it current if nothing is.
func (c *Coordinator) InitializeState(chainID core.ChainID) (NetworkState, error) {
	chainID = canonical(chainID)
	c.mu.Lock()
	defer c.mu.Unlock()
	cfg, ok := c.chains[chainID]
	if !ok {
		return NetworkState{}, errors.Wrapf(core.ErrInvalidChain, "chain %s is not registered", chainID)
	}
	state := c.freshStateLocked(cfg)
	c.states[chainID] = state
	if c.current == "" {
		c.current = chainID
	}
	return cloneState(state), nil
}

func (c *Coordinator) State(chainID core.ChainID) (NetworkState, bool) {
	chainID = canonical(chainID)
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.states[chainID]
	if !ok {
		return NetworkState{}, false
	}
	return cloneState(s), true
}

// Current returns the state of the current network.
func (c *Coordinator) Current() (NetworkState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == "" {
		return NetworkState{}, false
	}
	s, ok := c.states[c.current]
	return cloneState(s), ok
}

// UpdateState shallow-merges patch into an existing state.
func (c *Coordinator) UpdateState(chainID core.ChainID, patch StatePatch) (NetworkState, error) {
	chainID = canonical(chainID)
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.states[chainID]
	if !ok {
		return NetworkState{}, errors.Wrapf(core.ErrInvalidChain, "no state for chain %s", chainID)
	}
	if patch.IsConnected != nil {
		s.IsConnected = *patch.IsConnected
	}
	if patch.LastBlockNumber != nil {
		s.LastBlockNumber = *patch.LastBlockNumber
	}
	if patch.GasPrice != nil {
		s.GasPrice = *patch.GasPrice
	}
	if patch.RPCURL != nil {
		s.RPCURL = *patch.RPCURL
	}
	if patch.ValidationErrors != nil {
		s.ValidationErrors = append([]string{}, patch.ValidationErrors...)
	}
	s.UpdatedAt = c.now()
	c.states[chainID] = s
	return cloneState(s), nil
}

// Adopt installs a state received from another tab when it is newer than the
// local copy of that chain. The chain becomes current only when the state is
// also newer than the current network's, so a stale remote switch never
// undoes a later local one. Unregistered chains are ignored.
func (c *Coordinator) Adopt(state NetworkState) (stored, current bool) {
	state.ChainID = canonical(state.ChainID)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.chains[state.ChainID]; !ok {
		return false, false
	}
	if cur, ok := c.states[state.ChainID]; ok && !state.UpdatedAt.After(cur.UpdatedAt) {
		return false, false
	}
	c.states[state.ChainID] = cloneState(state)
	if c.current != state.ChainID {
		if cur, ok := c.states[c.current]; !ok || state.UpdatedAt.After(cur.UpdatedAt) {
			c.current = state.ChainID
		}
	}
	return true, c.current == state.ChainID
}

// Cleanup cancels a pending switch and drops runtime state. Registered
// chains are kept.
func (c *Coordinator) Cleanup() {
	c.mu.Lock()
	if p := c.pending; p != nil {
		p.timer.Stop()
		p.done <- switchResult{err: errors.Wrap(core.ErrClosed, "network coordinator")}
		c.pending = nil
	}
	clear(c.states)
	clear(c.rpc)
	c.current = ""
	c.mu.Unlock()
}
