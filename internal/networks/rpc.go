package networks

import (
	"time"

	"github.com/quantumauth-io/quantum-wallet/internal/core"
)

type endpointStats struct {
	latency map[string]time.Duration
	next    int
}

// RecordLatency stores the most recent probe latency of url on chainID.
func (c *Coordinator) RecordLatency(chainID core.ChainID, url string, d time.Duration) {
	chainID = canonical(chainID)
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.statsLocked(chainID)
	st.latency[url] = d
}

// SelectEndpoint picks the RPC endpoint for chainID according to its failover
// policy.
func (c *Coordinator) SelectEndpoint(chainID core.ChainID) (string, bool) {
	chainID = canonical(chainID)
	c.mu.Lock()
	defer c.mu.Unlock()
	cfg, ok := c.chains[chainID]
	if !ok || len(cfg.RPCURLs) == 0 {
		return "", false
	}
	return c.selectEndpointLocked(cfg), true
}

func (c *Coordinator) selectEndpointLocked(cfg ChainConfig) string {
	urls := cfg.RPCURLs
	if len(urls) == 0 {
		return ""
	}
	opt := cfg.RPCOptimization
	if opt == nil || !opt.UseMultipleProviders || len(urls) == 1 {
		return urls[0]
	}

	st := c.statsLocked(cfg.ChainID)
	switch opt.FailoverStrategy {
	case FailoverRoundRobin:
		u := urls[st.next%len(urls)]
		st.next++
		return u
	default:
		best, bestLatency := urls[0], time.Duration(-1)
		for _, u := range urls {
			d, seen := st.latency[u]
			if !seen {
				continue
			}
			if bestLatency < 0 || d < bestLatency {
				best, bestLatency = u, d
			}
		}
		return best
	}
}

func (c *Coordinator) statsLocked(chainID core.ChainID) *endpointStats {
	st, ok := c.rpc[chainID]
	if !ok {
		st = &endpointStats{latency: make(map[string]time.Duration)}
		c.rpc[chainID] = st
	}
	return st
}
