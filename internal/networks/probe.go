package networks

import (
	"context"
	"math/big"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/quantumauth-io/quantum-go-utils/log"
	"github.com/quantumauth-io/quantum-go-utils/retry"
	"github.com/shopspring/decimal"

	"github.com/quantumauth-io/quantum-wallet/internal/core"
)

// Client is the slice of an RPC client the coordinator uses.
type Client interface {
	BlockNumber(ctx context.Context) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	Close()
}

type Dialer interface {
	Dial(ctx context.Context, url string) (Client, error)
}

// EthDialer dials JSON-RPC endpoints with go-ethereum's ethclient.
type EthDialer struct{}

func (EthDialer) Dial(ctx context.Context, url string) (Client, error) {
	cl, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, errors.Wrapf(err, "Failed to connect to blockchain at %s", url)
	}
	return cl, nil
}

// Probe measures every endpoint of chainID, records latencies and merges
// connectivity, head block and gas price into the chain's state when it has
// one. It fails only when no endpoint answered.
func (c *Coordinator) Probe(ctx context.Context, chainID core.ChainID) error {
	chainID = canonical(chainID)
	cfg, ok := c.Config(chainID)
	if !ok {
		return errors.Wrapf(core.ErrUnsupportedChain, "chain %s", chainID)
	}

	var (
		head     uint64
		gasPrice *big.Int
		answered bool
		lastErr  error
	)
	for _, url := range cfg.RPCURLs {
		n, price, latency, err := c.probeEndpoint(ctx, url)
		if err != nil {
			lastErr = err
			log.Warn("rpc probe failed", "chainId", chainID, "rpc", url, "error", err)
			continue
		}
		c.RecordLatency(chainID, url, latency)
		if !answered || n > head {
			head, gasPrice = n, price
		}
		answered = true
	}

	patch := StatePatch{IsConnected: &answered}
	if answered {
		patch.LastBlockNumber = &head
		if gasPrice != nil {
			gwei := decimal.NewFromBigInt(gasPrice, -9)
			patch.GasPrice = &gwei
		}
		if url, ok := c.SelectEndpoint(chainID); ok {
			patch.RPCURL = &url
		}
	}
	if _, ok := c.State(chainID); ok {
		if _, err := c.UpdateState(chainID, patch); err != nil {
			return err
		}
	}

	if !answered {
		if lastErr == nil {
			lastErr = errors.New("no rpc endpoints configured")
		}
		return errors.Wrapf(lastErr, "probe chain %s", chainID)
	}
	return nil
}

func (c *Coordinator) probeEndpoint(ctx context.Context, url string) (uint64, *big.Int, time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
	defer cancel()

	start := time.Now()
	cl, err := c.dialer.Dial(ctx, url)
	if err != nil {
		return 0, nil, 0, err
	}
	defer cl.Close()

	n, err := cl.BlockNumber(ctx)
	if err != nil {
		return 0, nil, 0, errors.Wrap(err, "eth_blockNumber")
	}
	latency := time.Since(start)

	price, err := cl.SuggestGasPrice(ctx)
	if err != nil {
		log.Warn("gas price unavailable", "rpc", url, "error", err)
		price = nil
	}
	return n, price, latency, nil
}

// RunHealthChecks probes the current chain every interval until ctx is done.
func (c *Coordinator) RunHealthChecks(ctx context.Context) {
	interval := c.cfg.ProbeInterval
	if interval <= 0 {
		return
	}
	cfg := retry.DefaultConfig()
	cfg.MaxDelayBeforeRetrying = interval
	cfg.InitialDelayBeforeRetrying = interval / 10

	timer := time.NewTimer(interval)
	defer timer.Stop()
	probes := 0
	for {
		timer.Reset(interval)
		select {
		case <-ctx.Done():
			log.Info("network health checks exiting", "probes", probes)
			return
		case <-timer.C:
			state, ok := c.Current()
			if !ok {
				continue
			}
			_, _ = retry.Retry(ctx, cfg,
				func(ctx context.Context) ([]interface{}, error) {
					probes++
					return nil, c.Probe(ctx, state.ChainID)
				},
				nil,
				"probe rpc endpoints")
		}
	}
}

// Balance returns the latest balance of address on chainID in wei.
func (c *Coordinator) Balance(ctx context.Context, chainID core.ChainID, address string) (*big.Int, error) {
	chainID = canonical(chainID)
	if !common.IsHexAddress(address) {
		return nil, errors.Mark(errors.Newf("invalid address %q", address), core.ErrInvalidInput)
	}
	url, ok := c.SelectEndpoint(chainID)
	if !ok {
		return nil, errors.Wrapf(core.ErrUnsupportedChain, "chain %s", chainID)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
	defer cancel()
	cl, err := c.dialer.Dial(ctx, url)
	if err != nil {
		return nil, err
	}
	defer cl.Close()

	bal, err := cl.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return nil, errors.Wrapf(err, "eth_getBalance on %s", chainID)
	}
	return bal, nil
}
