package backoff

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumauth-io/quantum-wallet/internal/core"
)

func fixedRand(v float64) Option {
	return WithRand(func() float64 { return v })
}

func fastConfig(maxAttempts int) Config {
	return Config{
		InitialDelay:  time.Millisecond,
		MaxDelay:      2 * time.Millisecond,
		BackoffFactor: 2,
		JitterFactor:  0.2,
		MaxAttempts:   maxAttempts,
	}
}

func TestDelayGrowsAndCaps(t *testing.T) {
	c := New(Config{
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      time.Second,
		BackoffFactor: 2,
		JitterFactor:  0.2,
		MaxAttempts:   10,
	}, fixedRand(0.5))

	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second,
		time.Second,
	}
	for i, w := range want {
		assert.Equal(t, w, c.Delay(i+1), "attempt %d", i+1)
	}
}

func TestDelayJitterBounds(t *testing.T) {
	cfg := DefaultConfig()

	low := New(cfg, fixedRand(0)).Delay(1)
	high := New(cfg, fixedRand(0.999999)).Delay(1)

	assert.Equal(t, 400*time.Millisecond, low)
	assert.InDelta(t, float64(600*time.Millisecond), float64(high), float64(time.Millisecond))
}

func TestDelayNeverNegative(t *testing.T) {
	c := New(Config{InitialDelay: time.Second, JitterFactor: 5}, fixedRand(0))
	assert.Equal(t, time.Duration(0), c.Delay(1))
}

func TestRetryTermination(t *testing.T) {
	const maxAttempts = 4
	c := New(fastConfig(maxAttempts))

	scheduled := make(chan RetryScheduled, 16)
	exceeded := make(chan MaxRetriesExceeded, 4)
	defer c.SubscribeScheduled(scheduled).Unsubscribe()
	defer c.SubscribeExceeded(exceeded).Unsubscribe()

	var calls int32
	_, err := Retry(context.Background(), c, "network-init", func(ctx context.Context) (int, error) {
		atomic.AddInt32(&calls, 1)
		return 0, errors.New("rpc unavailable")
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrMaxRetriesExceeded))
	assert.Equal(t, int32(maxAttempts+1), atomic.LoadInt32(&calls))

	require.Len(t, scheduled, maxAttempts)
	for i := 1; i <= maxAttempts; i++ {
		ev := <-scheduled
		assert.Equal(t, "network-init", ev.Key)
		assert.Equal(t, i, ev.Attempt)
	}
	require.Len(t, exceeded, 1)
	ev := <-exceeded
	assert.Equal(t, maxAttempts+1, ev.Attempt)
	assert.Equal(t, 0, c.Attempts("network-init"))
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	c := New(fastConfig(5))
	scheduled := make(chan RetryScheduled, 16)
	defer c.SubscribeScheduled(scheduled).Unsubscribe()

	var calls int
	got, err := Retry(context.Background(), c, "session-auth", func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("signer busy")
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Len(t, scheduled, 2)
	assert.Equal(t, 0, c.Attempts("session-auth"))
}

func TestRetryDoesNotRetryPermanentErrors(t *testing.T) {
	c := New(fastConfig(5))
	scheduled := make(chan RetryScheduled, 4)
	defer c.SubscribeScheduled(scheduled).Unsubscribe()

	var calls int
	_, err := Retry(context.Background(), c, "network-switch", func(ctx context.Context) (struct{}, error) {
		calls++
		return struct{}{}, errors.Wrap(core.ErrUnsupportedChain, "0x999")
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrUnsupportedChain))
	assert.Equal(t, 1, calls)
	assert.Empty(t, scheduled)
}

func TestCleanupCancelsPendingRetry(t *testing.T) {
	c := New(Config{InitialDelay: time.Hour, MaxDelay: time.Hour, MaxAttempts: 3})
	scheduled := make(chan RetryScheduled, 4)
	defer c.SubscribeScheduled(scheduled).Unsubscribe()

	errc := make(chan error, 1)
	go func() {
		_, err := Retry(context.Background(), c, "tab-lock", func(ctx context.Context) (bool, error) {
			return false, errors.New("claim contested")
		})
		errc <- err
	}()

	select {
	case <-scheduled:
	case <-time.After(2 * time.Second):
		t.Fatal("retry was never scheduled")
	}
	c.Cleanup()

	select {
	case err := <-errc:
		assert.True(t, errors.Is(err, core.ErrClosed))
	case <-time.After(2 * time.Second):
		t.Fatal("cleanup did not cancel the pending retry")
	}
	assert.Equal(t, 0, c.Attempts("tab-lock"))
}

func TestRetryHonorsContext(t *testing.T) {
	c := New(Config{InitialDelay: time.Hour, MaxDelay: time.Hour, MaxAttempts: 3})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := Retry(ctx, c, "slow", func(ctx context.Context) (int, error) {
		return 0, errors.New("nope")
	})
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestRetryCoalescesSameKey(t *testing.T) {
	c := New(fastConfig(3))

	entered := make(chan struct{})
	release := make(chan struct{})
	var calls int32

	op := func(ctx context.Context) (string, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(entered)
		}
		<-release
		return "state", nil
	}

	var wg sync.WaitGroup
	results := make([]string, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], _ = Retry(context.Background(), c, "network-init", op)
	}()
	<-entered

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1], _ = Retry(context.Background(), c, "network-init", op)
	}()
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, []string{"state", "state"}, results)
}

func TestFailAndSucceedBookkeeping(t *testing.T) {
	c := New(fastConfig(2), fixedRand(0.5))
	exceeded := make(chan MaxRetriesExceeded, 1)
	defer c.SubscribeExceeded(exceeded).Unsubscribe()

	d, err := c.Fail("connection:https://dapp.example")
	require.NoError(t, err)
	assert.Equal(t, time.Millisecond, d)

	_, err = c.Fail("connection:https://dapp.example")
	require.NoError(t, err)
	assert.Equal(t, 2, c.Attempts("connection:https://dapp.example"))

	_, err = c.Fail("connection:https://dapp.example")
	require.Error(t, err)
	assert.Len(t, exceeded, 1)

	_, err = c.Fail("connection:https://dapp.example")
	require.NoError(t, err, "budget restarts after exhaustion")
	c.Succeed("connection:https://dapp.example")
	assert.Equal(t, 0, c.Attempts("connection:https://dapp.example"))
}
