// Package backoff retries fallible operations with exponential backoff and
// jitter, keyed by operation identity.
package backoff

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/event"
	"github.com/quantumauth-io/quantum-go-utils/log"
	"golang.org/x/sync/singleflight"

	"github.com/quantumauth-io/quantum-wallet/internal/core"
)

type Config struct {
	InitialDelay  time.Duration `mapstructure:"InitialDelay"`
	MaxDelay      time.Duration `mapstructure:"MaxDelay"`
	BackoffFactor float64       `mapstructure:"BackoffFactor"`
	JitterFactor  float64       `mapstructure:"JitterFactor"`
	MaxAttempts   int           `mapstructure:"MaxAttempts"`
}

func DefaultConfig() Config {
	return Config{
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 1.5,
		JitterFactor:  0.2,
		MaxAttempts:   10,
	}
}

// RetryScheduled is emitted before sleeping ahead of the next attempt.
type RetryScheduled struct {
	Key     string
	Attempt int
	Delay   time.Duration
}

// MaxRetriesExceeded is emitted once when a key runs out of attempts.
type MaxRetriesExceeded struct {
	Key     string
	Attempt int
}

type Option func(*Coordinator)

// WithRand replaces the uniform [0,1) source used for jitter.
func WithRand(f func() float64) Option {
	return func(c *Coordinator) { c.rand = f }
}

type Coordinator struct {
	cfg  Config
	rand func() float64

	mu       sync.Mutex
	attempts map[string]int
	timers   map[string]*time.Timer
	done     chan struct{}

	group singleflight.Group

	scheduledFeed event.FeedOf[RetryScheduled]
	exceededFeed  event.FeedOf[MaxRetriesExceeded]
}

func New(cfg Config, opts ...Option) *Coordinator {
	def := DefaultConfig()
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = def.InitialDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.BackoffFactor < 1 {
		cfg.BackoffFactor = def.BackoffFactor
	}
	if cfg.JitterFactor < 0 {
		cfg.JitterFactor = 0
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}

	c := &Coordinator{
		cfg:      cfg,
		rand:     rand.Float64,
		attempts: make(map[string]int),
		timers:   make(map[string]*time.Timer),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Coordinator) Config() Config { return c.cfg }

func (c *Coordinator) SubscribeScheduled(ch chan<- RetryScheduled) event.Subscription {
	return c.scheduledFeed.Subscribe(ch)
}

func (c *Coordinator) SubscribeExceeded(ch chan<- MaxRetriesExceeded) event.Subscription {
	return c.exceededFeed.Subscribe(ch)
}

// Delay returns the jittered backoff for a 1-based attempt number.
func (c *Coordinator) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := float64(c.cfg.InitialDelay) * math.Pow(c.cfg.BackoffFactor, float64(attempt-1))
	if maxDelay := float64(c.cfg.MaxDelay); base > maxDelay {
		base = maxDelay
	}
	d := base + base*c.cfg.JitterFactor*(c.rand()*2-1)
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// Fail records a failed attempt for key. It returns the delay to wait before
// the next attempt, or ErrMaxRetriesExceeded once the budget is spent, in
// which case the counter is cleared.
func (c *Coordinator) Fail(key string) (time.Duration, error) {
	c.mu.Lock()
	c.attempts[key]++
	attempt := c.attempts[key]
	exhausted := attempt > c.cfg.MaxAttempts
	if exhausted {
		delete(c.attempts, key)
	}
	c.mu.Unlock()

	if exhausted {
		log.Warn("retry budget exhausted", "key", key, "attempt", attempt)
		c.exceededFeed.Send(MaxRetriesExceeded{Key: key, Attempt: attempt})
		return 0, errors.Wrapf(core.ErrMaxRetriesExceeded, "%s after %d attempts", key, attempt)
	}

	delay := c.Delay(attempt)
	c.scheduledFeed.Send(RetryScheduled{Key: key, Attempt: attempt, Delay: delay})
	return delay, nil
}

// Succeed clears the attempt counter and any pending timer for key.
func (c *Coordinator) Succeed(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.attempts, key)
	if t, ok := c.timers[key]; ok {
		t.Stop()
		delete(c.timers, key)
	}
}

func (c *Coordinator) Attempts(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts[key]
}

// Cleanup cancels every pending retry sleep and clears all counters. Chains
// blocked in a sleep return ErrClosed. The coordinator stays usable.
func (c *Coordinator) Cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()
	close(c.done)
	c.done = make(chan struct{})
	for key, t := range c.timers {
		t.Stop()
		delete(c.timers, key)
	}
	clear(c.attempts)
}

// Retry runs op until it succeeds, fails permanently, or the attempt budget
// for key is spent. Concurrent calls with the same key share one in-flight
// chain and its result.
func Retry[T any](ctx context.Context, c *Coordinator, key string, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		return c.run(ctx, key, func(ctx context.Context) (interface{}, error) {
			return op(ctx)
		})
	})
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	out, ok := v.(T)
	if !ok {
		return zero, errors.Newf("retry %s: unexpected result type %T", key, v)
	}
	return out, nil
}

func (c *Coordinator) run(ctx context.Context, key string, op func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	for {
		v, err := op(ctx)
		if err == nil {
			c.Succeed(key)
			return v, nil
		}
		if core.IsPermanent(err) {
			c.Succeed(key)
			return nil, err
		}

		delay, ferr := c.Fail(key)
		if ferr != nil {
			return nil, errors.WithSecondaryError(ferr, err)
		}
		log.Warn("operation failed, retrying", "key", key, "delay", delay, "error", err)

		if err := c.sleep(ctx, key, delay); err != nil {
			c.Succeed(key)
			return nil, err
		}
	}
}

func (c *Coordinator) sleep(ctx context.Context, key string, d time.Duration) error {
	timer := time.NewTimer(d)
	c.mu.Lock()
	c.timers[key] = timer
	done := c.done
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if c.timers[key] == timer {
			delete(c.timers, key)
		}
		c.mu.Unlock()
		timer.Stop()
	}()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return errors.Wrapf(core.ErrClosed, "retry %s cancelled", key)
	}
}
