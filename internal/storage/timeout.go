package storage

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/quantumauth-io/quantum-wallet/internal/core"
)

type timeoutStore struct {
	next    Store
	timeout time.Duration
}

// WithTimeout bounds every call on next. A call that does not finish in
// time fails with core.ErrStorageTimeout.
func WithTimeout(next Store, timeout time.Duration) Store {
	if timeout <= 0 {
		return next
	}
	return &timeoutStore{next: next, timeout: timeout}
}

func (s *timeoutStore) Get(ctx context.Context, key string) ([]byte, error) {
	var out []byte
	err := s.do(ctx, "get", key, func(ctx context.Context) error {
		v, err := s.next.Get(ctx, key)
		out = v
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *timeoutStore) Set(ctx context.Context, key string, value []byte) error {
	return s.do(ctx, "set", key, func(ctx context.Context) error {
		return s.next.Set(ctx, key, value)
	})
}

func (s *timeoutStore) Remove(ctx context.Context, key string) error {
	return s.do(ctx, "remove", key, func(ctx context.Context) error {
		return s.next.Remove(ctx, key)
	})
}

func (s *timeoutStore) do(ctx context.Context, op, key string, fn func(ctx context.Context) error) error {
	tctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(tctx) }()

	select {
	case err := <-done:
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return errors.Wrapf(core.ErrStorageTimeout, "%s %s after %s", op, key, s.timeout)
		}
		return err
	case <-tctx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.Wrapf(core.ErrStorageTimeout, "%s %s after %s", op, key, s.timeout)
	}
}
