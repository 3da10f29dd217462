package httpclient

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/semaphore"
)

// ConcurrencyMode chooses what happens when every slot is taken.
type ConcurrencyMode int

const (
	// ConcurrencyQueue waits for a slot until the context ends (default).
	ConcurrencyQueue ConcurrencyMode = iota
	// ConcurrencyReject fails immediately with ErrConcurrencyLimit.
	ConcurrencyReject
)

// ConcurrencyConfig configures the ConcurrencyLimit middleware.
type ConcurrencyConfig struct {
	// Limit is the maximum number of calls in flight below this layer.
	// Zero or negative disables the layer.
	Limit int64

	// Mode is ConcurrencyQueue or ConcurrencyReject.
	Mode ConcurrencyMode

	// MaxWait bounds the queueing time in ConcurrencyQueue mode. A call still
	// waiting after MaxWait fails with ErrConcurrencyLimit. Zero waits as long
	// as the context allows.
	MaxWait time.Duration
}

// ConcurrencyLimit bounds in-flight calls with a counting semaphore. The slot
// is released when the wrapped sender returns, whatever the outcome.
//
// Example:
//
//	mw := httpclient.ConcurrencyLimit(httpclient.ConcurrencyConfig{Limit: 8})
func ConcurrencyLimit(cfg ConcurrencyConfig) Middleware {
	return newConcurrencyLimit(cfg, nil)
}

func newConcurrencyLimit(cfg ConcurrencyConfig, m *metrics) Middleware {
	if cfg.Limit <= 0 {
		return nil
	}
	sem := semaphore.NewWeighted(cfg.Limit)

	return func(next Sender) Sender {
		return SenderFunc(func(ctx context.Context, req *Request) (*Response, error) {
			if err := acquireSlot(ctx, sem, cfg); err != nil {
				if errors.Is(err, ErrConcurrencyLimit) {
					m.recordRejection(ctx, ErrorTypeConcurrencyLimit, requestAttributes(req))
				}
				return nil, transportErr(req, err)
			}
			defer sem.Release(1)

			return next.Send(ctx, req)
		})
	}
}

func acquireSlot(ctx context.Context, sem *semaphore.Weighted, cfg ConcurrencyConfig) error {
	if cfg.Mode == ConcurrencyReject {
		if !sem.TryAcquire(1) {
			return ErrConcurrencyLimit
		}
		return nil
	}

	waitCtx := ctx
	if cfg.MaxWait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, cfg.MaxWait)
		defer cancel()
	}
	if err := sem.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrConcurrencyLimit
	}
	return nil
}
