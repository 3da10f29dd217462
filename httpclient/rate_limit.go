package httpclient

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// KeyFunc partitions rate limiting. Requests with the same key share a bucket.
type KeyFunc func(req *Request) string

// KeyByOperation keys by operation name; ad-hoc requests share "".
func KeyByOperation() KeyFunc {
	return func(req *Request) string { return req.OperationName() }
}

// KeyByHost keys by target host, useful when a client talks to several hosts.
func KeyByHost() KeyFunc {
	return func(req *Request) string {
		if req.URL == nil {
			return ""
		}
		return req.URL.Host
	}
}

// RateLimitConfig configures client-side rate limiting.
type RateLimitConfig struct {
	// RequestsPerSecond is the maximum sustained request rate.
	// Zero or negative disables the limiter.
	RequestsPerSecond float64

	// Burst is the maximum number of requests allowed in a burst.
	// Default: 1
	Burst int

	// WaitOnLimit determines behavior when the bucket is empty.
	// If true, requests wait for a token (respecting the context deadline).
	// If false, requests fail immediately with ErrRateLimited.
	WaitOnLimit bool

	// KeyFunc gives each key its own bucket. Nil uses one bucket for all.
	KeyFunc KeyFunc
}

// DefaultRateLimitConfig returns 100 requests per second with a burst of 10,
// waiting for tokens.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 100,
		Burst:             10,
		WaitOnLimit:       true,
	}
}

// RateLimitBehavior specifies how to handle an empty bucket.
type RateLimitBehavior int

const (
	// RateLimitWait waits for a token to become available (default).
	RateLimitWait RateLimitBehavior = iota
	// RateLimitFailFast immediately returns ErrRateLimited.
	RateLimitFailFast
)

// NewRateLimitConfigWithBehavior creates a rate limit config with specified behavior.
func NewRateLimitConfigWithBehavior(rps float64, burst int, behavior RateLimitBehavior) RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: rps,
		Burst:             burst,
		WaitOnLimit:       behavior == RateLimitWait,
	}
}

// RateLimiterStats provides visibility into one bucket.
type RateLimiterStats struct {
	// Limit is the maximum rate per second.
	Limit float64
	// Burst is the maximum burst size.
	Burst int
	// TokensAvailable is the current number of tokens.
	TokensAvailable float64
}

// RateLimiter is an in-process token bucket limiter, optionally one bucket
// per key.
type RateLimiter struct {
	cfg     RateLimitConfig
	metrics *metrics

	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
}

// NewRateLimiter creates a limiter from cfg.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	return newRateLimiter(cfg, nil)
}

func newRateLimiter(cfg RateLimitConfig, m *metrics) *RateLimiter {
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &RateLimiter{
		cfg:      cfg,
		metrics:  m,
		limiters: make(map[string]*rate.Limiter),
	}
}

// RateLimit returns a middleware backed by a new RateLimiter. A config with a
// non-positive rate disables the layer.
//
// Example:
//
//	client, err := httpclient.New(baseURL,
//	    httpclient.WithMiddleware(httpclient.RateLimit(httpclient.RateLimitConfig{
//	        RequestsPerSecond: 50,
//	        Burst:             5,
//	        KeyFunc:           httpclient.KeyByOperation(),
//	    })),
//	)
func RateLimit(cfg RateLimitConfig) Middleware {
	if cfg.RequestsPerSecond <= 0 {
		return nil
	}
	return NewRateLimiter(cfg).Middleware()
}

// Middleware returns the limiter as a pipeline layer.
func (l *RateLimiter) Middleware() Middleware {
	return func(next Sender) Sender {
		return SenderFunc(func(ctx context.Context, req *Request) (*Response, error) {
			if err := l.acquire(ctx, l.key(req)); err != nil {
				if errors.Is(err, ErrRateLimited) {
					l.metrics.recordRejection(ctx, ErrorTypeRateLimited, requestAttributes(req))
				}
				return nil, transportErr(req, err)
			}
			return next.Send(ctx, req)
		})
	}
}

func (l *RateLimiter) key(req *Request) string {
	if l.cfg.KeyFunc == nil {
		return ""
	}
	return l.cfg.KeyFunc(req)
}

func (l *RateLimiter) acquire(ctx context.Context, key string) error {
	limiter := l.getOrCreate(key)

	if !l.cfg.WaitOnLimit {
		if !limiter.Allow() {
			return ErrRateLimited
		}
		return nil
	}

	if err := limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// The wait would outlast the deadline.
		return errors.Join(ErrRateLimited, err)
	}
	return nil
}

// getOrCreate returns the limiter for key, creating one if needed.
func (l *RateLimiter) getOrCreate(key string) *rate.Limiter {
	l.mu.RLock()
	if limiter, ok := l.limiters[key]; ok {
		l.mu.RUnlock()
		return limiter
	}
	l.mu.RUnlock()

	l.mu.Lock()
	defer l.mu.Unlock()

	// Double-check after acquiring write lock
	if limiter, ok := l.limiters[key]; ok {
		return limiter
	}

	limiter := rate.NewLimiter(rate.Limit(l.cfg.RequestsPerSecond), l.cfg.Burst)
	l.limiters[key] = limiter
	return limiter
}

// Stats returns the state of the bucket for key ("" without a KeyFunc).
func (l *RateLimiter) Stats(key string) RateLimiterStats {
	limiter := l.getOrCreate(key)
	return RateLimiterStats{
		Limit:           float64(limiter.Limit()),
		Burst:           limiter.Burst(),
		TokensAvailable: limiter.Tokens(),
	}
}

// Reserve takes n tokens from the bucket for key without blocking and
// returns how long to wait before using them, or -1 if n exceeds Burst.
func (l *RateLimiter) Reserve(key string, n int) time.Duration {
	r := l.getOrCreate(key).ReserveN(time.Now(), n)
	if !r.OK() {
		return -1
	}
	return r.Delay()
}
