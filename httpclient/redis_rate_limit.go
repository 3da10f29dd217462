package httpclient

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisRateLimitConfig configures a rate limiter shared by every process
// that points at the same Redis.
type RedisRateLimitConfig struct {
	// Client is the Redis connection. Required.
	Client redis.UniversalClient

	// RequestsPerSecond is the sustained rate across all processes.
	RequestsPerSecond float64

	// Burst is the bucket capacity.
	// Default: 1
	Burst int

	// KeyPrefix namespaces the bucket keys.
	// Default: "courier:ratelimit:"
	KeyPrefix string

	// KeyFunc gives each key its own bucket. Nil uses "global".
	KeyFunc KeyFunc

	// WaitOnLimit sleeps for the wait the script reports and tries again
	// instead of failing with ErrRateLimited.
	WaitOnLimit bool

	// FailClosed rejects calls when Redis is unreachable. By default the
	// limiter fails open and lets the call through.
	FailClosed bool

	// TTL expires idle buckets.
	// Default: 60s
	TTL time.Duration
}

// tokenBucketScript refills a bucket from elapsed time and takes one token.
// It returns {allowed, wait_ms}: wait_ms is the time until the next token
// when denied. Time comes from the Redis server so every process measures
// the bucket on one clock.
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local clock = redis.call('TIME')
local now = tonumber(clock[1]) * 1000 + math.floor(tonumber(clock[2]) / 1000)

local data = redis.call('HMGET', key, 'tokens', 'last_update')
local tokens = tonumber(data[1])
local last_update = tonumber(data[2])

if tokens == nil then
    tokens = burst
    last_update = now
end

local elapsed_ms = math.max(0, now - last_update)
tokens = math.min(burst, tokens + (elapsed_ms / 1000.0) * rate)

local allowed = 0
local wait_ms = 0
if tokens >= 1 then
    tokens = tokens - 1
    allowed = 1
else
    wait_ms = math.ceil(((1 - tokens) / rate) * 1000)
end

redis.call('HSET', key, 'tokens', tokens, 'last_update', now)
redis.call('EXPIRE', key, ttl)
return {allowed, wait_ms}
`)

// RedisRateLimit returns a distributed token bucket middleware.
//
// Example:
//
//	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	mw := httpclient.RedisRateLimit(httpclient.RedisRateLimitConfig{
//	    Client:            rdb,
//	    RequestsPerSecond: 20,
//	    Burst:             5,
//	    KeyFunc:           httpclient.KeyByHost(),
//	})
func RedisRateLimit(cfg RedisRateLimitConfig) Middleware {
	return newRedisRateLimiter(cfg, nil)
}

func newRedisRateLimiter(cfg RedisRateLimitConfig, m *metrics) Middleware {
	if cfg.Client == nil || cfg.RequestsPerSecond <= 0 {
		return nil
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "courier:ratelimit:"
	}
	if cfg.TTL < time.Second {
		cfg.TTL = time.Minute
	}

	return func(next Sender) Sender {
		return SenderFunc(func(ctx context.Context, req *Request) (*Response, error) {
			key := "global"
			if cfg.KeyFunc != nil {
				key = cfg.KeyFunc(req)
			}
			key = cfg.KeyPrefix + key

			for {
				allowed, wait, err := takeToken(ctx, cfg, key)
				if err != nil {
					if ctx.Err() != nil {
						return nil, transportErr(req, ctx.Err())
					}
					if cfg.FailClosed {
						return nil, transportErr(req, errors.Join(ErrRateLimited, err))
					}
					zerolog.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("rate limiter unavailable, failing open")
					return next.Send(ctx, req)
				}
				if allowed {
					return next.Send(ctx, req)
				}

				m.recordRejection(ctx, ErrorTypeRateLimited, requestAttributes(req))
				if !cfg.WaitOnLimit {
					return nil, transportErr(req, ErrRateLimited)
				}

				timer := time.NewTimer(wait)
				select {
				case <-ctx.Done():
					timer.Stop()
					return nil, transportErr(req, ctx.Err())
				case <-timer.C:
				}
			}
		})
	}
}

func takeToken(ctx context.Context, cfg RedisRateLimitConfig, key string) (bool, time.Duration, error) {
	res, err := tokenBucketScript.Run(ctx, cfg.Client, []string{key},
		cfg.RequestsPerSecond,
		cfg.Burst,
		int(cfg.TTL/time.Second),
	).Int64Slice()
	if err != nil {
		return false, 0, err
	}
	if len(res) != 2 {
		return false, 0, errors.New("unexpected rate limiter reply")
	}
	return res[0] == 1, time.Duration(res[1]) * time.Millisecond, nil
}
