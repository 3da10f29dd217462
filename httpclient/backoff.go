package httpclient

import (
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v5"
)

var (
	_ backoff.BackOff = (*LinearBackOff)(nil)
	_ backoff.BackOff = (*DecorrelatedJitterBackOff)(nil)
	_ backoff.BackOff = (*ConstantBackOffWithJitter)(nil)
	_ backoff.BackOff = (*TieredRetryBackOff)(nil)
)

// BackOffFactory returns a fresh schedule. Retry calls it once per request,
// so stateful schedules are never shared between concurrent calls.
//
// Example:
//
//	cfg := httpclient.DefaultRetryConfig()
//	cfg.NewBackOff = func() backoff.BackOff {
//	    return httpclient.NewDecorrelatedJitterBackOff()
//	}
type BackOffFactory func() backoff.BackOff

// LinearBackOff grows the interval by a fixed increment: Initial,
// Initial+Increment, Initial+2×Increment, ... capped at MaxInterval, each
// randomized by ±JitterFactor.
//
// Example with Initial=1s, Increment=500ms, JitterFactor=0.3:
//
//	Retry 1: 1.0s ± 0.3s
//	Retry 2: 1.5s ± 0.45s
//	Retry 3: 2.0s ± 0.6s
type LinearBackOff struct {
	// Default: 500ms
	InitialInterval time.Duration
	// Default: 500ms
	Increment time.Duration
	// Default: 30s
	MaxInterval time.Duration
	// Default: 0.5
	JitterFactor float64

	attempt int
}

// NewLinearBackOff creates a LinearBackOff with the defaults above.
func NewLinearBackOff() *LinearBackOff {
	return &LinearBackOff{
		InitialInterval: 500 * time.Millisecond,
		Increment:       500 * time.Millisecond,
		MaxInterval:     30 * time.Second,
		JitterFactor:    DefaultJitterFactor,
	}
}

// Reset implements backoff.BackOff.
func (b *LinearBackOff) Reset() {
	b.attempt = 0
}

// NextBackOff implements backoff.BackOff.
func (b *LinearBackOff) NextBackOff() time.Duration {
	interval := b.InitialInterval + time.Duration(b.attempt)*b.Increment
	if b.MaxInterval > 0 && interval > b.MaxInterval {
		interval = b.MaxInterval
	}
	b.attempt++
	return applyJitter(interval, b.JitterFactor)
}

// DecorrelatedJitterBackOff draws each interval uniformly from
// [Base, min(Cap, previous×3)]. It spreads retries of many clients more
// evenly than plain jitter.
//
// See: https://aws.amazon.com/blogs/architecture/exponential-backoff-and-jitter/
type DecorrelatedJitterBackOff struct {
	// Default: 500ms
	Base time.Duration
	// Default: 30s
	Cap time.Duration

	sleep time.Duration
}

// NewDecorrelatedJitterBackOff creates a DecorrelatedJitterBackOff with the
// defaults above.
func NewDecorrelatedJitterBackOff() *DecorrelatedJitterBackOff {
	return &DecorrelatedJitterBackOff{
		Base: 500 * time.Millisecond,
		Cap:  30 * time.Second,
	}
}

// Reset implements backoff.BackOff.
func (b *DecorrelatedJitterBackOff) Reset() {
	b.sleep = 0
}

// NextBackOff implements backoff.BackOff.
func (b *DecorrelatedJitterBackOff) NextBackOff() time.Duration {
	prev := b.sleep
	if prev < b.Base {
		prev = b.Base
	}
	upper := min(prev*3, b.Cap)
	b.sleep = randomBetween(b.Base, upper)
	return b.sleep
}

// ConstantBackOffWithJitter waits Interval ± JitterFactor every time.
type ConstantBackOffWithJitter struct {
	// Default: 1s
	Interval time.Duration
	// Default: 0.5
	JitterFactor float64
}

// NewConstantBackOffWithJitter creates a ConstantBackOffWithJitter with the
// defaults above.
func NewConstantBackOffWithJitter() *ConstantBackOffWithJitter {
	return &ConstantBackOffWithJitter{
		Interval:     time.Second,
		JitterFactor: DefaultJitterFactor,
	}
}

// Reset implements backoff.BackOff.
func (b *ConstantBackOffWithJitter) Reset() {}

// NextBackOff implements backoff.BackOff.
func (b *ConstantBackOffWithJitter) NextBackOff() time.Duration {
	return applyJitter(b.Interval, b.JitterFactor)
}

// RetryTier is one fixed-delay phase of a TieredRetryBackOff.
type RetryTier struct {
	// MaxRetries is how many retries use Delay before the next tier.
	MaxRetries int
	// Delay before each retry in this tier, jittered.
	Delay time.Duration
}

// TieredRetryBackOff walks through fixed-delay tiers, then doubles the last
// tier's delay on each further retry up to MaxDelay.
//
// Example:
//
//	b := httpclient.NewTieredRetryBackOff([]httpclient.RetryTier{
//	    {MaxRetries: 3, Delay: 200 * time.Millisecond},
//	    {MaxRetries: 2, Delay: time.Second},
//	}, 10*time.Second, 0.2)
//
//	// Retries 1-3: ~200ms, retries 4-5: ~1s, then ~2s, ~4s, ~8s, ~10s...
type TieredRetryBackOff struct {
	Tiers        []RetryTier
	MaxDelay     time.Duration
	JitterFactor float64

	attempt int
}

// NewTieredRetryBackOff creates a TieredRetryBackOff. A non-positive
// jitterFactor uses DefaultJitterFactor.
func NewTieredRetryBackOff(tiers []RetryTier, maxDelay time.Duration, jitterFactor float64) *TieredRetryBackOff {
	if jitterFactor <= 0 {
		jitterFactor = DefaultJitterFactor
	}
	return &TieredRetryBackOff{
		Tiers:        append([]RetryTier(nil), tiers...),
		MaxDelay:     maxDelay,
		JitterFactor: jitterFactor,
	}
}

// Reset implements backoff.BackOff.
func (b *TieredRetryBackOff) Reset() {
	b.attempt = 0
}

// NextBackOff implements backoff.BackOff.
func (b *TieredRetryBackOff) NextBackOff() time.Duration {
	b.attempt++
	return applyJitter(b.delay(), b.JitterFactor)
}

func (b *TieredRetryBackOff) delay() time.Duration {
	n := b.attempt
	last := time.Second
	for _, tier := range b.Tiers {
		if n <= tier.MaxRetries {
			return tier.Delay
		}
		n -= tier.MaxRetries
		last = tier.Delay
	}

	delay := last
	for i := 0; i < n && (b.MaxDelay <= 0 || delay < b.MaxDelay); i++ {
		delay *= 2
	}
	if b.MaxDelay > 0 && delay > b.MaxDelay {
		delay = b.MaxDelay
	}
	return delay
}

// CurrentTier returns the 1-indexed tier of the last interval, or
// len(Tiers)+1 once past the fixed tiers.
func (b *TieredRetryBackOff) CurrentTier() int {
	n := b.attempt
	for i, tier := range b.Tiers {
		if n <= tier.MaxRetries {
			return i + 1
		}
		n -= tier.MaxRetries
	}
	return len(b.Tiers) + 1
}

// ExponentialBackOffFromConfig builds the default schedule of cfg. A zero
// InitialInterval retries immediately; zero MaxInterval and Multiplier keep
// the backoff package defaults. Jitter is never zero: a non-positive
// JitterFactor uses DefaultJitterFactor.
func ExponentialBackOffFromConfig(cfg RetryConfig) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialInterval
	if cfg.MaxInterval > 0 {
		b.MaxInterval = cfg.MaxInterval
	}
	if cfg.Multiplier > 0 {
		b.Multiplier = cfg.Multiplier
	}
	b.RandomizationFactor = cfg.JitterFactor
	if b.RandomizationFactor <= 0 {
		b.RandomizationFactor = DefaultJitterFactor
	}
	b.Reset()
	return b
}

// applyJitter returns a value in [interval×(1-f), interval×(1+f)], f
// clamped to [0, 1].
func applyJitter(interval time.Duration, f float64) time.Duration {
	if f <= 0 || interval <= 0 {
		return interval
	}
	f = min(f, 1)
	delta := float64(interval) * f
	return time.Duration(float64(interval) - delta + rand.Float64()*2*delta) //nolint:gosec
}

// randomBetween returns a duration in [lo, hi).
func randomBetween(lo, hi time.Duration) time.Duration {
	if lo >= hi {
		return lo
	}
	return lo + time.Duration(rand.Int64N(int64(hi-lo))) //nolint:gosec
}
