package httpclient

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinearBackOff(t *testing.T) {
	b := &LinearBackOff{
		InitialInterval: 100 * time.Millisecond,
		Increment:       50 * time.Millisecond,
		MaxInterval:     200 * time.Millisecond,
	}

	got := []time.Duration{b.NextBackOff(), b.NextBackOff(), b.NextBackOff(), b.NextBackOff()}
	assert.Equal(t, []time.Duration{
		100 * time.Millisecond,
		150 * time.Millisecond,
		200 * time.Millisecond,
		200 * time.Millisecond,
	}, got)

	b.Reset()
	assert.Equal(t, 100*time.Millisecond, b.NextBackOff())
}

func TestLinearBackOff_Jitter(t *testing.T) {
	b := NewLinearBackOff()
	for i := 0; i < 50; i++ {
		b.Reset()
		d := b.NextBackOff()
		assert.GreaterOrEqual(t, d, 250*time.Millisecond)
		assert.LessOrEqual(t, d, 750*time.Millisecond)
	}
}

func TestDecorrelatedJitterBackOff(t *testing.T) {
	b := &DecorrelatedJitterBackOff{Base: 10 * time.Millisecond, Cap: 100 * time.Millisecond}

	for i := 0; i < 100; i++ {
		d := b.NextBackOff()
		assert.GreaterOrEqual(t, d, 10*time.Millisecond)
		assert.LessOrEqual(t, d, 100*time.Millisecond)
	}

	b.Reset()
	first := b.NextBackOff()
	assert.LessOrEqual(t, first, 30*time.Millisecond)
}

func TestConstantBackOffWithJitter(t *testing.T) {
	tests := []struct {
		name   string
		jitter float64
		lo, hi time.Duration
	}{
		{name: "given no jitter, then exact interval", jitter: 0, lo: time.Second, hi: time.Second},
		{name: "given 20% jitter, then within bounds", jitter: 0.2, lo: 800 * time.Millisecond, hi: 1200 * time.Millisecond},
		{name: "given jitter above 1, then clamped", jitter: 5, lo: 0, hi: 2 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &ConstantBackOffWithJitter{Interval: time.Second, JitterFactor: tt.jitter}
			for i := 0; i < 50; i++ {
				d := b.NextBackOff()
				assert.GreaterOrEqual(t, d, tt.lo)
				assert.LessOrEqual(t, d, tt.hi)
			}
		})
	}
}

func TestTieredRetryBackOff(t *testing.T) {
	b := &TieredRetryBackOff{
		Tiers: []RetryTier{
			{MaxRetries: 2, Delay: 10 * time.Millisecond},
			{MaxRetries: 1, Delay: 100 * time.Millisecond},
		},
		MaxDelay: 300 * time.Millisecond,
	}

	var got []time.Duration
	var tiers []int
	for i := 0; i < 6; i++ {
		got = append(got, b.NextBackOff())
		tiers = append(tiers, b.CurrentTier())
	}

	assert.Equal(t, []time.Duration{
		10 * time.Millisecond,
		10 * time.Millisecond,
		100 * time.Millisecond,
		200 * time.Millisecond,
		300 * time.Millisecond,
		300 * time.Millisecond,
	}, got)
	assert.Equal(t, []int{1, 1, 2, 3, 3, 3}, tiers)
}

func TestNewTieredRetryBackOff_DefaultJitter(t *testing.T) {
	tiers := []RetryTier{{MaxRetries: 1, Delay: time.Second}}
	b := NewTieredRetryBackOff(tiers, time.Minute, 0)

	assert.InDelta(t, DefaultJitterFactor, b.JitterFactor, 0.001)
	tiers[0].Delay = time.Hour
	assert.Equal(t, time.Second, b.Tiers[0].Delay)
}

func TestExponentialBackOffFromConfig(t *testing.T) {
	t.Run("given default config, then copies fields", func(t *testing.T) {
		b := ExponentialBackOffFromConfig(DefaultRetryConfig())

		assert.Equal(t, DefaultInitialInterval, b.InitialInterval)
		assert.Equal(t, DefaultMaxInterval, b.MaxInterval)
		assert.InDelta(t, DefaultMultiplier, b.Multiplier, 0.001)
		assert.InDelta(t, DefaultJitterFactor, b.RandomizationFactor, 0.001)
	})

	t.Run("given zero initial interval, then retries immediately", func(t *testing.T) {
		b := ExponentialBackOffFromConfig(RetryConfig{MaxRetries: 3})
		for i := 0; i < 3; i++ {
			require.Equal(t, time.Duration(0), b.NextBackOff())
		}
	})

	t.Run("given negative jitter, then uses default", func(t *testing.T) {
		b := ExponentialBackOffFromConfig(NoRetryConfig())
		assert.InDelta(t, DefaultJitterFactor, b.RandomizationFactor, 0.001)
	})
}
