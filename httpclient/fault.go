package httpclient

import (
	"context"
	"math/rand/v2"
	"net"
	"net/http"
	"strconv"
	"time"
)

// FaultConfig configures fault injection for exercising resilience layers in
// development and tests.
//
// Example usage:
//
//	client, err := httpclient.New(baseURL,
//	    httpclient.WithMiddleware(httpclient.FaultInjection(httpclient.FaultConfig{
//	        Latency:   200 * time.Millisecond,
//	        ErrorRate: 0.1,
//	    })),
//	)
type FaultConfig struct {
	// Latency adds a fixed delay to every request.
	// Default: 0
	Latency time.Duration

	// LatencyJitter adds a random delay in [0, LatencyJitter) on top of Latency.
	// Default: 0
	LatencyJitter time.Duration

	// ErrorRate is the probability (0.0-1.0) of failing with a simulated
	// connection error wrapping ErrFaultInjected.
	ErrorRate float64

	// TimeoutRate is the probability (0.0-1.0) of blocking until the context
	// ends, as a hung upstream would.
	TimeoutRate float64

	// StatusRate is the probability (0.0-1.0) of answering with Status
	// instead of calling the next layer.
	StatusRate float64

	// Status is the injected status code.
	// Default: 503
	Status int

	// Rand overrides the random source, for deterministic tests.
	Rand func() float64
}

// Delay returns the total delay to apply, including jitter.
func (c FaultConfig) Delay() time.Duration {
	delay := c.Latency
	if c.LatencyJitter > 0 {
		delay += time.Duration(rand.Int64N(int64(c.LatencyJitter))) //nolint:gosec
	}
	return delay
}

func (c FaultConfig) roll(p float64) bool {
	if p <= 0 {
		return false
	}
	if c.Rand != nil {
		return c.Rand() < p
	}
	return rand.Float64() < p //nolint:gosec
}

// FaultInjection simulates latency, hangs, connection errors and error
// statuses. The checks run in that order: timeout, error, status, then delay.
func FaultInjection(cfg FaultConfig) Middleware {
	if cfg.Status == 0 {
		cfg.Status = http.StatusServiceUnavailable
	}
	return func(next Sender) Sender {
		return SenderFunc(func(ctx context.Context, req *Request) (*Response, error) {
			if cfg.roll(cfg.TimeoutRate) {
				<-ctx.Done()
				return nil, transportErr(req, ctx.Err())
			}

			if cfg.roll(cfg.ErrorRate) {
				return nil, transportErr(req, &net.OpError{
					Op:  "dial",
					Net: "tcp",
					Err: ErrFaultInjected,
				})
			}

			if cfg.roll(cfg.StatusRate) {
				return &Response{
					StatusCode: cfg.Status,
					Status:     strconv.Itoa(cfg.Status) + " " + http.StatusText(cfg.Status),
					Header:     http.Header{"X-Fault-Injected": []string{"true"}},
					Body:       []byte(http.StatusText(cfg.Status)),
					Request:    req,
				}, nil
			}

			if delay := cfg.Delay(); delay > 0 {
				timer := time.NewTimer(delay)
				select {
				case <-timer.C:
				case <-ctx.Done():
					timer.Stop()
					return nil, transportErr(req, ctx.Err())
				}
			}

			return next.Send(ctx, req)
		})
	}
}
