package httpclient

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RetryConfig controls the Retry layer. Intervals grow exponentially from
// InitialInterval by Multiplier, capped at MaxInterval, each randomized by
// ±JitterFactor. The loop stops after MaxRetries re-sends or once
// MaxElapsedTime has passed since the first attempt, whichever comes first.
//
//	cfg := httpclient.DefaultRetryConfig()
//	cfg.MaxRetries = 5
//	client, _ := httpclient.New(baseURL, httpclient.WithRetryConfig(cfg))
type RetryConfig struct {
	// MaxRetries counts re-sends; the first attempt is not included.
	// Zero disables the layer.
	MaxRetries uint

	InitialInterval time.Duration
	MaxInterval     time.Duration

	// MaxElapsedTime bounds the whole sequence. Zero means only MaxRetries
	// applies.
	MaxElapsedTime time.Duration

	Multiplier float64

	// JitterFactor is in [0, 1]; 0.5 turns a 1s interval into 0.5s-1.5s.
	JitterFactor float64

	// Classifier decides whether an outcome is retried. Nil means
	// DefaultClassifier.
	Classifier RetryClassifier

	// NewBackOff replaces the exponential schedule built from the fields
	// above. It is called once per request.
	NewBackOff BackOffFactory

	// RetryNonIdempotent allows retrying POST and PATCH. Operations
	// declared WithIdempotent are always eligible.
	RetryNonIdempotent bool

	// RespectRetryAfter waits for the server's Retry-After seconds on 429
	// and 503, capped at MaxInterval.
	RespectRetryAfter bool
}

// Defaults used by DefaultRetryConfig.
const (
	DefaultMaxRetries      = 3
	DefaultInitialInterval = 500 * time.Millisecond
	DefaultMaxInterval     = 30 * time.Second
	DefaultMaxElapsedTime  = 2 * time.Minute
	DefaultMultiplier      = 2.0
	DefaultJitterFactor    = 0.5
)

// DefaultRetryConfig retries three times (500ms, 1s, 2s before jitter)
// within two minutes.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        DefaultMaxRetries,
		InitialInterval:   DefaultInitialInterval,
		MaxInterval:       DefaultMaxInterval,
		MaxElapsedTime:    DefaultMaxElapsedTime,
		Multiplier:        DefaultMultiplier,
		JitterFactor:      DefaultJitterFactor,
		RespectRetryAfter: true,
	}
}

// AggressiveRetryConfig retries five times from 200ms within five minutes.
// Meant for idempotent calls that must go through; it multiplies load on a
// struggling upstream.
func AggressiveRetryConfig() RetryConfig {
	cfg := DefaultRetryConfig()
	cfg.MaxRetries = 5
	cfg.InitialInterval = 200 * time.Millisecond
	cfg.MaxInterval = time.Minute
	cfg.MaxElapsedTime = 5 * time.Minute
	return cfg
}

// ConservativeRetryConfig retries twice from 1s within thirty seconds, for
// rate-limited or expensive upstreams.
func ConservativeRetryConfig() RetryConfig {
	cfg := DefaultRetryConfig()
	cfg.MaxRetries = 2
	cfg.InitialInterval = time.Second
	cfg.MaxInterval = 10 * time.Second
	cfg.MaxElapsedTime = 30 * time.Second
	return cfg
}

// NoRetryConfig disables retries. JitterFactor is -1 so the value can be
// told apart from an unset RetryConfig.
func NoRetryConfig() RetryConfig {
	return RetryConfig{JitterFactor: -1}
}

// IsEnabled reports whether the config performs any retries.
func (c RetryConfig) IsEnabled() bool {
	return c.MaxRetries > 0
}

// Retry re-sends a request while the configured classifier marks the
// outcome retryable, waiting per the backoff schedule between attempts.
//
// Only idempotent requests are retried unless RetryNonIdempotent is set.
// When the budget runs out on a retryable status, the last response is
// returned so the decoder reports it as a *StatusError. Cancelling ctx stops
// the loop during the wait.
//
// A config with MaxRetries == 0 disables the layer.
func Retry(cfg RetryConfig) Middleware {
	return newRetryMiddleware(cfg, nil)
}

func newRetryMiddleware(cfg RetryConfig, m *metrics) Middleware {
	if !cfg.IsEnabled() {
		return nil
	}
	if cfg.Classifier == nil {
		cfg.Classifier = DefaultClassifier
	}
	return func(next Sender) Sender {
		return &retrySender{next: next, cfg: cfg, metrics: m}
	}
}

type retrySender struct {
	next    Sender
	cfg     RetryConfig
	metrics *metrics
}

func (s *retrySender) Send(ctx context.Context, req *Request) (*Response, error) {
	if !s.eligible(req) {
		return s.next.Send(ctx, req)
	}

	span := trace.SpanFromContext(ctx)
	attrs := requestAttributes(req)
	logger := zerolog.Ctx(ctx)

	var (
		attempt   int
		lastResp  *Response
		startTime = time.Now()
	)

	opts := []backoff.RetryOption{
		backoff.WithBackOff(s.backOff()),
		backoff.WithMaxTries(s.cfg.MaxRetries + 1),
	}
	if s.cfg.MaxElapsedTime > 0 {
		opts = append(opts, backoff.WithMaxElapsedTime(s.cfg.MaxElapsedTime))
	}
	opts = append(opts, backoff.WithNotify(func(err error, next time.Duration) {
		recordRetryEvent(span, attempt, err, next)
		s.metrics.recordRetryAttempt(ctx, attrs, attempt)
		logger.Debug().
			Str("operation", req.OperationName()).
			Int("attempt", attempt).
			Dur("delay", next).
			Err(err).
			Msg("retrying request")
	}))

	resp, err := backoff.Retry(ctx, func() (*Response, error) {
		attempt++
		attemptReq := req.Clone()
		AttemptKey.Set(&attemptReq.Extensions, attempt)

		resp, err := s.next.Send(ctx, attemptReq)
		if !s.cfg.Classifier(resp, err) {
			if err != nil {
				return nil, backoff.Permanent(err)
			}
			return resp, nil
		}

		if err != nil {
			lastResp = nil
			return nil, err
		}
		lastResp = resp
		if wait := s.retryAfter(resp); wait > 0 {
			return nil, backoff.RetryAfter(wait)
		}
		return nil, &retryableStatusError{StatusCode: resp.StatusCode}
	}, opts...)

	if attempt > 1 {
		span.SetAttributes(
			attribute.Int("http.retry_count", attempt-1),
			attribute.Bool("http.retry_success", err == nil),
		)
	}
	s.metrics.recordRetryDuration(ctx, attrs, time.Since(startTime))

	if err == nil {
		return resp, nil
	}
	if attempt > 1 {
		s.metrics.recordRetryExhausted(ctx, attrs)
	}
	if ctx.Err() != nil {
		return nil, transportErr(req, errors.Join(ctx.Err(), err))
	}
	if lastResp != nil {
		return lastResp, nil
	}
	return nil, err
}

// eligible reports whether req may be sent more than once.
func (s *retrySender) eligible(req *Request) bool {
	if s.cfg.RetryNonIdempotent {
		return true
	}
	if op := req.Operation(); op != nil {
		return op.Idempotent()
	}
	return IsIdempotentMethod(req.Method)
}

func (s *retrySender) backOff() backoff.BackOff {
	if s.cfg.NewBackOff != nil {
		if b := s.cfg.NewBackOff(); b != nil {
			return b
		}
	}
	return ExponentialBackOffFromConfig(s.cfg)
}

// retryAfter returns the server-requested wait in whole seconds, or 0.
func (s *retrySender) retryAfter(resp *Response) int {
	if !s.cfg.RespectRetryAfter || resp == nil {
		return 0
	}
	if resp.StatusCode != 429 && resp.StatusCode != 503 {
		return 0
	}
	secs, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	if err != nil || secs <= 0 {
		return 0
	}
	if s.cfg.MaxInterval > 0 && time.Duration(secs)*time.Second > s.cfg.MaxInterval {
		return int(s.cfg.MaxInterval / time.Second)
	}
	return secs
}

// retryableStatusError carries a retryable status through the backoff loop.
type retryableStatusError struct {
	StatusCode int
}

func (e *retryableStatusError) Error() string {
	return "retryable status " + strconv.Itoa(e.StatusCode)
}

func recordRetryEvent(span trace.Span, attempt int, err error, nextDelay time.Duration) {
	if !span.IsRecording() {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.Int("retry.attempt", attempt),
		attribute.Int64("retry.delay_ms", nextDelay.Milliseconds()),
	}
	if err != nil {
		reason := classifyError(err)
		if reason == ErrorTypeUnknown {
			reason = truncate(err.Error(), 50)
		}
		attrs = append(attrs, attribute.String("retry.reason", reason))
	}
	span.AddEvent("http.retry", trace.WithAttributes(attrs...))
}
