package httpclient

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/http/httptrace"
	"net/url"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// internalConfig collects every Option before New assembles the Client.
type internalConfig struct {
	httpConfig Config

	// Instrumentation. The providers default to the otel globals.
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
	Propagators    propagation.TextMapPropagator
	Metrics        *metrics // nil when disabled or the meter failed
	DisableTracing bool
	DisableMetrics bool

	Filters           []Filter
	SpanNameFormatter SpanNameFormatter
	SpanStartOptions  []trace.SpanStartOption

	// ServiceName becomes http.client.name and the default breaker name.
	ServiceName string

	// EnableNetworkTrace feeds DNS, connect, TLS and TTFB timings into spans,
	// metrics and Response.TraceInfo. ClientTrace replaces it when set.
	EnableNetworkTrace bool
	ClientTrace        func(context.Context) *httptrace.ClientTrace

	// Terminal. Transport wins over RoundTripper, which wins over the pooled
	// transport built from httpConfig.
	TLSConfig            *tls.Config
	ProxyURL             *url.URL
	ProxyFromEnvironment bool
	RoundTripper         http.RoundTripper
	Transport            Sender

	// Logger is attached to call contexts that carry none.
	Logger  *zerolog.Logger
	Logging *LoggingConfig

	RetryConfig      RetryConfig
	BreakerConfig    *BreakerConfig
	RateLimit        *RateLimitConfig
	RedisRateLimit   *RedisRateLimitConfig
	ConcurrencyLimit *ConcurrencyConfig

	DefaultHeaders  http.Header
	EncoderOptions  []EncoderOption
	Registry        *Registry
	ErrorDecoder    ErrorDecoder
	Validator       *validator.Validate
	Middlewares     []Middleware
	FollowRedirects int
}

func newConfig(opts ...Option) *internalConfig {
	cfg := &internalConfig{
		httpConfig:     DefaultConfig(),
		TracerProvider: otel.GetTracerProvider(),
		MeterProvider:  otel.GetMeterProvider(),
		RetryConfig:    NoRetryConfig(),
		DefaultHeaders: http.Header{"User-Agent": []string{DefaultUserAgent}},

		EnableNetworkTrace:   true,
		ProxyFromEnvironment: true,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.Propagators == nil {
		cfg.Propagators = otel.GetTextMapPropagator()
	}

	// A meter that fails to create instruments leaves metrics off.
	if !cfg.DisableMetrics {
		cfg.Metrics, _ = newMetrics(cfg.MeterProvider.Meter(scope))
	}

	return cfg
}

// baseAttributes are added to every span and metric.
func (cfg *internalConfig) baseAttributes() []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 1)
	if cfg.ServiceName != "" {
		attrs = append(attrs, attribute.String("http.client.name", cfg.ServiceName))
	}
	return attrs
}

// terminal returns the sender at the bottom of the chain.
func (cfg *internalConfig) terminal() Sender {
	if cfg.Transport != nil {
		return cfg.Transport
	}
	var topts []TransportOption
	if cfg.RoundTripper != nil {
		topts = append(topts, WithTransportRoundTripper(cfg.RoundTripper))
	}
	if cfg.ClientTrace != nil {
		topts = append(topts, WithTransportClientTrace(cfg.ClientTrace))
	} else {
		topts = append(topts, WithTransportNetworkTrace(cfg.EnableNetworkTrace))
	}
	return newHTTPTransport(cfg.httpConfig, cfg.TLSConfig, cfg.ProxyURL, cfg.ProxyFromEnvironment, cfg.Metrics, topts...)
}

// middlewares returns the client's layers, outermost first:
//
//	Tracing → Metrics → Logging → CircuitBreaker → Retry → RateLimit →
//	RedisRateLimit → ConcurrencyLimit → user middlewares →
//	FollowRedirects → Timeout
func (cfg *internalConfig) middlewares() ([]Middleware, error) {
	var mws []Middleware

	if !cfg.DisableTracing {
		mws = append(mws, newTracingMiddleware(&tracingConfig{
			provider:   cfg.TracerProvider,
			propagator: cfg.Propagators,
			filters:    cfg.Filters,
			spanName:   cfg.SpanNameFormatter,
			spanOpts:   cfg.SpanStartOptions,
			base:       cfg.baseAttributes(),
		}))
	}
	if cfg.Metrics != nil {
		mws = append(mws, newMetricsMiddleware(cfg.Metrics, cfg.baseAttributes()))
	}
	if cfg.Logging != nil {
		mws = append(mws, Logging(*cfg.Logging))
	}

	if cfg.BreakerConfig != nil {
		bc := *cfg.BreakerConfig
		if bc.Name == "" {
			bc.Name = cfg.ServiceName
		}
		cb, err := newCircuitBreaker(bc, cfg.Metrics)
		if err != nil {
			if cb == nil {
				return nil, err
			}
			if cfg.Logger != nil {
				cfg.Logger.Warn().Err(err).Str("breaker", bc.Name).
					Msg("distributed breaker store unavailable, using local state")
			}
		}
		mws = append(mws, newBreakerMiddleware(cb, bc.Classifier, cfg.Metrics))
	}

	mws = append(mws, newRetryMiddleware(cfg.RetryConfig, cfg.Metrics))

	if cfg.RateLimit != nil && cfg.RateLimit.RequestsPerSecond > 0 {
		mws = append(mws, newRateLimiter(*cfg.RateLimit, cfg.Metrics).Middleware())
	}
	if cfg.RedisRateLimit != nil {
		mws = append(mws, newRedisRateLimiter(*cfg.RedisRateLimit, cfg.Metrics))
	}
	if cfg.ConcurrencyLimit != nil {
		mws = append(mws, newConcurrencyLimit(*cfg.ConcurrencyLimit, cfg.Metrics))
	}

	mws = append(mws, cfg.Middlewares...)

	if cfg.FollowRedirects > 0 {
		mws = append(mws, FollowRedirects(cfg.FollowRedirects))
	}
	mws = append(mws, Timeout(cfg.httpConfig.Timeout))

	return mws, nil
}

// Option configures the HTTP client.
type Option func(*internalConfig)

// WithConfig sets pool and timeout settings, usually one of the presets
// tweaked. Config.Timeout bounds each attempt; a retry starts a fresh one.
//
//	cfg := httpclient.HighThroughputConfig()
//	cfg.Timeout = 10 * time.Second
//	client, err := httpclient.New(baseURL, httpclient.WithConfig(cfg))
func WithConfig(c Config) Option {
	return func(cfg *internalConfig) {
		cfg.httpConfig = c
	}
}

// WithServiceName names the client, e.g. "billing-api". The name is the
// http.client.name attribute and the default circuit breaker name.
func WithServiceName(name string) Option {
	return func(cfg *internalConfig) {
		cfg.ServiceName = name
	}
}

// WithTracerProvider overrides otel.GetTracerProvider().
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(cfg *internalConfig) {
		cfg.TracerProvider = tp
	}
}

// WithMeterProvider overrides otel.GetMeterProvider().
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(cfg *internalConfig) {
		cfg.MeterProvider = mp
	}
}

// WithDisableTracing removes the client span layer.
func WithDisableTracing() Option {
	return func(cfg *internalConfig) {
		cfg.DisableTracing = true
	}
}

// WithDisableMetrics removes the OTel metric layer and transport timing metrics.
func WithDisableMetrics() Option {
	return func(cfg *internalConfig) {
		cfg.DisableMetrics = true
	}
}

// WithTLSConfig sets the TLS settings of the pooled transport, e.g. client
// certificates for mTLS.
func WithTLSConfig(tlsCfg *tls.Config) Option {
	return func(cfg *internalConfig) {
		cfg.TLSConfig = tlsCfg
	}
}

// WithProxyURL routes every request through proxyURL, ignoring the
// environment.
func WithProxyURL(proxyURL *url.URL) Option {
	return func(cfg *internalConfig) {
		cfg.ProxyURL = proxyURL
	}
}

// WithProxyFromEnvironment toggles HTTP_PROXY, HTTPS_PROXY and NO_PROXY
// support. On by default.
func WithProxyFromEnvironment(enabled bool) Option {
	return func(cfg *internalConfig) {
		cfg.ProxyFromEnvironment = enabled
	}
}

// WithDisableNetworkTrace turns off per-phase network timing.
func WithDisableNetworkTrace() Option {
	return func(cfg *internalConfig) {
		cfg.EnableNetworkTrace = false
	}
}

// WithClientTrace installs a caller-provided httptrace.ClientTrace in place
// of the built-in network timing.
func WithClientTrace(f func(context.Context) *httptrace.ClientTrace) Option {
	return func(cfg *internalConfig) {
		cfg.ClientTrace = f
	}
}

// WithRoundTripper sends requests through rt instead of the pooled
// transport built from Config. Config pool settings are then ignored.
func WithRoundTripper(rt http.RoundTripper) Option {
	return func(cfg *internalConfig) {
		cfg.RoundTripper = rt
	}
}

// WithTransport replaces the terminal sender. Every layer above it still
// runs, which makes it the hook for StubTransport in tests.
//
// Example:
//
//	stub := httpclient.NewStubTransport().StubResponse(200, `{"id":42}`)
//	client, err := httpclient.New(baseURL, httpclient.WithTransport(stub))
func WithTransport(s Sender) Option {
	return func(cfg *internalConfig) {
		cfg.Transport = s
	}
}

// WithFilter adds a filter to determine which requests should be traced.
// If any filter returns false, the request is not traced.
//
// Example - Skip health checks:
//
//	httpclient.WithFilter(func(r *httpclient.Request) bool {
//	    return r.OperationName() != "Health"
//	})
func WithFilter(f Filter) Option {
	return func(cfg *internalConfig) {
		cfg.Filters = append(cfg.Filters, f)
	}
}

// WithSpanNameFormatter sets a custom function to generate span names.
// The default uses the operation name, or "HTTP {method}" for ad-hoc requests.
func WithSpanNameFormatter(f SpanNameFormatter) Option {
	return func(cfg *internalConfig) {
		cfg.SpanNameFormatter = f
	}
}

// WithSpanOptions adds trace.SpanStartOption to each new span.
func WithSpanOptions(opts ...trace.SpanStartOption) Option {
	return func(cfg *internalConfig) {
		cfg.SpanStartOptions = append(cfg.SpanStartOptions, opts...)
	}
}

// WithPropagators sets the propagator used to inject trace context into
// outgoing headers. By default the global propagator is used, which injects
// nothing until the application installs one.
//
// Example:
//
//	httpclient.WithPropagators(propagation.NewCompositeTextMapPropagator(
//	    propagation.TraceContext{},
//	    propagation.Baggage{},
//	))
func WithPropagators(p propagation.TextMapPropagator) Option {
	return func(cfg *internalConfig) {
		cfg.Propagators = p
	}
}

// WithLogger attaches logger to calls whose context has none. Retry,
// rate limit and breaker events are logged through it.
func WithLogger(logger zerolog.Logger) Option {
	return func(cfg *internalConfig) {
		cfg.Logger = &logger
	}
}

// WithLogging adds the Logging middleware.
func WithLogging(lc LoggingConfig) Option {
	return func(cfg *internalConfig) {
		cfg.Logging = &lc
	}
}

// WithRetryConfig enables retries.
//
// Example:
//
//	client, err := httpclient.New(baseURL,
//	    httpclient.WithRetryConfig(httpclient.AggressiveRetryConfig()),
//	)
func WithRetryConfig(rc RetryConfig) Option {
	return func(cfg *internalConfig) {
		cfg.RetryConfig = rc
	}
}

// WithBreakerConfig enables a circuit breaker around retries.
func WithBreakerConfig(bc BreakerConfig) Option {
	return func(cfg *internalConfig) {
		cfg.BreakerConfig = &bc
	}
}

// WithRateLimit enables a local token bucket limiter.
func WithRateLimit(rc RateLimitConfig) Option {
	return func(cfg *internalConfig) {
		cfg.RateLimit = &rc
	}
}

// WithRedisRateLimit enables a limiter shared across instances through Redis.
func WithRedisRateLimit(rc RedisRateLimitConfig) Option {
	return func(cfg *internalConfig) {
		cfg.RedisRateLimit = &rc
	}
}

// WithConcurrencyLimit caps the number of in-flight requests.
func WithConcurrencyLimit(cc ConcurrencyConfig) Option {
	return func(cfg *internalConfig) {
		cfg.ConcurrencyLimit = &cc
	}
}

// WithFollowRedirects follows up to maxHops redirects. By default 3xx
// responses are returned to the caller as-is.
func WithFollowRedirects(maxHops int) Option {
	return func(cfg *internalConfig) {
		cfg.FollowRedirects = maxHops
	}
}

// WithMiddleware appends middlewares. They run in declared order, inside
// the built-in resilience layers and outside the per-attempt timeout, so
// auth middleware sees every retry.
func WithMiddleware(mws ...Middleware) Option {
	return func(cfg *internalConfig) {
		cfg.Middlewares = append(cfg.Middlewares, mws...)
	}
}

// WithDefaultHeader adds a header sent with every request. Operation
// headers and header parameters replace it.
func WithDefaultHeader(key, value string) Option {
	return func(cfg *internalConfig) {
		cfg.DefaultHeaders.Add(key, value)
	}
}

// WithUserAgent replaces the default User-Agent.
func WithUserAgent(ua string) Option {
	return func(cfg *internalConfig) {
		cfg.DefaultHeaders.Set("User-Agent", ua)
	}
}

// WithEncoderOptions configures the query/form encoder.
func WithEncoderOptions(opts ...EncoderOption) Option {
	return func(cfg *internalConfig) {
		cfg.EncoderOptions = append(cfg.EncoderOptions, opts...)
	}
}

// WithRegistry makes CallNamed resolve operations from r.
func WithRegistry(r *Registry) Option {
	return func(cfg *internalConfig) {
		cfg.Registry = r
	}
}

// WithErrorDecoder installs a hook that maps non-2xx responses to errors.
// Returning nil falls back to *StatusError.
func WithErrorDecoder(fn ErrorDecoder) Option {
	return func(cfg *internalConfig) {
		cfg.ErrorDecoder = fn
	}
}

// WithResponseValidation validates decoded values with v. A nil v uses
// NewValidator().
func WithResponseValidation(v *validator.Validate) Option {
	return func(cfg *internalConfig) {
		if v == nil {
			v = NewValidator()
		}
		cfg.Validator = v
	}
}
