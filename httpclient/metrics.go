package httpclient

import (
	"context"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// scope is the instrumentation scope name for OpenTelemetry.
const scope = "github.com/kroma-labs/courier-go/httpclient"

// metrics holds the OpenTelemetry instruments shared by the pipeline.
// Every record method is safe on a nil receiver.
type metrics struct {
	// requestDuration measures a full call through the chain in seconds.
	requestDuration metric.Float64Histogram

	requestBodySize  metric.Int64Histogram
	responseBodySize metric.Int64Histogram

	// activeRequests tracks in-flight calls.
	activeRequests metric.Int64UpDownCounter

	// requestErrors counts failed calls by error.type.
	requestErrors metric.Int64Counter

	// Network phases, fed by the terminal transport's httptrace hooks.
	openConnections    metric.Int64UpDownCounter
	connectionDuration metric.Float64Histogram
	dnsDuration        metric.Float64Histogram
	tlsDuration        metric.Float64Histogram
	ttfb               metric.Float64Histogram

	retryAttempts  metric.Int64Counter
	retryExhausted metric.Int64Counter
	retryDuration  metric.Float64Histogram

	// rejections counts calls refused by admission control
	// (circuit open, rate limited, concurrency limit) by reason.
	rejections metric.Int64Counter

	// breakerTransitions counts circuit breaker state changes.
	breakerTransitions metric.Int64Counter
}

var (
	latencyBuckets = []float64{
		0.005, 0.01, 0.025, 0.05, 0.075, 0.1, 0.25, 0.5, 0.75, 1, 2.5, 5, 7.5, 10,
	}
	phaseBuckets = []float64{
		0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1,
	}
	sizeBuckets = []float64{
		0, 100, 1024, 10 * 1024, 100 * 1024, 1024 * 1024, 10 * 1024 * 1024,
	}
)

// newMetrics creates and registers metric instruments.
func newMetrics(meter metric.Meter) (*metrics, error) {
	m := &metrics{}
	var err error

	if m.requestDuration, err = meter.Float64Histogram(
		"http.client.request.duration",
		metric.WithDescription("Duration of HTTP client calls in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if m.requestBodySize, err = meter.Int64Histogram(
		"http.client.request.body.size",
		metric.WithDescription("Size of HTTP client request bodies in bytes"),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(sizeBuckets...),
	); err != nil {
		return nil, err
	}

	if m.responseBodySize, err = meter.Int64Histogram(
		"http.client.response.body.size",
		metric.WithDescription("Size of HTTP client response bodies in bytes"),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(sizeBuckets...),
	); err != nil {
		return nil, err
	}

	if m.activeRequests, err = meter.Int64UpDownCounter(
		"http.client.active_requests",
		metric.WithDescription("Number of active HTTP client calls"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, err
	}

	if m.requestErrors, err = meter.Int64Counter(
		"http.client.request.error",
		metric.WithDescription("Number of failed HTTP client calls"),
		metric.WithUnit("{error}"),
	); err != nil {
		return nil, err
	}

	if m.openConnections, err = meter.Int64UpDownCounter(
		"http.client.open_connections",
		metric.WithDescription("Number of HTTP connections opened"),
		metric.WithUnit("{connection}"),
	); err != nil {
		return nil, err
	}

	if m.connectionDuration, err = meter.Float64Histogram(
		"http.client.connection.duration",
		metric.WithDescription("Time to establish HTTP connection in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(phaseBuckets...),
	); err != nil {
		return nil, err
	}

	if m.dnsDuration, err = meter.Float64Histogram(
		"http.client.dns.duration",
		metric.WithDescription("DNS lookup duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(phaseBuckets...),
	); err != nil {
		return nil, err
	}

	if m.tlsDuration, err = meter.Float64Histogram(
		"http.client.tls.duration",
		metric.WithDescription("TLS handshake duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(phaseBuckets...),
	); err != nil {
		return nil, err
	}

	if m.ttfb, err = meter.Float64Histogram(
		"http.client.ttfb",
		metric.WithDescription("Time to first response byte in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if m.retryAttempts, err = meter.Int64Counter(
		"http.client.retry.attempts",
		metric.WithDescription("Number of HTTP client retry attempts"),
		metric.WithUnit("{attempt}"),
	); err != nil {
		return nil, err
	}

	if m.retryExhausted, err = meter.Int64Counter(
		"http.client.retry.exhausted",
		metric.WithDescription("Number of calls that exhausted all retries"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, err
	}

	if m.retryDuration, err = meter.Float64Histogram(
		"http.client.retry.duration",
		metric.WithDescription("Total time spent in retry loop in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120),
	); err != nil {
		return nil, err
	}

	if m.rejections, err = meter.Int64Counter(
		"http.client.rejections",
		metric.WithDescription("Number of calls rejected before reaching the network"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, err
	}

	if m.breakerTransitions, err = meter.Int64Counter(
		"http.client.circuit_breaker.transitions",
		metric.WithDescription("Number of circuit breaker state changes"),
		metric.WithUnit("{transition}"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

// Metrics returns a middleware that records call duration, body sizes,
// in-flight calls, and errors, labeled by operation name and path template
// rather than the expanded URL.
//
// A nil provider uses the global MeterProvider.
//
// Example:
//
//	mw, err := httpclient.Metrics(meterProvider)
//	if err != nil {
//	    return err
//	}
//	client, err := httpclient.New(baseURL, httpclient.WithMiddleware(mw))
func Metrics(mp metric.MeterProvider) (Middleware, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	m, err := newMetrics(mp.Meter(scope))
	if err != nil {
		return nil, err
	}
	return newMetricsMiddleware(m, nil), nil
}

func newMetricsMiddleware(m *metrics, base []attribute.KeyValue) Middleware {
	return func(next Sender) Sender {
		return SenderFunc(func(ctx context.Context, req *Request) (*Response, error) {
			attrs := append(append([]attribute.KeyValue{}, base...), requestAttributes(req)...)

			defer m.trackActive(ctx, attrs)()

			if len(req.Body) > 0 {
				m.recordRequestBodySize(ctx, int64(len(req.Body)), attrs)
			}

			start := time.Now()
			resp, err := next.Send(ctx, req)
			duration := time.Since(start)

			if err != nil {
				errorType := classifyError(err)
				m.recordError(ctx, errorType, attrs)
				m.recordRequestDuration(ctx, duration, append(attrs, attribute.String("error.type", errorType)))
				return nil, err
			}

			m.recordResponseBodySize(ctx, int64(len(resp.Body)), attrs)
			m.recordRequestDuration(ctx, duration, responseAttributes(attrs, resp))
			return resp, nil
		})
	}
}

// requestAttributes returns the low-cardinality attributes of req.
func requestAttributes(req *Request) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 5)
	attrs = append(attrs, attribute.String("http.request.method", req.Method))

	if req.URL != nil {
		if host := req.URL.Hostname(); host != "" {
			attrs = append(attrs, attribute.String("server.address", host))
		}
		if port := serverPort(req.URL.Scheme, req.URL.Port()); port > 0 {
			attrs = append(attrs, attribute.Int("server.port", port))
		}
	}
	if tmpl := req.PathTemplate(); tmpl != "" {
		attrs = append(attrs, attribute.String("url.template", tmpl))
	}
	if name := req.OperationName(); name != "" {
		attrs = append(attrs, attribute.String("http.client.operation", name))
	}
	return attrs
}

// responseAttributes appends the status code (and error.type for 4xx/5xx).
func responseAttributes(attrs []attribute.KeyValue, resp *Response) []attribute.KeyValue {
	out := append(append([]attribute.KeyValue{}, attrs...),
		attribute.Int("http.response.status_code", resp.StatusCode))
	if errorType := errorTypeFromStatusCode(resp.StatusCode); errorType != "" {
		out = append(out, attribute.String("error.type", errorType))
	}
	return out
}

func serverPort(scheme, port string) int {
	if port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			return p
		}
		return 0
	}
	switch scheme {
	case "http":
		return 80
	case "https":
		return 443
	}
	return 0
}

// withAttrs returns attrs plus extra without touching attrs' backing array.
func withAttrs(attrs []attribute.KeyValue, extra ...attribute.KeyValue) metric.MeasurementOption {
	out := make([]attribute.KeyValue, 0, len(attrs)+len(extra))
	out = append(append(out, attrs...), extra...)
	return metric.WithAttributes(out...)
}

func observeSeconds(ctx context.Context, h metric.Float64Histogram, d time.Duration, opt metric.MeasurementOption) {
	if h != nil {
		h.Record(ctx, d.Seconds(), opt)
	}
}

func observeSize(ctx context.Context, h metric.Int64Histogram, n int64, opt metric.MeasurementOption) {
	if h != nil {
		h.Record(ctx, n, opt)
	}
}

func incr(ctx context.Context, c metric.Int64Counter, opt metric.MeasurementOption) {
	if c != nil {
		c.Add(ctx, 1, opt)
	}
}

func addUpDown(ctx context.Context, c metric.Int64UpDownCounter, delta int64, opt metric.MeasurementOption) {
	if c != nil {
		c.Add(ctx, delta, opt)
	}
}

// The record methods below are no-ops on a nil *metrics.

func (m *metrics) recordRequestDuration(ctx context.Context, d time.Duration, attrs []attribute.KeyValue) {
	if m != nil {
		observeSeconds(ctx, m.requestDuration, d, withAttrs(attrs))
	}
}

func (m *metrics) recordRequestBodySize(ctx context.Context, size int64, attrs []attribute.KeyValue) {
	if m != nil {
		observeSize(ctx, m.requestBodySize, size, withAttrs(attrs))
	}
}

func (m *metrics) recordResponseBodySize(ctx context.Context, size int64, attrs []attribute.KeyValue) {
	if m != nil {
		observeSize(ctx, m.responseBodySize, size, withAttrs(attrs))
	}
}

// recordConnectionOpened counts a dialed connection; pooled ones are skipped
// by the caller.
func (m *metrics) recordConnectionOpened(ctx context.Context, attrs []attribute.KeyValue) {
	if m != nil {
		addUpDown(ctx, m.openConnections, 1, withAttrs(attrs))
	}
}

func (m *metrics) recordConnectionDuration(ctx context.Context, d time.Duration, attrs []attribute.KeyValue) {
	if m != nil {
		observeSeconds(ctx, m.connectionDuration, d, withAttrs(attrs))
	}
}

func (m *metrics) recordDNSDuration(ctx context.Context, d time.Duration, attrs []attribute.KeyValue) {
	if m != nil {
		observeSeconds(ctx, m.dnsDuration, d, withAttrs(attrs))
	}
}

func (m *metrics) recordTLSDuration(ctx context.Context, d time.Duration, attrs []attribute.KeyValue) {
	if m != nil {
		observeSeconds(ctx, m.tlsDuration, d, withAttrs(attrs))
	}
}

func (m *metrics) recordTTFB(ctx context.Context, d time.Duration, attrs []attribute.KeyValue) {
	if m != nil {
		observeSeconds(ctx, m.ttfb, d, withAttrs(attrs))
	}
}

// trackActive increments the in-flight gauge and returns the matching
// decrement.
func (m *metrics) trackActive(ctx context.Context, attrs []attribute.KeyValue) func() {
	if m == nil {
		return func() {}
	}
	opt := withAttrs(attrs)
	addUpDown(ctx, m.activeRequests, 1, opt)
	return func() { addUpDown(ctx, m.activeRequests, -1, opt) }
}

func (m *metrics) recordError(ctx context.Context, errorType string, attrs []attribute.KeyValue) {
	if m != nil {
		incr(ctx, m.requestErrors, withAttrs(attrs, attribute.String("error.type", errorType)))
	}
}

func (m *metrics) recordRetryAttempt(ctx context.Context, attrs []attribute.KeyValue, attempt int) {
	if m != nil {
		incr(ctx, m.retryAttempts, withAttrs(attrs, attribute.Int("retry.attempt", attempt)))
	}
}

func (m *metrics) recordRetryExhausted(ctx context.Context, attrs []attribute.KeyValue) {
	if m != nil {
		incr(ctx, m.retryExhausted, withAttrs(attrs))
	}
}

func (m *metrics) recordRetryDuration(ctx context.Context, attrs []attribute.KeyValue, d time.Duration) {
	if m != nil {
		observeSeconds(ctx, m.retryDuration, d, withAttrs(attrs))
	}
}

// recordRejection counts a call refused by admission control; reason is one
// of the ErrorType constants.
func (m *metrics) recordRejection(ctx context.Context, reason string, attrs []attribute.KeyValue) {
	if m != nil {
		incr(ctx, m.rejections, withAttrs(attrs, attribute.String("rejection.reason", reason)))
	}
}

func (m *metrics) recordBreakerTransition(ctx context.Context, name, from, to string) {
	if m != nil {
		incr(ctx, m.breakerTransitions, metric.WithAttributes(
			attribute.String("circuit_breaker.name", name),
			attribute.String("circuit_breaker.from", from),
			attribute.String("circuit_breaker.to", to),
		))
	}
}
