package httpclient

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Filter decides whether a request is traced. All filters must return true.
//
// Common use: skip health checks.
//
//	func(r *httpclient.Request) bool { return r.OperationName() != "Health" }
type Filter func(r *Request) bool

// SpanNameFormatter names the client span for a request.
// Default: the operation name, or "HTTP {method}" for ad-hoc requests.
type SpanNameFormatter func(r *Request) string

// TracingOption configures the Tracing middleware.
type TracingOption func(*tracingConfig)

type tracingConfig struct {
	provider   trace.TracerProvider
	propagator propagation.TextMapPropagator
	filters    []Filter
	spanName   SpanNameFormatter
	spanOpts   []trace.SpanStartOption
	base       []attribute.KeyValue
}

// WithTracingProvider sets the tracer provider. Default: the global provider.
func WithTracingProvider(tp trace.TracerProvider) TracingOption {
	return func(c *tracingConfig) { c.provider = tp }
}

// WithTracingPropagator injects trace context into outgoing headers with p.
// Without it no headers are added.
func WithTracingPropagator(p propagation.TextMapPropagator) TracingOption {
	return func(c *tracingConfig) { c.propagator = p }
}

// WithTracingFilter adds a filter. Requests for which it returns false are
// sent without a span.
func WithTracingFilter(f Filter) TracingOption {
	return func(c *tracingConfig) { c.filters = append(c.filters, f) }
}

// WithTracingSpanName overrides the span name.
func WithTracingSpanName(f SpanNameFormatter) TracingOption {
	return func(c *tracingConfig) { c.spanName = f }
}

// WithTracingSpanOptions adds options applied when each span starts.
func WithTracingSpanOptions(opts ...trace.SpanStartOption) TracingOption {
	return func(c *tracingConfig) { c.spanOpts = append(c.spanOpts, opts...) }
}

// Tracing starts a client span around everything below it. The span carries
// method, URL (credentials redacted), server address, url.template and the
// operation name; a 4xx/5xx or an error marks it failed.
//
// Example:
//
//	client, err := httpclient.New(baseURL,
//	    httpclient.WithMiddleware(httpclient.Tracing(
//	        httpclient.WithTracingProvider(tp),
//	        httpclient.WithTracingPropagator(propagation.TraceContext{}),
//	    )),
//	)
func Tracing(opts ...TracingOption) Middleware {
	cfg := &tracingConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	return newTracingMiddleware(cfg)
}

func newTracingMiddleware(cfg *tracingConfig) Middleware {
	provider := cfg.provider
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	tracer := provider.Tracer(scope)
	spanName := cfg.spanName
	if spanName == nil {
		spanName = defaultSpanName
	}

	return func(next Sender) Sender {
		return SenderFunc(func(ctx context.Context, req *Request) (*Response, error) {
			for _, f := range cfg.filters {
				if !f(req) {
					return next.Send(ctx, req)
				}
			}

			startOpts := append([]trace.SpanStartOption{
				trace.WithSpanKind(trace.SpanKindClient),
				trace.WithAttributes(cfg.base...),
				trace.WithAttributes(spanAttributes(req)...),
			}, cfg.spanOpts...)

			ctx, span := tracer.Start(ctx, spanName(req), startOpts...)
			defer span.End()

			if cfg.propagator != nil {
				cfg.propagator.Inject(ctx, propagation.HeaderCarrier(req.Header))
			}

			resp, err := next.Send(ctx, req)
			if err != nil {
				setSpanError(span, err, classifyError(err))
				return nil, err
			}

			span.SetAttributes(
				attribute.Int("http.response.status_code", resp.StatusCode),
				attribute.Int("http.response.body.size", len(resp.Body)),
			)
			if attempt, ok := AttemptKey.Lookup(resp.requestExtensions()); ok && attempt > 1 {
				span.SetAttributes(attribute.Int("http.request.resend_count", attempt-1))
			}
			if resp.StatusCode >= 400 {
				span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", resp.StatusCode))
				span.SetAttributes(attribute.String("error.type", errorTypeFromStatusCode(resp.StatusCode)))
			}
			return resp, nil
		})
	}
}

func defaultSpanName(r *Request) string {
	if name := r.OperationName(); name != "" {
		return name
	}
	return "HTTP " + r.Method
}

func spanAttributes(req *Request) []attribute.KeyValue {
	attrs := requestAttributes(req)
	if req.URL != nil {
		attrs = append(attrs,
			attribute.String("url.full", req.URL.Redacted()),
			attribute.String("url.scheme", req.URL.Scheme),
		)
	}
	if len(req.Body) > 0 {
		attrs = append(attrs, attribute.Int("http.request.body.size", len(req.Body)))
	}
	if ua := req.Header.Get("User-Agent"); ua != "" {
		attrs = append(attrs, attribute.String("user_agent.original", ua))
	}
	return attrs
}
