package httpclient

import (
	"context"
	"net/http"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func newTestTracerProvider() (*sdktrace.TracerProvider, *tracetest.SpanRecorder) {
	recorder := tracetest.NewSpanRecorder()
	return sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)), recorder
}

func spanAttr(span sdktrace.ReadOnlySpan, key string) (attribute.Value, bool) {
	for _, kv := range span.Attributes() {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestTracing(t *testing.T) {
	getUser := MustOperation("GetUser", http.MethodGet, "/users/{id}", []Param{Path("id")})

	tests := []struct {
		name       string
		terminal   Sender
		wantStatus codes.Code
		wantCode   int64
		wantErrTyp string
	}{
		{
			name:       "given 200, then span is ok",
			terminal:   NewStubTransport().StubResponse(200, `{"id":1}`),
			wantStatus: codes.Unset,
			wantCode:   200,
		},
		{
			name:       "given 404, then span is error",
			terminal:   NewStubTransport().StubResponse(404, ""),
			wantStatus: codes.Error,
			wantCode:   404,
			wantErrTyp: "404",
		},
		{
			name:       "given transport error, then span records it",
			terminal:   NewStubTransport().StubError(syscall.ECONNREFUSED),
			wantStatus: codes.Error,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tp, recorder := newTestTracerProvider()
			b, err := NewBuilder("https://api.example.com/v1", nil, nil)
			require.NoError(t, err)
			req, err := b.Build(getUser, 7)
			require.NoError(t, err)

			_, _ = Chain(tt.terminal, Tracing(WithTracingProvider(tp))).Send(context.Background(), req)

			spans := recorder.Ended()
			require.Len(t, spans, 1)
			span := spans[0]
			assert.Equal(t, "GetUser", span.Name())
			assert.Equal(t, trace.SpanKindClient, span.SpanKind())
			assert.Equal(t, tt.wantStatus, span.Status().Code)

			tmpl, ok := spanAttr(span, "url.template")
			require.True(t, ok)
			assert.Equal(t, "/v1/users/{id}", tmpl.AsString())

			if tt.wantCode != 0 {
				code, ok := spanAttr(span, "http.response.status_code")
				require.True(t, ok)
				assert.Equal(t, tt.wantCode, code.AsInt64())
			}
			if tt.wantErrTyp != "" {
				errType, ok := spanAttr(span, "error.type")
				require.True(t, ok)
				assert.Equal(t, tt.wantErrTyp, errType.AsString())
			}
		})
	}
}

func TestTracing_Propagation(t *testing.T) {
	tp, _ := newTestTracerProvider()

	tests := []struct {
		name       string
		opts       []TracingOption
		wantHeader bool
	}{
		{
			name:       "given trace context propagator, then injects traceparent",
			opts:       []TracingOption{WithTracingProvider(tp), WithTracingPropagator(propagation.TraceContext{})},
			wantHeader: true,
		},
		{
			name:       "given no propagator, then adds no header",
			opts:       []TracingOption{WithTracingProvider(tp)},
			wantHeader: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := NewStubTransport().StubResponse(200, "")

			_, err := Chain(stub, Tracing(tt.opts...)).
				Send(context.Background(), newTestRequest(t, http.MethodGet, "https://api.example.com/x"))

			require.NoError(t, err)
			assert.Equal(t, tt.wantHeader, stub.LastRequest().Header.Get("Traceparent") != "")
		})
	}
}

func TestTracing_FilterAndSpanName(t *testing.T) {
	tp, recorder := newTestTracerProvider()
	mw := Tracing(
		WithTracingProvider(tp),
		WithTracingFilter(func(r *Request) bool { return r.URL.Path != "/health" }),
		WithTracingSpanName(func(r *Request) string { return "custom " + r.Method }),
	)
	s := Chain(NewStubTransport().StubResponse(200, ""), mw)

	_, err := s.Send(context.Background(), newTestRequest(t, http.MethodGet, "https://api.example.com/health"))
	require.NoError(t, err)
	_, err = s.Send(context.Background(), newTestRequest(t, http.MethodDelete, "https://api.example.com/users/1"))
	require.NoError(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "custom DELETE", spans[0].Name())
}

func TestTracing_RetryEvents(t *testing.T) {
	tp, recorder := newTestTracerProvider()
	stub := NewStubTransport().Enqueue(503, "").Enqueue(200, "")
	s := Chain(stub, Tracing(WithTracingProvider(tp)), Retry(fastRetryConfig(2)))

	_, err := s.Send(context.Background(), newTestRequest(t, http.MethodGet, "https://api.example.com/x"))
	require.NoError(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)

	var retryEvents int
	for _, ev := range spans[0].Events() {
		if ev.Name == "http.retry" {
			retryEvents++
		}
	}
	assert.Equal(t, 1, retryEvents)

	resend, ok := spanAttr(spans[0], "http.request.resend_count")
	require.True(t, ok)
	assert.Equal(t, int64(1), resend.AsInt64())
}
