package httpclient

import (
	"context"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestID(t *testing.T) {
	tests := []struct {
		name   string
		ctx    context.Context
		header string
		want   string
	}{
		{name: "given existing header, then keeps it", ctx: context.Background(), header: "req-1", want: "req-1"},
		{name: "given id in context, then forwards it", ctx: ContextWithRequestID(context.Background(), "inbound-7"), want: "inbound-7"},
		{name: "given nothing, then generates uuid", ctx: context.Background()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := NewStubTransport().StubResponse(200, "")
			req := newTestRequest(t, http.MethodGet, "https://api.example.com/x")
			if tt.header != "" {
				req.Header.Set(RequestIDHeader, tt.header)
			}

			_, err := Chain(stub, RequestID()).Send(tt.ctx, req)
			require.NoError(t, err)

			sent := stub.LastRequest()
			got := sent.Header.Get(RequestIDHeader)
			if tt.want != "" {
				assert.Equal(t, tt.want, got)
			} else {
				_, err := uuid.Parse(got)
				assert.NoError(t, err)
			}
			assert.Equal(t, got, RequestIDKey.Get(sent.Extensions))
		})
	}
}

func TestRequestID_SameAcrossRetries(t *testing.T) {
	stub := NewStubTransport().Enqueue(503, "").Enqueue(200, "")
	s := Chain(stub, RequestID(), Retry(fastRetryConfig(2)))

	_, err := s.Send(context.Background(), newTestRequest(t, http.MethodGet, "https://api.example.com/x"))
	require.NoError(t, err)

	reqs := stub.Requests()
	require.Len(t, reqs, 2)
	assert.NotEmpty(t, reqs[0].Header.Get(RequestIDHeader))
	assert.Equal(t, reqs[0].Header.Get(RequestIDHeader), reqs[1].Header.Get(RequestIDHeader))
}

func TestRequestIDFromContext(t *testing.T) {
	assert.Equal(t, "", RequestIDFromContext(context.Background()))
	assert.Equal(t, "abc", RequestIDFromContext(ContextWithRequestID(context.Background(), "abc")))
}
