package httpclient

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFollowRedirects(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		status     int
		location   string
		wantMethod string
		wantURL    string
		wantBody   bool
	}{
		{name: "given 302 on POST, then switches to GET", method: http.MethodPost, status: 302, location: "/new", wantMethod: http.MethodGet, wantURL: "https://api.example.com/new"},
		{name: "given 303 on PUT, then switches to GET", method: http.MethodPut, status: 303, location: "/done", wantMethod: http.MethodGet, wantURL: "https://api.example.com/done"},
		{name: "given 307, then keeps method and body", method: http.MethodPost, status: 307, location: "/new", wantMethod: http.MethodPost, wantURL: "https://api.example.com/new", wantBody: true},
		{name: "given 308 relative location, then resolves against current url", method: http.MethodPut, status: 308, location: "v2", wantMethod: http.MethodPut, wantURL: "https://api.example.com/v1/v2", wantBody: true},
		{name: "given 301 on HEAD, then keeps HEAD", method: http.MethodHead, status: 301, location: "https://other.example.com/x", wantMethod: http.MethodHead, wantURL: "https://other.example.com/x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := NewStubTransport().
				EnqueueWithHeader(tt.status, http.Header{"Location": {tt.location}}, "").
				Enqueue(200, "final")
			req := newTestRequest(t, tt.method, "https://api.example.com/v1/old")
			req.Body = []byte(`{"a":1}`)
			req.Header.Set("Content-Type", "application/json")

			resp, err := Chain(stub, FollowRedirects(0)).Send(context.Background(), req)

			require.NoError(t, err)
			assert.Equal(t, "final", string(resp.Body))
			reqs := stub.Requests()
			require.Len(t, reqs, 2)
			second := reqs[1]
			assert.Equal(t, tt.wantMethod, second.Method)
			assert.Equal(t, tt.wantURL, second.URL.String())
			assert.Equal(t, tt.wantBody, len(second.Body) > 0)
			assert.Equal(t, 1, RedirectKey.Get(second.Extensions))
			assert.Equal(t, tt.wantBody, second.Header.Get("Content-Type") != "")
		})
	}
}

func TestFollowRedirects_DropsCredentialsAcrossHosts(t *testing.T) {
	tests := []struct {
		name     string
		location string
		wantAuth string
	}{
		{name: "given same host, then keeps credentials", location: "/next", wantAuth: "Bearer t"},
		{name: "given other host, then drops credentials", location: "https://evil.example.org/next"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := NewStubTransport().
				EnqueueWithHeader(307, http.Header{"Location": {tt.location}}, "").
				Enqueue(200, "")
			req := newTestRequest(t, http.MethodGet, "https://api.example.com/start")
			req.Header.Set("Authorization", "Bearer t")
			req.Header.Set("Cookie", "session=1")

			_, err := Chain(stub, FollowRedirects(3)).Send(context.Background(), req)

			require.NoError(t, err)
			second := stub.LastRequest()
			assert.Equal(t, tt.wantAuth, second.Header.Get("Authorization"))
			assert.Equal(t, tt.wantAuth != "", second.Header.Get("Cookie") != "")
		})
	}
}

func TestFollowRedirects_Errors(t *testing.T) {
	t.Run("given too many hops, then fails", func(t *testing.T) {
		loop := NewStubTransport()
		for i := 0; i < 5; i++ {
			loop.EnqueueWithHeader(302, http.Header{"Location": {"/loop"}}, "")
		}

		_, err := Chain(loop, FollowRedirects(2)).
			Send(context.Background(), newTestRequest(t, http.MethodGet, "https://api.example.com/loop"))

		require.Error(t, err)
		assert.ErrorIs(t, err, ErrTooManyRedirects)
		assert.Equal(t, KindTransport, KindOf(err))
		assert.Equal(t, 3, loop.RequestCount())
	})

	t.Run("given redirect without location, then fails", func(t *testing.T) {
		stub := NewStubTransport().Enqueue(302, "")

		_, err := Chain(stub, FollowRedirects(2)).
			Send(context.Background(), newTestRequest(t, http.MethodGet, "https://api.example.com/x"))

		assert.ErrorIs(t, err, ErrMissingLocation)
	})

	t.Run("given 304, then returns it", func(t *testing.T) {
		stub := NewStubTransport().Enqueue(304, "")

		resp, err := Chain(stub, FollowRedirects(2)).
			Send(context.Background(), newTestRequest(t, http.MethodGet, "https://api.example.com/x"))

		require.NoError(t, err)
		assert.Equal(t, 304, resp.StatusCode)
	})
}
