package httpclient

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStubTransport_Resolution(t *testing.T) {
	errDown := errors.New("down")
	stub := NewStubTransport().
		Enqueue(201, "queued").
		StubPath("/users", 200, "users").
		StubPathRegex(`^/orders/\d+$`, 200, "order").
		StubMethod(http.MethodDelete, 204, "").
		StubFuncError(func(r *Request) bool { return r.URL.Path == "/broken" }, errDown).
		StubResponse(404, "default")

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
		wantBody   string
		wantErr    error
	}{
		{name: "given queued response, then consumed first", method: http.MethodGet, path: "/users", wantStatus: 201, wantBody: "queued"},
		{name: "given path stub, then matches", method: http.MethodGet, path: "/users", wantStatus: 200, wantBody: "users"},
		{name: "given regex stub, then matches", method: http.MethodGet, path: "/orders/42", wantStatus: 200, wantBody: "order"},
		{name: "given method stub, then matches", method: http.MethodDelete, path: "/anything", wantStatus: 204},
		{name: "given error stub, then transport error", method: http.MethodGet, path: "/broken", wantErr: errDown},
		{name: "given no match, then default", method: http.MethodGet, path: "/nope", wantStatus: 404, wantBody: "default"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := stub.Send(context.Background(), newTestRequest(t, tt.method, "https://api.example.com"+tt.path))

			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, KindTransport, KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Equal(t, tt.wantBody, string(resp.Body))
			assert.Equal(t, http.StatusText(tt.wantStatus), resp.Status[4:])
		})
	}

	assert.Equal(t, len(tests), stub.RequestCount())
}

func TestStubTransport_Recording(t *testing.T) {
	var hooked []string
	stub := NewStubTransport().
		StubResponse(200, "").
		OnRequest(func(r *Request) { hooked = append(hooked, r.URL.Path) })

	req := newTestRequest(t, http.MethodGet, "https://api.example.com/a")
	_, err := stub.Send(context.Background(), req)
	require.NoError(t, err)
	req.Header.Set("X-Later", "edit")
	_, err = stub.Send(context.Background(), newTestRequest(t, http.MethodGet, "https://api.example.com/b"))
	require.NoError(t, err)

	assert.Equal(t, []string{"/a", "/b"}, hooked)
	require.Len(t, stub.Requests(), 2)
	assert.Empty(t, stub.Requests()[0].Header.Get("X-Later"))
	assert.Equal(t, "/b", stub.LastRequest().URL.Path)

	stub.Reset()
	assert.Zero(t, stub.RequestCount())
	assert.Nil(t, stub.LastRequest())
	_, err = stub.Send(context.Background(), req)
	assert.Error(t, err, "no stub after reset")
}

func TestStubTransport_EnqueueError(t *testing.T) {
	stub := NewStubTransport().EnqueueError(ErrNoResponse).StubResponse(200, "")

	_, err := stub.Send(context.Background(), newTestRequest(t, http.MethodGet, "https://api.example.com/x"))
	assert.ErrorIs(t, err, ErrNoResponse)

	resp, err := stub.Send(context.Background(), newTestRequest(t, http.MethodGet, "https://api.example.com/x"))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
}

func TestStubTransport_CancelledContext(t *testing.T) {
	stub := NewStubTransport().StubResponse(200, "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := stub.Send(ctx, newTestRequest(t, http.MethodGet, "https://api.example.com/x"))

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, stub.RequestCount())
}
