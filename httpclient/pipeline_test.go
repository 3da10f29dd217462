package httpclient

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRequest(t *testing.T, method, rawURL string) *Request {
	t.Helper()
	req, err := NewRequest(method, rawURL, nil)
	require.NoError(t, err)
	return req
}

func okSender(status int) Sender {
	return SenderFunc(func(_ context.Context, req *Request) (*Response, error) {
		return &Response{StatusCode: status, Header: make(http.Header), Request: req}, nil
	})
}

func recording(name string, log *[]string) Middleware {
	return func(next Sender) Sender {
		return SenderFunc(func(ctx context.Context, req *Request) (*Response, error) {
			*log = append(*log, name+":in")
			resp, err := next.Send(ctx, req)
			*log = append(*log, name+":out")
			return resp, err
		})
	}
}

func TestChain_Order(t *testing.T) {
	var log []string
	terminal := SenderFunc(func(_ context.Context, req *Request) (*Response, error) {
		log = append(log, "terminal")
		return &Response{StatusCode: 200, Request: req}, nil
	})

	s := Chain(terminal, recording("a", &log), nil, recording("b", &log))
	_, err := s.Send(context.Background(), newTestRequest(t, http.MethodGet, "https://api.example.com"))

	require.NoError(t, err)
	assert.Equal(t, []string{"a:in", "b:in", "terminal", "b:out", "a:out"}, log)
}

func TestChain_NoMiddleware(t *testing.T) {
	terminal := okSender(204)
	s := Chain(terminal)

	resp, err := s.Send(context.Background(), newTestRequest(t, http.MethodGet, "https://api.example.com"))
	require.NoError(t, err)
	assert.Equal(t, 204, resp.StatusCode)
}

func TestDispatcher_Dispatch(t *testing.T) {
	plainErr := errors.New("connection reset by peer")
	statusErr := &StatusError{StatusCode: 500}

	tests := []struct {
		name     string
		sender   Sender
		ctx      func() context.Context
		wantKind Kind
		wantErr  error
		wantOK   bool
	}{
		{
			name:   "given response, then returns it",
			sender: okSender(200),
			wantOK: true,
		},
		{
			name: "given untyped error, then wraps as transport error",
			sender: SenderFunc(func(context.Context, *Request) (*Response, error) {
				return nil, plainErr
			}),
			wantKind: KindTransport,
			wantErr:  plainErr,
		},
		{
			name: "given typed error, then passes it through",
			sender: SenderFunc(func(context.Context, *Request) (*Response, error) {
				return nil, statusErr
			}),
			wantKind: KindStatus,
			wantErr:  statusErr,
		},
		{
			name: "given neither response nor error, then fails",
			sender: SenderFunc(func(context.Context, *Request) (*Response, error) {
				return nil, nil
			}),
			wantKind: KindTransport,
			wantErr:  ErrNoResponse,
		},
		{
			name:   "given cancelled context, then fails before sending",
			sender: okSender(200),
			ctx: func() context.Context {
				ctx, cancel := context.WithCancel(context.Background())
				cancel()
				return ctx
			},
			wantKind: KindTransport,
			wantErr:  context.Canceled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			if tt.ctx != nil {
				ctx = tt.ctx()
			}
			req := newTestRequest(t, http.MethodGet, "https://api.example.com/x")

			resp, err := NewDispatcher(tt.sender).Dispatch(ctx, req)

			if tt.wantOK {
				require.NoError(t, err)
				assert.Same(t, req, resp.Request)
				return
			}
			require.Error(t, err)
			assert.Nil(t, resp)
			assert.Equal(t, tt.wantKind, KindOf(err))
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestDispatcher_NilRequest(t *testing.T) {
	_, err := NewDispatcher(okSender(200)).Dispatch(context.Background(), nil)
	assert.Equal(t, KindConstruction, KindOf(err))
}
