package httpclient

import (
	"context"
	"errors"
	"net/http"
	"syscall"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/kroma-labs/courier-go/httpclient/mocks"
	"github.com/redis/go-redis/v9"
	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreakerMiddleware_Outcomes(t *testing.T) {
	tests := []struct {
		name       string
		terminal   Sender
		mockFn     func(cb *mocks.CircuitBreaker)
		wantStatus int
		wantErr    error
	}{
		{
			name:     "given 200, then returns response",
			terminal: okSender(200),
			mockFn: func(cb *mocks.CircuitBreaker) {
				cb.EXPECT().Execute(mock.Anything).RunAndReturn(func(fn func() (interface{}, error)) (interface{}, error) {
					res, err := fn()
					assert.NoError(t, err)
					return res, err
				})
			},
			wantStatus: 200,
		},
		{
			name:     "given 503, then breaker sees failure and caller sees response",
			terminal: okSender(503),
			mockFn: func(cb *mocks.CircuitBreaker) {
				cb.EXPECT().Execute(mock.Anything).RunAndReturn(func(fn func() (interface{}, error)) (interface{}, error) {
					res, err := fn()
					assert.ErrorIs(t, err, errSyntheticFailure)
					return res, err
				})
			},
			wantStatus: 503,
		},
		{
			name:     "given open breaker, then circuit open error",
			terminal: okSender(200),
			mockFn: func(cb *mocks.CircuitBreaker) {
				cb.EXPECT().Execute(mock.Anything).Return(nil, gobreaker.ErrOpenState)
			},
			wantErr: ErrCircuitOpen,
		},
		{
			name:     "given half-open overflow, then circuit open error",
			terminal: okSender(200),
			mockFn: func(cb *mocks.CircuitBreaker) {
				cb.EXPECT().Execute(mock.Anything).Return(nil, gobreaker.ErrTooManyRequests)
			},
			wantErr: ErrCircuitOpen,
		},
		{
			name:     "given ignored error, then passes it through",
			terminal: SenderFunc(func(context.Context, *Request) (*Response, error) { return nil, ErrRateLimited }),
			mockFn: func(cb *mocks.CircuitBreaker) {
				cb.EXPECT().Execute(mock.Anything).RunAndReturn(func(fn func() (interface{}, error)) (interface{}, error) {
					return fn()
				})
			},
			wantErr: ErrRateLimited,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb := mocks.NewCircuitBreaker(t)
			tt.mockFn(cb)

			resp, err := Chain(tt.terminal, CircuitBreakerMiddleware(cb, nil)).
				Send(context.Background(), newTestRequest(t, http.MethodGet, "https://api.example.com/x"))

			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				assert.NotErrorIs(t, err, errSyntheticFailure)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
		})
	}
}

func TestCircuitBreaker_Trips(t *testing.T) {
	var transitions []string
	cfg := DefaultBreakerConfig()
	cfg.FailureThreshold = 0
	cfg.FailureRatio = 0
	cfg.ConsecutiveFailures = 3
	cfg.Timeout = time.Hour
	cfg.OnStateChange = func(_ string, from, to gobreaker.State) {
		transitions = append(transitions, from.String()+"->"+to.String())
	}

	cb, err := NewCircuitBreaker(cfg)
	require.NoError(t, err)

	stub := NewStubTransport().StubError(syscall.ECONNREFUSED)
	s := Chain(stub, CircuitBreakerMiddleware(cb, cfg.Classifier))

	for i := 0; i < 5; i++ {
		_, err := s.Send(context.Background(), newTestRequest(t, http.MethodGet, "https://api.example.com/x"))
		require.Error(t, err)
		if i >= 3 {
			assert.ErrorIs(t, err, ErrCircuitOpen)
			assert.Equal(t, KindTransport, KindOf(err))
		} else {
			assert.ErrorIs(t, err, syscall.ECONNREFUSED)
		}
	}

	assert.Equal(t, 3, stub.RequestCount())
	assert.Equal(t, []string{"closed->open"}, transitions)
}

func TestCircuitBreaker_RejectionsDoNotTrip(t *testing.T) {
	cfg := DefaultBreakerConfig()
	cfg.FailureThreshold = 0
	cfg.ConsecutiveFailures = 1

	cb, err := NewCircuitBreaker(cfg)
	require.NoError(t, err)

	s := Chain(NewStubTransport().StubError(ErrConcurrencyLimit), CircuitBreakerMiddleware(cb, nil))
	for i := 0; i < 3; i++ {
		_, err := s.Send(context.Background(), newTestRequest(t, http.MethodGet, "https://api.example.com/x"))
		assert.ErrorIs(t, err, ErrConcurrencyLimit)
		assert.NotErrorIs(t, err, ErrCircuitOpen)
	}
}

func TestDefaultBreakerClassifier(t *testing.T) {
	tests := []struct {
		name string
		resp *Response
		err  error
		want bool
	}{
		{name: "given 200, then success", resp: &Response{StatusCode: 200}, want: false},
		{name: "given 429, then success", resp: &Response{StatusCode: 429}, want: false},
		{name: "given 500, then failure", resp: &Response{StatusCode: 500}, want: true},
		{name: "given connection refused, then failure", err: syscall.ECONNREFUSED, want: true},
		{name: "given attempt timeout, then failure", err: &TransportError{Err: &timeoutError{cause: context.DeadlineExceeded}}, want: true},
		{name: "given construction error, then ignored", err: &ConstructionError{Err: errors.New("x")}, want: false},
		{name: "given rate limited, then ignored", err: ErrRateLimited, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DefaultBreakerClassifier(tt.resp, tt.err))
		})
	}
}

func TestDistributedCircuitBreaker(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := DistributedBreakerConfig(NewRedisStore(rdb))
	cfg.Name = "payments"
	cfg.FailureThreshold = 0
	cfg.FailureRatio = 0
	cfg.ConsecutiveFailures = 2
	cfg.Timeout = time.Hour

	first, err := NewCircuitBreaker(cfg)
	require.NoError(t, err)
	second, err := NewCircuitBreaker(cfg)
	require.NoError(t, err)

	failing := Chain(NewStubTransport().StubResponse(500, ""), CircuitBreakerMiddleware(first, nil))
	for i := 0; i < 2; i++ {
		resp, err := failing.Send(context.Background(), newTestRequest(t, http.MethodGet, "https://api.example.com/x"))
		require.NoError(t, err)
		assert.Equal(t, 500, resp.StatusCode)
	}

	healthy := NewStubTransport().StubResponse(200, "")
	_, err = Chain(healthy, CircuitBreakerMiddleware(second, nil)).
		Send(context.Background(), newTestRequest(t, http.MethodGet, "https://api.example.com/x"))

	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Zero(t, healthy.RequestCount())
}

func TestClient_BreakerConfig(t *testing.T) {
	cfg := DefaultBreakerConfig()
	cfg.FailureThreshold = 0
	cfg.ConsecutiveFailures = 1
	cfg.Timeout = time.Hour

	stub := NewStubTransport().StubResponse(503, "")
	client, err := New("https://api.example.com",
		WithTransport(stub),
		WithServiceName("users"),
		WithBreakerConfig(cfg),
	)
	require.NoError(t, err)

	err = client.Call(context.Background(), opGetUser, nil, 1)
	assert.Equal(t, KindStatus, KindOf(err))

	err = client.Call(context.Background(), opGetUser, nil, 1)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 1, stub.RequestCount())
}
