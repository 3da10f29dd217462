package httpclient

import (
	"context"
	"errors"
	"net"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	gobreaker "github.com/sony/gobreaker/v2"
	gobreakerredis "github.com/sony/gobreaker/v2/redis"
)

// NewRedisStore returns a gobreaker store that lets every process sharing
// rdb see the same breaker state.
//
//	rdb := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{"localhost:6379"}})
//	cfg := httpclient.DistributedBreakerConfig(httpclient.NewRedisStore(rdb))
func NewRedisStore(rdb redis.UniversalClient) gobreaker.SharedDataStore {
	return gobreakerredis.NewStoreFromClient(rdb)
}

// CircuitBreaker runs a call under breaker supervision. gobreaker's local
// and distributed breakers both satisfy it.
type CircuitBreaker interface {
	Execute(req func() (interface{}, error)) (interface{}, error)
}

// BreakerClassifier reports whether an outcome counts as a failure of the
// upstream.
type BreakerClassifier func(resp *Response, err error) bool

// BreakerConfig configures the breaker. A closed breaker passes calls; it
// opens when the trip rules below match and rejects calls for Timeout; it
// then half-opens and lets MaxRequests probes through.
//
// Trip rules, checked once at least FailureThreshold calls were counted in
// the current Interval: ConsecutiveFailures in a row, or a failure share of
// at least FailureRatio. A zero value disables the rule.
type BreakerConfig struct {
	MaxRequests uint32
	// Interval clears the counts while closed. Zero never clears them.
	Interval time.Duration
	Timeout  time.Duration

	FailureThreshold    uint32
	FailureRatio        float64
	ConsecutiveFailures uint32

	// Name identifies the breaker in metrics and in the shared store.
	// Defaults to the client's service name.
	Name string

	// Store shares state across processes. Nil keeps it in memory.
	Store gobreaker.SharedDataStore

	// Classifier defaults to DefaultBreakerClassifier.
	Classifier BreakerClassifier

	OnStateChange func(name string, from, to gobreaker.State)
}

// DefaultBreakerConfig trips after 5 straight failures or a 50% failure
// share over at least 20 calls in a 10s window, and stays open for 10s.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:         1,
		Interval:            10 * time.Second,
		Timeout:             10 * time.Second,
		FailureThreshold:    20,
		FailureRatio:        0.5,
		ConsecutiveFailures: 5,
		Classifier:          DefaultBreakerClassifier,
	}
}

// DistributedBreakerConfig is DefaultBreakerConfig with state kept in store.
func DistributedBreakerConfig(store gobreaker.SharedDataStore) BreakerConfig {
	cfg := DefaultBreakerConfig()
	cfg.Store = store
	return cfg
}

// DisabledBreakerConfig never counts a failure, so the breaker never opens.
func DisabledBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: ^uint32(0),
		FailureRatio:     1.0,
		Classifier:       func(*Response, error) bool { return false },
	}
}

// DefaultBreakerClassifier counts 5xx responses, timeouts and network
// errors. 429s are left to Retry; construction errors and admission
// rejections never reached the upstream.
func DefaultBreakerClassifier(resp *Response, err error) bool {
	switch {
	case err == nil:
		return resp != nil && resp.StatusCode >= 500
	case KindOf(err) == KindConstruction, isRejection(err):
		return false
	case errors.Is(err, ErrTimeout):
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ETIMEDOUT)
}

// errSyntheticFailure tells the breaker that a call failed (e.g. a 500) even
// though the sender returned a response. It never reaches the caller.
var errSyntheticFailure = errors.New("synthetic failure")

// NewCircuitBreaker builds a gobreaker breaker from cfg: distributed when
// cfg.Store is set, local otherwise. If the distributed breaker cannot be
// created the local one is returned with the error.
func NewCircuitBreaker(cfg BreakerConfig) (CircuitBreaker, error) {
	return newCircuitBreaker(cfg, nil)
}

func newCircuitBreaker(cfg BreakerConfig, m *metrics) (CircuitBreaker, error) {
	if cfg.Name == "" {
		cfg.Name = "courier-http-client"
	}

	st := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if cfg.FailureThreshold > 0 && counts.Requests < cfg.FailureThreshold {
				return false
			}
			if cfg.ConsecutiveFailures > 0 && counts.ConsecutiveFailures >= cfg.ConsecutiveFailures {
				return true
			}
			if cfg.FailureRatio > 0 && counts.TotalFailures > 0 {
				ratio := float64(counts.TotalFailures) / float64(counts.Requests)
				if ratio >= cfg.FailureRatio {
					return true
				}
			}
			return false
		},
		IsSuccessful: func(err error) bool {
			var pass *breakerPassthrough
			return err == nil || errors.As(err, &pass)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			m.recordBreakerTransition(context.Background(), name, from.String(), to.String())
			if cfg.OnStateChange != nil {
				cfg.OnStateChange(name, from, to)
			}
		},
	}

	if cfg.Store == nil {
		return gobreaker.NewCircuitBreaker[interface{}](st), nil
	}
	dcb, err := gobreaker.NewDistributedCircuitBreaker[interface{}](cfg.Store, st)
	if err != nil {
		// A local breaker still protects this process.
		return gobreaker.NewCircuitBreaker[interface{}](st), err
	}
	return dcb, nil
}

// CircuitBreakerMiddleware runs every call through cb. Outcomes the
// classifier marks as failures count toward tripping; once open, calls fail
// with a *TransportError wrapping ErrCircuitOpen without reaching the network.
//
// A failing response (e.g. a 503) is still returned to the caller as a
// response so the decoder can report it as a *StatusError.
//
// Example:
//
//	cb, _ := httpclient.NewCircuitBreaker(httpclient.DefaultBreakerConfig())
//	mw := httpclient.CircuitBreakerMiddleware(cb, nil)
func CircuitBreakerMiddleware(cb CircuitBreaker, classifier BreakerClassifier) Middleware {
	return newBreakerMiddleware(cb, classifier, nil)
}

func newBreakerMiddleware(cb CircuitBreaker, classifier BreakerClassifier, m *metrics) Middleware {
	if cb == nil {
		return nil
	}
	if classifier == nil {
		classifier = DefaultBreakerClassifier
	}

	return func(next Sender) Sender {
		return SenderFunc(func(ctx context.Context, req *Request) (*Response, error) {
			res, err := cb.Execute(func() (interface{}, error) {
				resp, err := next.Send(ctx, req)
				if classifier(resp, err) {
					if err != nil {
						return resp, err
					}
					return resp, errSyntheticFailure
				}
				if err != nil {
					// Not a breaker failure, but the caller still sees it.
					return nil, &breakerPassthrough{err: err}
				}
				return resp, nil
			})

			var pass *breakerPassthrough
			switch {
			case err == nil:
			case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
				m.recordRejection(ctx, ErrorTypeCircuitOpen, requestAttributes(req))
				return nil, transportErr(req, errors.Join(ErrCircuitOpen, err))
			case errors.Is(err, errSyntheticFailure):
			case errors.As(err, &pass):
				return nil, pass.err
			default:
				return nil, err
			}

			resp, ok := res.(*Response)
			if !ok || resp == nil {
				return nil, transportErr(req, ErrNoResponse)
			}
			return resp, nil
		})
	}
}

// breakerPassthrough carries an error the classifier ignored. Breakers from
// NewCircuitBreaker count it as a success; other implementations see a
// plain error.
type breakerPassthrough struct {
	err error
}

func (e *breakerPassthrough) Error() string { return e.err.Error() }

func (e *breakerPassthrough) Unwrap() error { return e.err }
