package httpclient

import (
	"context"
	"errors"
	"time"
)

// Timeout bounds the total latency of everything below it in the chain. An
// overrun surfaces as a *TransportError wrapping both ErrTimeout and
// context.DeadlineExceeded.
//
// Place Timeout outside Retry to bound all attempts together, or inside to
// bound each attempt.
//
// A non-positive d disables the layer.
func Timeout(d time.Duration) Middleware {
	if d <= 0 {
		return nil
	}
	return func(next Sender) Sender {
		return SenderFunc(func(ctx context.Context, req *Request) (*Response, error) {
			ctx, cancel := context.WithTimeoutCause(ctx, d, ErrTimeout)
			defer cancel()

			resp, err := next.Send(ctx, req)
			if err == nil {
				return resp, nil
			}
			if errors.Is(context.Cause(ctx), ErrTimeout) && errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, newTransportError(req, &timeoutError{after: d, cause: err})
			}
			return nil, err
		})
	}
}

type timeoutError struct {
	after time.Duration
	cause error
}

func (e *timeoutError) Error() string {
	return "timed out after " + e.after.String() + ": " + e.cause.Error()
}

func (e *timeoutError) Unwrap() []error { return []error{ErrTimeout, e.cause} }

func (e *timeoutError) Timeout() bool { return true }
