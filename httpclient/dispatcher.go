package httpclient

import (
	"context"
	"errors"
)

// Dispatcher runs requests through a composed middleware chain and
// normalizes the outcome.
type Dispatcher struct {
	sender Sender
}

// NewDispatcher composes terminal with mws (first is outermost).
func NewDispatcher(terminal Sender, mws ...Middleware) *Dispatcher {
	return &Dispatcher{sender: Chain(terminal, mws...)}
}

// Dispatch sends req and guarantees exactly one outcome:
//
//   - a response and a nil error, or
//   - a nil response and an error. Errors that are not already typed by this
//     package are wrapped in *TransportError.
//
// A sender that returns neither yields ErrNoResponse.
func (d *Dispatcher) Dispatch(ctx context.Context, req *Request) (*Response, error) {
	if req == nil {
		return nil, &ConstructionError{Err: errors.New("nil request")}
	}
	if err := ctx.Err(); err != nil {
		return nil, transportErr(req, err)
	}

	resp, err := d.sender.Send(ctx, req)
	switch {
	case err != nil:
		if KindOf(err) == KindUnknown {
			return nil, transportErr(req, err)
		}
		return nil, err
	case resp == nil:
		return nil, transportErr(req, ErrNoResponse)
	}
	if resp.Request == nil {
		resp.Request = req
	}
	return resp, nil
}
