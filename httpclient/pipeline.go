package httpclient

import "context"

// Sender sends a Request and returns exactly one of a Response or an error.
// The terminal Sender performs the network exchange; every middleware is
// itself a Sender wrapping the next one.
type Sender interface {
	Send(ctx context.Context, req *Request) (*Response, error)
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, req *Request) (*Response, error)

// Send calls f.
func (f SenderFunc) Send(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// Middleware decorates a Sender.
//
// A middleware may edit the request before delegating, delegate zero or
// more times, and inspect or replace the outcome.
//
// Example:
//
//	func tagged(next httpclient.Sender) httpclient.Sender {
//	    return httpclient.SenderFunc(func(ctx context.Context, req *httpclient.Request) (*httpclient.Response, error) {
//	        req.Header.Set("X-Tag", "batch")
//	        return next.Send(ctx, req)
//	    })
//	}
type Middleware func(next Sender) Sender

// Chain wraps terminal with mws. The first middleware is the outermost: it
// sees the request first and the outcome last. Nil middlewares are skipped.
func Chain(terminal Sender, mws ...Middleware) Sender {
	s := terminal
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] == nil {
			continue
		}
		s = mws[i](s)
	}
	return s
}
