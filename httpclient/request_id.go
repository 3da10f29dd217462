package httpclient

import (
	"context"

	"github.com/google/uuid"
)

// RequestIDHeader is the header key for request IDs.
const RequestIDHeader = "X-Request-ID"

// RequestIDKey holds the request ID sent with a request.
var RequestIDKey = NewExtensionKey[string]("request_id")

// requestIDCtxKey is the context key for an inbound request ID.
type requestIDCtxKey struct{}

// ContextWithRequestID stores id so RequestID forwards it instead of
// generating a new one. Servers call this with the ID of the request they
// are handling.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDCtxKey{}, id)
}

// RequestIDFromContext returns the ID stored by ContextWithRequestID, or "".
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDCtxKey{}).(string); ok {
		return id
	}
	return ""
}

// RequestID tags each request with X-Request-ID.
//
// Behavior:
//   - If the request already has the header, keep it
//   - Else forward the ID from ContextWithRequestID
//   - Otherwise generate a new UUID v4
//
// The ID is also stored under RequestIDKey. Place RequestID outside Retry so
// every attempt carries the same ID.
func RequestID() Middleware {
	return func(next Sender) Sender {
		return SenderFunc(func(ctx context.Context, req *Request) (*Response, error) {
			id := req.Header.Get(RequestIDHeader)
			if id == "" {
				id = RequestIDFromContext(ctx)
			}
			if id == "" {
				id = uuid.NewString()
			}
			req.Header.Set(RequestIDHeader, id)
			RequestIDKey.Set(&req.Extensions, id)
			return next.Send(ctx, req)
		})
	}
}
