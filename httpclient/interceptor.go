package httpclient

import (
	"context"
)

// RequestInterceptor inspects or edits a request before it is sent. Returning
// an error aborts the call.
//
// Common use cases:
//   - Injecting correlation IDs
//   - Adding headers derived from the context (tenant, locale)
//   - Rejecting requests that violate local policy
type RequestInterceptor func(ctx context.Context, req *Request) error

// ResponseInterceptor inspects or edits a response after receipt. Returning
// an error replaces the response with that error.
//
// Common use cases:
//   - Auditing
//   - Mapping provider-specific error envelopes carried in a 200
type ResponseInterceptor func(ctx context.Context, resp *Response) error

// OnRequest runs interceptors in order before delegating.
func OnRequest(interceptors ...RequestInterceptor) Middleware {
	return func(next Sender) Sender {
		return SenderFunc(func(ctx context.Context, req *Request) (*Response, error) {
			for _, intercept := range interceptors {
				if err := intercept(ctx, req); err != nil {
					return nil, err
				}
			}
			return next.Send(ctx, req)
		})
	}
}

// OnResponse runs interceptors in order on every successful exchange.
// Errors from the wrapped sender skip them.
func OnResponse(interceptors ...ResponseInterceptor) Middleware {
	return func(next Sender) Sender {
		return SenderFunc(func(ctx context.Context, req *Request) (*Response, error) {
			resp, err := next.Send(ctx, req)
			if err != nil {
				return nil, err
			}
			for _, intercept := range interceptors {
				if err := intercept(ctx, resp); err != nil {
					return nil, err
				}
			}
			return resp, nil
		})
	}
}

// CorrelationIDInterceptor sets headerName from idFunc unless the request
// already has one.
func CorrelationIDInterceptor(headerName string, idFunc func() string) RequestInterceptor {
	return func(_ context.Context, req *Request) error {
		if req.Header.Get(headerName) == "" {
			req.Header.Set(headerName, idFunc())
		}
		return nil
	}
}

// UserAgentInterceptor sets the User-Agent header.
func UserAgentInterceptor(userAgent string) RequestInterceptor {
	return func(_ context.Context, req *Request) error {
		req.Header.Set("User-Agent", userAgent)
		return nil
	}
}
