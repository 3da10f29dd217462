package httpclient

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Version is the library version reported in the default User-Agent.
const Version = "0.1.0"

// DefaultUserAgent is sent unless WithUserAgent or a header overrides it.
const DefaultUserAgent = "courier-go/" + Version

// Client executes declared operations against one base URL.
//
// Create a Client using New():
//
//	getUser := httpclient.MustOperation("GetUser", http.MethodGet, "/users/{id}",
//	    []httpclient.Param{httpclient.Path("id")},
//	)
//
//	client, err := httpclient.New("https://api.example.com",
//	    httpclient.WithServiceName("user-client"),
//	    httpclient.WithRetryConfig(httpclient.DefaultRetryConfig()),
//	)
//
//	var user User
//	err = client.Call(ctx, getUser, &user, 42)
//
// A Client is safe for concurrent use.
type Client struct {
	// config holds all client configuration.
	config *internalConfig

	builder    *Builder
	dispatcher *Dispatcher
	decoder    *Decoder

	// transport is the terminal sender, kept for pool stats and shutdown.
	transport Sender
}

// New creates a Client rooted at baseURL with production-ready defaults:
//
//   - Connection pooling and timeouts from DefaultConfig
//   - OpenTelemetry tracing and metrics
//   - No retries until WithRetryConfig is given
//
// Example - Basic usage:
//
//	client, err := httpclient.New("https://api.example.com",
//	    httpclient.WithServiceName("my-service"),
//	)
//
// Example - With retry and auth:
//
//	client, err := httpclient.New("https://api.example.com",
//	    httpclient.WithRetryConfig(httpclient.AggressiveRetryConfig()),
//	    httpclient.WithMiddleware(httpclient.BearerAuth(token)),
//	)
func New(baseURL string, opts ...Option) (*Client, error) {
	cfg := newConfig(opts...)

	builder, err := NewBuilder(baseURL, NewEncoder(cfg.EncoderOptions...), cfg.DefaultHeaders)
	if err != nil {
		return nil, err
	}

	mws, err := cfg.middlewares()
	if err != nil {
		return nil, fmt.Errorf("httpclient: build middleware: %w", err)
	}

	decoderOpts := []DecoderOption{WithDecoderErrorDecoder(cfg.ErrorDecoder)}
	if cfg.Validator != nil {
		decoderOpts = append(decoderOpts, WithDecoderValidation(cfg.Validator))
	}

	terminal := cfg.terminal()
	return &Client{
		config:     cfg,
		builder:    builder,
		dispatcher: NewDispatcher(terminal, mws...),
		decoder:    NewDecoder(decoderOpts...),
		transport:  terminal,
	}, nil
}

// Build assembles the request for op without sending it.
func (c *Client) Build(op *Operation, args ...any) (*Request, error) {
	return c.builder.Build(op, args...)
}

// Send runs req through the middleware chain. The response is returned as
// received; non-2xx statuses are not errors here.
func (c *Client) Send(ctx context.Context, req *Request) (*Response, error) {
	return c.dispatcher.Dispatch(c.withLogger(ctx), req)
}

// Decode interprets resp for an operation declaring kind. See Decoder.Decode.
func (c *Client) Decode(resp *Response, kind ResponseKind, out any) error {
	return c.decoder.Decode(resp, kind, out)
}

// Call builds, sends and decodes op in one step. out receives the decoded
// body and may be nil to discard it.
//
// The returned error is one of *ConstructionError, *TransportError,
// *StatusError or *DecodeError (or what the ErrorDecoder returns); use
// KindOf or errors.As to tell them apart.
func (c *Client) Call(ctx context.Context, op *Operation, out any, args ...any) error {
	req, err := c.Build(op, args...)
	if err != nil {
		return err
	}
	resp, err := c.Send(ctx, req)
	if err != nil {
		return err
	}
	return c.decoder.Decode(resp, op.Response(), out)
}

// CallNamed is Call for an operation looked up in the registry set with
// WithRegistry.
func (c *Client) CallNamed(ctx context.Context, name string, out any, args ...any) error {
	op, err := c.lookup(name)
	if err != nil {
		return err
	}
	return c.Call(ctx, op, out, args...)
}

// Invoke calls op and returns the decoded body as T.
//
// Example:
//
//	user, err := httpclient.Invoke[User](ctx, client, getUser, 42)
func Invoke[T any](ctx context.Context, c *Client, op *Operation, args ...any) (T, error) {
	var out T
	if err := c.Call(ctx, op, &out, args...); err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// Registry returns the registry set with WithRegistry, or nil.
func (c *Client) Registry() *Registry {
	return c.config.Registry
}

// CloseIdleConnections closes idle pooled connections of the default
// transport. It is a no-op for custom transports.
func (c *Client) CloseIdleConnections() {
	if t, ok := c.transport.(*HTTPTransport); ok {
		t.CloseIdleConnections()
	}
}

func (c *Client) lookup(name string) (*Operation, error) {
	if c.config.Registry == nil {
		return nil, &ConstructionError{Operation: name, Err: fmt.Errorf("no registry configured")}
	}
	op, ok := c.config.Registry.Lookup(name)
	if !ok {
		return nil, &ConstructionError{Operation: name, Err: fmt.Errorf("operation not registered")}
	}
	return op, nil
}

// withLogger attaches the configured logger when ctx has none.
func (c *Client) withLogger(ctx context.Context) context.Context {
	if c.config.Logger == nil {
		return ctx
	}
	if zerolog.Ctx(ctx).GetLevel() != zerolog.Disabled {
		return ctx
	}
	return c.config.Logger.WithContext(ctx)
}
