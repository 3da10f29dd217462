package httpclient

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"net/url"
)

// Compile-time interface check.
var _ Sender = (*HTTPTransport)(nil)

// errBodyTooLarge is wrapped when a response exceeds MaxResponseBodyBytes.
var errBodyTooLarge = errors.New("response body exceeds limit")

// HTTPTransport is the terminal Sender. It performs one network exchange per
// call: it never follows redirects and always reads the whole body before
// returning, so the connection goes back to the pool.
type HTTPTransport struct {
	client       *http.Client
	maxBodyBytes int64
	networkTrace bool
	clientTrace  func(context.Context) *httptrace.ClientTrace
	metrics      *metrics
}

// TransportOption configures an HTTPTransport.
type TransportOption func(*HTTPTransport)

// WithTransportRoundTripper replaces the http.Transport built from Config.
// Use it to plug in a test double or a transport owned elsewhere.
func WithTransportRoundTripper(rt http.RoundTripper) TransportOption {
	return func(t *HTTPTransport) {
		t.client.Transport = rt
	}
}

// WithTransportNetworkTrace toggles httptrace timing capture. When on,
// responses carry TraceInfo and the active span receives DNS, connect, TLS
// and TTFB events.
func WithTransportNetworkTrace(enabled bool) TransportOption {
	return func(t *HTTPTransport) {
		t.networkTrace = enabled
	}
}

// WithTransportClientTrace installs an extra httptrace.ClientTrace per request.
func WithTransportClientTrace(f func(context.Context) *httptrace.ClientTrace) TransportOption {
	return func(t *HTTPTransport) {
		t.clientTrace = f
	}
}

// NewHTTPTransport creates a terminal transport from cfg.
func NewHTTPTransport(cfg Config, opts ...TransportOption) *HTTPTransport {
	return newHTTPTransport(cfg, nil, nil, false, nil, opts...)
}

func newHTTPTransport(
	cfg Config,
	tlsCfg *tls.Config,
	proxyURL *url.URL,
	proxyFromEnv bool,
	m *metrics,
	opts ...TransportOption,
) *HTTPTransport {
	t := &HTTPTransport{
		client: &http.Client{
			Transport: cfg.buildTransport(tlsCfg, proxyURL, proxyFromEnv),
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		maxBodyBytes: cfg.MaxResponseBodyBytes,
		metrics:      m,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Send implements Sender.
func (t *HTTPTransport) Send(ctx context.Context, req *Request) (*Response, error) {
	var nt *networkTrace
	if t.networkTrace {
		nt = newNetworkTrace()
		ctx = httptrace.WithClientTrace(ctx, nt.clientTrace())
	}
	if t.clientTrace != nil {
		if ct := t.clientTrace(ctx); ct != nil {
			ctx = httptrace.WithClientTrace(ctx, ct)
		}
	}

	hreq, err := t.toHTTPRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	hresp, err := t.client.Do(hreq)
	if err != nil {
		var ue *url.Error
		if errors.As(err, &ue) {
			err = ue.Err
		}
		return nil, newTransportError(req, err)
	}
	defer hresp.Body.Close()

	body, err := t.readBody(hresp.Body)
	if err != nil {
		return nil, newTransportError(req, err)
	}

	resp := &Response{
		StatusCode: hresp.StatusCode,
		Status:     hresp.Status,
		Header:     hresp.Header,
		Body:       body,
		Request:    req,
	}

	if nt != nil {
		resp.traceInfo = nt.finish(ctx, t.metrics, requestAttributes(req))
	}
	return resp, nil
}

func (t *HTTPTransport) toHTTPRequest(ctx context.Context, req *Request) (*http.Request, error) {
	if req.URL == nil {
		return nil, constructionErr(req.OperationName(), "", "request has no URL")
	}
	hreq, err := http.NewRequestWithContext(ctx, req.Method, req.URL.String(), req.bodyReader())
	if err != nil {
		return nil, &ConstructionError{Operation: req.OperationName(), Err: err}
	}
	hreq.Header = req.Header.Clone()
	if hreq.Header == nil {
		hreq.Header = make(http.Header)
	}
	if host := hreq.Header.Get("Host"); host != "" {
		hreq.Host = host
		hreq.Header.Del("Host")
	}
	return hreq, nil
}

func (t *HTTPTransport) readBody(r io.Reader) ([]byte, error) {
	if t.maxBodyBytes <= 0 {
		return io.ReadAll(r)
	}
	body, err := io.ReadAll(io.LimitReader(r, t.maxBodyBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > t.maxBodyBytes {
		return nil, fmt.Errorf("%w: %d bytes", errBodyTooLarge, t.maxBodyBytes)
	}
	return body, nil
}

// CloseIdleConnections closes idle pooled connections.
func (t *HTTPTransport) CloseIdleConnections() {
	t.client.CloseIdleConnections()
}
