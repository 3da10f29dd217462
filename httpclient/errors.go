package httpclient

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// Sentinel errors returned (wrapped) by the pipeline. Compare with errors.Is.
var (
	// ErrTimeout is wrapped by a TransportError when the Timeout middleware
	// deadline elapses before the wrapped sender returns.
	ErrTimeout = errors.New("httpclient: request timed out")

	// ErrCircuitOpen is returned when the circuit breaker rejects a call.
	ErrCircuitOpen = errors.New("httpclient: circuit breaker is open")

	// ErrRateLimited is returned when a rate limiter rejects a call in
	// fail-fast mode.
	ErrRateLimited = errors.New("httpclient: rate limit exceeded")

	// ErrConcurrencyLimit is returned when the concurrency gate is full and
	// configured to reject instead of queueing.
	ErrConcurrencyLimit = errors.New("httpclient: concurrency limit reached")

	// ErrTooManyRedirects is returned when redirect following exceeds its hop budget.
	ErrTooManyRedirects = errors.New("httpclient: too many redirects")

	// ErrMissingLocation is returned for a redirect status without a Location header.
	ErrMissingLocation = errors.New("httpclient: redirect without Location header")

	// ErrNoResponse is returned when a sender produced neither a response nor an error.
	ErrNoResponse = errors.New("httpclient: sender returned no response")

	// ErrFaultInjected is the cause of errors produced by FaultInjection.
	ErrFaultInjected = errors.New("httpclient: injected fault")
)

// Kind classifies an error returned by the client.
type Kind int

const (
	// KindUnknown is any error that was not produced by this package.
	KindUnknown Kind = iota
	// KindConstruction means the request could not be built. Never retried.
	KindConstruction
	// KindTransport means the exchange failed before a response was received.
	KindTransport
	// KindStatus means the server answered with a non-2xx status.
	KindStatus
	// KindDecode means a 2xx body could not be decoded into the expected type.
	KindDecode
)

func (k Kind) String() string {
	switch k {
	case KindConstruction:
		return "construction"
	case KindTransport:
		return "transport"
	case KindStatus:
		return "status"
	case KindDecode:
		return "decode"
	default:
		return "unknown"
	}
}

// KindOf reports the Kind of err by walking its wrap chain.
func KindOf(err error) Kind {
	var (
		ce *ConstructionError
		te *TransportError
		se *StatusError
		de *DecodeError
	)
	switch {
	case err == nil:
		return KindUnknown
	case errors.As(err, &ce):
		return KindConstruction
	case errors.As(err, &de):
		return KindDecode
	case errors.As(err, &se):
		return KindStatus
	case errors.As(err, &te):
		return KindTransport
	default:
		return KindUnknown
	}
}

// ConstructionError reports an invalid operation declaration or an argument
// that could not be encoded. It is raised before any network activity.
type ConstructionError struct {
	// Operation is the operation name, if known.
	Operation string
	// Param is the offending parameter name, if any.
	Param string
	Err   error
}

func (e *ConstructionError) Error() string {
	var b strings.Builder
	b.WriteString("httpclient: build")
	if e.Operation != "" {
		b.WriteString(" " + e.Operation)
	}
	if e.Param != "" {
		b.WriteString(" param " + strconv.Quote(e.Param))
	}
	b.WriteString(": ")
	b.WriteString(e.Err.Error())
	return b.String()
}

func (e *ConstructionError) Unwrap() error { return e.Err }

func constructionErr(op, param string, format string, args ...any) *ConstructionError {
	return &ConstructionError{Operation: op, Param: param, Err: fmt.Errorf(format, args...)}
}

// TransportError reports a failure to complete the network exchange:
// connection refused, DNS failure, TLS failure, timeout, cancellation, or an
// admission-control rejection (circuit open, rate limited).
type TransportError struct {
	Method string
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	if e.Method == "" && e.URL == "" {
		return "httpclient: transport: " + e.Err.Error()
	}
	return fmt.Sprintf("httpclient: %s %s: %v", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Timeout reports whether the failure was a deadline overrun.
func (e *TransportError) Timeout() bool {
	return classifyError(e.Err) == ErrorTypeTimeout
}

func transportErr(req *Request, err error) *TransportError {
	var te *TransportError
	if errors.As(err, &te) {
		return te
	}
	return newTransportError(req, err)
}

// newTransportError wraps err even when it already contains a TransportError.
func newTransportError(req *Request, err error) *TransportError {
	out := &TransportError{Err: err}
	if req != nil {
		out.Method = req.Method
		if req.URL != nil {
			out.URL = req.URL.Redacted()
		}
	}
	return out
}

// StatusError is returned for any response outside the 2xx range. The raw
// body is preserved so callers can parse provider-specific error payloads.
//
// Example:
//
//	var se *httpclient.StatusError
//	if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
//	    var apiErr struct{ Message string `json:"message"` }
//	    _ = se.DecodeBody(&apiErr)
//	}
type StatusError struct {
	StatusCode int
	Status     string
	Header     map[string][]string
	Body       []byte
	Method     string
	URL        string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("httpclient: %s %s: status %d", e.Method, e.URL, e.StatusCode)
	if len(e.Body) > 0 {
		msg += ": " + truncate(string(e.Body), 256)
	}
	return msg
}

// DecodeBody unmarshals the raw error body as JSON into v.
func (e *StatusError) DecodeBody(v any) error {
	if len(e.Body) == 0 {
		return &DecodeError{Err: errEmptyBody}
	}
	return decodeJSON(e.Body, v)
}

// Temporary reports whether the status usually indicates a transient condition.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

func newStatusError(resp *Response) *StatusError {
	se := &StatusError{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Header:     resp.Header.Clone(),
		Body:       resp.Body,
	}
	if resp.Request != nil {
		se.Method = resp.Request.Method
		if resp.Request.URL != nil {
			se.URL = resp.Request.URL.Redacted()
		}
	}
	return se
}

// PathSegment is one step into a structured payload: either an object field
// or an array index.
type PathSegment struct {
	Field string
	Index int
	// IsIndex distinguishes index 0 from an empty field name.
	IsIndex bool
}

// Field returns a segment naming an object field.
func Field(name string) PathSegment { return PathSegment{Field: name} }

// Index returns a segment naming an array element.
func Index(i int) PathSegment { return PathSegment{Index: i, IsIndex: true} }

// DecodePath locates a decoding failure inside a payload, root first.
type DecodePath []PathSegment

// String renders the path as `user.addresses[2].zip`. The root renders as ".".
func (p DecodePath) String() string {
	if len(p) == 0 {
		return "."
	}
	var b strings.Builder
	for i, seg := range p {
		if seg.IsIndex {
			b.WriteByte('[')
			b.WriteString(strconv.Itoa(seg.Index))
			b.WriteByte(']')
			continue
		}
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(seg.Field)
	}
	return b.String()
}

// DecodeError reports a 2xx body that could not be decoded into the
// expected type. Path points at the failing location.
type DecodeError struct {
	Body []byte
	Path DecodePath
	Err  error
}

func (e *DecodeError) Error() string {
	if len(e.Path) == 0 {
		return "httpclient: decode: " + e.Err.Error()
	}
	return fmt.Sprintf("httpclient: decode at %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ErrorDecoder converts a non-2xx response into a caller-defined error.
// Returning nil falls back to *StatusError.
type ErrorDecoder func(resp *Response) error

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func decodeJSON(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return &DecodeError{Body: body, Err: err}
	}
	return nil
}
