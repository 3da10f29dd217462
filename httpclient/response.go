package httpclient

import (
	"fmt"
	"net/http"
)

// Response is a fully buffered response. The terminal transport reads and
// closes the stream before the response enters the middleware chain, so
// every layer sees the same bytes.
type Response struct {
	StatusCode int
	// Status is the status line text, e.g. "200 OK".
	Status string
	Header http.Header
	Body   []byte

	// Request produced this response; after redirects, the last hop.
	Request *Request

	traceInfo *TraceInfo
}

func (r *Response) String() string { return string(r.Body) }

// IsSuccess reports a 2xx status, the range the decoder accepts.
func (r *Response) IsSuccess() bool { return r.StatusCode >= 200 && r.StatusCode < 300 }

// IsError reports a 4xx or 5xx status. 1xx and 3xx are neither.
func (r *Response) IsError() bool { return r.StatusCode >= 400 }

func (r *Response) ContentType() string { return r.Header.Get("Content-Type") }

// TraceInfo is nil unless the terminal transport captured network timing,
// which clients built with New do by default.
func (r *Response) TraceInfo() *TraceInfo { return r.traceInfo }

// TraceInfo breaks one exchange into phases, each rendered as a
// time.Duration string. Phases that did not happen (a pooled connection
// skips DNS and connect) read "0s"; TLSHandshake stays empty for plain HTTP.
//
//	DNS Lookup:    2.1ms
//	TCP Connect:   15.3ms
//	TLS Handshake: 28.7ms
//	Server Time:   45.2ms
//	Total Time:    91.3ms
type TraceInfo struct {
	DNSLookup    string
	ConnTime     string
	TLSHandshake string
	// ServerTime runs from the request being written to the first
	// response byte.
	ServerTime string
	// TotalTime includes reading the body.
	TotalTime string

	ConnReused bool
	RemoteAddr string
}

func (t *TraceInfo) String() string {
	if t == nil {
		return "TraceInfo: nil (tracing was not enabled)"
	}
	return fmt.Sprintf(
		"DNS Lookup:    %s\nTCP Connect:   %s\nTLS Handshake: %s\nServer Time:   %s\nTotal Time:    %s",
		t.DNSLookup, t.ConnTime, t.TLSHandshake, t.ServerTime, t.TotalTime,
	)
}

func (r *Response) requestExtensions() Extensions {
	if r.Request == nil {
		return Extensions{}
	}
	return r.Request.Extensions
}
