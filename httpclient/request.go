package httpclient

import (
	"bytes"
	"io"
	"net/http"
	"net/url"
)

// Request is the transport-agnostic request value produced by the Builder
// and carried through the middleware chain.
//
// Header keeps every value of a repeated header as its own line; use
// Header.Add to append and Header.Set to replace. Names are canonicalized so
// comparison is case-insensitive.
//
// Middleware may edit Header in place. Anything that re-issues a request
// (Retry, FollowRedirects) works on a Clone so each attempt starts from the
// state the caller handed over.
type Request struct {
	Method string
	URL    *url.URL
	Header http.Header

	// Body is the fully encoded payload. Nil means no body.
	Body []byte

	// Extensions carries typed metadata for middleware. See ExtensionKey.
	Extensions Extensions
}

// NewRequest creates a Request for an absolute URL.
func NewRequest(method, rawURL string, body []byte) (*Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &ConstructionError{Err: err}
	}
	if !u.IsAbs() {
		return nil, constructionErr("", "", "url %q is not absolute", rawURL)
	}
	return &Request{
		Method: method,
		URL:    u,
		Header: make(http.Header),
		Body:   body,
	}, nil
}

// Clone returns a deep copy of the request. The body bytes are shared since
// nothing in the pipeline mutates them.
func (r *Request) Clone() *Request {
	out := &Request{
		Method:     r.Method,
		Header:     r.Header.Clone(),
		Body:       r.Body,
		Extensions: r.Extensions.clone(),
	}
	if out.Header == nil {
		out.Header = make(http.Header)
	}
	if r.URL != nil {
		u := *r.URL
		if r.URL.User != nil {
			user := *r.URL.User
			u.User = &user
		}
		out.URL = &u
	}
	return out
}

// ContentType returns the Content-Type header.
func (r *Request) ContentType() string {
	return r.Header.Get("Content-Type")
}

// Operation returns the operation this request was built from, or nil for
// ad-hoc requests.
func (r *Request) Operation() *Operation {
	return OperationKey.Get(r.Extensions)
}

// OperationName returns the operation name or "" for ad-hoc requests.
func (r *Request) OperationName() string {
	if op := r.Operation(); op != nil {
		return op.Name()
	}
	return ""
}

// PathTemplate returns the unexpanded path template, falling back to the
// concrete path for requests built without one.
func (r *Request) PathTemplate() string {
	if t, ok := PathTemplateKey.Lookup(r.Extensions); ok {
		return t
	}
	if r.URL != nil {
		return r.URL.Path
	}
	return ""
}

// bodyReader returns a fresh reader over Body, or nil when there is none.
func (r *Request) bodyReader() io.Reader {
	if r.Body == nil {
		return nil
	}
	return bytes.NewReader(r.Body)
}
