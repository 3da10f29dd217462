package httpclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
)

// RequestBuilder provides a fluent API for requests that have no declared
// Operation. It goes through the same middleware chain as Call.
//
// Create a RequestBuilder using Client.Request():
//
//	var user User
//	resp, err := client.Request("CreateUser").
//	    Path("/users").
//	    Body(newUser).
//	    Decode(&user).
//	    Post(ctx)
type RequestBuilder struct {
	client        *Client
	operationName string
	path          string
	pathParams    map[string]string
	query         Pairs
	headers       http.Header
	body          []byte
	contentType   string
	result        any
	errorResult   any
	err           error

	// Multipart upload fields
	multipart *Multipart
}

// Request creates a new RequestBuilder. The name is used for span names,
// metrics, logs and retry eligibility like an operation name; it may be empty.
func (c *Client) Request(operationName string) *RequestBuilder {
	return &RequestBuilder{
		client:        c,
		operationName: operationName,
		headers:       make(http.Header),
		pathParams:    make(map[string]string),
	}
}

// Path sets the request path template, relative to the base URL.
//
// Example:
//
//	client.Request("GetUser").
//	    Path("/users/{id}").
//	    PathParam("id", userID).
//	    Get(ctx)
func (rb *RequestBuilder) Path(path string) *RequestBuilder {
	rb.path = path
	return rb
}

// PathParam binds a {key} placeholder. The value is escaped as one segment.
func (rb *RequestBuilder) PathParam(key, value string) *RequestBuilder {
	rb.pathParams[key] = value
	return rb
}

// Query sets a query parameter, replacing earlier values of key.
func (rb *RequestBuilder) Query(key, value string) *RequestBuilder {
	rb.dropQuery(key)
	rb.query.Add(key, value)
	return rb
}

// QueryValue appends v encoded the way a query parameter of an operation
// would be: slices repeat the key, structs and maps expand to dotted keys,
// nil and None add nothing.
func (rb *RequestBuilder) QueryValue(key string, v any) *RequestBuilder {
	pairs, err := rb.client.builder.Encoder().Encode(key, v, StrategyInfer, CollectionMulti)
	if err != nil {
		rb.fail(&ConstructionError{Operation: rb.operationName, Param: key, Err: err})
		return rb
	}
	rb.query = append(rb.query, pairs...)
	return rb
}

// Queries sets multiple query parameters, in key order.
func (rb *RequestBuilder) Queries(params map[string]string) *RequestBuilder {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		rb.Query(k, params[k])
	}
	return rb
}

func (rb *RequestBuilder) dropQuery(key string) {
	kept := rb.query[:0]
	for _, p := range rb.query {
		if p.Key != key {
			kept = append(kept, p)
		}
	}
	rb.query = kept
}

// Header sets a single request header, replacing client defaults.
//
// Example:
//
//	client.Request("CreateUser").
//	    Header("Idempotency-Key", key).
//	    Post(ctx, "/users")
func (rb *RequestBuilder) Header(key, value string) *RequestBuilder {
	rb.headers.Set(key, value)
	return rb
}

// AddHeader appends a header line, keeping earlier values of key.
func (rb *RequestBuilder) AddHeader(key, value string) *RequestBuilder {
	rb.headers.Add(key, value)
	return rb
}

// Headers sets multiple request headers.
func (rb *RequestBuilder) Headers(headers map[string]string) *RequestBuilder {
	for k, v := range headers {
		rb.headers.Set(k, v)
	}
	return rb
}

// Body sets the request body with automatic content type detection.
//
// Encoding rules:
//   - string: raw text (Content-Type: text/plain)
//   - []byte: raw bytes (Content-Type: application/octet-stream)
//   - io.Reader: read fully, no content type
//   - url.Values: form encoded (Content-Type: application/x-www-form-urlencoded)
//   - *Multipart: multipart/form-data
//   - anything else: JSON (Content-Type: application/json)
func (rb *RequestBuilder) Body(v any) *RequestBuilder {
	if v == nil {
		return rb
	}
	switch v.(type) {
	case string, []byte, io.Reader, url.Values:
		return rb.setBody(BodyRaw, v)
	default:
		return rb.setBody(BodyJSON, v)
	}
}

// BodyJSON explicitly encodes the body as JSON.
func (rb *RequestBuilder) BodyJSON(v any) *RequestBuilder {
	return rb.setBody(BodyJSON, v)
}

// BodyXML explicitly encodes the body as XML.
func (rb *RequestBuilder) BodyXML(v any) *RequestBuilder {
	return rb.setBody(BodyXML, v)
}

// BodyForm sets form data as the request body, fields in key order.
//
// Example:
//
//	client.Request("Login").
//	    BodyForm(map[string]string{
//	        "username": "john",
//	        "password": "secret",
//	    }).
//	    Post(ctx, "/login")
func (rb *RequestBuilder) BodyForm(data map[string]string) *RequestBuilder {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var form Pairs
	for _, k := range keys {
		form.Add(k, data[k])
	}
	rb.body = []byte(form.Encode())
	rb.contentType = contentTypeForm
	return rb
}

func (rb *RequestBuilder) setBody(enc BodyEncoding, v any) *RequestBuilder {
	if v == nil {
		return rb
	}
	body, contentType, err := encodeBody(enc, v)
	if err != nil {
		rb.fail(&ConstructionError{Operation: rb.operationName, Err: fmt.Errorf("encode body: %w", err)})
		return rb
	}
	rb.body = body
	rb.contentType = contentType
	return rb
}

// File adds a file read from filePath to a multipart body.
//
// Example:
//
//	resp, err := client.Request("UploadDocument").
//	    File("document", "/path/to/report.pdf").
//	    FormField("title", "Q4 Report").
//	    Post(ctx, "/documents")
func (rb *RequestBuilder) File(fieldName, filePath string) *RequestBuilder {
	rb.multipartBody().File(fieldName, filePath)
	return rb
}

// FileReader adds a file part whose content comes from reader.
func (rb *RequestBuilder) FileReader(fieldName, fileName string, reader io.Reader) *RequestBuilder {
	rb.multipartBody().Reader(fieldName, fileName, reader)
	return rb
}

// FormField adds a text field to a multipart body.
func (rb *RequestBuilder) FormField(key, value string) *RequestBuilder {
	rb.multipartBody().Text(key, value)
	return rb
}

func (rb *RequestBuilder) multipartBody() *Multipart {
	if rb.multipart == nil {
		rb.multipart = NewMultipart()
	}
	return rb.multipart
}

// Decode sets the target for a 2xx response body. JSON or XML is picked from
// the response Content-Type; *[]byte and *string receive the raw body.
//
// Example:
//
//	var users []User
//	resp, err := client.Request("GetUsers").
//	    Decode(&users).
//	    Get(ctx, "/users")
func (rb *RequestBuilder) Decode(v any) *RequestBuilder {
	rb.result = v
	return rb
}

// DecodeError sets the target for a non-2xx response body. The response is
// still returned with a nil error; check resp.IsError().
//
// Example:
//
//	var apiErr APIError
//	resp, err := client.Request("CreateUser").
//	    Decode(&user).
//	    DecodeError(&apiErr).
//	    Post(ctx, "/users")
func (rb *RequestBuilder) DecodeError(v any) *RequestBuilder {
	rb.errorResult = v
	return rb
}

// Get executes a GET request. An optional path overrides Path.
func (rb *RequestBuilder) Get(ctx context.Context, path ...string) (*Response, error) {
	return rb.execute(ctx, http.MethodGet, path)
}

// Head executes a HEAD request.
func (rb *RequestBuilder) Head(ctx context.Context, path ...string) (*Response, error) {
	return rb.execute(ctx, http.MethodHead, path)
}

// Post executes a POST request.
func (rb *RequestBuilder) Post(ctx context.Context, path ...string) (*Response, error) {
	return rb.execute(ctx, http.MethodPost, path)
}

// Put executes a PUT request.
func (rb *RequestBuilder) Put(ctx context.Context, path ...string) (*Response, error) {
	return rb.execute(ctx, http.MethodPut, path)
}

// Patch executes a PATCH request.
func (rb *RequestBuilder) Patch(ctx context.Context, path ...string) (*Response, error) {
	return rb.execute(ctx, http.MethodPatch, path)
}

// Delete executes a DELETE request.
func (rb *RequestBuilder) Delete(ctx context.Context, path ...string) (*Response, error) {
	return rb.execute(ctx, http.MethodDelete, path)
}

// Build returns the request without sending it.
func (rb *RequestBuilder) Build(method string) (*Request, error) {
	if rb.err != nil {
		return nil, rb.err
	}

	tmpl, err := ParsePathTemplate(rb.path)
	if err != nil {
		return nil, &ConstructionError{Operation: rb.operationName, Err: err}
	}
	path, err := tmpl.ExpandStrings(rb.pathParams)
	if err != nil {
		return nil, &ConstructionError{Operation: rb.operationName, Err: err}
	}

	b := rb.client.builder
	req := &Request{
		Method: method,
		URL:    b.resolve(path, rb.query),
		Header: b.headers.Clone(),
	}
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	for k, vs := range rb.headers {
		req.Header[k] = append([]string(nil), vs...)
	}

	body, contentType := rb.body, rb.contentType
	if rb.multipart != nil {
		body, contentType, err = rb.multipart.Encode()
		if err != nil {
			return nil, &ConstructionError{Operation: rb.operationName, Err: err}
		}
	}
	req.Body = body
	if contentType != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", contentType)
	}

	if rb.operationName != "" {
		params := make([]Param, 0, len(tmpl.Placeholders()))
		for _, name := range tmpl.Placeholders() {
			params = append(params, Path(name))
		}
		op, err := NewOperation(rb.operationName, method, rb.path, params)
		if err != nil {
			return nil, err
		}
		OperationKey.Set(&req.Extensions, op)
	}
	PathTemplateKey.Set(&req.Extensions, joinPath(b.baseURL.Path, tmpl.String()))
	return req, nil
}

// execute builds and sends the request.
func (rb *RequestBuilder) execute(ctx context.Context, method string, path []string) (*Response, error) {
	if len(path) > 0 {
		rb.path = path[0]
	}
	req, err := rb.Build(method)
	if err != nil {
		return nil, err
	}

	resp, err := rb.client.Send(ctx, req)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.IsSuccess() && rb.result != nil:
		if err := rb.client.decoder.Decode(resp, responseKindFor(resp, rb.result), rb.result); err != nil {
			return resp, err
		}
	case !resp.IsSuccess() && rb.errorResult != nil && len(resp.Body) > 0:
		if err := newStatusError(resp).DecodeBody(rb.errorResult); err != nil {
			return resp, err
		}
	}
	return resp, nil
}

func (rb *RequestBuilder) fail(err error) {
	if rb.err == nil {
		rb.err = err
	}
}

func responseKindFor(resp *Response, out any) ResponseKind {
	switch out.(type) {
	case *[]byte, *string, io.Writer:
		return ResponseRaw
	}
	return kindForContentType(resp.ContentType())
}
