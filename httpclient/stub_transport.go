package httpclient

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"sync"
)

// StubTransport is a terminal Sender for tests. It answers from queued or
// matched stubs and records every request it receives.
//
// Resolution order per request:
//   - the next queued outcome (Enqueue, EnqueueError)
//   - the first stub whose matcher accepts the request
//   - the default response or error
//
// Example:
//
//	stub := httpclient.NewStubTransport().
//	    Enqueue(503, "").
//	    Enqueue(503, "").
//	    StubResponse(200, `{"id":42}`)
//	client, _ := httpclient.New(baseURL,
//	    httpclient.WithTransport(stub),
//	    httpclient.WithRetryConfig(retryCfg),
//	)
type StubTransport struct {
	mu          sync.RWMutex
	queue       []stub
	stubs       []stub
	defaultResp *stub
	defaultErr  error
	requests    []*Request
	requestHook func(*Request)
}

var _ Sender = (*StubTransport)(nil)

type stub struct {
	matcher func(*Request) bool
	status  int
	header  http.Header
	body    string
	err     error
}

func (s stub) response(req *Request) *Response {
	header := s.header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	return &Response{
		StatusCode: s.status,
		Status:     strconv.Itoa(s.status) + " " + http.StatusText(s.status),
		Header:     header,
		Body:       []byte(s.body),
		Request:    req,
	}
}

// NewStubTransport creates an empty StubTransport.
func NewStubTransport() *StubTransport {
	return &StubTransport{}
}

// StubResponse answers every otherwise unmatched request with statusCode
// and body.
func (m *StubTransport) StubResponse(statusCode int, body string) *StubTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultResp = &stub{status: statusCode, body: body}
	return m
}

// StubError fails every otherwise unmatched request with err.
func (m *StubTransport) StubError(err error) *StubTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultErr = err
	return m
}

// Enqueue adds a one-shot response consumed by the next request.
func (m *StubTransport) Enqueue(statusCode int, body string) *StubTransport {
	return m.EnqueueWithHeader(statusCode, nil, body)
}

// EnqueueWithHeader is Enqueue with response headers.
func (m *StubTransport) EnqueueWithHeader(statusCode int, header http.Header, body string) *StubTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, stub{status: statusCode, header: header, body: body})
	return m
}

// EnqueueError adds a one-shot error consumed by the next request.
func (m *StubTransport) EnqueueError(err error) *StubTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, stub{err: err})
	return m
}

// StubPath stubs requests matching the path to return the given response.
func (m *StubTransport) StubPath(path string, statusCode int, body string) *StubTransport {
	return m.StubFunc(func(req *Request) bool {
		return req.URL.Path == path
	}, statusCode, body)
}

// StubPathRegex stubs requests matching the path regex to return the given response.
func (m *StubTransport) StubPathRegex(pattern string, statusCode int, body string) *StubTransport {
	re := regexp.MustCompile(pattern)
	return m.StubFunc(func(req *Request) bool {
		return re.MatchString(req.URL.Path)
	}, statusCode, body)
}

// StubOperation stubs requests built for the named operation.
func (m *StubTransport) StubOperation(name string, statusCode int, body string) *StubTransport {
	return m.StubFunc(func(req *Request) bool {
		return req.OperationName() == name
	}, statusCode, body)
}

// StubMethod stubs requests with the given method to return the given response.
func (m *StubTransport) StubMethod(method string, statusCode int, body string) *StubTransport {
	return m.StubFunc(func(req *Request) bool {
		return req.Method == method
	}, statusCode, body)
}

// StubFunc stubs requests matching the predicate to return the given response.
func (m *StubTransport) StubFunc(matcher func(*Request) bool, statusCode int, body string) *StubTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stubs = append(m.stubs, stub{matcher: matcher, status: statusCode, body: body})
	return m
}

// StubFuncError stubs requests matching the predicate to return the given error.
func (m *StubTransport) StubFuncError(matcher func(*Request) bool, err error) *StubTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stubs = append(m.stubs, stub{matcher: matcher, err: err})
	return m
}

// OnRequest sets a hook that is called for each request.
// Useful for assertions or capturing request details.
func (m *StubTransport) OnRequest(fn func(*Request)) *StubTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestHook = fn
	return m
}

// Send implements Sender. The recorded request is a clone, so later edits
// by the caller do not change what was sent.
func (m *StubTransport) Send(ctx context.Context, req *Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, transportErr(req, err)
	}

	m.mu.Lock()
	m.requests = append(m.requests, req.Clone())
	hook := m.requestHook
	var queued *stub
	if len(m.queue) > 0 {
		queued = &m.queue[0]
		m.queue = m.queue[1:]
	}
	m.mu.Unlock()

	if hook != nil {
		hook(req)
	}
	if queued != nil {
		return m.outcome(*queued, req)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	// Check stubs in order (first match wins)
	for _, s := range m.stubs {
		if s.matcher(req) {
			return m.outcome(s, req)
		}
	}

	if m.defaultErr != nil {
		return nil, transportErr(req, m.defaultErr)
	}
	if m.defaultResp != nil {
		return m.defaultResp.response(req), nil
	}

	return nil, transportErr(req, fmt.Errorf("no stub found for request: %s %s", req.Method, req.URL))
}

func (m *StubTransport) outcome(s stub, req *Request) (*Response, error) {
	if s.err != nil {
		return nil, transportErr(req, s.err)
	}
	return s.response(req), nil
}

// Requests returns all requests made through this transport.
func (m *StubTransport) Requests() []*Request {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*Request{}, m.requests...)
}

// RequestCount returns the number of requests made.
func (m *StubTransport) RequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.requests)
}

// LastRequest returns the most recent request, or nil if none.
func (m *StubTransport) LastRequest() *Request {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.requests) == 0 {
		return nil
	}
	return m.requests[len(m.requests)-1]
}

// Reset clears all recorded requests and stubs.
func (m *StubTransport) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
	m.queue = nil
	m.stubs = nil
	m.defaultResp = nil
	m.defaultErr = nil
	m.requestHook = nil
}
