package httpclient

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"sort"
	"strings"

	"golang.org/x/sync/singleflight"
)

// CoalesceKey identifies requests that may share one exchange: method,
// scheme, host and path, the query with key and value order ignored, the
// body, and the credential and negotiation headers in coalesceHeaders.
func CoalesceKey(req *Request) string {
	h := sha256.New()
	field := func(s string) {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}

	field(req.Method)
	if req.URL != nil {
		field(req.URL.Scheme)
		field(strings.ToLower(req.URL.Host))
		field(req.URL.EscapedPath())

		query := req.URL.Query()
		keys := make([]string, 0, len(query))
		for k := range query {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			values := append([]string(nil), query[k]...)
			sort.Strings(values)
			for _, v := range values {
				field(k + "=" + v)
			}
		}
	}
	field(string(req.Body))
	for _, name := range coalesceHeaders {
		field(name + ":" + strings.Join(req.Header.Values(name), ","))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// coalesceHeaders are folded into the key so callers with different
// credentials or content negotiation never share a response.
var coalesceHeaders = []string{"Authorization", "Cookie", "Accept", "Accept-Encoding", "Accept-Language"}

// Coalesce collapses concurrent identical GET and HEAD requests into one
// call below this layer; every waiting caller receives its own copy of the
// shared outcome. Identity is method, URL (query order ignored), body and the
// credential and negotiation headers.
//
// Place it outside Retry so one retry loop serves all callers. The first
// caller's context governs the shared call.
func Coalesce() Middleware {
	return func(next Sender) Sender {
		var group singleflight.Group
		return SenderFunc(func(ctx context.Context, req *Request) (*Response, error) {
			if req.Method != http.MethodGet && req.Method != http.MethodHead {
				return next.Send(ctx, req)
			}

			ch := group.DoChan(CoalesceKey(req), func() (interface{}, error) {
				return next.Send(ctx, req)
			})
			select {
			case <-ctx.Done():
				return nil, transportErr(req, ctx.Err())
			case res := <-ch:
				if res.Err != nil {
					return nil, res.Err
				}
				return copyResponse(res.Val.(*Response)), nil
			}
		})
	}
}

func copyResponse(resp *Response) *Response {
	out := *resp
	out.Header = resp.Header.Clone()
	out.Body = append([]byte(nil), resp.Body...)
	return &out
}
