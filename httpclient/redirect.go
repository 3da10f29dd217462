package httpclient

import (
	"context"
	"fmt"
	"net/http"
)

// DefaultMaxRedirects is the hop budget of FollowRedirects.
const DefaultMaxRedirects = 10

// FollowRedirects re-issues the request against the Location of 301, 302,
// 303, 307 and 308 responses, up to maxHops times (DefaultMaxRedirects when
// maxHops <= 0).
//
//   - 301, 302 and 303 switch to GET and drop the body, except for HEAD.
//   - 307 and 308 keep the method and body.
//   - A relative Location resolves against the current URL.
//   - Credentials (Authorization, Cookie) are dropped when the host changes.
//
// Exceeding the budget fails with ErrTooManyRedirects; a redirect without a
// Location fails with ErrMissingLocation. The returned Response.Request is
// the last request sent.
func FollowRedirects(maxHops int) Middleware {
	if maxHops <= 0 {
		maxHops = DefaultMaxRedirects
	}
	return func(next Sender) Sender {
		return SenderFunc(func(ctx context.Context, req *Request) (*Response, error) {
			cur := req
			for hops := 0; ; hops++ {
				resp, err := next.Send(ctx, cur)
				if err != nil {
					return nil, err
				}
				if !isRedirect(resp.StatusCode) {
					return resp, nil
				}
				if hops >= maxHops {
					return nil, transportErr(cur, fmt.Errorf("%w: stopped after %d", ErrTooManyRedirects, maxHops))
				}

				nextReq, err := redirectRequest(cur, resp)
				if err != nil {
					return nil, transportErr(cur, err)
				}
				RedirectKey.Set(&nextReq.Extensions, hops+1)
				cur = nextReq
			}
		})
	}
}

func isRedirect(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

func redirectRequest(cur *Request, resp *Response) (*Request, error) {
	loc := resp.Header.Get("Location")
	if loc == "" {
		return nil, fmt.Errorf("%w: status %d", ErrMissingLocation, resp.StatusCode)
	}
	target, err := cur.URL.Parse(loc)
	if err != nil {
		return nil, fmt.Errorf("invalid Location %q: %w", loc, err)
	}

	out := cur.Clone()
	out.URL = target

	switch resp.StatusCode {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther:
		if out.Method != http.MethodGet && out.Method != http.MethodHead {
			out.Method = http.MethodGet
		}
		out.Body = nil
		out.Header.Del("Content-Type")
		out.Header.Del("Content-Length")
	}

	if target.Host != cur.URL.Host {
		out.Header.Del("Authorization")
		out.Header.Del("Proxy-Authorization")
		out.Header.Del("Cookie")
	}
	return out, nil
}
