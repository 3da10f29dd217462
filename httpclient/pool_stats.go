package httpclient

import (
	"net/http"
	"time"
)

// PoolStats is a snapshot of the connection pool settings in effect.
// Zero values carry net/http's meaning: no limit for the counts, no expiry
// for IdleConnTimeout, and the stdlib default of 2 for MaxIdleConnsPerHost.
type PoolStats struct {
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int
	IdleConnTimeout     time.Duration
	DisableKeepAlives   bool
	HTTP2               bool
}

// PoolStats reads the settings from the underlying *http.Transport. A custom
// RoundTripper that does not expose one yields an empty PoolStats.
func (t *HTTPTransport) PoolStats() PoolStats {
	base := baseTransport(t.client.Transport)
	if base == nil {
		return PoolStats{}
	}
	return PoolStats{
		MaxIdleConns:        base.MaxIdleConns,
		MaxIdleConnsPerHost: base.MaxIdleConnsPerHost,
		MaxConnsPerHost:     base.MaxConnsPerHost,
		IdleConnTimeout:     base.IdleConnTimeout,
		DisableKeepAlives:   base.DisableKeepAlives,
		HTTP2:               base.ForceAttemptHTTP2,
	}
}

// PoolStats reports the pool of the client's terminal transport. Clients
// built WithTransport report an empty PoolStats.
//
//	client, _ := httpclient.New(baseURL, httpclient.WithConfig(httpclient.HighThroughputConfig()))
//	stats := client.PoolStats()
func (c *Client) PoolStats() PoolStats {
	if t, ok := c.transport.(*HTTPTransport); ok {
		return t.PoolStats()
	}
	return PoolStats{}
}

// baseTransport follows Unwrap() through wrapping round trippers.
func baseTransport(rt http.RoundTripper) *http.Transport {
	for rt != nil {
		switch t := rt.(type) {
		case *http.Transport:
			return t
		case interface{ Unwrap() http.RoundTripper }:
			rt = t.Unwrap()
		default:
			return nil
		}
	}
	return nil
}
