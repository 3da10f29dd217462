package httpclient

import (
	"crypto/tls"
	"net"
	"net/http"
	"net/url"
	"time"
)

// Config holds the connection-level settings of the terminal HTTPTransport.
// Start from DefaultConfig() and change only what you need.
//
// Example:
//
//	cfg := httpclient.DefaultConfig()
//	cfg.MaxIdleConnsPerHost = 50
//
//	client, err := httpclient.New("https://api.example.com",
//	    httpclient.WithConfig(cfg),
//	)
type Config struct {
	// Timeout bounds every attempt end to end, including reading the body.
	// It is installed as the Timeout middleware directly above the transport,
	// so each retry attempt gets a fresh budget.
	//
	// Zero disables it.
	//
	// Default: 15s
	Timeout time.Duration

	// MaxIdleConns caps idle keep-alive connections across all hosts.
	// Roughly 2-3x peak concurrency is a good starting point.
	//
	// Default: 100
	MaxIdleConns int

	// MaxIdleConnsPerHost caps idle connections per host. A client that talks
	// to one API should set this close to MaxIdleConns.
	//
	// Default: 20
	MaxIdleConnsPerHost int

	// MaxConnsPerHost caps idle plus active connections per host.
	// Zero means unlimited.
	//
	// Default: 100
	MaxConnsPerHost int

	// IdleConnTimeout closes pooled connections idle for longer than this.
	// Keep it below the server's (or load balancer's) idle timeout.
	//
	// Default: 90s
	IdleConnTimeout time.Duration

	// TLSHandshakeTimeout bounds the TLS handshake.
	//
	// Default: 10s
	TLSHandshakeTimeout time.Duration

	// ExpectContinueTimeout is the wait for "100 Continue" after sending
	// headers with "Expect: 100-continue".
	//
	// Default: 1s
	ExpectContinueTimeout time.Duration

	// ResponseHeaderTimeout bounds the wait for response headers once the
	// request is written. Zero defers to Timeout.
	//
	// Default: 0
	ResponseHeaderTimeout time.Duration

	// DialTimeout bounds TCP connection establishment.
	//
	// Default: 5s
	DialTimeout time.Duration

	// KeepAlive is the TCP keep-alive probe interval.
	//
	// Default: 30s
	KeepAlive time.Duration

	// FallbackDelay is the RFC 6555 dual-stack fallback delay. Negative
	// disables it.
	//
	// Default: 300ms
	FallbackDelay time.Duration

	// WriteBufferSize and ReadBufferSize size the per-connection buffers.
	//
	// Default: 64KB each
	WriteBufferSize int
	ReadBufferSize  int

	// MaxResponseHeaderBytes limits response header size. Zero uses the
	// net/http default.
	MaxResponseHeaderBytes int64

	// MaxResponseBodyBytes limits how much of a response body is read into
	// memory. A larger body fails the exchange with a *TransportError.
	// Zero means unlimited.
	//
	// Default: 32MB
	MaxResponseBodyBytes int64

	// DisableKeepAlives forces a new connection per request.
	//
	// Default: false
	DisableKeepAlives bool

	// DisableCompression stops net/http from negotiating gzip on its own.
	// Leave it set and use the Decompression middleware, which also handles
	// deflate, br and zstd.
	//
	// Default: true
	DisableCompression bool

	// ForceHTTP2 attempts HTTP/2 even with a custom dialer or TLS config.
	//
	// Default: false
	ForceHTTP2 bool
}

// DefaultMaxResponseBodyBytes is the default in-memory cap for response bodies.
const DefaultMaxResponseBodyBytes = 32 << 20

// DefaultConfig returns balanced settings for typical service-to-service calls.
func DefaultConfig() Config {
	return Config{
		Timeout: 15 * time.Second,

		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		MaxConnsPerHost:     100,
		IdleConnTimeout:     90 * time.Second,

		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,

		DialTimeout:   5 * time.Second,
		KeepAlive:     30 * time.Second,
		FallbackDelay: 300 * time.Millisecond,

		WriteBufferSize: 64 * 1024,
		ReadBufferSize:  64 * 1024,

		MaxResponseBodyBytes: DefaultMaxResponseBodyBytes,

		DisableCompression: true,
	}
}

// HighThroughputConfig raises pool limits and buffer sizes for gateways and
// batch pipelines that keep many requests in flight against a few hosts.
func HighThroughputConfig() Config {
	cfg := DefaultConfig()
	cfg.Timeout = 30 * time.Second
	cfg.MaxIdleConns = 500
	cfg.MaxIdleConnsPerHost = 100
	cfg.MaxConnsPerHost = 0
	cfg.IdleConnTimeout = 120 * time.Second
	cfg.WriteBufferSize = 128 * 1024
	cfg.ReadBufferSize = 128 * 1024
	return cfg
}

// LowLatencyConfig fails fast: short dial, header and overall timeouts, and
// HTTP/2 where the server offers it.
func LowLatencyConfig() Config {
	cfg := DefaultConfig()
	cfg.Timeout = 5 * time.Second
	cfg.MaxIdleConns = 50
	cfg.MaxIdleConnsPerHost = 25
	cfg.MaxConnsPerHost = 50
	cfg.IdleConnTimeout = 60 * time.Second
	cfg.TLSHandshakeTimeout = 5 * time.Second
	cfg.ExpectContinueTimeout = 500 * time.Millisecond
	cfg.ResponseHeaderTimeout = 3 * time.Second
	cfg.DialTimeout = 2 * time.Second
	cfg.KeepAlive = 15 * time.Second
	cfg.FallbackDelay = 150 * time.Millisecond
	cfg.WriteBufferSize = 32 * 1024
	cfg.ReadBufferSize = 32 * 1024
	cfg.ForceHTTP2 = true
	return cfg
}

// ConservativeConfig keeps pools and buffers small for serverless functions,
// sidecars, and processes that hold many clients.
func ConservativeConfig() Config {
	cfg := DefaultConfig()
	cfg.Timeout = 10 * time.Second
	cfg.MaxIdleConns = 20
	cfg.MaxIdleConnsPerHost = 5
	cfg.MaxConnsPerHost = 20
	cfg.IdleConnTimeout = 30 * time.Second
	cfg.WriteBufferSize = 4 * 1024
	cfg.ReadBufferSize = 4 * 1024
	cfg.MaxResponseBodyBytes = 4 << 20
	return cfg
}

// buildTransport creates an http.Transport from the configuration.
func (c Config) buildTransport(tlsCfg *tls.Config, proxyURL *url.URL, proxyFromEnv bool) *http.Transport {
	dialer := &net.Dialer{
		Timeout:       c.DialTimeout,
		KeepAlive:     c.KeepAlive,
		FallbackDelay: c.FallbackDelay,
	}

	transport := &http.Transport{
		DialContext:            dialer.DialContext,
		MaxIdleConns:           c.MaxIdleConns,
		MaxIdleConnsPerHost:    c.MaxIdleConnsPerHost,
		MaxConnsPerHost:        c.MaxConnsPerHost,
		IdleConnTimeout:        c.IdleConnTimeout,
		TLSHandshakeTimeout:    c.TLSHandshakeTimeout,
		ResponseHeaderTimeout:  c.ResponseHeaderTimeout,
		ExpectContinueTimeout:  c.ExpectContinueTimeout,
		DisableKeepAlives:      c.DisableKeepAlives,
		DisableCompression:     c.DisableCompression,
		WriteBufferSize:        c.WriteBufferSize,
		ReadBufferSize:         c.ReadBufferSize,
		MaxResponseHeaderBytes: c.MaxResponseHeaderBytes,
		TLSClientConfig:        tlsCfg,
		ForceAttemptHTTP2:      c.ForceHTTP2,
	}

	if proxyURL != nil {
		transport.Proxy = http.ProxyURL(proxyURL)
	} else if proxyFromEnv {
		transport.Proxy = http.ProxyFromEnvironment
	}

	return transport
}
