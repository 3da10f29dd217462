package httpclient

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"syscall"
)

// RetryClassifier decides whether an attempt is worth repeating. It sees the
// response (nil on failure) and the error (nil when a response arrived).
//
// Example, retrying every 5xx including 500:
//
//	httpclient.WithRetryClassifier(func(resp *httpclient.Response, err error) bool {
//	    if resp != nil && resp.StatusCode >= 500 {
//	        return true
//	    }
//	    return httpclient.DefaultClassifier(resp, err)
//	})
type RetryClassifier func(resp *Response, err error) bool

// retryableStatus lists responses that usually clear up on their own. A 500
// is left out: it tends to be a server bug that the same request will hit
// again.
var retryableStatus = map[int]bool{
	http.StatusTooManyRequests:    true,
	http.StatusBadGateway:         true,
	http.StatusServiceUnavailable: true,
	http.StatusGatewayTimeout:     true,
}

// DefaultClassifier retries 429, 502, 503 and 504 responses and transient
// network failures: refused or reset connections, temporary DNS errors,
// broken pipes, EOFs and per-attempt timeouts.
//
// It never retries construction errors, admission rejections (open circuit,
// rate limit, concurrency limit), certificate failures, unknown hosts, or the
// caller's own cancellation and deadline.
func DefaultClassifier(resp *Response, err error) bool {
	if err != nil {
		return retryableError(err, true)
	}
	return resp != nil && retryableStatus[resp.StatusCode]
}

// StatusCodeClassifier retries the listed status codes and transient network
// failures.
//
//	classifier := httpclient.StatusCodeClassifier(500, 502, 503, 504)
func StatusCodeClassifier(codes ...int) RetryClassifier {
	codeSet := make(map[int]bool, len(codes))
	for _, code := range codes {
		codeSet[code] = true
	}

	return func(resp *Response, err error) bool {
		if err != nil {
			return retryableError(err, false)
		}
		return resp != nil && codeSet[resp.StatusCode]
	}
}

// AlwaysRetryClassifier retries every error and every 4xx/5xx response.
func AlwaysRetryClassifier() RetryClassifier {
	return func(resp *Response, err error) bool {
		return err != nil || (resp != nil && resp.StatusCode >= 400)
	}
}

// NeverRetryClassifier disables retries.
func NeverRetryClassifier() RetryClassifier {
	return func(*Response, error) bool { return false }
}

// retryableError sorts a failed attempt. Errors that match neither the
// transient nor the permanent lists fall back to unknownRetries.
func retryableError(err error, unknownRetries bool) bool {
	switch {
	case KindOf(err) == KindConstruction, isRejection(err):
		return false
	case errors.Is(err, ErrTimeout):
		return true
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case isPermanentNetError(err):
		return false
	case isTransientNetError(err):
		return true
	}
	return unknownRetries
}

// isRejection reports errors raised by admission control. Retrying them
// immediately would only be rejected again.
func isRejection(err error) bool {
	return errors.Is(err, ErrCircuitOpen) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrConcurrencyLimit)
}

var (
	transientErrnos = []syscall.Errno{
		syscall.ECONNREFUSED,
		syscall.ECONNRESET,
		syscall.ECONNABORTED,
		syscall.ETIMEDOUT,
		syscall.ENETUNREACH,
		syscall.EHOSTUNREACH,
		syscall.EPIPE,
	}
	permanentErrnos = []syscall.Errno{
		syscall.EACCES,
		syscall.EHOSTDOWN,
	}

	// Message fragments for errors from libraries that do not wrap the
	// underlying cause.
	transientFragments = []string{
		"connection refused", "connection reset", "network is down",
		"network unreachable", "i/o timeout", "temporary failure",
		"server closed", "broken pipe", "eof",
	}
	permanentFragments = []string{
		"x509:", "certificate", "tls:", "protocol error",
		"no route to host", "permission denied",
	}
)

func isTransientNetError(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTemporary || dnsErr.IsTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	for _, errno := range transientErrnos {
		if errors.Is(err, errno) {
			return true
		}
	}
	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, io.EOF) {
		return true
	}
	return containsAny(err.Error(), transientFragments)
}

func isPermanentNetError(err error) bool {
	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
		return true
	}
	for _, errno := range permanentErrnos {
		if errors.Is(err, errno) {
			return true
		}
	}
	return containsAny(err.Error(), permanentFragments)
}

func containsAny(msg string, fragments []string) bool {
	msg = strings.ToLower(msg)
	for _, f := range fragments {
		if strings.Contains(msg, f) {
			return true
		}
	}
	return false
}
