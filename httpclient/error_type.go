package httpclient

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"strconv"
	"syscall"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Values of the error.type attribute on spans and metrics.
const (
	ErrorTypeTimeout           = "timeout"
	ErrorTypeConnectionRefused = "connection_refused"
	ErrorTypeDNSError          = "dns_error"
	ErrorTypeTLSError          = "tls_error"
	ErrorTypeCancelled         = "cancelled"
	ErrorTypeConnectionReset   = "connection_reset"
	ErrorTypeEOF               = "eof"
	ErrorTypeCircuitOpen       = "circuit_open"
	ErrorTypeRateLimited       = "rate_limited"
	ErrorTypeConcurrencyLimit  = "concurrency_limit"
	ErrorTypeRedirect          = "redirect"
	ErrorTypeConstruction      = "construction"
	ErrorTypeDecode            = "decode"
	ErrorTypeUnknown           = "unknown"
)

// sentinelTypes is checked first, in order.
var sentinelTypes = []struct {
	err error
	typ string
}{
	{ErrTimeout, ErrorTypeTimeout},
	{ErrCircuitOpen, ErrorTypeCircuitOpen},
	{ErrRateLimited, ErrorTypeRateLimited},
	{ErrConcurrencyLimit, ErrorTypeConcurrencyLimit},
	{ErrTooManyRedirects, ErrorTypeRedirect},
	{ErrMissingLocation, ErrorTypeRedirect},
}

// messageTypes maps message fragments to a type for errors that reach us
// without a typed cause.
var messageTypes = []struct {
	fragments []string
	typ       string
}{
	{[]string{"timeout"}, ErrorTypeTimeout},
	{[]string{"connection refused"}, ErrorTypeConnectionRefused},
	{[]string{"connection reset"}, ErrorTypeConnectionReset},
	{[]string{"no such host", "dns"}, ErrorTypeDNSError},
	{[]string{"tls", "certificate", "x509"}, ErrorTypeTLSError},
	{[]string{"eof"}, ErrorTypeEOF},
}

// classifyError returns the error.type value for err, or "" for nil.
func classifyError(err error) string {
	if err == nil {
		return ""
	}

	for _, s := range sentinelTypes {
		if errors.Is(err, s.err) {
			return s.typ
		}
	}
	switch KindOf(err) {
	case KindConstruction:
		return ErrorTypeConstruction
	case KindDecode:
		return ErrorTypeDecode
	}

	if typ := networkErrorType(err); typ != "" {
		return typ
	}

	for _, m := range messageTypes {
		if containsAny(err.Error(), m.fragments) {
			return m.typ
		}
	}
	return ErrorTypeUnknown
}

func networkErrorType(err error) string {
	var (
		netErr  net.Error
		dnsErr  *net.DNSError
		recErr  *tls.RecordHeaderError
		certErr *tls.CertificateVerificationError
	)
	switch {
	case errors.Is(err, context.Canceled):
		return ErrorTypeCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorTypeTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		return ErrorTypeTimeout
	case errors.As(err, &dnsErr):
		return ErrorTypeDNSError
	case errors.As(err, &recErr), errors.As(err, &certErr):
		return ErrorTypeTLSError
	case errors.Is(err, syscall.ECONNREFUSED):
		return ErrorTypeConnectionRefused
	case errors.Is(err, syscall.ECONNRESET):
		return ErrorTypeConnectionReset
	case errors.Is(err, io.EOF):
		return ErrorTypeEOF
	}
	return ""
}

// errorTypeFromStatusCode follows OTel semconv: 4xx and 5xx responses use
// the status code itself as error.type.
func errorTypeFromStatusCode(statusCode int) string {
	if statusCode >= 400 {
		return strconv.Itoa(statusCode)
	}
	return ""
}

func setSpanError(span trace.Span, err error, errorType string) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if errorType != "" {
		span.SetAttributes(attribute.String("error.type", errorType))
	}
}
