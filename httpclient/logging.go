package httpclient

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const defaultMaxBodyLogSize = 4 * 1024 // 4KB

// LoggingConfig configures the Logging middleware.
type LoggingConfig struct {
	Logger zerolog.Logger

	// SkipOperations are operation names that are never logged.
	// Useful for health checks that run every few seconds.
	SkipOperations []string

	// LogRequestBody and LogResponseBody add bodies to the log line, cut
	// to MaxBodyLogSize. Use with care: bodies may hold personal data.
	LogRequestBody  bool
	LogResponseBody bool

	// MaxBodyLogSize limits the size of logged bodies (default: 4KB).
	MaxBodyLogSize int

	// Curl adds an equivalent curl command to the request line.
	Curl bool

	// RedactHeaders are replaced by "***" in curl output.
	// Default: Authorization, Proxy-Authorization, Cookie, X-API-Key
	RedactHeaders []string
}

var defaultRedactHeaders = []string{"Authorization", "Proxy-Authorization", "Cookie", "X-Api-Key"}

// Logging logs every exchange. It never modifies the request or response.
//
// The request is logged at debug level. The outcome is logged at debug for
// 2xx/3xx, warn for 4xx and transport errors, and error for 5xx, with
// method, URL, operation, path template, status and duration.
//
// Example:
//
//	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
//	mw := httpclient.Logging(httpclient.LoggingConfig{
//	    Logger:         logger,
//	    SkipOperations: []string{"Health"},
//	    Curl:           true,
//	})
func Logging(cfg LoggingConfig) Middleware {
	skip := make(map[string]bool, len(cfg.SkipOperations))
	for _, name := range cfg.SkipOperations {
		skip[name] = true
	}
	maxBody := cfg.MaxBodyLogSize
	if maxBody <= 0 {
		maxBody = defaultMaxBodyLogSize
	}
	redact := cfg.RedactHeaders
	if redact == nil {
		redact = defaultRedactHeaders
	}

	return func(next Sender) Sender {
		return SenderFunc(func(ctx context.Context, req *Request) (*Response, error) {
			if skip[req.OperationName()] {
				return next.Send(ctx, req)
			}
			logger := cfg.Logger

			event := logger.Debug().
				Str("method", req.Method).
				Str("url", req.URL.Redacted()).
				Str("operation", req.OperationName()).
				Str("path_template", req.PathTemplate())
			if cfg.LogRequestBody && len(req.Body) > 0 {
				event = event.Str("request_body", truncate(string(req.Body), maxBody))
			}
			if cfg.Curl {
				event = event.Str("curl", generateCurlCommand(req, redact))
			}
			event.Msg("HTTP request")

			start := time.Now()
			resp, err := next.Send(ctx, req)
			duration := time.Since(start)

			if err != nil {
				logger.Warn().
					Err(err).
					Str("method", req.Method).
					Str("url", req.URL.Redacted()).
					Str("operation", req.OperationName()).
					Str("error_type", classifyError(err)).
					Dur("duration", duration).
					Msg("HTTP request failed")
				return nil, err
			}

			out := logger.Debug()
			switch {
			case resp.StatusCode >= 500:
				out = logger.Error()
			case resp.StatusCode >= 400:
				out = logger.Warn()
			}
			out = out.
				Str("method", req.Method).
				Str("url", req.URL.Redacted()).
				Str("operation", req.OperationName()).
				Int("status", resp.StatusCode).
				Dur("duration", duration).
				Int("bytes", len(resp.Body))
			if id := resp.Header.Get(RequestIDHeader); id != "" {
				out = out.Str("request_id", id)
			}
			if cfg.LogResponseBody && len(resp.Body) > 0 {
				out = out.Str("response_body", truncate(string(resp.Body), maxBody))
			}
			out.Msg("HTTP response")

			return resp, nil
		})
	}
}

// generateCurlCommand creates a cURL command equivalent for the given request.
//
// Example output:
//
//	curl -X POST 'https://api.example.com/users' -H 'Authorization: ***' -H 'Content-Type: application/json' -d '{"name":"John"}'
func generateCurlCommand(req *Request, redact []string) string {
	parts := []string{"curl"}

	if req.Method != http.MethodGet {
		parts = append(parts, "-X", req.Method)
	}

	parts = append(parts, shellQuote(req.URL.Redacted()))

	hidden := make(map[string]bool, len(redact))
	for _, h := range redact {
		hidden[http.CanonicalHeaderKey(h)] = true
	}

	// Headers (sorted for consistent output)
	keys := make([]string, 0, len(req.Header))
	for k := range req.Header {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		for _, v := range req.Header[k] {
			if hidden[http.CanonicalHeaderKey(k)] {
				v = "***"
			}
			parts = append(parts, "-H", shellQuote(fmt.Sprintf("%s: %s", k, v)))
		}
	}

	if len(req.Body) > 0 {
		parts = append(parts, "-d", shellQuote(string(req.Body)))
	}

	return strings.Join(parts, " ")
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
