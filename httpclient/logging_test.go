package httpclient

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"syscall"
	"testing"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func logLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		out = append(out, entry)
	}
	return out
}

func TestLogging_Levels(t *testing.T) {
	tests := []struct {
		name      string
		terminal  Sender
		wantLevel string
		wantMsg   string
	}{
		{name: "given 200, then debug", terminal: NewStubTransport().StubResponse(200, "ok"), wantLevel: "debug", wantMsg: "HTTP response"},
		{name: "given 404, then warn", terminal: NewStubTransport().StubResponse(404, ""), wantLevel: "warn", wantMsg: "HTTP response"},
		{name: "given 503, then error", terminal: NewStubTransport().StubResponse(503, ""), wantLevel: "error", wantMsg: "HTTP response"},
		{name: "given transport error, then warn", terminal: NewStubTransport().StubError(syscall.ECONNREFUSED), wantLevel: "warn", wantMsg: "HTTP request failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			mw := Logging(LoggingConfig{Logger: zerolog.New(&buf).Level(zerolog.DebugLevel)})

			_, _ = Chain(tt.terminal, mw).Send(context.Background(), newTestRequest(t, http.MethodGet, "https://api.example.com/users"))

			lines := logLines(t, &buf)
			require.Len(t, lines, 2)
			assert.Equal(t, "HTTP request", lines[0]["message"])
			assert.Equal(t, tt.wantLevel, lines[1]["level"])
			assert.Equal(t, tt.wantMsg, lines[1]["message"])
			assert.Equal(t, "GET", lines[1]["method"])
		})
	}
}

func TestLogging_SkipOperations(t *testing.T) {
	var buf bytes.Buffer
	health := MustOperation("Health", http.MethodGet, "/health", nil)
	b, err := NewBuilder("https://api.example.com", nil, nil)
	require.NoError(t, err)
	req, err := b.Build(health)
	require.NoError(t, err)

	mw := Logging(LoggingConfig{Logger: zerolog.New(&buf), SkipOperations: []string{"Health"}})
	_, err = Chain(NewStubTransport().StubResponse(200, ""), mw).Send(context.Background(), req)

	require.NoError(t, err)
	assert.Empty(t, buf.String())
}

func TestLogging_Bodies(t *testing.T) {
	var buf bytes.Buffer
	mw := Logging(LoggingConfig{
		Logger:          zerolog.New(&buf),
		LogRequestBody:  true,
		LogResponseBody: true,
		MaxBodyLogSize:  8,
	})
	req := newTestRequest(t, http.MethodPost, "https://api.example.com/users")
	req.Body = []byte(`{"name":"Ada Lovelace"}`)

	_, err := Chain(NewStubTransport().StubResponse(201, `{"id":1}`), mw).Send(context.Background(), req)
	require.NoError(t, err)

	lines := logLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, truncate(`{"name":"Ada Lovelace"}`, 8), lines[0]["request_body"])
	assert.Equal(t, `{"id":1}`, lines[1]["response_body"])
}

func TestGenerateCurlCommand(t *testing.T) {
	tests := []struct {
		name   string
		method string
		header http.Header
		body   string
		redact []string
		want   string
	}{
		{
			name:   "given GET, then omits method flag",
			method: http.MethodGet,
			want:   `curl 'https://api.example.com/users'`,
		},
		{
			name:   "given POST with body, then adds method and data",
			method: http.MethodPost,
			header: http.Header{"Content-Type": {"application/json"}},
			body:   `{"name":"O'Brien"}`,
			want:   `curl -X POST 'https://api.example.com/users' -H 'Content-Type: application/json' -d '{"name":"O'\''Brien"}'`,
		},
		{
			name:   "given secret headers, then redacts them",
			method: http.MethodGet,
			header: http.Header{"Authorization": {"Bearer abc"}, "X-Api-Key": {"k"}, "Accept": {"*/*"}},
			redact: defaultRedactHeaders,
			want:   `curl 'https://api.example.com/users' -H 'Accept: */*' -H 'Authorization: ***' -H 'X-Api-Key: ***'`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := newTestRequest(t, tt.method, "https://api.example.com/users")
			for k, vs := range tt.header {
				req.Header[k] = vs
			}
			req.Body = []byte(tt.body)

			assert.Equal(t, tt.want, generateCurlCommand(req, tt.redact))
		})
	}
}
