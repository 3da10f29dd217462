package httpclient

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type apiUser struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type apiError struct {
	Message string `json:"message"`
}

var (
	opGetUser = MustOperation("GetUser", http.MethodGet, "/users/{id}",
		[]Param{Path("id")},
	)
	opListUsers = MustOperation("ListUsers", http.MethodGet, "/users",
		[]Param{Query("status", AsOptional()), Query("tag"), Header("X-Tenant")},
	)
	opCreateUser = MustOperation("CreateUser", http.MethodPost, "/users",
		[]Param{Body("user")},
	)
	opDeleteUser = MustOperation("DeleteUser", http.MethodDelete, "/users/{id}",
		[]Param{Path("id")},
		WithResponse(ResponseNone),
	)
	opFlaky = MustOperation("Flaky", http.MethodGet, "/flaky", nil)
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// newTestServer serves a small user API under /v1.
func newTestServer(t *testing.T) (*httptest.Server, *int32) {
	t.Helper()
	var flakyCalls int32

	r := chi.NewRouter()
	r.Route("/v1", func(r chi.Router) {
		r.Get("/users", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{
				"query":  r.URL.RawQuery,
				"tenant": r.Header.Get("X-Tenant"),
				"agent":  r.Header.Get("User-Agent"),
			})
		})
		r.Post("/users", func(w http.ResponseWriter, r *http.Request) {
			var u apiUser
			if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
				writeJSON(w, http.StatusBadRequest, apiError{Message: err.Error()})
				return
			}
			u.ID = 100
			writeJSON(w, http.StatusCreated, u)
		})
		r.Get("/users/{id}", func(w http.ResponseWriter, r *http.Request) {
			if chi.URLParam(r, "id") == "404" {
				writeJSON(w, http.StatusNotFound, apiError{Message: "user not found"})
				return
			}
			writeJSON(w, http.StatusOK, apiUser{ID: 42, Name: "Ada"})
		})
		r.Delete("/users/{id}", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
		r.Get("/flaky", func(w http.ResponseWriter, _ *http.Request) {
			if atomic.AddInt32(&flakyCalls, 1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			writeJSON(w, http.StatusOK, apiUser{ID: 1, Name: "ok"})
		})
	})

	server := httptest.NewServer(r)
	t.Cleanup(server.Close)
	return server, &flakyCalls
}

func TestClient_Call(t *testing.T) {
	server, _ := newTestServer(t)
	client, err := New(server.URL + "/v1")
	require.NoError(t, err)

	t.Run("given path param, then decodes user", func(t *testing.T) {
		var user apiUser
		err := client.Call(context.Background(), opGetUser, &user, 42)

		require.NoError(t, err)
		assert.Equal(t, apiUser{ID: 42, Name: "Ada"}, user)
	})

	t.Run("given query and header params, then sends them", func(t *testing.T) {
		var got map[string]string
		err := client.Call(context.Background(), opListUsers, &got,
			Some("active"), []string{"go", "http"}, "acme")

		require.NoError(t, err)
		assert.Equal(t, "status=active&tag=go&tag=http", got["query"])
		assert.Equal(t, "acme", got["tenant"])
		assert.Equal(t, DefaultUserAgent, got["agent"])
	})

	t.Run("given absent optional, then omits key", func(t *testing.T) {
		var got map[string]string
		err := client.Call(context.Background(), opListUsers, &got,
			None[string](), []string{"go"}, "acme")

		require.NoError(t, err)
		assert.Equal(t, "tag=go", got["query"])
	})

	t.Run("given body param, then posts json", func(t *testing.T) {
		var created apiUser
		err := client.Call(context.Background(), opCreateUser, &created, apiUser{Name: "Grace"})

		require.NoError(t, err)
		assert.Equal(t, apiUser{ID: 100, Name: "Grace"}, created)
	})

	t.Run("given 204 operation, then succeeds without body", func(t *testing.T) {
		err := client.Call(context.Background(), opDeleteUser, nil, 42)
		require.NoError(t, err)
	})

	t.Run("given 404, then status error with body", func(t *testing.T) {
		var user apiUser
		err := client.Call(context.Background(), opGetUser, &user, 404)

		require.Error(t, err)
		assert.Equal(t, KindStatus, KindOf(err))
		var se *StatusError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, http.StatusNotFound, se.StatusCode)
		assert.Equal(t, http.MethodGet, se.Method)

		var body apiError
		require.NoError(t, se.DecodeBody(&body))
		assert.Equal(t, "user not found", body.Message)
		assert.Zero(t, user)
	})

	t.Run("given wrong argument count, then construction error before sending", func(t *testing.T) {
		err := client.Call(context.Background(), opGetUser, nil)

		require.Error(t, err)
		assert.Equal(t, KindConstruction, KindOf(err))
	})
}

func TestInvoke(t *testing.T) {
	server, _ := newTestServer(t)
	client, err := New(server.URL + "/v1")
	require.NoError(t, err)

	user, err := Invoke[apiUser](context.Background(), client, opGetUser, 42)
	require.NoError(t, err)
	assert.Equal(t, "Ada", user.Name)

	user, err = Invoke[apiUser](context.Background(), client, opGetUser, 404)
	require.Error(t, err)
	assert.Zero(t, user)
}

func TestClient_RetryOverNetwork(t *testing.T) {
	server, calls := newTestServer(t)
	client, err := New(server.URL+"/v1", WithRetryConfig(fastRetryConfig(3)))
	require.NoError(t, err)

	var out apiUser
	err = client.Call(context.Background(), opFlaky, &out)

	require.NoError(t, err)
	assert.Equal(t, "ok", out.Name)
	assert.Equal(t, int32(3), atomic.LoadInt32(calls))
}

func TestClient_WithTransportStub(t *testing.T) {
	stub := NewStubTransport().
		Enqueue(503, "").
		StubOperation("GetUser", 200, `{"id":7,"name":"Stub"}`)

	var buf bytes.Buffer
	client, err := New("https://api.example.com/v1",
		WithTransport(stub),
		WithRetryConfig(fastRetryConfig(2)),
		WithLogger(zerolog.New(&buf)),
		WithDefaultHeader("X-Env", "test"),
		WithUserAgent("billing/2.0"),
	)
	require.NoError(t, err)

	user, err := Invoke[apiUser](context.Background(), client, opGetUser, 7)

	require.NoError(t, err)
	assert.Equal(t, apiUser{ID: 7, Name: "Stub"}, user)
	require.Equal(t, 2, stub.RequestCount())
	last := stub.LastRequest()
	assert.Equal(t, "https://api.example.com/v1/users/7", last.URL.String())
	assert.Equal(t, "test", last.Header.Get("X-Env"))
	assert.Equal(t, "billing/2.0", last.Header.Get("User-Agent"))
	assert.Equal(t, 2, AttemptKey.Get(last.Extensions))
	assert.Contains(t, buf.String(), "retrying request")
}

func TestClient_CallNamed(t *testing.T) {
	stub := NewStubTransport().StubResponse(200, `{"id":1,"name":"Ada"}`)
	registry, err := NewRegistry(opGetUser, opListUsers)
	require.NoError(t, err)

	tests := []struct {
		name     string
		opts     []Option
		opName   string
		wantErr  bool
		wantKind Kind
	}{
		{name: "given registered name, then calls it", opts: []Option{WithRegistry(registry)}, opName: "GetUser"},
		{name: "given unknown name, then construction error", opts: []Option{WithRegistry(registry)}, opName: "Nope", wantErr: true, wantKind: KindConstruction},
		{name: "given no registry, then construction error", opName: "GetUser", wantErr: true, wantKind: KindConstruction},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := New("https://api.example.com", append(tt.opts, WithTransport(stub))...)
			require.NoError(t, err)

			var user apiUser
			err = client.CallNamed(context.Background(), tt.opName, &user, 1)

			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, tt.wantKind, KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "Ada", user.Name)
			assert.Same(t, registry, client.Registry())
		})
	}
}

func TestClient_ErrorDecoder(t *testing.T) {
	errQuota := errors.New("quota exceeded")
	stub := NewStubTransport().StubResponse(429, `{"message":"quota"}`)
	client, err := New("https://api.example.com",
		WithTransport(stub),
		WithErrorDecoder(func(resp *Response) error {
			if resp.StatusCode == http.StatusTooManyRequests {
				return errQuota
			}
			return nil
		}),
	)
	require.NoError(t, err)

	err = client.Call(context.Background(), opGetUser, nil, 1)
	assert.ErrorIs(t, err, errQuota)
}

func TestClient_ResponseValidation(t *testing.T) {
	type strictUser struct {
		ID   int64  `json:"id" validate:"required"`
		Name string `json:"name" validate:"required"`
	}
	stub := NewStubTransport().StubResponse(200, `{"id":1}`)
	client, err := New("https://api.example.com", WithTransport(stub), WithResponseValidation(nil))
	require.NoError(t, err)

	_, err = Invoke[strictUser](context.Background(), client, opGetUser, 1)

	require.Error(t, err)
	var de *DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "name", de.Path.String())
}

func TestClient_Middleware(t *testing.T) {
	stub := NewStubTransport().StubResponse(200, `{"id":1,"name":"Ada"}`)
	var order []string
	client, err := New("https://api.example.com",
		WithTransport(stub),
		WithMiddleware(recording("first", &order), recording("second", &order)),
		WithMiddleware(BearerAuth("secret")),
	)
	require.NoError(t, err)

	require.NoError(t, client.Call(context.Background(), opGetUser, nil, 1))

	assert.Equal(t, []string{"first:in", "second:in", "second:out", "first:out"}, order)
	assert.Equal(t, "Bearer secret", stub.LastRequest().Header.Get("Authorization"))
}

func TestClient_Request(t *testing.T) {
	server, _ := newTestServer(t)
	client, err := New(server.URL + "/v1")
	require.NoError(t, err)

	t.Run("given path param, then decodes", func(t *testing.T) {
		var user apiUser
		resp, err := client.Request("GetUser").
			Path("/users/{id}").
			PathParam("id", "42").
			Decode(&user).
			Get(context.Background())

		require.NoError(t, err)
		assert.True(t, resp.IsSuccess())
		assert.Equal(t, "Ada", user.Name)
		assert.Equal(t, "GetUser", resp.Request.OperationName())
		assert.Equal(t, "/v1/users/{id}", resp.Request.PathTemplate())
	})

	t.Run("given json body, then posts it", func(t *testing.T) {
		var created apiUser
		resp, err := client.Request("CreateUser").
			Body(apiUser{Name: "Linus"}).
			Decode(&created).
			Post(context.Background(), "/users")

		require.NoError(t, err)
		assert.Equal(t, http.StatusCreated, resp.StatusCode)
		assert.Equal(t, int64(100), created.ID)
	})

	t.Run("given error status, then decodes error target", func(t *testing.T) {
		var apiErr apiError
		resp, err := client.Request("GetUser").
			DecodeError(&apiErr).
			Get(context.Background(), "/users/404")

		require.NoError(t, err)
		assert.True(t, resp.IsError())
		assert.Equal(t, "user not found", apiErr.Message)
	})

	t.Run("given queries, then encodes in key order", func(t *testing.T) {
		var got map[string]string
		_, err := client.Request("").
			Queries(map[string]string{"tag": "b", "status": "open"}).
			QueryValue("tag", []string{"x", "y"}).
			Header("X-Tenant", "acme").
			Decode(&got).
			Get(context.Background(), "/users")

		require.NoError(t, err)
		assert.Equal(t, "status=open&tag=b&tag=x&tag=y", got["query"])
		assert.Equal(t, "acme", got["tenant"])
	})

	t.Run("given unbound placeholder, then construction error", func(t *testing.T) {
		_, err := client.Request("GetUser").Get(context.Background(), "/users/{id}")

		require.Error(t, err)
		assert.Equal(t, KindConstruction, KindOf(err))
	})
}

func TestClient_RequestMultipart(t *testing.T) {
	stub := NewStubTransport().StubResponse(200, "")
	client, err := New("https://api.example.com", WithTransport(stub))
	require.NoError(t, err)

	_, err = client.Request("Upload").
		FormField("title", "Q4").
		FileReader("document", "report.txt", strings.NewReader("numbers")).
		Post(context.Background(), "/documents")
	require.NoError(t, err)

	sent := stub.LastRequest()
	hreq, err := http.NewRequest(http.MethodPost, "http://x", bytes.NewReader(sent.Body))
	require.NoError(t, err)
	hreq.Header.Set("Content-Type", sent.Header.Get("Content-Type"))
	require.NoError(t, hreq.ParseMultipartForm(1<<20))

	assert.Equal(t, "Q4", hreq.FormValue("title"))
	f, fh, err := hreq.FormFile("document")
	require.NoError(t, err)
	defer f.Close()
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "report.txt", fh.Filename)
	assert.Equal(t, "numbers", string(data))
}

func TestClient_PoolStats(t *testing.T) {
	cfg := LowLatencyConfig()
	client, err := New("https://api.example.com", WithConfig(cfg))
	require.NoError(t, err)

	stats := client.PoolStats()
	assert.Equal(t, cfg.MaxIdleConnsPerHost, stats.MaxIdleConnsPerHost)
	assert.NotPanics(t, client.CloseIdleConnections)

	stubbed, err := New("https://api.example.com", WithTransport(NewStubTransport()))
	require.NoError(t, err)
	assert.Equal(t, PoolStats{}, stubbed.PoolStats())
	assert.NotPanics(t, stubbed.CloseIdleConnections)
}

func TestNew_InvalidBaseURL(t *testing.T) {
	_, err := New("://bad")
	require.Error(t, err)
}
