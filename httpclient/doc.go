// Package httpclient is a declarative HTTP API client runtime with built-in
// resilience and OpenTelemetry instrumentation.
//
// Endpoints are declared once as Operations: a name, a method, a path
// template and typed parameter metadata. The runtime turns an Operation plus
// argument values into a Request, sends it through a middleware chain and
// decodes the Response into a caller-supplied value.
//
// # Features
//
//   - Declarative operations with path, query, header, body and form parameters
//   - Query/form encoding for optional, repeated and structured values
//   - Composable middleware: timeout, retry, auth, rate limit, concurrency
//     limit, circuit breaker, redirects, decompression, request IDs
//   - OpenTelemetry tracing and metrics, Prometheus metrics, zerolog logging
//   - Typed errors with a path to the offending field on decode failures
//
// # Quick Start
//
// Declare operations, then call them:
//
//	var getUser = httpclient.MustOperation("GetUser", http.MethodGet, "/users/{id}",
//	    []httpclient.Param{
//	        httpclient.Path("id"),
//	        httpclient.Query("expand", httpclient.AsRepeated()),
//	    },
//	)
//
//	client, err := httpclient.New("https://api.example.com/v1",
//	    httpclient.WithServiceName("user-client"),
//	    httpclient.WithRetryConfig(httpclient.DefaultRetryConfig()),
//	)
//
//	var user User
//	err = client.Call(ctx, getUser, &user, 42, []string{"roles", "teams"})
//	// GET /v1/users/42?expand=roles&expand=teams
//
// Or, with generics:
//
//	user, err := httpclient.Invoke[User](ctx, client, getUser, 42, nil)
//
// Ad-hoc requests use the fluent builder and the same middleware chain:
//
//	var users []User
//	resp, err := client.Request("ListUsers").
//	    Query("limit", "10").
//	    Decode(&users).
//	    Get(ctx, "/users")
//
// # Errors
//
// Every failure is one of four kinds, reported by KindOf:
//
//   - *ConstructionError: arguments could not form a request; nothing was sent
//   - *TransportError: no response was obtained (network, timeout, open
//     breaker, rate limit)
//   - *StatusError: a non-2xx response; the raw body is kept
//   - *DecodeError: a 2xx body did not match the target; Path names the field
//
// Example:
//
//	var de *httpclient.DecodeError
//	if errors.As(err, &de) {
//	    log.Printf("bad field %s", de.Path) // e.g. user.addresses[2].zip
//	}
//
// # Middleware Order
//
// Clients built with New compose, outermost first: Tracing, Metrics,
// Logging, circuit breaker, Retry, rate limits, ConcurrencyLimit, the
// middlewares from WithMiddleware in declared order, FollowRedirects and the
// per-attempt Timeout from Config.Timeout. The terminal HTTPTransport sends
// one exchange and never follows redirects itself.
//
// # Configuration Presets
//
//	httpclient.New(baseURL, httpclient.WithConfig(httpclient.HighThroughputConfig()))
//	httpclient.New(baseURL, httpclient.WithConfig(httpclient.LowLatencyConfig()))
//	httpclient.New(baseURL, httpclient.WithConfig(httpclient.ConservativeConfig()))
//
// Settings can also come from YAML, see LoadSettings.
//
// # Testing
//
// StubTransport replaces the network while keeping every middleware:
//
//	stub := httpclient.NewStubTransport().StubResponse(200, `{"id":42}`)
//	client, _ := httpclient.New(baseURL, httpclient.WithTransport(stub))
package httpclient
