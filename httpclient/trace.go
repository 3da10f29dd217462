package httpclient

import (
	"context"
	"crypto/tls"
	"net/http/httptrace"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// phase is one timed step of a network exchange.
type phase struct {
	start, done time.Time
}

func (p phase) complete() bool { return !p.start.IsZero() && !p.done.IsZero() }

func (p phase) duration() time.Duration {
	if !p.complete() {
		return 0
	}
	return p.done.Sub(p.start)
}

// networkTrace collects the phases of a single attempt through
// httptrace.ClientTrace. Dial callbacks may fire from parallel
// happy-eyeballs dials, hence the lock.
type networkTrace struct {
	mu sync.Mutex

	start, end time.Time

	dns     phase
	connect phase
	tls     phase
	// server spans from the request being written to the first response byte.
	server phase

	gotConn     time.Time
	connReused  bool
	connIdle    bool
	connRemote  string
	dnsAddrs    []string
	tlsProtocol string
}

func newNetworkTrace() *networkTrace {
	return &networkTrace{start: time.Now()}
}

// clientTrace returns the hooks that fill nt.
func (nt *networkTrace) clientTrace() *httptrace.ClientTrace {
	mark := func(fn func(now time.Time)) {
		now := time.Now()
		nt.mu.Lock()
		fn(now)
		nt.mu.Unlock()
	}

	return &httptrace.ClientTrace{
		DNSStart: func(httptrace.DNSStartInfo) {
			mark(func(now time.Time) { nt.dns.start = now })
		},
		DNSDone: func(info httptrace.DNSDoneInfo) {
			mark(func(now time.Time) {
				nt.dns.done = now
				for _, addr := range info.Addrs {
					nt.dnsAddrs = append(nt.dnsAddrs, addr.String())
				}
			})
		},
		ConnectStart: func(_, _ string) {
			mark(func(now time.Time) {
				if nt.connect.start.IsZero() {
					nt.connect.start = now
				}
			})
		},
		ConnectDone: func(_, _ string, err error) {
			mark(func(now time.Time) {
				if err == nil {
					nt.connect.done = now
				}
			})
		},
		TLSHandshakeStart: func() {
			mark(func(now time.Time) { nt.tls.start = now })
		},
		TLSHandshakeDone: func(state tls.ConnectionState, _ error) {
			mark(func(now time.Time) {
				nt.tls.done = now
				nt.tlsProtocol = state.NegotiatedProtocol
			})
		},
		GotConn: func(info httptrace.GotConnInfo) {
			mark(func(now time.Time) {
				nt.gotConn = now
				nt.connReused = info.Reused
				nt.connIdle = info.WasIdle
				if info.Conn != nil && info.Conn.RemoteAddr() != nil {
					nt.connRemote = info.Conn.RemoteAddr().String()
				}
			})
		},
		WroteRequest: func(httptrace.WroteRequestInfo) {
			mark(func(now time.Time) { nt.server.start = now })
		},
		GotFirstResponseByte: func() {
			mark(func(now time.Time) { nt.server.done = now })
		},
	}
}

// finish stamps the end of the attempt and reports it on the span in ctx,
// on m, and as TraceInfo.
func (nt *networkTrace) finish(ctx context.Context, m *metrics, attrs []attribute.KeyValue) *TraceInfo {
	nt.mu.Lock()
	defer nt.mu.Unlock()

	nt.end = time.Now()
	nt.addSpanEvents(trace.SpanFromContext(ctx))
	nt.recordMetrics(ctx, m, attrs)
	return nt.toTraceInfo()
}

func (nt *networkTrace) addSpanEvents(span trace.Span) {
	if !span.IsRecording() {
		return
	}

	timed := func(name string, p phase, extra ...attribute.KeyValue) {
		if !p.complete() {
			return
		}
		span.AddEvent(name+".start", trace.WithTimestamp(p.start))
		attrs := append([]attribute.KeyValue{
			attribute.Float64(name+".duration_ms", float64(p.duration().Milliseconds())),
		}, extra...)
		span.AddEvent(name+".done", trace.WithTimestamp(p.done), trace.WithAttributes(attrs...))
	}

	timed("dns", nt.dns, attribute.StringSlice("dns.addresses", nt.dnsAddrs))
	timed("connect", nt.connect)
	timed("tls", nt.tls, attribute.String("tls.protocol", nt.tlsProtocol))

	if !nt.gotConn.IsZero() {
		span.AddEvent("got_conn", trace.WithTimestamp(nt.gotConn), trace.WithAttributes(
			attribute.Bool("connection.reused", nt.connReused),
			attribute.Bool("connection.was_idle", nt.connIdle),
			attribute.String("network.peer.address", nt.connRemote),
		))
	}
	if !nt.server.done.IsZero() {
		span.AddEvent("got_first_response_byte", trace.WithTimestamp(nt.server.done),
			trace.WithAttributes(attribute.Float64("ttfb_ms", float64(nt.server.duration().Milliseconds()))))
	}
}

func (nt *networkTrace) recordMetrics(ctx context.Context, m *metrics, attrs []attribute.KeyValue) {
	if m == nil {
		return
	}
	if !nt.connReused && !nt.connect.start.IsZero() {
		m.recordConnectionOpened(ctx, attrs)
	}
	if nt.dns.complete() {
		m.recordDNSDuration(ctx, nt.dns.duration(), attrs)
	}
	if nt.connect.complete() {
		m.recordConnectionDuration(ctx, nt.connect.duration(), attrs)
	}
	if nt.tls.complete() {
		m.recordTLSDuration(ctx, nt.tls.duration(), attrs)
	}
	if nt.server.complete() {
		m.recordTTFB(ctx, nt.server.duration(), attrs)
	}
}

func (nt *networkTrace) toTraceInfo() *TraceInfo {
	info := &TraceInfo{
		DNSLookup:  nt.dns.duration().String(),
		ConnTime:   nt.connect.duration().String(),
		ServerTime: nt.server.duration().String(),
		TotalTime:  phase{start: nt.start, done: nt.end}.duration().String(),
		ConnReused: nt.connReused,
		RemoteAddr: nt.connRemote,
	}
	if !nt.tls.start.IsZero() {
		info.TLSHandshake = nt.tls.duration().String()
	}
	return info
}
