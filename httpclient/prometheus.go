package httpclient

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollectors are the collectors registered by Prometheus.
type PrometheusCollectors struct {
	// Requests counts completed exchanges by operation, method and status.
	// Transport failures are counted with status "error".
	Requests *prometheus.CounterVec

	// Duration observes exchange latency in seconds.
	Duration *prometheus.HistogramVec

	// InFlight is the number of exchanges in progress.
	InFlight prometheus.Gauge
}

// Prometheus returns middleware that exports client metrics to a Prometheus
// registry, for services that scrape instead of pushing OTLP.
//
// Metrics (with namespace "billing"):
//   - billing_http_client_requests_total{operation,method,status}
//   - billing_http_client_request_duration_seconds{operation,method}
//   - billing_http_client_requests_in_flight
//
// A nil registerer uses prometheus.DefaultRegisterer. Registering the same
// namespace twice reuses the existing collectors.
func Prometheus(reg prometheus.Registerer, namespace string) (Middleware, error) {
	c, err := NewPrometheusCollectors(reg, namespace)
	if err != nil {
		return nil, err
	}
	return c.Middleware(), nil
}

// NewPrometheusCollectors creates and registers the collectors.
func NewPrometheusCollectors(reg prometheus.Registerer, namespace string) (*PrometheusCollectors, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http_client",
			Name:      "requests_total",
			Help:      "Total HTTP client requests by operation, method and status",
		},
		[]string{"operation", "method", "status"},
	)
	duration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http_client",
			Name:      "request_duration_seconds",
			Help:      "HTTP client request duration in seconds",
			Buckets:   latencyBuckets,
		},
		[]string{"operation", "method"},
	)
	inFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http_client",
			Name:      "requests_in_flight",
			Help:      "Number of HTTP client requests in progress",
		},
	)

	var err error
	if requests, err = register(reg, requests); err != nil {
		return nil, err
	}
	if duration, err = register(reg, duration); err != nil {
		return nil, err
	}
	if inFlight, err = register(reg, inFlight); err != nil {
		return nil, err
	}

	return &PrometheusCollectors{
		Requests: requests,
		Duration: duration,
		InFlight: inFlight,
	}, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// Middleware returns the recording middleware.
func (p *PrometheusCollectors) Middleware() Middleware {
	return func(next Sender) Sender {
		return SenderFunc(func(ctx context.Context, req *Request) (*Response, error) {
			operation := req.OperationName()
			if operation == "" {
				operation = "unknown"
			}

			p.InFlight.Inc()
			defer p.InFlight.Dec()

			start := time.Now()
			resp, err := next.Send(ctx, req)
			p.Duration.WithLabelValues(operation, req.Method).Observe(time.Since(start).Seconds())

			status := "error"
			if err == nil {
				status = strconv.Itoa(resp.StatusCode)
			}
			p.Requests.WithLabelValues(operation, req.Method, status).Inc()

			return resp, err
		})
	}
}
