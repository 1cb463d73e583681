package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result label values.
const (
	ResultOK      = "ok"
	ResultError   = "error"
	ResultSkipped = "skipped"
)

// Metrics owns the collectors for one process. Each instance registers on its
// own registry so tests can build fresh ones. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// StreamMessages counts messages handed to a transport.
	StreamMessages *prometheus.CounterVec
	// BackendRequests counts persistence calls to the Lexia backend.
	BackendRequests *prometheus.CounterVec
	// BackendDuration tracks persistence latency.
	BackendDuration *prometheus.HistogramVec
	// HTTPRequests counts requests served by the daemon.
	HTTPRequests *prometheus.CounterVec
	// HTTPDuration tracks request latency.
	HTTPDuration *prometheus.HistogramVec
	// RateLimited counts rejected send_message calls.
	RateLimited prometheus.Counter

	gaugeOnce sync.Once
}

// New registers all collectors on a dedicated registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		StreamMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lexia_stream_messages_total",
				Help: "Total number of stream messages sent, by transport, kind and result",
			},
			[]string{"transport", "kind", "result"},
		),
		BackendRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lexia_backend_requests_total",
				Help: "Total number of Lexia backend persistence requests",
			},
			[]string{"kind", "result"},
		),
		BackendDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lexia_backend_request_duration_seconds",
				Help:    "Lexia backend request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lexia_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lexia_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		RateLimited: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "lexia_rate_limit_hits_total",
				Help: "Total number of messages rejected by the per-thread rate limit",
			},
		),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordStream records one transport send.
func (m *Metrics) RecordStream(transport, kind string, err error) {
	if m == nil {
		return
	}
	m.StreamMessages.WithLabelValues(transport, kind, resultOf(err)).Inc()
}

// RecordBackend records one persistence attempt. Use ResultSkipped when no
// backend URL was configured.
func (m *Metrics) RecordBackend(kind, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.BackendRequests.WithLabelValues(kind, result).Inc()
	if result != ResultSkipped {
		m.BackendDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
	}
}

// RecordRateLimited counts one rejected message.
func (m *Metrics) RecordRateLimited() {
	if m == nil {
		return
	}
	m.RateLimited.Inc()
}

// WatchDevChannels exports the size of the dev channel registry. Only the
// first call registers the gauge.
func (m *Metrics) WatchDevChannels(count func() int) {
	if m == nil || count == nil {
		return
	}
	m.gaugeOnce.Do(func() {
		promauto.With(m.registry).NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "lexia_dev_channels",
				Help: "Number of channels held by the in-process dev registry",
			},
			func() float64 { return float64(count()) },
		)
	})
}

// Handler returns the Prometheus metrics HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush implements http.Flusher for SSE support
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack implements http.Hijacker for websocket upgrades
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware records request counts and latency labelled by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		route := routePattern(r)
		m.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(wrapped.statusCode)).Inc()
		m.HTTPDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// routePattern keeps label cardinality bounded by using the matched route.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "other"
}

func resultOf(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultOK
}
