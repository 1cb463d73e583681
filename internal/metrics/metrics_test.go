package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordStreamAndBackend(t *testing.T) {
	m := New()
	m.RecordStream("dev", "delta", nil)
	m.RecordStream("dev", "delta", nil)
	m.RecordStream("centrifugo", "error", errors.New("boom"))
	m.RecordBackend("complete", ResultOK, 20*time.Millisecond)
	m.RecordBackend("complete", ResultSkipped, 0)

	if got := promtest.ToFloat64(m.StreamMessages.WithLabelValues("dev", "delta", ResultOK)); got != 2 {
		t.Fatalf("expected 2 dev deltas, got %v", got)
	}
	if got := promtest.ToFloat64(m.StreamMessages.WithLabelValues("centrifugo", "error", ResultError)); got != 1 {
		t.Fatalf("expected 1 failed publish, got %v", got)
	}
	if got := promtest.ToFloat64(m.BackendRequests.WithLabelValues("complete", ResultSkipped)); got != 1 {
		t.Fatalf("expected skipped backend request, got %v", got)
	}
	if n := promtest.CollectAndCount(m.BackendDuration); n != 1 {
		t.Fatalf("skipped requests must not observe latency, got %d series", n)
	}
	m.RecordRateLimited()
	if got := promtest.ToFloat64(m.RateLimited); got != 1 {
		t.Fatalf("expected one rate limit hit, got %v", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordStream("dev", "delta", nil)
	m.RecordBackend("complete", ResultOK, time.Second)
	m.WatchDevChannels(func() int { return 1 })
	m.RecordRateLimited()
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTeapot) }))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("nil middleware must pass through, got %d", rec.Code)
	}
}

func TestMiddlewareAndHandler(t *testing.T) {
	m := New()
	channels := 3
	m.WatchDevChannels(func() int { return channels })
	m.WatchDevChannels(func() int { return 99 })

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/api/v1/poll/{channel}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Handle("/metrics", m.Handler())

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/poll/abc", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if got := promtest.ToFloat64(m.HTTPRequests.WithLabelValues(http.MethodGet, "/api/v1/poll/{channel}", "404")); got != 1 {
		t.Fatalf("expected route-labelled request, got %v", got)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	if !strings.Contains(body, "lexia_dev_channels 3") {
		t.Fatalf("expected dev channel gauge in output:\n%s", body)
	}
	if !strings.Contains(body, "lexia_http_requests_total") {
		t.Fatalf("expected http counter in output")
	}
}
