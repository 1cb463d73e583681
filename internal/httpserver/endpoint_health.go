package httpserver

import (
	"net/http"
	"time"

	"github.com/tokligence/lexia-stream/internal/health"
	"github.com/tokligence/lexia-stream/internal/httpserver/protocol"
	"github.com/tokligence/lexia-stream/internal/lexia"
	"github.com/tokligence/lexia-stream/internal/version"
)

type healthEndpoint struct {
	server *Server
}

func newHealthEndpoint(server *Server) protocol.Endpoint {
	return &healthEndpoint{server: server}
}

func (e *healthEndpoint) Name() string { return "health" }

func (e *healthEndpoint) Routes() []protocol.EndpointRoute {
	return []protocol.EndpointRoute{
		{Method: http.MethodGet, Path: "/", Handler: http.HandlerFunc(e.server.HandleRoot)},
		{Method: http.MethodGet, Path: "/api/v1/health", Handler: http.HandlerFunc(e.server.HandleHealth)},
		{Method: http.MethodGet, Path: "/api/v1/health/ready", Handler: http.HandlerFunc(e.server.HandleReady)},
	}
}

func (s *Server) transportName() string {
	if s.handler.DevMode() {
		return lexia.TransportDev
	}
	return lexia.TransportCentrifugo
}

// HandleHealth reports liveness and the active transport.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"time":      time.Now().UTC().Format(time.RFC3339),
		"version":   version.Info(),
		"dev_mode":  s.handler.DevMode(),
		"transport": s.transportName(),
	})
}

// HandleReady probes the configured stores and relay. An unhealthy result
// answers 503 so load balancers stop routing here.
func (s *Server) HandleReady(w http.ResponseWriter, r *http.Request) {
	if s.checker == nil {
		s.respondJSON(w, http.StatusOK, health.HealthStatus{
			Status:     health.StatusHealthy,
			Timestamp:  time.Now().UTC(),
			Components: []health.Component{},
		})
		return
	}
	st := s.checker.Check(r.Context())
	code := http.StatusOK
	if st.Status == health.StatusUnhealthy {
		code = http.StatusServiceUnavailable
		s.logger.Printf("WARNING: readiness check unhealthy: %+v", st.Components)
	}
	s.respondJSON(w, code, st)
}

// HandleRoot describes the service and its endpoints.
func (s *Server) HandleRoot(w http.ResponseWriter, r *http.Request) {
	endpoints := map[string]string{
		"health":       "/api/v1/health",
		"ready":        "/api/v1/health/ready",
		"send_message": "/api/v1/send_message",
	}
	if s.conversations != nil {
		endpoints["history"] = "/api/v1/conversation/{thread_id}/history"
	}
	if s.ledger != nil {
		endpoints["usage"] = "/api/v1/usage/{thread_id}"
	}
	if s.handler.DevMode() {
		endpoints["poll"] = "/api/v1/poll/{channel}"
		endpoints["stream"] = "/api/v1/stream/{channel}"
		endpoints["ws"] = "/api/v1/ws/{channel}"
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"service":   "lexia-stream",
		"version":   version.FullInfo(),
		"dev_mode":  s.handler.DevMode(),
		"endpoints": endpoints,
	})
}

type metricsEndpoint struct {
	server *Server
}

func newMetricsEndpoint(server *Server) protocol.Endpoint {
	return &metricsEndpoint{server: server}
}

func (e *metricsEndpoint) Name() string { return "metrics" }

func (e *metricsEndpoint) Routes() []protocol.EndpointRoute {
	return []protocol.EndpointRoute{
		{Method: http.MethodGet, Path: "/metrics", Handler: e.server.metrics.Handler()},
	}
}
