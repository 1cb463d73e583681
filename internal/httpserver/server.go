package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/tokligence/lexia-stream/internal/adapter"
	"github.com/tokligence/lexia-stream/internal/adapter/loopback"
	"github.com/tokligence/lexia-stream/internal/conversation"
	"github.com/tokligence/lexia-stream/internal/health"
	"github.com/tokligence/lexia-stream/internal/httpserver/protocol"
	"github.com/tokligence/lexia-stream/internal/ledger"
	"github.com/tokligence/lexia-stream/internal/lexia"
	"github.com/tokligence/lexia-stream/internal/metrics"
	"github.com/tokligence/lexia-stream/internal/ratelimit"
)

// Server exposes the Lexia agent endpoints and, in dev mode, the stream
// inspection endpoints backed by the handler's registry.
type Server struct {
	handler       *lexia.Handler
	processor     adapter.Processor
	conversations conversation.Store
	ledger        ledger.Store
	metrics       *metrics.Metrics
	checker       *health.Checker
	limiter       *ratelimit.Limiter

	logger   *log.Logger
	logLevel string

	upgrader websocket.Upgrader

	// baseCtx parents background message processing so it outlives the request.
	baseCtx context.Context
	wg      sync.WaitGroup
}

// New builds a Server around handler. The loopback processor answers
// messages until SetProcessor installs real agent logic.
func New(handler *lexia.Handler) *Server {
	return &Server{
		handler:   handler,
		processor: loopback.New(),
		logger:    log.New(log.Writer(), "[lexiad/http] ", log.LstdFlags|log.Lmicroseconds),
		logLevel:  "info",
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		baseCtx: context.Background(),
	}
}

// SetProcessor installs the agent logic run for each incoming message.
func (s *Server) SetProcessor(p adapter.Processor) {
	if p != nil {
		s.processor = p
	}
}

// SetConversationStore enables the conversation history endpoints. The
// loopback processor also records its turns there.
func (s *Server) SetConversationStore(store conversation.Store) {
	s.conversations = store
	if lp, ok := s.processor.(*loopback.Processor); ok && lp.History == nil {
		lp.History = store
	}
}

// SetLedger enables the usage endpoint.
func (s *Server) SetLedger(store ledger.Store) {
	s.ledger = store
}

// SetMetrics enables request metrics and the /metrics endpoint.
func (s *Server) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// SetHealthChecker enables dependency probes on /api/v1/health/ready.
func (s *Server) SetHealthChecker(c *health.Checker) {
	s.checker = c
}

// SetRateLimiter throttles send_message per thread. A nil limiter disables it.
func (s *Server) SetRateLimiter(l *ratelimit.Limiter) {
	s.limiter = l
}

// SetLogger configures server-level logger and verbosity ("debug", "info", ...).
func (s *Server) SetLogger(level string, logger *log.Logger) {
	s.logLevel = strings.ToLower(strings.TrimSpace(level))
	if logger != nil {
		s.logger = logger
	}
}

// SetBaseContext replaces the parent context of background processing.
// Cancelling it aborts in-flight responses.
func (s *Server) SetBaseContext(ctx context.Context) {
	if ctx != nil {
		s.baseCtx = ctx
	}
}

func (s *Server) isDebug() bool { return s.logLevel == "debug" }
func (s *Server) debugf(format string, args ...any) {
	if s.logger != nil && s.isDebug() {
		s.logger.Printf("DEBUG "+format, args...)
	}
}

// Router returns a configured chi router for embedding in HTTP servers.
func (s *Server) Router() http.Handler {
	r := s.newBaseRouter()
	s.registerEndpoints(r, s.endpoints()...)
	return r
}

func (s *Server) newBaseRouter() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if s.metrics != nil {
		r.Use(s.metrics.Middleware)
	}
	return r
}

func (s *Server) endpoints() []protocol.Endpoint {
	eps := []protocol.Endpoint{
		newHealthEndpoint(s),
		newMessageEndpoint(s),
	}
	if s.conversations != nil {
		eps = append(eps, newConversationEndpoint(s))
	}
	if s.ledger != nil {
		eps = append(eps, newUsageEndpoint(s))
	}
	if s.handler.DevMode() {
		eps = append(eps, newDevEndpoint(s))
	}
	if s.metrics != nil {
		eps = append(eps, newMetricsEndpoint(s))
	}
	return eps
}

func (s *Server) registerEndpoints(r chi.Router, endpoints ...protocol.Endpoint) {
	for _, ep := range endpoints {
		if ep == nil {
			continue
		}
		s.debugf("registering endpoint %s", ep.Name())
		for _, route := range ep.Routes() {
			r.Method(route.Method, route.Path, route.Handler)
		}
	}
}

// Wait blocks until background message processing finishes or ctx expires.
func (s *Server) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	if payload == nil {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) respondError(w http.ResponseWriter, status int, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	s.respondJSON(w, status, map[string]any{"error": err.Error()})
}
