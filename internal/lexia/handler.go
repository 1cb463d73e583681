package lexia

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/tokligence/lexia-stream/internal/centrifugo"
	"github.com/tokligence/lexia-stream/internal/client"
	"github.com/tokligence/lexia-stream/internal/config"
	"github.com/tokligence/lexia-stream/internal/devstream"
	"github.com/tokligence/lexia-stream/internal/ledger"
	"github.com/tokligence/lexia-stream/internal/metrics"
	"github.com/tokligence/lexia-stream/internal/stream"
	"github.com/tokligence/lexia-stream/internal/usage"
)

// Transport names used in logs and metric labels.
const (
	TransportDev        = "dev"
	TransportCentrifugo = "centrifugo"
)

// Persistence kinds used in logs and metric labels.
const (
	kindComplete = "complete"
	kindError    = "error"
)

// Handler is the single entry point for streaming a response to Lexia. It
// owns one transport, chosen at construction, and one backend API client.
type Handler struct {
	devMode       bool
	transport     stream.Transport
	transportName string
	devTransport  *devstream.Transport
	registry      *devstream.Registry

	api     *client.APIClient
	ledger  ledger.Store
	metrics *metrics.Metrics

	logger *log.Logger
	debug  bool
}

// Option customises a Handler.
type Option func(*options)

type options struct {
	devMode    *bool
	registry   *devstream.Registry
	httpClient client.HTTPClient
	logger     *log.Logger
	echo       io.Writer
	ledger     ledger.Store
	metrics    *metrics.Metrics
	transport  stream.Transport
}

// WithDevMode forces the transport choice, overriding the configuration.
func WithDevMode(devMode bool) Option {
	return func(o *options) { o.devMode = &devMode }
}

// WithRegistry shares an existing dev registry, for example with the HTTP
// inspection endpoints. Ignored in production mode.
func WithRegistry(r *devstream.Registry) Option {
	return func(o *options) { o.registry = r }
}

// WithHTTPClient replaces the HTTP client used for the relay and the backend.
func WithHTTPClient(c client.HTTPClient) Option {
	return func(o *options) { o.httpClient = c }
}

// WithLogger sets the handler logger. Component loggers share its writer.
func WithLogger(l *log.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithEcho redirects the dev transport's terminal echo of deltas.
func WithEcho(w io.Writer) Option {
	return func(o *options) { o.echo = w }
}

// WithLedger records usage of every finished response to store.
func WithLedger(store ledger.Store) Option {
	return func(o *options) { o.ledger = store }
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithTransport replaces the production relay client. The dev transport is
// always the in-process registry.
func WithTransport(t stream.Transport) Option {
	return func(o *options) { o.transport = t }
}

// New builds a Handler. Dev mode comes from WithDevMode when given, else from
// cfg.DevMode.
func New(cfg config.Config, opts ...Option) *Handler {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	devMode := cfg.DevMode
	if o.devMode != nil {
		devMode = *o.devMode
	}
	logger := o.logger
	if logger == nil {
		logger = log.New(log.Writer(), "[lexia/handler] ", log.LstdFlags|log.Lmicroseconds)
	}

	h := &Handler{
		devMode: devMode,
		ledger:  o.ledger,
		metrics: o.metrics,
		logger:  logger,
		debug:   cfg.LogLevel == "debug",
	}

	if devMode {
		registry := o.registry
		if registry == nil {
			registry = devstream.NewRegistry()
		}
		h.registry = registry
		h.devTransport = devstream.NewTransport(registry, componentLogger(logger, "[lexia/devstream] "), o.echo)
		h.transport = h.devTransport
		h.transportName = TransportDev
		h.metrics.WatchDevChannels(registry.Len)
		logger.Printf("handler initialized in DEV MODE (no Centrifugo)")
	} else {
		h.transport = o.transport
		if h.transport == nil {
			h.transport = centrifugo.New(cfg.CentrifugoURL, cfg.CentrifugoAPIKey, o.httpClient, componentLogger(logger, "[lexia/centrifugo] "))
		}
		h.transportName = TransportCentrifugo
		logger.Printf("handler initialized in PRODUCTION MODE (Centrifugo)")
	}

	httpClient := o.httpClient
	if httpClient == nil {
		timeout := cfg.BackendTimeout
		if timeout <= 0 {
			timeout = config.DefaultBackendTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	h.api = client.NewAPIClient(httpClient, cfg.DefaultHeaders)
	h.api.SetLogger(componentLogger(logger, "[lexia/api] "))
	return h
}

func componentLogger(base *log.Logger, prefix string) *log.Logger {
	return log.New(base.Writer(), prefix, base.Flags())
}

func (h *Handler) debugf(format string, args ...any) {
	if h.debug {
		h.logger.Printf("DEBUG: "+format, args...)
	}
}

// DevMode reports whether the in-process transport is active.
func (h *Handler) DevMode() bool { return h.devMode }

// Registry returns the dev registry, or nil in production mode.
func (h *Handler) Registry() *devstream.Registry { return h.registry }

// DevTransport returns the in-process transport when dev mode is active.
func (h *Handler) DevTransport() (*devstream.Transport, bool) {
	return h.devTransport, h.devTransport != nil
}

// UpdateCentrifugoConfig swaps the relay credentials. Both values are
// required; a partial pair keeps the current configuration.
func (h *Handler) UpdateCentrifugoConfig(streamURL, streamToken string) {
	if h.devMode {
		h.logger.Printf("dev mode active, skipping Centrifugo config update")
		return
	}
	if streamURL == "" || streamToken == "" {
		h.logger.Printf("WARNING: stream url or token not provided, using default configuration")
		return
	}
	h.transport.UpdateConfig(streamURL, streamToken)
	h.logger.Printf("updated Centrifugo config url=%s", streamURL)
}

func (h *Handler) applyStreamCredentials(rc RequestContext) {
	if !h.devMode && rc.StreamURL != "" && rc.StreamToken != "" {
		h.UpdateCentrifugoConfig(rc.StreamURL, rc.StreamToken)
	}
}

// StreamChunk sends one incremental piece of the response.
func (h *Handler) StreamChunk(ctx context.Context, rc RequestContext, content string) error {
	h.debugf("stream chunk channel=%s chars=%d", rc.Channel, len(content))
	h.applyStreamCredentials(rc)

	err := h.transport.SendDelta(ctx, rc.Channel, rc.ResponseUUID, rc.ThreadID, content)
	h.metrics.RecordStream(h.transportName, "delta", err)
	if err != nil {
		h.logger.Printf("ERROR: stream chunk on %s failed: %v", rc.Channel, err)
		return fmt.Errorf("stream chunk: %w", err)
	}
	return nil
}

// CompleteResponse signals completion to listeners, then persists the
// response to the backend when rc.URL is set. Persistence failures are logged
// and never returned; a transport failure is returned and skips persistence.
func (h *Handler) CompleteResponse(ctx context.Context, rc RequestContext, fullResponse string, info *usage.Info, fileURL string) error {
	h.applyStreamCredentials(rc)

	err := h.transport.SendCompletion(ctx, rc.Channel, rc.ResponseUUID, rc.ThreadID, fullResponse)
	h.metrics.RecordStream(h.transportName, "complete", err)
	if err != nil {
		h.logger.Printf("ERROR: completion on %s failed: %v", rc.Channel, err)
		return fmt.Errorf("send completion: %w", err)
	}

	block, estimated := usage.Resolve(info, fullResponse)
	if estimated {
		h.debugf("no provider usage for %s, estimated %d output tokens", rc.ResponseUUID, block.OutputTokens)
	}
	record := NewCompletionRecord(rc, fullResponse, block, fileURL)
	h.recordUsage(ctx, rc, block, estimated, ledger.StatusCompleted)
	h.persist(ctx, kindComplete, rc, record)
	return nil
}

// SendError signals failure to listeners, then persists a FAILED record to
// the backend when rc.URL is set.
func (h *Handler) SendError(ctx context.Context, rc RequestContext, message string) error {
	h.applyStreamCredentials(rc)

	err := h.transport.SendError(ctx, rc.Channel, rc.ResponseUUID, rc.ThreadID, message)
	h.metrics.RecordStream(h.transportName, "error", err)
	if err != nil {
		h.logger.Printf("ERROR: error notification on %s failed: %v", rc.Channel, err)
		return fmt.Errorf("send error: %w", err)
	}

	h.recordUsage(ctx, rc, usage.Zero(), false, ledger.StatusFailed)
	h.persist(ctx, kindError, rc, NewErrorRecord(rc, message))
	return nil
}

// persist posts payload to the backend. It never fails the caller.
func (h *Handler) persist(ctx context.Context, kind string, rc RequestContext, payload any) {
	if rc.URL == "" {
		if h.devMode {
			h.logger.Printf("dev mode: skipping backend %s call (no url provided)", kind)
		} else {
			h.logger.Printf("WARNING: no url provided, skipping backend %s call", kind)
		}
		h.metrics.RecordBackend(kind, metrics.ResultSkipped, 0)
		return
	}

	h.debugf("sending %s to backend url=%s headers=%v payload=%+v", kind, rc.URL, rc.Headers, payload)
	start := time.Now()
	resp, err := h.api.Post(ctx, rc.URL, payload, rc.Headers)
	elapsed := time.Since(start)
	if err != nil {
		h.logger.Printf("ERROR: failed to send %s to backend: %v", kind, err)
		h.metrics.RecordBackend(kind, metrics.ResultError, elapsed)
		return
	}
	if resp.StatusCode != http.StatusOK {
		h.logger.Printf("ERROR: backend %s rejected: status=%d body=%s", kind, resp.StatusCode, resp.Body)
		h.metrics.RecordBackend(kind, metrics.ResultError, elapsed)
		return
	}
	h.logger.Printf("backend accepted %s for %s", kind, rc.ResponseUUID)
	h.metrics.RecordBackend(kind, metrics.ResultOK, elapsed)
}

func (h *Handler) recordUsage(ctx context.Context, rc RequestContext, block usage.Block, estimated bool, status ledger.Status) {
	if h.ledger == nil {
		return
	}
	entry := ledger.Entry{
		ResponseUUID:   rc.ResponseUUID,
		ThreadID:       rc.ThreadID,
		ConversationID: rc.ConversationID,
		Channel:        rc.Channel,
		InputTokens:    int64(block.InputTokens),
		OutputTokens:   int64(block.OutputTokens),
		TotalTokens:    int64(block.TotalTokens),
		Estimated:      estimated,
		Status:         status,
	}
	if err := h.ledger.Record(ctx, entry); err != nil {
		h.logger.Printf("WARNING: ledger record for %s failed: %v", rc.ResponseUUID, err)
	}
}
