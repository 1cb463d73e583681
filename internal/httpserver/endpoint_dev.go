package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tokligence/lexia-stream/internal/devstream"
	"github.com/tokligence/lexia-stream/internal/httpserver/protocol"
)

const maxPublishBytes = 1 << 20

// devEndpoint exposes the in-process registry. Registered only in dev mode.
type devEndpoint struct {
	server *Server
}

func newDevEndpoint(server *Server) protocol.Endpoint {
	return &devEndpoint{server: server}
}

func (e *devEndpoint) Name() string { return "dev" }

func (e *devEndpoint) Routes() []protocol.EndpointRoute {
	s := e.server
	return []protocol.EndpointRoute{
		{Method: http.MethodGet, Path: "/api/v1/poll/{channel}", Handler: http.HandlerFunc(s.handlePoll)},
		{Method: http.MethodGet, Path: "/api/v1/stream/{channel}", Handler: http.HandlerFunc(s.handleStreamSSE)},
		{Method: http.MethodGet, Path: "/api/v1/ws/{channel}", Handler: http.HandlerFunc(s.handleStreamWS)},
		{Method: http.MethodPost, Path: "/api/v1/dev/publish/{channel}", Handler: http.HandlerFunc(s.handlePublish)},
		{Method: http.MethodGet, Path: "/api/v1/dev/channels", Handler: http.HandlerFunc(s.handleChannels)},
		{Method: http.MethodDelete, Path: "/api/v1/dev/channels/{channel}", Handler: http.HandlerFunc(s.handleClearChannel)},
	}
}

// handlePoll returns the channel state. A finished channel is cleared after
// it has been returned once, so the next response starts from empty.
func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	channel := chi.URLParam(r, "channel")
	reg := s.handler.Registry()

	rec, ok := reg.Lookup(channel)
	if !ok {
		s.respondJSON(w, http.StatusOK, devstream.State{Channel: channel, Chunks: []string{}})
		return
	}
	st := rec.Snapshot()
	if st.Finished {
		reg.Clear(channel)
		s.debugf("poll drained finished channel %s", channel)
	}
	s.respondJSON(w, http.StatusOK, st)
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	channel := chi.URLParam(r, "channel")
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPublishBytes))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Errorf("read body: %w", err))
		return
	}
	if !json.Valid(raw) {
		s.respondError(w, http.StatusBadRequest, errors.New("body must be valid JSON"))
		return
	}
	transport, ok := s.handler.DevTransport()
	if !ok {
		s.respondError(w, http.StatusNotFound, errors.New("dev transport not active"))
		return
	}
	// Payloads that do not match the message shape are logged by the transport.
	_ = transport.SendJSON(r.Context(), channel, raw)
	s.respondJSON(w, http.StatusAccepted, map[string]any{"status": "accepted", "channel": channel})
}

func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	channels := s.handler.Registry().Channels()
	s.respondJSON(w, http.StatusOK, map[string]any{"channels": channels, "count": len(channels)})
}

func (s *Server) handleClearChannel(w http.ResponseWriter, r *http.Request) {
	channel := chi.URLParam(r, "channel")
	cleared := s.handler.Registry().Clear(channel)
	s.respondJSON(w, http.StatusOK, map[string]any{"channel": channel, "cleared": cleared})
}
