package httpserver

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/tokligence/lexia-stream/internal/conversation"
	"github.com/tokligence/lexia-stream/internal/httpserver/protocol"
	"github.com/tokligence/lexia-stream/internal/ledger"
)

type conversationEndpoint struct {
	server *Server
}

func newConversationEndpoint(server *Server) protocol.Endpoint {
	return &conversationEndpoint{server: server}
}

func (e *conversationEndpoint) Name() string { return "conversation" }

func (e *conversationEndpoint) Routes() []protocol.EndpointRoute {
	return []protocol.EndpointRoute{
		{Method: http.MethodGet, Path: "/api/v1/conversation/{thread_id}/history", Handler: http.HandlerFunc(e.server.handleHistory)},
		{Method: http.MethodDelete, Path: "/api/v1/conversation/{thread_id}", Handler: http.HandlerFunc(e.server.handleClearHistory)},
	}
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "thread_id")
	msgs, err := s.conversations.History(r.Context(), threadID, queryLimit(r))
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	if msgs == nil {
		msgs = []conversation.Message{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"thread_id": threadID,
		"messages":  msgs,
		"count":     len(msgs),
	})
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "thread_id")
	n, err := s.conversations.Clear(r.Context(), threadID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"thread_id": threadID,
		"status":    "cleared",
		"deleted":   n,
	})
}

type usageEndpoint struct {
	server *Server
}

func newUsageEndpoint(server *Server) protocol.Endpoint {
	return &usageEndpoint{server: server}
}

func (e *usageEndpoint) Name() string { return "usage" }

func (e *usageEndpoint) Routes() []protocol.EndpointRoute {
	return []protocol.EndpointRoute{
		{Method: http.MethodGet, Path: "/api/v1/usage/{thread_id}", Handler: http.HandlerFunc(e.server.handleUsage)},
	}
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "thread_id")
	summary, err := s.ledger.Summary(r.Context(), threadID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	entries, err := s.ledger.ListRecent(r.Context(), threadID, queryLimit(r))
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	if entries == nil {
		entries = []ledger.Entry{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"thread_id": threadID,
		"summary":   summary,
		"entries":   entries,
	})
}

// queryLimit reads ?limit=N; zero lets the store apply its default.
func queryLimit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
