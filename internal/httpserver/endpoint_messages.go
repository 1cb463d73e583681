package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/tokligence/lexia-stream/internal/httpserver/protocol"
	"github.com/tokligence/lexia-stream/internal/lexia"
	"github.com/tokligence/lexia-stream/internal/ratelimit"
)

const maxMessageBytes = 4 << 20

type messageEndpoint struct {
	server *Server
}

func newMessageEndpoint(server *Server) protocol.Endpoint {
	return &messageEndpoint{server: server}
}

func (e *messageEndpoint) Name() string { return "send_message" }

func (e *messageEndpoint) Routes() []protocol.EndpointRoute {
	return []protocol.EndpointRoute{
		{Method: http.MethodPost, Path: "/api/v1/send_message", Handler: http.HandlerFunc(e.server.HandleSendMessage)},
	}
}

// HandleSendMessage acknowledges a Lexia message immediately and streams the
// reply in the background.
func (s *Server) HandleSendMessage(w http.ResponseWriter, r *http.Request) {
	var msg lexia.ChatMessage
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMessageBytes)).Decode(&msg); err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if strings.TrimSpace(msg.Message) == "" {
		s.respondError(w, http.StatusBadRequest, errors.New("message is required"))
		return
	}
	decision := s.limiter.Allow(msg.ThreadID)
	ratelimit.SetHeaders(w, decision)
	if !decision.Allowed {
		s.logger.Printf("WARNING: rate limit exceeded for thread %s", msg.ThreadID)
		s.metrics.RecordRateLimited()
		s.respondError(w, http.StatusTooManyRequests, errors.New("rate limit exceeded, retry later"))
		return
	}
	if msg.ResponseUUID == "" {
		msg.ResponseUUID = uuid.NewString()
	}
	if msg.Channel == "" {
		msg.Channel = msg.ResponseUUID
	}
	s.resetFinishedChannel(msg.Channel)

	s.debugf("accepted message thread=%s channel=%s uuid=%s", msg.ThreadID, msg.Channel, msg.ResponseUUID)
	s.wg.Add(1)
	go s.process(&msg)

	resp := lexia.NewSuccessResponse(msg.ResponseUUID, msg.ThreadID, "Message accepted, streaming response")
	resp.Channel = msg.Channel
	s.respondJSON(w, http.StatusOK, resp)
}

// resetFinishedChannel clears a dev channel left over from an earlier response
// so the new one can stream into it.
func (s *Server) resetFinishedChannel(channel string) {
	reg := s.handler.Registry()
	if reg == nil {
		return
	}
	if rec, ok := reg.Lookup(channel); ok && rec.Snapshot().Finished {
		reg.Clear(channel)
	}
}

func (s *Server) process(msg *lexia.ChatMessage) {
	defer s.wg.Done()
	ctx := s.baseCtx
	rc := msg.RequestContext()

	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Printf("ERROR: processor panicked for %s: %v", msg.ResponseUUID, rec)
			_ = s.handler.SendError(ctx, rc, fmt.Sprintf("internal error: %v", rec))
		}
	}()

	if err := s.processor.Process(ctx, msg, s.handler); err != nil {
		s.logger.Printf("ERROR: processing %s failed: %v", msg.ResponseUUID, err)
		if sendErr := s.handler.SendError(ctx, rc, err.Error()); sendErr != nil {
			s.logger.Printf("ERROR: reporting failure for %s: %v", msg.ResponseUUID, sendErr)
		}
	}
}
