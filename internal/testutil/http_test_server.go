// Package testutil holds helpers shared by package tests that talk to a real
// listener, such as the SSE and websocket watcher tests.
package testutil

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"
)

// shutdownGrace bounds how long Close waits for open streams before
// dropping them.
const shutdownGrace = 2 * time.Second

// IPv4Server is a test HTTP server on 127.0.0.1 that also serves long-lived
// streaming responses.
type IPv4Server struct {
	URL       string
	listener  net.Listener
	server    *http.Server
	transport *http.Transport
	client    *http.Client
	closeOnce sync.Once
}

// NewIPv4Server starts an HTTP server bound to the IPv4 loopback interface.
// It is closed automatically when the test ends.
func NewIPv4Server(t *testing.T, handler http.Handler) *IPv4Server {
	t.Helper()
	if handler == nil {
		handler = http.NewServeMux()
	}
	l, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Skipf("skipping test: tcp4 loopback unavailable (%v)", err)
	}
	transport := &http.Transport{}
	s := &IPv4Server{
		URL:       "http://" + l.Addr().String(),
		listener:  l,
		server:    &http.Server{Handler: handler},
		transport: transport,
		client:    &http.Client{Transport: transport},
	}
	go func() {
		if err := s.server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.Logf("IPv4Server serve error: %v", err)
		}
	}()
	t.Cleanup(s.Close)
	return s
}

// Client returns an HTTP client configured for the server.
func (s *IPv4Server) Client() *http.Client {
	return s.client
}

// WebSocketURL returns the ws:// address of path on the server.
func (s *IPv4Server) WebSocketURL(path string) string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + path
}

// Close shuts the server down. Streams still open after a short grace
// period are closed forcibly. Close is safe to call more than once.
func (s *IPv4Server) Close() {
	s.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			_ = s.server.Close()
		}
		s.transport.CloseIdleConnections()
	})
}
