package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/tokligence/lexia-stream/internal/devstream"
)

const (
	watchBuffer    = 256
	wsWriteTimeout = 10 * time.Second
)

// WireEvent is what SSE and websocket watchers receive for each record event.
type WireEvent struct {
	Type    string           `json:"type"`
	Channel string           `json:"channel"`
	Data    string           `json:"data,omitempty"`
	State   *devstream.State `json:"state,omitempty"`
}

// eventSink delivers watcher events over one connection.
type eventSink interface {
	Send(e WireEvent) error
	Context() context.Context
	Flush()
}

// watchSub is one subscription of a watcher. Deltas that do not fit the
// buffer are dropped and flagged on lagged; complete and error events use
// their own queue and are never dropped.
type watchSub struct {
	events   chan devstream.Event
	terminal chan devstream.Event
	lagged   chan struct{}
	stop     func()
}

func watchRecord(rec *devstream.Record) (devstream.State, *watchSub) {
	sub := &watchSub{
		events:   make(chan devstream.Event, watchBuffer),
		// An error payload fires complete then error.
		terminal: make(chan devstream.Event, 2),
		lagged:   make(chan struct{}, 1),
	}
	st, stop := rec.Watch(func(e devstream.Event) {
		queue := sub.events
		if e.Kind != devstream.EventDelta {
			queue = sub.terminal
		}
		select {
		case queue <- e:
		default:
			select {
			case sub.lagged <- struct{}{}:
			default:
			}
		}
	})
	sub.stop = stop
	return st, sub
}

func (w *watchSub) isLagged() bool {
	select {
	case <-w.lagged:
		return true
	default:
		return false
	}
}

// watch streams the snapshot of channel followed by live events until the
// response terminates or the client goes away. A watcher that falls behind
// is resubscribed and sent a fresh snapshot in place of the dropped deltas.
func (s *Server) watch(channel string, sink eventSink) error {
	rec := s.handler.Registry().GetOrCreate(channel)
	st, sub := watchRecord(rec)
	defer func() { sub.stop() }()

	sendSnapshot := func(st devstream.State) (bool, error) {
		if err := sink.Send(WireEvent{Type: "snapshot", Channel: channel, State: &st}); err != nil {
			return false, err
		}
		sink.Flush()
		return st.Finished, nil
	}
	resync := func() (bool, error) {
		s.logger.Printf("WARNING: watcher on %s lagged, resending snapshot", channel)
		sub.stop()
		st, sub = watchRecord(rec)
		return sendSnapshot(st)
	}
	send := func(e devstream.Event) error {
		if err := sink.Send(WireEvent{Type: string(e.Kind), Channel: e.Channel, Data: e.Data}); err != nil {
			return err
		}
		sink.Flush()
		return nil
	}

	if done, err := sendSnapshot(st); done || err != nil {
		return err
	}

	ctx := sink.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sub.lagged:
			if done, err := resync(); done || err != nil {
				return err
			}
		case e := <-sub.events:
			if err := send(e); err != nil {
				return err
			}
		case e := <-sub.terminal:
			if sub.isLagged() {
				if done, err := resync(); done || err != nil {
					return err
				}
				continue
			}
			// Deltas published before e are already queued.
			for drained := false; !drained; {
				select {
				case d := <-sub.events:
					if err := send(d); err != nil {
						return err
					}
				default:
					drained = true
				}
			}
			if err := send(e); err != nil {
				return err
			}
			switch e.Kind {
			case devstream.EventError:
				return nil
			case devstream.EventComplete:
				// An error payload also completes the record; wait for its error event.
				if rec.Snapshot().Error == nil {
					return nil
				}
			}
		}
	}
}

// sseSink writes events in text/event-stream framing.
type sseSink struct {
	w http.ResponseWriter
	r *http.Request
}

func (s sseSink) Send(e WireEvent) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if _, err := s.w.Write([]byte("event: " + e.Type + "\ndata: ")); err != nil {
		return err
	}
	if _, err := s.w.Write(b); err != nil {
		return err
	}
	_, err = s.w.Write([]byte("\n\n"))
	return err
}

func (s sseSink) Context() context.Context {
	return s.r.Context()
}

func (s sseSink) Flush() {
	if f, ok := s.w.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) handleStreamSSE(w http.ResponseWriter, r *http.Request) {
	channel := chi.URLParam(r, "channel")
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := s.watch(channel, sseSink{w: w, r: r}); err != nil {
		s.debugf("sse watcher on %s ended: %v", channel, err)
	}
}

// wsSink writes events as JSON text frames.
type wsSink struct {
	conn *websocket.Conn
	ctx  context.Context
}

func (s wsSink) Send(e WireEvent) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

func (s wsSink) Context() context.Context { return s.ctx }

func (s wsSink) Flush() {}

func (s *Server) handleStreamWS(w http.ResponseWriter, r *http.Request) {
	channel := chi.URLParam(r, "channel")
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("WARNING: websocket upgrade for %s failed: %v", channel, err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	// Reads only detect the client going away; inbound frames are ignored.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := s.watch(channel, wsSink{conn: conn, ctx: ctx}); err != nil {
		s.debugf("websocket watcher on %s ended: %v", channel, err)
		return
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream finished"),
		time.Now().Add(wsWriteTimeout))
}
