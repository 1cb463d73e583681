package devstream

import (
	"sync"

	"github.com/tokligence/lexia-stream/internal/stream"
)

// EventKind identifies a state transition observed on a record.
type EventKind string

const (
	EventDelta    EventKind = "delta"
	EventComplete EventKind = "complete"
	EventError    EventKind = "error"
)

// Event is delivered to subscribers of a record. Data holds the delta text,
// the final response or the error message depending on Kind.
type Event struct {
	Channel string    `json:"channel"`
	Kind    EventKind `json:"kind"`
	Data    string    `json:"data"`
}

// Handler receives record events. Handlers run on the sender's goroutine after
// the record lock is released.
type Handler func(Event)

// State is a point-in-time copy of a record.
type State struct {
	Channel      string          `json:"channel"`
	Chunks       []string        `json:"chunks"`
	FullResponse string          `json:"full_response"`
	Finished     bool            `json:"finished"`
	Error        *string         `json:"error"`
	LastMessage  *stream.Message `json:"last_message,omitempty"`
}

type subscription struct {
	id   uint64
	kind EventKind // empty means every kind
	fn   Handler
}

// notifier is the per-record observer list. Clear swaps in a fresh notifier,
// so subscriptions taken before a clear stop receiving events.
type notifier struct {
	mu     sync.Mutex
	nextID uint64
	subs   []subscription
}

func (n *notifier) add(kind EventKind, fn Handler) func() {
	n.mu.Lock()
	n.nextID++
	id := n.nextID
	n.subs = append(n.subs, subscription{id: id, kind: kind, fn: fn})
	n.mu.Unlock()
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		for i, s := range n.subs {
			if s.id == id {
				n.subs = append(n.subs[:i:i], n.subs[i+1:]...)
				return
			}
		}
	}
}

func (n *notifier) handlers(kind EventKind) []Handler {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []Handler
	for _, s := range n.subs {
		if s.kind == "" || s.kind == kind {
			out = append(out, s.fn)
		}
	}
	return out
}

func (n *notifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs)
}

// Record holds the in-flight state of one channel.
type Record struct {
	channel string

	mu           sync.Mutex
	chunks       []string
	fullResponse string
	finished     bool
	errMsg       string
	hasErr       bool
	lastMessage  *stream.Message
	notifier     *notifier
}

func newRecord(channel string) *Record {
	return &Record{channel: channel, notifier: &notifier{}}
}

// Channel returns the channel name the record is keyed by.
func (r *Record) Channel() string { return r.channel }

// Subscribe registers fn for one event kind and returns a function that
// removes the subscription.
//
// fn runs on the sending goroutine once the record lock is released. Events
// from one sender arrive in order, but two Sends racing on the same channel
// may reach fn in a different order than their chunks were stored; callers
// that need ordered delivery serialize their sends per channel.
func (r *Record) Subscribe(kind EventKind, fn Handler) func() {
	r.mu.Lock()
	n := r.notifier
	r.mu.Unlock()
	return n.add(kind, fn)
}

// SubscribeAll registers fn for every event kind.
func (r *Record) SubscribeAll(fn Handler) func() {
	return r.Subscribe("", fn)
}

// Subscribers reports how many observers are attached to the current notifier.
func (r *Record) Subscribers() int {
	r.mu.Lock()
	n := r.notifier
	r.mu.Unlock()
	return n.count()
}

// Snapshot returns a copy of the record state.
func (r *Record) Snapshot() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// Watch atomically snapshots the record and subscribes fn to every event
// kind. Events reflected in the snapshot are never delivered to fn, and every
// later event is.
func (r *Record) Watch(fn Handler) (State, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked(), r.notifier.add("", fn)
}

func (r *Record) snapshotLocked() State {
	st := State{
		Channel:      r.channel,
		Chunks:       append([]string{}, r.chunks...),
		FullResponse: r.fullResponse,
		Finished:     r.finished,
	}
	if r.hasErr {
		msg := r.errMsg
		st.Error = &msg
	}
	if r.lastMessage != nil {
		last := *r.lastMessage
		st.LastMessage = &last
	}
	return st
}

func (r *Record) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunks = nil
	r.fullResponse = ""
	r.finished = false
	r.errMsg = ""
	r.hasErr = false
	r.lastMessage = nil
	r.notifier = &notifier{}
}

type delivery struct {
	event    Event
	handlers []Handler
}

type applyResult struct {
	deliveries   []delivery
	appended     bool
	droppedDelta bool
	completed    bool
	failed       bool
	chunkCount   int
	errMsg       string
}

// apply classifies msg and mutates the record. Delta, completion and error
// markers are applied in that order; all present markers take effect.
func (r *Record) apply(msg stream.Message) applyResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res applyResult
	n := r.notifier

	if msg.Delta != "" {
		if r.finished {
			res.droppedDelta = true
		} else {
			r.chunks = append(r.chunks, msg.Delta)
			r.fullResponse += msg.Delta
			res.appended = true
			res.deliveries = append(res.deliveries, delivery{
				event:    Event{Channel: r.channel, Kind: EventDelta, Data: msg.Delta},
				handlers: n.handlers(EventDelta),
			})
		}
	}

	if msg.Finished {
		r.finished = true
		if msg.FullResponse != "" {
			r.fullResponse = msg.FullResponse
		}
		res.completed = true
		res.deliveries = append(res.deliveries, delivery{
			event:    Event{Channel: r.channel, Kind: EventComplete, Data: r.fullResponse},
			handlers: n.handlers(EventComplete),
		})
	}

	if msg.Error {
		r.errMsg = msg.Content
		if r.errMsg == "" {
			r.errMsg = stream.DefaultErrorMessage
		}
		r.hasErr = true
		r.finished = true
		res.failed = true
		res.errMsg = r.errMsg
		res.deliveries = append(res.deliveries, delivery{
			event:    Event{Channel: r.channel, Kind: EventError, Data: r.errMsg},
			handlers: n.handlers(EventError),
		})
	}

	last := msg
	r.lastMessage = &last
	res.chunkCount = len(r.chunks)
	return res
}
