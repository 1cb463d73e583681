package async

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/tokligence/lexia-stream/internal/ledger"
)

type memoryStore struct {
	mu      sync.Mutex
	entries []ledger.Entry
	closed  bool
}

func (m *memoryStore) Record(_ context.Context, e ledger.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *memoryStore) Summary(_ context.Context, threadID string) (ledger.Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var s ledger.Summary
	for _, e := range m.entries {
		if e.ThreadID == threadID {
			s.Responses++
			s.TotalTokens += e.TotalTokens
		}
	}
	return s, nil
}

func (m *memoryStore) ListRecent(context.Context, string, int) ([]ledger.Entry, error) {
	return nil, nil
}

func (m *memoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *memoryStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func TestCloseDrainsQueuedEntries(t *testing.T) {
	mem := &memoryStore{}
	s := New(mem, Config{BatchSize: 1000, FlushInterval: time.Hour})

	ctx := context.Background()
	for i := 0; i < 25; i++ {
		if err := s.Record(ctx, ledger.Entry{ResponseUUID: "u", ThreadID: "t", TotalTokens: 2, Status: ledger.StatusCompleted}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if mem.count() != 25 {
		t.Fatalf("expected 25 flushed entries, got %d", mem.count())
	}
	if !mem.closed {
		t.Fatalf("underlying store should be closed")
	}
	// Late records after Close are dropped.
	_ = s.Record(ctx, ledger.Entry{ResponseUUID: "late"})
}

func TestFlushOnInterval(t *testing.T) {
	mem := &memoryStore{}
	s := New(mem, Config{BatchSize: 1000, FlushInterval: 10 * time.Millisecond})
	t.Cleanup(func() { _ = s.Close() })

	_ = s.Record(context.Background(), ledger.Entry{ResponseUUID: "u1", ThreadID: "t", TotalTokens: 5, Status: ledger.StatusCompleted})

	deadline := time.Now().Add(2 * time.Second)
	for mem.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	sum, err := s.Summary(context.Background(), "t")
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.Responses != 1 || sum.TotalTokens != 5 {
		t.Fatalf("unexpected summary %#v", sum)
	}
}
