package conversation

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. History is lost on restart.
type MemoryStore struct {
	mu      sync.RWMutex
	nextID  int64
	threads map[string][]Message
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{threads: make(map[string][]Message)}
}

func (s *MemoryStore) Append(_ context.Context, msg Message) error {
	if msg.ThreadID == "" {
		return ErrThreadRequired
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	msg.ID = s.nextID
	s.threads[msg.ThreadID] = append(s.threads[msg.ThreadID], msg)
	return nil
}

func (s *MemoryStore) History(_ context.Context, threadID string, limit int) ([]Message, error) {
	if threadID == "" {
		return nil, ErrThreadRequired
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.threads[threadID]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *MemoryStore) Clear(_ context.Context, threadID string) (int64, error) {
	if threadID == "" {
		return 0, ErrThreadRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := int64(len(s.threads[threadID]))
	delete(s.threads, threadID)
	return n, nil
}

func (s *MemoryStore) Close() error { return nil }
