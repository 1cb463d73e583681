package conversation

import (
	"context"
	"errors"
	"time"
)

// Roles stored with each message.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrThreadRequired is returned when an operation is missing a thread id.
var ErrThreadRequired = errors.New("conversation: thread id required")

// Message is one turn of a thread.
type Message struct {
	ID        int64     `json:"id"`
	ThreadID  string    `json:"thread_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Store keeps per-thread message history.
type Store interface {
	Append(ctx context.Context, msg Message) error
	// History returns up to limit of the latest messages, oldest first.
	History(ctx context.Context, threadID string, limit int) ([]Message, error)
	// Clear removes a thread and reports how many messages were deleted.
	Clear(ctx context.Context, threadID string) (int64, error)
	Close() error
}

// DefaultHistoryLimit bounds History when the caller passes limit <= 0.
const DefaultHistoryLimit = 50
