package ledger

import (
	"context"
	"time"
)

// Status is the terminal state of the response an entry accounts for.
type Status string

const (
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Entry represents a single usage record written to the local ledger.
type Entry struct {
	ID             int64     `json:"id"`
	ResponseUUID   string    `json:"response_uuid"`
	ThreadID       string    `json:"thread_id"`
	ConversationID int64     `json:"conversation_id"`
	Channel        string    `json:"channel"`
	InputTokens    int64     `json:"input_tokens"`
	OutputTokens   int64     `json:"output_tokens"`
	TotalTokens    int64     `json:"total_tokens"`
	Estimated      bool      `json:"estimated"`
	Status         Status    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
}

// Summary aggregates token usage for a thread.
type Summary struct {
	Responses    int64 `json:"responses"`
	Failed       int64 `json:"failed"`
	Estimated    int64 `json:"estimated"`
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	TotalTokens  int64 `json:"total_tokens"`
}

// Store defines persistence behaviour for the ledger.
type Store interface {
	Record(ctx context.Context, entry Entry) error
	Summary(ctx context.Context, threadID string) (Summary, error)
	ListRecent(ctx context.Context, threadID string, limit int) ([]Entry, error)
	Close() error
}
