package lexia

import (
	"github.com/tokligence/lexia-stream/internal/stream"
	"github.com/tokligence/lexia-stream/internal/usage"
)

// RequestContext identifies the response being streamed and where it goes.
type RequestContext struct {
	Channel      string
	ResponseUUID string
	ThreadID     string
	// StreamURL and StreamToken replace the relay credentials when both are set.
	StreamURL   string
	StreamToken string
	// URL is the backend endpoint for persistence; empty skips persistence.
	URL            string
	Headers        map[string]string
	ConversationID int64
}

// CompletionRecord is the body posted to the backend when a response finishes.
type CompletionRecord struct {
	UUID           string      `json:"uuid"`
	ThreadID       string      `json:"thread_id"`
	FullResponse   string      `json:"full_response"`
	Usage          usage.Block `json:"usage"`
	ConversationID int64       `json:"conversation_id"`
	FileURL        string      `json:"file_url,omitempty"`
}

// ErrorRecord is the body posted to the backend when a response fails.
type ErrorRecord struct {
	UUID           string      `json:"uuid"`
	ConversationID int64       `json:"conversation_id"`
	Content        string      `json:"content"`
	Role           string      `json:"role"`
	Status         string      `json:"status"`
	Usage          usage.Block `json:"usage"`
}

// NewCompletionRecord builds the completion body.
func NewCompletionRecord(rc RequestContext, fullResponse string, block usage.Block, fileURL string) CompletionRecord {
	return CompletionRecord{
		UUID:           rc.ResponseUUID,
		ThreadID:       rc.ThreadID,
		FullResponse:   fullResponse,
		Usage:          block,
		ConversationID: rc.ConversationID,
		FileURL:        fileURL,
	}
}

// NewErrorRecord builds the failure body with zeroed usage.
func NewErrorRecord(rc RequestContext, message string) ErrorRecord {
	return ErrorRecord{
		UUID:           rc.ResponseUUID,
		ConversationID: rc.ConversationID,
		Content:        message,
		Role:           stream.RoleDeveloper,
		Status:         stream.StatusFailed,
		Usage:          usage.Zero(),
	}
}
