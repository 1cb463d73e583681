package stream

import "context"

const (
	// StatusFailed marks error payloads delivered to listeners and the backend.
	StatusFailed = "FAILED"
	// RoleDeveloper is the role attached to error payloads.
	RoleDeveloper = "developer"
	// DefaultErrorMessage is used when an error payload carries no content.
	DefaultErrorMessage = "An error occurred"
)

// Message is the payload published to a channel. The same shape is used by the
// dev registry and the Centrifugo relay so listeners never see a difference.
type Message struct {
	Delta        string `json:"delta,omitempty"`
	Finished     bool   `json:"finished"`
	FullResponse string `json:"full_response,omitempty"`
	Error        bool   `json:"error,omitempty"`
	Content      string `json:"content,omitempty"`
	UUID         string `json:"uuid,omitempty"`
	ThreadID     string `json:"thread_id,omitempty"`
	Status       string `json:"status,omitempty"`
	Role         string `json:"role,omitempty"`
}

// Transport delivers stream messages to listeners of a channel.
type Transport interface {
	Send(ctx context.Context, channel string, msg Message) error
	SendDelta(ctx context.Context, channel, uuid, threadID, delta string) error
	SendCompletion(ctx context.Context, channel, uuid, threadID, fullResponse string) error
	SendError(ctx context.Context, channel, uuid, threadID, message string) error
	UpdateConfig(url, apiKey string)
}

// DeltaMessage builds the payload for an incremental chunk.
func DeltaMessage(uuid, threadID, delta string) Message {
	return Message{Delta: delta, Finished: false, UUID: uuid, ThreadID: threadID}
}

// CompletionMessage builds the terminal payload. An empty fullResponse leaves
// the accumulated text untouched on the listener side.
func CompletionMessage(uuid, threadID, fullResponse string) Message {
	return Message{Finished: true, UUID: uuid, ThreadID: threadID, FullResponse: fullResponse}
}

// ErrorMessage builds the failure payload.
func ErrorMessage(uuid, threadID, message string) Message {
	return Message{
		Error:    true,
		Content:  message,
		Finished: true,
		UUID:     uuid,
		ThreadID: threadID,
		Status:   StatusFailed,
		Role:     RoleDeveloper,
	}
}
