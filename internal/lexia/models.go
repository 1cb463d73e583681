package lexia

import (
	"encoding/json"
	"strings"
)

// ChatMessage is the request Lexia sends to an agent.
type ChatMessage struct {
	ThreadID             string            `json:"thread_id"`
	Model                string            `json:"model,omitempty"`
	Message              string            `json:"message"`
	ConversationID       int64             `json:"conversation_id,omitempty"`
	ResponseUUID         string            `json:"response_uuid"`
	MessageUUID          string            `json:"message_uuid,omitempty"`
	Channel              string            `json:"channel"`
	FileType             string            `json:"file_type,omitempty"`
	FileURL              string            `json:"file_url,omitempty"`
	Variables            Variables         `json:"variables,omitempty"`
	URL                  string            `json:"url,omitempty"`
	URLUpdate            string            `json:"url_update,omitempty"`
	URLUpload            string            `json:"url_upload,omitempty"`
	ForceSearch          bool              `json:"force_search,omitempty"`
	SystemMessage        string            `json:"system_message,omitempty"`
	Memory               *Memory           `json:"memory,omitempty"`
	ProjectSystemMessage string            `json:"project_system_message,omitempty"`
	FirstMessage         bool              `json:"first_message,omitempty"`
	ProjectID            string            `json:"project_id,omitempty"`
	ProjectFiles         json.RawMessage   `json:"project_files,omitempty"`
	StreamURL            string            `json:"stream_url,omitempty"`
	StreamToken          string            `json:"stream_token,omitempty"`
	Headers              map[string]string `json:"headers,omitempty"`
}

// RequestContext extracts the routing fields the handler needs.
func (m *ChatMessage) RequestContext() RequestContext {
	return RequestContext{
		Channel:        m.Channel,
		ResponseUUID:   m.ResponseUUID,
		ThreadID:       m.ThreadID,
		StreamURL:      m.StreamURL,
		StreamToken:    m.StreamToken,
		URL:            m.URL,
		Headers:        m.Headers,
		ConversationID: m.ConversationID,
	}
}

// ChatResponse acknowledges a ChatMessage before processing starts.
type ChatResponse struct {
	Status       string `json:"status"`
	Message      string `json:"message"`
	ResponseUUID string `json:"response_uuid"`
	ThreadID     string `json:"thread_id"`
	Channel      string `json:"channel,omitempty"`
}

// NewSuccessResponse builds the acknowledgement returned to Lexia.
func NewSuccessResponse(responseUUID, threadID, message string) ChatResponse {
	if message == "" {
		message = "Response processed successfully"
	}
	return ChatResponse{
		Status:       "success",
		Message:      message,
		ResponseUUID: responseUUID,
		ThreadID:     threadID,
	}
}

// Variable is a named value configured for the agent, such as an API key.
type Variable struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Variables is the variable list attached to a request.
type Variables []Variable

// Get returns the value of the first variable called name.
func (v Variables) Get(name string) (string, bool) {
	for _, item := range v {
		if item.Name == name {
			return item.Value, true
		}
	}
	return "", false
}

// OpenAIAPIKey returns the OPENAI_API_KEY variable, or "".
func (v Variables) OpenAIAPIKey() string {
	value, _ := v.Get("OPENAI_API_KEY")
	return value
}

// Memory is what Lexia knows about the user.
type Memory struct {
	Name            string   `json:"name,omitempty"`
	Goals           []string `json:"goals,omitempty"`
	Location        string   `json:"location,omitempty"`
	Interests       []string `json:"interests,omitempty"`
	Preferences     []string `json:"preferences,omitempty"`
	PastExperiences []string `json:"past_experiences,omitempty"`
}

// HasData reports whether any field is populated.
func (m *Memory) HasData() bool {
	if m == nil {
		return false
	}
	return strings.TrimSpace(m.Name) != "" ||
		strings.TrimSpace(m.Location) != "" ||
		len(m.Goals) > 0 ||
		len(m.Interests) > 0 ||
		len(m.Preferences) > 0 ||
		len(m.PastExperiences) > 0
}

// Summary renders the populated fields as lines suitable for a system prompt.
func (m *Memory) Summary() string {
	if !m.HasData() {
		return ""
	}
	var b strings.Builder
	line := func(label, value string) {
		if strings.TrimSpace(value) == "" {
			return
		}
		b.WriteString(label)
		b.WriteString(": ")
		b.WriteString(value)
		b.WriteString("\n")
	}
	line("Name", m.Name)
	line("Location", m.Location)
	line("Goals", strings.Join(m.Goals, ", "))
	line("Interests", strings.Join(m.Interests, ", "))
	line("Preferences", strings.Join(m.Preferences, ", "))
	line("Past experiences", strings.Join(m.PastExperiences, ", "))
	return strings.TrimRight(b.String(), "\n")
}
