package loopback

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/tokligence/lexia-stream/internal/adapter"
	"github.com/tokligence/lexia-stream/internal/conversation"
	"github.com/tokligence/lexia-stream/internal/lexia"
	"github.com/tokligence/lexia-stream/internal/usage"
)

// Ensure Processor implements adapter.Processor.
var _ adapter.Processor = (*Processor)(nil)

// Prefix marks loopback replies.
const Prefix = "[loopback] "

// Processor echoes the user message back, one word per chunk.
type Processor struct {
	// Delay is waited between chunks; zero streams as fast as possible.
	Delay time.Duration
	// History, when set, receives the user message and the reply.
	History conversation.Store
}

// New creates a Processor with no delay and no history.
func New() *Processor {
	return &Processor{}
}

// Chunks splits text into word chunks that concatenate back to the
// whitespace-normalised text.
func Chunks(text string) []string {
	words := strings.Fields(text)
	chunks := make([]string, len(words))
	for i, w := range words {
		if i < len(words)-1 {
			w += " "
		}
		chunks[i] = w
	}
	return chunks
}

// Process streams a deterministic reply for msg.
func (p *Processor) Process(ctx context.Context, msg *lexia.ChatMessage, out adapter.Streamer) error {
	content := strings.TrimSpace(msg.Message)
	if content == "" {
		return errors.New("no message provided")
	}
	rc := msg.RequestContext()
	reply := Prefix + strings.Join(strings.Fields(content), " ")

	p.remember(ctx, msg.ThreadID, conversation.RoleUser, content)
	for i, chunk := range Chunks(reply) {
		if i > 0 && p.Delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.Delay):
			}
		}
		if err := out.StreamChunk(ctx, rc, chunk); err != nil {
			return err
		}
	}

	info := &usage.Info{
		PromptTokens:     usage.WordCount(content),
		CompletionTokens: usage.WordCount(reply),
	}
	info.TotalTokens = info.PromptTokens + info.CompletionTokens
	if err := out.CompleteResponse(ctx, rc, reply, info, ""); err != nil {
		return err
	}
	p.remember(ctx, msg.ThreadID, conversation.RoleAssistant, reply)
	return nil
}

func (p *Processor) remember(ctx context.Context, threadID, role, content string) {
	if p.History == nil || threadID == "" {
		return
	}
	// History is best-effort; a failed append never fails the response.
	_ = p.History.Append(ctx, conversation.Message{ThreadID: threadID, Role: role, Content: content})
}
