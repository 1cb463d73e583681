package adapter

import (
	"context"

	"github.com/tokligence/lexia-stream/internal/lexia"
	"github.com/tokligence/lexia-stream/internal/usage"
)

// Streamer is the part of lexia.Handler a processor drives.
type Streamer interface {
	StreamChunk(ctx context.Context, rc lexia.RequestContext, content string) error
	CompleteResponse(ctx context.Context, rc lexia.RequestContext, fullResponse string, info *usage.Info, fileURL string) error
	SendError(ctx context.Context, rc lexia.RequestContext, message string) error
}

var _ Streamer = (*lexia.Handler)(nil)

// Processor generates the reply for one Lexia message and streams it through out.
// A returned error is reported to the listener by the caller.
type Processor interface {
	Process(ctx context.Context, msg *lexia.ChatMessage, out Streamer) error
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, msg *lexia.ChatMessage, out Streamer) error

func (f ProcessorFunc) Process(ctx context.Context, msg *lexia.ChatMessage, out Streamer) error {
	return f(ctx, msg, out)
}
