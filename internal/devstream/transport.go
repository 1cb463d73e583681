package devstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/tokligence/lexia-stream/internal/stream"
)

// Ensure Transport implements stream.Transport.
var _ stream.Transport = (*Transport)(nil)

// Transport is the in-process stand-in for the Centrifugo relay. Messages land
// in the registry and are fanned out to local subscribers; nothing leaves the
// process. Delivery is best-effort and never returns an error.
type Transport struct {
	registry *Registry
	logger   *log.Logger
	echo     io.Writer
}

// NewTransport creates a dev transport on top of registry. Deltas are echoed
// to echo (stdout when nil) so a developer can watch the stream in a terminal.
func NewTransport(registry *Registry, logger *log.Logger, echo io.Writer) *Transport {
	if registry == nil {
		registry = NewRegistry()
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[lexia/devstream] ", log.LstdFlags|log.Lmicroseconds)
	}
	if echo == nil {
		echo = os.Stdout
	}
	logger.Printf("dev stream transport initialized (no Centrifugo)")
	return &Transport{registry: registry, logger: logger, echo: echo}
}

// Registry exposes the registry the transport writes to.
func (t *Transport) Registry() *Registry { return t.registry }

// Send applies msg to the channel record and notifies subscribers.
func (t *Transport) Send(ctx context.Context, channel string, msg stream.Message) error {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Printf("ERROR: dev stream send to %s failed: %v", channel, r)
		}
	}()

	rec := t.registry.GetOrCreate(channel)
	res := rec.apply(msg)

	if res.appended {
		t.logger.Printf("[delta] channel=%s chunks=%d", channel, res.chunkCount)
		_, _ = io.WriteString(t.echo, msg.Delta)
	}
	if res.droppedDelta {
		t.logger.Printf("WARNING: dropping delta for finished channel %s", channel)
	}
	if res.completed {
		t.logger.Printf("dev stream completed for %s", channel)
		_, _ = io.WriteString(t.echo, "\n")
	}
	if res.failed {
		t.logger.Printf("ERROR: dev stream error for %s: %s", channel, res.errMsg)
	}

	for _, d := range res.deliveries {
		t.deliver(d)
	}
	return nil
}

func (t *Transport) deliver(d delivery) {
	for _, fn := range d.handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					t.logger.Printf("ERROR: %s subscriber on %s panicked: %v", d.event.Kind, d.event.Channel, r)
				}
			}()
			fn(d.event)
		}()
	}
}

// SendJSON decodes a raw payload and forwards it to Send. Payloads that do not
// decode into a stream message are logged and dropped.
func (t *Transport) SendJSON(ctx context.Context, channel string, raw []byte) error {
	var msg stream.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.logger.Printf("ERROR: dev stream payload for %s rejected: %v", channel, fmt.Errorf("decode message: %w", err))
		return nil
	}
	return t.Send(ctx, channel, msg)
}

// SendDelta publishes one chunk.
func (t *Transport) SendDelta(ctx context.Context, channel, uuid, threadID, delta string) error {
	t.logger.Printf("[send-delta] channel=%s len=%d", channel, len(delta))
	return t.Send(ctx, channel, stream.DeltaMessage(uuid, threadID, delta))
}

// SendCompletion publishes the terminal completion payload.
func (t *Transport) SendCompletion(ctx context.Context, channel, uuid, threadID, fullResponse string) error {
	return t.Send(ctx, channel, stream.CompletionMessage(uuid, threadID, fullResponse))
}

// SendError publishes the terminal failure payload.
func (t *Transport) SendError(ctx context.Context, channel, uuid, threadID, message string) error {
	return t.Send(ctx, channel, stream.ErrorMessage(uuid, threadID, message))
}

// UpdateConfig is accepted for interface parity; there is no relay to configure.
func (t *Transport) UpdateConfig(url, apiKey string) {
	t.logger.Printf("dev stream transport ignores relay config update (url=%s)", url)
}
