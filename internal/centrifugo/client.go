package centrifugo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/centrifugal/gocent/v3"

	"github.com/tokligence/lexia-stream/internal/stream"
)

// Ensure Client implements stream.Transport.
var _ stream.Transport = (*Client)(nil)

// ErrNotConfigured is returned when a publish is attempted without a relay URL.
var ErrNotConfigured = errors.New("centrifugo: relay url not configured")

// HTTPClient abstracts the Do method for easier testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Error is a publish the relay refused with an error object in its reply.
type Error struct {
	Code    int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("centrifugo error %d: %s", e.Code, e.Message)
}

// Client publishes stream messages through the Centrifugo server HTTP API.
type Client struct {
	mu     sync.RWMutex
	url    string
	apiKey string
	api    *gocent.Client

	httpClient *http.Client
	logger     *log.Logger
}

// New constructs a relay client. url and apiKey are the defaults used until
// UpdateConfig replaces them.
func New(url, apiKey string, httpClient HTTPClient, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.New(log.Writer(), "[lexia/centrifugo] ", log.LstdFlags|log.Lmicroseconds)
	}
	c := &Client{httpClient: asHTTPClient(httpClient), logger: logger}
	c.configure(url, apiKey)
	return c
}

// asHTTPClient adapts an HTTPClient to the *http.Client gocent expects.
func asHTTPClient(hc HTTPClient) *http.Client {
	switch v := hc.(type) {
	case nil:
		return &http.Client{Timeout: 10 * time.Second}
	case *http.Client:
		return v
	default:
		return &http.Client{Transport: doerTransport{hc}}
	}
}

type doerTransport struct {
	client HTTPClient
}

func (t doerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.client.Do(req)
}

// configure must be called with the write lock held or before c is shared.
func (c *Client) configure(url, apiKey string) {
	c.url = strings.TrimSpace(url)
	c.apiKey = apiKey
	c.api = nil
	if c.url != "" {
		c.api = gocent.New(gocent.Config{Addr: c.url, Key: apiKey, HTTPClient: c.httpClient})
	}
}

// UpdateConfig swaps the relay URL and API key used by later publishes.
func (c *Client) UpdateConfig(url, apiKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.configure(url, apiKey)
}

// Config returns the relay URL and API key currently in effect.
func (c *Client) Config() (url, apiKey string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.url, c.apiKey
}

// Send publishes msg to channel and reports any delivery failure.
func (c *Client) Send(ctx context.Context, channel string, msg stream.Message) error {
	c.mu.RLock()
	api := c.api
	c.mu.RUnlock()
	if api == nil {
		return ErrNotConfigured
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode publish: %w", err)
	}
	if _, err := api.Publish(ctx, channel, data); err != nil {
		var replyErr *gocent.Error
		if errors.As(err, &replyErr) {
			return &Error{Code: replyErr.Code, Message: replyErr.Message}
		}
		return fmt.Errorf("publish to %s: %w", channel, err)
	}
	return nil
}

// SendDelta publishes one chunk.
func (c *Client) SendDelta(ctx context.Context, channel, uuid, threadID, delta string) error {
	return c.Send(ctx, channel, stream.DeltaMessage(uuid, threadID, delta))
}

// SendCompletion publishes the terminal completion payload.
func (c *Client) SendCompletion(ctx context.Context, channel, uuid, threadID, fullResponse string) error {
	if err := c.Send(ctx, channel, stream.CompletionMessage(uuid, threadID, fullResponse)); err != nil {
		return err
	}
	c.logger.Printf("completion published channel=%s uuid=%s", channel, uuid)
	return nil
}

// SendError publishes the terminal failure payload.
func (c *Client) SendError(ctx context.Context, channel, uuid, threadID, message string) error {
	if err := c.Send(ctx, channel, stream.ErrorMessage(uuid, threadID, message)); err != nil {
		return err
	}
	c.logger.Printf("error published channel=%s uuid=%s", channel, uuid)
	return nil
}
