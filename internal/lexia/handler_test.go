package lexia

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokligence/lexia-stream/internal/config"
	"github.com/tokligence/lexia-stream/internal/devstream"
	"github.com/tokligence/lexia-stream/internal/ledger"
	"github.com/tokligence/lexia-stream/internal/stream"
	"github.com/tokligence/lexia-stream/internal/usage"
)

type capturedRequest struct {
	URL    string
	Header http.Header
	Body   []byte
}

type stubHTTPClient struct {
	mu       sync.Mutex
	requests []capturedRequest
	status   int
	err      error
}

func (s *stubHTTPClient) Do(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		body, _ = io.ReadAll(req.Body)
	}
	s.mu.Lock()
	s.requests = append(s.requests, capturedRequest{URL: req.URL.String(), Header: req.Header.Clone(), Body: body})
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	status := s.status
	if status == 0 {
		status = http.StatusOK
	}
	return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(`{"result":{}}`)), Header: make(http.Header)}, nil
}

func (s *stubHTTPClient) to(url string) []capturedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []capturedRequest
	for _, r := range s.requests {
		if r.URL == url {
			out = append(out, r)
		}
	}
	return out
}

func (s *stubHTTPClient) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

type fakeTransport struct {
	mu      sync.Mutex
	calls   []string
	configs [][2]string
	err     error
}

func (f *fakeTransport) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeTransport) Send(_ context.Context, channel string, _ stream.Message) error {
	return f.record("send:" + channel)
}

func (f *fakeTransport) SendDelta(_ context.Context, channel, _, _, delta string) error {
	return f.record("delta:" + delta)
}

func (f *fakeTransport) SendCompletion(_ context.Context, channel, _, _, _ string) error {
	return f.record("complete:" + channel)
}

func (f *fakeTransport) SendError(_ context.Context, channel, _, _, message string) error {
	return f.record("error:" + message)
}

func (f *fakeTransport) UpdateConfig(url, apiKey string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "config:"+url)
	f.configs = append(f.configs, [2]string{url, apiKey})
}

type memoryLedger struct {
	mu      sync.Mutex
	entries []ledger.Entry
}

func (m *memoryLedger) Record(_ context.Context, e ledger.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *memoryLedger) Summary(context.Context, string) (ledger.Summary, error) {
	return ledger.Summary{}, nil
}

func (m *memoryLedger) ListRecent(context.Context, string, int) ([]ledger.Entry, error) {
	return nil, nil
}

func (m *memoryLedger) Close() error { return nil }

const backendURL = "http://backend.local/api/responses"

func quietLogger(buf *bytes.Buffer) *log.Logger {
	if buf == nil {
		return log.New(io.Discard, "", 0)
	}
	return log.New(buf, "", 0)
}

func testContext(url string) RequestContext {
	return RequestContext{
		Channel:        "chan-1",
		ResponseUUID:   "resp-1",
		ThreadID:       "thread-1",
		URL:            url,
		ConversationID: 42,
	}
}

func TestDevModeWithoutURLMakesNoBackendCalls(t *testing.T) {
	stub := &stubHTTPClient{}
	var logs bytes.Buffer
	h := New(config.Config{}, WithDevMode(true), WithHTTPClient(stub), WithLogger(quietLogger(&logs)), WithEcho(io.Discard))
	ctx := context.Background()
	rc := testContext("")

	require.NoError(t, h.StreamChunk(ctx, rc, "Hel"))
	require.NoError(t, h.StreamChunk(ctx, rc, "lo"))
	require.NoError(t, h.CompleteResponse(ctx, rc, "", nil, ""))

	assert.Equal(t, 0, stub.count())
	state := h.Registry().GetOrCreate("chan-1").Snapshot()
	assert.Equal(t, []string{"Hel", "lo"}, state.Chunks)
	assert.Equal(t, "Hello", state.FullResponse)
	assert.True(t, state.Finished)
	assert.Nil(t, state.Error)
	assert.Contains(t, logs.String(), "dev mode: skipping backend complete call")
	assert.NotContains(t, logs.String(), "WARNING")
}

func TestDevModeErrorWithoutURL(t *testing.T) {
	stub := &stubHTTPClient{}
	h := New(config.Config{}, WithDevMode(true), WithHTTPClient(stub), WithLogger(quietLogger(nil)), WithEcho(io.Discard))

	require.NoError(t, h.SendError(context.Background(), testContext(""), "quota exceeded"))

	assert.Equal(t, 0, stub.count())
	state := h.Registry().GetOrCreate("chan-1").Snapshot()
	require.NotNil(t, state.Error)
	assert.Equal(t, "quota exceeded", *state.Error)
	assert.True(t, state.Finished)
}

func TestDevModeFromConfigAndOverride(t *testing.T) {
	h := New(config.Config{DevMode: true}, WithLogger(quietLogger(nil)), WithEcho(io.Discard))
	assert.True(t, h.DevMode())
	require.NotNil(t, h.Registry())
	_, ok := h.DevTransport()
	assert.True(t, ok)

	h = New(config.Config{DevMode: true}, WithDevMode(false), WithLogger(quietLogger(nil)))
	assert.False(t, h.DevMode())
	assert.Nil(t, h.Registry())
	_, ok = h.DevTransport()
	assert.False(t, ok)
}

func TestSharedRegistryIsUsed(t *testing.T) {
	registry := devstream.NewRegistry()
	h := New(config.Config{}, WithDevMode(true), WithRegistry(registry), WithLogger(quietLogger(nil)), WithEcho(io.Discard))
	require.NoError(t, h.StreamChunk(context.Background(), testContext(""), "x"))
	_, ok := registry.Lookup("chan-1")
	assert.True(t, ok)
}

func TestCompleteResponseFallbackUsage(t *testing.T) {
	stub := &stubHTTPClient{}
	h := New(config.Config{DefaultHeaders: map[string]string{"X-Default": "d"}}, WithDevMode(true), WithHTTPClient(stub), WithLogger(quietLogger(nil)), WithEcho(io.Discard))
	rc := testContext(backendURL)
	rc.Headers = map[string]string{"Authorization": "Bearer caller"}

	require.NoError(t, h.CompleteResponse(context.Background(), rc, "Hello world", nil, "https://files.local/a.png"))

	calls := stub.to(backendURL)
	require.Len(t, calls, 1)
	assert.Equal(t, "Bearer caller", calls[0].Header.Get("Authorization"))
	assert.Equal(t, "d", calls[0].Header.Get("X-Default"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(calls[0].Body, &body))
	assert.Equal(t, "resp-1", body["uuid"])
	assert.Equal(t, "thread-1", body["thread_id"])
	assert.Equal(t, "Hello world", body["full_response"])
	assert.EqualValues(t, 42, body["conversation_id"])
	assert.Equal(t, "https://files.local/a.png", body["file_url"])

	u := body["usage"].(map[string]any)
	assert.EqualValues(t, 1, u["input_tokens"])
	assert.EqualValues(t, 2, u["output_tokens"])
	assert.EqualValues(t, 3, u["total_tokens"])
	details := u["input_token_details"].(map[string]any)["tokens"].([]any)
	require.Len(t, details, 1)
	assert.Equal(t, "default", details[0].(map[string]any)["token"])
	assert.EqualValues(t, 0, details[0].(map[string]any)["logprob"])
}

func TestCompleteResponseUsesProviderUsage(t *testing.T) {
	stub := &stubHTTPClient{}
	mem := &memoryLedger{}
	h := New(config.Config{}, WithDevMode(true), WithHTTPClient(stub), WithLedger(mem), WithLogger(quietLogger(nil)), WithEcho(io.Discard))

	info := &usage.Info{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}
	require.NoError(t, h.CompleteResponse(context.Background(), testContext(backendURL), "ok", info, ""))

	var rec CompletionRecord
	calls := stub.to(backendURL)
	require.Len(t, calls, 1)
	require.NoError(t, json.Unmarshal(calls[0].Body, &rec))
	assert.Equal(t, 10, rec.Usage.InputTokens)
	assert.Equal(t, 15, rec.Usage.TotalTokens)
	assert.NotContains(t, string(calls[0].Body), "file_url")

	require.Len(t, mem.entries, 1)
	assert.Equal(t, ledger.StatusCompleted, mem.entries[0].Status)
	assert.False(t, mem.entries[0].Estimated)
	assert.EqualValues(t, 15, mem.entries[0].TotalTokens)
}

func TestCompleteResponseZeroPromptTokensFallsBackToWordCount(t *testing.T) {
	stub := &stubHTTPClient{}
	mem := &memoryLedger{}
	h := New(config.Config{}, WithDevMode(true), WithHTTPClient(stub), WithLedger(mem), WithLogger(quietLogger(nil)), WithEcho(io.Discard))

	info := &usage.Info{PromptTokens: 0, CompletionTokens: 7, TotalTokens: 7}
	require.NoError(t, h.CompleteResponse(context.Background(), testContext(backendURL), "one two  three\tfour", info, ""))

	var rec CompletionRecord
	calls := stub.to(backendURL)
	require.Len(t, calls, 1)
	require.NoError(t, json.Unmarshal(calls[0].Body, &rec))
	assert.Equal(t, 1, rec.Usage.InputTokens)
	assert.Equal(t, 4, rec.Usage.OutputTokens)
	assert.Equal(t, 5, rec.Usage.TotalTokens)
	require.Len(t, rec.Usage.InputTokenDetails.Tokens, 1)
	assert.Equal(t, usage.TokenDetail{Token: "default", Logprob: 0}, rec.Usage.InputTokenDetails.Tokens[0])
	require.Len(t, rec.Usage.OutputTokenDetails.Tokens, 1)
	assert.Equal(t, usage.TokenDetail{Token: "default", Logprob: 0}, rec.Usage.OutputTokenDetails.Tokens[0])

	require.Len(t, mem.entries, 1)
	assert.True(t, mem.entries[0].Estimated)
	assert.EqualValues(t, 5, mem.entries[0].TotalTokens)
}

func TestSendErrorPersistsFailedRecord(t *testing.T) {
	stub := &stubHTTPClient{}
	mem := &memoryLedger{}
	transport := &fakeTransport{}
	h := New(config.Config{}, WithTransport(transport), WithHTTPClient(stub), WithLedger(mem), WithLogger(quietLogger(nil)))

	require.NoError(t, h.SendError(context.Background(), testContext(backendURL), "model unavailable"))

	assert.Equal(t, []string{"error:model unavailable"}, transport.calls)
	calls := stub.to(backendURL)
	require.Len(t, calls, 1)
	want := `{"uuid":"resp-1","conversation_id":42,"content":"model unavailable","role":"developer","status":"FAILED","usage":{"input_tokens":0,"output_tokens":0,"total_tokens":0,"input_token_details":{"tokens":[]},"output_token_details":{"tokens":[]}}}`
	assert.JSONEq(t, want, string(calls[0].Body))

	require.Len(t, mem.entries, 1)
	assert.Equal(t, ledger.StatusFailed, mem.entries[0].Status)
}

func TestProductionWithoutURLWarns(t *testing.T) {
	stub := &stubHTTPClient{}
	var logs bytes.Buffer
	h := New(config.Config{}, WithTransport(&fakeTransport{}), WithHTTPClient(stub), WithLogger(quietLogger(&logs)))

	require.NoError(t, h.CompleteResponse(context.Background(), testContext(""), "done", nil, ""))
	assert.Equal(t, 0, stub.count())
	assert.Contains(t, logs.String(), "WARNING: no url provided")
}

func TestBackendFailuresAreNotReturned(t *testing.T) {
	var logs bytes.Buffer
	rejecting := &stubHTTPClient{status: http.StatusInternalServerError}
	h := New(config.Config{}, WithTransport(&fakeTransport{}), WithHTTPClient(rejecting), WithLogger(quietLogger(&logs)))
	require.NoError(t, h.CompleteResponse(context.Background(), testContext(backendURL), "done", nil, ""))
	assert.Contains(t, logs.String(), "ERROR: backend complete rejected: status=500")

	logs.Reset()
	unreachable := &stubHTTPClient{err: errors.New("connection refused")}
	h = New(config.Config{}, WithTransport(&fakeTransport{}), WithHTTPClient(unreachable), WithLogger(quietLogger(&logs)))
	require.NoError(t, h.SendError(context.Background(), testContext(backendURL), "boom"))
	assert.Contains(t, logs.String(), "ERROR: failed to send error to backend")
}

func TestTransportFailureSkipsPersistence(t *testing.T) {
	stub := &stubHTTPClient{}
	boom := errors.New("relay down")
	mem := &memoryLedger{}
	h := New(config.Config{}, WithTransport(&fakeTransport{err: boom}), WithHTTPClient(stub), WithLedger(mem), WithLogger(quietLogger(nil)))
	ctx := context.Background()

	err := h.CompleteResponse(ctx, testContext(backendURL), "done", nil, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, h.SendError(ctx, testContext(backendURL), "x"), boom)
	assert.ErrorIs(t, h.StreamChunk(ctx, testContext(backendURL), "x"), boom)

	assert.Equal(t, 0, stub.count())
	assert.Empty(t, mem.entries)
}

func TestDynamicCredentialsApplyBeforeSend(t *testing.T) {
	transport := &fakeTransport{}
	h := New(config.Config{}, WithTransport(transport), WithLogger(quietLogger(nil)))
	rc := testContext("")
	rc.StreamURL = "http://relay-2/api"
	rc.StreamToken = "k2"

	require.NoError(t, h.StreamChunk(context.Background(), rc, "hi"))
	assert.Equal(t, []string{"config:http://relay-2/api", "delta:hi"}, transport.calls)
	assert.Equal(t, [][2]string{{"http://relay-2/api", "k2"}}, transport.configs)
}

func TestPartialCredentialsKeepConfig(t *testing.T) {
	transport := &fakeTransport{}
	var logs bytes.Buffer
	h := New(config.Config{}, WithDevMode(false), WithTransport(transport), WithLogger(quietLogger(&logs)))

	h.UpdateCentrifugoConfig("http://relay-2/api", "")
	h.UpdateCentrifugoConfig("", "k2")
	assert.Empty(t, transport.configs)
	assert.Equal(t, 2, strings.Count(logs.String(), "WARNING: stream url or token not provided"))

	rc := testContext("")
	rc.StreamURL = "http://relay-2/api"
	require.NoError(t, h.StreamChunk(context.Background(), rc, "hi"))
	assert.Empty(t, transport.configs)
}

func TestUpdateConfigIgnoredInDevMode(t *testing.T) {
	var logs bytes.Buffer
	h := New(config.Config{}, WithDevMode(true), WithLogger(quietLogger(&logs)), WithEcho(io.Discard))
	h.UpdateCentrifugoConfig("http://relay/api", "key")
	assert.Contains(t, logs.String(), "dev mode active, skipping Centrifugo config update")
}

func TestProductionPublishesThroughCentrifugo(t *testing.T) {
	stub := &stubHTTPClient{}
	cfg := config.Config{CentrifugoURL: "http://relay.local/api", CentrifugoAPIKey: "secret"}
	h := New(cfg, WithHTTPClient(stub), WithLogger(quietLogger(nil)))
	ctx := context.Background()

	require.NoError(t, h.StreamChunk(ctx, testContext(""), "Hello"))
	require.NoError(t, h.CompleteResponse(ctx, testContext(backendURL), "Hello", nil, ""))

	relay := stub.to("http://relay.local/api")
	require.Len(t, relay, 2)
	assert.Equal(t, "apikey secret", relay[0].Header.Get("Authorization"))
	assert.Contains(t, string(relay[0].Body), `"delta":"Hello"`)
	assert.Contains(t, string(relay[1].Body), `"finished":true`)
	assert.Len(t, stub.to(backendURL), 1)
}
