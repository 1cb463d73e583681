package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokligence/lexia-stream/internal/config"
	"github.com/tokligence/lexia-stream/internal/devstream"
	"github.com/tokligence/lexia-stream/internal/lexia"
)

const basicScenario = `
name: basic
channel: demo
thread_id: t1
response_uuid: r1
steps:
  - delta: "Hello "
  - sleep: 1ms
  - delta: "world"
  - complete:
      full_response: "Hello world"
      usage:
        prompt_tokens: 3
        completion_tokens: 2
`

func writeScenario(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadScenario(t *testing.T) {
	s, err := LoadScenario(writeScenario(t, basicScenario))
	require.NoError(t, err)
	assert.Equal(t, "demo", s.Channel)
	require.Len(t, s.Steps, 4)
	assert.Equal(t, time.Millisecond, s.Steps[1].Sleep)
	require.NotNil(t, s.Steps[3].Complete)
	assert.Equal(t, 3, s.Steps[3].Complete.Usage.PromptTokens)
}

func TestValidateRejectsBadSteps(t *testing.T) {
	cases := map[string]Scenario{
		"empty":          {},
		"two actions":    {Steps: []Step{{Delta: "a", Error: "b"}}},
		"no action":      {Steps: []Step{{}}},
		"error not last": {Steps: []Step{{Error: "x"}, {Delta: "y"}}},
	}
	for name, s := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, s.Validate())
		})
	}
}

func TestValidateDefaultsChannelToUUID(t *testing.T) {
	s := Scenario{Steps: []Step{{Delta: "x"}}}
	require.NoError(t, s.Validate())
	assert.NotEmpty(t, s.ResponseUUID)
	assert.Equal(t, s.ResponseUUID, s.Channel)
}

func TestReplayAgainstDevHandler(t *testing.T) {
	s, err := LoadScenario(writeScenario(t, basicScenario))
	require.NoError(t, err)
	h := lexia.New(config.Config{}, lexia.WithDevMode(true), lexia.WithLogger(log.New(io.Discard, "", 0)), lexia.WithEcho(io.Discard))

	require.NoError(t, Replay(context.Background(), s, h))

	st := h.Registry().GetOrCreate("demo").Snapshot()
	assert.True(t, st.Finished)
	assert.Equal(t, []string{"Hello ", "world"}, st.Chunks)
	assert.Equal(t, "Hello world", st.FullResponse)

	var buf bytes.Buffer
	require.NoError(t, printResult(&buf, h, s))
	var printed devstream.State
	require.NoError(t, json.Unmarshal(buf.Bytes(), &printed))
	assert.Equal(t, "Hello world", printed.FullResponse)
}

func TestReplayErrorStep(t *testing.T) {
	s := Scenario{Channel: "c", Steps: []Step{{Delta: "partial"}, {Error: "model crashed"}}}
	require.NoError(t, s.Validate())
	h := lexia.New(config.Config{}, lexia.WithDevMode(true), lexia.WithLogger(log.New(io.Discard, "", 0)), lexia.WithEcho(io.Discard))

	require.NoError(t, Replay(context.Background(), s, h))
	st := h.Registry().GetOrCreate("c").Snapshot()
	require.NotNil(t, st.Error)
	assert.Equal(t, "model crashed", *st.Error)
}

func TestReplayStopsOnCancelledSleep(t *testing.T) {
	s := Scenario{Channel: "c", Steps: []Step{{Sleep: time.Hour}, {Delta: "never"}}}
	require.NoError(t, s.Validate())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h := lexia.New(config.Config{}, lexia.WithDevMode(true), lexia.WithLogger(log.New(io.Discard, "", 0)), lexia.WithEcho(io.Discard))
	assert.ErrorIs(t, Replay(ctx, s, h), context.Canceled)
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "version=")
}
