package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/tokligence/lexia-stream/internal/adapter"
	"github.com/tokligence/lexia-stream/internal/lexia"
	"github.com/tokligence/lexia-stream/internal/usage"
)

// Scenario is a scripted response replayed against a handler.
type Scenario struct {
	Name           string            `yaml:"name"`
	Channel        string            `yaml:"channel"`
	ThreadID       string            `yaml:"thread_id"`
	ResponseUUID   string            `yaml:"response_uuid"`
	ConversationID int64             `yaml:"conversation_id"`
	URL            string            `yaml:"url"`
	Headers        map[string]string `yaml:"headers"`
	StreamURL      string            `yaml:"stream_url"`
	StreamToken    string            `yaml:"stream_token"`
	Steps          []Step            `yaml:"steps"`
}

// Step is one action; exactly one field is set.
type Step struct {
	Delta    string        `yaml:"delta,omitempty"`
	Complete *CompleteStep `yaml:"complete,omitempty"`
	Error    string        `yaml:"error,omitempty"`
	Sleep    time.Duration `yaml:"sleep,omitempty"`
}

// CompleteStep finishes the response.
type CompleteStep struct {
	FullResponse string     `yaml:"full_response"`
	FileURL      string     `yaml:"file_url"`
	Usage        *StepUsage `yaml:"usage"`
}

// StepUsage is provider accounting for a completion.
type StepUsage struct {
	PromptTokens     int `yaml:"prompt_tokens"`
	CompletionTokens int `yaml:"completion_tokens"`
	TotalTokens      int `yaml:"total_tokens"`
}

// LoadScenario reads and validates a YAML scenario file.
func LoadScenario(path string) (Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, err
	}
	var s Scenario
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return Scenario{}, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return Scenario{}, fmt.Errorf("scenario %s: %w", path, err)
	}
	return s, nil
}

// Validate checks the step list and fills the response uuid and channel.
func (s *Scenario) Validate() error {
	if len(s.Steps) == 0 {
		return errors.New("no steps")
	}
	for i, step := range s.Steps {
		set := 0
		if step.Delta != "" {
			set++
		}
		if step.Complete != nil {
			set++
		}
		if step.Error != "" {
			set++
		}
		if step.Sleep > 0 {
			set++
		}
		if set != 1 {
			return fmt.Errorf("step %d: exactly one of delta, complete, error or sleep is required", i+1)
		}
		if (step.Complete != nil || step.Error != "") && i != len(s.Steps)-1 {
			return fmt.Errorf("step %d: complete and error must be the last step", i+1)
		}
	}
	if s.ResponseUUID == "" {
		s.ResponseUUID = uuid.NewString()
	}
	if s.Channel == "" {
		s.Channel = s.ResponseUUID
	}
	return nil
}

// RequestContext is the addressing every step is sent with.
func (s Scenario) RequestContext() lexia.RequestContext {
	return lexia.RequestContext{
		Channel:        s.Channel,
		ResponseUUID:   s.ResponseUUID,
		ThreadID:       s.ThreadID,
		ConversationID: s.ConversationID,
		URL:            s.URL,
		Headers:        s.Headers,
		StreamURL:      s.StreamURL,
		StreamToken:    s.StreamToken,
	}
}

// Replay runs the steps in order and stops at the first transport error.
func Replay(ctx context.Context, s Scenario, out adapter.Streamer) error {
	rc := s.RequestContext()
	for i, step := range s.Steps {
		var err error
		switch {
		case step.Sleep > 0:
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(step.Sleep):
			}
		case step.Delta != "":
			err = out.StreamChunk(ctx, rc, step.Delta)
		case step.Complete != nil:
			var info *usage.Info
			if u := step.Complete.Usage; u != nil {
				info = &usage.Info{PromptTokens: u.PromptTokens, CompletionTokens: u.CompletionTokens, TotalTokens: u.TotalTokens}
			}
			err = out.CompleteResponse(ctx, rc, step.Complete.FullResponse, info, step.Complete.FileURL)
		case step.Error != "":
			err = out.SendError(ctx, rc, step.Error)
		}
		if err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}
	}
	return nil
}
