package openai

import (
	"context"
	"fmt"

	"github.com/codewatch-dev/codewatch/internal/adapter/llm"
)

// StaticClient is an offline-friendly llm.StreamClient used when no API key
// is configured (local development, CI without provider credentials).
type StaticClient struct {
	Model string
}

// NewStaticClient constructs a stubbed streaming client.
func NewStaticClient(model string) *StaticClient {
	return &StaticClient{Model: model}
}

// StreamCompletion returns a single-delta deterministic stream that echoes
// the start of the user prompt inside a minimal valid review JSON object.
func (s *StaticClient) StreamCompletion(ctx context.Context, system, user string) (llm.Stream, error) {
	preview := user
	if len(preview) > 40 {
		preview = preview[:40]
	}
	body := fmt.Sprintf(`{"summary":"static review over: %s","issues":[],"notes":[]}`, preview)
	return &staticStream{body: body}, nil
}

// staticStream yields its whole body as a single delta.
type staticStream struct {
	body string
	sent bool
}

func (s *staticStream) Next() (string, bool, error) {
	if s.sent {
		return "", false, nil
	}
	s.sent = true
	return s.body, true, nil
}

func (s *staticStream) Usage() llm.UsageMetadata { return llm.UsageMetadata{} }

func (s *staticStream) Close() error { return nil }
