package anthropic_test

import (
	"testing"

	"github.com/codewatch-dev/codewatch/internal/adapter/llm/anthropic"
	"github.com/codewatch-dev/codewatch/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestNew_ReturnsStreamingClient(t *testing.T) {
	client := anthropic.New(
		config.ProviderConfig{Model: "claude-3-5-sonnet-20241022", APIKey: "sk-test"},
		config.HTTPConfig{Timeout: "30s"},
		nil, nil, nil,
	)

	_, ok := client.(*anthropic.Client)
	assert.True(t, ok, "expected a streaming Client")
}
