package openai_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	llmhttp "github.com/codewatch-dev/codewatch/internal/adapter/llm/http"
	"github.com/codewatch-dev/codewatch/internal/adapter/llm/openai"
	"github.com/codewatch-dev/codewatch/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testProviderConfig() config.ProviderConfig {
	return config.ProviderConfig{Enabled: true, Model: "gpt-4o-mini"}
}

func testHTTPConfig() config.HTTPConfig {
	return config.HTTPConfig{
		Timeout:           "60s",
		MaxRetries:        5,
		InitialBackoff:    "2s",
		MaxBackoff:        "32s",
		BackoffMultiplier: 2.0,
	}
}

func writeSSE(w http.ResponseWriter, event string) {
	fmt.Fprintf(w, "data: %s\n\n", event)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func TestNewClient(t *testing.T) {
	client := openai.NewClient("test-api-key", "gpt-4o-mini", testProviderConfig(), testHTTPConfig())
	assert.NotNil(t, client)
}

func TestStreamCompletion_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-api-key", r.Header.Get("Authorization"))

		var req openai.ChatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)
		assert.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Equal(t, "user", req.Messages[1].Role)

		w.Header().Set("Content-Type", "text/event-stream")
		chunk1, _ := json.Marshal(map[string]any{
			"id": "1", "model": "gpt-4o-mini",
			"choices": []map[string]any{{"index": 0, "delta": map[string]string{"content": `{"summary"`}}},
		})
		chunk2, _ := json.Marshal(map[string]any{
			"id": "1", "model": "gpt-4o-mini",
			"choices": []map[string]any{{"index": 0, "delta": map[string]string{"content": `:"ok"}`}}},
			"usage":   map[string]int{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
		})
		writeSSE(w, string(chunk1))
		writeSSE(w, string(chunk2))
		writeSSE(w, "[DONE]")
	}))
	defer server.Close()

	client := openai.NewClient("test-api-key", "gpt-4o-mini", testProviderConfig(), testHTTPConfig())
	client.SetBaseURL(server.URL)

	s, err := client.StreamCompletion(context.Background(), "system prompt", "user prompt")
	require.NoError(t, err)
	defer s.Close()

	var text string
	for {
		delta, ok, err := s.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		text += delta
	}

	assert.Equal(t, `{"summary":"ok"}`, text)
	assert.Equal(t, 10, s.Usage().TokensIn)
	assert.Equal(t, 5, s.Usage().TokensOut)
}

func TestStreamCompletion_AuthenticationError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(openai.ErrorResponse{
			Error: openai.ErrorDetail{Message: "Invalid API key", Type: "invalid_request_error"},
		})
	}))
	defer server.Close()

	client := openai.NewClient("bad-key", "gpt-4o-mini", testProviderConfig(), testHTTPConfig())
	client.SetBaseURL(server.URL)

	_, err := client.StreamCompletion(context.Background(), "sys", "user")
	require.Error(t, err)

	var httpErr *llmhttp.Error
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, llmhttp.ErrTypeAuthentication, httpErr.Type)
}

func TestStreamCompletion_O1Model_UsesMaxCompletionTokens(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req openai.ChatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 0.0, req.Temperature)
		assert.Equal(t, 4096, req.MaxCompletionTokens)
		assert.Equal(t, 0, req.MaxTokens)
		w.Header().Set("Content-Type", "text/event-stream")
		writeSSE(w, "[DONE]")
	}))
	defer server.Close()

	client := openai.NewClient("test-key", "o1-mini", testProviderConfig(), testHTTPConfig())
	client.SetBaseURL(server.URL)

	s, err := client.StreamCompletion(context.Background(), "sys", "user")
	require.NoError(t, err)
	defer s.Close()

	_, ok, err := s.Next()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStreamCompletion_ContextCanceled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
	}))
	defer server.Close()

	client := openai.NewClient("test-key", "gpt-4o-mini", testProviderConfig(), testHTTPConfig())
	client.SetBaseURL(server.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := client.StreamCompletion(ctx, "sys", "user")
	require.Error(t, err)
}

func TestStreamCompletion_WithObservability(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		chunk, _ := json.Marshal(map[string]any{
			"id": "1", "model": "gpt-4o-mini",
			"choices": []map[string]any{{"index": 0, "delta": map[string]string{"content": "hello"}}},
			"usage":   map[string]int{"prompt_tokens": 100, "completion_tokens": 50, "total_tokens": 150},
		})
		writeSSE(w, string(chunk))
		writeSSE(w, "[DONE]")
	}))
	defer server.Close()

	client := openai.NewClient("sk-test-key", "gpt-4o-mini", testProviderConfig(), testHTTPConfig())
	client.SetBaseURL(server.URL)

	logger := llmhttp.NewDefaultLogger(llmhttp.LogLevelDebug, llmhttp.LogFormatHuman, true)
	metrics := llmhttp.NewDefaultMetrics()
	pricing := llmhttp.NewDefaultPricing()
	client.SetLogger(logger)
	client.SetMetrics(metrics)
	client.SetPricing(pricing)

	s, err := client.StreamCompletion(context.Background(), "sys", "user")
	require.NoError(t, err)

	for {
		_, ok, err := s.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
	}
	require.NoError(t, s.Close())

	stats := metrics.GetStats()
	assert.Equal(t, 1, stats.TotalRequests)
	assert.Equal(t, 100, stats.TotalTokensIn)
	assert.Equal(t, 50, stats.TotalTokensOut)
	assert.Greater(t, stats.TotalCost, 0.0)
}

func TestStreamCompletion_RateLimitError_RecordsMetric(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(openai.ErrorResponse{
			Error: openai.ErrorDetail{Message: "Rate limit exceeded", Type: "rate_limit_error"},
		})
	}))
	defer server.Close()

	client := openai.NewClient("sk-test-key", "gpt-4o-mini", testProviderConfig(), testHTTPConfig())
	client.SetBaseURL(server.URL)

	metrics := llmhttp.NewDefaultMetrics()
	client.SetMetrics(metrics)

	_, err := client.StreamCompletion(context.Background(), "sys", "user")
	require.Error(t, err)

	var httpErr *llmhttp.Error
	require.ErrorAs(t, err, &httpErr)
	assert.True(t, httpErr.IsRetryable())
	assert.Equal(t, 1, metrics.GetStats().ErrorCount)
}
