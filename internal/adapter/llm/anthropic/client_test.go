package anthropic_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/codewatch-dev/codewatch/internal/adapter/llm/anthropic"
	llmhttp "github.com/codewatch-dev/codewatch/internal/adapter/llm/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSSE(w http.ResponseWriter, event string) {
	fmt.Fprintf(w, "data: %s\n\n", event)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func TestNewClient(t *testing.T) {
	client := anthropic.NewClient("test-api-key", "claude-3-5-sonnet-20241022")
	assert.NotNil(t, client)
}

func TestStreamCompletion_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-api-key", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))

		w.Header().Set("Content-Type", "text/event-stream")

		start, _ := json.Marshal(map[string]any{
			"type":    "message_start",
			"message": map[string]any{"id": "msg_1", "model": "claude-3-5-sonnet-20241022", "usage": map[string]int{"input_tokens": 12}},
		})
		delta1, _ := json.Marshal(map[string]any{
			"type": "content_block_delta", "index": 0,
			"delta": map[string]string{"type": "text_delta", "text": `{"summary"`},
		})
		delta2, _ := json.Marshal(map[string]any{
			"type": "content_block_delta", "index": 0,
			"delta": map[string]string{"type": "text_delta", "text": `:"ok"}`},
		})
		msgDelta, _ := json.Marshal(map[string]any{
			"type":  "message_delta",
			"delta": map[string]string{"stop_reason": "end_turn"},
			"usage": map[string]int{"output_tokens": 7},
		})
		stop, _ := json.Marshal(map[string]any{"type": "message_stop"})

		writeSSE(w, string(start))
		writeSSE(w, string(delta1))
		writeSSE(w, string(delta2))
		writeSSE(w, string(msgDelta))
		writeSSE(w, string(stop))
	}))
	defer server.Close()

	client := anthropic.NewClient("test-api-key", "claude-3-5-sonnet-20241022")
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
	assert.Equal(t, 12, s.Usage().TokensIn)
	assert.Equal(t, 7, s.Usage().TokensOut)
}

func TestStreamCompletion_AuthenticationError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(anthropic.ErrorResponse{
			Type:  "error",
			Error: anthropic.ErrorDetail{Type: "authentication_error", Message: "invalid x-api-key"},
		})
	}))
	defer server.Close()

	client := anthropic.NewClient("bad-key", "claude-3-5-sonnet-20241022")
	client.SetBaseURL(server.URL)

	_, err := client.StreamCompletion(context.Background(), "sys", "user")
	require.Error(t, err)

	var httpErr *llmhttp.Error
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, llmhttp.ErrTypeAuthentication, httpErr.Type)
	assert.False(t, httpErr.Retryable)
}

func TestStreamCompletion_OverloadedError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(529)
		json.NewEncoder(w).Encode(anthropic.ErrorResponse{
			Type:  "error",
			Error: anthropic.ErrorDetail{Type: "overloaded_error", Message: "service is overloaded"},
		})
	}))
	defer server.Close()

	client := anthropic.NewClient("test-key", "claude-3-5-sonnet-20241022")
	client.SetBaseURL(server.URL)

	_, err := client.StreamCompletion(context.Background(), "sys", "user")
	require.Error(t, err)

	var httpErr *llmhttp.Error
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, llmhttp.ErrTypeServiceUnavailable, httpErr.Type)
	assert.True(t, httpErr.Retryable)
}

func TestStreamCompletion_ContextCanceled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
	}))
	defer server.Close()

	client := anthropic.NewClient("test-key", "claude-3-5-sonnet-20241022")
	client.SetBaseURL(server.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := client.StreamCompletion(ctx, "sys", "user")
	require.Error(t, err)
}

func TestStreamCompletion_StreamErrorEvent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		evt, _ := json.Marshal(map[string]any{
			"type":  "error",
			"error": map[string]string{"type": "api_error", "message": "mid-stream failure"},
		})
		writeSSE(w, string(evt))
	}))
	defer server.Close()

	client := anthropic.NewClient("test-key", "claude-3-5-sonnet-20241022")
	client.SetBaseURL(server.URL)

	s, err := client.StreamCompletion(context.Background(), "sys", "user")
	require.NoError(t, err)
	defer s.Close()

	_, ok, err := s.Next()
	assert.False(t, ok)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mid-stream failure")
}

func TestStreamCompletion_WithObservability(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		start, _ := json.Marshal(map[string]any{
			"type":    "message_start",
			"message": map[string]any{"usage": map[string]int{"input_tokens": 100}},
		})
		delta, _ := json.Marshal(map[string]any{
			"type": "content_block_delta", "delta": map[string]string{"type": "text_delta", "text": "hello"},
		})
		msgDelta, _ := json.Marshal(map[string]any{"type": "message_delta", "usage": map[string]int{"output_tokens": 50}})
		writeSSE(w, string(start))
		writeSSE(w, string(delta))
		writeSSE(w, string(msgDelta))
	}))
	defer server.Close()

	client := anthropic.NewClient("sk-test-key", "claude-3-5-sonnet-20241022")
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
