package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/codewatch-dev/codewatch/internal/adapter/llm"
	llmhttp "github.com/codewatch-dev/codewatch/internal/adapter/llm/http"
	"github.com/codewatch-dev/codewatch/internal/config"
)

const (
	defaultBaseURL   = "https://api.openai.com"
	defaultTimeout   = 60 * time.Second
	defaultMaxTokens = 4096
)

// isO1Model checks if the model is an OpenAI reasoning model (o1, o3, o4 series).
// These models use max_completion_tokens instead of max_tokens and don't support
// temperature, seed, or response_format parameters.
func isO1Model(model string) bool {
	modelLower := strings.ToLower(model)
	reasoningModelFamilies := []string{"o1", "o3", "o4"}
	for _, family := range reasoningModelFamilies {
		if modelLower == family || strings.HasPrefix(modelLower, family+"-") {
			return true
		}
	}
	return false
}

// usesMaxCompletionTokens checks if the model requires max_completion_tokens instead of max_tokens.
// This includes reasoning models (o1, o3, o4) and newer GPT models (gpt-5+).
func usesMaxCompletionTokens(model string) bool {
	if isO1Model(model) {
		return true
	}
	modelLower := strings.ToLower(model)
	newModelFamilies := []string{"gpt-5", "gpt-6", "gpt-7", "gpt-8", "gpt-9"}
	for _, family := range newModelFamilies {
		if strings.HasPrefix(modelLower, family) {
			return true
		}
	}
	return false
}

// Client is a streaming OpenAI Chat Completions client implementing
// llm.StreamClient.
type Client struct {
	apiKey    string
	model     string
	baseURL   string
	retryConf llmhttp.RetryConfig
	client    *http.Client

	logger  llmhttp.Logger
	metrics llmhttp.Metrics
	pricing llmhttp.Pricing
}

// NewClient creates a new OpenAI streaming client.
func NewClient(apiKey, model string, providerCfg config.ProviderConfig, httpCfg config.HTTPConfig) *Client {
	timeout := llmhttp.ParseTimeout(providerCfg.Timeout, httpCfg.Timeout, defaultTimeout)
	return &Client{
		apiKey:    apiKey,
		model:     model,
		baseURL:   defaultBaseURL,
		retryConf: llmhttp.BuildRetryConfig(providerCfg, httpCfg),
		client:    &http.Client{Timeout: timeout},
	}
}

// SetBaseURL sets a custom base URL (for testing).
func (c *Client) SetBaseURL(url string) { c.baseURL = url }

// SetTimeout sets the HTTP client timeout.
func (c *Client) SetTimeout(timeout time.Duration) { c.client.Timeout = timeout }

// SetLogger sets the request/response logger.
func (c *Client) SetLogger(logger llmhttp.Logger) { c.logger = logger }

// SetMetrics sets the metrics tracker.
func (c *Client) SetMetrics(metrics llmhttp.Metrics) { c.metrics = metrics }

// SetPricing sets the cost calculator.
func (c *Client) SetPricing(pricing llmhttp.Pricing) { c.pricing = pricing }

// StreamCompletion opens a streaming chat completion and returns a Stream
// the caller reads content deltas from in arrival order.
func (c *Client) StreamCompletion(ctx context.Context, system, user string) (llm.Stream, error) {
	startTime := time.Now()

	if c.logger != nil {
		c.logger.LogRequest(ctx, llmhttp.RequestLog{
			Provider:    "openai",
			Model:       c.model,
			Timestamp:   startTime,
			PromptChars: len(system) + len(user),
			APIKey:      c.apiKey,
		})
	}
	if c.metrics != nil {
		c.metrics.RecordRequest("openai", c.model)
	}

	reqBody := ChatCompletionRequest{
		Model: c.model,
		Messages: []Message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Stream: true,
	}
	if !isO1Model(c.model) {
		reqBody.Temperature = 0.0
	}
	if usesMaxCompletionTokens(c.model) {
		reqBody.MaxCompletionTokens = defaultMaxTokens
	} else {
		reqBody.MaxTokens = defaultMaxTokens
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}

	url := c.baseURL + "/v1/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("openai: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, llmhttp.NewTimeoutError("openai", "request timed out")
		}
		return nil, llmhttp.NewTimeoutError("openai", err.Error())
	}

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		streamErr := handleErrorResponse(resp.StatusCode, bodyBytes)
		var httpErr *llmhttp.Error
		if e, ok := streamErr.(*llmhttp.Error); ok {
			httpErr = e
		}
		if c.logger != nil && httpErr != nil {
			c.logger.LogError(ctx, llmhttp.ErrorLog{
				Provider:   "openai",
				Model:      c.model,
				Timestamp:  time.Now(),
				Duration:   time.Since(startTime),
				Error:      streamErr,
				ErrorType:  httpErr.Type,
				StatusCode: httpErr.StatusCode,
				Retryable:  httpErr.Retryable,
			})
		}
		if c.metrics != nil && httpErr != nil {
			c.metrics.RecordError("openai", c.model, httpErr.Type)
		}
		return nil, streamErr
	}

	return &stream{
		resp:      resp,
		scanner:   bufio.NewScanner(resp.Body),
		model:     c.model,
		startTime: startTime,
		logger:    c.logger,
		metrics:   c.metrics,
		pricing:   c.pricing,
	}, nil
}

// stream implements llm.Stream over an OpenAI chat completion SSE response.
type stream struct {
	resp      *http.Response
	scanner   *bufio.Scanner
	model     string
	startTime time.Time
	usage     llm.UsageMetadata
	finished  bool
	closed    bool

	logger  llmhttp.Logger
	metrics llmhttp.Metrics
	pricing llmhttp.Pricing
}

// Next reads SSE "data:" lines until it finds a content delta, the stream
// terminates with "[DONE]", or an error occurs.
func (s *stream) Next() (string, bool, error) {
	if s.finished {
		return "", false, nil
	}

	for s.scanner.Scan() {
		line := s.scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			s.finish()
			return "", false, nil
		}

		var chunk chatCompletionChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if chunk.Usage != nil {
			s.usage.TokensIn = chunk.Usage.PromptTokens
			s.usage.TokensOut = chunk.Usage.CompletionTokens
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta != "" {
			return delta, true, nil
		}
	}

	if err := s.scanner.Err(); err != nil {
		s.finish()
		return "", false, err
	}

	s.finish()
	return "", false, nil
}

func (s *stream) finish() {
	if s.finished {
		return
	}
	s.finished = true

	duration := time.Since(s.startTime)
	var cost float64
	if s.pricing != nil {
		cost = s.pricing.GetCost("openai", s.model, s.usage.TokensIn, s.usage.TokensOut)
		s.usage.Cost = cost
	}
	if s.logger != nil {
		s.logger.LogResponse(context.Background(), llmhttp.ResponseLog{
			Provider:   "openai",
			Model:      s.model,
			Timestamp:  time.Now(),
			Duration:   duration,
			TokensIn:   s.usage.TokensIn,
			TokensOut:  s.usage.TokensOut,
			Cost:       cost,
			StatusCode: http.StatusOK,
		})
	}
	if s.metrics != nil {
		s.metrics.RecordDuration("openai", s.model, duration)
		s.metrics.RecordTokens("openai", s.model, s.usage.TokensIn, s.usage.TokensOut)
		s.metrics.RecordCost("openai", s.model, cost)
	}
}

// Usage returns token/cost accounting. Only reliable once Next has returned
// ok=false, err=nil.
func (s *stream) Usage() llm.UsageMetadata { return s.usage }

// Close releases the underlying HTTP response body. Safe to call more than
// once and safe to call before the stream is exhausted.
func (s *stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.resp.Body.Close()
}

// handleErrorResponse converts HTTP error responses to typed errors.
func handleErrorResponse(statusCode int, body []byte) error {
	defaultMessage := fmt.Sprintf("HTTP %d", statusCode)

	var errResp ErrorResponse
	message := defaultMessage
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
	} else if len(body) > 0 && len(body) < 200 {
		message = string(body)
	}

	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return llmhttp.NewAuthenticationError("openai", message)
	case http.StatusTooManyRequests:
		return llmhttp.NewRateLimitError("openai", message)
	case http.StatusBadRequest:
		return llmhttp.NewInvalidRequestError("openai", message)
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
		return llmhttp.NewServiceUnavailableError("openai", message)
	default:
		return &llmhttp.Error{
			Type:       llmhttp.ErrTypeUnknown,
			Message:    message,
			StatusCode: statusCode,
			Retryable:  false,
			Provider:   "openai",
		}
	}
}
