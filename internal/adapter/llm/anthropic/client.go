package anthropic

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
)

const (
	defaultBaseURL          = "https://api.anthropic.com"
	defaultTimeout          = 60 * time.Second
	defaultAnthropicVersion = "2023-06-01"
	defaultMaxTokens        = 4096
)

// Client is a streaming Anthropic Messages API client implementing
// llm.StreamClient.
type Client struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client

	logger  llmhttp.Logger
	metrics llmhttp.Metrics
	pricing llmhttp.Pricing
}

// NewClient creates a new Anthropic streaming client.
func NewClient(apiKey, model string) *Client {
	return &Client{
		apiKey:  apiKey,
		model:   model,
		baseURL: defaultBaseURL,
		client:  &http.Client{Timeout: defaultTimeout},
	}
}

// SetBaseURL sets a custom base URL (for testing).
func (c *Client) SetBaseURL(url string) { c.baseURL = url }

// SetTimeout sets the HTTP client timeout. The stream's own absolute
// deadline is enforced by the caller via ctx, not by this value.
func (c *Client) SetTimeout(timeout time.Duration) { c.client.Timeout = timeout }

// SetLogger sets the request/response logger.
func (c *Client) SetLogger(logger llmhttp.Logger) { c.logger = logger }

// SetMetrics sets the metrics tracker.
func (c *Client) SetMetrics(metrics llmhttp.Metrics) { c.metrics = metrics }

// SetPricing sets the cost calculator.
func (c *Client) SetPricing(pricing llmhttp.Pricing) { c.pricing = pricing }

// StreamCompletion opens a streaming Messages API call and returns a Stream
// the caller reads content deltas from in arrival order.
func (c *Client) StreamCompletion(ctx context.Context, system, user string) (llm.Stream, error) {
	startTime := time.Now()

	if c.logger != nil {
		c.logger.LogRequest(ctx, llmhttp.RequestLog{
			Provider:    "anthropic",
			Model:       c.model,
			Timestamp:   startTime,
			PromptChars: len(system) + len(user),
			APIKey:      c.apiKey,
		})
	}
	if c.metrics != nil {
		c.metrics.RecordRequest("anthropic", c.model)
	}

	reqBody := MessagesRequest{
		Model:     c.model,
		Messages:  []Message{{Role: "user", Content: user}},
		System:    system,
		MaxTokens: defaultMaxTokens,
	}

	payload := struct {
		MessagesRequest
		Stream bool `json:"stream"`
	}{MessagesRequest: reqBody, Stream: true}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal request: %w", err)
	}

	url := c.baseURL + "/v1/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("anthropic: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", defaultAnthropicVersion)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &llmhttp.Error{
			Type:      llmhttp.ErrTypeTimeout,
			Message:   err.Error(),
			Retryable: true,
			Provider:  "anthropic",
		}
	}

	if resp.StatusCode >= 400 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		streamErr := handleErrorResponse(resp.StatusCode, bodyBytes)
		var httpErr *llmhttp.Error
		if e, ok := streamErr.(*llmhttp.Error); ok {
			httpErr = e
		}
		if c.logger != nil && httpErr != nil {
			c.logger.LogError(ctx, llmhttp.ErrorLog{
				Provider:   "anthropic",
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
			c.metrics.RecordError("anthropic", c.model, httpErr.Type)
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

// stream implements llm.Stream over an Anthropic SSE response body.
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

// Next reads SSE "data:" lines until it finds a text delta, the stream
// terminates, or an error occurs.
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

		var evt streamEvent
		if err := json.Unmarshal([]byte(data), &evt); err != nil {
			continue
		}

		switch evt.Type {
		case "message_start":
			if evt.Message != nil {
				s.usage.TokensIn = evt.Message.Usage.InputTokens
			}
		case "content_block_delta":
			if evt.Delta != nil && evt.Delta.Type == "text_delta" && evt.Delta.Text != "" {
				return evt.Delta.Text, true, nil
			}
		case "message_delta":
			if evt.Usage != nil {
				s.usage.TokensOut = evt.Usage.OutputTokens
			}
		case "message_stop":
			s.finish()
			return "", false, nil
		case "error":
			s.finish()
			if evt.Error != nil {
				return "", false, fmt.Errorf("anthropic stream error: %s", evt.Error.Message)
			}
			return "", false, fmt.Errorf("anthropic stream error")
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
		cost = s.pricing.GetCost("anthropic", s.model, s.usage.TokensIn, s.usage.TokensOut)
		s.usage.Cost = cost
	}
	if s.logger != nil {
		s.logger.LogResponse(context.Background(), llmhttp.ResponseLog{
			Provider:   "anthropic",
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
		s.metrics.RecordDuration("anthropic", s.model, duration)
		s.metrics.RecordTokens("anthropic", s.model, s.usage.TokensIn, s.usage.TokensOut)
		s.metrics.RecordCost("anthropic", s.model, cost)
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

// handleErrorResponse maps HTTP status codes to typed errors.
func handleErrorResponse(statusCode int, body []byte) error {
	var errResp ErrorResponse
	message := fmt.Sprintf("HTTP %d", statusCode)
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
	}

	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &llmhttp.Error{Type: llmhttp.ErrTypeAuthentication, Message: message, StatusCode: statusCode, Retryable: false, Provider: "anthropic"}
	case http.StatusTooManyRequests:
		return &llmhttp.Error{Type: llmhttp.ErrTypeRateLimit, Message: message, StatusCode: statusCode, Retryable: true, Provider: "anthropic"}
	case http.StatusBadRequest:
		return &llmhttp.Error{Type: llmhttp.ErrTypeInvalidRequest, Message: message, StatusCode: statusCode, Retryable: false, Provider: "anthropic"}
	case 529:
		return &llmhttp.Error{Type: llmhttp.ErrTypeServiceUnavailable, Message: message, StatusCode: statusCode, Retryable: true, Provider: "anthropic"}
	case http.StatusServiceUnavailable, http.StatusInternalServerError:
		return &llmhttp.Error{Type: llmhttp.ErrTypeServiceUnavailable, Message: message, StatusCode: statusCode, Retryable: true, Provider: "anthropic"}
	default:
		return &llmhttp.Error{Type: llmhttp.ErrTypeUnknown, Message: message, StatusCode: statusCode, Retryable: false, Provider: "anthropic"}
	}
}
