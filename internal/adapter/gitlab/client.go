package gitlab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	llmhttp "github.com/codewatch-dev/codewatch/internal/adapter/llm/http"
)

const (
	defaultBaseURL        = "https://gitlab.com/api/v4"
	defaultTimeout        = 30 * time.Second
	defaultMaxRetries     = 3
	defaultInitialBackoff = 2 * time.Second
)

// Client is a thin HTTP client for the GitLab merge-request API,
// structured after the teacher-derived GitHub Client: a shared retry
// config, a private token header, and typed-error mapping on non-2xx.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
	retryConf  llmhttp.RetryConfig
}

// NewClient creates a GitLab API client authenticated with a personal,
// project, or group access token.
func NewClient(token string) *Client {
	return &Client{
		token:      token,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
		retryConf: llmhttp.RetryConfig{
			MaxRetries:     defaultMaxRetries,
			InitialBackoff: defaultInitialBackoff,
			MaxBackoff:     32 * time.Second,
			Multiplier:     2.0,
		},
	}
}

// SetBaseURL overrides the API base URL (self-managed instances, tests).
func (c *Client) SetBaseURL(baseURL string) { c.baseURL = strings.TrimRight(baseURL, "/") }

func (c *Client) do(ctx context.Context, method, apiURL string, body []byte) ([]byte, http.Header, error) {
	var resp *http.Response
	err := llmhttp.RetryWithBackoff(ctx, func(ctx context.Context) error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, reqErr := http.NewRequestWithContext(ctx, method, apiURL, reader)
		if reqErr != nil {
			return &llmhttp.Error{Type: llmhttp.ErrTypeUnknown, Message: reqErr.Error(), Retryable: false, Provider: providerName}
		}
		req.Header.Set("PRIVATE-TOKEN", c.token)
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		var callErr error
		resp, callErr = c.httpClient.Do(req)
		if callErr != nil {
			return &llmhttp.Error{Type: llmhttp.ErrTypeTimeout, Message: callErr.Error(), Retryable: true, Provider: providerName}
		}
		if resp.StatusCode >= 400 {
			bodyBytes, readErr := io.ReadAll(resp.Body)
			resp.Body.Close()
			if readErr != nil {
				return &llmhttp.Error{Type: llmhttp.ErrTypeUnknown, Message: fmt.Sprintf("HTTP %d (failed to read response: %v)", resp.StatusCode, readErr), StatusCode: resp.StatusCode, Retryable: resp.StatusCode >= 500, Provider: providerName}
			}
			return MapHTTPError(resp.StatusCode, bodyBytes)
		}
		return nil
	}, c.retryConf)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("gitlab: read response: %w", err)
	}
	return data, resp.Header, nil
}

func (c *Client) get(ctx context.Context, apiURL string) ([]byte, error) {
	body, _, err := c.do(ctx, http.MethodGet, apiURL, nil)
	return body, err
}

func (c *Client) postJSON(ctx context.Context, apiURL string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("gitlab: marshal request: %w", err)
	}
	body, _, err := c.do(ctx, http.MethodPost, apiURL, data)
	return body, err
}

// projectPath returns the URL-escaped project identifier GitLab's API
// expects: either a numeric ID or a URL-encoded "namespace/project" path.
func projectPath(opaqueID string) string {
	return url.PathEscape(opaqueID)
}
