package gitlab

import (
	"encoding/json"
	"fmt"
	"net/http"

	llmhttp "github.com/codewatch-dev/codewatch/internal/adapter/llm/http"
)

const providerName = "gitlab"

// MapHTTPError maps GitLab API HTTP status codes to typed llmhttp.Error,
// mirroring the GitHub adapter's mapper so both providers plug into the
// same retry/error-handling infrastructure.
func MapHTTPError(statusCode int, body []byte) *llmhttp.Error {
	message := parseErrorMessage(statusCode, body)

	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &llmhttp.Error{Type: llmhttp.ErrTypeAuthentication, Message: message, StatusCode: statusCode, Retryable: false, Provider: providerName}
	case http.StatusTooManyRequests:
		return &llmhttp.Error{Type: llmhttp.ErrTypeRateLimit, Message: message, StatusCode: statusCode, Retryable: true, Provider: providerName}
	case http.StatusNotFound:
		return &llmhttp.Error{Type: llmhttp.ErrTypeInvalidRequest, Message: message, StatusCode: statusCode, Retryable: false, Provider: providerName}
	case http.StatusUnprocessableEntity, http.StatusBadRequest:
		return &llmhttp.Error{Type: llmhttp.ErrTypeInvalidRequest, Message: message, StatusCode: statusCode, Retryable: false, Provider: providerName}
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
		return &llmhttp.Error{Type: llmhttp.ErrTypeServiceUnavailable, Message: message, StatusCode: statusCode, Retryable: true, Provider: providerName}
	default:
		return &llmhttp.Error{Type: llmhttp.ErrTypeUnknown, Message: message, StatusCode: statusCode, Retryable: false, Provider: providerName}
	}
}

func parseErrorMessage(statusCode int, body []byte) string {
	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err != nil {
		preview := string(body)
		if len(preview) > 100 {
			preview = preview[:100] + "..."
		}
		if preview == "" {
			return fmt.Sprintf("HTTP %d", statusCode)
		}
		return fmt.Sprintf("HTTP %d: %s", statusCode, preview)
	}

	if len(errResp.Message) > 0 {
		var asString string
		if err := json.Unmarshal(errResp.Message, &asString); err == nil && asString != "" {
			return asString
		}
		return fmt.Sprintf("HTTP %d: %s", statusCode, string(errResp.Message))
	}
	if errResp.Error != "" {
		return errResp.Error
	}
	return fmt.Sprintf("HTTP %d", statusCode)
}
