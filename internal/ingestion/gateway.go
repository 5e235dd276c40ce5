// Package ingestion is the C3 Ingestion Gateway and the C4 Review-Mode
// Router: it authenticates and validates an incoming webhook, claims
// idempotency, constructs an AsyncReviewRequest, routes it to the target
// stream, and publishes. Routing (gorilla/mux) and correlation id shape are
// grounded on nickmisasi-mattermost-plugin-cursor's webhook router.
package ingestion

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/codewatch-dev/codewatch/internal/adapter/broker"
	"github.com/codewatch-dev/codewatch/internal/adapter/idempotency"
	"github.com/codewatch-dev/codewatch/internal/domain"
	"github.com/codewatch-dev/codewatch/internal/logging"
)

const (
	webhookPath          = "/webhooks"
	headerAPIKey         = "X-API-Key"
	headerIdempotencyKey = "X-Idempotency-Key"
	headerCorrelationID  = "X-Correlation-ID"

	defaultIdempotencyTTL = 24 * time.Hour
)

// WebhookRequest is the inbound JSON body (§6).
type WebhookRequest struct {
	Provider        domain.Provider                `json:"provider"`
	RepositoryID    string                          `json:"repositoryId"`
	ChangeRequestID domain.ChangeRequestIdentifier  `json:"changeRequestId"`
	TriggerSource   *string                         `json:"triggerSource,omitempty"`
	ReviewMode      domain.ReviewMode               `json:"reviewMode,omitempty"`
}

// Gateway wires the webhook HTTP surface to C1/C2 and publishes onto the
// stream selected by C4.
type Gateway struct {
	enabled      bool
	allowedKeys  [][]byte
	broker       broker.Gateway
	idempotency  idempotency.Keeper
	logger       *logging.ZapLogger
	idempTTL     time.Duration
}

// Config controls the gateway's auth and idempotency behavior.
type Config struct {
	Enabled        bool
	AllowedAPIKeys []string
	IdempotencyTTL time.Duration
}

// NewGateway constructs a Gateway.
func NewGateway(cfg Config, brk broker.Gateway, keeper idempotency.Keeper, logger *logging.ZapLogger) *Gateway {
	ttl := cfg.IdempotencyTTL
	if ttl <= 0 {
		ttl = defaultIdempotencyTTL
	}
	keys := make([][]byte, 0, len(cfg.AllowedAPIKeys))
	for _, k := range cfg.AllowedAPIKeys {
		keys = append(keys, []byte(k))
	}
	return &Gateway{
		enabled:     cfg.Enabled,
		allowedKeys: keys,
		broker:      brk,
		idempotency: keeper,
		logger:      logger,
		idempTTL:    ttl,
	}
}

// RegisterRoutes attaches the webhook handler to an existing mux.Router.
func (g *Gateway) RegisterRoutes(r *mux.Router) {
	r.HandleFunc(webhookPath, g.handleWebhook).Methods(http.MethodPost)
}

func (g *Gateway) handleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := resolveCorrelationID(r.Header.Get(headerCorrelationID))
	w.Header().Set(headerCorrelationID, correlationID)

	if !g.enabled {
		g.writeError(w, &Error{Type: ErrTypeForbidden, Message: "webhook gateway is disabled"})
		return
	}

	apiKey := r.Header.Get(headerAPIKey)
	if !g.apiKeyValid(apiKey) {
		if apiKey == "" {
			g.writeError(w, &Error{Type: ErrTypeUnauthorized, Message: "missing API key"})
			return
		}
		g.writeError(w, &Error{Type: ErrTypeUnauthorized, Message: "invalid API key"})
		return
	}

	var body WebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		g.writeError(w, newValidationError("malformed JSON body"))
		return
	}
	if err := validate(body); err != nil {
		g.writeError(w, err)
		return
	}

	idempotencyKey := r.Header.Get(headerIdempotencyKey)
	if idempotencyKey == "" {
		idempotencyKey = effectiveKey(body)
	}

	outcome, err := g.idempotency.CheckAndMark(ctx, idempotencyKey, g.idempTTL)
	if err != nil {
		g.logger.Base().Error("idempotency store unavailable",
			zap.String("correlationId", correlationID), zap.Error(err))
		g.writeError(w, &Error{Type: ErrTypeIdempotencyUnavailable, Message: "idempotency store unavailable"})
		return
	}
	if outcome == domain.ClaimReplay {
		writeJSON(w, http.StatusOK, map[string]any{
			"requestId": idempotencyKey,
			"status":    "already_processed",
		})
		return
	}

	req := domain.AsyncReviewRequest{
		RequestID: uuid.New(),
		Provider:  body.Provider,
		RepositoryID: domain.RepositoryIdentifier{
			Provider: body.Provider,
			OpaqueID: body.RepositoryID,
		},
		ChangeRequestID: body.ChangeRequestID,
		ReviewMode:      body.ReviewMode.Normalize(),
		CreatedAt:       time.Now().UTC(),
		TriggerSource:   body.TriggerSource,
	}

	payload, err := json.Marshal(req)
	if err != nil {
		g.logger.Base().Error("failed to serialize request",
			zap.String("correlationId", correlationID), zap.Error(err))
		g.writeError(w, &Error{Type: ErrTypeInternal, Message: "failed to serialize request"})
		return
	}

	streamKey := RouteStream(req.ReviewMode)
	if _, err := g.broker.Publish(ctx, streamKey, map[string]string{
		"requestId": req.RequestID.String(),
		"payload":   string(payload),
	}); err != nil {
		// The idempotency claim is left in place: dedup wins over retries.
		g.logger.Base().Error("broker publish failed",
			zap.String("correlationId", correlationID), zap.Error(err))
		g.writeError(w, &Error{Type: ErrTypeInternal, Message: "failed to enqueue review request"})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"requestId": req.RequestID.String(),
		"status":    "accepted",
		"message":   "review request accepted",
	})
}

func (g *Gateway) apiKeyValid(key string) bool {
	if key == "" {
		return false
	}
	candidate := []byte(key)
	for _, allowed := range g.allowedKeys {
		if len(allowed) == len(candidate) && subtle.ConstantTimeCompare(allowed, candidate) == 1 {
			return true
		}
	}
	return false
}

func validate(body WebhookRequest) *Error {
	if !body.Provider.Valid() {
		return newValidationError("provider must be github or gitlab")
	}
	if body.RepositoryID == "" {
		return newValidationError("repositoryId must not be blank")
	}
	if !body.ChangeRequestID.Valid() {
		return newValidationError("changeRequestId must be a positive integer")
	}
	return nil
}

func effectiveKey(body WebhookRequest) string {
	return body.RepositoryID + ":" + strconv.Itoa(int(body.ChangeRequestID))
}

func resolveCorrelationID(incoming string) string {
	if incoming != "" {
		return incoming
	}
	return uuid.New().String()
}

func (g *Gateway) writeError(w http.ResponseWriter, err *Error) {
	kind, message := err.ErrorBody()
	writeJSON(w, err.StatusCode(), map[string]any{
		"error":   kind,
		"message": logging.Sanitize(message),
	})
}

func writeJSON(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
