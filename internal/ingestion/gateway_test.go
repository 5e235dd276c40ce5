package ingestion

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codewatch-dev/codewatch/internal/adapter/broker"
	"github.com/codewatch-dev/codewatch/internal/adapter/idempotency"
	"github.com/codewatch-dev/codewatch/internal/logging"
)

func newTestGateway(t *testing.T, cfg Config) (*Gateway, *mux.Router, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	brk := broker.NewRedisGateway(client)
	keeper := idempotency.NewRedisKeeper(client)

	gw := NewGateway(cfg, brk, keeper, logging.NewNop())
	router := mux.NewRouter()
	gw.RegisterRoutes(router)
	return gw, router, mr
}

func defaultConfig() Config {
	return Config{Enabled: true, AllowedAPIKeys: []string{"secret-key"}, IdempotencyTTL: time.Minute}
}

func doWebhook(router *mux.Router, body map[string]any, apiKey, idempotencyKey string) *httptest.ResponseRecorder {
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest("POST", webhookPath, bytes.NewReader(raw))
	if apiKey != "" {
		req.Header.Set(headerAPIKey, apiKey)
	}
	if idempotencyKey != "" {
		req.Header.Set(headerIdempotencyKey, idempotencyKey)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHappyPathDiffMode(t *testing.T) {
	_, router, _ := newTestGateway(t, defaultConfig())

	rec := doWebhook(router, map[string]any{
		"provider":        "github",
		"repositoryId":    "owner/repo",
		"changeRequestId": 42,
	}, "secret-key", "")

	require.Equal(t, 202, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "accepted", resp["status"])
	assert.NotEmpty(t, resp["requestId"])
}

func TestReplayWithinTTL(t *testing.T) {
	_, router, _ := newTestGateway(t, defaultConfig())

	body := map[string]any{"provider": "github", "repositoryId": "owner/repo", "changeRequestId": 7}

	first := doWebhook(router, body, "secret-key", "abc")
	require.Equal(t, 202, first.Code)

	second := doWebhook(router, body, "secret-key", "abc")
	require.Equal(t, 200, second.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &resp))
	assert.Equal(t, "already_processed", resp["status"])
}

func TestAgenticRoutesToAgentStream(t *testing.T) {
	_, router, mr := newTestGateway(t, defaultConfig())

	rec := doWebhook(router, map[string]any{
		"provider":        "github",
		"repositoryId":    "owner/repo",
		"changeRequestId": 3,
		"reviewMode":      "AGENTIC",
	}, "secret-key", "")
	require.Equal(t, 202, rec.Code)

	n, err := mr.XLen(broker.StreamAgenticRequests)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = mr.XLen(broker.StreamDiffRequests)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestInvalidChangeRequestID(t *testing.T) {
	_, router, _ := newTestGateway(t, defaultConfig())

	rec := doWebhook(router, map[string]any{
		"provider":        "github",
		"repositoryId":    "owner/repo",
		"changeRequestId": 0,
	}, "secret-key", "")
	assert.Equal(t, 400, rec.Code)
}

func TestMissingAPIKeyUnauthorized(t *testing.T) {
	_, router, _ := newTestGateway(t, defaultConfig())

	rec := doWebhook(router, map[string]any{
		"provider":        "github",
		"repositoryId":    "owner/repo",
		"changeRequestId": 1,
	}, "", "")
	assert.Equal(t, 401, rec.Code)
}

func TestGatewayDisabledForbidden(t *testing.T) {
	cfg := defaultConfig()
	cfg.Enabled = false
	_, router, _ := newTestGateway(t, cfg)

	rec := doWebhook(router, map[string]any{
		"provider":        "github",
		"repositoryId":    "owner/repo",
		"changeRequestId": 1,
	}, "secret-key", "")
	assert.Equal(t, 403, rec.Code)
}
