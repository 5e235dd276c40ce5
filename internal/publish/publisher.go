// Package publish is the C8 Result Publisher: it writes a ReviewResult to
// the result store's hash, then publishes the terminal status on the
// request's pub-sub channel. A separate Subscriber (subscriber.go) owns
// the provider-facing half: it watches the status channel and invokes the
// SCM port to publish comments, retrying with bounded backoff.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/codewatch-dev/codewatch/internal/adapter/broker"
	"github.com/codewatch-dev/codewatch/internal/domain"
)

// Publisher implements C8. Its two side effects (hash write, channel
// publish) are ordered so the subscriber never observes the status event
// before the hash that backs it (§5: "the publisher must write the hash
// before publishing the channel notification").
type Publisher struct {
	broker broker.Gateway
}

// New builds a Publisher over the given broker gateway.
func New(brk broker.Gateway) *Publisher {
	return &Publisher{broker: brk}
}

// Outcome is the successful-path input to Publish: everything the result
// hash records alongside the ReviewResult itself.
type Outcome struct {
	Request          domain.AsyncReviewRequest
	Result           domain.ReviewResult
	ProcessingMillis int64
	CompletedAt      time.Time
}

// Publish writes the COMPLETED hash and publishes the COMPLETED status. On
// serialization failure it instead writes a FAILED hash carrying the error
// and publishes FAILED — it never returns an error of its own, matching
// §4.8 step 3's fallback.
func (p *Publisher) Publish(ctx context.Context, out Outcome) error {
	requestID := out.Request.RequestID.String()

	requestJSON, reqErr := json.Marshal(out.Request)
	resultJSON, resErr := json.Marshal(out.Result)
	if reqErr != nil || resErr != nil {
		err := reqErr
		if err == nil {
			err = resErr
		}
		return p.publishFailure(ctx, out.Request, requestID, fmt.Sprintf("serialize outcome: %v", err))
	}

	fields := map[string]string{
		"requestId":       requestID,
		"status":          string(domain.StateCompleted),
		"request":         string(requestJSON),
		"result":          string(resultJSON),
		"processingMs":    fmt.Sprintf("%d", out.ProcessingMillis),
		"completedAt":     out.CompletedAt.UTC().Format(time.RFC3339Nano),
		"llmProvider":     out.Result.LLMProvider,
		"llmModel":        out.Result.LLMModel,
		"provider":        string(out.Request.Provider),
		"repositoryId":    out.Request.RepositoryID.OpaqueID,
		"changeRequestId": fmt.Sprintf("%d", out.Request.ChangeRequestID),
	}

	if err := p.broker.PutHash(ctx, broker.ResultHashKey(requestID), fields); err != nil {
		return fmt.Errorf("publish: write result hash: %w", err)
	}
	if err := p.broker.PublishTopic(ctx, broker.StatusChannel(requestID), string(domain.StateCompleted)); err != nil {
		return fmt.Errorf("publish: publish status: %w", err)
	}
	return nil
}

// PublishFailure records a FAILED outcome for a request that never
// produced a ReviewResult (orchestrator error, LLM schema violation,
// container timeout, ...).
func (p *Publisher) PublishFailure(ctx context.Context, req domain.AsyncReviewRequest, reason string) error {
	return p.publishFailure(ctx, req, req.RequestID.String(), reason)
}

func (p *Publisher) publishFailure(ctx context.Context, req domain.AsyncReviewRequest, requestID, reason string) error {
	requestJSON, _ := json.Marshal(req)
	fields := map[string]string{
		"requestId":       requestID,
		"status":          string(domain.StateFailed),
		"request":         string(requestJSON),
		"error":           reason,
		"completedAt":     time.Now().UTC().Format(time.RFC3339Nano),
		"provider":        string(req.Provider),
		"repositoryId":    req.RepositoryID.OpaqueID,
		"changeRequestId": fmt.Sprintf("%d", req.ChangeRequestID),
	}
	if err := p.broker.PutHash(ctx, broker.ResultHashKey(requestID), fields); err != nil {
		return fmt.Errorf("publish: write failure hash: %w", err)
	}
	if err := p.broker.PublishTopic(ctx, broker.StatusChannel(requestID), string(domain.StateFailed)); err != nil {
		return fmt.Errorf("publish: publish failure status: %w", err)
	}
	return nil
}
