package publish

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/codewatch-dev/codewatch/internal/adapter/broker"
	llmhttp "github.com/codewatch-dev/codewatch/internal/adapter/llm/http"
	"github.com/codewatch-dev/codewatch/internal/adapter/scm"
	"github.com/codewatch-dev/codewatch/internal/domain"
)

// Subscriber is the standalone half of C8 owned by the ingestion gateway
// service: it pattern-subscribes to "review:status:*", reads the completed
// result from the hash the Publisher wrote, and invokes the SCM port to
// publish comments. It retries on transient failure with bounded
// exponential backoff (internal/adapter/llm/http.RetryWithBackoff); once
// the retries are exhausted the failure is logged and the event is
// dropped, since a pub-sub event is not redelivered.
type Subscriber struct {
	broker  broker.Gateway
	scm     map[domain.Provider]scm.Port
	breaker *gobreaker.CircuitBreaker
	retry   llmhttp.RetryConfig
	logger  *zap.Logger
}

// NewSubscriber builds a Subscriber dispatching to the given per-provider
// SCM ports. The circuit breaker wraps the publish call so a provider
// outage fails fast instead of exhausting retries on every message.
func NewSubscriber(brk broker.Gateway, ports map[domain.Provider]scm.Port, logger *zap.Logger) *Subscriber {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: "scm-publish",
	})
	return &Subscriber{
		broker:  brk,
		scm:     ports,
		breaker: cb,
		retry:   llmhttp.DefaultRetryConfig(),
		logger:  logger,
	}
}

// Run subscribes to the status pattern and processes events until ctx is
// cancelled.
func (s *Subscriber) Run(ctx context.Context) error {
	sub := s.broker.SubscribePattern(ctx, statusPattern)
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-sub.Channel():
			if !ok {
				return nil
			}
			s.handle(ctx, msg.Channel, msg.Payload)
		}
	}
}

const statusPattern = "review:status:*"

func (s *Subscriber) handle(ctx context.Context, channel, status string) {
	requestID := strings.TrimPrefix(channel, "review:status:")

	if status != string(domain.StateCompleted) {
		// FAILED (or any non-completed status): nothing is published back
		// to the provider (§4.8 scenario 5).
		return
	}

	fields, err := s.broker.GetHash(ctx, broker.ResultHashKey(requestID))
	if err != nil {
		s.logger.Error("subscriber: read result hash failed",
			zap.String("requestId", requestID), zap.Error(err))
		return
	}
	if len(fields) == 0 {
		s.logger.Warn("subscriber: status event observed before hash was visible",
			zap.String("requestId", requestID))
		return
	}

	var req domain.AsyncReviewRequest
	if err := json.Unmarshal([]byte(fields["request"]), &req); err != nil {
		s.logger.Error("subscriber: malformed request in result hash",
			zap.String("requestId", requestID), zap.Error(err))
		return
	}
	var result domain.ReviewResult
	if err := json.Unmarshal([]byte(fields["result"]), &result); err != nil {
		s.logger.Error("subscriber: malformed result in result hash",
			zap.String("requestId", requestID), zap.Error(err))
		return
	}

	port, ok := s.scm[req.Provider]
	if !ok {
		s.logger.Error("subscriber: no SCM port configured for provider",
			zap.String("requestId", requestID), zap.String("provider", string(req.Provider)))
		return
	}

	diffDoc, err := port.FetchDiff(ctx, req.RepositoryID, req.ChangeRequestID)
	if err != nil {
		s.logger.Error("subscriber: refetch diff for publish failed",
			zap.String("requestId", requestID), zap.Error(err))
		return
	}

	err = llmhttp.RetryWithBackoff(ctx, func(ctx context.Context) error {
		_, breakerErr := s.breaker.Execute(func() (any, error) {
			return nil, port.PublishComments(ctx, req.RepositoryID, req.ChangeRequestID, diffDoc, result)
		})
		return breakerErr
	}, s.retry)

	if err != nil {
		s.logger.Error("subscriber: publish comments failed after retries",
			zap.String("requestId", requestID), zap.Error(err))
		return
	}

	s.logger.Info("subscriber: published review comments",
		zap.String("requestId", requestID),
		zap.String("changeRequestId", strconv.Itoa(int(req.ChangeRequestID))))
}
