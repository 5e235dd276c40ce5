// Package worker is the C5 Worker Consumer Loop: a long-poll read of a
// worker's assigned stream, one task per message with unbounded but
// cooperative fan-out, explicit ack-on-success, and no-ack on orchestrator
// failure (the broker's pending-entries list redelivers after the group's
// claim timeout). Grounded on the discovery/consume loop shape in
// brokle-ai-brokle's telemetry stream consumer and the errgroup-based
// concurrency cap in ShipItAI-shipitai's reviewer.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/codewatch-dev/codewatch/internal/adapter/broker"
	"github.com/codewatch-dev/codewatch/internal/domain"
)

// Handler processes a single AsyncReviewRequest. Returning an error marks
// the task as failed (no ack; the broker redelivers).
type Handler func(ctx context.Context, req domain.AsyncReviewRequest) error

// Config controls the loop's identity and pacing.
type Config struct {
	StreamKey    string
	Group        string
	ConsumerID   string // defaults to "worker-"+pid
	BatchSize    int64
	BlockFor     time.Duration
	DrainTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.ConsumerID == "" {
		c.ConsumerID = fmt.Sprintf("worker-%d", os.Getpid())
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.BlockFor <= 0 {
		c.BlockFor = 5 * time.Second
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 30 * time.Second
	}
	return c
}

// Loop owns a single stream/group/consumer identity and drives the
// read-dispatch-ack cycle.
type Loop struct {
	cfg    Config
	broker broker.Gateway
	handle Handler
	logger *zap.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New constructs a Loop. Call Run to start polling.
func New(cfg Config, brk broker.Gateway, handle Handler, logger *zap.Logger) *Loop {
	return &Loop{cfg: cfg.withDefaults(), broker: brk, handle: handle, logger: logger}
}

// Run ensures the consumer group exists, then polls until ctx is
// cancelled. On cancellation it stops polling, waits up to the configured
// drain timeout for in-flight tasks, then returns.
func (l *Loop) Run(ctx context.Context) error {
	if err := l.broker.EnsureGroup(ctx, l.cfg.StreamKey, l.cfg.Group, "0"); err != nil {
		return fmt.Errorf("ensure group: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	defer cancel()

	// In-flight tasks run under their own context, so stopping the poll
	// lets them finish and ack during the drain; it is cancelled when Run
	// returns, which force-cancels any task still running at the timeout.
	taskCtx, cancelTasks := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelTasks()

	for {
		select {
		case <-runCtx.Done():
			l.drain()
			return nil
		default:
		}

		records, err := l.broker.ReadBatch(runCtx, l.cfg.StreamKey, l.cfg.Group, l.cfg.ConsumerID, l.cfg.BatchSize, l.cfg.BlockFor)
		if err != nil {
			l.logger.Error("read batch failed",
				zap.String("stream", l.cfg.StreamKey), zap.Error(err))
			continue
		}

		for _, record := range records {
			record := record
			l.wg.Add(1)
			go func() {
				defer l.wg.Done()
				l.dispatch(taskCtx, record)
			}()
		}
	}
}

// Stop requests the loop to stop polling; Run's drain phase then waits for
// in-flight tasks.
func (l *Loop) Stop() {
	if l.cancel != nil {
		l.cancel()
	}
}

func (l *Loop) drain() {
	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(l.cfg.DrainTimeout):
		l.logger.Warn("drain timeout exceeded, in-flight tasks force-cancelled",
			zap.Duration("timeout", l.cfg.DrainTimeout))
	}
}

func (l *Loop) dispatch(ctx context.Context, record domain.StreamRecord) {
	payload, ok := record.Fields["payload"]
	if !ok {
		l.logger.Warn("stream record missing payload field, acknowledging and dropping",
			zap.String("recordId", record.RecordID))
		l.ack(ctx, record.RecordID)
		return
	}

	var req domain.AsyncReviewRequest
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		// Poison pill: parse failure is logged and acknowledged, never
		// redelivered.
		l.logger.Error("poison pill: failed to parse payload, acknowledging and dropping",
			zap.String("recordId", record.RecordID), zap.Error(err))
		l.ack(ctx, record.RecordID)
		return
	}

	if err := l.handle(ctx, req); err != nil {
		// Do not ack: the pending-entries list redelivers after the
		// group's claim timeout.
		l.logger.Error("orchestrator failed, leaving record unacknowledged",
			zap.String("recordId", record.RecordID),
			zap.String("requestId", req.RequestID.String()),
			zap.Error(err))
		return
	}

	l.ack(ctx, record.RecordID)
}

func (l *Loop) ack(ctx context.Context, recordID string) {
	if err := l.broker.Acknowledge(ctx, l.cfg.StreamKey, l.cfg.Group, recordID); err != nil {
		l.logger.Error("acknowledge failed", zap.String("recordId", recordID), zap.Error(err))
	}
}
