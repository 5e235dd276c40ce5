// Package logging wraps go.uber.org/zap behind the teacher's
// Logger/RequestLog/ResponseLog/ErrorLog interface shape
// (internal/adapter/llm/http.Logger), so every adapter built against that
// interface keeps working unchanged while the concrete implementation now
// emits structured, leveled output suited to a long-running worker instead
// of a single CLI invocation.
package logging

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	llmhttp "github.com/codewatch-dev/codewatch/internal/adapter/llm/http"
)

// ZapLogger adapts *zap.Logger to llmhttp.Logger.
type ZapLogger struct {
	base *zap.Logger
}

// New builds a ZapLogger. When json is false, a human-readable console
// encoder is used instead (useful for local development, mirroring the
// teacher's LogFormatHuman/LogFormatJSON split).
func New(level zapcore.Level, json bool) (*ZapLogger, error) {
	cfg := zap.NewProductionConfig()
	if !json {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	base, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &ZapLogger{base: base}, nil
}

// NewNop returns a logger that discards everything, for tests.
func NewNop() *ZapLogger {
	return &ZapLogger{base: zap.NewNop()}
}

// Sync flushes buffered log entries; call before process exit.
func (l *ZapLogger) Sync() error {
	return l.base.Sync()
}

// LogRequest implements llmhttp.Logger.
func (l *ZapLogger) LogRequest(ctx context.Context, req llmhttp.RequestLog) {
	l.base.Debug("llm request",
		zap.String("provider", Sanitize(req.Provider)),
		zap.String("model", Sanitize(req.Model)),
		zap.Int("promptChars", req.PromptChars),
	)
}

// LogResponse implements llmhttp.Logger.
func (l *ZapLogger) LogResponse(ctx context.Context, resp llmhttp.ResponseLog) {
	l.base.Info("llm response",
		zap.String("provider", Sanitize(resp.Provider)),
		zap.String("model", Sanitize(resp.Model)),
		zap.Duration("duration", resp.Duration),
		zap.Int("tokensIn", resp.TokensIn),
		zap.Int("tokensOut", resp.TokensOut),
		zap.Float64("cost", resp.Cost),
		zap.Int("statusCode", resp.StatusCode),
		zap.String("finishReason", Sanitize(resp.FinishReason)),
	)
}

// LogError implements llmhttp.Logger.
func (l *ZapLogger) LogError(ctx context.Context, errLog llmhttp.ErrorLog) {
	l.base.Error("llm call failed",
		zap.String("provider", Sanitize(errLog.Provider)),
		zap.String("model", Sanitize(errLog.Model)),
		zap.Duration("duration", errLog.Duration),
		zap.Error(errLog.Error),
		zap.Int("errorType", int(errLog.ErrorType)),
		zap.Int("statusCode", errLog.StatusCode),
		zap.Bool("retryable", errLog.Retryable),
	)
}

// With returns a child logger scoped with the given fields, e.g. a
// correlation id, the way a request-scoped audit context is threaded
// through the pipeline instead of any thread-local (Design Note §9).
func (l *ZapLogger) With(fields ...zap.Field) *ZapLogger {
	return &ZapLogger{base: l.base.With(fields...)}
}

// Base exposes the underlying *zap.Logger for components that need more
// than the llmhttp.Logger surface (worker loop, ingestion gateway).
func (l *ZapLogger) Base() *zap.Logger {
	return l.base
}

// Sanitize replaces CR/LF in untrusted strings with the escapes \r and \n
// before they reach a log line (§7: "Logs must never include raw CR/LF from untrusted input").
func Sanitize(s string) string {
	s = strings.ReplaceAll(s, "\r", "\\r")
	s = strings.ReplaceAll(s, "\n", "\\n")
	return s
}
