// Package composition is the explicit composition root shared by every
// binary (gateway, worker, subscriber, sweeper): it turns a config.Config
// into the concrete adapters and use-case objects that binary needs, the
// same way the teacher's cmd/cr/main.go builds observability, providers,
// and the orchestrator before handing them to the CLI. Nothing here is
// domain logic; it is wiring only.
package composition

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	dockerclient "github.com/docker/docker/client"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/codewatch-dev/codewatch/internal/adapter/broker"
	"github.com/codewatch-dev/codewatch/internal/adapter/github"
	"github.com/codewatch-dev/codewatch/internal/adapter/gitlab"
	"github.com/codewatch-dev/codewatch/internal/adapter/idempotency"
	"github.com/codewatch-dev/codewatch/internal/adapter/llm"
	"github.com/codewatch-dev/codewatch/internal/adapter/llm/anthropic"
	llmhttp "github.com/codewatch-dev/codewatch/internal/adapter/llm/http"
	"github.com/codewatch-dev/codewatch/internal/adapter/llm/openai"
	"github.com/codewatch-dev/codewatch/internal/adapter/scm"
	"github.com/codewatch-dev/codewatch/internal/config"
	"github.com/codewatch-dev/codewatch/internal/domain"
	"github.com/codewatch-dev/codewatch/internal/logging"
	"github.com/codewatch-dev/codewatch/internal/sandbox"
	"github.com/codewatch-dev/codewatch/internal/state"
	"github.com/codewatch-dev/codewatch/internal/usecase/review"
)

// Observability bundles the shared logging/metrics/pricing instances every
// LLM and SCM client is wired with.
type Observability struct {
	Logger  *logging.ZapLogger
	Metrics llmhttp.Metrics
	Pricing llmhttp.Pricing
}

// BuildObservability constructs the shared logger, the metrics tracker
// (only when enabled), and the pricing calculator (always present; cost
// accounting is cheap and provider-agnostic).
func BuildObservability(cfg config.ObservabilityConfig) (Observability, error) {
	logger, err := logging.New(NewZapLevel(cfg.Logging.Level), cfg.Logging.Format == "json")
	if err != nil {
		return Observability{}, fmt.Errorf("build logger: %w", err)
	}

	var metrics llmhttp.Metrics
	if cfg.Metrics.Enabled {
		metrics = llmhttp.NewDefaultMetrics()
	}

	return Observability{
		Logger:  logger,
		Metrics: metrics,
		Pricing: llmhttp.NewDefaultPricing(),
	}, nil
}

// BuildProviders constructs an llm.StreamClient for every enabled entry in
// cfg.Providers whose name it recognizes. An unrecognized provider name is
// skipped, not an error: a deployment's config may list providers a future
// build supports.
func BuildProviders(cfg config.Config, obs Observability) map[string]llm.StreamClient {
	clients := make(map[string]llm.StreamClient, len(cfg.Providers))
	for name, pc := range cfg.Providers {
		if !pc.Enabled {
			continue
		}
		switch name {
		case "openai":
			clients[name] = openai.New(pc, cfg.HTTP, obs.Logger, obs.Metrics, obs.Pricing)
		case "anthropic":
			clients[name] = anthropic.New(pc, cfg.HTTP, obs.Logger, obs.Metrics, obs.Pricing)
		}
	}
	return clients
}

// BuildSCMPorts constructs a scm.Port for every provider whose token is
// present in the environment (GITHUB_TOKEN, GITLAB_TOKEN). Credentials are
// deliberately read from the environment rather than config.Config, the
// same way the teacher reads OLLAMA_HOST directly instead of threading it
// through config.
func BuildSCMPorts() map[domain.Provider]scm.Port {
	ports := make(map[domain.Provider]scm.Port)
	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		ports[domain.ProviderGitHub] = github.NewAdapter(token)
	}
	if token := os.Getenv("GITLAB_TOKEN"); token != "" {
		ports[domain.ProviderGitLab] = gitlab.NewAdapter(token)
	}
	return ports
}

// BuildContextStrategies returns C6's default strategy set. Strategies that
// take an optional filesystem/VCS hook (SiblingFileStrategy.Lister,
// GitCochangeStrategy.CochangeLookup) are left with their zero value: each
// degrades to zero matches rather than failing, per their own doc comments.
func BuildContextStrategies() []review.Strategy {
	return []review.Strategy{
		review.SiblingFileStrategy{},
		review.SamePackageStrategy{},
		review.ImportReferenceStrategy{},
		review.GitCochangeStrategy{},
	}
}

// BuildContextPipelines builds one C6 ContextPipeline per configured SCM
// port, keyed the same way orchestrate.Deps.Context expects, so the
// orchestrator can select the right pipeline by a request's own provider
// field instead of being bound to a single provider at startup.
func BuildContextPipelines(ports map[domain.Provider]scm.Port, cfg config.ReviewConfig) map[domain.Provider]*review.ContextPipeline {
	pipelines := make(map[domain.Provider]*review.ContextPipeline, len(ports))
	strategies := BuildContextStrategies()
	for providerName, port := range ports {
		pipelines[providerName] = review.NewContextPipeline(port, strategies, cfg)
	}
	return pipelines
}

// BuildRedisClient dials the Redis instance C1/C2 share.
func BuildRedisClient(cfg config.BrokerConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// BuildStore opens the Postgres connection backing C11 and ensures its
// schema exists. The caller owns the returned *sql.DB and must close it on
// shutdown.
func BuildStore(ctx context.Context, cfg config.StoreConfig) (*state.Store, *sql.DB, error) {
	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("ping store: %w", err)
	}
	if err := state.CreateSchema(ctx, db); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("create schema: %w", err)
	}
	return state.NewStore(db), db, nil
}

// BuildSandboxAnalyzer constructs C9's container analysis engine from the
// local Docker daemon. A nil Analyzer (with a non-nil error) means the
// binary should run without AGENTIC sandbox support rather than fail
// outright — callers decide whether that is fatal for their role.
func BuildSandboxAnalyzer(cfg config.SandboxConfig) (*sandbox.Analyzer, error) {
	opts := []dockerclient.Opt{dockerclient.FromEnv, dockerclient.WithAPIVersionNegotiation()}
	if cfg.DockerHost != "" {
		opts = append(opts, dockerclient.WithHost(cfg.DockerHost))
	}
	cli, err := dockerclient.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("build docker client: %w", err)
	}
	engine := sandbox.NewEngine(cli)
	return sandbox.NewAnalyzer(engine, cfg, nil), nil
}

// NewZapLevel translates the config's log-level string into a zapcore.Level,
// defaulting to info for an empty or unrecognized value.
func NewZapLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// ShutdownGrace parses cfg.Worker.ShutdownGrace, falling back to 30s.
func ShutdownGrace(cfg config.WorkerConfig) time.Duration {
	return config.ParseDuration(cfg.ShutdownGrace, 30*time.Second)
}

// NewIdempotencyKeeper adapts a redis.Client into the idempotency.Keeper
// port.
func NewIdempotencyKeeper(client *redis.Client) *idempotency.RedisKeeper {
	return idempotency.NewRedisKeeper(client)
}

// NewBrokerGateway adapts a redis.Client into the broker.Gateway port.
func NewBrokerGateway(client *redis.Client) *broker.RedisGateway {
	return broker.NewRedisGateway(client)
}

// NewLogger is a convenience constructor so main.go doesn't need a direct
// import of go.uber.org/zap just to build a *zap.Logger from the
// Observability bundle already produced by BuildObservability.
func NewLogger(obs Observability) *zap.Logger {
	return obs.Logger.Base()
}
