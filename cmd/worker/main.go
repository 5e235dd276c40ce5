// Command worker runs the C5 Worker Consumer Loop for a single review
// mode (diff or agentic), driving every request it reads through C6-C11
// via an orchestrate.Orchestrator.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/codewatch-dev/codewatch/internal/composition"
	"github.com/codewatch-dev/codewatch/internal/config"
	"github.com/codewatch-dev/codewatch/internal/domain"
	"github.com/codewatch-dev/codewatch/internal/ingestion"
	"github.com/codewatch-dev/codewatch/internal/orchestrate"
	"github.com/codewatch-dev/codewatch/internal/publish"
	"github.com/codewatch-dev/codewatch/internal/usecase/review"
	"github.com/codewatch-dev/codewatch/internal/worker"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		log.Println(err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run a codewatch review worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", ".", "directory containing codewatch.yaml")
	return cmd
}

func run(parent context.Context, configPath string) error {
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(config.LoaderOptions{
		ConfigPaths: []string{configPath},
		FileName:    "codewatch",
		EnvPrefix:   "CODEWATCH",
	})
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}

	obs, err := composition.BuildObservability(cfg.Observability)
	if err != nil {
		return fmt.Errorf("build observability: %w", err)
	}
	defer obs.Logger.Sync()
	logger := composition.NewLogger(obs)

	redisClient := composition.BuildRedisClient(cfg.Broker)
	defer redisClient.Close()
	brk := composition.NewBrokerGateway(redisClient)

	scmPorts := composition.BuildSCMPorts()
	if len(scmPorts) == 0 {
		logger.Warn("no SCM credentials found in the environment; every request will fail")
	}

	providers := composition.BuildProviders(cfg, obs)
	client, ok := providers[cfg.Review.Provider]
	if !ok {
		return fmt.Errorf("review provider %q is not configured or enabled", cfg.Review.Provider)
	}
	providerCfg := cfg.Providers[cfg.Review.Provider]

	store, db, err := composition.BuildStore(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("build store: %w", err)
	}
	defer db.Close()
	store.Logger = logger

	var analyzer orchestrate.SandboxRunner
	if a, err := composition.BuildSandboxAnalyzer(cfg.Sandbox); err != nil {
		logger.Warn("sandbox analyzer unavailable, AGENTIC requests will skip it", zap.Error(err))
	} else {
		analyzer = a
	}

	mode := domain.ReviewMode(cfg.Worker.Mode).Normalize()
	streamKey := ingestion.RouteStream(mode)

	orchestrator := orchestrate.New(orchestrate.Deps{
		SCMPorts: scmPorts,
		Context:  contextGatherers(composition.BuildContextPipelines(scmPorts, cfg.Review)),
		Accumulator: review.NewAccumulator(
			client,
			cfg.Review.Provider,
			providerCfg.Model,
			config.ParseDuration(cfg.Review.StreamTimeout, 0),
			cfg.Review.ConfidenceThreshold,
		),
		Sandbox:   analyzer,
		Store:     store,
		Publisher: publish.New(brk),
		Logger:    logger,
	})

	loop := worker.New(worker.Config{
		StreamKey:  streamKey,
		Group:      cfg.Broker.ConsumerGroup,
		ConsumerID: cfg.Broker.ConsumerName,
		BatchSize:  cfg.Broker.ReadCount,
		BlockFor:   config.ParseDuration(cfg.Broker.BlockTimeout, 0),
	}, brk, orchestrator.Handle, logger)

	logger.Info("worker starting", zap.String("stream", streamKey), zap.String("mode", string(mode)))
	return loop.Run(ctx)
}

// contextGatherers upcasts the concrete *review.ContextPipeline map to the
// orchestrator's narrower ContextGatherer port.
func contextGatherers(pipelines map[domain.Provider]*review.ContextPipeline) map[domain.Provider]orchestrate.ContextGatherer {
	out := make(map[domain.Provider]orchestrate.ContextGatherer, len(pipelines))
	for provider, pipeline := range pipelines {
		out[provider] = pipeline
	}
	return out
}
