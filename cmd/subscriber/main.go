// Command subscriber runs the provider-facing half of C8: it watches the
// result status channel and publishes completed reviews back to GitHub or
// GitLab.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/codewatch-dev/codewatch/internal/composition"
	"github.com/codewatch-dev/codewatch/internal/config"
	"github.com/codewatch-dev/codewatch/internal/publish"
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
		Use:   "subscriber",
		Short: "Publish completed reviews back to their source-control provider",
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
		logger.Warn("no SCM credentials found in the environment; publishes will be dropped")
	}

	sub := publish.NewSubscriber(brk, scmPorts, logger)

	logger.Info("subscriber starting")
	return sub.Run(ctx)
}
