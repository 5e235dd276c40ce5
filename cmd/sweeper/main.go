// Command sweeper periodically purges review-state rows older than the
// configured retention window from C11's store.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/codewatch-dev/codewatch/internal/composition"
	"github.com/codewatch-dev/codewatch/internal/config"
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
		Use:   "sweeper",
		Short: "Periodically purge retained review-state rows",
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

	store, db, err := composition.BuildStore(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("build store: %w", err)
	}
	defer db.Close()

	retention := config.ParseDuration(cfg.Store.RetentionWindow, 30*24*time.Hour)
	interval := config.ParseDuration(cfg.Store.SweepInterval, time.Hour)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info("sweeper starting", zap.Duration("interval", interval), zap.Duration("retention", retention))

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			purged, err := store.Sweep(ctx, retention)
			if err != nil {
				logger.Error("sweep failed", zap.Error(err))
				continue
			}
			if purged > 0 {
				logger.Info("sweep completed", zap.Int64("purgedRows", purged))
			}
		}
	}
}
