// Command gateway runs the C3 Ingestion Gateway: the HTTP webhook surface
// that authenticates, claims idempotency, and enqueues review requests
// onto the stream C4 selects.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/codewatch-dev/codewatch/internal/composition"
	"github.com/codewatch-dev/codewatch/internal/config"
	"github.com/codewatch-dev/codewatch/internal/ingestion"
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
		Use:   "gateway",
		Short: "Run the codewatch ingestion gateway",
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

	redisClient := composition.BuildRedisClient(cfg.Broker)
	defer redisClient.Close()

	brk := composition.NewBrokerGateway(redisClient)
	keeper := composition.NewIdempotencyKeeper(redisClient)

	gw := ingestion.NewGateway(ingestion.Config{
		Enabled:        true,
		AllowedAPIKeys: []string{cfg.Webhook.APIKey},
		IdempotencyTTL: config.ParseDuration(cfg.Idempotency.TTL, 24*time.Hour),
	}, brk, keeper, obs.Logger)

	router := mux.NewRouter()
	gw.RegisterRoutes(router)

	addr := cfg.Webhook.Addr
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		obs.Logger.Base().Info("gateway listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("gateway: listen failed: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}
