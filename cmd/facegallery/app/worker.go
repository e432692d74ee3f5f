package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hanvq/facegallery/internal/config"
	"github.com/hanvq/facegallery/internal/encoder"
	"github.com/hanvq/facegallery/internal/invalidation"
	"github.com/hanvq/facegallery/internal/logger"
	"github.com/hanvq/facegallery/internal/queue"
	"github.com/hanvq/facegallery/internal/status"
	"github.com/hanvq/facegallery/internal/store"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the encoding job worker",
	Long: `Start the encoding job worker.

The worker consumes queued encoding jobs and runs them against the
face-encoding service. It is only useful with dispatch mode "queue".`,
	RunE: runWorker,
}

func init() {
	workerCmd.Flags().String("config", "", "Path to configuration file (YAML format, required)")
	if err := viper.BindPFlag("worker-config", workerCmd.Flags().Lookup("config")); err != nil {
		logger.Fatalf("Failed to bind config flag: %v", err)
	}
	if err := workerCmd.MarkFlagRequired("config"); err != nil {
		logger.Fatalf("Failed to mark config flag as required: %v", err)
	}
}

func runWorker(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return fmt.Errorf("failed to get config flag: %w", err)
	}
	cfg, err := config.LoadConfig(config.WithConfigPath(configPath))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.Dispatch.GetMode() != config.DispatchModeQueue {
		return fmt.Errorf("worker requires dispatch mode %q, config has %q",
			config.DispatchModeQueue, cfg.Dispatch.GetMode())
	}

	conn, cacheStore, q, err := connectBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Errorf("Error closing database connection: %v", closeErr)
		}
	}()

	catalog := store.NewPostgresStore(conn.DB)
	tracker := status.NewTracker(cacheStore, status.NewFallback())
	invalidator := invalidation.NewCoordinator(cacheStore)

	encodeTimeout, removeTimeout, statusTimeout := cfg.EncoderTimeouts()
	enc := encoder.NewClient(cfg.Encoder.Endpoint, encoder.Timeouts{
		Encode: encodeTimeout,
		Remove: removeTimeout,
		Status: statusTimeout,
	}, nil)

	worker := queue.NewWorker(q, enc, catalog, tracker, cacheStore, invalidator)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-stop
		logger.Infof("Received signal %s, shutting down", sig)
		cancel()
	}()

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("worker stopped: %w", err)
	}
	_ = logger.Sync()
	return nil
}
