package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hanvq/facegallery/internal/api"
	"github.com/hanvq/facegallery/internal/cache"
	"github.com/hanvq/facegallery/internal/config"
	"github.com/hanvq/facegallery/internal/db"
	"github.com/hanvq/facegallery/internal/dispatch"
	"github.com/hanvq/facegallery/internal/encoder"
	"github.com/hanvq/facegallery/internal/invalidation"
	"github.com/hanvq/facegallery/internal/listing"
	"github.com/hanvq/facegallery/internal/logger"
	"github.com/hanvq/facegallery/internal/queue"
	"github.com/hanvq/facegallery/internal/service"
	"github.com/hanvq/facegallery/internal/status"
	"github.com/hanvq/facegallery/internal/store"
	"github.com/hanvq/facegallery/internal/sync"
	"github.com/hanvq/facegallery/internal/tasks"
	"github.com/hanvq/facegallery/internal/telemetry"
	"github.com/hanvq/facegallery/internal/versions"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gallery API server",
	Long: `Start the gallery API server.

The server requires a configuration file (--config) that specifies the
catalog database, the redis cache, the remote listing provider, and the
face-encoding service. With dispatch mode "queue" a separate worker process
consumes the encoding jobs; with "direct" encoding runs inline.`,
	RunE: runServe,
}

const (
	defaultGracefulTimeout = 30 * time.Second
	serverReadTimeout      = 10 * time.Second
	serverWriteTimeout     = 320 * time.Second // must cover inline encode dispatches
	serverIdleTimeout      = 60 * time.Second

	startupRetryTimeout = 30 * time.Second
	backgroundTimeout   = 10 * time.Minute
)

func init() {
	serveCmd.Flags().String("address", "", "Address to listen on (overrides config)")
	serveCmd.Flags().String("config", "", "Path to configuration file (YAML format, required)")

	if err := viper.BindPFlag("address", serveCmd.Flags().Lookup("address")); err != nil {
		logger.Fatalf("Failed to bind address flag: %v", err)
	}
	if err := viper.BindPFlag("config", serveCmd.Flags().Lookup("config")); err != nil {
		logger.Fatalf("Failed to bind config flag: %v", err)
	}

	if err := serveCmd.MarkFlagRequired("config"); err != nil {
		logger.Fatalf("Failed to mark config flag as required: %v", err)
	}
}

// connectBackends opens the database and redis connections, retrying with
// exponential backoff so a restart does not race its dependencies.
func connectBackends(ctx context.Context, cfg *config.Config) (*db.Connection, cache.Store, *queue.Queue, error) {
	conn, err := backoff.Retry(ctx, func() (*db.Connection, error) {
		return db.NewConnection(cfg.Database)
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxElapsedTime(startupRetryTimeout))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	rdb := cache.NewRedisClient(cfg.Redis.GetAddr(), cfg.Redis.Password, cfg.Redis.DB)
	cacheStore := cache.NewRedisStore(rdb)
	if _, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, cacheStore.Ping(ctx)
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxElapsedTime(startupRetryTimeout)); err != nil {
		// The cache degrades to misses; keep starting
		logger.Warnf("Redis unreachable at startup, continuing degraded: %v", err)
	}

	var q *queue.Queue
	if cfg.Dispatch.GetMode() == config.DispatchModeQueue {
		q = queue.New(rdb)
	}
	return conn, cacheStore, q, nil
}

func runServe(_ *cobra.Command, _ []string) error {
	ctx := context.Background()

	configPath := viper.GetString("config")
	cfg, err := config.LoadConfig(config.WithConfigPath(configPath))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger.Infof("Loaded configuration from %s (dispatch mode: %s)", configPath, cfg.Dispatch.GetMode())

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

	apiKey, err := cfg.Listing.GetAPIKey()
	if err != nil {
		return err
	}
	provider := listing.NewDriveProvider(cfg.Listing.Endpoint, apiKey,
		listing.WithPageSize(cfg.Listing.PageSize))
	walker := listing.NewWalker(provider, cfg.Listing.SubfoldersEnabled())

	encodeTimeout, removeTimeout, statusTimeout := cfg.EncoderTimeouts()
	enc := encoder.NewClient(cfg.Encoder.Endpoint, encoder.Timeouts{
		Encode: encodeTimeout,
		Remove: removeTimeout,
		Status: statusTimeout,
	}, nil)

	var dispatcher dispatch.Dispatcher
	if q != nil {
		dispatcher = dispatch.NewQueued(q, enc, tracker, invalidator)
	} else {
		dispatcher = dispatch.NewDirect(enc, catalog, tracker, invalidator)
	}

	// Providers are no-op unless the telemetry config section enables them.
	if cfg.Telemetry != nil && cfg.Telemetry.ServiceVersion == "" {
		cfg.Telemetry.ServiceVersion = versions.Version
	}
	tel, err := telemetry.New(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultGracefulTimeout)
		defer cancel()
		if shutdownErr := tel.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Errorf("Error shutting down telemetry: %v", shutdownErr)
		}
	}()

	metrics, err := telemetry.NewSyncMetrics(tel.MeterProvider())
	if err != nil {
		return fmt.Errorf("failed to create sync metrics: %w", err)
	}

	runner := tasks.NewRunner(backgroundTimeout)
	manager := sync.NewManager(walker, catalog, dispatcher, invalidator, runner, metrics,
		tel.Tracer(telemetry.SyncMetricsMeterName), cfg.Sync.GetInsertBatchSize())
	albums := service.NewAlbums(catalog, cacheStore, manager, enc, tracker, invalidator)

	router := api.NewServer(albums, q, conn, cacheStore,
		api.WithMiddlewares(
			middleware.RequestID,
			middleware.Recoverer,
			api.LoggingMiddleware,
		))

	address := viper.GetString("address")
	if address == "" {
		address = cfg.Server.GetAddress()
	}

	srv := &http.Server{
		Addr:         address,
		Handler:      router,
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
		IdleTimeout:  serverIdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Gallery API server listening on %s", address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-stop:
		logger.Infof("Received signal %s, shutting down", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, defaultGracefulTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	// Let in-flight background dispatches finish
	runner.Wait()
	_ = logger.Sync()
	return nil
}
