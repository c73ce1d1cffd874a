package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/abdul-hamid-achik/job-queue/pkg/broker"
	"github.com/abdul-hamid-achik/job-queue/pkg/middleware"
	"github.com/abdul-hamid-achik/job-queue/pkg/worker"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/aperture-photos/aperture/internal/cache"
	"github.com/aperture-photos/aperture/internal/config"
	"github.com/aperture-photos/aperture/internal/dispatch"
	"github.com/aperture-photos/aperture/internal/finalize"
	"github.com/aperture-photos/aperture/internal/logger"
	"github.com/aperture-photos/aperture/internal/metrics"
	"github.com/aperture-photos/aperture/internal/notify"
	"github.com/aperture-photos/aperture/internal/publish"
	"github.com/aperture-photos/aperture/internal/settings"
	"github.com/aperture-photos/aperture/internal/storage"
	"github.com/aperture-photos/aperture/internal/store"
	"github.com/aperture-photos/aperture/internal/tracing"
	"github.com/aperture-photos/aperture/internal/transform"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger.Init(cfg.LogLevel)
	log := logger.Default()
	log.Info("configuration loaded")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	zerologger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	if cfg.TracingEnabled {
		shutdownTracing, err := tracing.Init(ctx, &tracing.Config{
			ServiceName:    "aperture-worker",
			ServiceVersion: "1.0.0",
			Environment:    cfg.Environment,
			OTLPEndpoint:   cfg.OTLPEndpoint,
			Enabled:        true,
			SampleRate:     cfg.TracingSampleRate,
		})
		if err != nil {
			return fmt.Errorf("failed to init tracing: %w", err)
		}
		defer func() { _ = shutdownTracing(context.Background()) }()
		log.Info("tracing enabled", "endpoint", cfg.OTLPEndpoint)
	}

	uploadSettings, err := settings.Load(cfg.SettingsFile)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	settingsProvider := settings.NewStatic(uploadSettings)

	log.Info("connecting to database")
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	log.Info("database connected")

	log.Info("connecting to object storage")
	objectStore, err := storage.NewMinIOStorage(&storage.Config{
		Endpoint:  cfg.MinIOEndpoint,
		AccessKey: cfg.MinIOAccessKey,
		SecretKey: cfg.MinIOSecretKey,
		Bucket:    cfg.MinIOBucket,
		UseSSL:    cfg.MinIOUseSSL,
		Region:    cfg.MinIORegion,
	})
	if err != nil {
		return fmt.Errorf("failed to create storage: %w", err)
	}
	log.Info("object storage connected")

	log.Info("connecting to redis")
	redisOpt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("failed to parse redis url: %w", err)
	}
	redisClient := redis.NewClient(redisOpt)
	defer func() { _ = redisClient.Close() }()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}

	b := broker.NewRedisStreamsBroker(redisClient,
		broker.WithWorkerID(fmt.Sprintf("worker-%d", os.Getpid())),
	)
	log.Info("broker initialized")

	metrics.SetAppInfo("1.0.0", cfg.Environment, "worker")
	metrics.SetWorkerPoolSize(cfg.DispatcherConcurrency)

	instrumentedStorage := metrics.NewInstrumentedStorage(objectStore)
	dataStore := store.NewPostgresStore(pool)

	var sink notify.Sink = notify.NopSink{}
	if cfg.NotifyEndpoint != "" {
		sink = notify.NewHTTPSink(cfg.NotifyEndpoint, cfg.NotifyMaxRetries)
		log.Info("notification sink configured", "endpoint", cfg.NotifyEndpoint)
	}

	invalidator := cache.NewRedisCache(redisClient, "aperture", cfg.CacheTTL)

	transformCfg := transform.DefaultConfig()
	transformCfg.AnimationVideoThreshold = uploadSettings.AnimationVideoThreshold
	transformPool := transform.NewPool(transform.New(transformCfg), cfg.TransformWorkers, cfg.TransformQueueDepth)
	transformPool.Start()
	defer transformPool.Stop()
	log.Info("transform pool started", "workers", cfg.TransformWorkers, "queue_depth", cfg.TransformQueueDepth)

	publisher := publish.New(instrumentedStorage, dataStore, invalidator, sink)

	deps := &dispatch.Dependencies{
		Store:            dataStore,
		Storage:          instrumentedStorage,
		Pool:             transformPool,
		Publisher:        publisher,
		Sink:             sink,
		Settings:         settingsProvider,
		DownloadTimeout:  cfg.DownloadTimeout,
		TransformTimeout: cfg.TransformTimeout,
		MaxAttempts:      cfg.IngestMaxAttempts,
	}

	log.Info("registering job handlers")
	registry := worker.NewRegistry()
	_ = registry.Register(finalize.JobTypeMediaIngest, dispatch.MediaIngestHandler(deps))

	registry.Use(
		middleware.RecoveryMiddleware(zerologger),
		middleware.LoggingMiddleware(zerologger),
		middleware.TimeoutMiddleware(cfg.JobTimeout),
		middleware.MetricsMiddleware(metrics.NewPrometheusCollector()),
	)

	log.Info("creating dispatcher pool", "concurrency", cfg.DispatcherConcurrency)
	workerPool := worker.NewPool(b, registry,
		worker.WithConcurrency(cfg.DispatcherConcurrency),
		worker.WithPoolQueues([]string{"default"}),
		worker.WithPoolPollInterval(time.Second),
		worker.WithShutdownTimeout(30*time.Second),
		worker.WithPoolLogger(zerologger),
	)

	metricsPort := os.Getenv("METRICS_PORT")
	if metricsPort == "" {
		metricsPort = "9090"
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsMux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	metricsServer := &http.Server{
		Addr:    ":" + metricsPort,
		Handler: metricsMux,
	}

	go func() {
		log.Info("metrics server starting", "port", metricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server error", "error", err)
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Expired unconsumed tickets leave abandoned raw objects behind; sweep
	// them on a timer.
	go func() {
		ticker := time.NewTicker(cfg.TicketCleanupInterval)
		defer ticker.Stop()
		cleanupDeps := &dispatch.CleanupDependencies{
			Storage: instrumentedStorage,
			Tickets: dataStore,
		}
		for {
			select {
			case <-ticker.C:
				if _, err := dispatch.RunCleanup(ctx, cleanupDeps); err != nil {
					log.Error("ticket cleanup failed", "error", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	poolErr := make(chan error, 1)
	go func() {
		log.Info("starting dispatcher pool")
		poolErr <- workerPool.Start(ctx)
	}()

	select {
	case err := <-poolErr:
		if err != nil && err != context.Canceled {
			return fmt.Errorf("dispatcher pool error: %w", err)
		}
	case sig := <-shutdown:
		log.Info("shutdown signal received", "signal", sig)

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := workerPool.Stop(shutdownCtx); err != nil {
			log.Error("error stopping pool", "error", err)
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error("error stopping metrics server", "error", err)
		}

		cancel()
	}

	log.Info("dispatcher stopped gracefully")
	return nil
}
