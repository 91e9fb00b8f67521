package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"erpsync/internal/cache"
	"erpsync/internal/config"
	"erpsync/internal/database"
	"erpsync/internal/events"
	"erpsync/internal/logging"
	"erpsync/internal/metrics"
	"erpsync/internal/netsuite"
	"erpsync/internal/notify"
	"erpsync/internal/queue"
	"erpsync/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	db, err := database.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return err
	}
	defer db.Close()

	redisClient, err := initRedis(cfg, &logger)
	if err != nil {
		// Воркер без брокера бесполезен — в отличие от API не деградируем
		return err
	}
	defer redisClient.Close()

	bus := events.NewEventBus()
	if notifier, err := notify.NewTelegramNotifier(cfg.Notify, &logger); err != nil {
		logger.Warn().Err(err).Msg("telegram notifier init failed, alerts disabled")
	} else if notifier != nil {
		notifier.Subscribe(bus)
		logger.Info().Msg("telegram dead-letter alerts enabled")
	}

	freshCache := cache.New(redisClient, cfg.Sync.CacheTTL(), &logger)
	jobQueue := queue.New(redisClient, db, cfg.Sync.RetryDelays(), &logger)
	fetcher := netsuite.NewClient(cfg.NetSuite, &logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startMetrics(ctx, cfg, &logger)

	recovered := worker.RecoverStuckJobs(ctx, db, jobQueue,
		time.Duration(cfg.Sync.RecoveryAgeHours)*time.Hour, &logger)
	if recovered > 0 {
		logger.Warn().Int("count", recovered).Msg("stuck jobs requeued on startup")
	}

	var wg sync.WaitGroup
	for _, module := range cfg.Sync.Modules {
		w := worker.NewSyncWorker(module, db, db, fetcher, jobQueue, freshCache, bus, worker.Options{
			MaxAttempts: cfg.Sync.MaxAttempts,
			PageSize:    cfg.Sync.PageSize,
		}, &logger)

		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Start(ctx)
		}()
	}

	logger.Info().Strs("modules", cfg.Sync.Modules).Msg("sync workers started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")
	wg.Wait()
	logger.Info().Msg("sync workers stopped")
	return nil
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "worker-main").Logger()

	return cfg, logger, closer, nil
}

func initRedis(cfg *config.Config, logger *zerolog.Logger) (*redis.Client, error) {
	if cfg.Redis.Address == "" {
		return nil, fmt.Errorf("redis address is required for the worker")
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})

	if _, err := redisClient.Ping(context.Background()).Result(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return redisClient, nil
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9091
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}

	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server error")
		}
	}()
}
