package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dalepay/wallet-movements/internal/api"
	"github.com/dalepay/wallet-movements/internal/api/middleware"
	"github.com/dalepay/wallet-movements/internal/config"
	"github.com/dalepay/wallet-movements/internal/db"
	"github.com/dalepay/wallet-movements/internal/fee"
	"github.com/dalepay/wallet-movements/internal/gateway"
	"github.com/dalepay/wallet-movements/internal/idempotency"
	"github.com/dalepay/wallet-movements/internal/instrument"
	"github.com/dalepay/wallet-movements/internal/limits"
	"github.com/dalepay/wallet-movements/internal/lock"
	"github.com/dalepay/wallet-movements/internal/observability"
	"github.com/dalepay/wallet-movements/internal/pipeline"
	"github.com/dalepay/wallet-movements/internal/repository"
	"github.com/dalepay/wallet-movements/internal/service"
	"github.com/dalepay/wallet-movements/internal/snapshot"
	"github.com/dalepay/wallet-movements/internal/worker"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Run bootstraps the HTTP server and expiry worker, blocking until shutdown.
func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	observability.Init()
	middleware.SetJWTSecret(cfg.JWTSecret)
	middleware.SetJWTValidation(cfg.JWTIssuer, cfg.JWTAudience)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	if cfg.AutoMigrate {
		if err := repository.EnsureSchema(ctx, pool); err != nil {
			return err
		}
	}

	redisClient, err := newRedisClient(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer redisClient.Close()

	repo := repository.NewRepository(pool)

	fees, err := fee.NewResolver(fee.DefaultSchedule(), cfg.Rounding)
	if err != nil {
		return fmt.Errorf("build fee schedule: %w", err)
	}
	lim, err := limits.NewValidator(limits.DefaultPolicies(cfg.CardFundingMin, cfg.CardFundingMax))
	if err != nil {
		return fmt.Errorf("build limit policies: %w", err)
	}
	instruments := instrument.NewValidator()
	snapshots := snapshot.NewCache(repo, snapshot.NewRedisStore(redisClient), cfg.SnapshotTTL, logger)

	var locker lock.Locker
	switch cfg.LockBackend {
	case config.LockBackendLocal:
		locker = lock.NewLocalLocker()
	default:
		opts := lock.DefaultRedisOptions()
		opts.Expiry = cfg.LockExpiry
		locker = lock.NewRedisLocker(redisClient, opts, logger)
	}

	var executor gateway.Executor
	if cfg.ExecutorURL == "" {
		logger.Warn("EXECUTOR_URL not set, movements settle against the mock executor")
		executor = gateway.NewMockExecutor()
	} else {
		executor = gateway.NewHTTPExecutor(gateway.HTTPConfig{
			BaseURL: cfg.ExecutorURL,
			APIKey:  cfg.ExecutorAPIKey,
			Timeout: cfg.ExecutorTimeout,
		}, nil, logger)
	}

	p := pipeline.New(fees, lim, instruments, snapshots, locker, executor, logger).
		WithSubmitTimeout(cfg.SubmitTimeout)
	movements := service.NewMovementService(p, logger).
		WithRecorder(repo).
		WithIdentityLookup(repo).
		WithTTL(cfg.MovementTTL)

	expiryWorker := worker.NewExpiryWorker(movements, logger).WithPollInterval(cfg.SweepInterval)
	stopWorker := expiryWorker.Run(ctx)
	logger.Info("expiry worker started", zap.Stringer("worker", expiryWorker))

	router := api.NewRouter(cfg, logger, api.Deps{
		Movements:   movements,
		Quotes:      service.NewQuoteService(fees),
		Instruments: instruments,
		Idempotency: idempotency.NewStore(redisClient, cfg.IdempotencyTTL).WithPendingTTL(cfg.SubmitTimeout + cfg.LockExpiry),
		DB:          pool,
		Redis:       redisClient,
	})

	// confirm may wait on the account lock and the backend, so the write
	// deadline leaves room for both
	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.SubmitTimeout + cfg.LockExpiry + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server starting",
			zap.String("port", cfg.HTTPPort),
			zap.String("lock_backend", cfg.LockBackend),
			zap.Bool("mock_executor", cfg.ExecutorURL == ""),
		)
		serverErr <- server.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}

	logger.Info("stopping expiry worker")
	stopWorker()

	logger.Info("shutdown complete")
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	switch strings.ToLower(level) {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info", "":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

func newRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}
