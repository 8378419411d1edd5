package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/dunamismax/pixelfx/internal/api"
	"github.com/dunamismax/pixelfx/internal/config"
	"github.com/dunamismax/pixelfx/internal/logging"
	"github.com/dunamismax/pixelfx/internal/pipeline"
	"github.com/dunamismax/pixelfx/internal/queue"
	"github.com/dunamismax/pixelfx/internal/ratelimit"
	"github.com/dunamismax/pixelfx/internal/storage"
	"github.com/dunamismax/pixelfx/internal/store"
	"github.com/dunamismax/pixelfx/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}
	logger := logging.New("api", cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Error("api exited")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *logrus.Entry) error {
	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  "pixelfx-api",
		Exporter:     cfg.Tracing.Exporter,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		OTLPInsecure: cfg.Tracing.OTLPInsecure,
		SampleRatio:  cfg.Tracing.SampleRatio,
	}, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.WithError(err).Warn("tracing shutdown failed")
		}
	}()

	storageClient, err := storage.NewClient(storage.Config{
		Endpoint: cfg.Storage.Endpoint,
		Access:   cfg.Storage.AccessKey,
		Secret:   cfg.Storage.SecretKey,
		Bucket:   cfg.Storage.Bucket,
		Region:   cfg.Storage.Region,
		UseSSL:   cfg.Storage.UseSSL,

		MaxObjectBytes: cfg.Engine.MaxInputBytes,
	})
	if err != nil {
		return err
	}
	if err := storageClient.EnsureBucket(ctx); err != nil {
		return err
	}

	jobStore, closeStore, err := openJobStore(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.ClientOptions())
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.WithError(err).Warn("queue client close failed")
		}
	}()

	opts := api.Options{
		Logger:        logger,
		Engine:        pipeline.NewEngine(cfg.Engine.EngineOptions()),
		Queue:         queueClient,
		JobStore:      jobStore,
		Storage:       storageClient,
		PresignTTL:    cfg.API.PresignExpiry,
		MaxInputBytes: cfg.Engine.MaxInputBytes,
		ExportPrefix:  cfg.Engine.ExportPrefix,
	}

	if cfg.RateLimit.Enabled {
		limiter, closeLimiter, err := newRateLimiter(cfg)
		if err != nil {
			return err
		}
		defer closeLimiter()
		opts.RateLimiter = limiter
	}

	app := api.NewServer(opts)
	httpServer := &http.Server{
		Addr:              cfg.API.Addr,
		Handler:           app.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.API.ReadTimeout,
		WriteTimeout:      cfg.API.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithFields(logrus.Fields{
			"addr":       cfg.API.Addr,
			"bucket":     storageClient.Bucket(),
			"rate_limit": cfg.RateLimit.Enabled,
			"limiter":    cfg.RateLimit.Backend,
		}).Info("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func newRateLimiter(cfg config.Config) (ratelimit.Limiter, func(), error) {
	rl := cfg.RateLimit
	if rl.Backend == ratelimit.BackendMemory {
		limiter, err := ratelimit.NewMemoryLimiter(rl.Capacity, rl.Window)
		return limiter, func() {}, err
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Queue.RedisAddr,
		Password: cfg.Queue.RedisPassword,
		DB:       cfg.Queue.RedisDB,
	})
	limiter, err := ratelimit.NewRedisTokenBucket(client, rl.Capacity, rl.Window, ratelimit.DefaultKeyPrefix)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return limiter, func() { _ = client.Close() }, nil
}

// openJobStore uses Postgres when a DSN is configured and falls back to the
// in-memory store otherwise.
func openJobStore(ctx context.Context, cfg config.DatabaseConfig, logger *logrus.Entry) (store.JobStore, func(), error) {
	if cfg.DSN == "" {
		logger.Warn("database.dsn is empty, jobs are kept in memory")
		return store.NewMemoryJobStore(), func() {}, nil
	}

	pg, err := store.NewPostgresJobStore(ctx, cfg.DSN)
	if err != nil {
		return nil, nil, err
	}
	return pg, func() {
		if err := pg.Close(); err != nil {
			logger.WithError(err).Warn("close job store failed")
		}
	}, nil
}
