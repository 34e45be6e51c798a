// Screening engine entry point
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/deltran/screening/internal/api"
	"github.com/deltran/screening/internal/cache"
	"github.com/deltran/screening/internal/config"
	"github.com/deltran/screening/internal/dispatch"
	"github.com/deltran/screening/internal/observability"
	"github.com/deltran/screening/internal/refresh"
	"github.com/deltran/screening/internal/store"
	"github.com/deltran/screening/internal/watchlist"
	"github.com/deltran/screening/internal/worker"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid config", zap.Error(err))
	}

	logger.Info("starting screening engine",
		zap.String("version", cfg.Version),
		zap.String("http_addr", cfg.Server.HTTPAddr),
	)

	st, err := store.Open(store.Config{
		Host:            cfg.Store.Host,
		Port:            cfg.Store.Port,
		Database:        cfg.Store.Database,
		User:            cfg.Store.User,
		Password:        cfg.Store.Password,
		SSLMode:         cfg.Store.SSLMode,
		MaxOpenConns:    cfg.Store.MaxOpenConns,
		MaxIdleConns:    cfg.Store.MaxIdleConns,
		ConnMaxLifetime: cfg.Store.ConnMaxLifetime,
		CommandTimeout:  cfg.Store.CommandTimeout,
	})
	if err != nil {
		logger.Fatal("failed to open store", zap.Error(err))
	}
	defer st.Close()
	if _, err := st.DB().Exec(store.Schema); err != nil {
		logger.Fatal("failed to apply store schema", zap.Error(err))
	}

	holder := watchlist.NewHolder()
	if snap, err := watchlist.LoadFromDisk(cfg.Watchlist.SnapshotPath); err != nil {
		logger.Warn("no watchlist snapshot on disk yet, starting empty", zap.Error(err))
	} else {
		holder.Publish(snap)
		logger.Info("loaded watchlist snapshot from disk", zap.Int("entries", len(snap.Entries())))
	}

	var redisClient *redis.Client
	var screeningCache *cache.ScreeningCache
	if cfg.Dispatch.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.Dispatch.RedisAddr})

		screeningCache, err = cache.New(cache.Config{
			Addr: cfg.Dispatch.RedisAddr,
			TTL:  cfg.Dispatch.CacheTTL,
		})
		if err != nil {
			logger.Warn("screening cache unavailable, reuse checks will go straight to the store", zap.Error(err))
			screeningCache = nil
		} else {
			defer screeningCache.Close()
		}
	}

	dispatcher := dispatch.New(st, holder, redisClient, screeningCache, cfg.Dispatch.QueueThreshold, logger)

	pool := worker.New(st, holder, logger, worker.Config{
		Size:                    cfg.Worker.PoolSize,
		PollInterval:            cfg.Worker.PollInterval,
		CleanupEveryNLoops:      cfg.Worker.CleanupEveryNLoops,
		JobsRetentionDays:       cfg.Retention.JobsRetentionDays,
		EntitiesRetentionMonths: cfg.Retention.ScreenedEntitiesRetentionMonths,
	})
	pool.Start()

	sweep := refresh.New(st, holder, logger, refresh.Config{
		SnapshotPath:       cfg.Watchlist.SnapshotPath,
		SanctionsAllowlist: cfg.Watchlist.SanctionsAllowlist,
		SanctionsFeedURL:   cfg.Watchlist.SanctionsFeedURL,
		PEPsFeedURL:        cfg.Watchlist.PEPsFeedURL,
		FeedTimeout:        cfg.Watchlist.FeedTimeout,
	})

	metrics := observability.NewMetrics("screening", "")
	metrics.StartUptimeTracking(time.Now())

	_, tracerCloser, err := observability.InitTracer(observability.TracerConfig{
		ServiceName:    "screening-engine",
		ServiceVersion: cfg.Version,
		Environment:    cfg.Tracing.Environment,
		CollectorAddr:  cfg.Tracing.CollectorAddr,
		Enabled:        cfg.Tracing.Enabled,
		SampleRate:     cfg.Tracing.SampleRate,
	})
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer tracerCloser.Close()

	httpAPI := api.New(dispatcher, st, sweep, metrics, logger)

	httpServer := &http.Server{
		Addr:         cfg.Server.HTTPAddr,
		Handler:      httpAPI.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.Server.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down gracefully...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("http server shutdown error", zap.Error(err))
	}
	if err := pool.Close(); err != nil {
		logger.Error("worker pool shutdown error", zap.Error(err))
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Error("redis client close error", zap.Error(err))
		}
	}

	logger.Info("shutdown complete")
}
