package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/carpoolhub/platform/internal/app"
	"github.com/carpoolhub/platform/internal/infra"
	"github.com/carpoolhub/platform/internal/repository"
	"github.com/redis/go-redis/v9"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("reconcile sweeper failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := infra.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}

	pool, err := infra.NewPostgresPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()
	logger.Info("reconcile-sweeper connected to postgres")

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		if rdb, err = infra.OpenRedis(ctx, cfg.RedisURL); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer rdb.Close()
	}

	metricsSrv := infra.ServeMetrics(cfg.MetricsPort, logger)
	defer metricsSrv.Close()

	svc, err := app.NewServices(app.ServiceDeps{
		Config:  cfg,
		Pool:    pool,
		Repos:   repository.NewPostgres(),
		Redis:   rdb,
		Metrics: metricsSrv.Metrics,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("wire services: %w", err)
	}

	logger.Info("reconcile-sweeper starting",
		"interval", cfg.SweepInterval,
		"stale_after", cfg.SweepStaleAfter,
		"batch_size", cfg.SweepBatchSize,
	)
	svc.Sweeper.Run(ctx, cfg.SweepInterval)

	logger.Info("reconcile-sweeper shutting down")
	return nil
}
