package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/bootstrap"
	"github.com/spec-kit/helpdesk-service/internal/config"
	"github.com/spec-kit/helpdesk-service/internal/observability"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to wire application", zap.Error(err))
	}
	defer c.Close(context.Background())

	pool := c.WorkerPool()
	logger.Info("worker configured",
		zap.Int("workers", cfg.Pipeline.Workers),
		zap.Int("max_attempts", cfg.Pipeline.MaxAttempts),
		zap.String("queue", cfg.Pipeline.KeyPrefix))

	if err := pool.Run(ctx); err != nil {
		logger.Error("worker pool failed", zap.Error(err))
	}
}
