package main

import (
	"context"
	"errors"
	"os"
	"time"

	"budgeteer/internal/backend"
	"budgeteer/internal/cascade"
	"budgeteer/internal/cli"
	"budgeteer/internal/log"
	"budgeteer/internal/services"
	"budgeteer/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig()
	logger := cli.SetupLogger(cfg, log.ComponentWorker)

	logger.Info("Starting budgeteer-worker")

	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required for the worker")
		os.Exit(1)
	}
	if backend.BackendType(cfg.DataBackend) == backend.MemoryBackend {
		logger.Warn("Worker is running on the memory backend and cannot see the server's data")
	}

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldError, err.Error())
		os.Exit(1)
	}
	res, err := backend.NewFactory(logger).Create(context.Background(), backendCfg)
	if err != nil {
		logger.Error("Failed to initialize backend", log.FieldError, err.Error())
		os.Exit(1)
	}
	if res.Amqp == nil {
		logger.Error("AMQP broker unavailable")
		_ = res.Cleanup()
		os.Exit(1)
	}

	tracker := services.New(res.Store, services.Options{
		Cascade: cascade.Config{
			MaxAttempts: cfg.CascadeMaxAttempts,
			Backoff:     cfg.CascadeBackoff,
		},
		Publisher: res.Publisher,
		Logger:    logger,
		CacheSize: cfg.CacheSize,
		CacheTTL:  cfg.CacheTTL,
	})
	reconciler := worker.NewReconcileWorker(tracker, res.Store, cfg.CascadeBackoff, logger)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(context.Context) {
		if err := res.Cleanup(); err != nil {
			logger.Error("Backend cleanup error", log.FieldError, err.Error())
		}
	})

	// Startup pass catches drift left while the worker was down.
	if err := reconciler.ReconcileBalances(ctx); err != nil {
		logger.Error("Startup reconciliation failed", log.FieldError, err.Error())
	}

	go func() {
		if err := res.Amqp.Consume(ctx, reconciler.HandleEvent); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Event consumption failed", log.FieldError, err.Error())
		}
	}()

	go func() {
		ticker := time.NewTicker(cfg.ReconcileInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := reconciler.ReconcileBalances(ctx); err != nil {
					logger.Error("Periodic reconciliation failed", log.FieldError, err.Error())
				}
			}
		}
	}()

	cli.WaitForShutdown(ctx, done)
	logger.Info("Worker stopped gracefully")
}
