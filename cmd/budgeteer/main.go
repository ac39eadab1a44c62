package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"budgeteer/internal/auth"
	"budgeteer/internal/backend"
	"budgeteer/internal/cache"
	"budgeteer/internal/cascade"
	"budgeteer/internal/cli"
	apphttp "budgeteer/internal/http"
	"budgeteer/internal/log"
	"budgeteer/internal/services"
)

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig()
	logger := cli.SetupLogger(cfg, log.ComponentApp)

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldError, err.Error())
		os.Exit(1)
	}
	res, err := backend.NewFactory(logger).Create(context.Background(), backendCfg)
	if err != nil {
		logger.Error("Failed to initialize backend", log.FieldError, err.Error(), "backend", cfg.DataBackend)
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

	provider, err := auth.New(res.Store, auth.Config{Secret: cfg.JWTSecret, TTL: cfg.TokenTTL}, logger)
	if err != nil {
		logger.Error("Failed to initialize auth", log.FieldError, err.Error())
		os.Exit(1)
	}

	caches := cache.NewManager(logger)
	caches.Register(tracker.RemainingCache())
	sweep := cfg.CacheTTL
	if sweep <= 0 {
		// A zero TTL never expires entries.
		sweep = 10 * time.Minute
	}
	caches.StartCleanup(sweep)

	srv := apphttp.NewServer(":"+cfg.Port, apphttp.Deps{
		Tracker:            tracker,
		Auth:               provider,
		Exporter:           res.Exporter,
		Checks:             res.Checks,
		Logger:             logger,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
	})

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(shutdownCtx context.Context) {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err.Error())
		}
		caches.Stop()
		if err := res.Cleanup(); err != nil {
			logger.Error("Backend cleanup error", log.FieldError, err.Error())
		}
	})

	go func() {
		logger.Info("Starting budgeteer server",
			"port", cfg.Port,
			"backend", cfg.DataBackend,
			"events", cfg.AMQPURL != "",
			"export", cfg.ExportEnabled())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server error", log.FieldError, err.Error(), "port", cfg.Port)
			os.Exit(1)
		}
	}()

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
