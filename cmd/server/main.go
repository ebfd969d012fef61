package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/matchlens/analysis-worker/internal/config"
	"github.com/matchlens/analysis-worker/internal/dispatch"
	"github.com/matchlens/analysis-worker/internal/processor"
	"github.com/matchlens/analysis-worker/internal/progress"
	"github.com/matchlens/analysis-worker/internal/provider"
	"github.com/matchlens/analysis-worker/internal/queue"
	"github.com/matchlens/analysis-worker/internal/sampler"
	"github.com/matchlens/analysis-worker/internal/server"
	"github.com/matchlens/analysis-worker/internal/storage"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx := context.Background()

	decoder, err := sampler.NewFFmpegDecoder()
	if err != nil {
		return fmt.Errorf("ffmpeg not available: %w", err)
	}

	prov, err := buildProvider(cfg)
	if err != nil {
		return err
	}
	logger.Info("vision provider initialized", "provider", prov.Name())

	store, err := buildStore(cfg)
	if err != nil {
		return fmt.Errorf("initialize storage: %w", err)
	}
	defer store.Close()
	logger.Info("storage initialized", "backend", cfg.StorageBackend)

	// Redis is optional for the API: without it the synchronous endpoint
	// still works, only background jobs are disabled.
	var (
		enqueuer  *queue.Enqueuer
		publisher *progress.Publisher
	)
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		redisClient := redis.NewClient(redisOpts)
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, background jobs disabled", "error", err)
		} else {
			publisher = progress.NewPublisher(redisClient, logger)
			enqueuer, err = queue.NewEnqueuer(cfg.RedisURL)
			if err != nil {
				return fmt.Errorf("initialize enqueuer: %w", err)
			}
			defer enqueuer.Close()
			logger.Info("background job queue enabled")
		}
	}

	pipeline := processor.New(processor.Options{
		Sampler:  sampler.New(decoder),
		Provider: prov,
		Dispatcher: dispatch.New(dispatch.Options{
			Concurrency: cfg.DispatchConcurrency,
			MinInterval: cfg.DispatchInterval,
			MaxAttempts: cfg.MaxAttempts,
			Logger:      logger,
		}),
		Store:    store,
		Progress: publisher,
		Logger:   logger,
	})

	reaperCtx, cancelReaper := context.WithCancel(ctx)
	defer cancelReaper()
	storage.StartReaper(reaperCtx, store, cfg.ResultRetention, 10*time.Minute, func(count int, err error) {
		if err != nil {
			logger.Warn("result reaper pass failed", "error", err)
		} else if count > 0 {
			logger.Info("expired results reaped", "count", count)
		}
	})

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	srv := server.New(server.Options{
		Pipeline: pipeline,
		Store:    store,
		Enqueuer: enqueuer,
		TempDir:  cfg.TempDir,
		Logger:   logger,
	})
	srv.Register(e)

	errChan := make(chan error, 1)
	go func() {
		if err := e.Start(cfg.ListenAddr); err != nil {
			errChan <- err
		}
	}()
	logger.Info("server listening", "addr", cfg.ListenAddr)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("shutdown signal received, stopping")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
	case err := <-errChan:
		return fmt.Errorf("server failed: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

func buildProvider(cfg *config.Config) (provider.VisionProvider, error) {
	switch cfg.Provider {
	case "openrouter":
		return provider.NewOpenRouterClient(cfg.OpenRouterAPIKey, "", cfg.OpenRouterModel)
	default:
		return provider.NewGeminiClient(cfg.GeminiAPIKey, "", cfg.GeminiModel)
	}
}

func buildStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.StorageBackend {
	case "postgres":
		return storage.NewPostgresStore(cfg.PostgresURL)
	default:
		return storage.NewSQLiteStore(cfg.SQLitePath)
	}
}
