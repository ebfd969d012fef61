package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/matchlens/analysis-worker/internal/config"
	"github.com/matchlens/analysis-worker/internal/dispatch"
	"github.com/matchlens/analysis-worker/internal/processor"
	"github.com/matchlens/analysis-worker/internal/progress"
	"github.com/matchlens/analysis-worker/internal/provider"
	"github.com/matchlens/analysis-worker/internal/queue"
	"github.com/matchlens/analysis-worker/internal/sampler"
	"github.com/matchlens/analysis-worker/internal/source"
	"github.com/matchlens/analysis-worker/internal/storage"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("worker exited with error", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	logger.Info("analysis worker starting")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx := context.Background()

	// 1. FFmpeg decoder
	decoder, err := sampler.NewFFmpegDecoder()
	if err != nil {
		return fmt.Errorf("ffmpeg not available: %w", err)
	}
	logger.Info("ffmpeg decoder initialized")

	// 2. Vision provider
	prov, err := buildProvider(cfg)
	if err != nil {
		return err
	}
	logger.Info("vision provider initialized", "provider", prov.Name())

	// 3. Storage backend
	store, err := buildStore(cfg)
	if err != nil {
		return fmt.Errorf("initialize storage: %w", err)
	}
	defer store.Close()
	logger.Info("storage initialized", "backend", cfg.StorageBackend)

	// 4. Redis client for progress updates
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	logger.Info("redis connection established")

	// 5. Analysis pipeline
	pipeline := processor.New(processor.Options{
		Sampler:  sampler.New(decoder),
		Provider: prov,
		Dispatcher: dispatch.New(dispatch.Options{
			Concurrency: cfg.DispatchConcurrency,
			MinInterval: cfg.DispatchInterval,
			MaxAttempts: cfg.MaxAttempts,
			Logger:      logger,
		}),
		Store:      store,
		Progress:   progress.NewPublisher(redisClient, logger),
		Downloader: source.NewDownloader(cfg.TempDir),
		YouTube:    source.NewYouTubeDownloader(cfg.TempDir),
		Logger:     logger,
	})

	// 6. Queue consumer
	consumer, err := queue.NewConsumer(&queue.ConsumerConfig{
		RedisURL:    cfg.RedisURL,
		Concurrency: cfg.WorkerConcurrency,
		Processor:   pipeline,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("initialize queue consumer: %w", err)
	}

	// 7. Result reaper
	reaperCtx, cancelReaper := context.WithCancel(ctx)
	defer cancelReaper()
	storage.StartReaper(reaperCtx, store, cfg.ResultRetention, 10*time.Minute, func(count int, err error) {
		if err != nil {
			logger.Warn("result reaper pass failed", "error", err)
		} else if count > 0 {
			logger.Info("expired results reaped", "count", count)
		}
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		if err := consumer.Start(); err != nil {
			errChan <- err
		}
	}()

	logger.Info("worker ready",
		"concurrency", cfg.WorkerConcurrency,
		"temp_dir", cfg.TempDir,
		"provider", cfg.Provider)

	select {
	case <-sigChan:
		logger.Info("shutdown signal received, stopping")
		consumer.Stop()
	case err := <-errChan:
		return fmt.Errorf("consumer failed: %w", err)
	}

	logger.Info("worker stopped")
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
