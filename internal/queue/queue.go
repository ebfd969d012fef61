// Package queue moves analysis jobs between the API server and the worker
// over Redis, using asynq for delivery, retry, and priority handling.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/matchlens/analysis-worker/internal/models"
)

// TaskAnalyze is the asynq task type for one video analysis job.
const TaskAnalyze = "matchlens:analyze"

// Queue names by priority.
const (
	QueueCritical = "matchlens:critical"
	QueueDefault  = "matchlens:default"
	QueueLow      = "matchlens:low"
)

// Enqueuer submits analysis jobs from the API tier.
type Enqueuer struct {
	client *asynq.Client
}

// NewEnqueuer creates an Enqueuer for the Redis at redisURL.
func NewEnqueuer(redisURL string) (*Enqueuer, error) {
	redisOpt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	return &Enqueuer{client: asynq.NewClient(redisOpt)}, nil
}

// Enqueue submits one job for background processing.
func (e *Enqueuer) Enqueue(ctx context.Context, job *models.JobPayload) error {
	now := time.Now()
	job.EnqueuedAt = &now

	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job payload: %w", err)
	}
	task := asynq.NewTask(TaskAnalyze, payload)
	if _, err := e.client.EnqueueContext(ctx, task,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(2),
		asynq.Timeout(30*time.Minute),
	); err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", job.JobID, err)
	}
	return nil
}

func (e *Enqueuer) Close() error {
	return e.client.Close()
}

// Processor handles a dequeued job.
type Processor interface {
	Process(ctx context.Context, job *models.JobPayload) error
}

// Consumer runs the worker side of the queue.
type Consumer struct {
	server    *asynq.Server
	processor Processor
	logger    *slog.Logger
}

// ConsumerConfig configures a Consumer.
type ConsumerConfig struct {
	RedisURL    string
	Concurrency int
	Processor   Processor
	Logger      *slog.Logger
}

// NewConsumer creates a queue consumer.
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				QueueCritical: 6,
				QueueDefault:  3,
				QueueLow:      1,
			},
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				return time.Duration(1<<uint(n)) * time.Minute
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("task failed", "type", task.Type(), "error", err)
			}),
		},
	)

	return &Consumer{server: server, processor: cfg.Processor, logger: logger}, nil
}

// Start blocks serving tasks until Stop is called.
func (c *Consumer) Start() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskAnalyze, c.handleAnalyze)

	if err := c.server.Run(mux); err != nil {
		return fmt.Errorf("queue consumer stopped: %w", err)
	}
	return nil
}

// Stop shuts the consumer down gracefully, letting in-flight jobs finish.
func (c *Consumer) Stop() {
	c.server.Shutdown()
}

func (c *Consumer) handleAnalyze(ctx context.Context, task *asynq.Task) error {
	var job models.JobPayload
	if err := json.Unmarshal(task.Payload(), &job); err != nil {
		return fmt.Errorf("failed to unmarshal job payload: %w", err)
	}

	c.logger.Info("processing job", "job_id", job.JobID, "source", job.SourceType)
	if err := c.processor.Process(ctx, &job); err != nil {
		c.logger.Error("job failed", "job_id", job.JobID, "error", err)
		return err
	}
	c.logger.Info("job completed", "job_id", job.JobID)
	return nil
}
