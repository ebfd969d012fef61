// Package progress publishes per-job progress updates over Redis pub/sub so
// the API tier can stream them to clients.
package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Update is one progress event for a job.
type Update struct {
	JobID     string    `json:"job_id"`
	Status    string    `json:"status"`
	Percent   float64   `json:"percent"`
	Message   string    `json:"message"`
	Done      int       `json:"done,omitempty"`
	Total     int       `json:"total,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher sends updates to the per-job Redis channel. A nil Publisher is
// safe to use and drops all updates, which keeps the sync API path free of
// Redis.
type Publisher struct {
	client *redis.Client
	logger *slog.Logger
}

// NewPublisher creates a Publisher on client.
func NewPublisher(client *redis.Client, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{client: client, logger: logger}
}

// Channel returns the pub/sub channel name for a job.
func Channel(jobID string) string {
	return fmt.Sprintf("matchlens:progress:%s", jobID)
}

// Publish sends one update. Publishing is best effort: a failed publish is
// logged and otherwise ignored so progress never blocks the pipeline.
func (p *Publisher) Publish(ctx context.Context, update Update) {
	if p == nil || p.client == nil {
		return
	}
	update.Timestamp = time.Now()

	payload, err := json.Marshal(update)
	if err != nil {
		p.logger.Warn("failed to marshal progress update", "job_id", update.JobID, "error", err)
		return
	}
	if err := p.client.Publish(ctx, Channel(update.JobID), payload).Err(); err != nil {
		p.logger.Warn("failed to publish progress update", "job_id", update.JobID, "error", err)
	}
}
