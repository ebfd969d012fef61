// Package storage persists jobs and analysis results. Two backends are
// provided: PostgreSQL for deployments and embedded SQLite for single-node
// and development use. Results are kept for a bounded retention window and
// reaped by DeleteExpired.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/matchlens/analysis-worker/internal/models"
)

// DefaultRetention is how long finished jobs and their results are kept.
const DefaultRetention = time.Hour

// ErrNotFound is returned when the requested job or result does not exist,
// including when it has already been reaped.
var ErrNotFound = errors.New("storage: not found")

// Store is the persistence contract shared by the API server and the worker.
type Store interface {
	// CreateJob inserts a new job record.
	CreateJob(ctx context.Context, job *models.Job) error
	// UpdateJobStatus sets a job's status and, for failures, its error text.
	UpdateJobStatus(ctx context.Context, jobID, status, errMsg string) error
	// UpdateJobProgress records how many frames have settled.
	UpdateJobProgress(ctx context.Context, jobID string, processed, total int) error
	// SaveResult stores the finished batch for a job.
	SaveResult(ctx context.Context, jobID string, result models.BatchResult) error
	// GetJob fetches one job, or ErrNotFound.
	GetJob(ctx context.Context, jobID string) (*models.Job, error)
	// GetResult fetches a job's stored batch, or ErrNotFound.
	GetResult(ctx context.Context, jobID string) (*models.BatchResult, error)
	// DeleteExpired removes jobs (and their results) finished before the
	// retention cutoff, returning how many were removed.
	DeleteExpired(ctx context.Context, retention time.Duration) (int, error)
	Close() error
}

// StartReaper runs DeleteExpired on store every interval until ctx ends.
func StartReaper(ctx context.Context, store Store, retention, interval time.Duration, onReap func(count int, err error)) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				count, err := store.DeleteExpired(ctx, retention)
				if onReap != nil {
					onReap(count, err)
				}
			}
		}
	}()
}
