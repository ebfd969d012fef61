package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/matchlens/analysis-worker/internal/models"
)

// SQLiteStore persists jobs and results in an embedded SQLite database.
// Timestamps are stored as Unix seconds so round-trips do not depend on
// driver time parsing.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and ensures the
// schema exists. Use ":memory:" for an ephemeral store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// SQLite allows one writer at a time; serializing through a single
	// connection avoids SQLITE_BUSY under concurrent jobs.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		job_id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		video_url TEXT NOT NULL DEFAULT '',
		total_frames INTEGER NOT NULL DEFAULT 0,
		processed_frames INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		started_at INTEGER,
		completed_at INTEGER
	);

	CREATE TABLE IF NOT EXISTS results (
		job_id TEXT PRIMARY KEY REFERENCES jobs(job_id) ON DELETE CASCADE,
		status TEXT NOT NULL,
		records TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
	CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	if _, err := s.db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CreateJob(ctx context.Context, job *models.Job) error {
	created := job.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (job_id, status, video_url, total_frames, processed_frames, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		job.JobID, job.Status, job.VideoURL, job.TotalFrames, job.ProcessedFrames, job.Error, created.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert job %s: %w", job.JobID, err)
	}
	return nil
}

func (s *SQLiteStore) UpdateJobStatus(ctx context.Context, jobID, status, errMsg string) error {
	now := time.Now().Unix()
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = ?,
		    error = ?,
		    started_at = CASE WHEN ? = 'processing' THEN ? ELSE started_at END,
		    completed_at = CASE WHEN ? IN ('completed', 'partial', 'failed') THEN ? ELSE completed_at END
		WHERE job_id = ?`,
		status, errMsg, status, now, status, now, jobID,
	)
	if err != nil {
		return fmt.Errorf("failed to update job %s status: %w", jobID, err)
	}
	return nil
}

func (s *SQLiteStore) UpdateJobProgress(ctx context.Context, jobID string, processed, total int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET processed_frames = ?, total_frames = ? WHERE job_id = ?`,
		processed, total, jobID,
	)
	if err != nil {
		return fmt.Errorf("failed to update job %s progress: %w", jobID, err)
	}
	return nil
}

func (s *SQLiteStore) SaveResult(ctx context.Context, jobID string, result models.BatchResult) error {
	records, err := json.Marshal(result.Records)
	if err != nil {
		return fmt.Errorf("failed to marshal records for job %s: %w", jobID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO results (job_id, status, records, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (job_id) DO UPDATE SET status = excluded.status, records = excluded.records`,
		jobID, result.Status, string(records), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save result for job %s: %w", jobID, err)
	}
	return nil
}

func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	var job models.Job
	var created int64
	var started, completed sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT job_id, status, video_url, total_frames, processed_frames, error, created_at, started_at, completed_at
		FROM jobs WHERE job_id = ?`,
		jobID,
	).Scan(&job.JobID, &job.Status, &job.VideoURL, &job.TotalFrames, &job.ProcessedFrames,
		&job.Error, &created, &started, &completed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch job %s: %w", jobID, err)
	}

	job.CreatedAt = time.Unix(created, 0)
	if started.Valid {
		t := time.Unix(started.Int64, 0)
		job.StartedAt = &t
	}
	if completed.Valid {
		t := time.Unix(completed.Int64, 0)
		job.CompletedAt = &t
	}
	return &job, nil
}

func (s *SQLiteStore) GetResult(ctx context.Context, jobID string) (*models.BatchResult, error) {
	var status, records string
	err := s.db.QueryRowContext(ctx, `
		SELECT status, records FROM results WHERE job_id = ?`,
		jobID,
	).Scan(&status, &records)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch result for job %s: %w", jobID, err)
	}

	result := models.BatchResult{Status: status}
	if err := json.Unmarshal([]byte(records), &result.Records); err != nil {
		return nil, fmt.Errorf("failed to unmarshal records for job %s: %w", jobID, err)
	}
	result.Total = len(result.Records)
	return &result, nil
}

func (s *SQLiteStore) DeleteExpired(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := time.Now().Add(-retention).Unix()
	// Delete results explicitly: the foreign_keys pragma is per-connection
	// and the cascade cannot be relied on across pool reconnects.
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM results WHERE job_id IN
			(SELECT job_id FROM jobs WHERE completed_at IS NOT NULL AND completed_at < ?)`,
		cutoff,
	); err != nil {
		return 0, fmt.Errorf("failed to delete expired results: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM jobs WHERE completed_at IS NOT NULL AND completed_at < ?`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
