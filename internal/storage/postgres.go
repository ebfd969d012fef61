package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/matchlens/analysis-worker/internal/models"
)

// PostgresStore persists jobs and results in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects to PostgreSQL and ensures the schema exists.
func NewPostgresStore(postgresURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", postgresURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &PostgresStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) initSchema() error {
	schema := `
	CREATE SCHEMA IF NOT EXISTS matchlens;

	CREATE TABLE IF NOT EXISTS matchlens.jobs (
		job_id VARCHAR(255) PRIMARY KEY,
		status VARCHAR(50) NOT NULL,
		video_url TEXT,
		total_frames INT NOT NULL DEFAULT 0,
		processed_frames INT NOT NULL DEFAULT 0,
		error TEXT,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		started_at TIMESTAMP,
		completed_at TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS matchlens.results (
		job_id VARCHAR(255) PRIMARY KEY REFERENCES matchlens.jobs(job_id) ON DELETE CASCADE,
		status VARCHAR(50) NOT NULL,
		records JSONB NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_jobs_status ON matchlens.jobs(status)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON matchlens.jobs(created_at)`,
	}
	for _, stmt := range indexes {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO matchlens.jobs (job_id, status, video_url, total_frames, processed_frames, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		job.JobID, job.Status, job.VideoURL, job.TotalFrames, job.ProcessedFrames, job.Error, job.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert job %s: %w", job.JobID, err)
	}
	return nil
}

func (s *PostgresStore) UpdateJobStatus(ctx context.Context, jobID, status, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE matchlens.jobs
		SET status = $2,
		    error = NULLIF($3, ''),
		    started_at = CASE WHEN $2 = 'processing' THEN CURRENT_TIMESTAMP ELSE started_at END,
		    completed_at = CASE WHEN $2 IN ('completed', 'partial', 'failed') THEN CURRENT_TIMESTAMP ELSE completed_at END
		WHERE job_id = $1`,
		jobID, status, errMsg,
	)
	if err != nil {
		return fmt.Errorf("failed to update job %s status: %w", jobID, err)
	}
	return nil
}

func (s *PostgresStore) UpdateJobProgress(ctx context.Context, jobID string, processed, total int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE matchlens.jobs SET processed_frames = $2, total_frames = $3 WHERE job_id = $1`,
		jobID, processed, total,
	)
	if err != nil {
		return fmt.Errorf("failed to update job %s progress: %w", jobID, err)
	}
	return nil
}

func (s *PostgresStore) SaveResult(ctx context.Context, jobID string, result models.BatchResult) error {
	records, err := json.Marshal(result.Records)
	if err != nil {
		return fmt.Errorf("failed to marshal records for job %s: %w", jobID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO matchlens.results (job_id, status, records)
		VALUES ($1, $2, $3)
		ON CONFLICT (job_id) DO UPDATE SET status = EXCLUDED.status, records = EXCLUDED.records`,
		jobID, result.Status, records,
	)
	if err != nil {
		return fmt.Errorf("failed to save result for job %s: %w", jobID, err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	var job models.Job
	var errText sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT job_id, status, COALESCE(video_url, ''), total_frames, processed_frames, error, created_at, started_at, completed_at
		FROM matchlens.jobs WHERE job_id = $1`,
		jobID,
	).Scan(&job.JobID, &job.Status, &job.VideoURL, &job.TotalFrames, &job.ProcessedFrames,
		&errText, &job.CreatedAt, &job.StartedAt, &job.CompletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch job %s: %w", jobID, err)
	}
	job.Error = errText.String
	return &job, nil
}

func (s *PostgresStore) GetResult(ctx context.Context, jobID string) (*models.BatchResult, error) {
	var status string
	var records []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT status, records FROM matchlens.results WHERE job_id = $1`,
		jobID,
	).Scan(&status, &records)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch result for job %s: %w", jobID, err)
	}

	result := models.BatchResult{Status: status}
	if err := json.Unmarshal(records, &result.Records); err != nil {
		return nil, fmt.Errorf("failed to unmarshal records for job %s: %w", jobID, err)
	}
	result.Total = len(result.Records)
	return &result, nil
}

func (s *PostgresStore) DeleteExpired(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := time.Now().Add(-retention)
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM matchlens.jobs
		WHERE completed_at IS NOT NULL AND completed_at < $1`,
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

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
