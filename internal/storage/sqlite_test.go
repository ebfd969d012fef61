package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/matchlens/analysis-worker/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestJobLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := &models.Job{
		JobID:     models.NewJobID(),
		Status:    models.JobStatusPending,
		VideoURL:  "https://example.com/match.mp4",
		CreatedAt: time.Now(),
	}
	if err := s.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	if err := s.UpdateJobStatus(ctx, job.JobID, models.JobStatusProcessing, ""); err != nil {
		t.Fatalf("UpdateJobStatus: %v", err)
	}
	if err := s.UpdateJobProgress(ctx, job.JobID, 3, 10); err != nil {
		t.Fatalf("UpdateJobProgress: %v", err)
	}

	got, err := s.GetJob(ctx, job.JobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != models.JobStatusProcessing {
		t.Errorf("status = %q, want processing", got.Status)
	}
	if got.ProcessedFrames != 3 || got.TotalFrames != 10 {
		t.Errorf("progress = %d/%d, want 3/10", got.ProcessedFrames, got.TotalFrames)
	}
	if got.StartedAt == nil {
		t.Error("StartedAt not set on processing transition")
	}
	if got.CompletedAt != nil {
		t.Error("CompletedAt set before completion")
	}

	if err := s.UpdateJobStatus(ctx, job.JobID, models.JobStatusFailed, "decode error"); err != nil {
		t.Fatalf("UpdateJobStatus failed: %v", err)
	}
	got, err = s.GetJob(ctx, job.JobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Error != "decode error" {
		t.Errorf("error = %q, want decode error", got.Error)
	}
	if got.CompletedAt == nil {
		t.Error("CompletedAt not set on failure")
	}
}

func TestGetJobNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetJob(context.Background(), "job_missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if _, err := s.GetResult(context.Background(), "job_missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestResultRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := &models.Job{JobID: models.NewJobID(), Status: models.JobStatusProcessing, CreatedAt: time.Now()}
	if err := s.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	result := models.BatchResult{
		Records: []models.AnalysisRecord{
			{
				Timestamp: 0,
				Players: []models.Player{
					{ID: "p1", Team: "A", Coordinates: []float64{0.4, 0.6}},
				},
				Ball:  models.Ball{Visible: true, Coordinates: []float64{0.5, 0.5}},
				Event: "pass",
			},
			models.FallbackRecord(2.0, "quota exceeded"),
		},
		Total:  2,
		Status: models.StatusPartial,
	}
	if err := s.SaveResult(ctx, job.JobID, result); err != nil {
		t.Fatalf("SaveResult: %v", err)
	}

	got, err := s.GetResult(ctx, job.JobID)
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	if got.Status != models.StatusPartial || got.Total != 2 {
		t.Errorf("status/total = %q/%d, want partial/2", got.Status, got.Total)
	}
	if got.Records[0].Event != "pass" || !got.Records[0].Ball.Visible {
		t.Errorf("record 0 = %+v", got.Records[0])
	}
	if !got.Records[1].IsFallback || got.Records[1].TacticalNotes != "quota exceeded" {
		t.Errorf("record 1 = %+v", got.Records[1])
	}
}

func TestSaveResultOverwrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := &models.Job{JobID: models.NewJobID(), Status: models.JobStatusProcessing, CreatedAt: time.Now()}
	if err := s.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	first := models.BatchResult{Records: []models.AnalysisRecord{models.FallbackRecord(0, "")}, Status: models.StatusPartial}
	if err := s.SaveResult(ctx, job.JobID, first); err != nil {
		t.Fatalf("SaveResult: %v", err)
	}
	second := models.BatchResult{
		Records: []models.AnalysisRecord{{Timestamp: 0, Players: []models.Player{}, Event: "shot"}},
		Status:  models.StatusCompleted,
	}
	if err := s.SaveResult(ctx, job.JobID, second); err != nil {
		t.Fatalf("SaveResult overwrite: %v", err)
	}

	got, err := s.GetResult(ctx, job.JobID)
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	if got.Status != models.StatusCompleted || got.Records[0].Event != "shot" {
		t.Errorf("got = %+v, want overwritten result", got)
	}
}

func TestDeleteExpired(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := &models.Job{JobID: "job_old", Status: models.JobStatusPending, CreatedAt: time.Now().Add(-2 * time.Hour)}
	fresh := &models.Job{JobID: "job_fresh", Status: models.JobStatusPending, CreatedAt: time.Now()}
	for _, j := range []*models.Job{old, fresh} {
		if err := s.CreateJob(ctx, j); err != nil {
			t.Fatalf("CreateJob: %v", err)
		}
	}

	// Mark both complete, then age the old one's completion time directly.
	for _, id := range []string{old.JobID, fresh.JobID} {
		if err := s.UpdateJobStatus(ctx, id, models.JobStatusCompleted, ""); err != nil {
			t.Fatalf("UpdateJobStatus: %v", err)
		}
		if err := s.SaveResult(ctx, id, models.BatchResult{Records: []models.AnalysisRecord{}, Status: models.StatusCompleted}); err != nil {
			t.Fatalf("SaveResult: %v", err)
		}
	}
	aged := time.Now().Add(-2 * time.Hour).Unix()
	if _, err := s.db.ExecContext(ctx, `UPDATE jobs SET completed_at = ? WHERE job_id = ?`, aged, old.JobID); err != nil {
		t.Fatalf("age job: %v", err)
	}

	deleted, err := s.DeleteExpired(ctx, DefaultRetention)
	if err != nil {
		t.Fatalf("DeleteExpired: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}

	if _, err := s.GetJob(ctx, old.JobID); !errors.Is(err, ErrNotFound) {
		t.Errorf("old job still present: %v", err)
	}
	if _, err := s.GetResult(ctx, old.JobID); !errors.Is(err, ErrNotFound) {
		t.Errorf("old result still present: %v", err)
	}
	if _, err := s.GetJob(ctx, fresh.JobID); err != nil {
		t.Errorf("fresh job missing: %v", err)
	}
}
