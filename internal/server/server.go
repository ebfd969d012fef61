// Package server exposes the HTTP API: synchronous multi-video analysis,
// background job submission, and job inspection.
package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/matchlens/analysis-worker/internal/models"
	"github.com/matchlens/analysis-worker/internal/processor"
	"github.com/matchlens/analysis-worker/internal/queue"
	"github.com/matchlens/analysis-worker/internal/sampler"
	"github.com/matchlens/analysis-worker/internal/storage"
)

// MaxVideosPerRequest bounds how many files one synchronous request may
// carry.
const MaxVideosPerRequest = 6

// Server holds the handler dependencies.
type Server struct {
	pipeline *processor.Pipeline
	store    storage.Store
	enqueuer *queue.Enqueuer
	tempDir  string
	logger   *slog.Logger
}

// Options configures a Server. Enqueuer may be nil, which disables the
// background job endpoints.
type Options struct {
	Pipeline *processor.Pipeline
	Store    storage.Store
	Enqueuer *queue.Enqueuer
	TempDir  string
	Logger   *slog.Logger
}

// New creates a Server.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	return &Server{
		pipeline: opts.Pipeline,
		store:    opts.Store,
		enqueuer: opts.Enqueuer,
		tempDir:  opts.TempDir,
		logger:   opts.Logger,
	}
}

// Register mounts all routes on e.
func (s *Server) Register(e *echo.Echo) {
	api := e.Group("/api")
	api.GET("/health", s.Health)
	api.POST("/analyze", s.Analyze)
	api.POST("/jobs", s.CreateJob)
	api.GET("/jobs/:id", s.GetJob)
}

// Health reports liveness.
func (s *Server) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// Analyze runs analysis synchronously over uploaded videos. All videos'
// samples form one batch so pacing and quota soft-abort span the whole
// request; the response carries the flattened summarized frames.
func (s *Server) Analyze(c echo.Context) error {
	form, err := c.MultipartForm()
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "multipart form required"})
	}
	files := form.File["videos"]
	if len(files) == 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "no videos provided (field: videos)"})
	}
	if len(files) > MaxVideosPerRequest {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": fmt.Sprintf("too many videos: %d (limit %d)", len(files), MaxVideosPerRequest),
		})
	}

	cfg, err := configFromForm(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	paths := make([]string, 0, len(files))
	defer func() {
		for _, path := range paths {
			os.Remove(path)
		}
	}()
	for _, fh := range files {
		if fh.Size > sampler.MaxVideoBytes {
			return c.JSON(http.StatusRequestEntityTooLarge, map[string]string{
				"error": fmt.Sprintf("video %s is too large, maximum size is %d bytes", fh.Filename, int64(sampler.MaxVideoBytes)),
			})
		}
		path, err := s.saveUpload(fh)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
		paths = append(paths, path)
	}

	batch, err := s.pipeline.AnalyzeFiles(c.Request().Context(), paths, cfg, nil)
	if err != nil {
		s.logger.Error("synchronous analysis failed", "videos", len(paths), "error", err)
		if errors.Is(err, processor.ErrNoFrames) {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
		msg := strings.ToLower(err.Error())
		if strings.Contains(msg, "unavailable") || strings.Contains(msg, "overloaded") {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, models.AnalysisResponse{
		Frames:      models.SummarizeAll(batch.Records),
		TotalFrames: batch.Total,
		Status:      batch.Status,
	})
}

// jobRequest is the JSON body for URL-sourced background jobs.
type jobRequest struct {
	VideoURL      string   `json:"video_url"`
	FrameInterval *float64 `json:"frame_interval"`
	MaxDuration   *float64 `json:"max_duration"`
}

// CreateJob submits a background analysis job, sourced from either an
// uploaded file or a video URL.
func (s *Server) CreateJob(c echo.Context) error {
	if s.enqueuer == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "background jobs are not enabled"})
	}

	payload := models.JobPayload{
		JobID:  models.NewJobID(),
		Config: models.DefaultAnalysisConfig(),
	}

	if fh, err := c.FormFile("video"); err == nil {
		cfg, err := configFromForm(c)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
		path, err := s.saveUpload(fh)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
		payload.Config = cfg
		payload.VideoURL = "file://" + path
		payload.SourceType = "upload"
		payload.Filename = fh.Filename
	} else {
		var req jobRequest
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		}
		if req.VideoURL == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "video_url or video upload required"})
		}
		if req.FrameInterval != nil {
			payload.Config.FrameInterval = *req.FrameInterval
		}
		if req.MaxDuration != nil {
			payload.Config.MaxDuration = *req.MaxDuration
		}
		if err := payload.Config.Validate(); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
		payload.VideoURL = req.VideoURL
		payload.SourceType = "url"
	}

	ctx := c.Request().Context()
	if err := s.store.CreateJob(ctx, &models.Job{
		JobID:     payload.JobID,
		Status:    models.JobStatusPending,
		VideoURL:  payload.VideoURL,
		CreatedAt: time.Now(),
	}); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to create job"})
	}
	if err := s.enqueuer.Enqueue(ctx, &payload); err != nil {
		s.store.UpdateJobStatus(ctx, payload.JobID, models.JobStatusFailed, "enqueue failed")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to enqueue job"})
	}

	return c.JSON(http.StatusAccepted, map[string]string{
		"job_id": payload.JobID,
		"status": models.JobStatusPending,
	})
}

// GetJob returns a job's state and, once finished, its summarized frames.
func (s *Server) GetJob(c echo.Context) error {
	ctx := c.Request().Context()
	jobID := c.Param("id")

	job, err := s.store.GetJob(ctx, jobID)
	if errors.Is(err, storage.ErrNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "job not found"})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to fetch job"})
	}

	resp := map[string]any{"job": job}
	if job.Status == models.JobStatusCompleted || job.Status == models.JobStatusPartial {
		if result, err := s.store.GetResult(ctx, jobID); err == nil {
			resp["frames"] = models.SummarizeAll(result.Records)
			resp["total_frames"] = result.Total
			resp["result_status"] = result.Status
		}
	}
	return c.JSON(http.StatusOK, resp)
}

// saveUpload writes a multipart file into the temp directory, enforcing the
// size cap during the copy.
func (s *Server) saveUpload(fh *multipart.FileHeader) (string, error) {
	if fh.Size > sampler.MaxVideoBytes {
		return "", fmt.Errorf("file %s is %d bytes, limit is %d", fh.Filename, fh.Size, sampler.MaxVideoBytes)
	}

	src, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("failed to open upload: %w", err)
	}
	defer src.Close()

	if err := os.MkdirAll(s.tempDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create temp directory: %w", err)
	}
	dst, err := os.CreateTemp(s.tempDir, "upload-*"+filepath.Ext(fh.Filename))
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}

	written, err := io.Copy(dst, io.LimitReader(src, sampler.MaxVideoBytes+1))
	if err != nil {
		dst.Close()
		os.Remove(dst.Name())
		return "", fmt.Errorf("failed to store upload: %w", err)
	}
	if written > sampler.MaxVideoBytes {
		dst.Close()
		os.Remove(dst.Name())
		return "", fmt.Errorf("file %s exceeds the %d byte limit", fh.Filename, int64(sampler.MaxVideoBytes))
	}
	if err := dst.Close(); err != nil {
		os.Remove(dst.Name())
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}
	return dst.Name(), nil
}

// configFromForm reads optional sampling overrides from form values.
func configFromForm(c echo.Context) (models.AnalysisConfig, error) {
	cfg := models.DefaultAnalysisConfig()
	if v := c.FormValue("frame_interval"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return cfg, fmt.Errorf("invalid frame_interval %q", v)
		}
		cfg.FrameInterval = f
	}
	if v := c.FormValue("max_duration"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return cfg, fmt.Errorf("invalid max_duration %q", v)
		}
		cfg.MaxDuration = f
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
