// Package processor orchestrates the analysis pipeline: fetch the video,
// sample frames, dispatch them to the vision provider, and persist the
// outcome. The same Pipeline backs both the synchronous API path and the
// queue worker.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/matchlens/analysis-worker/internal/dispatch"
	"github.com/matchlens/analysis-worker/internal/models"
	"github.com/matchlens/analysis-worker/internal/normalize"
	"github.com/matchlens/analysis-worker/internal/progress"
	"github.com/matchlens/analysis-worker/internal/prompts"
	"github.com/matchlens/analysis-worker/internal/provider"
	"github.com/matchlens/analysis-worker/internal/sampler"
	"github.com/matchlens/analysis-worker/internal/source"
	"github.com/matchlens/analysis-worker/internal/storage"
)

// Pipeline wires the sampling, dispatch, and persistence stages together.
type Pipeline struct {
	sampler    *sampler.Sampler
	provider   provider.VisionProvider
	dispatcher *dispatch.Dispatcher
	store      storage.Store
	progress   *progress.Publisher
	downloader *source.Downloader
	youtube    *source.YouTubeDownloader
	logger     *slog.Logger
}

// Options bundles the Pipeline dependencies. Store, Progress, Downloader and
// YouTube may be nil; the corresponding stages are skipped.
type Options struct {
	Sampler    *sampler.Sampler
	Provider   provider.VisionProvider
	Dispatcher *dispatch.Dispatcher
	Store      storage.Store
	Progress   *progress.Publisher
	Downloader *source.Downloader
	YouTube    *source.YouTubeDownloader
	Logger     *slog.Logger
}

// New creates a Pipeline.
func New(opts Options) *Pipeline {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Pipeline{
		sampler:    opts.Sampler,
		provider:   opts.Provider,
		dispatcher: opts.Dispatcher,
		store:      opts.Store,
		progress:   opts.Progress,
		downloader: opts.Downloader,
		youtube:    opts.YouTube,
		logger:     opts.Logger,
	}
}

// ErrNoFrames means none of the submitted videos yielded a usable sample.
var ErrNoFrames = errors.New("no frames extracted from videos")

// AnalyzeFile samples the video at path and dispatches every sample to the
// provider. onProgress, when non-nil, is called as units settle.
func (p *Pipeline) AnalyzeFile(ctx context.Context, path string, cfg models.AnalysisConfig, onProgress dispatch.ProgressFunc) (models.BatchResult, error) {
	samples, err := p.sampler.Sample(ctx, path, cfg)
	if err != nil {
		return models.BatchResult{}, fmt.Errorf("sampling failed: %w", err)
	}
	p.logger.Info("video sampled", "path", path, "samples", len(samples))

	return p.dispatcher.Dispatch(ctx, p.units(samples), onProgress)
}

// AnalyzeFiles samples every path and dispatches all samples as one batch, so
// rate pacing and quota soft-abort span the whole request rather than one
// file. Videos that fail to sample are skipped; ErrNoFrames is returned when
// nothing survives sampling.
func (p *Pipeline) AnalyzeFiles(ctx context.Context, paths []string, cfg models.AnalysisConfig, onProgress dispatch.ProgressFunc) (models.BatchResult, error) {
	var units []dispatch.Unit
	for _, path := range paths {
		samples, err := p.sampler.Sample(ctx, path, cfg)
		if err != nil {
			p.logger.Error("video sampling failed, skipping", "path", path, "error", err)
			continue
		}
		p.logger.Info("video sampled", "path", path, "samples", len(samples))
		units = append(units, p.units(samples)...)
	}
	if len(units) == 0 {
		return models.BatchResult{}, ErrNoFrames
	}

	return p.dispatcher.Dispatch(ctx, units, onProgress)
}

// units turns samples into dispatchable analysis closures.
func (p *Pipeline) units(samples []models.VideoSample) []dispatch.Unit {
	units := make([]dispatch.Unit, len(samples))
	for i, smp := range samples {
		smp := smp
		units[i] = dispatch.Unit{
			Timestamp: smp.Timestamp,
			Analyze: func(ctx context.Context) (models.AnalysisRecord, error) {
				text, err := p.provider.AnalyzeFrame(ctx, smp.Image, prompts.Frame(smp.Timestamp))
				if err != nil {
					return models.AnalysisRecord{}, err
				}
				return normalize.Record(text, smp.Timestamp)
			},
		}
	}
	return units
}

// Process runs one queued job end to end: resolve the source video, analyze
// it, persist the result, and publish progress along the way. It is the
// asynq task handler body.
func (p *Pipeline) Process(ctx context.Context, job *models.JobPayload) error {
	started := time.Now()

	if err := p.store.UpdateJobStatus(ctx, job.JobID, models.JobStatusProcessing, ""); err != nil {
		return fmt.Errorf("failed to mark job processing: %w", err)
	}
	p.publish(ctx, job.JobID, models.JobStatusProcessing, 0, "Preparing video", 0, 0)

	videoPath, cleanup, err := p.prepareVideo(ctx, job)
	if err != nil {
		p.fail(ctx, job.JobID, fmt.Errorf("video preparation failed: %w", err))
		return err
	}
	defer cleanup()

	p.publish(ctx, job.JobID, models.JobStatusProcessing, 10, "Video ready, sampling frames", 0, 0)

	result, err := p.AnalyzeFile(ctx, videoPath, job.Config, func(done, total int) {
		if err := p.store.UpdateJobProgress(ctx, job.JobID, done, total); err != nil {
			p.logger.Warn("failed to record job progress", "job_id", job.JobID, "error", err)
		}
		pct := 10 + float64(done)/float64(total)*85
		p.publish(ctx, job.JobID, models.JobStatusProcessing, pct,
			fmt.Sprintf("Analyzed %d of %d frames", done, total), done, total)
	})
	if err != nil {
		// Records may still exist (fallbacks); keep them for inspection.
		if len(result.Records) > 0 {
			if saveErr := p.store.SaveResult(ctx, job.JobID, result); saveErr != nil {
				p.logger.Warn("failed to save partial result", "job_id", job.JobID, "error", saveErr)
			}
		}
		p.fail(ctx, job.JobID, err)
		return err
	}

	if err := p.store.SaveResult(ctx, job.JobID, result); err != nil {
		p.fail(ctx, job.JobID, fmt.Errorf("failed to save result: %w", err))
		return err
	}

	status := models.JobStatusCompleted
	if result.Status == models.StatusPartial {
		status = models.JobStatusPartial
	}
	if err := p.store.UpdateJobStatus(ctx, job.JobID, status, ""); err != nil {
		return fmt.Errorf("failed to mark job %s: %w", status, err)
	}
	p.publish(ctx, job.JobID, status, 100, "Analysis complete", result.Total, result.Total)

	p.logger.Info("job finished",
		"job_id", job.JobID,
		"status", status,
		"frames", result.Total,
		"elapsed", time.Since(started))
	return nil
}

// prepareVideo resolves the job's video onto local disk. Local paths are
// passed through; YouTube and plain HTTP URLs are downloaded.
func (p *Pipeline) prepareVideo(ctx context.Context, job *models.JobPayload) (string, func(), error) {
	noop := func() {}

	if strings.HasPrefix(job.VideoURL, "file://") {
		localPath := strings.TrimPrefix(job.VideoURL, "file://")
		if _, err := os.Stat(localPath); err != nil {
			return "", noop, fmt.Errorf("local file not found: %s", localPath)
		}
		// Uploaded files are owned by the job; remove after processing.
		return localPath, func() { os.Remove(localPath) }, nil
	}

	if job.VideoURL == "" {
		return "", noop, errors.New("job has no video source")
	}

	if source.IsYouTubeURL(job.VideoURL) {
		if p.youtube == nil {
			return "", noop, errors.New("YouTube downloads are not enabled")
		}
		path, err := p.youtube.Fetch(ctx, job.VideoURL, job.JobID)
		if err != nil {
			return "", noop, err
		}
		return path, func() { p.youtube.Cleanup(path) }, nil
	}

	if p.downloader == nil {
		return "", noop, errors.New("HTTP downloads are not enabled")
	}
	path, err := p.downloader.Fetch(ctx, job.VideoURL, job.JobID)
	if err != nil {
		return "", noop, err
	}
	return path, func() { p.downloader.Cleanup(path) }, nil
}

func (p *Pipeline) fail(ctx context.Context, jobID string, err error) {
	p.logger.Error("job failed", "job_id", jobID, "error", err)
	if updateErr := p.store.UpdateJobStatus(ctx, jobID, models.JobStatusFailed, err.Error()); updateErr != nil {
		p.logger.Warn("failed to mark job failed", "job_id", jobID, "error", updateErr)
	}
	p.publish(ctx, jobID, models.JobStatusFailed, 100, err.Error(), 0, 0)
}

func (p *Pipeline) publish(ctx context.Context, jobID, status string, pct float64, msg string, done, total int) {
	p.progress.Publish(ctx, progress.Update{
		JobID:   jobID,
		Status:  status,
		Percent: pct,
		Message: msg,
		Done:    done,
		Total:   total,
	})
}
