package source

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/kkdai/youtube/v2"
)

var youtubeURLPattern = regexp.MustCompile(`(?i)^https?://(www\.)?(youtube\.com/(watch\?|shorts/)|youtu\.be/)`)

// IsYouTubeURL reports whether url points at a YouTube video.
func IsYouTubeURL(url string) bool {
	return youtubeURLPattern.MatchString(url)
}

// YouTubeDownloader fetches YouTube videos as MP4 files.
type YouTubeDownloader struct {
	client  youtube.Client
	tempDir string
}

// NewYouTubeDownloader creates a downloader writing into tempDir.
func NewYouTubeDownloader(tempDir string) *YouTubeDownloader {
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &YouTubeDownloader{tempDir: tempDir}
}

// Fetch downloads the video at url to a temp file and returns its path. The
// smallest muxed MP4 format is preferred: analysis samples frames at 720p or
// below, so high bitrates only cost transfer time.
func (y *YouTubeDownloader) Fetch(ctx context.Context, url, jobID string) (string, error) {
	video, err := y.client.GetVideoContext(ctx, url)
	if err != nil {
		return "", fmt.Errorf("failed to resolve YouTube video: %w", err)
	}

	format := pickFormat(video.Formats)
	if format == nil {
		return "", fmt.Errorf("no downloadable mp4 format for video %s", video.ID)
	}

	stream, size, err := y.client.GetStreamContext(ctx, video, format)
	if err != nil {
		return "", fmt.Errorf("failed to open YouTube stream: %w", err)
	}
	defer stream.Close()

	if size > MaxDownloadBytes {
		return "", &ValidationError{
			Field:   "file_size",
			Message: fmt.Sprintf("video is %d bytes, limit is %d", size, MaxDownloadBytes),
		}
	}

	if err := os.MkdirAll(y.tempDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create temp directory: %w", err)
	}
	f, err := os.CreateTemp(y.tempDir, fmt.Sprintf("matchlens-%s-*.mp4", jobID))
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}

	written, err := io.Copy(f, io.LimitReader(stream, MaxDownloadBytes+1))
	if err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("YouTube download interrupted: %w", err)
	}
	if written > MaxDownloadBytes {
		f.Close()
		os.Remove(f.Name())
		return "", &ValidationError{
			Field:   "file_size",
			Message: fmt.Sprintf("payload exceeded the %d byte limit", int64(MaxDownloadBytes)),
		}
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}
	return f.Name(), nil
}

// pickFormat chooses the lowest-quality muxed MP4 stream, falling back to
// video-only when no muxed format exists.
func pickFormat(formats youtube.FormatList) *youtube.Format {
	muxed := formats.Type("video/mp4").WithAudioChannels()
	candidates := muxed
	if len(candidates) == 0 {
		candidates = formats.Type("video/mp4")
	}
	if len(candidates) == 0 {
		return nil
	}

	best := &candidates[0]
	for i := range candidates {
		f := &candidates[i]
		if f.Height > 0 && (best.Height == 0 || f.Height < best.Height) {
			best = f
		}
	}
	return best
}

// Cleanup removes a previously fetched file.
func (y *YouTubeDownloader) Cleanup(path string) error {
	if path == "" {
		return nil
	}
	if !strings.HasPrefix(filepath.Clean(path), filepath.Clean(y.tempDir)) {
		return fmt.Errorf("refusing to delete file outside temp directory: %s", path)
	}
	return os.Remove(path)
}
