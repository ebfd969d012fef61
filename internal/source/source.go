// Package source fetches input videos onto local disk: direct HTTP downloads
// and YouTube URLs. Uploaded files are written by the API layer and bypass
// this package.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// MaxDownloadBytes caps fetched video size, matching the sampler's input
// limit.
const MaxDownloadBytes = 100 << 20

// HTTPError is a non-2xx response while fetching a video.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return e.Message
}

// ValidationError rejects a download before or during transfer (wrong
// content type, oversize payload). Validation errors are never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Downloader fetches videos over HTTP with bounded retries.
type Downloader struct {
	client     *http.Client
	maxRetries int
	retryDelay time.Duration
	tempDir    string
}

// NewDownloader creates a Downloader writing into tempDir.
func NewDownloader(tempDir string) *Downloader {
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &Downloader{
		client: &http.Client{
			Timeout: 5 * time.Minute,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		},
		maxRetries: 3,
		retryDelay: 2 * time.Second,
		tempDir:    tempDir,
	}
}

// Fetch downloads the video at url to a temp file and returns its path. The
// caller owns the file and should remove it when done.
func (d *Downloader) Fetch(ctx context.Context, url, jobID string) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= d.maxRetries; attempt++ {
		path, err := d.fetchOnce(ctx, url, jobID)
		if err == nil {
			return path, nil
		}
		lastErr = err

		var vErr *ValidationError
		if errors.As(err, &vErr) {
			return "", err
		}
		var hErr *HTTPError
		if errors.As(err, &hErr) && hErr.StatusCode < 500 {
			return "", err
		}

		if attempt < d.maxRetries {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(d.retryDelay * time.Duration(attempt)):
			}
		}
	}
	return "", fmt.Errorf("download failed after %d attempts: %w", d.maxRetries, lastErr)
}

func (d *Downloader) fetchOnce(ctx context.Context, url, jobID string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "matchlens-worker/1.0")

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &HTTPError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("HTTP %d fetching video: %s", resp.StatusCode, resp.Status),
		}
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType != "" && !strings.HasPrefix(contentType, "video/") &&
		contentType != "application/octet-stream" {
		return "", &ValidationError{
			Field:   "Content-Type",
			Message: fmt.Sprintf("unsupported content type %q, expected video/*", contentType),
		}
	}
	if resp.ContentLength > MaxDownloadBytes {
		return "", &ValidationError{
			Field:   "Content-Length",
			Message: fmt.Sprintf("file is %d bytes, limit is %d", resp.ContentLength, MaxDownloadBytes),
		}
	}

	return d.writeTemp(jobID, resp.Body)
}

// writeTemp streams body into a temp file, enforcing the size cap as the
// bytes arrive since Content-Length is not always present.
func (d *Downloader) writeTemp(jobID string, body io.Reader) (string, error) {
	if err := os.MkdirAll(d.tempDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create temp directory: %w", err)
	}
	f, err := os.CreateTemp(d.tempDir, fmt.Sprintf("matchlens-%s-*.mp4", jobID))
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}

	written, err := io.Copy(f, io.LimitReader(body, MaxDownloadBytes+1))
	if err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("download interrupted: %w", err)
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

// Cleanup removes a previously fetched file. Paths outside the temp
// directory are refused.
func (d *Downloader) Cleanup(path string) error {
	if path == "" {
		return nil
	}
	if !strings.HasPrefix(filepath.Clean(path), filepath.Clean(d.tempDir)) {
		return fmt.Errorf("refusing to delete file outside temp directory: %s", path)
	}
	return os.Remove(path)
}
