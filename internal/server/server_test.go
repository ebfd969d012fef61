package server

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/matchlens/analysis-worker/internal/dispatch"
	"github.com/matchlens/analysis-worker/internal/models"
	"github.com/matchlens/analysis-worker/internal/processor"
	"github.com/matchlens/analysis-worker/internal/provider"
	"github.com/matchlens/analysis-worker/internal/sampler"
	"github.com/matchlens/analysis-worker/internal/storage"
)

type stubDecoder struct {
	props  sampler.Properties
	frames int
}

func (d *stubDecoder) Probe(ctx context.Context, path string) (sampler.Properties, error) {
	return d.props, nil
}

func (d *stubDecoder) Open(ctx context.Context, path string) (sampler.Stream, error) {
	return &stubStream{remaining: d.frames}, nil
}

type stubStream struct {
	remaining int
}

func (s *stubStream) Next() (image.Image, error) {
	if s.remaining == 0 {
		return nil, io.EOF
	}
	s.remaining--
	return image.NewRGBA(image.Rect(0, 0, 16, 12)), nil
}

func (s *stubStream) Close() error { return nil }

type stubProvider struct {
	err error // returned instead of the canned record when set
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) AnalyzeFrame(ctx context.Context, img []byte, prompt string) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	return `{"players": [{"id": "p1", "team": "A", "coordinates": [0.5, 0.5]}], "ball": {"visible": false}, "event": "pass"}`, nil
}

func newTestServer(t *testing.T) (*Server, storage.Store) {
	t.Helper()
	return newTestServerWithProvider(t, &stubProvider{})
}

func newTestServerWithProvider(t *testing.T, prov *stubProvider) (*Server, storage.Store) {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	pipeline := processor.New(processor.Options{
		Sampler:    sampler.New(&stubDecoder{props: sampler.Properties{Duration: 10, FPS: 30}, frames: 300}),
		Provider:   prov,
		Dispatcher: dispatch.New(dispatch.Options{Concurrency: 4, MinInterval: -1, MaxAttempts: 1}),
		Store:      store,
	})
	return New(Options{
		Pipeline: pipeline,
		Store:    store,
		TempDir:  t.TempDir(),
	}), store
}

func multipartVideo(t *testing.T, field, filename string, body []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	part, err := w.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	part.Write(body)
	for k, v := range fields {
		w.WriteField(k, v)
	}
	w.Close()
	return buf, w.FormDataContentType()
}

func doRequest(t *testing.T, srv *Server, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	srv.Register(e)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := doRequest(t, srv, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestAnalyzeSingleVideo(t *testing.T) {
	srv, _ := newTestServer(t)
	body, ctype := multipartVideo(t, "videos", "match.mp4", []byte("mp4"), map[string]string{
		"frame_interval": "2",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/analyze", body)
	req.Header.Set(echo.HeaderContentType, ctype)
	rec := doRequest(t, srv, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp models.AnalysisResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Status != models.StatusCompleted {
		t.Errorf("status = %q, want completed", resp.Status)
	}
	// 10s at 2s intervals: samples at 0, 2, 4, 6, 8.
	if resp.TotalFrames != 5 || len(resp.Frames) != 5 {
		t.Errorf("total = %d frames = %d, want 5/5", resp.TotalFrames, len(resp.Frames))
	}
}

func TestAnalyzeCombinesVideosIntoOneBatch(t *testing.T) {
	srv, _ := newTestServer(t)

	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	for _, name := range []string{"first.mp4", "second.mp4"} {
		part, err := w.CreateFormFile("videos", name)
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		part.Write([]byte("mp4"))
	}
	w.WriteField("frame_interval", "2")
	w.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/analyze", buf)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	rec := doRequest(t, srv, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp models.AnalysisResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	// Both videos' frames flatten into a single response: 5 samples each.
	if resp.TotalFrames != 10 || len(resp.Frames) != 10 {
		t.Errorf("total = %d frames = %d, want 10/10", resp.TotalFrames, len(resp.Frames))
	}
	if resp.Status != models.StatusCompleted {
		t.Errorf("status = %q, want completed", resp.Status)
	}
}

func TestAnalyzeQuotaExhaustionReturnsPartial(t *testing.T) {
	srv, _ := newTestServerWithProvider(t, &stubProvider{
		err: &provider.APIError{StatusCode: 429, Message: "quota exceeded for free_tier limit"},
	})
	body, ctype := multipartVideo(t, "videos", "match.mp4", []byte("mp4"), map[string]string{
		"frame_interval": "2",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/analyze", body)
	req.Header.Set(echo.HeaderContentType, ctype)
	rec := doRequest(t, srv, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp models.AnalysisResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Status != models.StatusPartial {
		t.Errorf("status = %q, want partial", resp.Status)
	}
	if resp.TotalFrames != 5 {
		t.Errorf("total = %d, want 5 (every unit settles as a fallback)", resp.TotalFrames)
	}
}

func TestAnalyzeServiceUnavailableMapsTo503(t *testing.T) {
	srv, _ := newTestServerWithProvider(t, &stubProvider{
		err: &provider.APIError{StatusCode: 503, Message: "The model is overloaded"},
	})
	body, ctype := multipartVideo(t, "videos", "match.mp4", []byte("mp4"), nil)
	req := httptest.NewRequest(http.MethodPost, "/api/analyze", body)
	req.Header.Set(echo.HeaderContentType, ctype)
	rec := doRequest(t, srv, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503, body = %s", rec.Code, rec.Body.String())
	}
}

func TestAnalyzeNoVideos(t *testing.T) {
	srv, _ := newTestServer(t)
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	w.WriteField("frame_interval", "2")
	w.Close()
	req := httptest.NewRequest(http.MethodPost, "/api/analyze", buf)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	rec := doRequest(t, srv, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestAnalyzeTooManyVideos(t *testing.T) {
	srv, _ := newTestServer(t)
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	for i := 0; i <= MaxVideosPerRequest; i++ {
		part, _ := w.CreateFormFile("videos", "v.mp4")
		part.Write([]byte("mp4"))
	}
	w.Close()
	req := httptest.NewRequest(http.MethodPost, "/api/analyze", buf)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	rec := doRequest(t, srv, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "too many videos") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestAnalyzeInvalidInterval(t *testing.T) {
	srv, _ := newTestServer(t)
	body, ctype := multipartVideo(t, "videos", "match.mp4", []byte("mp4"), map[string]string{
		"frame_interval": "abc",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/analyze", body)
	req.Header.Set(echo.HeaderContentType, ctype)
	rec := doRequest(t, srv, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestCreateJobWithoutQueue(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/jobs", strings.NewReader(`{"video_url": "https://example.com/v.mp4"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := doRequest(t, srv, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestGetJobNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/jobs/job_missing", nil)
	rec := doRequest(t, srv, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestGetJobWithResult(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()

	job := &models.Job{
		JobID:     "job_done",
		Status:    models.JobStatusPending,
		CreatedAt: time.Now(),
	}
	if err := store.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if err := store.UpdateJobStatus(ctx, "job_done", models.JobStatusCompleted, ""); err != nil {
		t.Fatalf("UpdateJobStatus: %v", err)
	}
	result := models.BatchResult{
		Records: []models.AnalysisRecord{models.FallbackRecord(1.5, "note")},
		Total:   1,
		Status:  models.JobStatusCompleted,
	}
	if err := store.SaveResult(ctx, "job_done", result); err != nil {
		t.Fatalf("SaveResult: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/job_done", nil)
	rec := doRequest(t, srv, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Job         models.Job            `json:"job"`
		Frames      []models.FrameSummary `json:"frames"`
		TotalFrames int                   `json:"total_frames"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Job.Status != models.JobStatusCompleted {
		t.Errorf("job status = %q", resp.Job.Status)
	}
	if resp.TotalFrames != 1 || len(resp.Frames) != 1 {
		t.Errorf("total = %d frames = %d, want 1/1", resp.TotalFrames, len(resp.Frames))
	}
	if resp.Frames[0].Timestamp != 1.5 {
		t.Errorf("timestamp = %v", resp.Frames[0].Timestamp)
	}
}
