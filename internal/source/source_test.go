package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
)

func TestFetchWritesVideoToTemp(t *testing.T) {
	payload := []byte("fake mp4 bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		w.Write(payload)
	}))
	defer srv.Close()

	d := NewDownloader(t.TempDir())
	path, err := d.Fetch(context.Background(), srv.URL, "job_test")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	defer d.Cleanup(path)

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read downloaded file: %v", err)
	}
	if string(got) != string(payload) {
		t.Errorf("downloaded %q, want %q", got, payload)
	}
}

func TestFetchRejectsWrongContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html>not a video</html>"))
	}))
	defer srv.Close()

	d := NewDownloader(t.TempDir())
	_, err := d.Fetch(context.Background(), srv.URL, "job_test")
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("err = %v, want *ValidationError", err)
	}
}

func TestFetchDoesNotRetryClientErrors(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.NotFound(w, r)
	}))
	defer srv.Close()

	d := NewDownloader(t.TempDir())
	_, err := d.Fetch(context.Background(), srv.URL, "job_test")
	var hErr *HTTPError
	if !errors.As(err, &hErr) || hErr.StatusCode != 404 {
		t.Fatalf("err = %v, want 404 *HTTPError", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry on 4xx)", calls)
	}
}

func TestFetchRetriesServerErrors(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "video/mp4")
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	d := NewDownloader(t.TempDir())
	d.retryDelay = 0
	path, err := d.Fetch(context.Background(), srv.URL, "job_test")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	defer d.Cleanup(path)
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestCleanupRefusesOutsideTempDir(t *testing.T) {
	d := NewDownloader(t.TempDir())
	if err := d.Cleanup("/etc/passwd"); err == nil {
		t.Error("Cleanup accepted path outside temp dir")
	}
	if err := d.Cleanup(""); err != nil {
		t.Errorf("Cleanup(\"\") = %v, want nil", err)
	}
}

func TestIsYouTubeURL(t *testing.T) {
	cases := []struct {
		url  string
		want bool
	}{
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ", true},
		{"https://youtube.com/watch?v=abc123", true},
		{"https://youtu.be/dQw4w9WgXcQ", true},
		{"https://www.youtube.com/shorts/abc123", true},
		{"https://example.com/match.mp4", false},
		{"https://notyoutube.com/watch?v=abc", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := IsYouTubeURL(tc.url); got != tc.want {
			t.Errorf("IsYouTubeURL(%q) = %v, want %v", tc.url, got, tc.want)
		}
	}
}
