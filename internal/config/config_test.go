package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Provider != "gemini" {
		t.Errorf("Provider = %q, want gemini", cfg.Provider)
	}
	if cfg.DispatchConcurrency != 10 {
		t.Errorf("DispatchConcurrency = %d, want 10", cfg.DispatchConcurrency)
	}
	if cfg.DispatchInterval != 4*time.Second {
		t.Errorf("DispatchInterval = %v, want 4s", cfg.DispatchInterval)
	}
	if cfg.ResultRetention != time.Hour {
		t.Errorf("ResultRetention = %v, want 1h", cfg.ResultRetention)
	}
	if cfg.StorageBackend != "sqlite" {
		t.Errorf("StorageBackend = %q, want sqlite", cfg.StorageBackend)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("VISION_PROVIDER", "openrouter")
	t.Setenv("OPENROUTER_API_KEY", "rk-test")
	t.Setenv("DISPATCH_CONCURRENCY", "3")
	t.Setenv("DISPATCH_INTERVAL", "500ms")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Provider != "openrouter" || cfg.OpenRouterAPIKey != "rk-test" {
		t.Errorf("provider config = %q/%q", cfg.Provider, cfg.OpenRouterAPIKey)
	}
	if cfg.DispatchConcurrency != 3 {
		t.Errorf("DispatchConcurrency = %d, want 3", cfg.DispatchConcurrency)
	}
	if cfg.DispatchInterval != 500*time.Millisecond {
		t.Errorf("DispatchInterval = %v, want 500ms", cfg.DispatchInterval)
	}
}

func TestLoadValidation(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{"missing gemini key", map[string]string{"VISION_PROVIDER": "gemini"}},
		{"missing openrouter key", map[string]string{"VISION_PROVIDER": "openrouter"}},
		{"unknown provider", map[string]string{"VISION_PROVIDER": "mystery", "GEMINI_API_KEY": "k"}},
		{"postgres without url", map[string]string{"GEMINI_API_KEY": "k", "STORAGE_BACKEND": "postgres"}},
		{"unknown backend", map[string]string{"GEMINI_API_KEY": "k", "STORAGE_BACKEND": "mongo"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			// Shield the test from keys present in the developer's shell.
			t.Setenv("GEMINI_API_KEY", "")
			t.Setenv("OPENROUTER_API_KEY", "")
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Error("Load accepted invalid configuration")
			}
		})
	}
}
