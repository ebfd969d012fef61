package classify

import (
	"testing"
	"time"
)

func TestClassifyPrecedence(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		message string
		want    Kind
	}{
		{"server error", 500, "internal error", ServiceUnavailable},
		{"bad gateway", 502, "bad gateway", ServiceUnavailable},
		{"unavailable marker without status", 0, "the model is UNAVAILABLE right now", ServiceUnavailable},
		{"overloaded marker", 429, "model overloaded, slow down", ServiceUnavailable},
		{"quota with limit", 429, "quota exceeded for today", QuotaExhausted},
		{"free tier quota", 429, "free_tier daily limit reached", QuotaExhausted},
		{"resource exhausted", 429, "RESOURCE_EXHAUSTED: request limit", QuotaExhausted},
		{"quota marker without limit marker", 429, "quota check in progress", RateLimited},
		{"plain rate limit", 429, "too many requests, retry in 10s", RateLimited},
		{"timeout", 0, "context deadline exceeded", Transient},
		{"client error", 400, "invalid request", Transient},
		{"connection refused", 0, "dial tcp: connection refused", Transient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, _ := Classify(tt.status, tt.message)
			if kind != tt.want {
				t.Errorf("Classify(%d, %q) = %v, want %v", tt.status, tt.message, kind, tt.want)
			}
		})
	}
}

func TestRateLimitAdvisoryDelay(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    time.Duration
	}{
		{"explicit hint", "retry after 10s", 15 * time.Second},
		{"fractional hint", "please wait 2.5s", 7 * time.Second},
		{"clamped to max", "retry in 300s", 120 * time.Second},
		{"no hint", "too many requests", 60 * time.Second},
		{"garbage number section", "retry soonish", 60 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, delay := Classify(429, tt.message)
			if kind != RateLimited {
				t.Fatalf("expected RateLimited, got %v", kind)
			}
			if delay != tt.want {
				t.Errorf("delay = %v, want %v", delay, tt.want)
			}
		})
	}
}

func TestKindString(t *testing.T) {
	if got := QuotaExhausted.String(); got != "quota_exhausted" {
		t.Errorf("QuotaExhausted.String() = %q", got)
	}
	if got := Kind(99).String(); got != "unknown" {
		t.Errorf("Kind(99).String() = %q", got)
	}
}
