// Package classify maps raw provider failure signals to a closed set of
// error kinds plus an advisory retry delay. Classification is substring
// matching on provider error text, which is fragile by nature: it depends on
// upstream wording and should be replaced with structured error codes if the
// provider ever exposes them. Keeping it as one pure function makes the
// precedence rules independently testable.
package classify

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Kind is the failure class assigned to a provider error.
type Kind int

const (
	// Transient covers timeouts, transport failures and anything not matched
	// by a more specific class. Retried with exponential backoff.
	Transient Kind = iota
	// RateLimited is a temporary 429. Retried after the advisory delay.
	RateLimited
	// QuotaExhausted is a 429 carrying quota markers: the daily/plan limit is
	// gone and retrying is pointless. Soft-aborts the whole batch.
	QuotaExhausted
	// ServiceUnavailable is a 5xx or an overloaded-service message. Retried
	// with a capped backoff, then hard-fails the batch.
	ServiceUnavailable
	// ValidationFailure is assigned by the normalizer when a provider response
	// parses but lacks required structure. Retried like Transient.
	ValidationFailure
)

func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case RateLimited:
		return "rate_limited"
	case QuotaExhausted:
		return "quota_exhausted"
	case ServiceUnavailable:
		return "service_unavailable"
	case ValidationFailure:
		return "validation_failure"
	default:
		return "unknown"
	}
}

// DefaultRateLimitDelay is used when a 429 message carries no parseable
// retry hint.
const DefaultRateLimitDelay = 60 * time.Second

// MaxRateLimitDelay caps the advisory delay extracted from provider text.
const MaxRateLimitDelay = 120 * time.Second

var retryDelayPattern = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*s`)

// Classify assigns a failure class to a provider error signal. status is the
// HTTP status code, or 0 for transport-level failures. The returned delay is
// advisory and only meaningful for RateLimited.
//
// Precedence matters: quota messages also carry 429, and overload messages
// can mention limits, so the checks must run in this order. Note that an
// ambiguous 429 whose quota markers don't match exactly is classified as
// generic RateLimited; this can mask real quota exhaustion if the provider
// rewords its payloads.
func Classify(status int, message string) (Kind, time.Duration) {
	lower := strings.ToLower(message)

	// 1. Service unavailable / overloaded.
	if status >= 500 || strings.Contains(lower, "unavailable") || strings.Contains(lower, "overloaded") {
		return ServiceUnavailable, 0
	}

	// 2. Quota exhaustion: 429 with both a quota marker and a limit marker.
	if status == 429 {
		hasQuotaMarker := strings.Contains(lower, "quota") ||
			strings.Contains(lower, "free_tier") ||
			strings.Contains(message, "RESOURCE_EXHAUSTED")
		hasLimitMarker := strings.Contains(lower, "exceeded") || strings.Contains(lower, "limit")
		if hasQuotaMarker && hasLimitMarker {
			return QuotaExhausted, 0
		}

		// 3. Plain rate limit.
		return RateLimited, rateLimitDelay(message)
	}

	// 4. Everything else: timeouts, resets, malformed responses.
	return Transient, 0
}

// rateLimitDelay extracts the provider's retry hint from a 429 message.
// A "<N>s" pattern yields N+5 seconds (buffer for clock skew between us and
// the provider's window), clamped to [0, MaxRateLimitDelay].
func rateLimitDelay(message string) time.Duration {
	m := retryDelayPattern.FindStringSubmatch(message)
	if m == nil {
		return DefaultRateLimitDelay
	}
	secs, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return DefaultRateLimitDelay
	}
	d := time.Duration(secs+5) * time.Second
	if d < 0 {
		d = 0
	}
	if d > MaxRateLimitDelay {
		d = MaxRateLimitDelay
	}
	return d
}
