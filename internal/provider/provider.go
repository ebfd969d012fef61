// Package provider contains the vision model clients. Each provider takes a
// JPEG frame (or a whole video) plus an analysis prompt and returns the raw
// model text; parsing and repair live in the normalize package.
package provider

import (
	"context"
	"fmt"
)

// VisionProvider is implemented by every upstream model client.
type VisionProvider interface {
	// AnalyzeFrame submits one JPEG frame with the frame prompt and returns
	// the raw model text.
	AnalyzeFrame(ctx context.Context, image []byte, prompt string) (string, error)
	// Name identifies the provider in logs and stored results.
	Name() string
}

// VideoProvider is implemented by providers that accept a whole video in one
// multimodal request instead of per-frame images.
type VideoProvider interface {
	VisionProvider
	AnalyzeVideo(ctx context.Context, video []byte, prompt string) (string, error)
}

// APIError is a non-2xx response from an upstream provider. The dispatcher
// classifies these by status code and message to pick a retry strategy.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("provider returned status %d: %s", e.StatusCode, e.Message)
}
