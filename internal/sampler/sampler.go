// Package sampler walks a decoded video stream and emits evenly spaced JPEG
// samples for analysis. Decoding is behind the Decoder interface so the
// sampling arithmetic can be tested without ffmpeg.
package sampler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"math"
	"os"

	"golang.org/x/image/draw"

	"github.com/matchlens/analysis-worker/internal/models"
)

const (
	// MaxVideoBytes is the largest input file accepted for sampling.
	MaxVideoBytes = 100 << 20

	maxSampleHeight = 720
	jpegQuality     = 85
)

// ValidationError means the input itself is unusable: an empty or oversized
// file, invalid sampling parameters, or probed properties no video can have.
// Never retried.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid video input: %s", e.Reason)
}

// ExtractionError means the video was accepted but yielded no usable frames.
type ExtractionError struct {
	Reason string
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("frame extraction failed: %s", e.Reason)
}

// Properties describes a probed video.
type Properties struct {
	Duration float64
	FPS      float64
	Width    int
	Height   int
}

// Stream yields decoded frames in display order. Next returns io.EOF when
// the stream is exhausted.
type Stream interface {
	Next() (image.Image, error)
	Close() error
}

// Decoder probes and opens video files.
type Decoder interface {
	Probe(ctx context.Context, path string) (Properties, error)
	Open(ctx context.Context, path string) (Stream, error)
}

// Sampler extracts timestamped JPEG samples from video files.
type Sampler struct {
	dec Decoder
}

// New creates a Sampler on top of dec.
func New(dec Decoder) *Sampler {
	return &Sampler{dec: dec}
}

// Sample walks the video at path and returns one JPEG sample per interval,
// up to the configured maximum duration. Frames taller than 720 pixels are
// downscaled, preserving aspect ratio, before encoding.
func (s *Sampler) Sample(ctx context.Context, path string, cfg models.AnalysisConfig) ([]models.VideoSample, error) {
	if err := cfg.Validate(); err != nil {
		return nil, &ValidationError{Reason: err.Error()}
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat video file: %w", err)
	}
	if info.Size() == 0 {
		return nil, &ValidationError{Reason: "video file is empty"}
	}
	if info.Size() > MaxVideoBytes {
		return nil, &ValidationError{Reason: fmt.Sprintf("video file is %d bytes, limit is %d", info.Size(), MaxVideoBytes)}
	}

	props, err := s.dec.Probe(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to probe video: %w", err)
	}
	if props.Duration <= 0 {
		return nil, &ValidationError{Reason: "video has no duration"}
	}
	if props.FPS <= 0 {
		return nil, &ValidationError{Reason: "video has no frame rate"}
	}

	effective := props.Duration
	if cfg.MaxDuration < effective {
		effective = cfg.MaxDuration
	}
	stride := int(math.Round(props.FPS * cfg.FrameInterval))
	if stride < 1 {
		stride = 1
	}
	// Guard against frame-rate metadata that disagrees with the actual
	// stream: never emit more samples than the interval math allows for.
	maxSamples := int(math.Ceil(effective/cfg.FrameInterval)) + 1

	stream, err := s.dec.Open(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open video stream: %w", err)
	}
	defer stream.Close()

	var samples []models.VideoSample
	for n := 0; ; n++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to decode frame %d: %w", n, err)
		}

		ts := float64(n) / props.FPS
		if ts >= effective {
			break
		}
		if n%stride != 0 {
			continue
		}

		encoded, err := encodeSample(img)
		if err != nil {
			return nil, fmt.Errorf("failed to encode frame %d: %w", n, err)
		}
		samples = append(samples, models.VideoSample{Timestamp: ts, Image: encoded})
		if len(samples) >= maxSamples {
			break
		}
	}

	if len(samples) == 0 {
		return nil, &ExtractionError{Reason: "no frames could be sampled"}
	}
	return samples, nil
}

// encodeSample downscales the frame to at most 720p height and encodes it
// as JPEG.
func encodeSample(img image.Image) ([]byte, error) {
	b := img.Bounds()
	if b.Dy() > maxSampleHeight {
		w := int(math.Round(float64(b.Dx()) * maxSampleHeight / float64(b.Dy())))
		if w < 1 {
			w = 1
		}
		scaled := image.NewRGBA(image.Rect(0, 0, w, maxSampleHeight))
		draw.ApproxBiLinear.Scale(scaled, scaled.Bounds(), img, b, draw.Over, nil)
		img = scaled
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
