package sampler

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os/exec"
	"strconv"
	"strings"
)

// FFmpegDecoder probes videos with ffprobe and decodes frames by streaming
// MJPEG from ffmpeg over a pipe.
type FFmpegDecoder struct {
	ffmpegPath  string
	ffprobePath string
}

// NewFFmpegDecoder verifies the ffmpeg installation and returns a decoder.
func NewFFmpegDecoder() (*FFmpegDecoder, error) {
	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}
	ffprobePath, err := exec.LookPath("ffprobe")
	if err != nil {
		return nil, fmt.Errorf("ffprobe not found in PATH: %w", err)
	}
	return &FFmpegDecoder{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath}, nil
}

// Probe reads stream properties via ffprobe.
func (d *FFmpegDecoder) Probe(ctx context.Context, path string) (Properties, error) {
	cmd := exec.CommandContext(ctx, d.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	output, err := cmd.Output()
	if err != nil {
		return Properties{}, fmt.Errorf("ffprobe failed: %w", err)
	}

	var probed struct {
		Streams []struct {
			CodecType  string `json:"codec_type"`
			Width      int    `json:"width"`
			Height     int    `json:"height"`
			RFrameRate string `json:"r_frame_rate"`
			Duration   string `json:"duration"`
		} `json:"streams"`
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}
	if err := json.Unmarshal(output, &probed); err != nil {
		return Properties{}, fmt.Errorf("failed to parse ffprobe JSON: %w", err)
	}

	var props Properties
	if probed.Format.Duration != "" {
		if dur, err := strconv.ParseFloat(probed.Format.Duration, 64); err == nil {
			props.Duration = dur
		}
	}
	for _, stream := range probed.Streams {
		if stream.CodecType != "video" {
			continue
		}
		props.Width = stream.Width
		props.Height = stream.Height
		props.FPS = parseFrameRate(stream.RFrameRate)
		if props.Duration == 0 && stream.Duration != "" {
			if dur, err := strconv.ParseFloat(stream.Duration, 64); err == nil {
				props.Duration = dur
			}
		}
		break
	}
	return props, nil
}

// parseFrameRate parses ffprobe rational rates like "30/1" or "30000/1001".
func parseFrameRate(rate string) float64 {
	parts := strings.Split(rate, "/")
	if len(parts) != 2 {
		return 0
	}
	num, err1 := strconv.ParseFloat(parts[0], 64)
	den, err2 := strconv.ParseFloat(parts[1], 64)
	if err1 != nil || err2 != nil || den <= 0 {
		return 0
	}
	return num / den
}

// Open starts an ffmpeg process decoding the file to an MJPEG pipe.
func (d *FFmpegDecoder) Open(ctx context.Context, path string) (Stream, error) {
	cmd := exec.CommandContext(ctx, d.ffmpegPath,
		"-i", path,
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "2",
		"-",
	)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open ffmpeg stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}
	return &ffmpegStream{
		cmd:    cmd,
		reader: bufio.NewReaderSize(stdout, 1<<20),
	}, nil
}

type ffmpegStream struct {
	cmd    *exec.Cmd
	reader *bufio.Reader
}

// Next decodes the next JPEG image from the pipe. MJPEG output is a plain
// concatenation of JPEG files, so sequential decodes walk the stream.
func (s *ffmpegStream) Next() (image.Image, error) {
	if _, err := s.reader.Peek(2); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("failed to read frame header: %w", err)
	}
	img, err := jpeg.Decode(s.reader)
	if err != nil {
		return nil, fmt.Errorf("failed to decode mjpeg frame: %w", err)
	}
	return img, nil
}

func (s *ffmpegStream) Close() error {
	if s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}
	s.cmd.Wait()
	return nil
}
