package videos

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"os"
	"path/filepath"
	"time"
)

// ThumbnailExtractor derives a still preview image from video bytes.
type ThumbnailExtractor interface {
	Extract(ctx context.Context, data []byte, seek time.Duration) ([]byte, error)
}

// FFmpegThumbnailer grabs a single JPEG frame at a fixed offset using ffmpeg.
type FFmpegThumbnailer struct {
	Binary  string
	Run     CommandRunner
	Timeout time.Duration
	TempDir string
}

// NewFFmpegThumbnailer resolves the ffmpeg binary used for frame grabs.
func NewFFmpegThumbnailer(binary string, timeout time.Duration) (*FFmpegThumbnailer, error) {
	resolved, err := lookupFFmpeg(binary)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &FFmpegThumbnailer{Binary: resolved, Run: defaultCommandRunner, Timeout: timeout}, nil
}

// Extract returns JPEG bytes for the frame at seek. Seeking past the end of
// the clip yields ErrThumbnailExtraction.
func (t *FFmpegThumbnailer) Extract(ctx context.Context, data []byte, seek time.Duration) ([]byte, error) {
	if t == nil {
		return nil, fmt.Errorf("%w: no extractor configured", ErrThumbnailExtraction)
	}
	if t.Run == nil {
		t.Run = defaultCommandRunner
	}

	dir, input, err := stageInput(t.TempDir, "starryvlog-thumb-*", data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrThumbnailExtraction, err)
	}
	defer os.RemoveAll(dir)

	output := filepath.Join(dir, "thumbnail.jpg")

	execCtx, cancel := context.WithTimeout(ctx, t.Timeout)
	defer cancel()

	args := []string{
		"-y",
		"-ss", fmt.Sprintf("%.3f", seek.Seconds()),
		"-i", input,
		"-frames:v", "1",
		"-f", "image2",
		"-vcodec", "mjpeg",
		"-q:v", "2",
		output,
	}
	if _, err := t.Run(execCtx, t.Binary, args...); err != nil {
		return nil, fmt.Errorf("%w: ffmpeg: %v", ErrThumbnailExtraction, err)
	}

	frame, err := os.ReadFile(output)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: no frame at %v", ErrThumbnailExtraction, seek)
		}
		return nil, fmt.Errorf("%w: %v", ErrThumbnailExtraction, err)
	}
	if len(frame) == 0 {
		return nil, fmt.Errorf("%w: no frame at %v", ErrThumbnailExtraction, seek)
	}
	if _, err := jpeg.DecodeConfig(bytes.NewReader(frame)); err != nil {
		return nil, fmt.Errorf("%w: decode frame: %v", ErrThumbnailExtraction, err)
	}

	return frame, nil
}
