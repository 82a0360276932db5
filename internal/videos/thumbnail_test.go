package videos

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"testing"
	"time"
)

func sampleJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

func TestFFmpegThumbnailerExtract(t *testing.T) {
	frame := sampleJPEG(t)
	var seekArg string
	thumbnailer := &FFmpegThumbnailer{
		Binary:  "ffmpeg",
		Timeout: time.Second,
		TempDir: t.TempDir(),
		Run: func(ctx context.Context, binary string, args ...string) ([]byte, error) {
			for i, arg := range args {
				if arg == "-ss" {
					seekArg = args[i+1]
				}
			}
			return nil, os.WriteFile(args[len(args)-1], frame, 0o600)
		},
	}

	out, err := thumbnailer.Extract(context.Background(), []byte("video"), time.Second)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if !bytes.Equal(out, frame) {
		t.Fatalf("unexpected frame bytes")
	}
	if seekArg != "1.000" {
		t.Fatalf("expected seek 1.000 got %q", seekArg)
	}
}

func TestFFmpegThumbnailerNoFrame(t *testing.T) {
	thumbnailer := &FFmpegThumbnailer{
		Binary:  "ffmpeg",
		Timeout: time.Second,
		TempDir: t.TempDir(),
		Run: func(ctx context.Context, binary string, args ...string) ([]byte, error) {
			// Seeking past the end: ffmpeg exits cleanly without writing a frame.
			return nil, nil
		},
	}

	_, err := thumbnailer.Extract(context.Background(), []byte("video"), time.Hour)
	if !errors.Is(err, ErrThumbnailExtraction) {
		t.Fatalf("expected thumbnail extraction error got %v", err)
	}
}

func TestFFmpegThumbnailerRejectsUndecodableFrame(t *testing.T) {
	thumbnailer := &FFmpegThumbnailer{
		Binary:  "ffmpeg",
		Timeout: time.Second,
		TempDir: t.TempDir(),
		Run: func(ctx context.Context, binary string, args ...string) ([]byte, error) {
			return nil, os.WriteFile(args[len(args)-1], []byte("not a jpeg"), 0o600)
		},
	}

	_, err := thumbnailer.Extract(context.Background(), []byte("video"), time.Second)
	if !errors.Is(err, ErrThumbnailExtraction) {
		t.Fatalf("expected thumbnail extraction error got %v", err)
	}
}
