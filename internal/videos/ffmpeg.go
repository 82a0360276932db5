package videos

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// CommandRunner executes external commands and returns stdout bytes.
type CommandRunner func(ctx context.Context, binary string, args ...string) ([]byte, error)

// FFmpegTranscoder compresses videos by shelling out to ffmpeg. Every call
// works in its own temporary directory.
type FFmpegTranscoder struct {
	Binary  string
	Run     CommandRunner
	Timeout time.Duration
	TempDir string
}

// NewFFmpegTranscoder resolves the ffmpeg binary. It returns ErrTranscoderUnavailable
// when the binary cannot be found so callers can run without compression.
func NewFFmpegTranscoder(binary string, timeout time.Duration) (*FFmpegTranscoder, error) {
	resolved, err := lookupFFmpeg(binary)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &FFmpegTranscoder{
		Binary:  resolved,
		Run:     defaultCommandRunner,
		Timeout: timeout,
	}, nil
}

// Transcode re-encodes req.Input with the requested codec and quality profile.
func (t *FFmpegTranscoder) Transcode(ctx context.Context, req TranscodeRequest) ([]byte, error) {
	if t == nil {
		return nil, ErrTranscoderUnavailable
	}
	if t.Run == nil {
		t.Run = defaultCommandRunner
	}

	dir, input, err := stageInput(t.TempDir, "starryvlog-transcode-*", req.Input)
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	output := filepath.Join(dir, "output.mp4")

	execCtx, cancel := context.WithTimeout(ctx, t.Timeout)
	defer cancel()

	if _, err := t.Run(execCtx, t.Binary, transcodeArgs(input, output, req)...); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, fmt.Errorf("%w: %v", ErrTranscoderUnavailable, err)
		}
		return nil, fmt.Errorf("ffmpeg transcode: %w", err)
	}

	out, err := os.ReadFile(output)
	if err != nil {
		return nil, fmt.Errorf("read transcoded output: %w", err)
	}
	if len(out) == 0 {
		return nil, errors.New("ffmpeg produced empty output")
	}
	return out, nil
}

func transcodeArgs(input, output string, req TranscodeRequest) []string {
	codec := req.Codec
	if strings.TrimSpace(codec) == "" {
		codec = CodecH264
	}
	preset := req.Preset
	if strings.TrimSpace(preset) == "" {
		preset = DefaultProfile.Preset
	}

	args := []string{
		"-y",
		"-i", input,
		"-vcodec", codec,
		"-crf", strconv.Itoa(req.CRF),
		"-preset", preset,
	}
	if req.MaxWidth > 0 && req.MaxHeight > 0 {
		args = append(args, "-vf", fmt.Sprintf(
			"scale=w='min(%d,iw)':h='min(%d,ih)':force_original_aspect_ratio=decrease:force_divisible_by=2",
			req.MaxWidth, req.MaxHeight,
		))
	}
	return append(args, "-movflags", "+faststart", output)
}

func lookupFFmpeg(binary string) (string, error) {
	if strings.TrimSpace(binary) == "" {
		binary = "ffmpeg"
	}
	resolved, err := exec.LookPath(binary)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTranscoderUnavailable, err)
	}
	return resolved, nil
}

// stageInput writes data into a fresh temporary directory and returns the
// directory and the input file path. The caller removes the directory.
func stageInput(base, pattern string, data []byte) (string, string, error) {
	dir, err := os.MkdirTemp(base, pattern)
	if err != nil {
		return "", "", fmt.Errorf("create temp dir: %w", err)
	}
	input := filepath.Join(dir, "input")
	if err := os.WriteFile(input, data, 0o600); err != nil {
		os.RemoveAll(dir)
		return "", "", fmt.Errorf("write temp input: %w", err)
	}
	return dir, input, nil
}

func defaultCommandRunner(ctx context.Context, binary string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, binary, args...)
	return cmd.Output()
}
