package videos

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/starryvlog/backend/internal/logging"
	"github.com/starryvlog/backend/internal/metrics"
)

// CodecH264 is the only codec the policy asks for.
const CodecH264 = "libx264"

// Outcome describes what the compression policy did with a file.
type Outcome string

const (
	OutcomePassthrough Outcome = "passthrough"
	OutcomeCompressed  Outcome = "compressed"
	// OutcomeDegraded means compression was wanted but no transcoder was usable,
	// so the original bytes are uploaded.
	OutcomeDegraded Outcome = "degraded"
)

// TranscodeRequest is the input handed to a Transcoder.
type TranscodeRequest struct {
	Input     []byte
	Codec     string
	CRF       int
	Preset    string
	MaxWidth  int
	MaxHeight int
}

// Transcoder compresses raw video bytes. Implementations keep no state between calls.
type Transcoder interface {
	Transcode(ctx context.Context, req TranscodeRequest) ([]byte, error)
}

// Profile holds the quality and resolution caps used when compressing.
type Profile struct {
	CRF       int
	Preset    string
	MaxWidth  int
	MaxHeight int
}

// DefaultProfile matches the settings the upload form has always used.
var DefaultProfile = Profile{CRF: 28, Preset: "fast", MaxWidth: 1280, MaxHeight: 720}

// CompressionResult carries the bytes to upload and how they were produced.
type CompressionResult struct {
	Data    []byte
	Outcome Outcome
}

// CompressionPolicy decides whether a file is compressed before upload.
type CompressionPolicy struct {
	// Transcoder may be nil when no encoder is installed.
	Transcoder Transcoder
	Threshold  int64
	// Ceiling defaults to Threshold when zero.
	Ceiling int64
	Profile Profile
}

// Process returns data unchanged when it is at or below the threshold and
// otherwise attempts compression.
func (p CompressionPolicy) Process(ctx context.Context, data []byte) (CompressionResult, error) {
	logger := logging.FromContext(ctx)
	size := int64(len(data))

	if size <= p.Threshold {
		metrics.CompressionOutcomes.WithLabelValues(string(OutcomePassthrough)).Inc()
		return CompressionResult{Data: data, Outcome: OutcomePassthrough}, nil
	}

	if p.Transcoder == nil {
		return p.degrade(logger, data, ErrTranscoderUnavailable), nil
	}

	profile := p.Profile
	if profile.CRF == 0 && profile.Preset == "" {
		profile = DefaultProfile
	}

	out, err := p.Transcoder.Transcode(ctx, TranscodeRequest{
		Input:     data,
		Codec:     CodecH264,
		CRF:       profile.CRF,
		Preset:    profile.Preset,
		MaxWidth:  profile.MaxWidth,
		MaxHeight: profile.MaxHeight,
	})
	if err != nil {
		if errors.Is(err, ErrTranscoderUnavailable) {
			return p.degrade(logger, data, err), nil
		}
		metrics.CompressionOutcomes.WithLabelValues("failed").Inc()
		return CompressionResult{}, fmt.Errorf("%w: %v", ErrCompressionFailed, err)
	}

	ceiling := p.Ceiling
	if ceiling <= 0 {
		ceiling = p.Threshold
	}
	if int64(len(out)) > ceiling {
		metrics.CompressionOutcomes.WithLabelValues("insufficient").Inc()
		logger.Warn("compressed video still too large", "inputBytes", size, "outputBytes", len(out), "ceilingBytes", ceiling)
		return CompressionResult{}, fmt.Errorf("%w: %d bytes > %d", ErrCompressionInsufficient, len(out), ceiling)
	}

	metrics.CompressionOutcomes.WithLabelValues(string(OutcomeCompressed)).Inc()
	logger.Info("video compressed", "inputBytes", size, "outputBytes", len(out))
	return CompressionResult{Data: out, Outcome: OutcomeCompressed}, nil
}

func (p CompressionPolicy) degrade(logger *slog.Logger, data []byte, cause error) CompressionResult {
	metrics.CompressionOutcomes.WithLabelValues(string(OutcomeDegraded)).Inc()
	logger.Warn("transcoder unavailable, uploading original file", "bytes", len(data), "thresholdBytes", p.Threshold, "error", cause)
	return CompressionResult{Data: data, Outcome: OutcomeDegraded}
}
