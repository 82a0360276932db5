package videos

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/starryvlog/backend/internal/metrics"
)

// BreakerSettings tunes the transcoder circuit breaker.
type BreakerSettings struct {
	// ConsecutiveFailures opens the circuit once reached.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the circuit stays open before probing again.
	OpenTimeout time.Duration
}

// BreakerTranscoder guards a Transcoder with a circuit breaker. While the
// circuit is open calls fail fast with ErrTranscoderUnavailable, which the
// compression policy treats as a degrade to passthrough.
type BreakerTranscoder struct {
	base Transcoder
	cb   *gobreaker.CircuitBreaker[[]byte]
}

// NewBreakerTranscoder wraps base with a circuit breaker.
func NewBreakerTranscoder(base Transcoder, settings BreakerSettings, logger *slog.Logger) *BreakerTranscoder {
	if settings.ConsecutiveFailures == 0 {
		settings.ConsecutiveFailures = 3
	}
	if settings.OpenTimeout <= 0 {
		settings.OpenTimeout = 2 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}

	metrics.TranscoderBreakerState.Set(0)

	cb := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "transcoder",
		MaxRequests: 1,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("transcoder circuit state changed", "breaker", name, "from", from.String(), "to", to.String())
			metrics.TranscoderBreakerState.Set(breakerStateValue(to))
		},
	})

	return &BreakerTranscoder{base: base, cb: cb}
}

// Transcode delegates to the wrapped transcoder unless the circuit is open.
func (b *BreakerTranscoder) Transcode(ctx context.Context, req TranscodeRequest) ([]byte, error) {
	if b == nil || b.base == nil {
		return nil, ErrTranscoderUnavailable
	}

	out, err := b.cb.Execute(func() ([]byte, error) {
		return b.base.Transcode(ctx, req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", ErrTranscoderUnavailable, err)
	}
	return out, err
}

func breakerStateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
