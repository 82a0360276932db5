package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/starryvlog/backend/internal/metrics"
)

// ExpiredDeleter permanently removes rows that expired before now.
type ExpiredDeleter interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// ReaperConfig controls how often expired messages are purged.
type ReaperConfig struct {
	Interval time.Duration
	NowFunc  func() time.Time
}

// Reaper periodically deletes expired chat messages. Readers already hide
// expired rows, so the reaper only bounds storage growth.
type Reaper struct {
	messages ExpiredDeleter
	sessions ExpiredDeleter
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewReaper constructs a reaper for expired messages. sessions may be nil; when
// set, expired refresh sessions are purged on the same schedule. Call Start to
// begin the periodic loop.
func NewReaper(messages, sessions ExpiredDeleter, cfg ReaperConfig, logger *slog.Logger) *Reaper {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Minute
	}
	if cfg.NowFunc == nil {
		cfg.NowFunc = func() time.Time { return time.Now().UTC() }
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Reaper{
		messages: messages,
		sessions: sessions,
		interval: cfg.Interval,
		now:      cfg.NowFunc,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the periodic loop. It is a no-op after Shutdown.
func (r *Reaper) Start() {
	if r.ctx.Err() != nil {
		return
	}
	r.wg.Add(1)
	go r.loop()
}

// RunOnce purges messages that expired before now and returns how many were removed.
func (r *Reaper) RunOnce(ctx context.Context) (int64, error) {
	now := r.now()

	n, err := r.messages.DeleteExpired(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("reap expired messages: %w", err)
	}
	metrics.ExpiredMessagesReaped.Add(float64(n))

	if r.sessions != nil {
		sessions, err := r.sessions.DeleteExpired(ctx, now)
		if err != nil {
			return n, fmt.Errorf("reap expired sessions: %w", err)
		}
		if sessions > 0 {
			r.logger.Info("purged expired sessions", "count", sessions)
		}
	}
	return n, nil
}

// Shutdown stops the loop and waits for an in-progress purge to finish.
func (r *Reaper) Shutdown(ctx context.Context) error {
	r.once.Do(r.cancel)

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (r *Reaper) loop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.purge()
		}
	}
}

func (r *Reaper) purge() {
	ctx, cancel := context.WithTimeout(r.ctx, 30*time.Second)
	defer cancel()

	n, err := r.RunOnce(ctx)
	if err != nil {
		r.logger.Error("purge expired messages", "error", err)
		return
	}
	if n > 0 {
		r.logger.Info("purged expired messages", "count", n)
	}
}
