// Package chat implements the ephemeral message channel: messages expire a
// fixed time after they are sent and are never shown once expired.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/starryvlog/backend/internal/logging"
	"github.com/starryvlog/backend/internal/metrics"
	"github.com/starryvlog/backend/internal/models"
	"github.com/starryvlog/backend/internal/repositories"
	"github.com/starryvlog/backend/internal/retry"
)

// Collection is the change stream collection watched for message changes.
const Collection = "messages"

const maxMessageLength = 1000

var (
	// ErrEmptyMessage is returned for blank message content.
	ErrEmptyMessage = errors.New("message content is required")
	// ErrMessageTooLong is returned when content exceeds the length limit.
	ErrMessageTooLong = errors.New("message content too long")
	// ErrMessageAuthorization is returned when the caller did not write the message.
	ErrMessageAuthorization = errors.New("not allowed to delete this message")
)

// MessageStore persists chat messages.
type MessageStore interface {
	Create(ctx context.Context, message models.ChatMessage) error
	ListActive(ctx context.Context, now time.Time) ([]models.ChatMessage, error)
	DeleteOwned(ctx context.Context, messageID, authorID string) error
}

// Snapshot is the set of unexpired messages produced by one reload.
type Snapshot struct {
	Generation uint64               `json:"generation"`
	Messages   []models.ChatMessage `json:"messages"`
}

// Config tunes a Channel.
type Config struct {
	TTL     time.Duration
	NowFunc func() time.Time
	Retry   retry.Policy
}

// Channel keeps a local snapshot of active messages in sync with the store.
// Invalidations are coalesced: at most one background reload runs at a time
// and any invalidations that arrive meanwhile trigger exactly one more.
type Channel struct {
	store  MessageStore
	ttl    time.Duration
	now    func() time.Time
	retry  retry.Policy
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	snapshot  Snapshot
	issued    uint64
	reloading bool
	pending   bool
	closed    bool
	listeners []func(Snapshot)

	notifyMu  sync.Mutex
	delivered uint64
}

// NewChannel constructs a Channel backed by store.
func NewChannel(store MessageStore, cfg Config, logger *slog.Logger) *Channel {
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.NowFunc == nil {
		cfg.NowFunc = func() time.Time { return time.Now().UTC() }
	}
	if cfg.Retry.Attempts == 0 {
		cfg.Retry = retry.Default
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(logging.WithLogger(context.Background(), logger))

	return &Channel{
		store:    store,
		ttl:      cfg.TTL,
		now:      cfg.NowFunc,
		retry:    cfg.Retry,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		snapshot: Snapshot{Messages: []models.ChatMessage{}},
	}
}

// OnSnapshot registers fn to be called after every applied reload.
func (c *Channel) OnSnapshot(fn func(Snapshot)) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

// Send stores a message whose expiry is fixed at now + TTL and schedules a reload.
func (c *Channel) Send(ctx context.Context, userID, content string) (models.ChatMessage, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return models.ChatMessage{}, ErrEmptyMessage
	}
	if utf8.RuneCountInString(content) > maxMessageLength {
		return models.ChatMessage{}, ErrMessageTooLong
	}

	now := c.now()
	message := models.ChatMessage{
		ID:        uuid.NewString(),
		AuthorID:  userID,
		Content:   content,
		CreatedAt: now,
		ExpiresAt: now.Add(c.ttl),
	}
	if err := c.store.Create(ctx, message); err != nil {
		return models.ChatMessage{}, fmt.Errorf("send message: %w", err)
	}

	c.Invalidate()
	return message, nil
}

// DeleteOwn removes a message written by userID. The snapshot is not changed
// optimistically; it follows on the next reload.
func (c *Channel) DeleteOwn(ctx context.Context, messageID, userID string) error {
	if err := c.store.DeleteOwned(ctx, messageID, userID); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return ErrMessageAuthorization
		}
		return fmt.Errorf("delete message: %w", err)
	}
	c.Invalidate()
	return nil
}

// Reload fetches active messages and replaces the snapshot unless a reload
// that started later has already been applied. It returns the snapshot in
// effect afterwards.
func (c *Channel) Reload(ctx context.Context) (Snapshot, error) {
	ctx, span := logging.StartSpan(ctx, "chat.reload")
	defer span.End()

	c.mu.Lock()
	c.issued++
	generation := c.issued
	c.mu.Unlock()

	var rows []models.ChatMessage
	err := retry.Do(ctx, c.retry, func(ctx context.Context) error {
		var err error
		rows, err = c.store.ListActive(ctx, c.now())
		return err
	})
	if err != nil {
		span.Fail(err)
		metrics.ChatReloads.WithLabelValues("error").Inc()
		return c.Messages(), fmt.Errorf("reload messages: %w", err)
	}

	now := c.now()
	active := make([]models.ChatMessage, 0, len(rows))
	for _, message := range rows {
		if message.ExpiresAt.After(now) {
			active = append(active, message)
		}
	}

	c.mu.Lock()
	if generation <= c.snapshot.Generation {
		c.mu.Unlock()
		metrics.ChatReloads.WithLabelValues("superseded").Inc()
		return c.Messages(), nil
	}
	c.snapshot = Snapshot{Generation: generation, Messages: active}
	snapshot := c.snapshot
	listeners := slices.Clone(c.listeners)
	c.mu.Unlock()

	metrics.ChatReloads.WithLabelValues("applied").Inc()
	c.deliver(snapshot, listeners)
	return snapshot, nil
}

// deliver hands snapshot to listeners one reload at a time, skipping it when
// a newer generation has already been delivered.
func (c *Channel) deliver(snapshot Snapshot, listeners []func(Snapshot)) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	if snapshot.Generation <= c.delivered {
		return
	}
	c.delivered = snapshot.Generation
	for _, fn := range listeners {
		fn(snapshot)
	}
}

// Messages returns the current snapshot minus anything that expired since it was loaded.
func (c *Channel) Messages() Snapshot {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	active := make([]models.ChatMessage, 0, len(c.snapshot.Messages))
	for _, message := range c.snapshot.Messages {
		if message.ExpiresAt.After(now) {
			active = append(active, message)
		}
	}
	return Snapshot{Generation: c.snapshot.Generation, Messages: active}
}

// Invalidate schedules a background reload, coalescing with one already running.
func (c *Channel) Invalidate() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.reloading {
		c.pending = true
		c.mu.Unlock()
		return
	}
	c.reloading = true
	c.wg.Add(1)
	c.mu.Unlock()

	go c.reloadLoop()
}

func (c *Channel) reloadLoop() {
	defer c.wg.Done()

	for {
		if _, err := c.Reload(c.ctx); err != nil && c.ctx.Err() == nil {
			c.logger.Warn("background chat reload failed", "error", err)
		}

		c.mu.Lock()
		if c.pending && !c.closed {
			c.pending = false
			c.mu.Unlock()
			continue
		}
		c.reloading = false
		c.pending = false
		c.mu.Unlock()
		return
	}
}

// Watch invalidates the channel on every change notification for messages.
func (c *Channel) Watch(ctx context.Context, stream repositories.ChangeStream) (*repositories.Subscription, error) {
	return stream.Subscribe(ctx, Collection, func(repositories.Change) {
		c.Invalidate()
	})
}

// Close stops background reloads and waits for the one in flight to finish.
func (c *Channel) Close(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}
