package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/starryvlog/backend/internal/db"
	"github.com/starryvlog/backend/internal/logging"
	"github.com/starryvlog/backend/internal/retry"
)

// OperationResync is delivered after every (re)connect because notifications
// sent while the listener was down are lost.
const OperationResync = "RESYNC"

// Change is one row-level change notification for a collection.
type Change struct {
	Collection string `json:"-"`
	Operation  string `json:"op"`
	ID         string `json:"id"`
}

// ChangeStream delivers row change notifications for a collection.
type ChangeStream interface {
	Subscribe(ctx context.Context, collection string, fn func(Change)) (*Subscription, error)
}

// Subscription is an active change listener.
type Subscription struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Unsubscribe stops the listener and waits for it to exit.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(s.cancel)
	<-s.done
}

// PostgresChangeStream listens on "<collection>_changes" using LISTEN/NOTIFY
// on a connection taken out of the pool for the lifetime of the subscription.
type PostgresChangeStream struct {
	pool  db.Pool
	retry retry.Policy
}

// NewPostgresChangeStream constructs a change stream backed by PostgreSQL notifications.
func NewPostgresChangeStream(pool db.Pool) *PostgresChangeStream {
	return &PostgresChangeStream{
		pool:  pool,
		retry: retry.Policy{BaseBackoff: 500 * time.Millisecond, MaxBackoff: 30 * time.Second},
	}
}

// Subscribe starts listening in the background. fn is called from a single
// goroutine, in notification order, and must not block for long.
func (s *PostgresChangeStream) Subscribe(ctx context.Context, collection string, fn func(Change)) (*Subscription, error) {
	if collection == "" || fn == nil {
		return nil, errors.New("change stream: collection and callback are required")
	}

	ctx, cancel := context.WithCancel(ctx)
	sub := &Subscription{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(sub.done)
		s.run(ctx, collection, fn)
	}()

	return sub, nil
}

func (s *PostgresChangeStream) run(ctx context.Context, collection string, fn func(Change)) {
	logger := logging.FromContext(ctx).With("collection", collection)
	failures := 0

	for ctx.Err() == nil {
		err := s.listen(ctx, collection, fn, func() { failures = 0 })
		if ctx.Err() != nil {
			return
		}

		failures++
		delay := s.retry.Backoff(failures)
		logger.Warn("change stream disconnected", "error", err, "retryIn", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (s *PostgresChangeStream) listen(ctx context.Context, collection string, fn func(Change), connected func()) error {
	pooled, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	// A listening connection must not go back into the pool.
	conn := pooled.Hijack()
	defer conn.Close(context.Background())

	channel := pgx.Identifier{collection + "_changes"}.Sanitize()
	if _, err := conn.Exec(ctx, "LISTEN "+channel); err != nil {
		return fmt.Errorf("listen %s: %w", channel, err)
	}

	connected()
	fn(Change{Collection: collection, Operation: OperationResync})

	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}
		fn(parseChange(collection, notification.Payload))
	}
}

func parseChange(collection, payload string) Change {
	change := Change{}
	if payload != "" {
		if err := json.Unmarshal([]byte(payload), &change); err != nil {
			change = Change{}
		}
	}
	change.Collection = collection
	return change
}
