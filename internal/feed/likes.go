package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/starryvlog/backend/internal/logging"
	"github.com/starryvlog/backend/internal/metrics"
	"github.com/starryvlog/backend/internal/models"
	"github.com/starryvlog/backend/internal/repositories"
	"github.com/starryvlog/backend/internal/videos"
)

var (
	// ErrToggleInFlight is returned when the same user already has a like
	// toggle running for the same video.
	ErrToggleInFlight = errors.New("like toggle already in flight")
	// ErrLikeRejected is returned when the like write failed and the optimistic
	// count was reverted.
	ErrLikeRejected = errors.New("like change rejected")
)

// LikeWriter persists like rows.
type LikeWriter interface {
	Insert(ctx context.Context, like models.Like) error
	Delete(ctx context.Context, videoID, userID string) error
}

// LikeState is the result of a toggle as the caller should display it.
type LikeState struct {
	VideoID string `json:"videoId"`
	Liked   bool   `json:"liked"`
	Count   int    `json:"likeCount"`
}

type likeEntry struct {
	server   int
	pending  int
	inFlight int
}

type likeKey struct {
	videoID string
	userID  string
}

// LikeCache holds the last server-reported like count per video plus the
// optimistic delta of toggles not yet reflected by a reload.
type LikeCache struct {
	mu       sync.Mutex
	entries  map[string]*likeEntry
	inFlight map[likeKey]struct{}
	applied  uint64
}

// NewLikeCache returns an empty cache.
func NewLikeCache() *LikeCache {
	return &LikeCache{
		entries:  make(map[string]*likeEntry),
		inFlight: make(map[likeKey]struct{}),
	}
}

// Count returns max(server + pending, 0) for videoID.
func (c *LikeCache) Count(videoID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.countLocked(videoID)
}

func (c *LikeCache) countLocked(videoID string) int {
	entry, ok := c.entries[videoID]
	if !ok {
		return 0
	}
	if n := entry.server + entry.pending; n > 0 {
		return n
	}
	return 0
}

// Reconcile replaces server counts with those of a completed feed load.
// Loads older than the last applied one are ignored and false is returned.
// Pending deltas are dropped except for videos with a toggle still in flight.
func (c *LikeCache) Reconcile(generation uint64, counts map[string]int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if generation <= c.applied {
		return false
	}
	c.applied = generation

	for videoID, entry := range c.entries {
		entry.server = counts[videoID]
		if entry.inFlight == 0 {
			entry.pending = 0
		}
		if entry.server == 0 && entry.pending == 0 && entry.inFlight == 0 {
			delete(c.entries, videoID)
		}
	}
	for videoID, n := range counts {
		if _, ok := c.entries[videoID]; !ok {
			c.entries[videoID] = &likeEntry{server: n}
		}
	}
	return true
}

func (c *LikeCache) begin(key likeKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.inFlight[key]; busy {
		return false
	}
	c.inFlight[key] = struct{}{}
	c.entry(key.videoID).inFlight++
	return true
}

func (c *LikeCache) finish(key likeKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inFlight, key)
	c.entry(key.videoID).inFlight--
}

func (c *LikeCache) adjust(videoID string, delta int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entry(videoID).pending += delta
	return c.countLocked(videoID)
}

func (c *LikeCache) entry(videoID string) *likeEntry {
	entry, ok := c.entries[videoID]
	if !ok {
		entry = &likeEntry{}
		c.entries[videoID] = entry
	}
	return entry
}

// Toggler flips a user's like on a video with an optimistic count.
type Toggler struct {
	Store LikeWriter
	Cache *LikeCache
}

// Toggle inserts the like when currentlyLiked is false and deletes it
// otherwise. The cached count moves before the write and moves back if the
// write fails. A like that already exists, or an unlike of a missing row, is
// treated as success and leaves the count untouched. Liking a video that no
// longer exists returns videos.ErrVideoNotFound.
func (t *Toggler) Toggle(ctx context.Context, videoID, userID string, currentlyLiked bool) (LikeState, error) {
	logger := logging.FromContext(ctx)
	key := likeKey{videoID: videoID, userID: userID}

	if !t.Cache.begin(key) {
		metrics.LikeToggles.WithLabelValues("in_flight").Inc()
		return LikeState{VideoID: videoID, Liked: currentlyLiked, Count: t.Cache.Count(videoID)}, ErrToggleInFlight
	}
	defer t.Cache.finish(key)

	delta := 1
	if currentlyLiked {
		delta = -1
	}
	t.Cache.adjust(videoID, delta)

	var err error
	if currentlyLiked {
		err = t.Store.Delete(ctx, videoID, userID)
	} else {
		err = t.Store.Insert(ctx, models.Like{VideoID: videoID, UserID: userID})
	}

	switch {
	case err == nil:
		metrics.LikeToggles.WithLabelValues("applied").Inc()
		return LikeState{VideoID: videoID, Liked: !currentlyLiked, Count: t.Cache.Count(videoID)}, nil
	case !currentlyLiked && errors.Is(err, repositories.ErrConflict),
		currentlyLiked && errors.Is(err, repositories.ErrNotFound):
		count := t.Cache.adjust(videoID, -delta)
		metrics.LikeToggles.WithLabelValues("noop").Inc()
		return LikeState{VideoID: videoID, Liked: !currentlyLiked, Count: count}, nil
	case !currentlyLiked && errors.Is(err, repositories.ErrNotFound):
		count := t.Cache.adjust(videoID, -delta)
		metrics.LikeToggles.WithLabelValues("reverted").Inc()
		return LikeState{VideoID: videoID, Liked: false, Count: count}, videos.ErrVideoNotFound
	default:
		count := t.Cache.adjust(videoID, -delta)
		metrics.LikeToggles.WithLabelValues("reverted").Inc()
		logger.Warn("like toggle reverted", "videoId", videoID, "liked", !currentlyLiked, "error", err)
		return LikeState{VideoID: videoID, Liked: currentlyLiked, Count: count}, fmt.Errorf("%w: %v", ErrLikeRejected, err)
	}
}
