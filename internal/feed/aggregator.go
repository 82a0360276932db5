// Package feed assembles the video feed and manages likes and comments.
package feed

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/starryvlog/backend/internal/logging"
	"github.com/starryvlog/backend/internal/metrics"
	"github.com/starryvlog/backend/internal/models"
	"github.com/starryvlog/backend/internal/retry"
	"github.com/starryvlog/backend/internal/videos"
)

// VideoLister reads video rows newest first.
type VideoLister interface {
	ListRecent(ctx context.Context, limit int) ([]models.Video, error)
}

// LikeLister reads every like row.
type LikeLister interface {
	ListAll(ctx context.Context) ([]models.Like, error)
}

// CommentLister reads every comment, oldest first.
type CommentLister interface {
	ListAll(ctx context.Context) ([]models.Comment, error)
}

const signConcurrency = 8

// Aggregator loads videos, likes, and comments and joins them into feed items.
type Aggregator struct {
	Videos   VideoLister
	Likes    LikeLister
	Comments CommentLister
	Signer   videos.URLSigner
	// Cache, when set, is reconciled with the like counts of each load.
	Cache  *LikeCache
	Limit  int
	URLTTL time.Duration
	Retry  retry.Policy

	generation atomic.Uint64
}

// Load returns the feed as seen by currentUserID. The three reads run
// concurrently with bounded retries; a URL that cannot be signed is left empty
// rather than dropping the item.
func (a *Aggregator) Load(ctx context.Context, currentUserID string) ([]models.FeedItem, error) {
	ctx, span := logging.StartSpan(ctx, "feed.load")
	defer span.End()

	start := time.Now()
	defer func() { metrics.FeedLoadDuration.Observe(time.Since(start).Seconds()) }()

	generation := a.generation.Add(1)
	policy := a.Retry
	if policy.Attempts == 0 {
		policy = retry.Default
	}
	limit := a.Limit
	if limit <= 0 {
		limit = 100
	}

	var (
		rows     []models.Video
		likes    []models.Like
		comments []models.Comment
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return retry.Do(gctx, policy, func(ctx context.Context) error {
			var err error
			rows, err = a.Videos.ListRecent(ctx, limit)
			if err != nil {
				return fmt.Errorf("load videos: %w", err)
			}
			return nil
		})
	})
	g.Go(func() error {
		return retry.Do(gctx, policy, func(ctx context.Context) error {
			var err error
			likes, err = a.Likes.ListAll(ctx)
			if err != nil {
				return fmt.Errorf("load likes: %w", err)
			}
			return nil
		})
	})
	g.Go(func() error {
		return retry.Do(gctx, policy, func(ctx context.Context) error {
			var err error
			comments, err = a.Comments.ListAll(ctx)
			if err != nil {
				return fmt.Errorf("load comments: %w", err)
			}
			return nil
		})
	})
	if err := g.Wait(); err != nil {
		span.Fail(err)
		return nil, err
	}

	items, counts := Join(rows, likes, comments, currentUserID)

	if a.Cache != nil && a.Cache.Reconcile(generation, counts) {
		for i := range items {
			items[i].LikeCount = a.Cache.Count(items[i].ID)
		}
	}

	a.sign(ctx, items)

	return items, nil
}

// Join combines rows into feed items in video order and returns the like count
// per video. Likes and comments for videos not in rows are ignored.
func Join(rows []models.Video, likes []models.Like, comments []models.Comment, currentUserID string) ([]models.FeedItem, map[string]int) {
	counts := make(map[string]int, len(rows))
	likedByMe := make(map[string]bool)
	for _, like := range likes {
		counts[like.VideoID]++
		if like.UserID == currentUserID {
			likedByMe[like.VideoID] = true
		}
	}

	byVideo := make(map[string][]models.Comment)
	for _, comment := range comments {
		byVideo[comment.VideoID] = append(byVideo[comment.VideoID], comment)
	}

	items := make([]models.FeedItem, 0, len(rows))
	for _, video := range rows {
		thread := byVideo[video.ID]
		sort.SliceStable(thread, func(i, j int) bool {
			return thread[i].CreatedAt.Before(thread[j].CreatedAt)
		})
		if thread == nil {
			thread = []models.Comment{}
		}
		items = append(items, models.FeedItem{
			Video:              video,
			LikeCount:          counts[video.ID],
			LikedByCurrentUser: likedByMe[video.ID],
			Comments:           thread,
		})
	}

	return items, counts
}

func (a *Aggregator) sign(ctx context.Context, items []models.FeedItem) {
	if a.Signer == nil {
		return
	}
	logger := logging.FromContext(ctx)
	ttl := a.URLTTL
	if ttl <= 0 {
		ttl = time.Hour
	}

	signOne := func(path string) string {
		url, err := a.Signer.SignedURL(ctx, path, ttl)
		if err != nil {
			metrics.SignedURLFailures.Inc()
			logger.Warn("sign blob url", "path", path, "error", err)
			return ""
		}
		return url
	}

	var g errgroup.Group
	g.SetLimit(signConcurrency)
	for i := range items {
		item := &items[i]
		g.Go(func() error {
			item.VideoURL = signOne(item.StoragePath)
			if item.ThumbnailPath != nil && *item.ThumbnailPath != "" {
				item.ThumbnailURL = signOne(*item.ThumbnailPath)
			}
			return nil
		})
	}
	_ = g.Wait()
}
