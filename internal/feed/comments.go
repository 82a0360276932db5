package feed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/starryvlog/backend/internal/models"
	"github.com/starryvlog/backend/internal/repositories"
	"github.com/starryvlog/backend/internal/videos"
)

const maxCommentLength = 2000

var (
	// ErrEmptyComment is returned for blank comment content.
	ErrEmptyComment = errors.New("comment content is required")
	// ErrCommentTooLong is returned when content exceeds the length limit.
	ErrCommentTooLong = errors.New("comment content too long")
	// ErrCommentAuthorization is returned when the caller does not own the comment.
	ErrCommentAuthorization = errors.New("not allowed to delete this comment")
)

// CommentStore persists comments.
type CommentStore interface {
	Create(ctx context.Context, comment models.Comment) error
	DeleteOwned(ctx context.Context, commentID, authorID string) error
}

// Comments adds and removes comments on videos.
type Comments struct {
	Store   CommentStore
	NowFunc func() time.Time
}

// Add stores a comment. Blank content is rejected without a write.
func (c *Comments) Add(ctx context.Context, videoID, authorID, content string) (models.Comment, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return models.Comment{}, ErrEmptyComment
	}
	if utf8.RuneCountInString(content) > maxCommentLength {
		return models.Comment{}, ErrCommentTooLong
	}

	comment := models.Comment{
		ID:        uuid.NewString(),
		VideoID:   videoID,
		AuthorID:  authorID,
		Content:   content,
		CreatedAt: c.now(),
	}
	if err := c.Store.Create(ctx, comment); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return models.Comment{}, videos.ErrVideoNotFound
		}
		return models.Comment{}, fmt.Errorf("create comment: %w", err)
	}
	return comment, nil
}

// Delete removes a comment written by authorID.
func (c *Comments) Delete(ctx context.Context, commentID, authorID string) error {
	if err := c.Store.DeleteOwned(ctx, commentID, authorID); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return ErrCommentAuthorization
		}
		return fmt.Errorf("delete comment: %w", err)
	}
	return nil
}

func (c *Comments) now() time.Time {
	if c.NowFunc != nil {
		return c.NowFunc()
	}
	return time.Now().UTC()
}
