package repositories

import (
	"context"

	"github.com/starryvlog/backend/internal/models"
)

// VideoRepository exposes data access for uploaded videos.
type VideoRepository interface {
	Create(ctx context.Context, video models.Video) error
	ListRecent(ctx context.Context, limit int) ([]models.Video, error)
	DeleteOwned(ctx context.Context, videoID, ownerID string) (models.Video, error)
}

// LikeRepository exposes data access for likes.
type LikeRepository interface {
	Insert(ctx context.Context, like models.Like) error
	Delete(ctx context.Context, videoID, userID string) error
	ListAll(ctx context.Context) ([]models.Like, error)
}

// CommentRepository exposes data access for video comments.
type CommentRepository interface {
	Create(ctx context.Context, comment models.Comment) error
	ListAll(ctx context.Context) ([]models.Comment, error)
	DeleteOwned(ctx context.Context, commentID, authorID string) error
}
