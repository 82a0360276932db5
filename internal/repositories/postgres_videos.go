package repositories

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/starryvlog/backend/internal/db"
	"github.com/starryvlog/backend/internal/models"
)

const videoColumns = `id, owner_id, storage_path, thumbnail_path, title, description, created_at`

// PostgresVideoRepository provides PostgreSQL-backed persistence for video metadata.
type PostgresVideoRepository struct {
	pool db.Pool
}

// NewPostgresVideoRepository constructs a video repository backed by PostgreSQL.
func NewPostgresVideoRepository(pool db.Pool) *PostgresVideoRepository {
	return &PostgresVideoRepository{pool: pool}
}

// Create stores a new video row. The blob at StoragePath must already exist.
func (r *PostgresVideoRepository) Create(ctx context.Context, video models.Video) error {
	return execWrite(ctx, r.pool, "video", `
        INSERT INTO videos (`+videoColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
    `, video.ID, video.OwnerID, video.StoragePath, video.ThumbnailPath, video.Title, video.Description, video.CreatedAt)
}

// ListRecent returns up to limit videos, newest first.
func (r *PostgresVideoRepository) ListRecent(ctx context.Context, limit int) ([]models.Video, error) {
	if limit <= 0 {
		limit = 100
	}
	return queryAll(ctx, r.pool, "videos", scanVideo, `
        SELECT `+videoColumns+`
        FROM videos
        ORDER BY created_at DESC, id DESC
        LIMIT $1
    `, limit)
}

// DeleteOwned removes a video owned by ownerID and returns the deleted row so
// the caller can clean up its blobs. Likes and comments cascade.
func (r *PostgresVideoRepository) DeleteOwned(ctx context.Context, videoID, ownerID string) (models.Video, error) {
	return queryOne(ctx, r.pool, "deleted video", scanVideo, `
        DELETE FROM videos
        WHERE id = $1 AND owner_id = $2
        RETURNING `+videoColumns, videoID, ownerID)
}

func scanVideo(row pgx.CollectableRow) (models.Video, error) {
	var video models.Video
	err := row.Scan(&video.ID, &video.OwnerID, &video.StoragePath, &video.ThumbnailPath, &video.Title, &video.Description, &video.CreatedAt)
	video.CreatedAt = video.CreatedAt.UTC()
	return video, err
}

// PostgresLikeRepository provides PostgreSQL-backed persistence for likes.
type PostgresLikeRepository struct {
	pool db.Pool
}

// NewPostgresLikeRepository constructs a like repository backed by PostgreSQL.
func NewPostgresLikeRepository(pool db.Pool) *PostgresLikeRepository {
	return &PostgresLikeRepository{pool: pool}
}

// Insert records a like. A duplicate returns ErrConflict; a missing video
// returns ErrNotFound.
func (r *PostgresLikeRepository) Insert(ctx context.Context, like models.Like) error {
	return execWrite(ctx, r.pool, "like", `
        INSERT INTO likes (video_id, user_id)
        VALUES ($1, $2)
    `, like.VideoID, like.UserID)
}

// Delete removes a like. Removing a like that does not exist returns ErrNotFound.
func (r *PostgresLikeRepository) Delete(ctx context.Context, videoID, userID string) error {
	return deleteOne(ctx, r.pool, "like", `
        DELETE FROM likes
        WHERE video_id = $1 AND user_id = $2
    `, videoID, userID)
}

// ListAll returns every like row.
func (r *PostgresLikeRepository) ListAll(ctx context.Context) ([]models.Like, error) {
	return queryAll(ctx, r.pool, "likes", func(row pgx.CollectableRow) (models.Like, error) {
		var like models.Like
		err := row.Scan(&like.VideoID, &like.UserID)
		return like, err
	}, `SELECT video_id, user_id FROM likes`)
}

// PostgresCommentRepository provides PostgreSQL-backed persistence for comments.
type PostgresCommentRepository struct {
	pool db.Pool
}

// NewPostgresCommentRepository constructs a comment repository backed by PostgreSQL.
func NewPostgresCommentRepository(pool db.Pool) *PostgresCommentRepository {
	return &PostgresCommentRepository{pool: pool}
}

// Create stores a comment. A missing video returns ErrNotFound.
func (r *PostgresCommentRepository) Create(ctx context.Context, comment models.Comment) error {
	return execWrite(ctx, r.pool, "comment", `
        INSERT INTO comments (id, video_id, author_id, content, created_at)
        VALUES ($1, $2, $3, $4, $5)
    `, comment.ID, comment.VideoID, comment.AuthorID, comment.Content, comment.CreatedAt)
}

// ListAll returns every comment ordered oldest first.
func (r *PostgresCommentRepository) ListAll(ctx context.Context) ([]models.Comment, error) {
	return queryAll(ctx, r.pool, "comments", func(row pgx.CollectableRow) (models.Comment, error) {
		var comment models.Comment
		err := row.Scan(&comment.ID, &comment.VideoID, &comment.AuthorID, &comment.Content, &comment.CreatedAt)
		comment.CreatedAt = comment.CreatedAt.UTC()
		return comment, err
	}, `
        SELECT id, video_id, author_id, content, created_at
        FROM comments
        ORDER BY created_at ASC, id ASC
    `)
}

// DeleteOwned removes a comment written by authorID. ErrNotFound covers both a
// missing comment and one written by someone else.
func (r *PostgresCommentRepository) DeleteOwned(ctx context.Context, commentID, authorID string) error {
	return deleteOne(ctx, r.pool, "comment", `
        DELETE FROM comments
        WHERE id = $1 AND author_id = $2
    `, commentID, authorID)
}

var _ VideoRepository = (*PostgresVideoRepository)(nil)
var _ LikeRepository = (*PostgresLikeRepository)(nil)
var _ CommentRepository = (*PostgresCommentRepository)(nil)
