package repositories

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/starryvlog/backend/internal/db"
	"github.com/starryvlog/backend/internal/models"
)

// PostgresMessageRepository provides PostgreSQL-backed persistence for chat messages.
type PostgresMessageRepository struct {
	pool db.Pool
}

// NewPostgresMessageRepository constructs a message repository backed by PostgreSQL.
func NewPostgresMessageRepository(pool db.Pool) *PostgresMessageRepository {
	return &PostgresMessageRepository{pool: pool}
}

// Create stores a message with its expiry already fixed.
func (r *PostgresMessageRepository) Create(ctx context.Context, message models.ChatMessage) error {
	return execWrite(ctx, r.pool, "message", `
        INSERT INTO messages (id, author_id, content, created_at, expires_at)
        VALUES ($1, $2, $3, $4, $5)
    `, message.ID, message.AuthorID, message.Content, message.CreatedAt, message.ExpiresAt)
}

// ListActive returns messages that expire after now, oldest first.
func (r *PostgresMessageRepository) ListActive(ctx context.Context, now time.Time) ([]models.ChatMessage, error) {
	return queryAll(ctx, r.pool, "messages", scanMessage, `
        SELECT id, author_id, content, created_at, expires_at
        FROM messages
        WHERE expires_at > $1
        ORDER BY created_at ASC, id ASC
    `, now.UTC())
}

// DeleteOwned removes a message written by authorID. ErrNotFound covers both a
// missing message and one written by someone else.
func (r *PostgresMessageRepository) DeleteOwned(ctx context.Context, messageID, authorID string) error {
	return deleteOne(ctx, r.pool, "message", `
        DELETE FROM messages
        WHERE id = $1 AND author_id = $2
    `, messageID, authorID)
}

// DeleteExpired removes every message whose expiry is at or before now and
// reports how many were deleted.
func (r *PostgresMessageRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return execDelete(ctx, r.pool, "expired messages", `
        DELETE FROM messages
        WHERE expires_at <= $1
    `, now.UTC())
}

func scanMessage(row pgx.CollectableRow) (models.ChatMessage, error) {
	var message models.ChatMessage
	err := row.Scan(&message.ID, &message.AuthorID, &message.Content, &message.CreatedAt, &message.ExpiresAt)
	message.CreatedAt = message.CreatedAt.UTC()
	message.ExpiresAt = message.ExpiresAt.UTC()
	return message, err
}

var _ MessageRepository = (*PostgresMessageRepository)(nil)
