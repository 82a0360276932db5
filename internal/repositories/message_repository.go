package repositories

import (
	"context"
	"time"

	"github.com/starryvlog/backend/internal/models"
)

// MessageRepository exposes data access for ephemeral chat messages.
type MessageRepository interface {
	Create(ctx context.Context, message models.ChatMessage) error
	ListActive(ctx context.Context, now time.Time) ([]models.ChatMessage, error)
	DeleteOwned(ctx context.Context, messageID, authorID string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
