package repositories

import (
	"context"

	"github.com/starryvlog/backend/internal/models"
)

// UserRepository stores accounts that can sign in.
type UserRepository interface {
	Create(ctx context.Context, user models.User) error
	FindByEmail(ctx context.Context, email string) (models.User, error)
}
