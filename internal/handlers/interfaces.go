package handlers

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/starryvlog/backend/internal/auth"
	"github.com/starryvlog/backend/internal/chat"
	"github.com/starryvlog/backend/internal/feed"
	"github.com/starryvlog/backend/internal/models"
	"github.com/starryvlog/backend/internal/realtime"
	"github.com/starryvlog/backend/internal/videos"
)

// UserStore captures the persistence operations required by the auth handlers.
type UserStore interface {
	Create(ctx context.Context, user models.User) error
	FindByEmail(ctx context.Context, email string) (models.User, error)
}

// SessionManager issues, refreshes and revokes authentication tokens.
type SessionManager interface {
	Issue(ctx context.Context, userID, email string) (models.SessionTokens, error)
	Refresh(ctx context.Context, refreshToken string) (models.SessionTokens, error)
	Revoke(ctx context.Context, refreshToken string) error
	Authenticate(accessToken string) (auth.Identity, error)
}

// VideoPublisher runs uploads and owner deletes.
type VideoPublisher interface {
	Publish(ctx context.Context, req videos.UploadRequest, progress videos.ProgressFunc) (models.Video, error)
	Delete(ctx context.Context, videoID, ownerID string) error
}

// FeedLoader builds the feed for a viewer.
type FeedLoader interface {
	Load(ctx context.Context, currentUserID string) ([]models.FeedItem, error)
}

// LikeToggler flips a like with an optimistic count.
type LikeToggler interface {
	Toggle(ctx context.Context, videoID, userID string, currentlyLiked bool) (feed.LikeState, error)
}

// CommentService adds and removes comments.
type CommentService interface {
	Add(ctx context.Context, videoID, authorID, content string) (models.Comment, error)
	Delete(ctx context.Context, commentID, authorID string) error
}

// MessageChannel is the ephemeral chat.
type MessageChannel interface {
	Send(ctx context.Context, userID, content string) (models.ChatMessage, error)
	DeleteOwn(ctx context.Context, messageID, userID string) error
	Reload(ctx context.Context) (chat.Snapshot, error)
	Messages() chat.Snapshot
}

// RealtimeHub accepts upgraded websocket connections.
type RealtimeHub interface {
	Attach(conn *websocket.Conn, userID string, greet func() []realtime.Message) (*realtime.Client, error)
}

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RateLimiter is the minimal interface required to guard sensitive endpoints.
type RateLimiter interface {
	Allow(key string) bool
}

// Dependencies aggregates collaborators required by HTTP handlers.
type Dependencies struct {
	Users         UserStore
	Sessions      SessionManager
	Publisher     VideoPublisher
	Feed          FeedLoader
	Likes         LikeToggler
	Comments      CommentService
	Messages      MessageChannel
	Hub           RealtimeHub
	Database      Pinger
	AuthLimiter   RateLimiter
	UploadLimiter RateLimiter
	// MaxUploadBytes caps the multipart body of an upload.
	MaxUploadBytes int64
	// AllowedOrigins restricts websocket upgrades. Empty allows any origin.
	AllowedOrigins []string
	MetricsHandler http.Handler
}
