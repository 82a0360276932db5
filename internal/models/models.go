package models

import "time"

// User represents an account within Starry Vlog.
type User struct {
	ID        string
	Email     string
	Password  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Video is the metadata row for an uploaded clip. StoragePath always refers to
// an existing blob while the row exists.
type Video struct {
	ID            string    `json:"id"`
	OwnerID       string    `json:"ownerId"`
	StoragePath   string    `json:"storagePath"`
	ThumbnailPath *string   `json:"thumbnailPath"`
	Title         string    `json:"title"`
	Description   *string   `json:"description"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Like records that a user liked a video. At most one per (video, user).
type Like struct {
	VideoID string `json:"videoId"`
	UserID  string `json:"userId"`
}

// Comment is a user's remark on a video.
type Comment struct {
	ID        string    `json:"id"`
	VideoID   string    `json:"videoId"`
	AuthorID  string    `json:"authorId"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// ChatMessage is an ephemeral chat line. ExpiresAt is fixed at insert.
type ChatMessage struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"authorId"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// FeedItem joins a video with its engagement state for a particular viewer.
type FeedItem struct {
	Video
	VideoURL           string    `json:"videoUrl"`
	ThumbnailURL       string    `json:"thumbnailUrl,omitempty"`
	LikeCount          int       `json:"likeCount"`
	LikedByCurrentUser bool      `json:"likedByCurrentUser"`
	Comments           []Comment `json:"comments"`
}

// SessionTokens groups the bearer credentials issued to authenticated users.
type SessionTokens struct {
	AccessToken      string    `json:"accessToken"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshToken     string    `json:"refreshToken"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}
