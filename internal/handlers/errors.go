package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/starryvlog/backend/internal/auth"
	"github.com/starryvlog/backend/internal/chat"
	"github.com/starryvlog/backend/internal/feed"
	"github.com/starryvlog/backend/internal/logging"
	"github.com/starryvlog/backend/internal/repositories"
	"github.com/starryvlog/backend/internal/videos"
)

type errorResponse struct {
	Error string `json:"error"`
	Stage string `json:"stage,omitempty"`
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, videos.ErrValidation),
		errors.Is(err, feed.ErrEmptyComment),
		errors.Is(err, feed.ErrCommentTooLong),
		errors.Is(err, chat.ErrEmptyMessage),
		errors.Is(err, chat.ErrMessageTooLong):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, feed.ErrCommentAuthorization),
		errors.Is(err, chat.ErrMessageAuthorization):
		return http.StatusForbidden
	case errors.Is(err, videos.ErrVideoNotFound),
		errors.Is(err, repositories.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, feed.ErrToggleInFlight),
		errors.Is(err, repositories.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, videos.ErrCompressionInsufficient):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, videos.ErrCompressionFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, videos.ErrBlobWrite),
		errors.Is(err, videos.ErrMetadataWrite),
		errors.Is(err, feed.ErrLikeRejected):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err with its mapped status. Server errors hide the
// underlying message.
func respondError(ctx context.Context, w http.ResponseWriter, err error) {
	status := statusFor(err)
	body := errorResponse{Error: err.Error()}
	if status == http.StatusInternalServerError {
		logging.FromContext(ctx).Error("unhandled error", "error", err)
		body.Error = http.StatusText(status)
	}

	var stageErr *videos.StageError
	if errors.As(err, &stageErr) {
		body.Stage = string(stageErr.Stage)
	}

	respondJSON(ctx, w, status, body)
}

func currentIdentity(ctx context.Context, w http.ResponseWriter) (auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		respondJSON(ctx, w, http.StatusUnauthorized, errorResponse{Error: "not signed in"})
	}
	return identity, ok
}
