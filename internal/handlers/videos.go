package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starryvlog/backend/internal/feed"
	"github.com/starryvlog/backend/internal/logging"
	"github.com/starryvlog/backend/internal/models"
	"github.com/starryvlog/backend/internal/videos"
)

const (
	ndjsonContentType = "application/x-ndjson"
	multipartMemory   = 32 << 20
)

// VideoHandler exposes upload, feed and engagement endpoints.
type VideoHandler struct {
	Publisher      VideoPublisher
	Feed           FeedLoader
	Likes          LikeToggler
	Comments       CommentService
	MaxUploadBytes int64
}

// Publish handles POST /api/v1/videos. The body is multipart with a "file"
// part plus "title" and optional "description" fields. Clients that accept
// application/x-ndjson receive one progress object per line followed by the
// result.
func (h VideoHandler) Publish(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)

	if h.Publisher == nil {
		logger.Error("video publisher unavailable")
		respondJSON(ctx, w, http.StatusServiceUnavailable, errorResponse{Error: "uploads unavailable"})
		return
	}

	identity, ok := currentIdentity(ctx, w)
	if !ok {
		return
	}

	if h.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.MaxUploadBytes+multipartMemory)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondJSON(ctx, w, http.StatusRequestEntityTooLarge, errorResponse{Error: "upload too large"})
			return
		}
		logger.Warn("invalid upload form", "error", err)
		respondJSON(ctx, w, http.StatusBadRequest, errorResponse{Error: "invalid multipart form"})
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	upload := videos.UploadRequest{
		OwnerID:     identity.UserID,
		Title:       r.FormValue("title"),
		Description: r.FormValue("description"),
	}

	file, header, err := r.FormFile("file")
	switch {
	case errors.Is(err, http.ErrMissingFile):
	case err != nil:
		logger.Warn("read upload file", "error", err)
		respondJSON(ctx, w, http.StatusBadRequest, errorResponse{Error: "invalid file part"})
		return
	default:
		defer file.Close()
		upload.FileName = header.Filename
		upload.Data, err = io.ReadAll(file)
		if err != nil {
			logger.Warn("buffer upload file", "error", err)
			respondJSON(ctx, w, http.StatusBadRequest, errorResponse{Error: "unable to read file"})
			return
		}
	}

	if !strings.Contains(r.Header.Get("Accept"), ndjsonContentType) {
		video, err := h.Publisher.Publish(ctx, upload, nil)
		if err != nil {
			respondError(ctx, w, err)
			return
		}
		respondJSON(ctx, w, http.StatusCreated, map[string]models.Video{"video": video})
		return
	}

	w.Header().Set("Content-Type", ndjsonContentType)
	w.WriteHeader(http.StatusAccepted)
	enc := json.NewEncoder(w)
	flusher, _ := w.(http.Flusher)
	write := func(v any) {
		if err := enc.Encode(v); err != nil {
			logger.Debug("write upload progress", "error", err)
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}

	video, err := h.Publisher.Publish(ctx, upload, func(p videos.Progress) {
		write(map[string]videos.Progress{"progress": p})
	})
	if err != nil {
		var stageErr *videos.StageError
		result := errorResponse{Error: err.Error()}
		if errors.As(err, &stageErr) {
			result.Stage = string(stageErr.Stage)
		}
		write(result)
		return
	}
	write(map[string]models.Video{"video": video})
}

// ListFeed handles GET /api/v1/videos/feed.
func (h VideoHandler) ListFeed(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.Feed == nil {
		logging.FromContext(ctx).Error("feed service unavailable")
		respondJSON(ctx, w, http.StatusServiceUnavailable, errorResponse{Error: "feed unavailable"})
		return
	}

	identity, ok := currentIdentity(ctx, w)
	if !ok {
		return
	}

	items, err := h.Feed.Load(ctx, identity.UserID)
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	if items == nil {
		items = []models.FeedItem{}
	}

	respondJSON(ctx, w, http.StatusOK, map[string][]models.FeedItem{"videos": items})
}

// Delete handles DELETE /api/v1/videos/{id}.
func (h VideoHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := currentIdentity(ctx, w)
	if !ok {
		return
	}

	if err := h.Publisher.Delete(ctx, chi.URLParam(r, "id"), identity.UserID); err != nil {
		respondError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type likeRequest struct {
	// Liked is the state the client believed was current when the user tapped.
	Liked bool `json:"liked"`
}

type likeErrorResponse struct {
	Error string         `json:"error"`
	State feed.LikeState `json:"state"`
}

// Like handles POST /api/v1/videos/{id}/like.
func (h VideoHandler) Like(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := currentIdentity(ctx, w)
	if !ok {
		return
	}

	var req likeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	state, err := h.Likes.Toggle(ctx, chi.URLParam(r, "id"), identity.UserID, req.Liked)
	if err != nil {
		respondJSON(ctx, w, statusFor(err), likeErrorResponse{Error: err.Error(), State: state})
		return
	}
	respondJSON(ctx, w, http.StatusOK, state)
}

type commentRequest struct {
	Content string `json:"content"`
}

// AddComment handles POST /api/v1/videos/{id}/comments.
func (h VideoHandler) AddComment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := currentIdentity(ctx, w)
	if !ok {
		return
	}

	var req commentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	comment, err := h.Comments.Add(ctx, chi.URLParam(r, "id"), identity.UserID, req.Content)
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusCreated, map[string]models.Comment{"comment": comment})
}

// DeleteComment handles DELETE /api/v1/comments/{id}.
func (h VideoHandler) DeleteComment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := currentIdentity(ctx, w)
	if !ok {
		return
	}

	if err := h.Comments.Delete(ctx, chi.URLParam(r, "id"), identity.UserID); err != nil {
		respondError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
