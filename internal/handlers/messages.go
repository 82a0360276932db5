package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starryvlog/backend/internal/chat"
	"github.com/starryvlog/backend/internal/logging"
	"github.com/starryvlog/backend/internal/models"
)

// MessageHandler exposes the ephemeral chat channel.
type MessageHandler struct {
	Messages MessageChannel
}

// List handles GET /api/v1/messages. A failed reload falls back to the last
// snapshot, which is still filtered by expiry.
func (h MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := currentIdentity(ctx, w); !ok {
		return
	}

	snapshot, err := h.Messages.Reload(ctx)
	if err != nil {
		logging.FromContext(ctx).Warn("chat reload failed, serving cached snapshot", "error", err)
		snapshot = h.Messages.Messages()
	}
	respondJSON(ctx, w, http.StatusOK, snapshot)
}

type sendMessageRequest struct {
	Content string `json:"content"`
}

// Send handles POST /api/v1/messages.
func (h MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := currentIdentity(ctx, w)
	if !ok {
		return
	}

	var req sendMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	message, err := h.Messages.Send(ctx, identity.UserID, req.Content)
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusCreated, map[string]models.ChatMessage{"message": message})
}

// Delete handles DELETE /api/v1/messages/{id}.
func (h MessageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := currentIdentity(ctx, w)
	if !ok {
		return
	}

	if err := h.Messages.DeleteOwn(ctx, chi.URLParam(r, "id"), identity.UserID); err != nil {
		respondError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

var _ MessageChannel = (*chat.Channel)(nil)
