package handlers

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/starryvlog/backend/internal/logging"
	"github.com/starryvlog/backend/internal/realtime"
)

// RealtimeHandler upgrades signed-in clients to a websocket that receives chat snapshots.
type RealtimeHandler struct {
	Hub            RealtimeHub
	Messages       MessageChannel
	AllowedOrigins []string
}

// Connect handles GET /api/v1/realtime.
func (h RealtimeHandler) Connect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := currentIdentity(ctx, w)
	if !ok {
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  4096,
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin:      h.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		logging.FromContext(ctx).Warn("websocket upgrade failed", "error", err)
		return
	}

	var greet func() []realtime.Message
	if h.Messages != nil {
		greet = func() []realtime.Message {
			return []realtime.Message{{Type: realtime.MessageTypeMessages, Data: h.Messages.Messages().Messages}}
		}
	}
	if _, err := h.Hub.Attach(conn, identity.UserID, greet); err != nil {
		logging.FromContext(ctx).Warn("attach websocket client", "error", err)
	}
}

func (h RealtimeHandler) checkOrigin(r *http.Request) bool {
	if len(h.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return false
	}
	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range h.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) || strings.EqualFold(allowed, parsed.Host) {
			return true
		}
	}
	return false
}
