package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/starryvlog/backend/internal/logging"
)

// HealthHandler responds with service health information.
type HealthHandler struct {
	Database Pinger
}

// Handle implements GET /healthz. The database is pinged when configured.
func (h HealthHandler) Handle(w http.ResponseWriter, r *http.Request) {
	payload := map[string]string{"status": "ok"}

	if h.Database != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.Database.Ping(ctx); err != nil {
			logging.FromContext(r.Context()).Warn("health check database ping failed", "error", err)
			payload["status"] = "degraded"
			payload["database"] = "unreachable"
			respondJSON(r.Context(), w, http.StatusServiceUnavailable, payload)
			return
		}
		payload["database"] = "ok"
	}

	respondJSON(r.Context(), w, http.StatusOK, payload)
}
