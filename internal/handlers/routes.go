package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starryvlog/backend/internal/middleware"
)

// NewRouter wires HTTP handlers into a chi router. Cross-cutting middleware
// such as request logging is applied by the caller.
func NewRouter(deps Dependencies) chi.Router {
	health := HealthHandler{Database: deps.Database}
	authn := AuthHandler{Users: deps.Users, Sessions: deps.Sessions}
	videos := VideoHandler{
		Publisher:      deps.Publisher,
		Feed:           deps.Feed,
		Likes:          deps.Likes,
		Comments:       deps.Comments,
		MaxUploadBytes: deps.MaxUploadBytes,
	}
	messages := MessageHandler{Messages: deps.Messages}
	live := RealtimeHandler{Hub: deps.Hub, Messages: deps.Messages, AllowedOrigins: deps.AllowedOrigins}
	affirmation := AffirmationHandler{}

	r := chi.NewRouter()
	r.Get("/healthz", health.Handle)
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/affirmation", affirmation.Today)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(deps.AuthLimiter, "auth"))
			r.Post("/auth/signup", authn.SignUp)
			r.Post("/auth/login", authn.Login)
			r.Post("/auth/refresh", authn.Refresh)
			r.Post("/auth/logout", authn.Logout)
		})

		r.Group(func(r chi.Router) {
			if deps.Sessions != nil {
				r.Use(middleware.SessionGate(deps.Sessions))
			}

			r.Get("/auth/session", authn.Session)

			r.With(middleware.RateLimit(deps.UploadLimiter, "upload")).Post("/videos", videos.Publish)
			r.Get("/videos/feed", videos.ListFeed)
			r.Delete("/videos/{id}", videos.Delete)
			r.Post("/videos/{id}/like", videos.Like)
			r.Post("/videos/{id}/comments", videos.AddComment)
			r.Delete("/comments/{id}", videos.DeleteComment)

			r.Get("/messages", messages.List)
			r.Post("/messages", messages.Send)
			r.Delete("/messages/{id}", messages.Delete)

			r.Get("/realtime", live.Connect)
		})
	})

	return r
}
