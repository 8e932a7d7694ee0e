package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"sellerdesk/internal/auth/csrf"
	"sellerdesk/internal/auth/ratelimit"
)

// NewRouter assembles the HTTP surface. /auth/login carries its limiter
// inside the service keyed by account and IP; everything else shares the
// per-IP API bucket.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Route("/auth", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(h.rateLimit(ratelimit.APIPolicy))
			r.Post("/register", h.Register)
			r.Post("/login", h.Login)
			r.Post("/refresh", h.Refresh)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.requireAuth)
			r.Use(csrf.Middleware)
			r.Post("/logout", h.Logout)
			r.Post("/logout_all", h.LogoutAll)
			r.Post("/password", h.ChangePassword)
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(h.rateLimit(ratelimit.APIPolicy))
		r.Use(h.requireAuth)
		r.Get("/me", h.Me)
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return r
}
