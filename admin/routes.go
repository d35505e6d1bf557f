package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// NewRouter builds the admin API router
func NewRouter(handlers *AdminHandlers) chi.Router {
	r := chi.NewRouter()
	r.Use(AuthMiddleware)

	r.Get("/health", handlers.handleHealth)
	r.Get("/observers", handlers.handleObservers)
	r.Get("/notifications", handlers.handleNotifications)

	r.Route("/processor", func(r chi.Router) {
		r.Get("/stats", handlers.handleProcessorStats)
		r.Post("/clear", handlers.handleClear)
	})

	return r
}

// RegisterRoutes mounts the admin API under /admin
func RegisterRoutes(mux *http.ServeMux, handlers *AdminHandlers) {
	r := NewRouter(handlers)

	mux.Handle("/admin", http.RedirectHandler("/admin/", http.StatusMovedPermanently))
	mux.Handle("/admin/", http.StripPrefix("/admin", r))

	log.Info().Msg("Admin endpoints enabled at /admin/*")
}
