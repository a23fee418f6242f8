/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, middleware stack, and route definitions. This
  is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for internal tooling

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/visitorderd: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates a router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/prisoners", func(r chi.Router) {
			r.Post("/merge", h.Merge)

			r.Route("/{prisonerID}", func(r chi.Router) {
				r.Get("/balance", h.GetBalance)
				r.Get("/history", h.GetHistory)
				r.Get("/history/{entryID}/changes", h.GetHistoryChanges)
				r.Post("/allocation", h.RunAllocation)
				r.Post("/adjustments", h.CreateAdjustment)
				r.Post("/migration", h.Migrate)
				r.Post("/sync", h.Sync)
			})
		})

		r.Route("/visits", func(r chi.Router) {
			r.Post("/booked", h.VisitBooked)
			r.Post("/cancelled", h.VisitCancelled)
			r.Post("/moved", h.VisitMoved)
		})

		r.Route("/prisons", func(r chi.Router) {
			r.Post("/{prisonID}/allocation", h.RunPrisonAllocation)
		})
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
