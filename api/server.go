/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the timesheet frontend

ROUTE GROUPS:
  /health               Liveness
  /metrics              Prometheus scrape endpoint
  /api/toil/*           Balances, recalculation, usage, deletion, reference data
  /api/admin/*          Repair, expiry and cleanup sweeps

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/serve.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig holds the router's tunables.
type RouterConfig struct {
	AllowedOrigins []string
	Gatherer       prometheus.Gatherer // nil uses the default registry
}

// DefaultAllowedOrigins are the dev frontend origins.
var DefaultAllowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = DefaultAllowedOrigins
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/toil", func(r chi.Router) {
			// Per-user routes
			r.Route("/users/{userID}", func(r chi.Router) {
				r.Get("/summary", h.GetSummary)
				r.Get("/accruals", h.ListAccruals)
				r.Get("/usage", h.ListUsage)
				r.Post("/usage", h.RecordUsage)
				r.Post("/recalculate", h.Recalculate)
				r.Get("/schedule", h.GetSchedule)
				r.Put("/schedule", h.PutSchedule)
			})

			// Entry deletion notifications
			r.Delete("/entries/{entryID}", h.DeleteEntry)

			// Holiday routes
			r.Route("/holidays", func(r chi.Router) {
				r.Get("/", h.ListHolidays)
				r.Post("/", h.CreateHoliday)
			})

			r.Get("/events", h.StreamEvents)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/repair", h.Repair)
			r.Post("/expire", h.Expire)
			r.Post("/cleanup", h.Cleanup)
		})
	})

	return r
}
