package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/atmx/settlement-engine/internal/metrics"
)

// NewRouter builds the production HTTP stack: request logging, panic
// recovery, request IDs, a 30s request timeout and Prometheus metrics,
// with the service mounted under /api/v1 and the scrape endpoint at
// /metrics.
func NewRouter(svc *Service) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	r.Handle("/metrics", metrics.Handler())
	r.Route("/api/v1", svc.Routes)
	return r
}
