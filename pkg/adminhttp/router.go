// Package adminhttp mounts the operator-facing HTTP surface: Prometheus
// metrics and the three-tier health probe set. Grounded on
// wisbric-nightowl/internal/httpserver/server.go's chi.Mux construction,
// trimmed to the unauthenticated endpoints this node exposes (spec.md §9
// excludes an authenticated admin API from this system's scope).
package adminhttp

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/meridianvpn/fleet/pkg/metrics"
)

// NewRouter builds the admin HTTP router: /metrics, /healthz, /readyz, and
// /livez, each backed by pkg/metrics' existing collectors/handlers.
func NewRouter(logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(hlog.NewHandler(logger))
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/metrics", metrics.Handler().ServeHTTP)
	r.Get("/healthz", metrics.HealthHandler())
	r.Get("/readyz", metrics.ReadyHandler())
	r.Get("/livez", metrics.LivenessHandler())

	return r
}

// requestLogger emits one structured log line per admin request, in the
// access-log shape hlog.AccessHandler produces.
func requestLogger(next http.Handler) http.Handler {
	return hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Dur("duration", duration).
			Msg("admin request")
	})(next)
}
