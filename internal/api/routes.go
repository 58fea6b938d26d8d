package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/ignite/engagement-tracker/internal/pkg/httputil"
	"github.com/ignite/engagement-tracker/internal/pkg/metrics"
	"github.com/ignite/engagement-tracker/internal/pkg/ratelimit"
	"github.com/ignite/engagement-tracker/internal/tracking"
)

// RouterOptions selects which route groups a binary serves. Nil groups are
// not mounted.
type RouterOptions struct {
	Tracking  *tracking.Handler
	Analytics *AnalyticsHandlers
	Events    *EventsHandler
	Health    *HealthChecker

	APIKey         string
	AllowedOrigins []string
	// Limiter throttles the JSON API per client IP. The tracking routes are
	// never throttled.
	Limiter *ratelimit.Limiter
}

// SetupRoutes configures all routes.
func SetupRoutes(o RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(metrics.Middleware(routePattern))
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httputil.NotFound(w, "route not found")
	})

	r.Handle("/metrics", metrics.Handler())

	if o.Health != nil {
		r.Get("/health", o.Health.HandleHealth)
		r.Get("/health/live", o.Health.HandleLiveness)
		r.Get("/health/ready", o.Health.HandleReadiness)
	}

	// Mail clients call the tracking routes; they get no CORS, auth or
	// throttling.
	if o.Tracking != nil {
		o.Tracking.Mount(r)
	}

	if o.Analytics == nil && o.Events == nil {
		return r
	}

	r.Group(func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   allowedOrigins(o.AllowedOrigins),
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", APIKeyHeader},
			ExposedHeaders:   []string{"Link"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
		if o.Limiter != nil {
			r.Use(o.Limiter.Middleware(httputil.TooManyRequests))
		}
		r.Use(APIKeyAuth(o.APIKey))

		if o.Analytics != nil {
			o.Analytics.RegisterRoutes(r)
		}
		if o.Events != nil {
			o.Events.RegisterRoutes(r)
		}
	})

	return r
}

func allowedOrigins(configured []string) []string {
	if len(configured) > 0 {
		return configured
	}
	return []string{"http://localhost:5173", "http://localhost:8080"}
}
