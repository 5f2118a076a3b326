// Package api exposes the rating queries, ingestion and administration over
// HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/alecgard/ratekeeper/internal/auth"
	"github.com/alecgard/ratekeeper/internal/frames"
	"github.com/alecgard/ratekeeper/internal/metrics"
	"github.com/alecgard/ratekeeper/internal/ratelimit"
	"github.com/alecgard/ratekeeper/internal/rating"
	"github.com/alecgard/ratekeeper/internal/ratingconfig"
	"github.com/alecgard/ratekeeper/internal/tenant"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// Pinger checks the database connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterDeps holds all dependencies for the API router.
type RouterDeps struct {
	Engine      *rating.Engine
	FrameStore  *frames.Store
	TenantStore *tenant.Store
	Resolver    *tenant.Resolver
	ConfigStore *ratingconfig.Store
	ActiveRules ratingconfig.ActiveSource
	Backend     auth.Backend
	Users       *auth.LocalBackend
	Metrics     *metrics.Metrics
	Limiter     *ratelimit.Limiter
	DB          Pinger

	Ranges         rating.RangeDefaults
	MaxBatchSize   int
	AdminKey       string
	AllowedOrigins []string
}

// NewRouter builds the chi router with all routes and middleware.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chimw.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(secureHeaders)
	r.Use(corsMiddleware(deps.AllowedOrigins))
	r.Use(slogRequestLogger)
	if deps.Metrics != nil {
		r.Use(metricsMiddleware(deps.Metrics))
	}

	r.Get("/health", healthHandler(deps.DB))
	r.Get("/alive", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics.ExpositionHandler())
		r.Get("/api/v1/status", deps.Metrics.Handler())
	}

	active := deps.ActiveRules
	if active == nil && deps.ConfigStore != nil {
		active = ratingconfig.NewCache(deps.ConfigStore)
	}
	if active != nil {
		r.Handle("/rules/metrics", metrics.CollectorHandler(ratingconfig.NewRulesCollector(active)))
	}

	ratings := newRatingHandler(deps.Engine, deps.Resolver, deps.TenantStore, deps.Ranges)
	rules := newRatingRulesHandler(deps.ConfigStore, active)
	frameOps := newFramesHandler(deps.FrameStore, deps.Resolver, deps.MaxBatchSize)
	tenants := newTenantsHandler(deps.TenantStore, deps.Users)

	// Admin routes (require admin key).
	r.Route("/api/v1/admin", func(ar chi.Router) {
		ar.Use(auth.AdminAuthMiddleware(deps.AdminKey))

		ar.Post("/frames", frameOps.Ingest)
		ar.Post("/frames/delete", frameOps.Delete)
		ar.Get("/frames/status", frameOps.Status)

		ar.Post("/ratingrules", rules.Create)
		ar.Put("/ratingrules/{timestamp}", rules.Update)
		ar.Delete("/ratingrules/{timestamp}", rules.Delete)

		ar.Get("/tenants", tenants.ListTenants)
		ar.Get("/tenants/{tenant}", tenants.GetTenant)
		ar.Post("/tenants/link", tenants.Link)
		ar.Post("/tenants/unlink", tenants.Unlink)
		ar.Delete("/tenants/{tenant}", tenants.DeleteTenant)
		ar.Put("/namespaces/{namespace}", tenants.BindNamespace)

		ar.Post("/users", tenants.CreateUser)
	})

	// Tenant-scoped routes.
	r.Group(func(tr chi.Router) {
		tr.Use(auth.CallerMiddleware(deps.Backend))
		var onReject []func()
		if deps.Metrics != nil {
			onReject = append(onReject, deps.Metrics.IncRateLimited)
		}
		tr.Use(ratelimit.Middleware(deps.Limiter, onReject...))

		tr.Route("/api/v1", func(ar chi.Router) {
			ratings.routes(ar)

			ar.Get("/ratingrules", rules.List)
			ar.Get("/ratingrules/list", rules.ListVersions)
			ar.Get("/ratingrules/active", rules.Active)
			ar.Get("/ratingrules/{timestamp}", rules.Get)
			ar.Post("/ratingrules/validate", rules.Validate)

			ar.Get("/frames/oldest", frameOps.Oldest)
		})
	})

	return r
}

// healthHandler reports the service and, when db is set, the database state.
func healthHandler(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db == nil {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "database": "connected"})
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "database": "unreachable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "database": "connected"})
	}
}
