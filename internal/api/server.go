// Package api exposes the registry over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sells-group/contractml/internal/config"
	"github.com/sells-group/contractml/internal/model"
	"github.com/sells-group/contractml/internal/registry"
)

// Service is the registry surface the handlers need.
type Service interface {
	Execute(ctx context.Context, domain, version string, payload model.Payload) (*model.ExecutionResult, error)
	ExecuteWithMigration(ctx context.Context, req registry.ExecuteRequest) (*model.ExecutionResult, error)
	Migrate(ctx context.Context, req registry.MigrateRequest) (model.Payload, model.MigrationOutcome, error)
	AvailableVersions(domain string) ([]string, error)
	LatestVersion(domain string) (string, error)
	Domains() (map[string][]string, error)
}

// Options configures the router.
type Options struct {
	Server config.ServerConfig
	// Gatherer backs /metrics; nil uses the default registry.
	Gatherer prometheus.Gatherer
}

// Handler serves the prediction endpoints.
type Handler struct {
	svc      Service
	maxBytes int64
}

// NewRouter builds the HTTP handler with middleware and every route mounted.
func NewRouter(svc Service, opts Options) http.Handler {
	h := &Handler{svc: svc, maxBytes: opts.Server.MaxRequestBytes}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders)
	if opts.Server.CORS.Enabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   opts.Server.CORS.Origins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"*"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}
	if opts.Server.RequestTimeoutSecs > 0 {
		r.Use(middleware.Timeout(time.Duration(opts.Server.RequestTimeoutSecs) * time.Second))
	}

	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Get("/health", h.health)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		rl := opts.Server.RateLimit
		if rl.RequestsPerSecond > 0 {
			r.Use(newClientLimiter(rl.RequestsPerSecond, rl.Burst).middleware)
		}
		h.Register(r)
	})
	return r
}

// Register mounts the contract endpoints on r.
func (h *Handler) Register(r chi.Router) {
	r.Get("/contracts", h.listContracts)
	r.Route("/predict", func(r chi.Router) {
		r.Post("/migrate", h.migrate)
		r.Get("/{domain}/versions", h.versions)
		r.Post("/{domain}/{version}", h.predict)
		r.Post("/{domain}/{version}/execute-with-migration", h.executeWithMigration)
	})
}
