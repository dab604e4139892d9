// Package server implements the HTTP transport layer: the C9 ingress
// router (client-facing completions endpoints) and the C10 admin surface.
package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/trace"

	gateway "github.com/keystonegw/gateway/internal"
	"github.com/keystonegw/gateway/internal/billing"
	"github.com/keystonegw/gateway/internal/provider"
	"github.com/keystonegw/gateway/internal/storage"
	"github.com/keystonegw/gateway/internal/telemetry"
)

// ReadyChecker reports whether the system is ready to serve traffic.
type ReadyChecker func(ctx context.Context) error

// Invalidator is the subset of cache.Coherent the admin surface needs to
// publish invalidations after a successful mutation.
type Invalidator interface {
	InvalidateAccount(ctx context.Context, userID string)
	InvalidateKey(ctx context.Context, hash string)
	InvalidatePrice(ctx context.Context, model string)
}

// Deps holds all dependencies for the HTTP server.
type Deps struct {
	Auth      gateway.Authenticator
	Providers *provider.Registry
	Ledger    *billing.Ledger
	Store     storage.Store // also used directly by the admin surface
	Cache     Invalidator   // nil = admin mutations publish no invalidation

	AdminKey string // static admin-secret bearer token

	Metrics        *telemetry.Metrics // nil = no Prometheus metrics
	MetricsHandler http.Handler       // nil = no /metrics endpoint
	Tracer         trace.Tracer       // nil = no distributed tracing
	ReadyCheck     ReadyChecker       // nil = always ready (for tests)
}

// New creates an http.Handler with all routes and middleware wired.
func New(deps Deps) http.Handler {
	s := &server{deps: deps}

	r := chi.NewRouter()

	r.Use(s.securityHeaders)
	r.Use(s.recovery)
	r.Use(s.requestID)
	r.Use(s.logging)
	if deps.Metrics != nil {
		r.Use(metricsMiddleware(deps.Metrics))
	}
	if deps.Tracer != nil {
		r.Use(tracingMiddleware(deps.Tracer))
	}

	r.Get("/health", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Post("/v1/chat/completions", s.handleCompletion(gateway.FamilyOpenAIChat))
		r.Post("/v1/responses", s.handleCompletion(gateway.FamilyOpenAIResponses))
		r.Post("/v1/messages", s.handleCompletion(gateway.FamilyAnthropicMessages))
		r.Get("/v1/models", s.handleListModels)
		r.Get("/v1/account", s.handleGetSelfAccount)
	})

	if deps.Store != nil {
		r.Route("/admin", func(r chi.Router) {
			r.Use(s.requireAdmin)

			r.Post("/accounts", s.handleCreateAccount)
			r.Get("/accounts", s.handleListAccounts)
			r.Get("/accounts/{user_id}", s.handleGetAccount)
			r.Patch("/accounts/{user_id}", s.handleUpdateAccount)

			r.Post("/keys", s.handleCreateKey)
			r.Post("/keys/bulk", s.handleBulkCreateKeys)
			r.Get("/keys/{user_id}", s.handleListKeysByUser)
			r.Patch("/keys/{key}", s.handleUpdateKey)

			r.Post("/costs", s.handleUpsertPrice)
			r.Get("/costs", s.handleListPrices)
			r.Get("/costs/{model}", s.handleGetPrice)
			r.Delete("/costs/{model}", s.handleDeletePrice)

			r.Get("/usage/{user_id}", s.handleUsageWindow)
		})
	}

	return r
}

type server struct {
	deps Deps
}
