// Package api exposes the native-app authentication exchange over HTTP.
package api

import (
	_ "embed"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"

	"github.com/b-editor/beutl-auth/deviceauth"
)

// API holds the dependencies needed by the REST handlers.
type API struct {
	registry      *deviceauth.Registry
	exchanger     *deviceauth.Exchanger
	identity      IdentityProvider
	publicBaseURL string
	signInURL     string
	limiter       *exchangeRateLimiter
	audit         *auditLogger
}

//go:embed openapi.yaml
var openapiSpec []byte

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger for audit events.
// If not set, a default JSON logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		a.audit = newAuditLogger(logger)
	}
}

// WithPublicBaseURL sets the externally visible base URL used when
// constructing auth URIs for the browser hand-off.
func WithPublicBaseURL(baseURL string) Option {
	return func(a *API) {
		a.publicBaseURL = baseURL
	}
}

// WithSignInURL sets where unauthenticated hand-off visits are redirected,
// with a returnUrl parameter appended. If unset, the handler responds 401.
func WithSignInURL(signInURL string) Option {
	return func(a *API) {
		a.signInURL = signInURL
	}
}

// WithAlertFunc installs an anomaly alert callback on the audit pipeline.
func WithAlertFunc(fn AlertFunc) Option {
	return func(a *API) {
		a.audit.metrics = newMetricsCollector(fn)
	}
}

// New creates a new API instance.
func New(registry *deviceauth.Registry, exchanger *deviceauth.Exchanger, identity IdentityProvider, opts ...Option) *API {
	a := &API{
		registry:      registry,
		exchanger:     exchanger,
		identity:      identity,
		publicBaseURL: "http://localhost:8080",
		limiter:       newExchangeRateLimiter(),
		audit:         newAuditLogger(slog.New(slog.NewJSONHandler(os.Stderr, nil))),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Router returns a chi.Router with all API routes mounted.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})

	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/docs",
	}, nil))

	r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/redoc",
	}, nil))

	r.Post("/account/createAuthUri", a.CreateAuthURI)
	r.Get("/account/handler", a.Handoff)
	r.Post("/account/code2jwt", a.ExchangeCode)
	r.Post("/account/refresh", a.Refresh)

	return r
}
