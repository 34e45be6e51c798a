// Package api is the thin HTTP surface over the Dispatcher, Store, and
// Sweep: routing and JSON marshaling only. It carries no authentication or
// authorization policy.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/deltran/screening/internal/dispatch"
	"github.com/deltran/screening/internal/observability"
	"github.com/deltran/screening/internal/refresh"
	"github.com/deltran/screening/internal/store"
)

// API wires the six external operations named by spec.md §6.
type API struct {
	dispatcher *dispatch.Dispatcher
	store      *store.Store
	sweep      *refresh.Sweep
	metrics    *observability.Metrics
	logger     *zap.Logger
}

// New builds an API. metrics may be nil, in which case no HTTP metrics
// middleware is installed.
func New(dispatcher *dispatch.Dispatcher, st *store.Store, sweep *refresh.Sweep, metrics *observability.Metrics, logger *zap.Logger) *API {
	return &API{dispatcher: dispatcher, store: st, sweep: sweep, metrics: metrics, logger: logger}
}

// Router builds the chi router with every route registered.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if a.metrics != nil {
		r.Use(observability.MetricsMiddleware(a.metrics))
	}

	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/healthz", a.handleHealthz)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/screen", a.handleScreen)
		r.Post("/screen/bulk", a.handleEnqueueBulk)
		r.Get("/jobs/{jobID}", a.handleGetJob)
		r.Get("/screened", a.handleSearchScreened)
		r.Post("/refresh", a.handleRefresh)
		r.Post("/screened/{entityKey}/false-positive", a.handleMarkFalsePositive)
	})

	return r
}

func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := a.store.HealthCheck(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unreachable")
		return
	}
	w.WriteHeader(http.StatusOK)
}
