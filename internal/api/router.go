// Package api assembles the HTTP surface: middleware stack, auth groups and
// every route.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/kiranshivaraju/tutoreval/internal/api/middleware"
	"github.com/kiranshivaraju/tutoreval/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler  http.HandlerFunc
	MetricsHandler http.Handler

	CreateEvaluation http.HandlerFunc
	ListEvaluations  http.HandlerFunc
	GetEvaluation    http.HandlerFunc
	CancelEvaluation http.HandlerFunc
	ListCases        http.HandlerFunc
	GetCase          http.HandlerFunc
	ResultsCSV       http.HandlerFunc
	Distribution     http.HandlerFunc

	ListMetrics http.HandlerFunc
	ListEngines http.HandlerFunc

	CreateDataset http.HandlerFunc
	ListDatasets  http.HandlerFunc
	GetDataset    http.HandlerFunc

	CreateKeyHandler http.HandlerFunc
	ListKeysHandler  http.HandlerFunc
	RevokeKeyHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Get("/api/v1/metrics", orNotImplemented(deps.ListMetrics))
		r.Get("/api/v1/engines", orNotImplemented(deps.ListEngines))

		r.Route("/api/v1/evaluations", func(r chi.Router) {
			r.Get("/", orNotImplemented(deps.ListEvaluations))
			r.Get("/{jobID}", orNotImplemented(deps.GetEvaluation))
			r.Get("/{jobID}/cases", orNotImplemented(deps.ListCases))
			r.Get("/{jobID}/cases/{caseID}", orNotImplemented(deps.GetCase))
			r.Get("/{jobID}/results.csv", orNotImplemented(deps.ResultsCSV))
			r.Get("/{jobID}/metrics/distribution", orNotImplemented(deps.Distribution))

			r.Group(func(r chi.Router) {
				r.Use(deps.Auth.RequireScope(mw.ScopeWrite))
				r.Post("/", orNotImplemented(deps.CreateEvaluation))
				r.Post("/{jobID}/cancel", orNotImplemented(deps.CancelEvaluation))
			})
		})

		r.Route("/api/v1/datasets", func(r chi.Router) {
			r.Get("/", orNotImplemented(deps.ListDatasets))
			r.Get("/{datasetID}", orNotImplemented(deps.GetDataset))
			r.With(deps.Auth.RequireScope(mw.ScopeWrite)).Post("/", orNotImplemented(deps.CreateDataset))
		})

		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(mw.ScopeAdmin))
			r.Post("/api/v1/admin/keys", orNotImplemented(deps.CreateKeyHandler))
			r.Get("/api/v1/admin/keys", orNotImplemented(deps.ListKeysHandler))
			r.Delete("/api/v1/admin/keys/{keyID}", orNotImplemented(deps.RevokeKeyHandler))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
