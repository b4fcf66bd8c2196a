package api

import (
	"net/http"

	mw "github.com/kiranshivaraju/tutoreval/internal/api/middleware"
	"github.com/kiranshivaraju/tutoreval/internal/api/handler"
	"github.com/kiranshivaraju/tutoreval/internal/cache"
	"github.com/kiranshivaraju/tutoreval/internal/store"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Services are the components the HTTP surface is built from.
type Services struct {
	Store   store.Store
	Cache   cache.Cache
	Jobs    handler.JobService
	Metrics handler.MetricCatalog
	Engines handler.EngineCatalog
	// RequestsPerMinute is the per-key limit; <= 0 uses the default.
	RequestsPerMinute int
}

// New wires every handler to s and returns the router. A nil Cache falls
// back to an in-process counter for rate limiting.
func New(s Services) http.Handler {
	health := map[string]handler.Pinger{"database": s.Store}
	var counter mw.Counter = cache.NewMemoryCache()
	if s.Cache != nil {
		health["cache"] = s.Cache
		counter = s.Cache
	}

	return NewRouter(Dependencies{
		Auth:      mw.NewAuth(s.Store),
		RateLimit: mw.NewRateLimit(counter, s.RequestsPerMinute),

		HealthHandler:  handler.NewHealthHandler(health),
		MetricsHandler: promhttp.Handler(),

		CreateEvaluation: handler.NewCreateEvaluationHandler(s.Jobs),
		ListEvaluations:  handler.NewListEvaluationsHandler(s.Jobs),
		GetEvaluation:    handler.NewGetEvaluationHandler(s.Jobs),
		CancelEvaluation: handler.NewCancelEvaluationHandler(s.Jobs),
		ListCases:        handler.NewListCasesHandler(s.Jobs, s.Store),
		GetCase:          handler.NewGetCaseHandler(s.Store),
		ResultsCSV:       handler.NewResultsCSVHandler(s.Jobs, s.Store),
		Distribution:     handler.NewDistributionHandler(s.Jobs, s.Store, s.Metrics),

		ListMetrics: handler.NewListMetricsHandler(s.Metrics),
		ListEngines: handler.NewListEnginesHandler(s.Engines),

		CreateDataset: handler.NewCreateDatasetHandler(s.Store),
		ListDatasets:  handler.NewListDatasetsHandler(s.Store),
		GetDataset:    handler.NewGetDatasetHandler(s.Store),

		CreateKeyHandler: handler.NewCreateKeyHandler(s.Store),
		ListKeysHandler:  handler.NewListKeysHandler(s.Store),
		RevokeKeyHandler: handler.NewRevokeKeyHandler(s.Store),
	})
}
