package handler

import (
	"net/http"

	"github.com/kiranshivaraju/tutoreval/internal/api/response"
	"github.com/kiranshivaraju/tutoreval/internal/engine"
)

// EngineCatalog lists the engines a selector can resolve to.
type EngineCatalog interface {
	Engines() []engine.EngineInfo
}

type metricInfo struct {
	ID string `json:"id"`
}

// NewListMetricsHandler returns an http.HandlerFunc for GET /api/v1/metrics.
func NewListMetricsHandler(catalog MetricCatalog) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		ids := catalog.IDs()
		out := make([]metricInfo, 0, len(ids))
		for _, id := range ids {
			out = append(out, metricInfo{ID: id})
		}
		response.JSON(w, out)
	}
}

// NewListEnginesHandler returns an http.HandlerFunc for GET /api/v1/engines.
func NewListEnginesHandler(catalog EngineCatalog) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		response.JSON(w, catalog.Engines())
	}
}
