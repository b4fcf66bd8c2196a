package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/tutoreval/internal/api/response"
	"github.com/kiranshivaraju/tutoreval/internal/scoring"
	"github.com/kiranshivaraju/tutoreval/internal/store"
	"github.com/kiranshivaraju/tutoreval/pkg/models"
)

// MetricCatalog lists registered metric ids in registration order.
type MetricCatalog interface {
	IDs() []string
}

const exportPageSize = 100

// NewListCasesHandler returns an http.HandlerFunc for
// GET /api/v1/evaluations/{jobID}/cases?min_score&max_score&page&limit.
func NewListCasesHandler(svc JobService, results ResultStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, jobID, ok := jobScope(w, r, svc)
		if !ok {
			return
		}
		minScore, ok := scoreParam(w, r, "min_score")
		if !ok {
			return
		}
		maxScore, ok := scoreParam(w, r, "max_score")
		if !ok {
			return
		}
		page, limit := pageParams(r)

		list, total, err := results.ListCaseResults(r.Context(), store.CaseResultFilter{
			TenantID: tenantID,
			JobID:    jobID,
			MinScore: minScore,
			MaxScore: maxScore,
			Page:     page,
			Limit:    limit,
		})
		if err != nil {
			slog.Error("listing case results", "job_id", jobID, "error", err)
			internalError(w)
			return
		}

		out := make([]models.CaseResult, 0, len(list))
		for _, cr := range list {
			c := *cr
			c.Raw = nil
			out = append(out, c)
		}
		response.Collection(w, out, response.Meta(page, limit, total))
	}
}

// NewGetCaseHandler returns an http.HandlerFunc for GET /api/v1/evaluations/{jobID}/cases/{caseID}.
func NewGetCaseHandler(results ResultStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := tenantOrAbort(w, r)
		if !ok {
			return
		}
		jobID, ok := uuidParam(w, r, "jobID", "INVALID_JOB_ID")
		if !ok {
			return
		}
		caseID := chi.URLParam(r, "caseID")

		cr, err := results.GetCaseResult(r.Context(), jobID, tenantID, caseID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "CASE_NOT_FOUND", "Case result not found", nil)
				return
			}
			slog.Error("getting case result", "job_id", jobID, "case_id", caseID, "error", err)
			internalError(w)
			return
		}
		response.JSON(w, cr)
	}
}

// NewResultsCSVHandler returns an http.HandlerFunc for GET /api/v1/evaluations/{jobID}/results.csv.
func NewResultsCSVHandler(svc JobService, results ResultStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, jobID, ok := jobScope(w, r, svc)
		if !ok {
			return
		}
		all, err := allResults(r.Context(), results, tenantID, jobID)
		if err != nil {
			slog.Error("exporting case results", "job_id", jobID, "error", err)
			internalError(w)
			return
		}
		if len(all) == 0 {
			response.Error(w, http.StatusNotFound, "RESULTS_NOT_FOUND", "No results recorded for this job yet", nil)
			return
		}

		metricIDs := metricColumns(all)
		header := append([]string{"case_id", "engine_id", "status", "query_type", "aggregated_score", "latency_ms", "evaluated_at"}, metricIDs...)
		rows := make([][]string, 0, len(all))
		for _, cr := range all {
			row := []string{
				cr.CaseID,
				cr.EngineID,
				cr.Status,
				cr.QueryType,
				strconv.FormatFloat(cr.AggregatedScore, 'f', 4, 64),
				strconv.FormatInt(cr.LatencyMS, 10),
				cr.EvaluatedAt.UTC().Format(time.RFC3339),
			}
			for _, id := range metricIDs {
				if s, ok := cr.Scores[id]; ok {
					row = append(row, strconv.Itoa(s.Value))
				} else {
					row = append(row, "")
				}
			}
			rows = append(rows, row)
		}
		response.CSV(w, fmt.Sprintf("results_%s.csv", jobID), header, rows)
	}
}

type distributionResponse struct {
	JobID        uuid.UUID              `json:"job_id"`
	CaseCount    int                    `json:"case_count"`
	Distribution map[string]map[int]int `json:"distribution"`
}

// NewDistributionHandler returns an http.HandlerFunc for
// GET /api/v1/evaluations/{jobID}/metrics/distribution?metric=. Without a
// metric parameter every registered metric is reported.
func NewDistributionHandler(svc JobService, results ResultStore, catalog MetricCatalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, jobID, ok := jobScope(w, r, svc)
		if !ok {
			return
		}
		ids := catalog.IDs()
		if metric := r.URL.Query().Get("metric"); metric != "" {
			if !slices.Contains(ids, metric) {
				response.Error(w, http.StatusBadRequest, "UNKNOWN_METRIC", "Unknown metric "+strconv.Quote(metric), nil)
				return
			}
			ids = []string{metric}
		}

		all, err := allResults(r.Context(), results, tenantID, jobID)
		if err != nil {
			slog.Error("loading case results", "job_id", jobID, "error", err)
			internalError(w)
			return
		}
		dist := make(map[string]map[int]int, len(ids))
		for _, id := range ids {
			dist[id] = scoring.Distribution(all, id)
		}
		response.JSON(w, distributionResponse{JobID: jobID, CaseCount: len(all), Distribution: dist})
	}
}

// jobScope resolves tenant and job id and confirms the job exists.
func jobScope(w http.ResponseWriter, r *http.Request, svc JobService) (uuid.UUID, uuid.UUID, bool) {
	tenantID, ok := tenantOrAbort(w, r)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	jobID, ok := uuidParam(w, r, "jobID", "INVALID_JOB_ID")
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	if _, err := svc.GetJob(r.Context(), jobID, tenantID); err != nil {
		writeJobError(w, err)
		return uuid.Nil, uuid.Nil, false
	}
	return tenantID, jobID, true
}

func scoreParam(w http.ResponseWriter, r *http.Request, name string) (*float64, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, true
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < 0 || v > 1 {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", name+" must be a number between 0 and 1", nil)
		return nil, false
	}
	return &v, true
}

func allResults(ctx context.Context, results ResultStore, tenantID, jobID uuid.UUID) ([]*models.CaseResult, error) {
	var all []*models.CaseResult
	for page := 1; ; page++ {
		batch, total, err := results.ListCaseResults(ctx, store.CaseResultFilter{
			TenantID: tenantID,
			JobID:    jobID,
			Page:     page,
			Limit:    exportPageSize,
		})
		if err != nil {
			return nil, err
		}
		all = append(all, batch...)
		if len(batch) < exportPageSize || len(all) >= total {
			return all, nil
		}
	}
}

func metricColumns(results []*models.CaseResult) []string {
	seen := map[string]struct{}{}
	for _, cr := range results {
		for id := range cr.Scores {
			seen[id] = struct{}{}
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
