package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/tutoreval/internal/api/response"
	"github.com/kiranshivaraju/tutoreval/internal/jobs"
	"github.com/kiranshivaraju/tutoreval/internal/store"
	"github.com/kiranshivaraju/tutoreval/internal/tracing"
	"github.com/kiranshivaraju/tutoreval/pkg/models"
)

type createEvaluationRequest struct {
	DatasetID        string                  `json:"dataset_id"`
	CaseFilters      map[string]any          `json:"case_filters"`
	EngineSelector   json.RawMessage         `json:"engine_selector"`
	EvaluationConfig models.EvaluationConfig `json:"evaluation_config"`
	Mode             string                  `json:"mode"`
}

type createEvaluationResponse struct {
	JobID    uuid.UUID `json:"job_id"`
	Status   string    `json:"status"`
	NumCases int       `json:"num_cases"`
	TraceID  string    `json:"trace_id"`
}

// NewCreateEvaluationHandler returns an http.HandlerFunc for POST /api/v1/evaluations.
func NewCreateEvaluationHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := tenantOrAbort(w, r)
		if !ok {
			return
		}

		var req createEvaluationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if req.DatasetID == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "dataset_id is required", nil)
			return
		}
		datasetID, err := uuid.Parse(req.DatasetID)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_DATASET_ID", "Invalid dataset_id format", nil)
			return
		}
		if req.Mode != "" && req.Mode != models.ModeAsync && req.Mode != models.ModeSync {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "mode must be async or sync", nil)
			return
		}
		if req.EvaluationConfig.TimeoutSeconds < 0 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "evaluation_config.timeout must not be negative", nil)
			return
		}

		job, err := svc.CreateJob(r.Context(), jobs.CreateJobParams{
			TenantID:         tenantID,
			DatasetID:        datasetID,
			Filters:          req.CaseFilters,
			EngineSelector:   req.EngineSelector,
			EvaluationConfig: req.EvaluationConfig,
			Mode:             req.Mode,
		})
		if err != nil {
			writeJobError(w, err)
			return
		}

		response.Accepted(w, createEvaluationResponse{
			JobID:    job.ID,
			Status:   job.Status,
			NumCases: job.NumCases,
			TraceID:  tracing.TraceID(r.Context()),
		})
	}
}

// NewListEvaluationsHandler returns an http.HandlerFunc for GET /api/v1/evaluations.
func NewListEvaluationsHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := tenantOrAbort(w, r)
		if !ok {
			return
		}
		page, limit := pageParams(r)
		status := r.URL.Query().Get("status")

		list, total, err := svc.ListJobs(r.Context(), store.JobFilter{TenantID: tenantID, Status: status, Page: page, Limit: limit})
		if err != nil {
			slog.Error("listing jobs", "tenant_id", tenantID, "error", err)
			internalError(w)
			return
		}
		if list == nil {
			list = []*models.Job{}
		}
		response.Collection(w, list, response.Meta(page, limit, total))
	}
}

// NewGetEvaluationHandler returns an http.HandlerFunc for GET /api/v1/evaluations/{jobID}.
func NewGetEvaluationHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := tenantOrAbort(w, r)
		if !ok {
			return
		}
		jobID, ok := uuidParam(w, r, "jobID", "INVALID_JOB_ID")
		if !ok {
			return
		}

		job, err := svc.GetJob(r.Context(), jobID, tenantID)
		if err != nil {
			writeJobError(w, err)
			return
		}
		response.JSON(w, job)
	}
}

// NewCancelEvaluationHandler returns an http.HandlerFunc for POST /api/v1/evaluations/{jobID}/cancel.
func NewCancelEvaluationHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := tenantOrAbort(w, r)
		if !ok {
			return
		}
		jobID, ok := uuidParam(w, r, "jobID", "INVALID_JOB_ID")
		if !ok {
			return
		}

		job, err := svc.CancelJob(r.Context(), jobID, tenantID)
		if err != nil {
			writeJobError(w, err)
			return
		}
		response.Accepted(w, job)
	}
}

func writeJobError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, jobs.ErrDatasetNotFound):
		response.Error(w, http.StatusNotFound, "DATASET_NOT_FOUND", "Dataset not found", nil)
	case errors.Is(err, jobs.ErrJobNotFound):
		response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "Job not found", nil)
	case errors.Is(err, jobs.ErrInvalidFilters):
		response.Error(w, http.StatusBadRequest, "INVALID_FILTERS", err.Error(), nil)
	case errors.Is(err, jobs.ErrInvalidConfig):
		response.Error(w, http.StatusBadRequest, "INVALID_CONFIG", err.Error(), nil)
	case errors.Is(err, jobs.ErrInvalidCase):
		response.Error(w, http.StatusBadRequest, "INVALID_CASE", err.Error(), nil)
	case errors.Is(err, jobs.ErrQueueUnavailable):
		response.Error(w, http.StatusServiceUnavailable, "QUEUE_UNAVAILABLE",
			"The task queue is not available; the job was marked failed", nil)
	default:
		slog.Error("job request failed", "error", err)
		internalError(w)
	}
}
