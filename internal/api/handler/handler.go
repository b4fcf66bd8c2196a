// Package handler implements the HTTP endpoints. Each constructor takes the
// narrow interface it depends on and returns an http.HandlerFunc.
package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/tutoreval/internal/api/middleware"
	"github.com/kiranshivaraju/tutoreval/internal/api/response"
	"github.com/kiranshivaraju/tutoreval/internal/jobs"
	"github.com/kiranshivaraju/tutoreval/internal/store"
	"github.com/kiranshivaraju/tutoreval/pkg/models"
)

// JobService creates and tracks evaluation jobs.
type JobService interface {
	CreateJob(ctx context.Context, p jobs.CreateJobParams) (*models.Job, error)
	GetJob(ctx context.Context, id, tenantID uuid.UUID) (*models.Job, error)
	ListJobs(ctx context.Context, filter store.JobFilter) ([]*models.Job, int, error)
	CancelJob(ctx context.Context, id, tenantID uuid.UUID) (*models.Job, error)
}

// ResultStore reads persisted case results.
type ResultStore interface {
	GetCaseResult(ctx context.Context, jobID uuid.UUID, tenantID uuid.UUID, caseID string) (*models.CaseResult, error)
	ListCaseResults(ctx context.Context, filter store.CaseResultFilter) ([]*models.CaseResult, int, error)
}

// DatasetStore persists uploaded datasets.
type DatasetStore interface {
	CreateDataset(ctx context.Context, ds *models.Dataset) error
	GetDataset(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.Dataset, error)
	ListDatasets(ctx context.Context, tenantID uuid.UUID) ([]*models.Dataset, error)
}

// KeyStore manages API keys.
type KeyStore interface {
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context, tenantID uuid.UUID) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) error
}

func tenantOrAbort(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	tenantID, ok := middleware.GetTenantID(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
	}
	return tenantID, ok
}

func uuidParam(w http.ResponseWriter, r *http.Request, name, code string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		response.Error(w, http.StatusBadRequest, code, "Invalid "+name+" format", nil)
		return uuid.Nil, false
	}
	return id, true
}

// pageParams reads page and limit, clamped to 1.. and 1..100.
func pageParams(r *http.Request) (page, limit int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	return page, limit
}

func internalError(w http.ResponseWriter) {
	response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
}
