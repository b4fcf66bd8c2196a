package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/tutoreval/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error
	GetDefaultTenant(ctx context.Context) (*models.Tenant, error)

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context, tenantID uuid.UUID) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) error

	CreateDataset(ctx context.Context, ds *models.Dataset) error
	GetDataset(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.Dataset, error)
	ListDatasets(ctx context.Context, tenantID uuid.UUID) ([]*models.Dataset, error)

	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*models.Job, int, error)
	// MarkJobProcessing moves a queued job to processing. Reports false when
	// the job was not queued.
	MarkJobProcessing(ctx context.Context, id uuid.UUID) (bool, error)
	RequestCancel(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) error
	// FailJob moves a non-terminal job to failed. Reports false when the job
	// was already terminal.
	FailJob(ctx context.Context, id uuid.UUID, reason string) (bool, error)
	// CompleteJob writes the summary and moves the job to completed if and
	// only if it is non-terminal, has no summary and is fully covered. At most
	// one caller ever observes true for a given job.
	CompleteJob(ctx context.Context, id uuid.UUID, summary models.JobSummary) (bool, error)
	ListStaleJobs(ctx context.Context, createdBefore time.Time) ([]uuid.UUID, error)

	// SaveCaseResult persists the result and increments processed_count in a
	// single transaction. A second result for the same (job, case) is
	// discarded and inserted is false.
	SaveCaseResult(ctx context.Context, r *models.CaseResult) (progress models.JobProgress, inserted bool, err error)
	// RecordSkip increments skipped_count once per (job, case). Cases that
	// already have a result are not counted.
	RecordSkip(ctx context.Context, jobID uuid.UUID, caseID string) (models.JobProgress, error)
	GetCaseResult(ctx context.Context, jobID uuid.UUID, tenantID uuid.UUID, caseID string) (*models.CaseResult, error)
	ListCaseResults(ctx context.Context, filter CaseResultFilter) ([]*models.CaseResult, int, error)
	JobScores(ctx context.Context, jobID uuid.UUID) ([]float64, error)
}

type JobFilter struct {
	TenantID uuid.UUID
	Status   string
	Page     int
	Limit    int
}

type CaseResultFilter struct {
	TenantID uuid.UUID
	JobID    uuid.UUID
	MinScore *float64
	MaxScore *float64
	Page     int
	Limit    int
}

// validTransitions lists the forward-only job status moves.
var validTransitions = map[string][]string{
	models.JobStatusQueued:     {models.JobStatusProcessing, models.JobStatusCompleted, models.JobStatusFailed},
	models.JobStatusProcessing: {models.JobStatusCompleted, models.JobStatusFailed},
}

func canTransition(from, to string) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// normalizePage clamps pagination to limit 1..100 (default 20) and page >= 1.
func normalizePage(page, limit int) (int, int, int) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if page <= 0 {
		page = 1
	}
	return page, limit, (page - 1) * limit
}
