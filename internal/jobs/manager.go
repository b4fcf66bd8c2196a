// Package jobs creates evaluation jobs and tracks them to completion.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/tutoreval/internal/dataset"
	"github.com/kiranshivaraju/tutoreval/internal/metrics"
	"github.com/kiranshivaraju/tutoreval/internal/queue"
	"github.com/kiranshivaraju/tutoreval/internal/store"
	"github.com/kiranshivaraju/tutoreval/pkg/models"
)

const (
	enqueueTimeout    = 2 * time.Minute
	failTimeout       = 10 * time.Second
	defaultMaxTimeout = 10 * time.Minute
)

// CreateJobParams holds the request for a new evaluation job.
type CreateJobParams struct {
	TenantID         uuid.UUID
	DatasetID        uuid.UUID
	Filters          map[string]any
	EngineSelector   json.RawMessage
	EvaluationConfig models.EvaluationConfig
	Mode             string
}

// Manager turns a dataset into a job and one queued task per selected case.
type Manager struct {
	store   store.Store
	queue   queue.Distributor
	tracker *Tracker
	taskTTL time.Duration
	// maxTimeout bounds evaluation_config.timeout.
	maxTimeout time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithMaxTimeout caps the per-job judge timeout. Workers redeliver tasks held
// longer than their stale threshold, so callers pass that threshold here.
func WithMaxTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.maxTimeout = d
		}
	}
}

func NewManager(st store.Store, q queue.Distributor, tracker *Tracker, taskTTL time.Duration, logger *slog.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		store:      st,
		queue:      q,
		tracker:    tracker,
		taskTTL:    taskTTL,
		maxTimeout: defaultMaxTimeout,
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateJob validates filters and cases, persists the job and enqueues its
// tasks. Nothing is persisted when validation fails. If enqueueing fails the
// job is marked failed and the error wraps ErrQueueUnavailable.
func (m *Manager) CreateJob(ctx context.Context, p CreateJobParams) (*models.Job, error) {
	if err := m.checkTimeout(p.EvaluationConfig.TimeoutSeconds); err != nil {
		return nil, err
	}
	ds, err := m.store.GetDataset(ctx, p.DatasetID, p.TenantID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrDatasetNotFound
		}
		return nil, fmt.Errorf("loading dataset: %w", err)
	}

	filters, err := ParseFilters(p.Filters)
	if err != nil {
		return nil, err
	}
	cases := filters.Apply(ds.Cases)
	if err := m.ValidateCases(cases); err != nil {
		return nil, err
	}

	mode := p.Mode
	if mode != models.ModeSync {
		mode = models.ModeAsync
	}
	cfg := p.EvaluationConfig
	if cfg.RubricVersion == "" {
		cfg.RubricVersion = models.DefaultRubricVersion
	}

	now := m.now().UTC()
	job := &models.Job{
		ID:        uuid.New(),
		TenantID:  p.TenantID,
		DatasetID: ds.ID,
		Status:    models.JobStatusQueued,
		NumCases:  len(cases),
		Mode:      mode,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("creating job: %w", err)
	}
	metrics.JobsCreatedTotal.WithLabelValues(mode).Inc()
	m.logger.Info("job created", "job_id", job.ID, "dataset_id", ds.ID, "num_cases", job.NumCases, "mode", mode)

	if len(cases) == 0 {
		if _, err := m.tracker.CheckCompletion(ctx, job.ID); err != nil {
			return nil, err
		}
		return m.reload(ctx, job)
	}

	// The job row exists now, so the rest must not depend on the caller
	// staying connected.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), enqueueTimeout)
	defer cancel()

	deadline := now.Add(m.taskTTL)
	for _, c := range cases {
		task := models.Task{
			JobID:            job.ID,
			TenantID:         p.TenantID,
			Case:             c,
			EngineSelector:   p.EngineSelector,
			EvaluationConfig: cfg,
		}
		if err := m.queue.Enqueue(ctx, task, deadline); err != nil {
			m.failEnqueue(ctx, job.ID, err)
			return nil, fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
		}
	}
	return job, nil
}

// failEnqueue marks the job failed with its own deadline, since ctx may be
// the one that ran out.
func (m *Manager) failEnqueue(ctx context.Context, jobID uuid.UUID, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failTimeout)
	defer cancel()
	if err := m.tracker.Fail(ctx, jobID, fmt.Sprintf("enqueue failed: %v", cause)); err != nil {
		m.logger.Error("failing job after enqueue error", "job_id", jobID, "error", err)
	}
}

func (m *Manager) checkTimeout(secs int) error {
	limit := int64(m.maxTimeout / time.Second)
	if secs < 0 || int64(secs) > limit {
		return fmt.Errorf("%w: timeout must be between 0 and %d seconds", ErrInvalidConfig, limit)
	}
	return nil
}

// ValidateCases checks struct constraints and that case ids are unique.
func (m *Manager) ValidateCases(cases []models.Case) error {
	return dataset.Validate(cases)
}

func (m *Manager) reload(ctx context.Context, job *models.Job) (*models.Job, error) {
	got, err := m.store.GetJob(ctx, job.ID, job.TenantID)
	if err != nil {
		return nil, fmt.Errorf("reloading job: %w", err)
	}
	return got, nil
}

func (m *Manager) GetJob(ctx context.Context, id, tenantID uuid.UUID) (*models.Job, error) {
	job, err := m.store.GetJob(ctx, id, tenantID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("getting job: %w", err)
	}
	return job, nil
}

func (m *Manager) ListJobs(ctx context.Context, filter store.JobFilter) ([]*models.Job, int, error) {
	jobs, total, err := m.store.ListJobs(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("listing jobs: %w", err)
	}
	return jobs, total, nil
}

// CancelJob flags the job so workers skip its unclaimed tasks. Terminal jobs
// are returned unchanged.
func (m *Manager) CancelJob(ctx context.Context, id, tenantID uuid.UUID) (*models.Job, error) {
	job, err := m.GetJob(ctx, id, tenantID)
	if err != nil {
		return nil, err
	}
	if job.Terminal() {
		return job, nil
	}
	if err := m.store.RequestCancel(ctx, id, tenantID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("cancelling job: %w", err)
	}
	m.logger.Info("job cancel requested", "job_id", id)
	return m.GetJob(ctx, id, tenantID)
}
