package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/tutoreval/pkg/models"
)

// DefaultTenantID is the seeded tenant in both the SQL schema and MemoryStore.
var DefaultTenantID = uuid.MustParse("00000000-0000-0000-0000-000000000001")

type skipKey struct {
	jobID  uuid.UUID
	caseID string
}

// MemoryStore is a process-local Store. All mutations run under one mutex, so
// counter increments and the completion compare-and-set behave like the SQL versions.
type MemoryStore struct {
	mu       sync.Mutex
	tenant   models.Tenant
	keys     map[uuid.UUID]*models.APIKey
	datasets map[uuid.UUID]*models.Dataset
	jobs     map[uuid.UUID]*models.Job
	results  map[uuid.UUID][]*models.CaseResult
	byCase   map[skipKey]struct{}
	skips    map[skipKey]struct{}
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	now := time.Now().UTC()
	return &MemoryStore{
		tenant:   models.Tenant{ID: DefaultTenantID, Name: "default", CreatedAt: now, UpdatedAt: now},
		keys:     make(map[uuid.UUID]*models.APIKey),
		datasets: make(map[uuid.UUID]*models.Dataset),
		jobs:     make(map[uuid.UUID]*models.Job),
		results:  make(map[uuid.UUID][]*models.CaseResult),
		byCase:   make(map[skipKey]struct{}),
		skips:    make(map[skipKey]struct{}),
	}
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) GetDefaultTenant(ctx context.Context) (*models.Tenant, error) {
	t := s.tenant
	return &t, nil
}

func (s *MemoryStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.APIKey
	for _, k := range s.keys {
		if k.KeyPrefix == prefix && k.DeletedAt == nil {
			c := *k
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *MemoryStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k, ok := s.keys[id]; ok {
		now := time.Now().UTC()
		k.LastUsedAt = &now
		k.UpdatedAt = now
	}
	return nil
}

func (s *MemoryStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[key.ID]; ok {
		return ErrDuplicateKey
	}
	c := *key
	s.keys[key.ID] = &c
	return nil
}

func (s *MemoryStore) ListAPIKeys(ctx context.Context, tenantID uuid.UUID) ([]*models.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.APIKey
	for _, k := range s.keys {
		if k.TenantID == tenantID && k.DeletedAt == nil {
			c := *k
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) RevokeAPIKey(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[id]
	if !ok || k.TenantID != tenantID || k.DeletedAt != nil {
		return ErrNotFound
	}
	now := time.Now().UTC()
	k.DeletedAt = &now
	return nil
}

func (s *MemoryStore) CreateDataset(ctx context.Context, ds *models.Dataset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.datasets[ds.ID]; ok {
		return ErrDuplicateKey
	}
	c := *ds
	c.Cases = append([]models.Case(nil), ds.Cases...)
	s.datasets[ds.ID] = &c
	return nil
}

func (s *MemoryStore) GetDataset(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.Dataset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ds, ok := s.datasets[id]
	if !ok || ds.TenantID != tenantID {
		return nil, ErrNotFound
	}
	c := *ds
	c.Cases = append([]models.Case(nil), ds.Cases...)
	return &c, nil
}

func (s *MemoryStore) ListDatasets(ctx context.Context, tenantID uuid.UUID) ([]*models.Dataset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Dataset
	for _, ds := range s.datasets {
		if ds.TenantID == tenantID {
			c := *ds
			c.Cases = nil
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) CreateJob(ctx context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return ErrDuplicateKey
	}
	c := *job
	s.jobs[job.ID] = &c
	return nil
}

func copyJob(j *models.Job) *models.Job {
	c := *j
	if j.Summary != nil {
		sum := *j.Summary
		c.Summary = &sum
	}
	return &c
}

func (s *MemoryStore) GetJob(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.TenantID != tenantID {
		return nil, ErrNotFound
	}
	return copyJob(j), nil
}

func (s *MemoryStore) ListJobs(ctx context.Context, filter JobFilter) ([]*models.Job, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []*models.Job
	for _, j := range s.jobs {
		if j.TenantID != filter.TenantID {
			continue
		}
		if filter.Status != "" && j.Status != filter.Status {
			continue
		}
		all = append(all, copyJob(j))
	}
	sort.Slice(all, func(i, k int) bool { return all[i].CreatedAt.After(all[k].CreatedAt) })
	return paginate(all, filter.Page, filter.Limit), len(all), nil
}

func (s *MemoryStore) MarkJobProcessing(ctx context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return false, ErrNotFound
	}
	if j.Status != models.JobStatusQueued {
		return false, nil
	}
	now := time.Now().UTC()
	j.Status = models.JobStatusProcessing
	j.StartedAt = &now
	j.UpdatedAt = now
	return true, nil
}

func (s *MemoryStore) RequestCancel(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.TenantID != tenantID {
		return ErrNotFound
	}
	j.CancelRequested = true
	j.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) FailJob(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return false, ErrNotFound
	}
	if !canTransition(j.Status, models.JobStatusFailed) {
		return false, nil
	}
	now := time.Now().UTC()
	j.Status = models.JobStatusFailed
	j.FailureReason = &reason
	j.CompletedAt = &now
	j.UpdatedAt = now
	return true, nil
}

func (s *MemoryStore) CompleteJob(ctx context.Context, id uuid.UUID, summary models.JobSummary) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return false, ErrNotFound
	}
	if !canTransition(j.Status, models.JobStatusCompleted) || j.Summary != nil || !j.Covered() {
		return false, nil
	}
	sum := summary
	sum.SkippedCount = j.SkippedCount
	completedAt := summary.CompletedAt
	j.Status = models.JobStatusCompleted
	j.Summary = &sum
	j.CompletedAt = &completedAt
	j.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *MemoryStore) ListStaleJobs(ctx context.Context, createdBefore time.Time) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []uuid.UUID
	for _, j := range s.jobs {
		if !j.Terminal() && j.CreatedAt.Before(createdBefore) {
			ids = append(ids, j.ID)
		}
	}
	return ids, nil
}

func progressOf(j *models.Job) models.JobProgress {
	return models.JobProgress{
		Status:         j.Status,
		NumCases:       j.NumCases,
		ProcessedCount: j.ProcessedCount,
		SkippedCount:   j.SkippedCount,
	}
}

func (s *MemoryStore) SaveCaseResult(ctx context.Context, r *models.CaseResult) (models.JobProgress, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[r.JobID]
	if !ok {
		return models.JobProgress{}, false, ErrNotFound
	}
	key := skipKey{jobID: r.JobID, caseID: r.CaseID}
	if _, dup := s.byCase[key]; dup {
		return progressOf(j), false, nil
	}
	c := *r
	s.byCase[key] = struct{}{}
	s.results[r.JobID] = append(s.results[r.JobID], &c)
	if _, skipped := s.skips[key]; skipped {
		delete(s.skips, key)
		j.SkippedCount--
	}
	j.ProcessedCount++
	j.UpdatedAt = time.Now().UTC()
	return progressOf(j), true, nil
}

func (s *MemoryStore) RecordSkip(ctx context.Context, jobID uuid.UUID, caseID string) (models.JobProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return models.JobProgress{}, ErrNotFound
	}
	key := skipKey{jobID: jobID, caseID: caseID}
	_, evaluated := s.byCase[key]
	if _, dup := s.skips[key]; !dup && !evaluated {
		s.skips[key] = struct{}{}
		j.SkippedCount++
		j.UpdatedAt = time.Now().UTC()
	}
	return progressOf(j), nil
}

func (s *MemoryStore) GetCaseResult(ctx context.Context, jobID uuid.UUID, tenantID uuid.UUID, caseID string) (*models.CaseResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.results[jobID] {
		if r.CaseID == caseID && r.TenantID == tenantID {
			c := *r
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListCaseResults(ctx context.Context, filter CaseResultFilter) ([]*models.CaseResult, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []*models.CaseResult
	for _, r := range s.results[filter.JobID] {
		if r.TenantID != filter.TenantID {
			continue
		}
		if filter.MinScore != nil && r.AggregatedScore < *filter.MinScore {
			continue
		}
		if filter.MaxScore != nil && r.AggregatedScore > *filter.MaxScore {
			continue
		}
		c := *r
		all = append(all, &c)
	}
	return paginate(all, filter.Page, filter.Limit), len(all), nil
}

func (s *MemoryStore) JobScores(ctx context.Context, jobID uuid.UUID) ([]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	scores := make([]float64, 0, len(s.results[jobID]))
	for _, r := range s.results[jobID] {
		scores = append(scores, r.AggregatedScore)
	}
	return scores, nil
}

func paginate[T any](items []T, page, limit int) []T {
	_, limit, offset := normalizePage(page, limit)
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
