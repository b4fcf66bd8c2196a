package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/tutoreval/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Tenants ---

func (s *PostgresStore) GetDefaultTenant(ctx context.Context) (*models.Tenant, error) {
	var t models.Tenant
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, created_at, updated_at FROM tenants WHERE name = 'default' LIMIT 1`,
	).Scan(&t.ID, &t.Name, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get default tenant: %w", err)
	}
	return &t, nil
}

// --- API Keys ---

const apiKeyColumns = `id, tenant_id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at`

func scanAPIKeys(rows pgx.Rows) ([]*models.APIKey, error) {
	defer rows.Close()
	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.TenantID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	return scanAPIKeys(rows)
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, tenant_id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		key.ID, key.TenantID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAPIKeys(ctx context.Context, tenantID uuid.UUID) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE tenant_id = $1 AND deleted_at IS NULL ORDER BY created_at DESC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return scanAPIKeys(rows)
}

func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL`, id, tenantID)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Datasets ---

func (s *PostgresStore) CreateDataset(ctx context.Context, ds *models.Dataset) error {
	cases, err := json.Marshal(ds.Cases)
	if err != nil {
		return fmt.Errorf("encode dataset cases: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO datasets (id, tenant_id, name, version, cases, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		ds.ID, ds.TenantID, ds.Name, ds.Version, cases, ds.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create dataset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetDataset(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.Dataset, error) {
	var ds models.Dataset
	var cases []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, name, version, cases, created_at FROM datasets WHERE id = $1 AND tenant_id = $2`,
		id, tenantID,
	).Scan(&ds.ID, &ds.TenantID, &ds.Name, &ds.Version, &cases, &ds.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get dataset: %w", err)
	}
	if err := json.Unmarshal(cases, &ds.Cases); err != nil {
		return nil, fmt.Errorf("decode dataset cases: %w", err)
	}
	return &ds, nil
}

// ListDatasets returns dataset headers without their cases.
func (s *PostgresStore) ListDatasets(ctx context.Context, tenantID uuid.UUID) ([]*models.Dataset, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, name, version, created_at FROM datasets WHERE tenant_id = $1 ORDER BY created_at DESC`,
		tenantID)
	if err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}
	defer rows.Close()

	var out []*models.Dataset
	for rows.Next() {
		var ds models.Dataset
		if err := rows.Scan(&ds.ID, &ds.TenantID, &ds.Name, &ds.Version, &ds.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan dataset: %w", err)
		}
		out = append(out, &ds)
	}
	return out, rows.Err()
}

// --- Jobs ---

const jobColumns = `id, tenant_id, dataset_id, status, num_cases, processed_count, skipped_count,
	cancel_requested, mode, failure_reason, summary, started_at, completed_at, created_at, updated_at`

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	var summary []byte
	if err := row.Scan(&j.ID, &j.TenantID, &j.DatasetID, &j.Status, &j.NumCases, &j.ProcessedCount,
		&j.SkippedCount, &j.CancelRequested, &j.Mode, &j.FailureReason, &summary,
		&j.StartedAt, &j.CompletedAt, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	if summary != nil {
		var sum models.JobSummary
		if err := json.Unmarshal(summary, &sum); err != nil {
			return nil, fmt.Errorf("decode job summary: %w", err)
		}
		j.Summary = &sum
	}
	return &j, nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (id, tenant_id, dataset_id, status, num_cases, mode, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		job.ID, job.TenantID, job.DatasetID, job.Status, job.NumCases, job.Mode, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1 AND tenant_id = $2`, id, tenantID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]*models.Job, int, error) {
	conditions := []string{"tenant_id = $1"}
	args := []any{filter.TenantID}
	argIdx := 2

	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, filter.Status)
		argIdx++
	}
	where := strings.Join(conditions, " AND ")

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM jobs WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	_, limit, offset := normalizePage(filter.Page, filter.Limit)
	query := fmt.Sprintf(`SELECT %s FROM jobs WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		jobColumns, where, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, total, rows.Err()
}

func (s *PostgresStore) MarkJobProcessing(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = 'processing', started_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND status = 'queued'`, id)
	if err != nil {
		return false, fmt.Errorf("mark job processing: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) RequestCancel(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET cancel_requested = TRUE, updated_at = NOW() WHERE id = $1 AND tenant_id = $2`,
		id, tenantID)
	if err != nil {
		return fmt.Errorf("request cancel: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) FailJob(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = 'failed', failure_reason = $2, completed_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND status IN ('queued', 'processing')`, id, reason)
	if err != nil {
		return false, fmt.Errorf("fail job: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) CompleteJob(ctx context.Context, id uuid.UUID, summary models.JobSummary) (bool, error) {
	body, err := json.Marshal(summary)
	if err != nil {
		return false, fmt.Errorf("encode job summary: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = 'completed', summary = jsonb_set($2::jsonb, '{skipped_count}', to_jsonb(skipped_count)), completed_at = $3, updated_at = NOW()
		 WHERE id = $1
		   AND status IN ('queued', 'processing')
		   AND summary IS NULL
		   AND processed_count + skipped_count >= num_cases`,
		id, body, summary.CompletedAt)
	if err != nil {
		return false, fmt.Errorf("complete job: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) ListStaleJobs(ctx context.Context, createdBefore time.Time) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id FROM jobs WHERE status IN ('queued', 'processing') AND created_at < $1`, createdBefore)
	if err != nil {
		return nil, fmt.Errorf("list stale jobs: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan job id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- Case Results ---

const progressReturning = `RETURNING status, num_cases, processed_count, skipped_count`

func (s *PostgresStore) SaveCaseResult(ctx context.Context, r *models.CaseResult) (models.JobProgress, bool, error) {
	var p models.JobProgress

	scores, err := json.Marshal(r.Scores)
	if err != nil {
		return p, false, fmt.Errorf("encode scores: %w", err)
	}
	raw, err := json.Marshal(r.Raw)
	if err != nil {
		return p, false, fmt.Errorf("encode raw output: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return p, false, fmt.Errorf("begin save case result: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := lockJob(ctx, tx, r.JobID); err != nil {
		return p, false, err
	}

	tag, err := tx.Exec(ctx,
		`INSERT INTO case_results (id, job_id, tenant_id, case_id, engine_id, scores, aggregated_score,
		   status, query_type, latency_ms, trace_id, raw, evaluated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (job_id, case_id) DO NOTHING`,
		r.ID, r.JobID, r.TenantID, r.CaseID, r.EngineID, scores, r.AggregatedScore,
		r.Status, r.QueryType, r.LatencyMS, r.TraceID, raw, r.EvaluatedAt)
	if err != nil {
		return p, false, fmt.Errorf("insert case result: %w", err)
	}
	inserted := tag.RowsAffected() == 1

	row := tx.QueryRow(ctx, `SELECT status, num_cases, processed_count, skipped_count FROM jobs WHERE id = $1`, r.JobID)
	if inserted {
		// A result supersedes an earlier skip of the same case.
		unskip, err := tx.Exec(ctx, `DELETE FROM job_skips WHERE job_id = $1 AND case_id = $2`, r.JobID, r.CaseID)
		if err != nil {
			return p, false, fmt.Errorf("clear job skip: %w", err)
		}
		row = tx.QueryRow(ctx,
			`UPDATE jobs SET processed_count = processed_count + 1, skipped_count = skipped_count - $2,
			   updated_at = NOW() WHERE id = $1 `+progressReturning,
			r.JobID, unskip.RowsAffected())
	}
	if err := row.Scan(&p.Status, &p.NumCases, &p.ProcessedCount, &p.SkippedCount); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return p, false, ErrNotFound
		}
		return p, false, fmt.Errorf("advance job counters: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return p, false, fmt.Errorf("commit case result: %w", err)
	}
	return p, inserted, nil
}

func (s *PostgresStore) RecordSkip(ctx context.Context, jobID uuid.UUID, caseID string) (models.JobProgress, error) {
	var p models.JobProgress

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return p, fmt.Errorf("begin record skip: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := lockJob(ctx, tx, jobID); err != nil {
		return p, err
	}

	tag, err := tx.Exec(ctx,
		`INSERT INTO job_skips (job_id, case_id)
		 SELECT $1::uuid, $2::text
		 WHERE NOT EXISTS (SELECT 1 FROM case_results WHERE job_id = $1 AND case_id = $2)
		 ON CONFLICT DO NOTHING`, jobID, caseID)
	if err != nil {
		return p, fmt.Errorf("insert job skip: %w", err)
	}

	row := tx.QueryRow(ctx, `SELECT status, num_cases, processed_count, skipped_count FROM jobs WHERE id = $1`, jobID)
	if tag.RowsAffected() == 1 {
		row = tx.QueryRow(ctx,
			`UPDATE jobs SET skipped_count = skipped_count + 1, updated_at = NOW() WHERE id = $1 `+progressReturning,
			jobID)
	}
	if err := row.Scan(&p.Status, &p.NumCases, &p.ProcessedCount, &p.SkippedCount); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return p, ErrNotFound
		}
		return p, fmt.Errorf("advance skipped count: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return p, fmt.Errorf("commit job skip: %w", err)
	}
	return p, nil
}

// lockJob holds the job row for the rest of tx so result and skip writes
// for one job are serialised.
func lockJob(ctx context.Context, tx pgx.Tx, jobID uuid.UUID) error {
	var one int
	err := tx.QueryRow(ctx, `SELECT 1 FROM jobs WHERE id = $1 FOR UPDATE`, jobID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock job: %w", err)
	}
	return nil
}

const caseResultColumns = `id, job_id, tenant_id, case_id, engine_id, scores, aggregated_score,
	status, query_type, latency_ms, trace_id, raw, evaluated_at`

func scanCaseResult(row pgx.Row) (*models.CaseResult, error) {
	var r models.CaseResult
	var scores, raw []byte
	if err := row.Scan(&r.ID, &r.JobID, &r.TenantID, &r.CaseID, &r.EngineID, &scores, &r.AggregatedScore,
		&r.Status, &r.QueryType, &r.LatencyMS, &r.TraceID, &raw, &r.EvaluatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(scores, &r.Scores); err != nil {
		return nil, fmt.Errorf("decode scores: %w", err)
	}
	if raw != nil {
		if err := json.Unmarshal(raw, &r.Raw); err != nil {
			return nil, fmt.Errorf("decode raw output: %w", err)
		}
	}
	return &r, nil
}

func (s *PostgresStore) GetCaseResult(ctx context.Context, jobID uuid.UUID, tenantID uuid.UUID, caseID string) (*models.CaseResult, error) {
	r, err := scanCaseResult(s.pool.QueryRow(ctx,
		`SELECT `+caseResultColumns+` FROM case_results WHERE job_id = $1 AND tenant_id = $2 AND case_id = $3`,
		jobID, tenantID, caseID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get case result: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) ListCaseResults(ctx context.Context, filter CaseResultFilter) ([]*models.CaseResult, int, error) {
	conditions := []string{"tenant_id = $1", "job_id = $2"}
	args := []any{filter.TenantID, filter.JobID}
	argIdx := 3

	if filter.MinScore != nil {
		conditions = append(conditions, fmt.Sprintf("aggregated_score >= $%d", argIdx))
		args = append(args, *filter.MinScore)
		argIdx++
	}
	if filter.MaxScore != nil {
		conditions = append(conditions, fmt.Sprintf("aggregated_score <= $%d", argIdx))
		args = append(args, *filter.MaxScore)
		argIdx++
	}
	where := strings.Join(conditions, " AND ")

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM case_results WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count case results: %w", err)
	}

	_, limit, offset := normalizePage(filter.Page, filter.Limit)
	query := fmt.Sprintf(`SELECT %s FROM case_results WHERE %s ORDER BY evaluated_at, case_id LIMIT $%d OFFSET $%d`,
		caseResultColumns, where, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list case results: %w", err)
	}
	defer rows.Close()

	var results []*models.CaseResult
	for rows.Next() {
		r, err := scanCaseResult(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan case result: %w", err)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

func (s *PostgresStore) JobScores(ctx context.Context, jobID uuid.UUID) ([]float64, error) {
	rows, err := s.pool.Query(ctx, `SELECT aggregated_score FROM case_results WHERE job_id = $1`, jobID)
	if err != nil {
		return nil, fmt.Errorf("job scores: %w", err)
	}
	defer rows.Close()

	scores := []float64{}
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan score: %w", err)
		}
		scores = append(scores, v)
	}
	return scores, rows.Err()
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
