package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/tutoreval/internal/cache"
	"github.com/kiranshivaraju/tutoreval/internal/metrics"
	"github.com/kiranshivaraju/tutoreval/internal/scoring"
	"github.com/kiranshivaraju/tutoreval/internal/store"
	"github.com/kiranshivaraju/tutoreval/pkg/models"
)

const statusCacheTTL = 24 * time.Hour

// Tracker advances job counters and detects completion. Every method is safe
// to call from many workers at once; the store's compare-and-set decides
// which caller completes a job.
type Tracker struct {
	store  store.Store
	cache  cache.Cache
	logger *slog.Logger
	now    func() time.Time
}

// NewTracker returns a Tracker. ca may be nil.
func NewTracker(st store.Store, ca cache.Cache, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{store: st, cache: ca, logger: logger, now: time.Now}
}

// MarkStarted moves a queued job to processing. Reports whether this call did it.
func (t *Tracker) MarkStarted(ctx context.Context, jobID uuid.UUID) (bool, error) {
	ok, err := t.store.MarkJobProcessing(ctx, jobID)
	if err != nil {
		return false, fmt.Errorf("marking job processing: %w", err)
	}
	if ok {
		t.mirror(ctx, jobID, models.JobStatusProcessing)
	}
	return ok, nil
}

// RecordResult persists r and counts it, then checks for completion.
// A duplicate result for the same case is ignored and inserted is false.
func (t *Tracker) RecordResult(ctx context.Context, r *models.CaseResult) (inserted bool, err error) {
	progress, inserted, err := t.store.SaveCaseResult(ctx, r)
	if err != nil {
		return false, fmt.Errorf("saving case result: %w", err)
	}
	if progress.Covered() {
		if _, err := t.CheckCompletion(ctx, r.JobID); err != nil {
			return inserted, err
		}
	}
	return inserted, nil
}

// RecordSkipped counts caseID as skipped, then checks for completion.
func (t *Tracker) RecordSkipped(ctx context.Context, jobID uuid.UUID, caseID string) error {
	progress, err := t.store.RecordSkip(ctx, jobID, caseID)
	if err != nil {
		return fmt.Errorf("recording skip: %w", err)
	}
	if progress.Covered() {
		_, err := t.CheckCompletion(ctx, jobID)
		return err
	}
	return nil
}

// RecordExpired counts a case whose task outlived its deadline as lost. The
// case is never executed; it is counted with the skipped cases so the rest of
// the job still completes.
func (t *Tracker) RecordExpired(ctx context.Context, jobID uuid.UUID, caseID string) error {
	t.logger.Warn("task expired before it was claimed; case lost", "job_id", jobID, "case_id", caseID)
	return t.RecordSkipped(ctx, jobID, caseID)
}

// Fail moves a non-terminal job to failed. Terminal jobs are left alone.
func (t *Tracker) Fail(ctx context.Context, jobID uuid.UUID, reason string) error {
	ok, err := t.store.FailJob(ctx, jobID, reason)
	if err != nil {
		return fmt.Errorf("failing job: %w", err)
	}
	if ok {
		metrics.JobsFinishedTotal.WithLabelValues(models.JobStatusFailed).Inc()
		t.mirror(ctx, jobID, models.JobStatusFailed)
		t.logger.Warn("job failed", "job_id", jobID, "reason", reason)
	}
	return nil
}

// CheckCompletion writes the summary and completes the job when every case
// is accounted for. Only the call that wins the compare-and-set reports true.
func (t *Tracker) CheckCompletion(ctx context.Context, jobID uuid.UUID) (bool, error) {
	scores, err := t.store.JobScores(ctx, jobID)
	if err != nil {
		return false, fmt.Errorf("loading job scores: %w", err)
	}
	summary := scoring.Summarize(scores)
	summary.CompletedAt = t.now().UTC()

	ok, err := t.store.CompleteJob(ctx, jobID, summary)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, ErrJobNotFound
		}
		return false, fmt.Errorf("completing job: %w", err)
	}
	if !ok {
		return false, nil
	}
	metrics.JobsFinishedTotal.WithLabelValues(models.JobStatusCompleted).Inc()
	t.mirror(ctx, jobID, models.JobStatusCompleted)
	t.logger.Info("job completed",
		"job_id", jobID,
		"case_count", summary.CaseCount,
		"mean_score", summary.MeanScore,
		"percent_failing", summary.PercentFailing,
	)
	return true, nil
}

// FailStale fails every job still open that was created more than olderThan ago.
func (t *Tracker) FailStale(ctx context.Context, olderThan time.Duration) (int, error) {
	ids, err := t.store.ListStaleJobs(ctx, t.now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("listing stale jobs: %w", err)
	}
	failed := 0
	for _, id := range ids {
		ok, err := t.store.FailJob(ctx, id, fmt.Sprintf("job exceeded deadline of %s", olderThan))
		if err != nil {
			return failed, fmt.Errorf("failing stale job: %w", err)
		}
		if ok {
			failed++
			metrics.JobsFinishedTotal.WithLabelValues(models.JobStatusFailed).Inc()
			t.mirror(ctx, id, models.JobStatusFailed)
			t.logger.Warn("stale job failed", "job_id", id)
		}
	}
	return failed, nil
}

// Terminal reports whether jobID is known to be completed or failed, using
// the status mirror when present and the store otherwise. It also returns
// whether cancellation was requested.
func (t *Tracker) Terminal(ctx context.Context, jobID, tenantID uuid.UUID) (terminal, cancelled bool, err error) {
	if t.cache != nil {
		if status, found, cerr := t.cache.GetJobStatus(ctx, jobID); cerr == nil && found &&
			(status == models.JobStatusCompleted || status == models.JobStatusFailed) {
			return true, false, nil
		}
	}
	job, err := t.store.GetJob(ctx, jobID, tenantID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, false, ErrJobNotFound
		}
		return false, false, fmt.Errorf("loading job: %w", err)
	}
	return job.Terminal(), job.CancelRequested, nil
}

// mirror writes status into the cache. Failures are logged and ignored.
func (t *Tracker) mirror(ctx context.Context, jobID uuid.UUID, status string) {
	if t.cache == nil {
		return
	}
	if err := t.cache.SetJobStatus(ctx, jobID, status, statusCacheTTL); err != nil {
		t.logger.Debug("job status mirror failed", "job_id", jobID, "error", err)
	}
}
