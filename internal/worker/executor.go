// Package worker claims tasks, judges and scores each case, and reports
// results to the completion tracker.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/tutoreval/internal/engine"
	"github.com/kiranshivaraju/tutoreval/internal/engine/judge"
	"github.com/kiranshivaraju/tutoreval/internal/metrics"
	"github.com/kiranshivaraju/tutoreval/internal/scoring"
	"github.com/kiranshivaraju/tutoreval/internal/tracing"
	"github.com/kiranshivaraju/tutoreval/pkg/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Resolver supplies the engine for a parsed selector.
type Resolver interface {
	Resolve(sel engine.Selector) models.Engine
}

// ResultRecorder persists a case result and advances its job.
type ResultRecorder interface {
	RecordResult(ctx context.Context, r *models.CaseResult) (bool, error)
}

// Executor evaluates a single task end to end.
type Executor struct {
	engines        Resolver
	metrics        *scoring.Registry
	recorder       ResultRecorder
	defaultTimeout time.Duration
	logger         *slog.Logger
}

func NewExecutor(engines Resolver, reg *scoring.Registry, recorder ResultRecorder, defaultTimeout time.Duration, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if defaultTimeout <= 0 {
		defaultTimeout = 60 * time.Second
	}
	return &Executor{
		engines:        engines,
		metrics:        reg,
		recorder:       recorder,
		defaultTimeout: defaultTimeout,
		logger:         logger,
	}
}

// Process judges, scores and persists one case. Engine failures, timeouts and
// panics become degraded results; only persistence errors are returned.
// A context cancelled while judging returns ctx.Err() and nothing is persisted.
func (e *Executor) Process(ctx context.Context, task models.Task) (*models.CaseResult, error) {
	ctx, span := tracing.Tracer().Start(ctx, "evaluate_case", trace.WithAttributes(
		attribute.String("job_id", task.JobID.String()),
		attribute.String("case_id", task.Case.ID),
	))
	defer span.End()

	sel := engine.ParseSelector(task.EngineSelector)
	eng := e.engines.Resolve(sel)
	timeout := task.EvaluationConfig.Timeout(e.defaultTimeout)

	start := time.Now()
	jr := e.invoke(ctx, eng, sel.Kind.String(), task, timeout)
	metrics.JudgeLatencySeconds.WithLabelValues(jr.ModelVersion).Observe(time.Since(start).Seconds())
	if err := ctx.Err(); err != nil {
		span.SetStatus(codes.Error, "cancelled")
		return nil, err
	}

	scores := e.metrics.Score(jr.RawOutput, task.Case)
	for id, s := range scores {
		if strings.HasPrefix(s.Notes, "metric error") {
			metrics.MetricErrorsTotal.WithLabelValues(id).Inc()
		}
	}
	aggregated := scoring.Aggregate(scores)

	result := &models.CaseResult{
		ID:              uuid.New(),
		CaseID:          task.Case.ID,
		JobID:           task.JobID,
		TenantID:        task.TenantID,
		EngineID:        jr.ModelVersion,
		Scores:          scores,
		AggregatedScore: aggregated,
		Status:          models.CaseStatusEvaluated,
		QueryType:       scoring.ClassifyQuery(task.Case.StudentQuery),
		LatencyMS:       jr.LatencyMS,
		EvaluatedAt:     time.Now().UTC(),
		TraceID:         tracing.TraceID(ctx),
		Raw:             jr.RawOutput,
	}

	inserted, err := e.recorder.RecordResult(ctx, result)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist failed")
		return nil, fmt.Errorf("recording result for case %q: %w", task.Case.ID, err)
	}

	outcome := metrics.OutcomeEvaluated
	switch {
	case !inserted:
		outcome = metrics.OutcomeDuplicate
	case jr.RawOutput.Degraded():
		outcome = metrics.OutcomeDegraded
	}
	metrics.TasksProcessedTotal.WithLabelValues(jr.ModelVersion, outcome).Inc()
	if inserted {
		metrics.CaseScore.Observe(aggregated)
	}
	span.SetAttributes(attribute.Float64("aggregated_score", aggregated), attribute.String("engine", jr.ModelVersion))

	e.logger.Debug("case evaluated",
		"job_id", task.JobID,
		"case_id", task.Case.ID,
		"engine", jr.ModelVersion,
		"aggregated_score", aggregated,
		"degraded", jr.RawOutput.Degraded(),
		"duplicate", !inserted,
	)
	return result, nil
}

type invocation struct {
	result models.JudgeResult
	panic  any
}

// invoke runs the engine under a hard timeout. The engine call runs in its own
// goroutine so an engine that ignores its context cannot stall the worker.
func (e *Executor) invoke(ctx context.Context, eng models.Engine, label string, task models.Task, timeout time.Duration) models.JudgeResult {
	start := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan invocation, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- invocation{panic: rec}
			}
		}()
		r := eng.Evaluate(callCtx, task.Case, task.EvaluationConfig.PromptTemplate, nil, timeout, task.EvaluationConfig.Seed())
		done <- invocation{result: r}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case inv := <-done:
		if inv.panic != nil {
			e.logger.Error("engine panicked", "job_id", task.JobID, "case_id", task.Case.ID, "engine", eng.ModelVersion(), "panic", inv.panic)
			return judge.Degraded(label, eng.ModelVersion(), task.Case, fmt.Errorf("engine panic: %v", inv.panic), start)
		}
		return complete(inv.result, eng, start)
	case <-timer.C:
		e.logger.Warn("engine timed out", "job_id", task.JobID, "case_id", task.Case.ID, "engine", eng.ModelVersion(), "timeout", timeout)
		return judge.Degraded(label, eng.ModelVersion(), task.Case, fmt.Errorf("%w after %s", judge.ErrEngineTimeout, timeout), start)
	case <-ctx.Done():
		return judge.Degraded(label, eng.ModelVersion(), task.Case, ctx.Err(), start)
	}
}

// complete fills in fields a misbehaving engine may have left empty.
func complete(r models.JudgeResult, eng models.Engine, start time.Time) models.JudgeResult {
	if r.RawOutput == nil {
		r.RawOutput = models.RawOutput{}
	}
	if _, ok := r.RawOutput[models.RawTutorResponse].(string); !ok {
		r.RawOutput[models.RawTutorResponse] = ""
	}
	if r.ModelVersion == "" {
		r.ModelVersion = eng.ModelVersion()
	}
	if r.LatencyMS == 0 {
		r.LatencyMS = time.Since(start).Milliseconds()
	}
	return r
}
