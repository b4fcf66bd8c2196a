package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

const (
	ModeAsync = "async"
	ModeSync  = "sync"
)

// Job is one evaluation run over a filtered case set. The API returns a job_id on
// POST /api/v1/evaluations; the client polls GET /api/v1/evaluations/{job_id}
// until status is completed or failed.
type Job struct {
	ID              uuid.UUID   `db:"id"               json:"job_id"`
	TenantID        uuid.UUID   `db:"tenant_id"        json:"tenant_id"`
	DatasetID       uuid.UUID   `db:"dataset_id"       json:"dataset_id"`
	Status          string      `db:"status"           json:"status"`
	NumCases        int         `db:"num_cases"        json:"num_cases"`
	ProcessedCount  int         `db:"processed_count"  json:"processed_count"`
	SkippedCount    int         `db:"skipped_count"    json:"skipped_count"`
	CancelRequested bool        `db:"cancel_requested" json:"cancel_requested"`
	Mode            string      `db:"mode"             json:"mode"`
	FailureReason   *string     `db:"failure_reason"   json:"failure_reason,omitempty"`
	Summary         *JobSummary `db:"summary"          json:"summary,omitempty"`
	StartedAt       *time.Time  `db:"started_at"       json:"started_at,omitempty"`
	CompletedAt     *time.Time  `db:"completed_at"     json:"completed_at,omitempty"`
	CreatedAt       time.Time   `db:"created_at"       json:"created_at"`
	UpdatedAt       time.Time   `db:"updated_at"       json:"updated_at"`
}

// Terminal reports whether the job can no longer change status.
func (j *Job) Terminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// Covered reports whether every case has either a result or was skipped.
func (j *Job) Covered() bool {
	return j.ProcessedCount+j.SkippedCount >= j.NumCases
}

// JobSummary is written once, when a job reaches full coverage.
type JobSummary struct {
	MeanScore      float64   `json:"mean_score"`
	PercentFailing float64   `json:"percent_failing"`
	CaseCount      int       `json:"case_count"`
	SkippedCount   int       `json:"skipped_count"`
	CompletedAt    time.Time `json:"completed_at"`
}

// JobProgress is the counter snapshot returned by atomic job updates.
type JobProgress struct {
	Status         string
	NumCases       int
	ProcessedCount int
	SkippedCount   int
}

// Covered reports whether processed plus skipped reached the case count.
func (p JobProgress) Covered() bool {
	return p.ProcessedCount+p.SkippedCount >= p.NumCases
}

// Task is one case handed to the worker pool. Immutable once enqueued.
type Task struct {
	JobID            uuid.UUID        `json:"job_id"`
	TenantID         uuid.UUID        `json:"tenant_id"`
	Case             Case             `json:"case"`
	EngineSelector   json.RawMessage  `json:"engine_selector,omitempty"`
	EvaluationConfig EvaluationConfig `json:"evaluation_config"`
}

// MetricSpec names a metric in an evaluation config. Weight is recorded but
// not applied by the aggregator.
type MetricSpec struct {
	ID     string   `json:"id"`
	Weight *float64 `json:"weight,omitempty"`
}

// EvaluationConfig controls how each task is judged.
type EvaluationConfig struct {
	Metrics           []MetricSpec `json:"metrics,omitempty"`
	RubricVersion     string       `json:"rubric_version,omitempty"`
	DeterministicSeed *int64       `json:"deterministic_seed,omitempty"`
	TimeoutSeconds    int          `json:"timeout,omitempty"`
	PromptTemplate    string       `json:"prompt_template,omitempty"`
}

const (
	DefaultSeed          int64 = 42
	DefaultRubricVersion       = "v1"
)

// Seed returns the configured seed or DefaultSeed.
func (c EvaluationConfig) Seed() int64 {
	if c.DeterministicSeed != nil {
		return *c.DeterministicSeed
	}
	return DefaultSeed
}

// Timeout returns the judge timeout, falling back to def when unset.
func (c EvaluationConfig) Timeout(def time.Duration) time.Duration {
	if c.TimeoutSeconds > 0 {
		return time.Duration(c.TimeoutSeconds) * time.Second
	}
	return def
}
