package models

import (
	"time"

	"github.com/google/uuid"
)

const CaseStatusEvaluated = "evaluated"

// MetricScore is one heuristic's verdict on one case.
type MetricScore struct {
	Value      int     `json:"value"`
	Confidence float64 `json:"confidence"`
	Notes      string  `json:"notes"`
}

// CaseResult is created once per (job, case) and never updated.
type CaseResult struct {
	ID              uuid.UUID              `db:"id"               json:"id"`
	CaseID          string                 `db:"case_id"          json:"case_id"`
	JobID           uuid.UUID              `db:"job_id"           json:"job_id"`
	TenantID        uuid.UUID              `db:"tenant_id"        json:"tenant_id"`
	EngineID        string                 `db:"engine_id"        json:"engine_id"`
	Scores          map[string]MetricScore `db:"scores"           json:"scores"`
	AggregatedScore float64                `db:"aggregated_score" json:"aggregated_score"`
	Status          string                 `db:"status"           json:"status"`
	QueryType       string                 `db:"query_type"       json:"query_type"`
	LatencyMS       int64                  `db:"latency_ms"       json:"latency_ms"`
	EvaluatedAt     time.Time              `db:"evaluated_at"     json:"evaluated_at"`
	TraceID         string                 `db:"trace_id"         json:"trace_id"`
	Raw             RawOutput              `db:"raw"              json:"raw,omitempty"`
}
