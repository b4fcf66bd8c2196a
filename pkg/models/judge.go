// Package models contains shared data models used across the evaluation pipeline.
package models

import (
	"context"
	"time"
)

// Keys with defined meaning inside a judge's raw output.
const (
	RawTutorResponse   = "tutor_response"
	RawError           = "error"
	RawJudgeConfidence = "judge_confidence"
	RawSuggestedMedia  = "suggested_media"
	RawMeta            = "meta"
)

// RawOutput is the open-ended output of a judge. It always carries a
// tutor_response string.
type RawOutput map[string]any

// TutorResponse returns the tutor_response field, or "" when missing.
func (r RawOutput) TutorResponse() string {
	s, _ := r[RawTutorResponse].(string)
	return s
}

// Degraded reports whether the judge encoded a failure into the output.
func (r RawOutput) Degraded() bool {
	_, ok := r[RawError]
	return ok
}

// JudgeResult is what an engine returns for one case. Engine failures are
// encoded as a degraded RawOutput, never by a missing result.
type JudgeResult struct {
	RawOutput    RawOutput `json:"raw_output"`
	ModelVersion string    `json:"model_version"`
	LatencyMS    int64     `json:"latency_ms"`
}

// Engine is the judge capability every integration implements.
// Resolve engines through the engine registry rather than constructing them directly.
type Engine interface {
	// Evaluate judges one case. It must not panic or return an error; any
	// failure is folded into the returned RawOutput.
	Evaluate(ctx context.Context, c Case, promptTemplate string, schema map[string]any, timeout time.Duration, seed int64) JudgeResult
	// ModelVersion identifies the engine and model, e.g. "ollama/llama3".
	ModelVersion() string
}
