package mock

import (
	"context"
	"time"

	"github.com/kiranshivaraju/tutoreval/pkg/models"
)

type EvaluateFunc func(ctx context.Context, c models.Case, promptTemplate string, schema map[string]any, timeout time.Duration, seed int64) models.JudgeResult

// Engine satisfies models.Engine for testing.
type Engine struct {
	Version      string
	EvaluateFunc EvaluateFunc
}

func (m *Engine) ModelVersion() string { return m.Version }

func (m *Engine) Evaluate(ctx context.Context, c models.Case, promptTemplate string, schema map[string]any, timeout time.Duration, seed int64) models.JudgeResult {
	if m.EvaluateFunc != nil {
		return m.EvaluateFunc(ctx, c, promptTemplate, schema, timeout, seed)
	}
	return models.JudgeResult{RawOutput: models.RawOutput{models.RawTutorResponse: ""}, ModelVersion: m.Version}
}

// NewEngine returns an Engine that answers every case with the given text.
func NewEngine(response string) *Engine {
	return &Engine{
		Version: "mock/test",
		EvaluateFunc: func(_ context.Context, c models.Case, _ string, _ map[string]any, _ time.Duration, _ int64) models.JudgeResult {
			return models.JudgeResult{
				RawOutput:    models.RawOutput{models.RawTutorResponse: response, models.RawMeta: map[string]any{"case_id": c.ID}},
				ModelVersion: "mock/test",
				LatencyMS:    1,
			}
		},
	}
}

// NewPanickingEngine returns an Engine that panics on every call.
func NewPanickingEngine() *Engine {
	return &Engine{
		Version: "mock/panic",
		EvaluateFunc: func(context.Context, models.Case, string, map[string]any, time.Duration, int64) models.JudgeResult {
			panic("judge exploded")
		},
	}
}

// NewSlowEngine returns an Engine that sleeps for d and ignores its context.
func NewSlowEngine(d time.Duration) *Engine {
	return &Engine{
		Version: "mock/slow",
		EvaluateFunc: func(_ context.Context, c models.Case, _ string, _ map[string]any, _ time.Duration, _ int64) models.JudgeResult {
			time.Sleep(d)
			return models.JudgeResult{RawOutput: models.RawOutput{models.RawTutorResponse: "late " + c.ID}, ModelVersion: "mock/slow"}
		},
	}
}

// Compile-time check that Engine implements models.Engine.
var _ models.Engine = (*Engine)(nil)
