// Package standin implements the deterministic judge used when no real engine is selected.
package standin

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/kiranshivaraju/tutoreval/pkg/models"
)

const ModelVersion = "mock/0.1"

// mockedMetrics are the metric ids the stand-in attaches canned judgments for.
var mockedMetrics = []string{
	"clarity", "completeness", "accuracy", "appropriateness",
	"long_term_memory", "code_quality", "pedagogy_alignment",
}

// Engine echoes the query with up to three expected concepts. Given the same
// case id and seed it always produces the same raw output.
type Engine struct{}

func New() *Engine { return &Engine{} }

func (e *Engine) ModelVersion() string { return ModelVersion }

func (e *Engine) Evaluate(_ context.Context, c models.Case, _ string, _ map[string]any, _ time.Duration, seed int64) models.JudgeResult {
	start := time.Now()
	rnd := rand.New(rand.NewSource(seedFor(seed, c.ID)))

	var b strings.Builder
	b.WriteString(c.StudentQuery)
	b.WriteString("\n\nAnswer: ")
	expected := c.ExpectedConcepts
	if len(expected) > 0 {
		if len(expected) > 3 {
			expected = expected[:3]
		}
		b.WriteString("This explanation mentions: ")
		b.WriteString(strings.Join(expected, ", "))
		b.WriteString(".")
	} else {
		b.WriteString("A short helpful answer.")
	}

	bonus := len(c.ExpectedConcepts)
	if bonus > 3 {
		bonus = 3
	}
	metrics := make(map[string]any, len(mockedMetrics))
	for _, id := range mockedMetrics {
		noise := rnd.Intn(3) - 1
		val := clamp(3+bonus/2+noise, 1, 5)
		conf := math.Round((rnd.Float64()*0.4+0.6)*100) / 100
		metrics[id] = map[string]any{"value": val, "confidence": conf, "notes": "Mocked score for " + id}
	}

	return models.JudgeResult{
		RawOutput: models.RawOutput{
			models.RawTutorResponse: b.String(),
			"metrics":               metrics,
			models.RawMeta:          map[string]any{"seed": seed, "case_id": c.ID},
		},
		ModelVersion: ModelVersion,
		LatencyMS:    time.Since(start).Milliseconds(),
	}
}

func seedFor(seed int64, caseID string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(caseID))
	return seed ^ int64(h.Sum64())
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

var _ models.Engine = (*Engine)(nil)
