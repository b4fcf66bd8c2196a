// Package judge holds the helpers shared by every engine integration:
// prompt rendering, stub and degraded results, and rate limiting.
package judge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kiranshivaraju/tutoreval/pkg/models"
	"golang.org/x/time/rate"
)

var (
	ErrEngineUnavailable = errors.New("engine unavailable")
	ErrEngineTimeout     = errors.New("engine timeout")
	ErrInvalidResponse   = errors.New("engine returned invalid response")
)

// DefaultPromptTemplate is used when the evaluation config has none.
const DefaultPromptTemplate = "Evaluate the tutor response to: {student_query}\nRespond with structured JSON scores."

// MaxResponseBytes caps how much of an engine response body is read.
const MaxResponseBytes = 1 << 20

// DegradedConfidence is the judge_confidence attached to every failed result.
const DegradedConfidence = 0.1

// RenderPrompt substitutes case fields into a template. Unknown placeholders are left as is.
func RenderPrompt(template string, c models.Case) string {
	if template == "" {
		template = DefaultPromptTemplate
	}
	r := strings.NewReplacer(
		"{student_query}", c.StudentQuery,
		"{subject}", c.Subject,
		"{grade_level}", c.GradeLevel,
		"{topic}", c.Topic,
		"{id}", c.ID,
		"{expected_concepts}", strings.Join(c.ExpectedConcepts, ", "),
	)
	return r.Replace(template)
}

// Stub is the result of an engine that has no endpoint configured.
func Stub(label, modelVersion string, c models.Case, start time.Time) models.JudgeResult {
	return models.JudgeResult{
		RawOutput: models.RawOutput{
			models.RawTutorResponse: fmt.Sprintf("[%s stub response] %s", label, c.StudentQuery),
			"metrics":               map[string]any{},
			models.RawMeta:          map[string]any{"note": label + " not configured", "case_id": c.ID},
		},
		ModelVersion: modelVersion,
		LatencyMS:    time.Since(start).Milliseconds(),
	}
}

// Degraded folds a failure into a result instead of returning an error.
func Degraded(label, modelVersion string, c models.Case, err error, start time.Time) models.JudgeResult {
	msg := err.Error()
	return models.JudgeResult{
		RawOutput: models.RawOutput{
			models.RawTutorResponse:   fmt.Sprintf("[%s error] %s", label, msg),
			models.RawError:           msg,
			models.RawJudgeConfidence: DegradedConfidence,
			"metrics":                 map[string]any{},
			models.RawMeta:            map[string]any{"case_id": c.ID, "error": msg},
		},
		ModelVersion: modelVersion,
		LatencyMS:    time.Since(start).Milliseconds(),
	}
}

// Success wraps generated text and the raw engine payload.
func Success(text string, engineOutput any, modelVersion string, c models.Case, start time.Time) models.JudgeResult {
	return models.JudgeResult{
		RawOutput: models.RawOutput{
			models.RawTutorResponse: text,
			"engine_output":         engineOutput,
			models.RawMeta:          map[string]any{"case_id": c.ID},
		},
		ModelVersion: modelVersion,
		LatencyMS:    time.Since(start).Milliseconds(),
	}
}

// NewLimiter returns a limiter admitting perSec requests per second, or nil
// (no limit) when perSec <= 0.
func NewLimiter(perSec float64) *rate.Limiter {
	if perSec <= 0 {
		return nil
	}
	burst := int(perSec)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSec), burst)
}

// Wait blocks on l until a request is admitted. A nil limiter admits immediately.
func Wait(ctx context.Context, l *rate.Limiter) error {
	if l == nil {
		return nil
	}
	if err := l.Wait(ctx); err != nil {
		return fmt.Errorf("%w: rate limit wait: %v", ErrEngineTimeout, err)
	}
	return nil
}

// WithTimeout derives a context bounded by timeout when it is positive.
func WithTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// ReadBody reads at most MaxResponseBytes from r and fails when the body is
// larger.
func ReadBody(r io.Reader) ([]byte, error) {
	raw, err := io.ReadAll(io.LimitReader(r, MaxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if len(raw) > MaxResponseBytes {
		return nil, fmt.Errorf("%w: body exceeds %d bytes", ErrInvalidResponse, MaxResponseBytes)
	}
	return raw, nil
}

// Truncate shortens s to at most n bytes without splitting a rune.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
