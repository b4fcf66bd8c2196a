// Package scoring turns judge output into metric scores and aggregates them
// into case and job level quality signals.
package scoring

import (
	"errors"
	"fmt"
	"sync"

	"github.com/kiranshivaraju/tutoreval/pkg/models"
)

var (
	ErrNilMetric         = errors.New("metric is nil")
	ErrAlreadyRegistered = errors.New("metric already registered")
)

// Metric scores one aspect of a tutor response. Implementations must be
// safe for concurrent use.
type Metric interface {
	ID() string
	Evaluate(out models.RawOutput, c models.Case) (models.MetricScore, error)
}

// Registry holds metrics in registration order.
type Registry struct {
	mu    sync.RWMutex
	order []Metric
	byID  map[string]Metric
}

func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]Metric)}
}

// DefaultRegistry returns a registry holding the built-in catalog.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, m := range Catalog() {
		r.MustRegister(m)
	}
	return r
}

func (r *Registry) Register(m Metric) error {
	if m == nil {
		return ErrNilMetric
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[m.ID()]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, m.ID())
	}
	r.byID[m.ID()] = m
	r.order = append(r.order, m)
	return nil
}

// MustRegister is Register for startup code; it panics on error.
func (r *Registry) MustRegister(m Metric) {
	if err := r.Register(m); err != nil {
		panic(fmt.Sprintf("scoring: %v", err))
	}
}

// IDs returns metric ids in registration order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, len(r.order))
	for i, m := range r.order {
		ids[i] = m.ID()
	}
	return ids
}

// Score runs every metric against out. A metric that errors or panics gets
// a minimum score for itself only; values outside range are clamped.
func (r *Registry) Score(out models.RawOutput, c models.Case) map[string]models.MetricScore {
	r.mu.RLock()
	metrics := make([]Metric, len(r.order))
	copy(metrics, r.order)
	r.mu.RUnlock()

	scores := make(map[string]models.MetricScore, len(metrics))
	for _, m := range metrics {
		scores[m.ID()] = evaluate(m, out, c)
	}
	return scores
}

func evaluate(m Metric, out models.RawOutput, c models.Case) (score models.MetricScore) {
	defer func() {
		if rec := recover(); rec != nil {
			score = metricError(fmt.Errorf("panic: %v", rec))
		}
	}()
	s, err := m.Evaluate(out, c)
	if err != nil {
		return metricError(err)
	}
	return clampScore(s)
}

func metricError(err error) models.MetricScore {
	return models.MetricScore{Value: 1, Confidence: 0, Notes: "metric error: " + err.Error()}
}

func clampScore(s models.MetricScore) models.MetricScore {
	if s.Value < 1 {
		s.Value = 1
	}
	if s.Value > 5 {
		s.Value = 5
	}
	if s.Confidence < 0 {
		s.Confidence = 0
	}
	if s.Confidence > 1 {
		s.Confidence = 1
	}
	return s
}
