package scoring

import (
	"sort"

	"github.com/kiranshivaraju/tutoreval/pkg/models"
)

// FailingThreshold is the aggregated score below which a case counts as failing.
const FailingThreshold = 0.4

// lowConfidence is the confidence below which a score is down-weighted by
// its own confidence.
const lowConfidence = 0.4

// Normalize maps a 1..5 value onto 0..1.
func Normalize(v int) float64 {
	n := float64(v-1) / 4
	if n < 0 {
		return 0
	}
	if n > 1 {
		return 1
	}
	return n
}

// Aggregate is the mean of normalised values, each weighted by its confidence
// when that confidence is below 0.4 and by 1 otherwise. Empty input is 0.
func Aggregate(scores map[string]models.MetricScore) float64 {
	if len(scores) == 0 {
		return 0
	}
	ids := make([]string, 0, len(scores))
	for id := range scores {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var sum float64
	for _, id := range ids {
		s := scores[id]
		w := 1.0
		if s.Confidence < lowConfidence {
			w = s.Confidence
		}
		sum += Normalize(s.Value) * w
	}
	return sum / float64(len(ids))
}

// Summarize computes the job summary over aggregated case scores. Both the
// mean and the failing fraction are taken over evaluated cases only; the
// store records how many were skipped. CompletedAt is left for the caller.
func Summarize(scores []float64) models.JobSummary {
	if len(scores) == 0 {
		return models.JobSummary{}
	}
	var sum float64
	failing := 0
	for _, s := range scores {
		sum += s
		if s < FailingThreshold {
			failing++
		}
	}
	n := float64(len(scores))
	return models.JobSummary{
		MeanScore:      sum / n,
		PercentFailing: float64(failing) / n,
		CaseCount:      len(scores),
	}
}

// Distribution counts how many results scored each value 1..5 on metric.
// All five buckets are always present.
func Distribution(results []*models.CaseResult, metric string) map[int]int {
	dist := map[int]int{1: 0, 2: 0, 3: 0, 4: 0, 5: 0}
	for _, r := range results {
		s, ok := r.Scores[metric]
		if !ok {
			continue
		}
		if _, ok := dist[s.Value]; ok {
			dist[s.Value]++
		}
	}
	return dist
}
