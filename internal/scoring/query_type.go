package scoring

import "strings"

const (
	QueryExplanation    = "explanation"
	QueryProblemSolving = "problem_solving"
	QueryAnalysis       = "analysis"
	QueryOther          = "other"
)

var queryKeywords = []struct {
	kind  string
	words []string
}{
	{QueryExplanation, []string{"explain", "why", "describe", "overview", "summar"}},
	{QueryProblemSolving, []string{"solve", "calculate", "compute", "implement", "write code", "derive"}},
	{QueryAnalysis, []string{"compare", "analyze", "evaluate", "critique", "contrast"}},
}

// ClassifyQuery tags a student query by the first keyword family it matches.
func ClassifyQuery(text string) string {
	t := strings.ToLower(text)
	if t == "" {
		return QueryOther
	}
	for _, k := range queryKeywords {
		for _, w := range k.words {
			if strings.Contains(t, w) {
				return k.kind
			}
		}
	}
	return QueryOther
}
