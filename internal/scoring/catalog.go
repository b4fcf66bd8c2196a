package scoring

import (
	"fmt"
	"math"
	"strings"

	"github.com/kiranshivaraju/tutoreval/pkg/models"
)

// Catalog returns the built-in metrics in their canonical order.
func Catalog() []Metric {
	return []Metric{
		Clarity{},
		Completeness{},
		Accuracy{},
		Appropriateness{},
		LongTermMemory{},
		CodeQuality{},
		PedagogyAlignment{},
		MultimodalAppropriateness{},
	}
}

func conceptsPresent(resp string, expected []string) int {
	lower := strings.ToLower(resp)
	n := 0
	for _, e := range expected {
		if e != "" && strings.Contains(lower, strings.ToLower(e)) {
			n++
		}
	}
	return n
}

func overlapValue(present, expected int) int {
	half := expected / 2
	if half < 1 {
		half = 1
	}
	switch {
	case present == 0:
		return 2
	case present < half:
		return 3
	default:
		return 4
	}
}

type Clarity struct{}

func (Clarity) ID() string { return "clarity" }

func (Clarity) Evaluate(out models.RawOutput, c models.Case) (models.MetricScore, error) {
	resp := out.TutorResponse()
	present := conceptsPresent(resp, c.ExpectedConcepts)
	value := overlapValue(present, len(c.ExpectedConcepts))
	if len(strings.Fields(resp)) < 10 && value > 1 {
		value--
	}
	conf := 0.5
	if present > 0 {
		conf = 0.8
	}
	return models.MetricScore{Value: value, Confidence: conf, Notes: fmt.Sprintf("%d expected concepts found", present)}, nil
}

type Completeness struct{}

func (Completeness) ID() string { return "completeness" }

func (Completeness) Evaluate(out models.RawOutput, c models.Case) (models.MetricScore, error) {
	expected := len(c.ExpectedConcepts)
	present := conceptsPresent(out.TutorResponse(), c.ExpectedConcepts)
	notes := fmt.Sprintf("%d/%d expected concepts present", present, expected)
	if expected == 0 {
		return models.MetricScore{Value: 3, Confidence: 0.5, Notes: notes}, nil
	}
	fraction := float64(present) / float64(expected)
	var value int
	switch {
	case fraction == 0:
		value = 2
	case fraction < 0.5:
		value = 3
	case fraction < 1:
		value = 4
	default:
		value = 5
	}
	conf := math.Round((0.7+0.3*fraction)*100) / 100
	return models.MetricScore{Value: value, Confidence: conf, Notes: notes}, nil
}

type Accuracy struct{}

func (Accuracy) ID() string { return "accuracy" }

func (Accuracy) Evaluate(out models.RawOutput, c models.Case) (models.MetricScore, error) {
	resp := out.TutorResponse()
	if gt := strings.TrimSpace(c.GroundTruthAnswer); gt != "" {
		if strings.Contains(strings.ToLower(resp), strings.ToLower(gt)) {
			return models.MetricScore{Value: 5, Confidence: 0.8, Notes: "matched ground truth"}, nil
		}
		return models.MetricScore{Value: 3, Confidence: 0.8, Notes: "did not match ground truth"}, nil
	}
	present := conceptsPresent(resp, c.ExpectedConcepts)
	conf := 0.4
	if present > 0 {
		conf = 0.6
	}
	return models.MetricScore{
		Value:      overlapValue(present, len(c.ExpectedConcepts)),
		Confidence: conf,
		Notes:      fmt.Sprintf("%d/%d expected concepts matched", present, len(c.ExpectedConcepts)),
	}, nil
}

type Appropriateness struct{}

func (Appropriateness) ID() string { return "appropriateness" }

func (Appropriateness) Evaluate(out models.RawOutput, c models.Case) (models.MetricScore, error) {
	words := len(strings.Fields(out.TutorResponse()))
	grade := c.GradeLevel
	if grade == "" {
		grade = models.GradeMiddleSchool
	}
	value := 4
	switch grade {
	case models.GradeElementary:
		switch {
		case words < 10:
			value = 4
		case words > 120:
			value = 2
		default:
			value = 3
		}
	case models.GradeMiddleSchool:
		if words >= 200 {
			value = 3
		}
	}
	return models.MetricScore{Value: value, Confidence: 0.7, Notes: fmt.Sprintf("word_count=%d, grade=%s", words, grade)}, nil
}

type LongTermMemory struct{}

func (LongTermMemory) ID() string { return "long_term_memory" }

func (LongTermMemory) Evaluate(out models.RawOutput, c models.Case) (models.MetricScore, error) {
	prev := c.PreviousContext()
	if prev == "" {
		return models.MetricScore{Value: 3, Confidence: 0.4, Notes: "no prior context in case"}, nil
	}
	if strings.Contains(strings.ToLower(out.TutorResponse()), strings.ToLower(prev)) {
		return models.MetricScore{Value: 5, Confidence: 0.8, Notes: "previous context referenced"}, nil
	}
	return models.MetricScore{Value: 2, Confidence: 0.8, Notes: "no previous context reference"}, nil
}

type CodeQuality struct{}

func (CodeQuality) ID() string { return "code_quality" }

func (CodeQuality) Evaluate(out models.RawOutput, c models.Case) (models.MetricScore, error) {
	resp := out.TutorResponse()
	if strings.Contains(resp, "def ") || strings.Contains(resp, "```") || strings.Contains(resp, "return") {
		return models.MetricScore{Value: 4, Confidence: 0.8, Notes: "code present; not deeply analyzed"}, nil
	}
	q := strings.ToLower(c.StudentQuery)
	if strings.Contains(q, "code") || strings.Contains(q, "test") {
		return models.MetricScore{Value: 2, Confidence: 0.5, Notes: "no code provided when asked"}, nil
	}
	return models.MetricScore{Value: 3, Confidence: 0.5, Notes: "not applicable / no code"}, nil
}

var scaffoldingWords = []string{"first", "then", "next", "suggest", "practice", "exercise", "example", "check"}

type PedagogyAlignment struct{}

func (PedagogyAlignment) ID() string { return "pedagogy_alignment" }

func (PedagogyAlignment) Evaluate(out models.RawOutput, _ models.Case) (models.MetricScore, error) {
	resp := strings.ToLower(out.TutorResponse())
	count := 0
	for _, w := range scaffoldingWords {
		if strings.Contains(resp, w) {
			count++
		}
	}
	switch {
	case count >= 3:
		return models.MetricScore{Value: 5, Confidence: 0.8, Notes: fmt.Sprintf("scaffolding indicators found: %d", count)}, nil
	case count >= 1:
		return models.MetricScore{Value: 4, Confidence: 0.6, Notes: fmt.Sprintf("some scaffolding indicators found: %d", count)}, nil
	default:
		return models.MetricScore{Value: 2, Confidence: 0.4, Notes: "no scaffolding indicators found"}, nil
	}
}

var unsafeMediaKeywords = []string{"nsfw", "adult", "porn", "gore", "violent"}

type MultimodalAppropriateness struct{}

func (MultimodalAppropriateness) ID() string { return "multimodal_appropriateness" }

// Evaluate checks suggested media captions. Any unsafe item caps the score
// at 1 no matter how many topic matches other items have.
func (MultimodalAppropriateness) Evaluate(out models.RawOutput, c models.Case) (models.MetricScore, error) {
	items := suggestedMedia(out)
	if len(items) == 0 {
		return models.MetricScore{Value: 2, Confidence: 0.6, Notes: "no suggested media"}, nil
	}

	topic := c.Topic
	if topic == "" {
		topic = c.Subject
	}
	topicWords := strings.Fields(strings.ToLower(topic))

	score := 5
	unsafe := false
	var notes []string
	for _, item := range items {
		text := strings.ToLower(mediaText(item))
		for _, k := range unsafeMediaKeywords {
			if strings.Contains(text, k) {
				unsafe = true
				notes = append(notes, "unsafe content suggested")
				break
			}
		}
		matches := 0
		for _, w := range topicWords {
			if strings.Contains(text, w) {
				matches++
			}
		}
		if matches > 0 {
			notes = append(notes, fmt.Sprintf("%d topic matches in media description", matches))
		}
	}

	conf := 0.9
	if unsafe {
		score = 1
		conf = 0.8
	}
	note := "ok"
	if len(notes) > 0 {
		note = strings.Join(notes, "; ")
	}
	return models.MetricScore{Value: score, Confidence: conf, Notes: note}, nil
}

func suggestedMedia(out models.RawOutput) []any {
	for _, key := range []string{models.RawSuggestedMedia, "images", "media"} {
		switch v := out[key].(type) {
		case []any:
			if len(v) > 0 {
				return v
			}
		case []string:
			if len(v) > 0 {
				items := make([]any, len(v))
				for i, s := range v {
					items[i] = s
				}
				return items
			}
		case []map[string]any:
			if len(v) > 0 {
				items := make([]any, len(v))
				for i, m := range v {
					items[i] = m
				}
				return items
			}
		}
	}
	return nil
}

func mediaText(item any) string {
	switch v := item.(type) {
	case string:
		return v
	case map[string]any:
		for _, k := range []string{"caption", "title", "alt"} {
			if s, ok := v[k].(string); ok && s != "" {
				return s
			}
		}
		return ""
	default:
		return fmt.Sprint(v)
	}
}
