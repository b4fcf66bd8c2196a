package jobs

import (
	"fmt"

	"github.com/kiranshivaraju/tutoreval/pkg/models"
)

// Filters are inclusion lists over case fields. An empty list does not filter.
type Filters struct {
	GradeLevels []string
	Subjects    []string
}

// ParseFilters accepts {"grade_levels": [...], "subjects": [...]}. Unknown
// keys and entries that are not non-empty strings are rejected.
func ParseFilters(raw map[string]any) (Filters, error) {
	var f Filters
	for key, v := range raw {
		list, err := stringList(key, v)
		if err != nil {
			return Filters{}, err
		}
		switch key {
		case "grade_levels":
			f.GradeLevels = list
		case "subjects":
			f.Subjects = list
		default:
			return Filters{}, fmt.Errorf("%w: unknown filter %q", ErrInvalidFilters, key)
		}
	}
	return f, nil
}

func stringList(key string, v any) ([]string, error) {
	if v == nil {
		return nil, nil
	}
	var items []any
	switch t := v.(type) {
	case []any:
		items = t
	case []string:
		for _, s := range t {
			items = append(items, s)
		}
	default:
		return nil, fmt.Errorf("%w: %s must be a list of strings", ErrInvalidFilters, key)
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		s, ok := it.(string)
		if !ok || s == "" {
			return nil, fmt.Errorf("%w: %s entries must be non-empty strings", ErrInvalidFilters, key)
		}
		out = append(out, s)
	}
	return out, nil
}

// Apply keeps cases matching every non-empty list, preserving order.
func (f Filters) Apply(cases []models.Case) []models.Case {
	out := make([]models.Case, 0, len(cases))
	for _, c := range cases {
		if len(f.GradeLevels) > 0 && !contains(f.GradeLevels, c.GradeLevel) {
			continue
		}
		if len(f.Subjects) > 0 && !contains(f.Subjects, c.Subject) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
