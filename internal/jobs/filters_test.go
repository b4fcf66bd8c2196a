package jobs_test

import (
	"testing"

	"github.com/kiranshivaraju/tutoreval/internal/jobs"
	"github.com/kiranshivaraju/tutoreval/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFilters(t *testing.T) {
	f, err := jobs.ParseFilters(nil)
	require.NoError(t, err)
	assert.Equal(t, jobs.Filters{}, f)

	f, err = jobs.ParseFilters(map[string]any{"grade_levels": []string{"college"}, "subjects": []any{"cs", "math"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"college"}, f.GradeLevels)
	assert.Equal(t, []string{"cs", "math"}, f.Subjects)
}

func TestFilters_Apply(t *testing.T) {
	cases := []models.Case{
		{ID: "1", GradeLevel: "college", Subject: "cs"},
		{ID: "2", GradeLevel: "college", Subject: "math"},
		{ID: "3", GradeLevel: "elementary", Subject: "cs"},
	}
	got := jobs.Filters{GradeLevels: []string{"college"}, Subjects: []string{"cs"}}.Apply(cases)
	require.Len(t, got, 1)
	assert.Equal(t, "1", got[0].ID)

	assert.Len(t, jobs.Filters{}.Apply(cases), 3)
}
