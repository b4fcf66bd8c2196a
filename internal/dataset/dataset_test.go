package dataset_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/tutoreval/internal/dataset"
	"github.com/kiranshivaraju/tutoreval/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `{
  "name": "science-basics",
  "test_cases": [
    {"id": "c1", "student_query": "Explain photosynthesis", "expected_concepts": ["light", "chlorophyll"], "grade_level": "elementary", "subject": "science"},
    {"id": "c2", "student_query": "Solve 2x + 3 = 7", "grade_level": "high_school", "subject": "math", "metadata": {"previous_context": "linear equations"}}
  ]
}`

func TestParse(t *testing.T) {
	f, err := dataset.Parse(strings.NewReader(sample))
	require.NoError(t, err)
	assert.Equal(t, "science-basics", f.Name)
	require.Len(t, f.TestCases, 2)
	assert.Equal(t, []string{"light", "chlorophyll"}, f.TestCases[0].ExpectedConcepts)
	assert.Equal(t, "linear equations", f.TestCases[1].PreviousContext())
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `{`},
		{"missing test_cases", `{"name": "x"}`},
		{"test_cases not a list", `{"test_cases": {"id": "c1"}}`},
		{"wrong case shape", `{"test_cases": [{"id": 5}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := dataset.Parse(strings.NewReader(tt.body))
			assert.ErrorIs(t, err, dataset.ErrInvalidPayload)
		})
	}
}

func TestParse_EmptyList(t *testing.T) {
	f, err := dataset.Parse(strings.NewReader(`{"test_cases": []}`))
	require.NoError(t, err)
	assert.Empty(t, f.TestCases)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ds.json")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	f, err := dataset.Load(path)
	require.NoError(t, err)
	assert.Len(t, f.TestCases, 2)

	_, err = dataset.Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func valid(id string) models.Case {
	return models.Case{ID: id, StudentQuery: "Why is the sky blue?", GradeLevel: models.GradeMiddleSchool, Subject: "science"}
}

func TestValidate(t *testing.T) {
	assert.NoError(t, dataset.Validate(nil))
	assert.NoError(t, dataset.Validate([]models.Case{valid("a"), valid("b")}))

	badGrade := valid("g")
	badGrade.GradeLevel = "kindergarten"
	noQuery := valid("q")
	noQuery.StudentQuery = ""
	emptyConcept := valid("e")
	emptyConcept.ExpectedConcepts = []string{"light", ""}

	tests := []struct {
		name  string
		cases []models.Case
		want  string
	}{
		{"bad grade", []models.Case{badGrade}, "GradeLevel failed oneof"},
		{"missing query", []models.Case{valid("a"), noQuery}, "case 1"},
		{"empty concept", []models.Case{emptyConcept}, "failed required"},
		{"duplicate id", []models.Case{valid("a"), valid("a")}, `duplicate case id "a"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := dataset.Validate(tt.cases)
			require.ErrorIs(t, err, dataset.ErrInvalidCase)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestFileNew(t *testing.T) {
	tenant := uuid.New()
	f, err := dataset.Parse(strings.NewReader(`{"test_cases": []}`))
	require.NoError(t, err)

	ds, err := f.New(tenant, "upload.json")
	require.NoError(t, err)
	assert.Equal(t, tenant, ds.TenantID)
	assert.Equal(t, "upload.json", ds.Name)
	assert.Equal(t, 1, ds.Version)
	assert.NotNil(t, ds.Cases)

	bad := &dataset.File{Name: "x", TestCases: []models.Case{{ID: "c1"}}}
	_, err = bad.New(tenant, "")
	assert.ErrorIs(t, err, dataset.ErrInvalidCase)
}
