package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/kiranshivaraju/tutoreval/internal/app"
	"github.com/kiranshivaraju/tutoreval/internal/config"
	"github.com/kiranshivaraju/tutoreval/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const datasetJSON = `{
  "name": "fractions",
  "test_cases": [
    {"id": "f1", "student_query": "What is 1/2 + 1/4?", "expected_concepts": ["denominator"], "grade_level": "elementary", "subject": "math"},
    {"id": "f2", "student_query": "Explain equivalent fractions", "expected_concepts": ["numerator"], "grade_level": "elementary", "subject": "math"},
    {"id": "a1", "student_query": "Solve x^2 = 9", "grade_level": "high_school", "subject": "math"}
  ]
}`

func writeDataset(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fractions.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

// memoryConnect hands every command the same in-memory app.
func memoryConnect(t *testing.T) (connectFunc, *app.App) {
	t.Helper()
	cfg, err := config.LoadLocal()
	require.NoError(t, err)
	a, err := app.InMemory(cfg, nil)
	require.NoError(t, err)
	return func(context.Context) (*app.App, error) { return a, nil }, a
}

func execute(t *testing.T, connect connectFunc, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd(connect)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRun_JSONReport(t *testing.T) {
	path := writeDataset(t, datasetJSON)
	connect, _ := memoryConnect(t)

	out, err := execute(t, connect, "run", "--dataset", path, "--seed", "7", "-o", "json")
	require.NoError(t, err)

	var report struct {
		Job struct {
			Status         string `json:"status"`
			ProcessedCount int    `json:"processed_count"`
			Summary        *struct {
				CaseCount int `json:"case_count"`
			} `json:"summary"`
		} `json:"job"`
		Results []struct {
			CaseID string `json:"case_id"`
			Status string `json:"status"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report), out)
	assert.Equal(t, "completed", report.Job.Status)
	assert.Equal(t, 3, report.Job.ProcessedCount)
	require.NotNil(t, report.Job.Summary)
	assert.Equal(t, 3, report.Job.Summary.CaseCount)
	assert.Len(t, report.Results, 3)
}

func TestRun_TableWithFilter(t *testing.T) {
	path := writeDataset(t, datasetJSON)
	connect, _ := memoryConnect(t)

	out, err := execute(t, connect, "run", "-d", path, "--grade", "elementary")
	require.NoError(t, err)
	assert.Contains(t, out, "f1")
	assert.Contains(t, out, "f2")
	assert.NotContains(t, out, "a1")
	assert.Contains(t, out, "completed: 2 processed, 0 skipped of 2")
	assert.Contains(t, out, "mean score")
}

func TestRun_Deterministic(t *testing.T) {
	path := writeDataset(t, datasetJSON)
	connect, _ := memoryConnect(t)

	scores := func() []float64 {
		out, err := execute(t, connect, "run", "-d", path, "--seed", "11", "-o", "json")
		require.NoError(t, err)
		var report struct {
			Results []struct {
				CaseID string  `json:"case_id"`
				Score  float64 `json:"aggregated_score"`
			} `json:"results"`
		}
		require.NoError(t, json.Unmarshal([]byte(out), &report))
		byCase := map[string]float64{}
		for _, r := range report.Results {
			byCase[r.CaseID] = r.Score
		}
		return []float64{byCase["f1"], byCase["f2"], byCase["a1"]}
	}
	assert.Equal(t, scores(), scores())
}

func TestRun_Errors(t *testing.T) {
	connect, _ := memoryConnect(t)

	_, err := execute(t, connect, "run")
	assert.ErrorContains(t, err, "required flag")

	_, err = execute(t, connect, "run", "-d", filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	_, err = execute(t, connect, "run", "-d", writeDataset(t, `{"test_cases": [{"id": "x"}]}`))
	assert.Error(t, err)
}

func TestDatasetsValidate(t *testing.T) {
	connect, _ := memoryConnect(t)

	out, err := execute(t, connect, "datasets", "validate", writeDataset(t, datasetJSON))
	require.NoError(t, err)
	assert.Contains(t, out, "fractions: 3 valid cases")

	_, err = execute(t, connect, "datasets", "validate", writeDataset(t, `{"test_cases": [{"id": "x", "student_query": "q", "grade_level": "nursery", "subject": "s"}]}`))
	assert.ErrorContains(t, err, "GradeLevel")
}

func TestDatasetsImport(t *testing.T) {
	connect, a := memoryConnect(t)

	out, err := execute(t, connect, "datasets", "import", writeDataset(t, datasetJSON), "--name", "renamed")
	require.NoError(t, err)
	assert.Contains(t, out, "imported dataset")

	list, err := a.Store.ListDatasets(context.Background(), store.DefaultTenantID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "renamed", list[0].Name)
}

func TestKeysCreateAndList(t *testing.T) {
	connect, a := memoryConnect(t)

	out, err := execute(t, connect, "keys", "create", "--name", "ops", "--scopes", "admin", "-o", "json")
	require.NoError(t, err)
	var created struct {
		Key       string   `json:"key"`
		KeyPrefix string   `json:"key_prefix"`
		Scopes    []string `json:"scopes"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &created))
	assert.Equal(t, []string{"admin"}, created.Scopes)
	assert.Equal(t, created.KeyPrefix, created.Key[:len(created.KeyPrefix)])

	keys, err := a.Store.GetAPIKeyByPrefix(context.Background(), created.KeyPrefix)
	require.NoError(t, err)
	assert.Len(t, keys, 1)

	out, err = execute(t, connect, "keys", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "ops")
	assert.Contains(t, out, created.KeyPrefix)

	_, err = execute(t, connect, "keys", "create", "--name", "bad", "--scopes", "root")
	assert.ErrorContains(t, err, "unknown scope")
}
