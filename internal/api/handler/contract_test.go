package handler_test

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/tutoreval/internal/api"
	mw "github.com/kiranshivaraju/tutoreval/internal/api/middleware"
	"github.com/kiranshivaraju/tutoreval/internal/cache"
	"github.com/kiranshivaraju/tutoreval/internal/config"
	"github.com/kiranshivaraju/tutoreval/internal/engine"
	"github.com/kiranshivaraju/tutoreval/internal/jobs"
	"github.com/kiranshivaraju/tutoreval/internal/queue"
	"github.com/kiranshivaraju/tutoreval/internal/scoring"
	"github.com/kiranshivaraju/tutoreval/internal/store"
	"github.com/kiranshivaraju/tutoreval/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// harness runs the full HTTP surface over in-memory components. Tasks are
// only processed when drain is called.
type harness struct {
	t       *testing.T
	server  *httptest.Server
	store   *store.MemoryStore
	queue   *queue.MemoryQueue
	pool    *worker.Pool
	metrics *scoring.Registry
	admin   string
	reader  string
}

func newHarness(t *testing.T, requestsPerMinute int) *harness {
	t.Helper()
	st := store.NewMemoryStore()
	ca := cache.NewMemoryCache()
	q := queue.NewMemoryQueue(3)
	tr := jobs.NewTracker(st, ca, nil)
	engines, err := engine.NewRegistry(config.EnginesConfig{})
	require.NoError(t, err)
	metrics := scoring.DefaultRegistry()
	exec := worker.NewExecutor(engines, metrics, tr, time.Second, nil)

	h := &harness{
		t:       t,
		store:   st,
		queue:   q,
		pool:    worker.NewPool(q, exec, tr, worker.PoolConfig{Name: "contract"}, nil),
		metrics: metrics,
	}
	h.server = httptest.NewServer(api.New(api.Services{
		Store:             st,
		Cache:             ca,
		Jobs:              jobs.NewManager(st, q, tr, time.Hour, nil),
		Metrics:           metrics,
		Engines:           engines,
		RequestsPerMinute: requestsPerMinute,
	}))
	t.Cleanup(h.server.Close)

	h.admin = h.issueKey(store.DefaultTenantID, mw.ScopeAdmin)
	h.reader = h.issueKey(store.DefaultTenantID, mw.ScopeRead)
	return h
}

func (h *harness) issueKey(tenantID uuid.UUID, scopes ...string) string {
	h.t.Helper()
	key, raw, err := mw.GenerateKey(tenantID, "contract-"+uuid.NewString()[:8], scopes)
	require.NoError(h.t, err)
	require.NoError(h.t, h.store.CreateAPIKey(context.Background(), key))
	return raw
}

func (h *harness) do(key, method, path string, body any) *http.Response {
	h.t.Helper()
	var rdr io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rdr = strings.NewReader(b)
	default:
		js, err := json.Marshal(b)
		require.NoError(h.t, err)
		rdr = bytes.NewReader(js)
	}
	req, err := http.NewRequest(method, h.server.URL+path, rdr)
	require.NoError(h.t, err)
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(h.t, err)
	h.t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

// drain hands every queued task to the pool synchronously.
func (h *harness) drain() {
	h.t.Helper()
	ctx := context.Background()
	for {
		d, err := h.queue.Claim(ctx, "contract-0", 20*time.Millisecond)
		if errors.Is(err, queue.ErrEmpty) {
			return
		}
		require.NoError(h.t, err)
		h.pool.Handle(ctx, "contract-0", d)
	}
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Meta  map[string]any  `json:"meta"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decode(t *testing.T, resp *http.Response, wantStatus int) envelope {
	t.Helper()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, wantStatus, resp.StatusCode, string(raw))
	var env envelope
	require.NoError(t, json.Unmarshal(raw, &env), string(raw))
	return env
}

func data[T any](t *testing.T, env envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

func errCode(t *testing.T, resp *http.Response, wantStatus int) string {
	t.Helper()
	env := decode(t, resp, wantStatus)
	require.NotNil(t, env.Error)
	return env.Error.Code
}

const sampleDataset = `{
  "name": "photosynthesis-suite",
  "test_cases": [
    {"id": "e1", "student_query": "Explain photosynthesis", "expected_concepts": ["light", "chlorophyll"], "grade_level": "elementary", "subject": "science"},
    {"id": "e2", "student_query": "Why do plants need water?", "expected_concepts": ["water"], "grade_level": "elementary", "subject": "science"},
    {"id": "h1", "student_query": "Explain the Calvin cycle", "expected_concepts": ["carbon", "rubisco"], "grade_level": "high_school", "subject": "biology"}
  ]
}`

func (h *harness) uploadDataset() uuid.UUID {
	h.t.Helper()
	env := decode(h.t, h.do(h.admin, http.MethodPost, "/api/v1/datasets", sampleDataset), http.StatusCreated)
	ds := data[struct {
		ID uuid.UUID `json:"dataset_id"`
	}](h.t, env)
	return ds.ID
}

type jobView struct {
	ID             uuid.UUID `json:"job_id"`
	Status         string    `json:"status"`
	NumCases       int       `json:"num_cases"`
	ProcessedCount int       `json:"processed_count"`
	SkippedCount   int       `json:"skipped_count"`
	Summary        *struct {
		MeanScore float64 `json:"mean_score"`
		CaseCount int     `json:"case_count"`
	} `json:"summary"`
}

func (h *harness) createEvaluation(key string, body map[string]any) jobView {
	h.t.Helper()
	env := decode(h.t, h.do(key, http.MethodPost, "/api/v1/evaluations", body), http.StatusAccepted)
	return data[jobView](h.t, env)
}

func (h *harness) getJob(id uuid.UUID) jobView {
	h.t.Helper()
	env := decode(h.t, h.do(h.reader, http.MethodGet, "/api/v1/evaluations/"+id.String(), nil), http.StatusOK)
	return data[jobView](h.t, env)
}

func TestDatasets_UploadListGet(t *testing.T) {
	h := newHarness(t, 1000)

	env := decode(t, h.do(h.admin, http.MethodPost, "/api/v1/datasets", sampleDataset), http.StatusCreated)
	created := data[struct {
		ID       uuid.UUID `json:"dataset_id"`
		Name     string    `json:"name"`
		Version  int       `json:"version"`
		NumCases int       `json:"num_cases"`
	}](t, env)
	assert.Equal(t, "photosynthesis-suite", created.Name)
	assert.Equal(t, 1, created.Version)
	assert.Equal(t, 3, created.NumCases)

	list := data[[]map[string]any](t, decode(t, h.do(h.reader, http.MethodGet, "/api/v1/datasets", nil), http.StatusOK))
	require.Len(t, list, 1)
	assert.NotContains(t, list[0], "num_cases")

	full := data[struct {
		Cases []struct {
			ID string `json:"id"`
		} `json:"test_cases"`
	}](t, decode(t, h.do(h.reader, http.MethodGet, "/api/v1/datasets/"+created.ID.String(), nil), http.StatusOK))
	require.Len(t, full.Cases, 3)
	assert.Equal(t, "e1", full.Cases[0].ID)

	assert.Equal(t, "DATASET_NOT_FOUND", errCode(t, h.do(h.reader, http.MethodGet, "/api/v1/datasets/"+uuid.NewString(), nil), http.StatusNotFound))
	assert.Equal(t, "INVALID_DATASET_ID", errCode(t, h.do(h.reader, http.MethodGet, "/api/v1/datasets/nope", nil), http.StatusBadRequest))
}

func TestDatasets_Rejected(t *testing.T) {
	h := newHarness(t, 1000)

	tests := []struct {
		name string
		body string
		code string
	}{
		{"not json", `{`, "INVALID_DATASET"},
		{"cases not a list", `{"test_cases": {"id": "x"}}`, "INVALID_DATASET"},
		{"bad grade", `{"test_cases": [{"id": "x", "student_query": "q", "grade_level": "kindergarten", "subject": "s"}]}`, "INVALID_CASE"},
		{"duplicate ids", `{"test_cases": [
			{"id": "x", "student_query": "q", "grade_level": "college", "subject": "s"},
			{"id": "x", "student_query": "q", "grade_level": "college", "subject": "s"}]}`, "INVALID_CASE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, errCode(t, h.do(h.admin, http.MethodPost, "/api/v1/datasets", tt.body), http.StatusBadRequest))
		})
	}

	t.Run("read key forbidden", func(t *testing.T) {
		assert.Equal(t, "FORBIDDEN", errCode(t, h.do(h.reader, http.MethodPost, "/api/v1/datasets", sampleDataset), http.StatusForbidden))
	})
}

func TestEvaluation_FullFlow(t *testing.T) {
	h := newHarness(t, 1000)
	datasetID := h.uploadDataset()

	created := h.createEvaluation(h.admin, map[string]any{
		"dataset_id":        datasetID,
		"case_filters":      map[string]any{"grade_levels": []string{"elementary"}},
		"engine_selector":   map[string]any{"primary": "mock"},
		"evaluation_config": map[string]any{"deterministic_seed": 7},
	})
	assert.Equal(t, "queued", created.Status)
	assert.Equal(t, 2, created.NumCases)

	h.drain()

	job := h.getJob(created.ID)
	assert.Equal(t, "completed", job.Status)
	assert.Equal(t, 2, job.ProcessedCount)
	require.NotNil(t, job.Summary)
	assert.Equal(t, 2, job.Summary.CaseCount)

	listEnv := decode(t, h.do(h.reader, http.MethodGet, "/api/v1/evaluations/"+created.ID.String()+"/cases?limit=1", nil), http.StatusOK)
	cases := data[[]map[string]any](t, listEnv)
	require.Len(t, cases, 1)
	assert.NotContains(t, cases[0], "raw")
	assert.EqualValues(t, 2, listEnv.Meta["total"])
	assert.Equal(t, true, listEnv.Meta["has_next"])

	one := data[struct {
		CaseID string         `json:"case_id"`
		Status string         `json:"status"`
		Scores map[string]any `json:"scores"`
		Raw    map[string]any `json:"raw"`
	}](t, decode(t, h.do(h.reader, http.MethodGet, "/api/v1/evaluations/"+created.ID.String()+"/cases/e1", nil), http.StatusOK))
	assert.Equal(t, "e1", one.CaseID)
	assert.Equal(t, "evaluated", one.Status)
	assert.Len(t, one.Scores, len(h.metrics.IDs()))
	assert.NotEmpty(t, one.Raw)

	assert.Equal(t, "CASE_NOT_FOUND", errCode(t, h.do(h.reader, http.MethodGet, "/api/v1/evaluations/"+created.ID.String()+"/cases/h1", nil), http.StatusNotFound))

	csvResp := h.do(h.reader, http.MethodGet, "/api/v1/evaluations/"+created.ID.String()+"/results.csv", nil)
	require.Equal(t, http.StatusOK, csvResp.StatusCode)
	assert.Equal(t, "text/csv", csvResp.Header.Get("Content-Type"))
	assert.Contains(t, csvResp.Header.Get("Content-Disposition"), fmt.Sprintf("results_%s.csv", created.ID))
	records, err := csv.NewReader(csvResp.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "case_id", records[0][0])
	assert.Len(t, records[0], 7+len(h.metrics.IDs()))

	dist := data[struct {
		CaseCount    int                       `json:"case_count"`
		Distribution map[string]map[string]int `json:"distribution"`
	}](t, decode(t, h.do(h.reader, http.MethodGet, "/api/v1/evaluations/"+created.ID.String()+"/metrics/distribution", nil), http.StatusOK))
	assert.Equal(t, 2, dist.CaseCount)
	assert.Len(t, dist.Distribution, len(h.metrics.IDs()))
	for metric, buckets := range dist.Distribution {
		total := 0
		for _, n := range buckets {
			total += n
		}
		assert.Equal(t, 2, total, "metric %s", metric)
	}

	metric := h.metrics.IDs()[0]
	single := data[struct {
		Distribution map[string]map[string]int `json:"distribution"`
	}](t, decode(t, h.do(h.reader, http.MethodGet, "/api/v1/evaluations/"+created.ID.String()+"/metrics/distribution?metric="+metric, nil), http.StatusOK))
	assert.Len(t, single.Distribution, 1)
	assert.Contains(t, single.Distribution, metric)

	assert.Equal(t, "UNKNOWN_METRIC", errCode(t, h.do(h.reader, http.MethodGet, "/api/v1/evaluations/"+created.ID.String()+"/metrics/distribution?metric=vibes", nil), http.StatusBadRequest))
	assert.Equal(t, "INVALID_REQUEST", errCode(t, h.do(h.reader, http.MethodGet, "/api/v1/evaluations/"+created.ID.String()+"/cases?min_score=2", nil), http.StatusBadRequest))

	list := decode(t, h.do(h.reader, http.MethodGet, "/api/v1/evaluations?status=completed", nil), http.StatusOK)
	assert.Len(t, data[[]jobView](t, list), 1)
	assert.EqualValues(t, 1, list.Meta["total"])
}

func TestEvaluation_CreateRejected(t *testing.T) {
	h := newHarness(t, 1000)
	datasetID := h.uploadDataset()

	tests := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{"invalid json", `{"dataset_id":`, http.StatusBadRequest, "INVALID_REQUEST"},
		{"missing dataset", map[string]any{}, http.StatusBadRequest, "INVALID_REQUEST"},
		{"malformed dataset id", map[string]any{"dataset_id": "abc"}, http.StatusBadRequest, "INVALID_DATASET_ID"},
		{"unknown dataset", map[string]any{"dataset_id": uuid.NewString()}, http.StatusNotFound, "DATASET_NOT_FOUND"},
		{"bad mode", map[string]any{"dataset_id": datasetID, "mode": "batch"}, http.StatusBadRequest, "INVALID_REQUEST"},
		{"negative timeout", map[string]any{"dataset_id": datasetID, "evaluation_config": map[string]any{"timeout": -1}}, http.StatusBadRequest, "INVALID_REQUEST"},
		{"timeout above limit", map[string]any{"dataset_id": datasetID, "evaluation_config": map[string]any{"timeout": 601}}, http.StatusBadRequest, "INVALID_CONFIG"},
		{"timeout overflows duration", map[string]any{"dataset_id": datasetID, "evaluation_config": map[string]any{"timeout": 1_000_000_000_000}}, http.StatusBadRequest, "INVALID_CONFIG"},
		{"unknown filter", map[string]any{"dataset_id": datasetID, "case_filters": map[string]any{"topic": []string{"x"}}}, http.StatusBadRequest, "INVALID_FILTERS"},
		{"filter not a list", map[string]any{"dataset_id": datasetID, "case_filters": map[string]any{"subjects": "science"}}, http.StatusBadRequest, "INVALID_FILTERS"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, errCode(t, h.do(h.admin, http.MethodPost, "/api/v1/evaluations", tt.body), tt.status))
		})
	}

	stats, err := h.queue.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Pending, "rejected requests enqueue nothing")
}

func TestEvaluation_EmptySelectionCompletesImmediately(t *testing.T) {
	h := newHarness(t, 1000)
	datasetID := h.uploadDataset()

	created := h.createEvaluation(h.admin, map[string]any{
		"dataset_id":   datasetID,
		"case_filters": map[string]any{"subjects": []string{"history"}},
	})
	assert.Equal(t, "completed", created.Status)
	assert.Equal(t, 0, created.NumCases)
}

func TestEvaluation_Cancel(t *testing.T) {
	h := newHarness(t, 1000)
	datasetID := h.uploadDataset()
	created := h.createEvaluation(h.admin, map[string]any{"dataset_id": datasetID})

	cancelled := data[struct {
		CancelRequested bool `json:"cancel_requested"`
	}](t, decode(t, h.do(h.admin, http.MethodPost, "/api/v1/evaluations/"+created.ID.String()+"/cancel", nil), http.StatusAccepted))
	assert.True(t, cancelled.CancelRequested)

	h.drain()

	job := h.getJob(created.ID)
	assert.Equal(t, "completed", job.Status)
	assert.Equal(t, 3, job.SkippedCount)
	assert.Equal(t, 0, job.ProcessedCount)

	assert.Equal(t, "RESULTS_NOT_FOUND", errCode(t, h.do(h.reader, http.MethodGet, "/api/v1/evaluations/"+created.ID.String()+"/results.csv", nil), http.StatusNotFound))
	assert.Equal(t, "JOB_NOT_FOUND", errCode(t, h.do(h.admin, http.MethodPost, "/api/v1/evaluations/"+uuid.NewString()+"/cancel", nil), http.StatusNotFound))
}

func TestEvaluation_CSVBeforeResults(t *testing.T) {
	h := newHarness(t, 1000)
	created := h.createEvaluation(h.admin, map[string]any{"dataset_id": h.uploadDataset()})

	assert.Equal(t, "RESULTS_NOT_FOUND", errCode(t, h.do(h.reader, http.MethodGet, "/api/v1/evaluations/"+created.ID.String()+"/results.csv", nil), http.StatusNotFound))
	assert.Equal(t, "queued", h.getJob(created.ID).Status)
}

func TestTenantIsolation(t *testing.T) {
	h := newHarness(t, 1000)
	datasetID := h.uploadDataset()
	created := h.createEvaluation(h.admin, map[string]any{"dataset_id": datasetID})
	h.drain()

	other := h.issueKey(uuid.New(), mw.ScopeRead, mw.ScopeWrite)

	assert.Equal(t, "DATASET_NOT_FOUND", errCode(t, h.do(other, http.MethodGet, "/api/v1/datasets/"+datasetID.String(), nil), http.StatusNotFound))
	assert.Equal(t, "JOB_NOT_FOUND", errCode(t, h.do(other, http.MethodGet, "/api/v1/evaluations/"+created.ID.String(), nil), http.StatusNotFound))
	assert.Equal(t, "JOB_NOT_FOUND", errCode(t, h.do(other, http.MethodGet, "/api/v1/evaluations/"+created.ID.String()+"/cases", nil), http.StatusNotFound))
	assert.Equal(t, "CASE_NOT_FOUND", errCode(t, h.do(other, http.MethodGet, "/api/v1/evaluations/"+created.ID.String()+"/cases/e1", nil), http.StatusNotFound))
	assert.Equal(t, "DATASET_NOT_FOUND", errCode(t, h.do(other, http.MethodPost, "/api/v1/evaluations", map[string]any{"dataset_id": datasetID}), http.StatusNotFound))

	list := decode(t, h.do(other, http.MethodGet, "/api/v1/evaluations", nil), http.StatusOK)
	assert.Empty(t, data[[]jobView](t, list))
}

func TestCatalogs(t *testing.T) {
	h := newHarness(t, 1000)

	metrics := data[[]struct {
		ID string `json:"id"`
	}](t, decode(t, h.do(h.reader, http.MethodGet, "/api/v1/metrics", nil), http.StatusOK))
	require.Len(t, metrics, len(h.metrics.IDs()))
	for i, id := range h.metrics.IDs() {
		assert.Equal(t, id, metrics[i].ID)
	}

	engines := data[[]engine.EngineInfo](t, decode(t, h.do(h.reader, http.MethodGet, "/api/v1/engines", nil), http.StatusOK))
	require.NotEmpty(t, engines)
	assert.True(t, engines[0].Builtin)
}

func TestAdminKeys(t *testing.T) {
	h := newHarness(t, 1000)

	created := data[struct {
		ID        uuid.UUID `json:"id"`
		Key       string    `json:"key"`
		KeyPrefix string    `json:"key_prefix"`
		Scopes    []string  `json:"scopes"`
	}](t, decode(t, h.do(h.admin, http.MethodPost, "/api/v1/admin/keys", map[string]any{"name": "ci", "scopes": []string{"read"}}), http.StatusCreated))
	assert.True(t, strings.HasPrefix(created.Key, created.KeyPrefix))
	assert.Equal(t, []string{"read"}, created.Scopes)

	decode(t, h.do(created.Key, http.MethodGet, "/api/v1/metrics", nil), http.StatusOK)

	keys := data[[]map[string]any](t, decode(t, h.do(h.admin, http.MethodGet, "/api/v1/admin/keys", nil), http.StatusOK))
	assert.Len(t, keys, 3)
	for _, k := range keys {
		assert.NotContains(t, k, "key_hash")
	}

	assert.Equal(t, "INVALID_REQUEST", errCode(t, h.do(h.admin, http.MethodPost, "/api/v1/admin/keys", map[string]any{}), http.StatusBadRequest))
	assert.Equal(t, "INVALID_REQUEST", errCode(t, h.do(h.admin, http.MethodPost, "/api/v1/admin/keys", map[string]any{"name": "x", "scopes": []string{"root"}}), http.StatusBadRequest))

	decode(t, h.do(h.admin, http.MethodDelete, "/api/v1/admin/keys/"+created.ID.String(), nil), http.StatusOK)
	assert.Equal(t, "INVALID_TOKEN", errCode(t, h.do(created.Key, http.MethodGet, "/api/v1/metrics", nil), http.StatusUnauthorized))
	assert.Equal(t, "KEY_NOT_FOUND", errCode(t, h.do(h.admin, http.MethodDelete, "/api/v1/admin/keys/"+uuid.NewString(), nil), http.StatusNotFound))
}

func TestRateLimit(t *testing.T) {
	h := newHarness(t, 2)

	decode(t, h.do(h.reader, http.MethodGet, "/api/v1/metrics", nil), http.StatusOK)
	decode(t, h.do(h.reader, http.MethodGet, "/api/v1/metrics", nil), http.StatusOK)

	resp := h.do(h.reader, http.MethodGet, "/api/v1/metrics", nil)
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", errCode(t, resp, http.StatusTooManyRequests))
	assert.Equal(t, "60", resp.Header.Get("Retry-After"))

	decode(t, h.do(h.admin, http.MethodGet, "/api/v1/metrics", nil), http.StatusOK)
}

func TestHealth(t *testing.T) {
	h := newHarness(t, 1000)
	decode(t, h.do("", http.MethodGet, "/api/v1/health", nil), http.StatusOK)
}
