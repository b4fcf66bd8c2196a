package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kiranshivaraju/tutoreval/internal/api"
	mw "github.com/kiranshivaraju/tutoreval/internal/api/middleware"
	"github.com/kiranshivaraju/tutoreval/internal/cache"
	"github.com/kiranshivaraju/tutoreval/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestRouter wires only auth and rate limiting; every endpoint handler is
// left nil so authorised requests land on the 501 placeholder.
func newTestRouter(t *testing.T) (http.Handler, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	router := api.NewRouter(api.Dependencies{
		Auth:      mw.NewAuth(st),
		RateLimit: mw.NewRateLimit(cache.NewMemoryCache(), 1000),
		HealthHandler: func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		},
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("# metrics\n"))
		}),
	})
	return router, st
}

func issueKey(t *testing.T, st *store.MemoryStore, scopes ...string) string {
	t.Helper()
	key, raw, err := mw.GenerateKey(store.DefaultTenantID, "router-test", scopes)
	require.NoError(t, err)
	require.NoError(t, st.CreateAPIKey(context.Background(), key))
	return raw
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Error.Code
}

func TestRouter_PublicEndpoints(t *testing.T) {
	router, _ := newTestRouter(t)

	for _, path := range []string{"/api/v1/health", "/metrics"} {
		t.Run(path, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
			assert.Equal(t, http.StatusOK, w.Code)
		})
	}
}

func TestRouter_ProtectedEndpoints_RequireAuth(t *testing.T) {
	router, _ := newTestRouter(t)

	endpoints := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/v1/metrics"},
		{http.MethodGet, "/api/v1/engines"},
		{http.MethodPost, "/api/v1/evaluations"},
		{http.MethodGet, "/api/v1/evaluations"},
		{http.MethodGet, "/api/v1/evaluations/3f0c7a4e-1111-4c4c-9999-000000000001/cases"},
		{http.MethodGet, "/api/v1/evaluations/3f0c7a4e-1111-4c4c-9999-000000000001/results.csv"},
		{http.MethodPost, "/api/v1/datasets"},
		{http.MethodGet, "/api/v1/datasets"},
		{http.MethodPost, "/api/v1/admin/keys"},
		{http.MethodGet, "/api/v1/admin/keys"},
	}

	for _, ep := range endpoints {
		t.Run(ep.method+" "+ep.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(ep.method, ep.path, nil))

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Equal(t, "INVALID_TOKEN", errorCode(t, w))
		})
	}
}

func TestRouter_ScopeEnforcement(t *testing.T) {
	router, st := newTestRouter(t)
	readKey := issueKey(t, st, mw.ScopeRead)
	writeKey := issueKey(t, st, mw.ScopeRead, mw.ScopeWrite)
	adminKey := issueKey(t, st, mw.ScopeAdmin)

	tests := []struct {
		name   string
		key    string
		method string
		path   string
		want   int
	}{
		{"read lists evaluations", readKey, http.MethodGet, "/api/v1/evaluations", http.StatusNotImplemented},
		{"read cannot create evaluation", readKey, http.MethodPost, "/api/v1/evaluations", http.StatusForbidden},
		{"read cannot upload dataset", readKey, http.MethodPost, "/api/v1/datasets", http.StatusForbidden},
		{"read cannot cancel", readKey, http.MethodPost, "/api/v1/evaluations/3f0c7a4e-1111-4c4c-9999-000000000001/cancel", http.StatusForbidden},
		{"write creates evaluation", writeKey, http.MethodPost, "/api/v1/evaluations", http.StatusNotImplemented},
		{"write cannot manage keys", writeKey, http.MethodGet, "/api/v1/admin/keys", http.StatusForbidden},
		{"admin manages keys", adminKey, http.MethodGet, "/api/v1/admin/keys", http.StatusNotImplemented},
		{"admin implies write", adminKey, http.MethodPost, "/api/v1/datasets", http.StatusNotImplemented},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			req.Header.Set("Authorization", "Bearer "+tt.key)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusForbidden {
				assert.Equal(t, "FORBIDDEN", errorCode(t, w))
			}
		})
	}
}

func TestRouter_NotFound(t *testing.T) {
	router, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/nonexistent", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestNew_HealthReportsDependencies(t *testing.T) {
	st := store.NewMemoryStore()
	h := api.New(api.Services{Store: st, Cache: cache.NewMemoryCache()})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Data struct {
			Status   string            `json:"status"`
			Services map[string]string `json:"services"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Data.Status)
	assert.Contains(t, body.Data.Services, "database")
	assert.Contains(t, body.Data.Services, "cache")
}
