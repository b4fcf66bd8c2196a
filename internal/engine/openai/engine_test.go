package openai_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kiranshivaraju/tutoreval/internal/config"
	"github.com/kiranshivaraju/tutoreval/internal/engine/openai"
	"github.com/kiranshivaraju/tutoreval/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCase = models.Case{ID: "c1", StudentQuery: "Write code to reverse a list", GradeLevel: "college", Subject: "cs"}

func TestEvaluate_Unconfigured(t *testing.T) {
	e := openai.New(config.OpenAIConfig{}, nil)
	res := e.Evaluate(context.Background(), testCase, "", nil, time.Second, 42)
	assert.Contains(t, res.RawOutput.TutorResponse(), "[openai stub response]")
	assert.Equal(t, "openai/gpt-4o-mini", res.ModelVersion)
}

func TestEvaluate_ChatCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "mistral-7b", req["model"])
		assert.EqualValues(t, 7, req["seed"])

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  "mistral-7b",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": "def rev(xs):\n    return xs[::-1]"},
				"finish_reason": "stop",
			}},
			"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 8, "total_tokens": 18},
		})
	}))
	defer srv.Close()

	e := openai.New(config.OpenAIConfig{BaseURL: srv.URL, Model: "mistral-7b"}, nil)
	res := e.Evaluate(context.Background(), testCase, "", nil, time.Second, 7)
	require.False(t, res.RawOutput.Degraded(), "raw: %v", res.RawOutput)
	assert.Contains(t, res.RawOutput.TutorResponse(), "return xs[::-1]")
	assert.Equal(t, "openai/mistral-7b", res.ModelVersion)
}

func TestEvaluate_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited","type":"requests"}}`))
	}))
	defer srv.Close()

	e := openai.New(config.OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL}, nil)
	res := e.Evaluate(context.Background(), testCase, "", nil, time.Second, 42)
	assert.True(t, res.RawOutput.Degraded())
	assert.Equal(t, 0.1, res.RawOutput[models.RawJudgeConfidence])
}
