// Package hf implements a judge backed by the Hugging Face inference API.
package hf

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kiranshivaraju/tutoreval/internal/config"
	"github.com/kiranshivaraju/tutoreval/internal/engine/judge"
	"github.com/kiranshivaraju/tutoreval/pkg/models"
	"golang.org/x/time/rate"
)

const label = "hf"

// Engine implements models.Engine. Without an API token it answers with a stub.
type Engine struct {
	cfg     config.HFConfig
	client  *http.Client
	limiter *rate.Limiter
}

func New(cfg config.HFConfig, limiter *rate.Limiter) *Engine {
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api-inference.huggingface.co"
	}
	if cfg.Model == "" {
		cfg.Model = "mistral"
	}
	return &Engine{cfg: cfg, client: &http.Client{}, limiter: limiter}
}

func (e *Engine) ModelVersion() string { return label + "/" + e.cfg.Model }

func (e *Engine) Evaluate(ctx context.Context, c models.Case, promptTemplate string, _ map[string]any, timeout time.Duration, _ int64) models.JudgeResult {
	start := time.Now()
	if e.cfg.APIToken == "" {
		return judge.Stub(label, e.ModelVersion(), c, start)
	}

	ctx, cancel := judge.WithTimeout(ctx, timeout)
	defer cancel()

	if err := judge.Wait(ctx, e.limiter); err != nil {
		return judge.Degraded(label, e.ModelVersion(), c, err, start)
	}

	text, out, err := e.infer(ctx, judge.RenderPrompt(promptTemplate, c))
	if err != nil {
		return judge.Degraded(label, e.ModelVersion(), c, err, start)
	}
	return judge.Success(text, out, e.ModelVersion(), c, start)
}

func (e *Engine) infer(ctx context.Context, prompt string) (string, any, error) {
	body, err := json.Marshal(map[string]any{
		"inputs":     prompt,
		"parameters": map[string]any{"max_new_tokens": 512, "temperature": 0.0},
	})
	if err != nil {
		return "", nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.BaseURL+"/models/"+e.cfg.Model, bytes.NewReader(body))
	if err != nil {
		return "", nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.cfg.APIToken)

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", nil, fmt.Errorf("%w: %v", judge.ErrEngineTimeout, err)
		}
		return "", nil, fmt.Errorf("%w: %v", judge.ErrEngineUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := judge.ReadBody(resp.Body)
	if err != nil {
		return "", nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return "", nil, fmt.Errorf("%w: status %d", judge.ErrEngineUnavailable, resp.StatusCode)
	}

	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", nil, fmt.Errorf("%w: %v", judge.ErrInvalidResponse, err)
	}

	// The inference API usually answers with [{"generated_text": "..."}].
	if list, ok := out.([]any); ok && len(list) > 0 {
		if first, ok := list[0].(map[string]any); ok {
			if text, ok := first["generated_text"].(string); ok {
				return text, out, nil
			}
		}
	}
	return string(raw), out, nil
}

var _ models.Engine = (*Engine)(nil)
