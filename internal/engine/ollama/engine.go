// Package ollama implements a judge backed by an Ollama server's generate API.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kiranshivaraju/tutoreval/internal/config"
	"github.com/kiranshivaraju/tutoreval/internal/engine/judge"
	"github.com/kiranshivaraju/tutoreval/pkg/models"
	"golang.org/x/time/rate"
)

const label = "ollama"

type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type generateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Engine implements models.Engine using Ollama. An empty BaseURL makes every
// call return a stub response.
type Engine struct {
	cfg     config.OllamaConfig
	client  *http.Client
	limiter *rate.Limiter
}

func New(cfg config.OllamaConfig, limiter *rate.Limiter) *Engine {
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = "llama3"
	}
	return &Engine{cfg: cfg, client: &http.Client{}, limiter: limiter}
}

func (e *Engine) ModelVersion() string { return label + "/" + e.cfg.Model }

func (e *Engine) Evaluate(ctx context.Context, c models.Case, promptTemplate string, _ map[string]any, timeout time.Duration, seed int64) models.JudgeResult {
	start := time.Now()
	if e.cfg.BaseURL == "" {
		return judge.Stub(label, e.ModelVersion(), c, start)
	}

	ctx, cancel := judge.WithTimeout(ctx, timeout)
	defer cancel()

	if err := judge.Wait(ctx, e.limiter); err != nil {
		return judge.Degraded(label, e.ModelVersion(), c, err, start)
	}

	text, out, err := e.generate(ctx, judge.RenderPrompt(promptTemplate, c), seed)
	if err != nil {
		slog.Warn("ollama evaluate failed", "case_id", c.ID, "model", e.cfg.Model, "error", err)
		return judge.Degraded(label, e.ModelVersion(), c, err, start)
	}
	return judge.Success(text, out, e.ModelVersion(), c, start)
}

func (e *Engine) generate(ctx context.Context, prompt string, seed int64) (string, map[string]any, error) {
	body, err := json.Marshal(generateRequest{
		Model:   e.cfg.Model,
		Prompt:  prompt,
		Stream:  false,
		Options: map[string]any{"temperature": 0.0, "seed": seed, "num_predict": 512},
	})
	if err != nil {
		return "", nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.BaseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

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
		return "", nil, fmt.Errorf("%w: status %d: %s", judge.ErrEngineUnavailable, resp.StatusCode, judge.Truncate(string(raw), 200))
	}

	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", nil, fmt.Errorf("%w: %v", judge.ErrInvalidResponse, err)
	}
	var gr generateResponse
	_ = json.Unmarshal(raw, &gr)
	text := gr.Response
	if text == "" {
		for _, k := range []string{"text", "generated_text"} {
			if s, ok := out[k].(string); ok && s != "" {
				text = s
				break
			}
		}
	}
	if text == "" {
		return "", nil, fmt.Errorf("%w: no response text", judge.ErrInvalidResponse)
	}
	return text, out, nil
}

var _ models.Engine = (*Engine)(nil)
