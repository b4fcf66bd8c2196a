// Package openai implements a judge over any OpenAI-compatible chat completion
// API, including self-hosted vLLM servers reached through a custom base URL.
package openai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kiranshivaraju/tutoreval/internal/config"
	"github.com/kiranshivaraju/tutoreval/internal/engine/judge"
	"github.com/kiranshivaraju/tutoreval/pkg/models"
	goopenai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

const (
	label        = "openai"
	systemPrompt = "You are an expert tutor evaluator. Answer the student's question as a tutor would."
)

type Engine struct {
	cfg     config.OpenAIConfig
	client  *goopenai.Client
	limiter *rate.Limiter
}

// New returns an engine. With neither an API key nor a base URL the engine
// is unconfigured and answers with a stub.
func New(cfg config.OpenAIConfig, limiter *rate.Limiter) *Engine {
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	e := &Engine{cfg: cfg, limiter: limiter}
	if cfg.APIKey != "" || cfg.BaseURL != "" {
		clientCfg := goopenai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			clientCfg.BaseURL = cfg.BaseURL
		}
		e.client = goopenai.NewClientWithConfig(clientCfg)
	}
	return e
}

func (e *Engine) ModelVersion() string { return label + "/" + e.cfg.Model }

func (e *Engine) Evaluate(ctx context.Context, c models.Case, promptTemplate string, _ map[string]any, timeout time.Duration, seed int64) models.JudgeResult {
	start := time.Now()
	if e.client == nil {
		return judge.Stub(label, e.ModelVersion(), c, start)
	}

	ctx, cancel := judge.WithTimeout(ctx, timeout)
	defer cancel()

	if err := judge.Wait(ctx, e.limiter); err != nil {
		return judge.Degraded(label, e.ModelVersion(), c, err, start)
	}

	s := int(seed)
	resp, err := e.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model: e.cfg.Model,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: goopenai.ChatMessageRoleUser, Content: judge.RenderPrompt(promptTemplate, c)},
		},
		Temperature: 0,
		Seed:        &s,
	})
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", judge.ErrEngineTimeout, err)
		}
		return judge.Degraded(label, e.ModelVersion(), c, err, start)
	}
	if len(resp.Choices) == 0 {
		return judge.Degraded(label, e.ModelVersion(), c, fmt.Errorf("%w: no choices", judge.ErrInvalidResponse), start)
	}

	out := map[string]any{
		"id":            resp.ID,
		"model":         resp.Model,
		"finish_reason": string(resp.Choices[0].FinishReason),
		"usage":         map[string]any{"prompt_tokens": resp.Usage.PromptTokens, "completion_tokens": resp.Usage.CompletionTokens},
	}
	return judge.Success(resp.Choices[0].Message.Content, out, e.ModelVersion(), c, start)
}

var _ models.Engine = (*Engine)(nil)
