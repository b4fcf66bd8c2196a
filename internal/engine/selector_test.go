package engine_test

import (
	"encoding/json"
	"testing"

	"github.com/kiranshivaraju/tutoreval/internal/engine"
	"github.com/stretchr/testify/assert"
)

func TestParseSelector(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want engine.Selector
	}{
		{"empty", ``, engine.StandIn},
		{"null", `null`, engine.StandIn},
		{"mock string", `"mock"`, engine.StandIn},
		{"primary mock", `{"primary":"mock"}`, engine.StandIn},
		{"ollama bare", `"ollama"`, engine.Selector{Kind: engine.KindOllama}},
		{"ollama with model", `{"primary":"ollama:llama2"}`, engine.Selector{Kind: engine.KindOllama, Model: "llama2"}},
		{"hf with model", `"hf:gpt2"`, engine.Selector{Kind: engine.KindHF, Model: "gpt2"}},
		{"openai", `"openai:gpt-4o-mini"`, engine.Selector{Kind: engine.KindOpenAI, Model: "gpt-4o-mini"}},
		{"vllm alias", `"vllm:mistral"`, engine.Selector{Kind: engine.KindOpenAI, Model: "mistral"}},
		{"profile name", `"tutor-llama"`, engine.Selector{Kind: engine.KindCustom, Profile: "tutor-llama"}},
		{"typed object", `{"primary":{"type":"ollama","config":{"model":"phi3","base_url":"http://x:11434"}}}`,
			engine.Selector{Kind: engine.KindOllama, Model: "phi3", Config: map[string]string{"base_url": "http://x:11434"}}},
		{"typed top level", `{"type":"hf","config":{"name":"gpt2"}}`, engine.Selector{Kind: engine.KindHF, Model: "gpt2"}},
		{"typed unknown", `{"primary":{"type":"bard"}}`, engine.StandIn},
		{"number", `42`, engine.StandIn},
		{"array", `["ollama"]`, engine.StandIn},
		{"malformed", `{"primary":`, engine.StandIn},
		{"primary number", `{"primary":7}`, engine.StandIn},
		{"fallbacks ignored", `{"primary":"hf","fallbacks":["ollama"]}`, engine.Selector{Kind: engine.KindHF}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, engine.ParseSelector(json.RawMessage(tt.raw)))
		})
	}
}

func TestParseSelector_Pure(t *testing.T) {
	raw := json.RawMessage(`{"primary":"ollama:llama3"}`)
	assert.Equal(t, engine.ParseSelector(raw), engine.ParseSelector(raw))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "mock", engine.KindStandIn.String())
	assert.Equal(t, "ollama", engine.KindOllama.String())
	assert.Equal(t, "custom", engine.KindCustom.String())
}
