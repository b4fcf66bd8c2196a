package engine

import (
	"encoding/json"
	"strings"
)

// Kind identifies which engine family a selector resolves to.
type Kind int

const (
	KindStandIn Kind = iota
	KindOllama
	KindHF
	KindOpenAI
	KindCustom
)

func (k Kind) String() string {
	switch k {
	case KindOllama:
		return "ollama"
	case KindHF:
		return "hf"
	case KindOpenAI:
		return "openai"
	case KindCustom:
		return "custom"
	default:
		return "mock"
	}
}

// Selector is the parsed form of a task's engine selector.
type Selector struct {
	Kind Kind
	// Model overrides the configured model for network engines.
	Model string
	// Profile names a registered engine profile when Kind is KindCustom.
	Profile string
	// Config carries per-selector overrides (base_url, api_token, api_key).
	Config map[string]string
}

// StandIn is the selector every unrecognised input falls back to.
var StandIn = Selector{Kind: KindStandIn}

// ParseSelector never fails. Accepted forms:
//
//	"mock" | "ollama" | "ollama:llama3" | "hf:gpt2" | "openai:gpt-4o-mini" | "<profile>"
//	{"primary": <string or object>, "fallbacks": [...]}
//	{"type": "ollama", "config": {"model": "...", "base_url": "..."}}
//
// Anything else is the stand-in.
func ParseSelector(raw json.RawMessage) Selector {
	if len(raw) == 0 {
		return StandIn
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return StandIn
	}
	return fromValue(v, 0)
}

func fromValue(v any, depth int) Selector {
	if depth > 2 {
		return StandIn
	}
	switch t := v.(type) {
	case string:
		return fromString(t)
	case map[string]any:
		if primary, ok := t["primary"]; ok {
			return fromValue(primary, depth+1)
		}
		if typ, ok := t["type"].(string); ok {
			return fromTyped(typ, t["config"])
		}
	}
	return StandIn
}

func fromString(s string) Selector {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "mock") {
		return StandIn
	}
	scheme, model, _ := strings.Cut(s, ":")
	if kind, ok := schemeKind(scheme); ok {
		return Selector{Kind: kind, Model: strings.TrimSpace(model)}
	}
	return Selector{Kind: KindCustom, Profile: s}
}

func fromTyped(typ string, rawCfg any) Selector {
	cfg := map[string]string{}
	if m, ok := rawCfg.(map[string]any); ok {
		for k, v := range m {
			if s, ok := v.(string); ok && s != "" {
				cfg[k] = s
			}
		}
	}
	kind, ok := schemeKind(typ)
	if !ok {
		return StandIn
	}
	if kind == KindStandIn {
		return StandIn
	}
	model := cfg["model"]
	if model == "" {
		model = cfg["name"]
	}
	delete(cfg, "model")
	delete(cfg, "name")
	if len(cfg) == 0 {
		cfg = nil
	}
	return Selector{Kind: kind, Model: model, Config: cfg}
}

func schemeKind(s string) (Kind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mock", "standin", "stand-in":
		return KindStandIn, true
	case "ollama":
		return KindOllama, true
	case "hf", "huggingface":
		return KindHF, true
	case "openai", "vllm":
		return KindOpenAI, true
	}
	return KindStandIn, false
}
