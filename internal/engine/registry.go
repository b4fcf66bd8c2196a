// Package engine resolves engine selectors to judge implementations.
package engine

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/kiranshivaraju/tutoreval/internal/config"
	"github.com/kiranshivaraju/tutoreval/internal/engine/hf"
	"github.com/kiranshivaraju/tutoreval/internal/engine/judge"
	"github.com/kiranshivaraju/tutoreval/internal/engine/ollama"
	"github.com/kiranshivaraju/tutoreval/internal/engine/openai"
	"github.com/kiranshivaraju/tutoreval/internal/engine/standin"
	"github.com/kiranshivaraju/tutoreval/pkg/models"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"
)

// maxVariants bounds the memoised per-selector engines. Selectors past the
// bound still resolve; their engines are built per call.
const maxVariants = 256

// Profile is a named engine definition loaded from the profiles file.
type Profile struct {
	Name   string            `yaml:"name" json:"name"`
	Type   string            `yaml:"type" json:"type"`
	Config map[string]string `yaml:"config" json:"config,omitempty"`
}

type profilesFile struct {
	Engines []Profile `yaml:"engines"`
}

// EngineInfo describes a resolvable engine for listings.
type EngineInfo struct {
	Name         string `json:"name"`
	Type         string `json:"type"`
	ModelVersion string `json:"model_version"`
	Builtin      bool   `json:"builtin"`
}

// Registry maps selectors to engines. It is built once at startup and shared
// by every worker.
type Registry struct {
	cfg      config.EnginesConfig
	builtins map[Kind]models.Engine
	profiles map[string]Profile
	custom   map[string]models.Engine
	// limiters hold one rate budget per network kind, shared by the built-in
	// engine, profiles and every variant of that kind.
	limiters map[Kind]*rate.Limiter

	// variants memoises engines built for per-selector model or config overrides.
	mu       sync.Mutex
	variants map[string]models.Engine
}

// Option customises a Registry at construction.
type Option func(*Registry)

// WithEngine registers e under name, as if it were a profile.
func WithEngine(name string, e models.Engine) Option {
	return func(r *Registry) {
		r.custom[name] = e
		r.profiles[name] = Profile{Name: name, Type: "custom"}
	}
}

// WithProfiles adds profiles in addition to any read from cfg.ProfilesFile.
func WithProfiles(ps ...Profile) Option {
	return func(r *Registry) {
		for _, p := range ps {
			r.addProfile(p)
		}
	}
}

// NewRegistry builds the default engines and loads cfg.ProfilesFile if set.
func NewRegistry(cfg config.EnginesConfig, opts ...Option) (*Registry, error) {
	limiters := map[Kind]*rate.Limiter{
		KindOllama: judge.NewLimiter(cfg.RatePerSec),
		KindHF:     judge.NewLimiter(cfg.RatePerSec),
		KindOpenAI: judge.NewLimiter(cfg.RatePerSec),
	}
	r := &Registry{
		cfg: cfg,
		builtins: map[Kind]models.Engine{
			KindStandIn: standin.New(),
			KindOllama:  ollama.New(cfg.Ollama, limiters[KindOllama]),
			KindHF:      hf.New(cfg.HF, limiters[KindHF]),
			KindOpenAI:  openai.New(cfg.OpenAI, limiters[KindOpenAI]),
		},
		profiles: make(map[string]Profile),
		custom:   make(map[string]models.Engine),
		limiters: limiters,
		variants: make(map[string]models.Engine),
	}

	if cfg.ProfilesFile != "" {
		ps, err := LoadProfiles(cfg.ProfilesFile)
		if err != nil {
			return nil, err
		}
		for _, p := range ps {
			r.addProfile(p)
		}
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// LoadProfiles reads a YAML file of the form:
//
//	engines:
//	  - name: tutor-llama
//	    type: ollama
//	    config: {model: llama3, base_url: http://ollama:11434}
func LoadProfiles(path string) ([]Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading engine profiles: %w", err)
	}
	var f profilesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing engine profiles: %w", err)
	}
	for i, p := range f.Engines {
		if strings.TrimSpace(p.Name) == "" {
			return nil, fmt.Errorf("engine profile %d: name is required", i)
		}
		if _, ok := schemeKind(p.Type); !ok {
			return nil, fmt.Errorf("engine profile %q: unknown type %q", p.Name, p.Type)
		}
	}
	return f.Engines, nil
}

func (r *Registry) addProfile(p Profile) {
	kind, _ := schemeKind(p.Type)
	cfg := make(map[string]string, len(p.Config))
	for k, v := range p.Config {
		cfg[k] = v
	}
	model := cfg["model"]
	delete(cfg, "model")
	r.profiles[p.Name] = p
	r.custom[p.Name] = r.build(kind, model, cfg)
}

// Resolve returns the engine for sel. Unknown profiles resolve to the stand-in.
func (r *Registry) Resolve(sel Selector) models.Engine {
	switch sel.Kind {
	case KindCustom:
		if e, ok := r.custom[sel.Profile]; ok {
			return e
		}
		return r.builtins[KindStandIn]
	case KindOllama, KindHF, KindOpenAI:
		if sel.Model == "" && len(sel.Config) == 0 {
			return r.builtins[sel.Kind]
		}
		return r.variant(sel)
	default:
		return r.builtins[KindStandIn]
	}
}

func (r *Registry) variant(sel Selector) models.Engine {
	key := variantKey(sel)
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.variants[key]; ok {
		return e
	}
	e := r.build(sel.Kind, sel.Model, sel.Config)
	if len(r.variants) < maxVariants {
		r.variants[key] = e
	}
	return e
}

func (r *Registry) build(kind Kind, model string, overrides map[string]string) models.Engine {
	limiter := r.limiters[kind]
	pick := func(key, def string) string {
		if v := overrides[key]; v != "" {
			return v
		}
		return def
	}
	if model == "" {
		model = overrides["model"]
	}

	switch kind {
	case KindOllama:
		c := r.cfg.Ollama
		c.BaseURL = pick("base_url", c.BaseURL)
		if model != "" {
			c.Model = model
		}
		return ollama.New(c, limiter)
	case KindHF:
		c := r.cfg.HF
		c.BaseURL = pick("base_url", c.BaseURL)
		c.APIToken = pick("api_token", c.APIToken)
		if model != "" {
			c.Model = model
		}
		return hf.New(c, limiter)
	case KindOpenAI:
		c := r.cfg.OpenAI
		c.BaseURL = pick("base_url", c.BaseURL)
		c.APIKey = pick("api_key", c.APIKey)
		if model != "" {
			c.Model = model
		}
		return openai.New(c, limiter)
	default:
		return r.builtins[KindStandIn]
	}
}

func variantKey(sel Selector) string {
	keys := make([]string, 0, len(sel.Config))
	for k := range sel.Config {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(sel.Kind.String())
	b.WriteString("|")
	b.WriteString(sel.Model)
	for _, k := range keys {
		b.WriteString("|")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(sel.Config[k])
	}
	return b.String()
}

// Engines lists the built-in engines followed by registered profiles.
func (r *Registry) Engines() []EngineInfo {
	out := []EngineInfo{}
	for _, k := range []Kind{KindStandIn, KindOllama, KindHF, KindOpenAI} {
		out = append(out, EngineInfo{Name: k.String(), Type: k.String(), ModelVersion: r.builtins[k].ModelVersion(), Builtin: true})
	}
	names := make([]string, 0, len(r.profiles))
	for n := range r.profiles {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		out = append(out, EngineInfo{Name: n, Type: r.profiles[n].Type, ModelVersion: r.custom[n].ModelVersion()})
	}
	return out
}
