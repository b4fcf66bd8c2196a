package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the evaluation server and workers.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Worker    WorkerConfig
	Engines   EnginesConfig
	RateLimit RateLimitConfig
	Tracing   TracingConfig
}

type ServerConfig struct {
	Port int
	Env  string
	// InlineWorkers starts a worker pool inside the API process when > 0.
	InlineWorkers int
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

type WorkerConfig struct {
	Concurrency   int
	ClaimWait     time.Duration
	TaskTTL       time.Duration
	MaxDeliveries int
	JobDeadline   time.Duration
	StaleAfter    time.Duration
}

type EnginesConfig struct {
	DefaultTimeout time.Duration
	ProfilesFile   string
	RatePerSec     float64
	Ollama         OllamaConfig
	HF             HFConfig
	OpenAI         OpenAIConfig
}

// OllamaConfig leaves BaseURL empty by default; an unset URL makes the
// ollama engine answer with a stub response.
type OllamaConfig struct {
	BaseURL string
	Model   string
}

type HFConfig struct {
	APIToken string
	BaseURL  string
	Model    string
}

type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

type RateLimitConfig struct {
	PerMinute int
}

type TracingConfig struct {
	Enabled     bool
	Endpoint    string
	Insecure    bool
	SampleRatio float64
}

// Load reads configuration from environment variables and returns a validated Config.
// Postgres and Redis URLs are required.
func Load() (*Config, error) {
	cfg := fromEnv()
	if err := cfg.validate(true); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadLocal is like Load but does not require infrastructure URLs. Used by
// in-process CLI runs backed by memory stores.
func LoadLocal() (*Config, error) {
	cfg := fromEnv()
	if err := cfg.validate(false); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fromEnv() *Config {
	return &Config{
		Server: ServerConfig{
			Port:          envInt("EVAL_PORT", 8080),
			Env:           envString("EVAL_ENV", "development"),
			InlineWorkers: envInt("EVAL_INLINE_WORKERS", 0),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Worker: WorkerConfig{
			Concurrency:   envInt("WORKER_CONCURRENCY", 4),
			ClaimWait:     envDuration("WORKER_CLAIM_WAIT", 2*time.Second),
			TaskTTL:       envDuration("TASK_TTL", time.Hour),
			MaxDeliveries: envInt("TASK_MAX_DELIVERIES", 3),
			JobDeadline:   envDuration("JOB_DEADLINE", 6*time.Hour),
			StaleAfter:    envDuration("TASK_STALE_AFTER", 10*time.Minute),
		},
		Engines: EnginesConfig{
			DefaultTimeout: envDurationSecs("JUDGE_DEFAULT_TIMEOUT_SECS", 60*time.Second),
			ProfilesFile:   os.Getenv("ENGINES_FILE"),
			RatePerSec:     envFloat("ENGINE_RATE_PER_SEC", 5),
			Ollama: OllamaConfig{
				BaseURL: os.Getenv("OLLAMA_BASE_URL"),
				Model:   envString("OLLAMA_MODEL", "llama3"),
			},
			HF: HFConfig{
				APIToken: os.Getenv("HF_API_TOKEN"),
				BaseURL:  envString("HF_BASE_URL", "https://api-inference.huggingface.co"),
				Model:    envString("HF_MODEL", "mistralai/Mistral-7B-Instruct-v0.2"),
			},
			OpenAI: OpenAIConfig{
				APIKey:  os.Getenv("OPENAI_API_KEY"),
				BaseURL: os.Getenv("OPENAI_BASE_URL"),
				Model:   envString("OPENAI_MODEL", "gpt-4o-mini"),
			},
		},
		RateLimit: RateLimitConfig{
			PerMinute: envInt("RATE_LIMIT_PER_MIN", 120),
		},
		Tracing: TracingConfig{
			Enabled:     envBool("OTEL_ENABLED", false),
			Endpoint:    envString("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    envBool("OTEL_EXPORTER_OTLP_INSECURE", true),
			SampleRatio: envFloat("OTEL_SAMPLE_RATIO", 1.0),
		},
	}
}

func (c *Config) validate(requireInfra bool) error {
	if requireInfra {
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required")
		}
		if c.Redis.URL == "" {
			return fmt.Errorf("REDIS_URL is required")
		}
	}

	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be at least 1, got %d", c.Worker.Concurrency)
	}
	if c.Worker.MaxDeliveries < 1 {
		return fmt.Errorf("TASK_MAX_DELIVERIES must be at least 1, got %d", c.Worker.MaxDeliveries)
	}
	if c.Worker.TaskTTL <= 0 {
		return fmt.Errorf("TASK_TTL must be positive")
	}

	if c.Worker.StaleAfter <= c.Engines.DefaultTimeout {
		return fmt.Errorf("TASK_STALE_AFTER (%s) must exceed JUDGE_DEFAULT_TIMEOUT_SECS (%s)", c.Worker.StaleAfter, c.Engines.DefaultTimeout)
	}

	for name, u := range map[string]string{
		"OLLAMA_BASE_URL": c.Engines.Ollama.BaseURL,
		"HF_BASE_URL":     c.Engines.HF.BaseURL,
		"OPENAI_BASE_URL": c.Engines.OpenAI.BaseURL,
	} {
		if u != "" && !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			return fmt.Errorf("%s must start with http:// or https://, got %q", name, u)
		}
	}

	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("OTEL_SAMPLE_RATIO must be between 0 and 1, got %v", c.Tracing.SampleRatio)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}
