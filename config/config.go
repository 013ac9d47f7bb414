// Package config loads pipekit settings from a YAML file, a .env file and
// the environment, in increasing order of precedence.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/scttfrdmn/pipekit/adapter/llm"
	"github.com/scttfrdmn/pipekit/artifact"
	"github.com/scttfrdmn/pipekit/budget"
	"github.com/scttfrdmn/pipekit/middleware"
	"github.com/scttfrdmn/pipekit/safety"
)

// Config is the complete pipekit configuration.
type Config struct {
	LLM           LLMConfig           `yaml:"llm"`
	Retry         RetryConfig         `yaml:"retry"`
	Timeouts      TimeoutsConfig      `yaml:"timeouts"`
	Parallel      ParallelConfig      `yaml:"parallel"`
	Artifacts     ArtifactsConfig     `yaml:"artifacts"`
	Database      DatabaseConfig      `yaml:"database"`
	Checkpoints   CheckpointsConfig   `yaml:"checkpoints"`
	Observability ObservabilityConfig `yaml:"observability"`
	Logging       LoggingConfig       `yaml:"logging"`
	Server        ServerConfig        `yaml:"server"`
	Safety        SafetyConfig        `yaml:"safety"`
}

// LLMConfig selects the model provider.
type LLMConfig struct {
	Provider    string   `yaml:"provider"`
	Model       string   `yaml:"model"`
	APIKey      string   `yaml:"api_key"`
	BaseURL     string   `yaml:"base_url"`
	Region      string   `yaml:"region"`
	Profile     string   `yaml:"profile"`
	Temperature *float64 `yaml:"temperature"`
	MaxTokens   int      `yaml:"max_tokens"`
	// RateLimit is in requests per second; zero disables limiting.
	RateLimit float64     `yaml:"rate_limit"`
	Burst     int         `yaml:"burst"`
	Cache     CacheConfig `yaml:"cache"`
	// BudgetUSD caps model spending per process; zero only tracks cost.
	BudgetUSD float64 `yaml:"budget_usd"`
	// CircuitBreaker fails model calls fast after repeated provider errors.
	CircuitBreaker BreakerConfig `yaml:"circuit_breaker"`
}

type BreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold int           `yaml:"failure_threshold"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout"`
}

// CacheConfig enables response caching.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	Size    int           `yaml:"size"`
	TTL     time.Duration `yaml:"ttl"`
}

// RetryConfig configures retries of model calls.
type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	Multiplier     float64       `yaml:"multiplier"`
}

type TimeoutsConfig struct {
	Step  time.Duration `yaml:"step"`
	Stage time.Duration `yaml:"stage"`
}

type ParallelConfig struct {
	MaxConcurrency int `yaml:"max_concurrency"`
}

type ArtifactsConfig struct {
	Backend  string        `yaml:"backend"`
	Dir      string        `yaml:"dir"`
	RedisURL string        `yaml:"redis_url"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// CheckpointsConfig enables run checkpoints. An empty Dir keeps them in memory.
type CheckpointsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

type ObservabilityConfig struct {
	ServiceName   string `yaml:"service_name"`
	OTLPEndpoint  string `yaml:"otlp_endpoint"`
	ConsoleTraces bool   `yaml:"console_traces"`
	Metrics       bool   `yaml:"metrics"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// SafetyConfig screens user requests before a run.
type SafetyConfig struct {
	Enabled            bool     `yaml:"enabled"`
	InjectionThreshold int      `yaml:"injection_threshold"`
	MaxChars           int      `yaml:"max_chars"`
	MinChars           int      `yaml:"min_chars"`
	BannedWords        []string `yaml:"banned_words"`
	BlockPII           bool     `yaml:"block_pii"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider: llm.ProviderGemini,
			Model:    "gemini-2.0-flash",
			Cache:    CacheConfig{Size: 1000, TTL: 5 * time.Minute},
			CircuitBreaker: BreakerConfig{
				FailureThreshold: 5,
				RecoveryTimeout:  time.Minute,
			},
		},
		Retry: RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     10 * time.Second,
			Multiplier:     2.0,
		},
		Timeouts: TimeoutsConfig{Step: 2 * time.Minute},
		Artifacts: ArtifactsConfig{
			Backend: artifact.BackendFile,
			Dir:     "output",
		},
		Database:      DatabaseConfig{Path: "datatechcon.db"},
		Checkpoints:   CheckpointsConfig{Dir: ".pipekit/checkpoints"},
		Observability: ObservabilityConfig{ServiceName: "pipekit"},
		Logging:       LoggingConfig{Level: "info", Format: "text"},
		Server:        ServerConfig{Addr: "localhost:8080"},
		Safety: SafetyConfig{
			Enabled:            true,
			InjectionThreshold: 10,
			MaxChars:           8000,
			MinChars:           1,
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// path is not empty), the .env file in the working directory (if present)
// and the environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := cfg.decode(data); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse reads YAML over the defaults. The environment is not consulted.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := cfg.decode(data); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv overrides settings from environment variables.
func (c *Config) ApplyEnv() error {
	setString := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v, ok := os.LookupEnv(k); ok && v != "" {
				*dst = v
				return
			}
		}
	}

	setString(&c.LLM.Provider, "PIPEKIT_PROVIDER")
	setString(&c.LLM.Model, "PIPEKIT_MODEL")
	setString(&c.LLM.BaseURL, "OPENAI_BASE_URL")
	setString(&c.LLM.Region, "AWS_REGION")
	setString(&c.LLM.Profile, "AWS_PROFILE")
	if c.LLM.APIKey == "" {
		switch strings.ToLower(c.LLM.Provider) {
		case llm.ProviderGemini:
			setString(&c.LLM.APIKey, "GEMINI_API_KEY", "GOOGLE_API_KEY")
		case llm.ProviderOpenAI:
			setString(&c.LLM.APIKey, "OPENAI_API_KEY")
		case llm.ProviderAnthropic:
			setString(&c.LLM.APIKey, "ANTHROPIC_API_KEY")
		}
	}
	if strings.EqualFold(c.LLM.Provider, llm.ProviderOllama) {
		setString(&c.LLM.BaseURL, "OLLAMA_HOST")
	}

	setString(&c.Artifacts.Backend, "PIPEKIT_ARTIFACT_BACKEND")
	setString(&c.Artifacts.Dir, "PIPEKIT_OUTPUT_DIR")
	setString(&c.Artifacts.RedisURL, "PIPEKIT_REDIS_URL")
	setString(&c.Database.Path, "PIPEKIT_DATABASE")
	setString(&c.Observability.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&c.Logging.Level, "PIPEKIT_LOG_LEVEL")
	setString(&c.Server.Addr, "PIPEKIT_ADDR")

	if v := os.Getenv("PIPEKIT_MAX_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PIPEKIT_MAX_CONCURRENCY: %w", err)
		}
		c.Parallel.MaxConcurrency = n
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	provider := strings.ToLower(c.LLM.Provider)
	known := false
	for _, p := range llm.Providers() {
		if provider == p {
			known = true
		}
	}
	if !known {
		return fmt.Errorf("llm.provider: unknown provider %q (supported: %s)",
			c.LLM.Provider, strings.Join(llm.Providers(), ", "))
	}
	if c.LLM.Model == "" && provider != llm.ProviderMock {
		return fmt.Errorf("llm.model is required")
	}
	if c.LLM.RateLimit < 0 {
		return fmt.Errorf("llm.rate_limit must not be negative, got %v", c.LLM.RateLimit)
	}
	if c.LLM.Cache.Enabled {
		cc := middleware.CachingConfig{MaxCacheSize: c.LLM.Cache.Size, DefaultTTL: c.LLM.Cache.TTL}
		if err := cc.Validate(); err != nil {
			return fmt.Errorf("llm.cache: %w", err)
		}
	}
	if c.LLM.BudgetUSD < 0 {
		return fmt.Errorf("llm.budget_usd must not be negative, got %v", c.LLM.BudgetUSD)
	}
	if cb := c.LLM.CircuitBreaker; cb.FailureThreshold < 0 || cb.RecoveryTimeout < 0 {
		return fmt.Errorf("llm.circuit_breaker: thresholds must not be negative")
	}

	switch c.Artifacts.Backend {
	case artifact.BackendFile, artifact.BackendMemory:
	case artifact.BackendRedis:
		if c.Artifacts.RedisURL == "" {
			return fmt.Errorf("artifacts.redis_url is required for the redis backend")
		}
	default:
		return fmt.Errorf("artifacts.backend: unknown backend %q (supported: file, redis, memory)", c.Artifacts.Backend)
	}

	if c.Retry.MaxAttempts < 0 {
		return fmt.Errorf("retry.max_attempts must not be negative, got %d", c.Retry.MaxAttempts)
	}
	if c.Timeouts.Step < 0 || c.Timeouts.Stage < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	if c.Parallel.MaxConcurrency < 0 {
		return fmt.Errorf("parallel.max_concurrency must not be negative, got %d", c.Parallel.MaxConcurrency)
	}
	if c.Safety.InjectionThreshold < 0 || c.Safety.MaxChars < 0 || c.Safety.MinChars < 0 {
		return fmt.Errorf("safety: limits must not be negative")
	}
	if c.Safety.MaxChars > 0 && c.Safety.MinChars > c.Safety.MaxChars {
		return fmt.Errorf("safety.min_chars (%d) exceeds safety.max_chars (%d)", c.Safety.MinChars, c.Safety.MaxChars)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format: unknown format %q (supported: text, json)", c.Logging.Format)
	}
	return nil
}

// LLMSettings converts the llm section for llm.New.
func (c *Config) LLMSettings() llm.Config {
	return llm.Config{
		Provider: c.LLM.Provider,
		Model:    c.LLM.Model,
		APIKey:   c.LLM.APIKey,
		BaseURL:  c.LLM.BaseURL,
		Region:   c.LLM.Region,
		Profile:  c.LLM.Profile,
	}
}

// CallOptions returns the per-call options of the llm section.
func (c *Config) CallOptions() []llm.CallOption {
	var opts []llm.CallOption
	if c.LLM.Temperature != nil {
		opts = append(opts, llm.WithTemperature(*c.LLM.Temperature))
	}
	if c.LLM.MaxTokens > 0 {
		opts = append(opts, llm.WithMaxTokens(c.LLM.MaxTokens))
	}
	return opts
}

// RetrySettings returns the retry policy, or nil when retries are disabled.
func (c *Config) RetrySettings() *middleware.RetryConfig {
	if c.Retry.MaxAttempts <= 1 {
		return nil
	}
	return &middleware.RetryConfig{
		MaxAttempts:       c.Retry.MaxAttempts,
		InitialBackoff:    c.Retry.InitialBackoff,
		MaxBackoff:        c.Retry.MaxBackoff,
		BackoffMultiplier: c.Retry.Multiplier,
		ShouldRetry: func(err error) bool {
			return !errors.Is(err, middleware.ErrCircuitOpen) && !errors.Is(err, budget.ErrBudgetExceeded)
		},
	}
}

// BreakerSettings converts llm.circuit_breaker, or returns nil when it is off.
func (c *Config) BreakerSettings() *middleware.CircuitBreakerConfig {
	if !c.LLM.CircuitBreaker.Enabled {
		return nil
	}
	return &middleware.CircuitBreakerConfig{
		FailureThreshold: c.LLM.CircuitBreaker.FailureThreshold,
		RecoveryTimeout:  c.LLM.CircuitBreaker.RecoveryTimeout,
	}
}

// ArtifactSettings converts the artifacts section for artifact.New.
func (c *Config) ArtifactSettings() artifact.Config {
	return artifact.Config{
		Backend:  c.Artifacts.Backend,
		Dir:      c.Artifacts.Dir,
		RedisURL: c.Artifacts.RedisURL,
		Prefix:   c.Artifacts.Prefix,
		TTL:      c.Artifacts.TTL,
	}
}

// Validator builds the request validator, or returns nil when safety is off.
func (c *Config) Validator() *safety.Validator {
	if !c.Safety.Enabled {
		return nil
	}
	return safety.NewValidator(safety.Config{
		InjectionThreshold: c.Safety.InjectionThreshold,
		MaxChars:           c.Safety.MaxChars,
		MinChars:           c.Safety.MinChars,
		BannedWords:        c.Safety.BannedWords,
		BlockPII:           c.Safety.BlockPII,
	})
}
