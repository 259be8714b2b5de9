// Package config loads and validates the engine's runtime configuration:
// the planner LLM connection, the per-query iteration and truncation
// limits, the sandbox pool, trace retention, and verification toggles.
// Files are YAML or JSON5 (by extension), support $include directives for
// splitting config across files, and expand environment variables before
// parsing — the same loading shape the rest of the host codebase uses.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config is the top-level engine configuration.
type Config struct {
	LLM          LLMConfig          `yaml:"llm"`
	Query        QueryConfig        `yaml:"query"`
	Pool         PoolConfig         `yaml:"pool"`
	Trace        TraceConfig        `yaml:"trace"`
	Verification VerificationConfig `yaml:"verification"`
	Prompts      PromptsConfig      `yaml:"prompts"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// LLMConfig configures the planner/sub-call model connection.
type LLMConfig struct {
	// Provider selects the client adapter: "anthropic" or "openai".
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`

	// RequestTimeout bounds a single completion call.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// MaxRetries is the number of retry attempts on a transient LLM error.
	MaxRetries int `yaml:"max_retries"`
}

// QueryConfig controls one RLMEngine.Query invocation's loop bounds.
type QueryConfig struct {
	// MaxIterations bounds planner turns before the max-iterations fallback.
	MaxIterations int `yaml:"max_iterations"`

	// MaxOutputChars truncates a single repl block's combined stdout/stderr
	// before it's echoed back to the planner. The 20K default forces the
	// planner toward llm_query()/llm_query_batched() for large content
	// instead of reasoning over it directly in the main loop.
	MaxOutputChars int `yaml:"max_output_chars"`

	// ExecutionTimeout bounds one repl code block's execution.
	ExecutionTimeout time.Duration `yaml:"execution_timeout"`

	// MaxSubcallContentChars caps the combined instruction+content size of
	// one llm_query()/llm_query_batched() call.
	MaxSubcallContentChars int `yaml:"max_subcall_content_chars"`

	// ExecutionMode selects the sandbox execution strategy: "fast" (pooled,
	// warm interpreters) or "isolated" (one-shot, no pool reuse).
	ExecutionMode string `yaml:"execution_mode"`
}

// PoolConfig configures the sandbox executor pool.
type PoolConfig struct {
	Size        int           `yaml:"size"`
	MaxIdle     time.Duration `yaml:"max_idle"`
	AcquireWait time.Duration `yaml:"acquire_wait"`
}

// TraceConfig controls per-query audit trace persistence.
type TraceConfig struct {
	Directory           string `yaml:"directory"`
	MaxTracesPerProject int    `yaml:"max_traces_per_project"`
}

// VerificationConfig toggles the engine's two independent post-answer
// verification passes. Citations is a *bool, like the host config's
// CommandsConfig.Enabled, because its default is true: a bare bool's zero
// value can't distinguish "absent from the file" from "explicitly off".
type VerificationConfig struct {
	// Citations enables mechanical quote-in-source checking. Defaults to
	// true when unset.
	Citations *bool `yaml:"citations"`

	// Semantic enables the two-layer adversarial/code LLM review. Defaults
	// to false.
	Semantic bool `yaml:"semantic"`
}

// CitationsEnabled reports the effective value of Verification.Citations,
// resolving the nil-means-true default.
func (c VerificationConfig) CitationsEnabled() bool {
	return c.Citations == nil || *c.Citations
}

// PromptsConfig points at an overriding prompt template directory. Empty
// uses the engine's embedded defaults.
type PromptsConfig struct {
	Dir string `yaml:"dir"`
}

// MetricsConfig controls the Prometheus/OTel metrics exporter.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// LoggingConfig controls structured log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads path (YAML or JSON5, resolving $include directives and
// expanding environment variables), applies defaults, and validates the
// result.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	applyEnvOverrides(cfg)
	applyDefaults(cfg)
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a Config with every field at its documented default,
// equivalent to the reference engine's constructor defaults.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "anthropic"
	}
	if cfg.LLM.RequestTimeout == 0 {
		cfg.LLM.RequestTimeout = 120 * time.Second
	}
	if cfg.LLM.MaxRetries == 0 {
		cfg.LLM.MaxRetries = 3
	}

	if cfg.Query.MaxIterations == 0 {
		cfg.Query.MaxIterations = 20
	}
	if cfg.Query.MaxOutputChars == 0 {
		cfg.Query.MaxOutputChars = 20_000
	}
	if cfg.Query.ExecutionTimeout == 0 {
		cfg.Query.ExecutionTimeout = 30 * time.Second
	}
	if cfg.Query.MaxSubcallContentChars == 0 {
		cfg.Query.MaxSubcallContentChars = 500_000
	}
	if cfg.Query.ExecutionMode == "" {
		cfg.Query.ExecutionMode = "fast"
	}

	if cfg.Pool.Size == 0 {
		cfg.Pool.Size = 4
	}
	if cfg.Pool.MaxIdle == 0 {
		cfg.Pool.MaxIdle = 10 * time.Minute
	}
	if cfg.Pool.AcquireWait == 0 {
		cfg.Pool.AcquireWait = 30 * time.Second
	}

	if cfg.Trace.Directory == "" {
		cfg.Trace.Directory = "traces"
	}
	if cfg.Trace.MaxTracesPerProject == 0 {
		cfg.Trace.MaxTracesPerProject = 50
	}

	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9464
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}
	if value := strings.TrimSpace(os.Getenv("RLM_API_KEY")); value != "" {
		cfg.LLM.APIKey = value
	}
	if value := strings.TrimSpace(os.Getenv("RLM_MODEL")); value != "" {
		cfg.LLM.Model = value
	}
	if value := strings.TrimSpace(os.Getenv("RLM_PROMPTS_DIR")); value != "" {
		cfg.Prompts.Dir = value
	}
}

// ValidationError reports every configuration problem found at once,
// rather than failing on the first.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return "config validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

func validateConfig(cfg *Config) error {
	if cfg == nil {
		return nil
	}
	var issues []string

	if strings.TrimSpace(cfg.LLM.Model) == "" {
		issues = append(issues, "llm.model is required")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.LLM.Provider)) {
	case "anthropic", "openai":
	default:
		issues = append(issues, `llm.provider must be "anthropic" or "openai"`)
	}
	if cfg.LLM.MaxRetries < 0 {
		issues = append(issues, "llm.max_retries must be >= 0")
	}

	if cfg.Query.MaxIterations <= 0 {
		issues = append(issues, "query.max_iterations must be > 0")
	}
	if cfg.Query.MaxOutputChars <= 0 {
		issues = append(issues, "query.max_output_chars must be > 0")
	}
	if cfg.Query.MaxSubcallContentChars <= 0 {
		issues = append(issues, "query.max_subcall_content_chars must be > 0")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Query.ExecutionMode)) {
	case "fast", "isolated":
	default:
		issues = append(issues, `query.execution_mode must be "fast" or "isolated"`)
	}

	if cfg.Pool.Size <= 0 {
		issues = append(issues, "pool.size must be > 0")
	}

	if cfg.Trace.MaxTracesPerProject < 0 {
		issues = append(issues, "trace.max_traces_per_project must be >= 0")
	}

	if cfg.Metrics.Enabled && (cfg.Metrics.Port <= 0 || cfg.Metrics.Port > 65535) {
		issues = append(issues, "metrics.port must be between 1 and 65535 when metrics.enabled is true")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Level)) {
	case "debug", "info", "warn", "error":
	default:
		issues = append(issues, `logging.level must be "debug", "warn", "info", or "error"`)
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}
