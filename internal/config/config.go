// Package config holds the engine's layered configuration: server/session
// limits, observability knobs, and per-tool workspace settings, loaded from
// YAML with environment overrides.
package config

import "time"

// Config is the root configuration for a coderagent process.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Engine        EngineConfig        `yaml:"engine"`
	Observability ObservabilityConfig `yaml:"observability"`
	Tools         ToolsConfig         `yaml:"tools"`
	Providers     ProvidersConfig     `yaml:"providers"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
	Checkpoint    CheckpointConfig    `yaml:"checkpoint"`
	Audit         AuditConfig         `yaml:"audit"`
}

// ServerConfig controls the process's network surface.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// ProvidersConfig selects and configures the LLM provider legs the
// orchestrator fails over between (internal/agent.FailoverOrchestrator).
type ProvidersConfig struct {
	// Primary names the provider tried first: "anthropic" or "openai".
	Primary string `yaml:"primary"`

	Anthropic AnthropicProviderConfig `yaml:"anthropic"`
	OpenAI    OpenAIProviderConfig    `yaml:"openai"`
}

// AnthropicProviderConfig configures the Anthropic leg. APIKey is read from
// the ANTHROPIC_API_KEY environment variable when empty, never stored in
// the config file.
type AnthropicProviderConfig struct {
	Enabled      bool          `yaml:"enabled"`
	APIKey       string        `yaml:"-"`
	BaseURL      string        `yaml:"base_url"`
	DefaultModel string        `yaml:"default_model"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryDelay   time.Duration `yaml:"retry_delay"`
}

// OpenAIProviderConfig configures the OpenAI leg. APIKey is read from the
// OPENAI_API_KEY environment variable when empty.
type OpenAIProviderConfig struct {
	Enabled bool   `yaml:"enabled"`
	APIKey  string `yaml:"-"`
}

// RateLimitConfig throttles outgoing provider calls via
// internal/ratelimit.Bucket.
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size"`
}

// CheckpointConfig selects the checkpoint store backend (internal/checkpoint).
type CheckpointConfig struct {
	// Backend is "memory" (default, internal/checkpoint.Store) or "sqlite"
	// (internal/checkpoint.SQLStore, durable across restarts).
	Backend string `yaml:"backend"`
	// SQLitePath is the database file path when Backend is "sqlite".
	SQLitePath string `yaml:"sqlite_path"`
}

// AuditConfig controls internal/audit.Logger.
type AuditConfig struct {
	Enabled               bool   `yaml:"enabled"`
	Format                string `yaml:"format"` // "json" | "logfmt" | "text"
	Output                string `yaml:"output"`  // "stdout" | "stderr" | "file:/path"
	IncludeToolInput      bool   `yaml:"include_tool_input"`
	IncludeToolOutput     bool   `yaml:"include_tool_output"`
	IncludeMessageContent bool   `yaml:"include_message_content"`
}

// EngineConfig controls the iteration driver (C7), approval gate (C8),
// retry controller (C9), and checkpoint store (C6) defaults.
type EngineConfig struct {
	MaxIterations int `yaml:"max_iterations"`
	MaxToolCalls  int `yaml:"max_tool_calls"`

	// ApprovalGraceWindow is the stale-decision grace window (spec.md §4.8 point 1).
	ApprovalGraceWindow time.Duration `yaml:"approval_grace_window"`
	// RegistryStaleDecisionWindow governs the active-task registry's
	// RecentlyCompleted check: how long a decision arriving after task
	// completion is still treated as a benign race (spec.md §9 / P9, ≤10s).
	RegistryStaleDecisionWindow time.Duration `yaml:"registry_stale_decision_window"`
	// RegistryPruneWindow governs how long the registry retains a
	// completed-task bookkeeping entry before reclaiming it. Kept wider
	// and independently configurable from RegistryStaleDecisionWindow
	// per spec.md §9's flagged open question.
	RegistryPruneWindow time.Duration `yaml:"registry_prune_window"`

	// CheckpointRetention is the per-file checkpoint retention bound K (spec.md §4.6).
	CheckpointRetention int `yaml:"checkpoint_retention"`
	// CheckpointMaxBytes rejects checkpoint content above this ceiling.
	CheckpointMaxBytes int64 `yaml:"checkpoint_max_bytes"`

	// RetryMaxAttempts and RetryBaseDelay parameterize C9's backoff schedule.
	RetryMaxAttempts int           `yaml:"retry_max_attempts"`
	RetryBaseDelay   time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay    time.Duration `yaml:"retry_max_delay"`

	DefaultModel string `yaml:"default_model"`
}

// ObservabilityConfig controls logging, metrics, and tracing.
type ObservabilityConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // "json" | "text"
	Tracing   bool   `yaml:"tracing"`
	Metrics   bool   `yaml:"metrics"`
}

// ToolsConfig controls per-tool defaults shared across tool implementations.
type ToolsConfig struct {
	MaxReadBytes  int `yaml:"max_read_bytes"`
	MaxWriteBytes int `yaml:"max_write_bytes"`
}

// Default returns baseline configuration values matching spec.md's defaults
// (K=100 checkpoint retention, 10s approval grace, 30s registry grace).
func Default() *Config {
	return &Config{
		Server: ServerConfig{ListenAddr: ":8080"},
		Engine: EngineConfig{
			MaxIterations:       25,
			MaxToolCalls:        200,
			ApprovalGraceWindow:         10 * time.Second,
			RegistryStaleDecisionWindow: 10 * time.Second,
			RegistryPruneWindow:         30 * time.Second,
			CheckpointRetention: 100,
			CheckpointMaxBytes:  5 << 20,
			RetryMaxAttempts:    5,
			RetryBaseDelay:      time.Second,
			RetryMaxDelay:       30 * time.Second,
			DefaultModel:        "claude-sonnet-4-5",
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "json",
			Tracing:   true,
			Metrics:   true,
		},
		Tools: ToolsConfig{
			MaxReadBytes:  200_000,
			MaxWriteBytes: 5 << 20,
		},
		Providers: ProvidersConfig{
			Primary: "anthropic",
			Anthropic: AnthropicProviderConfig{
				Enabled:      true,
				DefaultModel: "claude-sonnet-4-5",
				MaxRetries:   3,
				RetryDelay:   time.Second,
			},
			OpenAI: OpenAIProviderConfig{
				Enabled: false,
			},
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerSecond: 10,
			BurstSize:         20,
		},
		Checkpoint: CheckpointConfig{
			Backend: "memory",
		},
		Audit: AuditConfig{
			Enabled: true,
			Format:  "json",
			Output:  "stderr",
		},
	}
}
