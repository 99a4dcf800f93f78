package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads a YAML config file, merges it onto Default(), applies
// environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return applyEnv(cfg), nil
			}
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg = applyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envOverrides maps CODERAGENT_<KEY> environment variables onto config fields.
// Only a handful of high-value overrides are supported, matching the
// teacher's layered-config philosophy of "file for structure, env for
// deployment-specific knobs".
func applyEnv(cfg *Config) *Config {
	if v := os.Getenv("CODERAGENT_LISTEN_ADDR"); v != "" {
		cfg.Server.ListenAddr = v
	}
	if v := os.Getenv("CODERAGENT_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
	if v := os.Getenv("CODERAGENT_MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Engine.MaxIterations = n
		}
	}
	if v := os.Getenv("CODERAGENT_DEFAULT_MODEL"); v != "" {
		cfg.Engine.DefaultModel = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.Providers.Anthropic.APIKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Providers.OpenAI.APIKey = v
		cfg.Providers.OpenAI.Enabled = true
	}
	return cfg
}

// Validate checks required fields and sane ranges, returning a combined error.
func Validate(cfg *Config) error {
	var problems []string
	if cfg.Engine.MaxIterations <= 0 {
		problems = append(problems, "engine.max_iterations must be > 0")
	}
	if cfg.Engine.CheckpointRetention <= 0 {
		problems = append(problems, "engine.checkpoint_retention must be > 0")
	}
	if cfg.Engine.ApprovalGraceWindow < 0 {
		problems = append(problems, "engine.approval_grace_window must be >= 0")
	}
	if cfg.Engine.RegistryStaleDecisionWindow < 0 {
		problems = append(problems, "engine.registry_stale_decision_window must be >= 0")
	}
	if cfg.Engine.RegistryPruneWindow < 0 {
		problems = append(problems, "engine.registry_prune_window must be >= 0")
	}
	switch cfg.Observability.LogFormat {
	case "json", "text", "":
	default:
		problems = append(problems, "observability.log_format must be json or text")
	}
	switch cfg.Checkpoint.Backend {
	case "memory", "":
	case "sqlite":
		if cfg.Checkpoint.SQLitePath == "" {
			problems = append(problems, "checkpoint.sqlite_path is required when checkpoint.backend is sqlite")
		}
	default:
		problems = append(problems, "checkpoint.backend must be memory or sqlite")
	}
	switch cfg.Providers.Primary {
	case "anthropic", "openai":
	default:
		problems = append(problems, "providers.primary must be anthropic or openai")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
