// Package engine wires the iteration driver, approval gate, tool registry,
// checkpoint store, rate limiter, and audit trail into one process, reading
// its shape from internal/config. It is the single construction site
// cmd/coderagentd depends on, so the CLI layer stays thin.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/atlas2/coderagent/internal/agent"
	"github.com/atlas2/coderagent/internal/agent/providers"
	"github.com/atlas2/coderagent/internal/audit"
	"github.com/atlas2/coderagent/internal/checkpoint"
	"github.com/atlas2/coderagent/internal/config"
	"github.com/atlas2/coderagent/internal/observability"
	"github.com/atlas2/coderagent/internal/ratelimit"
	"github.com/atlas2/coderagent/internal/task"
	"github.com/atlas2/coderagent/internal/tasklog"
	"github.com/atlas2/coderagent/internal/toolspec"
	"github.com/atlas2/coderagent/internal/tools/exec"
	"github.com/atlas2/coderagent/internal/tools/files"
	"github.com/atlas2/coderagent/pkg/models"
)

// Engine bundles every long-lived component a running process needs plus
// the teardown hooks (checkpoint DB handle, audit log file, trace
// exporter) that must be released on shutdown.
type Engine struct {
	Config      *config.Config
	Driver      *task.Driver
	Registry    *task.Registry
	Tools       *toolspec.Registry
	Checkpoints checkpoint.Saver
	Metrics     *tasklog.Metrics
	Audit       *audit.Logger
	Log         *slog.Logger
	Tracer      *observability.Tracer

	// HTTPMetrics and ReqLog back the server package's request middleware:
	// HTTPMetrics.RecordHTTPRequest records per-route latency/status, ReqLog
	// carries request-ID correlation across a request's log lines. Distinct
	// from Metrics (task/iteration counters) and Log (the plain component
	// logger every internal package takes).
	HTTPMetrics *observability.Metrics
	ReqLog      *observability.Logger

	closers []func() error
}

// Close releases every resource Build opened, in reverse build order.
func (e *Engine) Close() error {
	var errs []string
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("engine close: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Build constructs a fully wired Engine from cfg. emit receives every
// TaskEvent the driver produces (state transitions, tool executions,
// streamed deltas); a nil emit discards them.
func Build(cfg *config.Config, emit func(models.TaskEvent)) (*Engine, error) {
	log := newSlogLogger(cfg.Observability)

	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "coderagentd",
		ServiceVersion: "dev",
		Environment:    "local",
		SamplingRate:   1.0,
	})

	e := &Engine{Config: cfg, Log: log, Tracer: tracer}
	e.closers = append(e.closers, func() error { return shutdownTracer(context.Background()) })

	e.HTTPMetrics = observability.NewMetrics()
	e.ReqLog = observability.NewLogger(observability.LogConfig{
		Level:  cfg.Observability.LogLevel,
		Format: cfg.Observability.LogFormat,
		Output: os.Stderr,
	})

	auditLog, closeAudit, err := buildAudit(cfg.Audit)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("build audit logger: %w", err)
	}
	e.Audit = auditLog
	if closeAudit != nil {
		e.closers = append(e.closers, closeAudit)
	}

	checkpoints, closeCheckpoints, err := buildCheckpointStore(cfg.Checkpoint, cfg.Engine.CheckpointRetention, cfg.Engine.CheckpointMaxBytes)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("build checkpoint store: %w", err)
	}
	e.Checkpoints = checkpoints
	if closeCheckpoints != nil {
		e.closers = append(e.closers, closeCheckpoints)
	}

	tools := toolspec.New(log)
	if err := registerCoreTools(tools, cfg.Tools); err != nil {
		e.Close()
		return nil, fmt.Errorf("register core tools: %w", err)
	}
	e.Tools = tools

	provider, err := buildProvider(cfg.Providers)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("build provider: %w", err)
	}

	metrics := tasklog.NewMetrics()
	e.Metrics = metrics

	registry := task.NewRegistry(cfg.Engine.RegistryStaleDecisionWindow, cfg.Engine.RegistryPruneWindow)
	e.Registry = registry

	retry := agent.RetryPolicy{
		MaxAttempts: cfg.Engine.RetryMaxAttempts,
		BaseDelay:   cfg.Engine.RetryBaseDelay,
		MaxDelay:    cfg.Engine.RetryMaxDelay,
	}

	driver := task.NewDriver(tools, registry, provider, checkpoints, retry, cfg.Engine.MaxIterations, emit, log, metrics)
	if cfg.RateLimit.Enabled {
		driver.SetLimiter(ratelimit.NewBucket(ratelimit.Config{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			BurstSize:         cfg.RateLimit.BurstSize,
			Enabled:           true,
		}))
	}
	e.Driver = driver

	return e, nil
}

// newSlogLogger builds a plain *slog.Logger from observability settings —
// the component type (task.Driver, approval.Gate, toolspec.Registry,
// tasklog.Session) everything in the engine actually takes, as distinct
// from observability.Logger's ctx-based wrapper used for ambient request
// logging elsewhere.
func newSlogLogger(cfg config.ObservabilityConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

func buildAudit(cfg config.AuditConfig) (*audit.Logger, func() error, error) {
	format := audit.FormatJSON
	switch cfg.Format {
	case "logfmt":
		format = audit.FormatLogfmt
	case "text":
		format = audit.FormatText
	}
	logger, err := audit.NewLogger(audit.Config{
		Enabled:               cfg.Enabled,
		Level:                 audit.LevelInfo,
		Format:                format,
		Output:                cfg.Output,
		IncludeToolInput:      cfg.IncludeToolInput,
		IncludeToolOutput:     cfg.IncludeToolOutput,
		IncludeMessageContent: cfg.IncludeMessageContent,
		MaxFieldSize:          8192,
	})
	if err != nil {
		return nil, nil, err
	}
	return logger, logger.Close, nil
}

func buildCheckpointStore(cfg config.CheckpointConfig, retention int, maxBytes int64) (checkpoint.Saver, func() error, error) {
	if cfg.Backend == "sqlite" {
		store, err := checkpoint.OpenSQLStore(cfg.SQLitePath, retention, maxBytes)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	}
	return checkpoint.New(retention, maxBytes), nil, nil
}

func buildProvider(cfg config.ProvidersConfig) (agent.LLMProvider, error) {
	var primary, secondary agent.LLMProvider

	anthropicProvider, anthropicErr := newAnthropicProvider(cfg.Anthropic)
	var openaiProvider agent.LLMProvider
	if cfg.OpenAI.Enabled {
		openaiProvider = providers.NewOpenAIProvider(cfg.OpenAI.APIKey)
	}

	switch cfg.Primary {
	case "openai":
		if openaiProvider == nil {
			return nil, fmt.Errorf("providers.primary is openai but providers.openai.enabled is false")
		}
		primary = openaiProvider
		secondary = anthropicProvider
	default:
		if anthropicErr != nil {
			return nil, fmt.Errorf("build anthropic provider: %w", anthropicErr)
		}
		primary = anthropicProvider
		secondary = openaiProvider
	}

	orchestrator := agent.NewFailoverOrchestrator(primary, agent.DefaultFailoverConfig())
	if secondary != nil {
		orchestrator.AddProvider(secondary)
	}
	return orchestrator, nil
}

func newAnthropicProvider(cfg config.AnthropicProviderConfig) (agent.LLMProvider, error) {
	return providers.NewAnthropicProvider(providers.AnthropicConfig{
		APIKey:       cfg.APIKey,
		BaseURL:      cfg.BaseURL,
		MaxRetries:   cfg.MaxRetries,
		RetryDelay:   cfg.RetryDelay,
		DefaultModel: cfg.DefaultModel,
	})
}

// registerCoreTools populates tools with every file.*, plan.*, and
// system.exec* executor, the full set spec.md's tool catalog names.
func registerCoreTools(tools *toolspec.Registry, cfg config.ToolsConfig) error {
	filesCfg := files.Config{MaxReadBytes: cfg.MaxReadBytes, MaxWriteBytes: cfg.MaxWriteBytes}

	type registration struct {
		name     string
		effects  []models.EffectTag
		executor toolspec.Executor
	}

	manager := exec.NewManager()
	regs := []registration{
		{"file.read", []models.EffectTag{models.EffectDisk}, files.NewReadTool(filesCfg)},
		{"file.write", []models.EffectTag{models.EffectDisk}, files.NewWriteTool(filesCfg)},
		{"file.edit", []models.EffectTag{models.EffectDisk}, files.NewEditTool(filesCfg)},
		{"file.patch", []models.EffectTag{models.EffectDisk}, files.NewApplyPatchTool(filesCfg)},
		{"plan.write", []models.EffectTag{models.EffectContext}, files.NewPlanWriteTool()},
		{"plan.update", []models.EffectTag{models.EffectContext}, files.NewPlanUpdateTool()},
		{"system.exec", []models.EffectTag{models.EffectExec, models.EffectDisk}, exec.NewExecTool(manager)},
		{"system.exec_status", []models.EffectTag{models.EffectExec}, exec.NewExecStatusTool(manager)},
		{"system.exec_kill", []models.EffectTag{models.EffectExec}, exec.NewExecKillTool(manager)},
		{"system.exec_list", []models.EffectTag{models.EffectExec}, exec.NewExecListTool(manager)},
		{"system.exec_wait", []models.EffectTag{models.EffectExec}, exec.NewExecWaitTool(manager)},
	}

	for _, r := range regs {
		schema := files.InputSchemaDoc(r.name)
		if strings.HasPrefix(r.name, "system.") {
			schema = exec.InputSchemaDoc(r.name)
		}
		spec := models.ToolSpec{
			Name:        r.name,
			Version:     "1",
			Description: toolDescription(r.name),
			Effects:     r.effects,
			InputSchema: schema,
		}
		if err := tools.Register(spec, r.executor); err != nil {
			return err
		}
	}
	return nil
}

func toolDescription(name string) string {
	switch name {
	case "file.read":
		return "Read a file within the task workspace."
	case "file.write":
		return "Write or append to a file within the task workspace."
	case "file.edit":
		return "Apply targeted find/replace edits to a file within the task workspace."
	case "file.patch":
		return "Apply a unified diff to files within the task workspace."
	case "plan.write":
		return "Record or replace the task's execution plan."
	case "plan.update":
		return "Update a single step's status on the task's execution plan."
	case "system.exec":
		return "Run a shell command within the task workspace, optionally in the background."
	case "system.exec_status":
		return "Check the status of a backgrounded system.exec process."
	case "system.exec_kill":
		return "Terminate a backgrounded system.exec process."
	case "system.exec_list":
		return "List backgrounded processes for the task workspace."
	case "system.exec_wait":
		return "Block until a backgrounded process exits or a timeout elapses."
	default:
		return name
	}
}

