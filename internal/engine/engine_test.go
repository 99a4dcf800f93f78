package engine

import (
	"path/filepath"
	"testing"

	"github.com/atlas2/coderagent/internal/config"
	"github.com/atlas2/coderagent/internal/toolspec"
)

// TestBuildConstructsEngine is the only test in this package that calls
// Build: observability.NewMetrics (via Engine.HTTPMetrics) registers
// package-global Prometheus collectors, so a second Build call in the same
// test binary would panic on duplicate registration. Every other check in
// this file exercises Build's unexported helpers directly instead.
func TestBuildConstructsEngine(t *testing.T) {
	cfg := config.Default()
	cfg.Providers.Anthropic.APIKey = "test-key"
	cfg.Audit.Enabled = false

	eng, err := Build(cfg, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer eng.Close()

	if eng.Driver == nil {
		t.Error("expected a non-nil Driver")
	}
	if eng.Registry == nil {
		t.Error("expected a non-nil Registry")
	}
	if eng.Tools == nil {
		t.Error("expected a non-nil Tools registry")
	}
	if eng.Checkpoints == nil {
		t.Error("expected a non-nil Checkpoints store")
	}
	if eng.Metrics == nil {
		t.Error("expected a non-nil Metrics set")
	}
	if eng.HTTPMetrics == nil {
		t.Error("expected a non-nil HTTPMetrics set")
	}
	if eng.ReqLog == nil {
		t.Error("expected a non-nil ReqLog")
	}
	if eng.Log == nil {
		t.Error("expected a non-nil Log")
	}
	if eng.Tracer == nil {
		t.Error("expected a non-nil Tracer")
	}
	for _, name := range []string{"file.read", "file.write", "file.edit", "file.patch",
		"plan.write", "plan.update", "system.exec", "system.exec_status",
		"system.exec_kill", "system.exec_list", "system.exec_wait"} {
		if !eng.Tools.Has(name) {
			t.Errorf("expected tool %q to be registered", name)
		}
	}
}

func TestBuildProviderFailsWithoutAnthropicAPIKey(t *testing.T) {
	cfg := config.ProvidersConfig{Primary: "anthropic"}
	if _, err := buildProvider(cfg); err == nil {
		t.Error("expected an error building the anthropic provider with no API key")
	}
}

func TestBuildProviderFailsWhenOpenAIPrimaryNotEnabled(t *testing.T) {
	cfg := config.ProvidersConfig{Primary: "openai"}
	if _, err := buildProvider(cfg); err == nil {
		t.Error("expected an error when providers.primary is openai but openai is disabled")
	}
}

func TestBuildProviderSucceedsWithAnthropicAPIKey(t *testing.T) {
	cfg := config.ProvidersConfig{
		Primary:   "anthropic",
		Anthropic: config.AnthropicProviderConfig{APIKey: "test-key"},
	}
	provider, err := buildProvider(cfg)
	if err != nil {
		t.Fatalf("buildProvider: %v", err)
	}
	if provider == nil {
		t.Error("expected a non-nil provider")
	}
}

func TestBuildCheckpointStoreMemoryBackend(t *testing.T) {
	store, closeFn, err := buildCheckpointStore(config.CheckpointConfig{Backend: "memory"}, 10, 0)
	if err != nil {
		t.Fatalf("buildCheckpointStore: %v", err)
	}
	if store == nil {
		t.Fatal("expected a non-nil store")
	}
	if closeFn != nil {
		t.Error("expected a nil closer for the in-memory backend")
	}
}

func TestBuildCheckpointStoreSQLiteBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoints.db")
	store, closeFn, err := buildCheckpointStore(config.CheckpointConfig{Backend: "sqlite", SQLitePath: path}, 10, 0)
	if err != nil {
		t.Fatalf("buildCheckpointStore: %v", err)
	}
	if store == nil {
		t.Fatal("expected a non-nil store")
	}
	if closeFn == nil {
		t.Fatal("expected a non-nil closer for the sqlite backend")
	}
	if err := closeFn(); err != nil {
		t.Errorf("close: %v", err)
	}
}

func TestRegisterCoreToolsRegistersEveryTool(t *testing.T) {
	tools := toolspec.New(nil)
	if err := registerCoreTools(tools, config.ToolsConfig{}); err != nil {
		t.Fatalf("registerCoreTools: %v", err)
	}
	for _, name := range []string{"file.read", "file.write", "file.edit", "file.patch",
		"plan.write", "plan.update", "system.exec", "system.exec_status",
		"system.exec_kill", "system.exec_list", "system.exec_wait"} {
		if !tools.Has(name) {
			t.Errorf("expected tool %q to be registered", name)
		}
	}
}

func TestToolDescriptionKnownAndUnknown(t *testing.T) {
	if d := toolDescription("file.read"); d == "" || d == "file.read" {
		t.Errorf("expected a real description for file.read, got %q", d)
	}
	if d := toolDescription("no.such.tool"); d != "no.such.tool" {
		t.Errorf("expected the fallback description to echo the name, got %q", d)
	}
}

func TestNewSlogLoggerAcceptsAllLevelsAndFormats(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "warning", "error", ""} {
		for _, format := range []string{"json", "text", ""} {
			log := newSlogLogger(config.ObservabilityConfig{LogLevel: level, LogFormat: format})
			if log == nil {
				t.Errorf("newSlogLogger(%q, %q) = nil", level, format)
			}
		}
	}
}
