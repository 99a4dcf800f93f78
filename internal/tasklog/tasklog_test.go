package tasklog

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/atlas2/coderagent/pkg/models"
)

func TestNewMetricsRegistersAllCollectors(t *testing.T) {
	m := NewMetrics()
	if m.IterationCounter == nil || m.ToolExecutionCounter == nil || m.ToolExecutionDuration == nil ||
		m.ProviderRetryCounter == nil || m.ActiveTasks == nil {
		t.Fatalf("NewMetrics left a nil collector: %+v", m)
	}
	// None of these should panic when used with their declared label sets.
	m.IterationCounter.WithLabelValues("completed").Inc()
	m.ToolExecutionCounter.WithLabelValues("file.write", "accepted").Inc()
	m.ToolExecutionDuration.WithLabelValues("file.write").Observe(0.2)
	m.ProviderRetryCounter.WithLabelValues("anthropic", "false").Inc()
	m.ActiveTasks.Inc()
}

func TestEmitterDeliversEvent(t *testing.T) {
	var got models.TaskEvent
	var calls int
	e := NewEmitter(func(ev models.TaskEvent) {
		calls++
		got = ev
	}, nil)

	e.Emit(models.EventKindState, "task1", "domain1", map[string]string{"k": "v"})
	if calls != 1 {
		t.Fatalf("expected 1 callback invocation, got %d", calls)
	}
	if got.TaskID != "task1" || got.DomainID != "domain1" {
		t.Errorf("event = %+v", got)
	}
	if got.Timestamp.IsZero() {
		t.Error("expected a non-zero Timestamp")
	}
}

func TestEmitterNilCallbackIsNoop(t *testing.T) {
	e := NewEmitter(nil, nil)
	// Must not panic.
	e.Emit(models.EventKindState, "task1", "domain1", nil)
}

func TestEmitterRecoversFromCallbackPanic(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	e := NewEmitter(func(models.TaskEvent) { panic("boom") }, log)

	e.Emit(models.EventKindState, "task1", "domain1", nil)

	if !strings.Contains(buf.String(), "event callback panicked") {
		t.Errorf("expected a recovered-panic log line, got %q", buf.String())
	}
}

func TestSessionLogsLifecycle(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	s := NewSession("task1", "domain1", log)

	s.Start("do the thing", "/workspace/task1")
	s.IterationStart(1)
	s.ToolProposal("call1", "file.write", "need to create the file")
	s.ToolExecution("call1", "file.write", true, "Successfully wrote to a.go", "")
	s.ToolExecution("call2", "file.read", false, "", "file not found")
	s.IterationEnd(1)
	s.Warning("synthesized a defensive pre-execution state")
	s.End(models.TaskCompleted, 1, "done")

	out := buf.String()
	for _, want := range []string{
		"task session started", "iteration started", "tool proposed",
		"tool executed", "file not found", "iteration finished",
		"synthesized a defensive", "task session ended", "tools_executed=2",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected log output to contain %q; got:\n%s", want, out)
		}
	}
}

func TestSessionToolExecutionWithErrorLogsAsWarning(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	s := NewSession("task1", "domain1", log)

	s.ToolExecution("call1", "file.write", false, "", "disk full")

	if !strings.Contains(buf.String(), "disk full") {
		t.Errorf("expected the error message to be logged at warn level, got %q", buf.String())
	}
}
