// Package tasklog implements the session logger and event emitter (C10):
// a per-task structured log of every iteration, tool proposal, and tool
// execution, plus a panic-safe bridge to the caller-supplied event
// callback. Structurally grounded on internal/agent/event_emitter.go's
// sink/emitter split and internal/audit/types.go's event-taxonomy style,
// adapted from multi-channel session logging to one log per coder task.
package tasklog

import (
	"log/slog"
	"time"

	"github.com/atlas2/coderagent/pkg/models"
)

// Session is a per-task structured log. It never returns an error to its
// caller — logging failures are not task failures — and is safe to call
// from a single task's goroutine only (no internal locking), matching
// the single-writer discipline the iteration driver already holds over a
// TaskState.
type Session struct {
	taskID    string
	domainID  string
	log       *slog.Logger
	startedAt time.Time
	toolCount int
}

// NewSession opens a session log for taskID, bound to domainID for
// cross-task correlation in the underlying slog output. Passing a nil
// logger falls back to slog.Default().
func NewSession(taskID, domainID string, log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}
	return &Session{
		taskID:   taskID,
		domainID: domainID,
		log:      log.With("task_id", taskID, "domain_id", domainID),
	}
}

// Start logs the session-open line (spec.md §4.10's "session start").
func (s *Session) Start(userRequest, workspace string) {
	s.startedAt = time.Now()
	s.log.Info("task session started", "user_request", userRequest, "workspace", workspace)
}

// IterationStart logs the start of iteration n.
func (s *Session) IterationStart(n int) {
	s.log.Info("iteration started", "iteration", n)
}

// IterationEnd logs the end of iteration n.
func (s *Session) IterationEnd(n int) {
	s.log.Info("iteration finished", "iteration", n)
}

// AgentMessage logs the model's user-facing message for the iteration.
func (s *Session) AgentMessage(iteration int, message string) {
	if message == "" {
		return
	}
	s.log.Info("agent message", "iteration", iteration, "message", message)
}

// ToolProposal logs a proposed tool call awaiting (or past) approval.
func (s *Session) ToolProposal(callID, toolName, reason string) {
	s.log.Info("tool proposed", "call_id", callID, "tool", toolName, "reason", reason)
}

// ToolExecution logs one tool execution's outcome.
func (s *Session) ToolExecution(callID, toolName string, accepted bool, summary, errMsg string) {
	s.toolCount++
	attrs := []any{"call_id", callID, "tool", toolName, "accepted", accepted, "summary", summary}
	if errMsg != "" {
		attrs = append(attrs, "error", errMsg)
		s.log.Warn("tool executed", attrs...)
		return
	}
	s.log.Info("tool executed", attrs...)
}

// Warning logs a non-fatal anomaly (e.g. a defensively synthesized
// pre-execution state, a pruned synthetic error record).
func (s *Session) Warning(msg string, args ...any) {
	s.log.Warn(msg, args...)
}

// Error logs a fatal or task-aborting condition.
func (s *Session) Error(msg string, args ...any) {
	s.log.Error(msg, args...)
}

// End logs the session-close line (spec.md §4.10's "session end"): final
// status, iteration count, tool count, and the final output message.
func (s *Session) End(status models.TaskStatus, iterations int, output string) {
	s.log.Info("task session ended",
		"status", status,
		"iterations", iterations,
		"tools_executed", s.toolCount,
		"duration", time.Since(s.startedAt),
		"output", output,
	)
}
