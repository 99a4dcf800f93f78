// Package approval implements the approval gate (C8): batch/individual
// decision handling over a task's pending tool-call proposals, idempotent
// toward stale or duplicate decisions, and the accept/reject execution
// paths that bridge into the auto-exec engine, the revert engine, and the
// checkpoint store.
package approval

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/atlas2/coderagent/internal/audit"
	"github.com/atlas2/coderagent/internal/autoexec"
	"github.com/atlas2/coderagent/internal/cache"
	"github.com/atlas2/coderagent/internal/checkpoint"
	"github.com/atlas2/coderagent/internal/fileops"
	"github.com/atlas2/coderagent/internal/revert"
	"github.com/atlas2/coderagent/internal/toolspec"
	"github.com/atlas2/coderagent/internal/tools/files"
	"github.com/atlas2/coderagent/pkg/models"
)

// filesWorkspaceParam mirrors files.WorkspaceParam: the reserved input key
// the gate injects into every tool call so workspace-scoped executors (the
// shared, process-wide registry has no per-task workspace of its own) know
// which task's files to touch.
const filesWorkspaceParam = files.WorkspaceParam

// DedupeWindow bounds how long an identical (task, call-id, accept) decision
// is treated as a repeat of one already applied, swallowing UI double-submits
// (a double-tapped approve button, a retried HTTP request) instead of
// re-running accept/reject side effects a second time.
const DedupeWindow = 3 * time.Second

// BatchAll is the sentinel call-id selecting every pending proposal.
const BatchAll = "batch_all"

// Decision is the caller-supplied verdict for one or more proposals.
type Decision struct {
	CallID  string
	Accept  bool
	Batch   bool
	Reason  string
	// PreExecutedOverride/PreStateOverride let the caller (UI) overlay a
	// pre_executed flag or pre-execution state on the selected proposals,
	// per spec.md §4.8 point 4. Nil means "preserve what was attached at
	// registration time".
	PreExecutedOverride *bool
	PreStateOverride    *models.PreExecutionState
}

// Outcome reports what Decide did, driving the caller's (C7's) next
// transition.
type Outcome struct {
	StaleRequest    bool
	NoopEmpty       bool
	Deduped         bool
	Rejected        bool
	Accepted        bool
	RemainingPending int
	DeferredCleared bool
	FinalMessage    string
}

// Gate executes decisions against a single task's pending proposals. A
// fresh Gate is constructed per call (it is stateless beyond its
// dependencies) — the pending list itself lives on the TaskState, owned by
// the registry per spec.md §9's DAG discipline.
type Gate struct {
	Tools       *toolspec.Registry
	AutoExec    *autoexec.Engine
	Checkpoints checkpoint.Saver
	Workspace   string
	Log         *slog.Logger

	// Audit records every permission decision and tool invocation/completion
	// through the shared audit trail. Nil means auditing is off; every call
	// site below checks before using it, so a bare &Gate{} (as built by
	// existing tests) keeps working unaudited.
	Audit *audit.Logger

	// dedupe suppresses re-applying a decision that is byte-identical to
	// one already processed for the same task within DedupeWindow.
	dedupe *cache.DedupeCache
}

// New constructs a Gate. A nil logger falls back to slog.Default(). auditLog
// may be nil to disable audit trail recording.
func New(tools *toolspec.Registry, autoExec *autoexec.Engine, checkpoints checkpoint.Saver, workspace string, log *slog.Logger, auditLog *audit.Logger) *Gate {
	if log == nil {
		log = slog.Default()
	}
	return &Gate{
		Tools: tools, AutoExec: autoExec, Checkpoints: checkpoints, Workspace: workspace, Log: log,
		Audit:  auditLog,
		dedupe: cache.NewDedupeCache(cache.DedupeCacheOptions{TTL: DedupeWindow, MaxSize: 4096}),
	}
}

// Decide applies a Decision to state's pending proposals, mutating state in
// place (history, pending list, status) per spec.md §4.8. Stale-task and
// empty-pending handling (points 1-2) is the caller's (task.Driver's)
// responsibility since it needs the registry's recently-completed set;
// Decide assumes the task is still active and point 2 (empty pending) is
// checked here as a pure function of state.
func (g *Gate) Decide(ctx context.Context, state *models.TaskState, d Decision, now time.Time) Outcome {
	if len(state.PendingProposals) == 0 {
		return Outcome{NoopEmpty: true}
	}

	if g.dedupe != nil {
		key := fmt.Sprintf("%s|%s|%v|%v", state.TaskID, d.CallID, d.Accept, d.Batch)
		if g.dedupe.CheckAt(key, now) {
			g.Log.Warn("duplicate decision suppressed", "task_id", state.TaskID, "call_id", d.CallID)
			return Outcome{Deduped: true, RemainingPending: len(state.PendingProposals)}
		}
	}

	selected := g.selectProposals(state, d)
	if len(selected) == 0 {
		return Outcome{NoopEmpty: true}
	}

	for i := range selected {
		if d.PreExecutedOverride != nil {
			selected[i].PreExecuted = *d.PreExecutedOverride
		}
		if d.PreStateOverride != nil {
			selected[i].PreExecutionState = d.PreStateOverride
		}
		if selected[i].PreExecutionState == nil && isFileTool(selected[i].ToolName) {
			g.Log.Warn("synthesizing defensive pre-execution state", "call_id", selected[i].CallID, "tool", selected[i].ToolName)
			selected[i].PreExecutionState = &models.PreExecutionState{ToolName: selected[i].ToolName}
		}
	}

	if g.Audit != nil {
		reason := d.Reason
		for _, p := range selected {
			g.Audit.LogPermissionDecision(ctx, d.Accept, p.ToolName, p.CallID, "decision", reason, state.TaskID)
		}
	}

	var outcome Outcome
	if !d.Accept {
		outcome = g.reject(ctx, state, selected, now)
	} else {
		outcome = g.accept(ctx, state, selected, now)
	}

	ids := make(map[string]bool, len(selected))
	for _, p := range selected {
		ids[p.CallID] = true
	}
	for _, p := range selected {
		state.RemovePending(p.CallID)
		g.AutoExec.Forget(p.CallID)
	}
	outcome.RemainingPending = len(state.PendingProposals)
	return outcome
}

// selectProposals implements spec.md §4.8 point 3: either the single
// proposal matching call-id, or every pending proposal when call-id is the
// batch_all sentinel or batch is requested with multiple pending.
func (g *Gate) selectProposals(state *models.TaskState, d Decision) []models.ToolCallProposal {
	if d.CallID == BatchAll || (d.Batch && len(state.PendingProposals) > 1) {
		out := make([]models.ToolCallProposal, len(state.PendingProposals))
		copy(out, state.PendingProposals)
		return out
	}
	if p := state.PendingByCallID(d.CallID); p != nil {
		return []models.ToolCallProposal{*p}
	}
	return nil
}

func isFileTool(name string) bool {
	return strings.HasPrefix(name, "file.")
}

// reject invokes the revert engine for every selected proposal that
// carries a pre-execution state, appends a rejection record, and marks the
// task aborted (spec.md §4.8 point 5).
func (g *Gate) reject(ctx context.Context, state *models.TaskState, selected []models.ToolCallProposal, now time.Time) Outcome {
	var messages []string
	for _, p := range selected {
		if g.Audit != nil {
			g.Audit.LogToolDenied(ctx, p.ToolName, p.CallID, "rejected by user", "", state.TaskID)
		}
		if p.PreExecutionState == nil {
			state.AppendHistory(models.ToolExecutionRecord{
				CallID: p.CallID, ToolName: p.ToolName, Accepted: false,
				ExecutedAt: now, Summary: "rejected by user",
			})
			continue
		}
		outcome, err := revert.Revert(g.Workspace, *p.PreExecutionState)
		if err != nil {
			g.Log.Error("revert failed", "call_id", p.CallID, "error", err)
			messages = append(messages, fmt.Sprintf("%s: revert failed: %v", p.CallID, err))
			state.AppendHistory(models.ToolExecutionRecord{
				CallID: p.CallID, ToolName: p.ToolName, Accepted: false,
				ExecutedAt: now, Summary: "rejected; revert failed", Error: err.Error(),
			})
			continue
		}
		messages = append(messages, fmt.Sprintf("%s: reverted (%s)", p.CallID, outcome.RevertedTo))
		state.AppendHistory(models.ToolExecutionRecord{
			CallID: p.CallID, ToolName: p.ToolName, Accepted: false,
			ExecutedAt: now, Summary: fmt.Sprintf("rejected; reverted to %s", outcome.RevertedTo),
		})
	}
	state.Status = models.TaskAborted
	state.UpdatedAt = now
	return Outcome{Rejected: true, FinalMessage: strings.Join(messages, "; ")}
}

// accept executes (or, for auto-executed tools, synthesizes the post-hoc
// result of) each selected proposal in order, checkpoints file ops, and
// appends history records (spec.md §4.8 point 6).
func (g *Gate) accept(ctx context.Context, state *models.TaskState, selected []models.ToolCallProposal, now time.Time) Outcome {
	for _, p := range selected {
		rec := g.executeOne(ctx, state, p, now)
		state.AppendHistory(rec)
	}
	return Outcome{Accepted: true}
}

func (g *Gate) executeOne(ctx context.Context, state *models.TaskState, p models.ToolCallProposal, now time.Time) models.ToolExecutionRecord {
	if protocolAutoExecEligible(p.ToolName) && p.PreExecuted {
		return g.syntheticPostHocResult(state, p, now)
	}

	entry, err := g.Tools.Get(p.ToolName)
	if err != nil {
		return models.ToolExecutionRecord{
			CallID: p.CallID, ToolName: p.ToolName, Accepted: false,
			ExecutedAt: now, Summary: "unknown tool", Error: err.Error(),
		}
	}
	if entry.Executor == nil {
		return models.ToolExecutionRecord{
			CallID: p.CallID, ToolName: p.ToolName, Accepted: false,
			ExecutedAt: now, Summary: "tool has no executor", Error: "no executor registered",
		}
	}

	params := paramsToMap(p.Params)
	params[filesWorkspaceParam] = state.WorkspacePath
	payload, _ := json.Marshal(params)
	if g.Audit != nil {
		g.Audit.LogToolInvocation(ctx, p.ToolName, p.CallID, payload, state.TaskID)
	}
	started := time.Now()
	result, err := entry.Executor.Execute(ctx, payload)
	if g.Audit != nil {
		success := err == nil && (result == nil || !result.IsError)
		output := ""
		if result != nil {
			output = result.Content
		}
		g.Audit.LogToolCompletion(ctx, p.ToolName, p.CallID, success, output, time.Since(started), state.TaskID)
	}
	if err != nil {
		return models.ToolExecutionRecord{
			CallID: p.CallID, ToolName: p.ToolName, Params: p.Params, Accepted: false,
			ExecutedAt: now, Summary: "execution error", Error: err.Error(),
		}
	}
	if result != nil && !result.IsError {
		if applyErr := g.applyPlanResult(state, p.ToolName, result.Content); applyErr != nil {
			return models.ToolExecutionRecord{
				CallID: p.CallID, ToolName: p.ToolName, Params: p.Params, Accepted: false,
				ExecutedAt: now, Summary: "plan update rejected", Error: applyErr.Error(),
			}
		}
	}
	g.checkpointIfFileOp(p, state, now)
	return models.ToolExecutionRecord{
		CallID: p.CallID, ToolName: p.ToolName, Params: p.Params, Accepted: true,
		ExecutedAt: now, Summary: summarize(p.ToolName, p.Params, result.Content), Error: errIfFlagged(result),
	}
}

// applyPlanResult installs a plan.write/plan.update executor's result onto
// the task's live plan. Every other tool is a no-op here; plan tools have
// no filesystem effect of their own and exist only to shape state.Plan.
func (g *Gate) applyPlanResult(state *models.TaskState, toolName, content string) error {
	switch toolName {
	case "plan.write":
		var plan models.ExecutionPlan
		if err := json.Unmarshal([]byte(content), &plan); err != nil {
			return fmt.Errorf("decode plan: %w", err)
		}
		state.Plan = &plan
		return nil
	case "plan.update":
		var update files.PlanUpdate
		if err := json.Unmarshal([]byte(content), &update); err != nil {
			return fmt.Errorf("decode plan update: %w", err)
		}
		if state.Plan == nil {
			state.Plan = &models.ExecutionPlan{}
		}
		if update.TaskDescription != nil {
			state.Plan.TaskDescription = *update.TaskDescription
		}
		for _, d := range update.UpdateSteps {
			step := state.Plan.StepByID(d.StepID)
			if step == nil {
				return fmt.Errorf("unknown step %q", d.StepID)
			}
			if d.Status != "" {
				step.Status = d.Status
			}
			if d.Description != "" {
				step.Description = d.Description
			}
			if d.Result != "" {
				step.Result = d.Result
			}
		}
		for _, a := range update.AddSteps {
			if state.Plan.StepByID(a.StepID) != nil {
				return fmt.Errorf("step %q already exists", a.StepID)
			}
			state.Plan.Steps = append(state.Plan.Steps, models.PlanStep{
				StepID:      a.StepID,
				Description: a.Description,
				Status:      models.StepPending,
			})
		}
		for _, id := range update.RemoveSteps {
			kept := state.Plan.Steps[:0]
			for _, s := range state.Plan.Steps {
				if s.StepID != id {
					kept = append(kept, s)
				}
			}
			state.Plan.Steps = kept
		}
		return nil
	default:
		return nil
	}
}

func errIfFlagged(r *toolspec.ExecResult) string {
	if r != nil && r.IsError {
		return r.Content
	}
	return ""
}

// syntheticPostHocResult builds the accepted-without-re-execution result
// for an auto-executed tool: the on-disk state is already correct, so
// re-running it would double-apply the edit. Synthesis failure becomes an
// error result rather than a silent fallback to re-execution (spec.md §4.8
// point 6, and the unreachable-post-synthesis-return flagged in §9 is
// intentionally not reproduced here).
func (g *Gate) syntheticPostHocResult(state *models.TaskState, p models.ToolCallProposal, now time.Time) models.ToolExecutionRecord {
	if p.PreExecutionState == nil {
		return models.ToolExecutionRecord{
			CallID: p.CallID, ToolName: p.ToolName, Params: p.Params, Accepted: false,
			ExecutedAt: now, Summary: "pre-execution synthesis failed", Error: "missing pre-execution state",
		}
	}
	g.checkpointIfFileOp(p, state, now)
	summary := fmt.Sprintf("Successfully applied %s to %s (pre-executed)", p.ToolName, p.PreExecutionState.WorkspacePath)
	return models.ToolExecutionRecord{
		CallID: p.CallID, ToolName: p.ToolName, Params: p.Params, Accepted: true,
		ExecutedAt: now, Summary: summary, Ops: []string{p.ToolName + ":pre_executed"},
	}
}

func (g *Gate) checkpointIfFileOp(p models.ToolCallProposal, state *models.TaskState, now time.Time) {
	if !isFileTool(p.ToolName) || p.ToolName == "file.read" {
		return
	}
	path := paramString(p.Params, "file_path")
	if path == "" && p.PreExecutionState != nil {
		path = p.PreExecutionState.WorkspacePath
	}
	if path == "" {
		return
	}
	before := ""
	if p.PreExecutionState != nil && p.PreExecutionState.OriginalContent != nil {
		before = *p.PreExecutionState.OriginalContent
	}
	after := currentContent(g.Workspace, path)
	if before == after {
		return
	}
	g.Checkpoints.Save(state.WorkspacePath, path, before, "before", now)
	g.Checkpoints.Save(state.WorkspacePath, path, after, "after", now)
}

func currentContent(workspace, path string) string {
	resolved, err := (fileops.Resolver{Root: workspace}).Resolve(path)
	if err != nil {
		return ""
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return ""
	}
	return string(data)
}

func protocolAutoExecEligible(tool string) bool {
	return tool == "file.write" || tool == "file.edit"
}

func paramsToMap(params []models.ParamEntry) map[string]any {
	m := make(map[string]any, len(params))
	for _, p := range params {
		m[p.Name] = p.Value.ToAny()
	}
	return m
}

func paramString(params []models.ParamEntry, name string) string {
	for _, p := range params {
		if p.Name == name {
			return p.Value.AsString()
		}
	}
	return ""
}

// summarize produces the type-aware human summary spec.md §4.8 describes.
func summarize(tool string, params []models.ParamEntry, content string) string {
	path := paramString(params, "file_path")
	switch tool {
	case "file.read":
		return fmt.Sprintf("Successfully read %s", path)
	case "file.edit":
		mode := paramString(params, "edit_mode")
		return fmt.Sprintf("Successfully edited %s (%s)", path, mode)
	case "file.write":
		return fmt.Sprintf("Successfully wrote to %s", path)
	default:
		if len(content) > 200 {
			content = content[:200] + "..."
		}
		return content
	}
}
