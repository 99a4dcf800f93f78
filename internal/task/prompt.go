package task

import (
	"fmt"
	"regexp"
	"strings"

	contextwindow "github.com/atlas2/coderagent/internal/context"
	"github.com/atlas2/coderagent/internal/toolspec"
	"github.com/atlas2/coderagent/pkg/models"
)

// historyBudgetFraction is the share of a model's context window BuildPrompt
// reserves for conversation history, leaving the remainder for the tool
// catalog, tool-execution history, and the model's own reply.
const historyBudgetFraction = 0.3

var newlineRunRe = regexp.MustCompile(`\n{3,}`)

// responseFormatStanza is the fixed instruction block telling the model how
// to shape its reply (spec.md §6's literal tag grammar).
const responseFormatStanza = `Respond using this exact tagged format:

<MESSAGE>a short message for the user</MESSAGE>
<TOOL_CALL>
  <TOOL>tool.name</TOOL>
  <REASON>why this call is needed</REASON>
  <PARAM name="param_name">value</PARAM>
</TOOL_CALL>
<AGENT_STATUS>AWAIT_TOOL|COMPLETE</AGENT_STATUS>

Zero, one, or many TOOL_CALL blocks may appear. String parameters carrying
code must be written literally, without escaping or fencing. Do not nest
TOOL_CALL blocks.`

// PromptContext bundles everything the builder needs beyond the task
// state: the tool catalog, workspace instructions, and an iteration budget
// line.
type PromptContext struct {
	BaseInstructions   string
	WorkspaceAgentsMD  string
	Budget             string
	PendingApprovalNote string

	// Model selects the context window (internal/context.ModelContextWindows)
	// used to decide how much conversation history BuildPrompt keeps.
	// Empty falls back to contextwindow.DefaultContextWindow.
	Model string
}

// windowHistory truncates messages to fit within historyBudgetFraction of
// ctx.Model's context window, oldest-first, always keeping the first
// message (the system/task framing) and the most recent two.
func windowHistory(ctx PromptContext, messages []models.Message) []models.Message {
	if len(messages) == 0 {
		return messages
	}
	window := contextwindow.NewWindowForModel(ctx.Model)
	maxTokens := int(float64(window.Remaining()) * historyBudgetFraction)
	if maxTokens <= 0 {
		maxTokens = contextwindow.DefaultContextWindow / 4
	}

	converted := make([]contextwindow.Message, len(messages))
	for i, m := range messages {
		converted[i] = contextwindow.Message{Role: string(m.Role), Content: m.Content}
	}
	// NewTruncator's defaults (keepFirst=1, keepLast=2) always keep the
	// oldest N and newest M entries and only ever drop a contiguous run
	// right after the kept head, so the removed span on the original
	// messages slice is directly addressable from RemovedCount.
	truncator := contextwindow.NewTruncator(contextwindow.TruncateOldest, maxTokens)
	_, result := truncator.Truncate(converted)
	if result.RemovedCount == 0 {
		return messages
	}
	out := make([]models.Message, 0, len(messages)-result.RemovedCount)
	out = append(out, messages[:1]...)
	out = append(out, messages[1+result.RemovedCount:]...)
	return out
}

// BuildPrompt assembles a single text prompt per spec.md §4.7a: base
// instructions, domain instructions, the rendered tool catalog, budget,
// iteration number, user request, chat history, tool history (deduplicated
// by content hash for file.read), pending-approval notes, a compact plan
// status block, and the fixed response-format stanza. Runs of ≥3 newlines
// collapse to 2.
func BuildPrompt(state *models.TaskState, reg *toolspec.Registry, ctx PromptContext, messages []models.Message) string {
	var b strings.Builder

	if ctx.BaseInstructions != "" {
		b.WriteString(ctx.BaseInstructions)
		b.WriteString("\n\n")
	}
	if ctx.WorkspaceAgentsMD != "" {
		b.WriteString("Workspace instructions:\n")
		b.WriteString(ctx.WorkspaceAgentsMD)
		b.WriteString("\n\n")
	}

	b.WriteString(renderToolCatalog(reg))
	b.WriteString("\n")

	if ctx.Budget != "" {
		fmt.Fprintf(&b, "Budget: %s\n", ctx.Budget)
	}
	fmt.Fprintf(&b, "Iteration: %d\n\n", state.Iteration)

	fmt.Fprintf(&b, "User request:\n%s\n\n", state.UserRequest)

	messages = windowHistory(ctx, messages)
	if len(messages) > 0 {
		b.WriteString("Conversation history:\n")
		for _, m := range messages {
			fmt.Fprintf(&b, "[%s] %s\n", m.Role, m.Content)
		}
		b.WriteString("\n")
	}

	if history := renderToolHistory(state.History); history != "" {
		b.WriteString("Tool execution history:\n")
		b.WriteString(history)
		b.WriteString("\n")
	}

	if ctx.PendingApprovalNote != "" {
		b.WriteString(ctx.PendingApprovalNote)
		b.WriteString("\n\n")
	}

	if state.Plan != nil {
		b.WriteString(renderPlanStatus(state.Plan))
		b.WriteString("\n")
	}

	b.WriteString(responseFormatStanza)

	return newlineRunRe.ReplaceAllString(b.String(), "\n\n")
}

// renderToolCatalog lists required-param tools first, then optional
// extensions, each with its parameter types/enums/defaults.
func renderToolCatalog(reg *toolspec.Registry) string {
	specs := reg.List()
	var required, optional []models.ToolSpec
	for _, s := range specs {
		if isCoreTool(s.Name) {
			required = append(required, s)
		} else {
			optional = append(optional, s)
		}
	}
	var b strings.Builder
	b.WriteString("Available tools:\n")
	for _, group := range [][]models.ToolSpec{required, optional} {
		for _, s := range group {
			entry, err := reg.Get(s.Name)
			if err != nil {
				continue
			}
			fmt.Fprintf(&b, "- %s: %s\n", s.Name, s.Description)
			for _, name := range entry.Schema.Names {
				f := entry.Schema.Fields[name]
				desc := fmt.Sprintf("  * %s (%s)", name, f.Type)
				if f.Required {
					desc += " required"
				}
				if len(f.Enum) > 0 {
					desc += fmt.Sprintf(" enum=%v", f.Enum)
				}
				if f.Default != nil {
					desc += fmt.Sprintf(" default=%v", f.Default)
				}
				b.WriteString(desc)
				b.WriteString("\n")
			}
		}
	}
	return b.String()
}

func isCoreTool(name string) bool {
	switch name {
	case "file.read", "file.write", "file.edit", "plan.write", "plan.update":
		return true
	default:
		return false
	}
}

// renderToolHistory renders prior ToolExecutionRecords, deduplicating
// file.read content by hash within the render so re-reads of an unchanged
// file aren't shown twice.
func renderToolHistory(history []models.ToolExecutionRecord) string {
	var b strings.Builder
	seenReads := make(map[string]bool)
	for _, rec := range history {
		if rec.ToolName == "file.read" {
			if seenReads[rec.Summary] {
				continue
			}
			seenReads[rec.Summary] = true
		}
		status := "ok"
		if rec.Error != "" {
			status = "error: " + rec.Error
		}
		fmt.Fprintf(&b, "- [%s] %s (%s): %s\n", rec.CallID, rec.ToolName, status, rec.Summary)
	}
	return b.String()
}

// renderPlanStatus renders a compact block omitting completed steps.
func renderPlanStatus(plan *models.ExecutionPlan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Plan: %s\n", plan.TaskDescription)
	for _, step := range plan.Steps {
		if step.Status == models.StepCompleted {
			continue
		}
		fmt.Fprintf(&b, "- [%s] %s: %s\n", step.StepID, step.Status, step.Description)
	}
	return b.String()
}
