package files

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/atlas2/coderagent/internal/toolspec"
	"github.com/atlas2/coderagent/pkg/models"
)

// PlanWriteTool implements plan.write: the model's declaration of an
// execution plan for the current task. Unlike the file tools, it has no
// filesystem side effect — its ExecResult.Content carries the plan as JSON,
// which the approval gate decodes and installs onto the task's state after
// a successful, accepted execution (see approval.Gate.applyPlanResult).
type PlanWriteTool struct{}

// NewPlanWriteTool creates a plan.write tool.
func NewPlanWriteTool() *PlanWriteTool { return &PlanWriteTool{} }

type planStepInput struct {
	StepID      string `json:"step_id"`
	Description string `json:"description"`
}

// Execute validates and echoes back a new plan document.
func (t *PlanWriteTool) Execute(ctx context.Context, params json.RawMessage) (*toolspec.ExecResult, error) {
	_ = ctx
	var input struct {
		TaskDescription string          `json:"task_description"`
		Steps           []planStepInput `json:"steps"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if strings.TrimSpace(input.TaskDescription) == "" {
		return toolError("task_description is required"), nil
	}
	if len(input.Steps) == 0 {
		return toolError("steps are required"), nil
	}

	plan := models.ExecutionPlan{TaskDescription: input.TaskDescription}
	seen := make(map[string]bool, len(input.Steps))
	for _, s := range input.Steps {
		if strings.TrimSpace(s.StepID) == "" {
			return toolError("step_id is required for every step"), nil
		}
		if seen[s.StepID] {
			return toolError(fmt.Sprintf("duplicate step_id %q", s.StepID)), nil
		}
		seen[s.StepID] = true
		plan.Steps = append(plan.Steps, models.PlanStep{
			StepID:      s.StepID,
			Description: s.Description,
			Status:      models.StepPending,
		})
	}

	payload, err := json.Marshal(plan)
	if err != nil {
		return toolError(fmt.Sprintf("encode plan: %v", err)), nil
	}
	return &toolspec.ExecResult{Content: string(payload)}, nil
}

// PlanUpdateTool implements plan.update: an incremental delta against the
// current plan — retitling the task description, appending new steps,
// revising existing steps' status/description/result, or dropping steps
// outright. Like PlanWriteTool it is stateless; the gate decodes the
// returned PlanUpdate and applies it onto the task's live plan.
type PlanUpdateTool struct{}

// NewPlanUpdateTool creates a plan.update tool.
func NewPlanUpdateTool() *PlanUpdateTool { return &PlanUpdateTool{} }

// PlanStepDelta revises one existing step. Only non-empty fields are
// applied; Status, if set, must be one of the known step statuses.
type PlanStepDelta struct {
	StepID      string            `json:"step_id"`
	Status      models.StepStatus `json:"status,omitempty"`
	Description string            `json:"description,omitempty"`
	Result      string            `json:"result,omitempty"`
}

// PlanUpdate is the delta a plan.update call produces, applied by the
// approval gate onto the task's in-memory plan.
type PlanUpdate struct {
	TaskDescription *string         `json:"task_description,omitempty"`
	AddSteps        []planStepInput `json:"add_steps,omitempty"`
	UpdateSteps     []PlanStepDelta `json:"update_steps,omitempty"`
	RemoveSteps     []string        `json:"remove_steps,omitempty"`
}

var validStepStatuses = map[models.StepStatus]bool{
	models.StepPending:    true,
	models.StepInProgress: true,
	models.StepCompleted:  true,
	models.StepFailed:     true,
	models.StepSkipped:    true,
}

// Execute validates and echoes back a plan delta.
func (t *PlanUpdateTool) Execute(ctx context.Context, params json.RawMessage) (*toolspec.ExecResult, error) {
	_ = ctx
	var input struct {
		Updates PlanUpdate `json:"updates"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	u := input.Updates
	if u.TaskDescription == nil && len(u.AddSteps) == 0 && len(u.UpdateSteps) == 0 && len(u.RemoveSteps) == 0 {
		return toolError("updates must set at least one of task_description, add_steps, update_steps, or remove_steps"), nil
	}

	added := make(map[string]bool, len(u.AddSteps))
	for _, s := range u.AddSteps {
		if strings.TrimSpace(s.StepID) == "" {
			return toolError("step_id is required for every added step"), nil
		}
		if added[s.StepID] {
			return toolError(fmt.Sprintf("duplicate step_id %q in add_steps", s.StepID)), nil
		}
		added[s.StepID] = true
	}
	for _, d := range u.UpdateSteps {
		if strings.TrimSpace(d.StepID) == "" {
			return toolError("step_id is required for every updated step"), nil
		}
		if d.Status != "" && !validStepStatuses[d.Status] {
			return toolError(fmt.Sprintf("unknown status %q", d.Status)), nil
		}
	}
	for _, id := range u.RemoveSteps {
		if strings.TrimSpace(id) == "" {
			return toolError("remove_steps entries must not be empty"), nil
		}
	}

	payload, err := json.Marshal(u)
	if err != nil {
		return toolError(fmt.Sprintf("encode update: %v", err)), nil
	}
	return &toolspec.ExecResult{Content: string(payload)}, nil
}
