package models

import (
	"encoding/json"
	"time"
)

// ParamValueKind discriminates the payload carried by a ParamValue.
type ParamValueKind string

const (
	ParamString ParamValueKind = "string"
	ParamInt    ParamValueKind = "int"
	ParamFloat  ParamValueKind = "float"
	ParamBool   ParamValueKind = "bool"
	ParamObject ParamValueKind = "object"
	ParamArray  ParamValueKind = "array"
)

// ParamValue is a sum type over the coerced shapes a tool call parameter can
// take once it has been validated against a ToolSpec's input schema. String
// values are kept byte-for-byte (whitespace-sensitive, may carry source
// code); numeric/boolean values are coerced with an error on mismatch.
// Exactly one of the fields is meaningful for a given Kind.
type ParamValue struct {
	Kind   ParamValueKind `json:"kind"`
	Str    string         `json:"str,omitempty"`
	Int    int64          `json:"int,omitempty"`
	Float  float64        `json:"float,omitempty"`
	Bool   bool           `json:"bool,omitempty"`
	Object map[string]ParamValue `json:"object,omitempty"`
	Array  []ParamValue   `json:"array,omitempty"`
}

// AsString returns the literal string payload, valid only when Kind is
// ParamString.
func (v ParamValue) AsString() string { return v.Str }

// ToAny unwraps a ParamValue into a plain Go value suitable for
// json.Marshal or for handing to a tool executor.
func (v ParamValue) ToAny() any {
	switch v.Kind {
	case ParamString:
		return v.Str
	case ParamInt:
		return v.Int
	case ParamFloat:
		return v.Float
	case ParamBool:
		return v.Bool
	case ParamObject:
		out := make(map[string]any, len(v.Object))
		for k, e := range v.Object {
			out[k] = e.ToAny()
		}
		return out
	case ParamArray:
		out := make([]any, len(v.Array))
		for i, e := range v.Array {
			out[i] = e.ToAny()
		}
		return out
	default:
		return nil
	}
}

// ParamEntry is one ordered name→value pair in a tool call's parameter list.
// Ordering is preserved (rather than collapsed into a map) because the
// prompt builder and result summarizer render parameters in the order the
// model supplied them.
type ParamEntry struct {
	Name  string     `json:"name"`
	Value ParamValue `json:"value"`
}

// EffectTag classifies a side effect a tool may produce, used by domain
// allowlists and by the approval gate to decide whether a proposal needs
// human sign-off.
type EffectTag string

const (
	EffectNet     EffectTag = "net"
	EffectDisk    EffectTag = "disk"
	EffectExec    EffectTag = "exec"
	EffectContext EffectTag = "context"
)

// ToolSpec is the immutable registration record for a tool: its identity,
// schema, and effect surface. The registry (internal/toolspec) is the only
// place ToolSpecs are constructed; everything downstream treats them as
// read-only.
type ToolSpec struct {
	Name        string          `json:"name"`
	Version     string          `json:"version"`
	Description string          `json:"description"`
	Effects     []EffectTag     `json:"effects"`
	InputSchema json.RawMessage `json:"input_schema"`
	OutputSchema json.RawMessage `json:"output_schema,omitempty"`
}

// HasEffect reports whether the spec declares the given effect tag.
func (t ToolSpec) HasEffect(e EffectTag) bool {
	for _, have := range t.Effects {
		if have == e {
			return true
		}
	}
	return false
}

// PreExecutionState is captured exactly once per call-id the first time an
// auto-executable tool call runs during streaming. It carries everything
// the revert engine needs to undo the operation even if the model goes on
// to produce further deltas for the same call.
type PreExecutionState struct {
	ToolName        string                `json:"tool_name"`
	WorkspacePath   string                `json:"workspace_path"`
	OriginalContent *string               `json:"original_content"` // nil if the file did not exist
	ResolvedParams  []ParamEntry          `json:"resolved_params"`
	CreatedDirs     []string              `json:"created_dirs"`
}

// ToolCallProposal is a single <TOOL_CALL> parsed out of a model response,
// transient for the lifetime of the iteration that produced it (or, for
// auto-executed calls, carried forward into the approval gate).
type ToolCallProposal struct {
	CallID              string             `json:"call_id"`
	ToolName            string             `json:"tool_name"`
	Params              []ParamEntry       `json:"params"`
	Reason              string             `json:"reason,omitempty"`
	CreatedAt           time.Time          `json:"created_at"`
	DescriptionSnapshot string             `json:"description_snapshot,omitempty"`
	PreExecuted         bool               `json:"pre_executed"`
	PreExecutionState   *PreExecutionState `json:"pre_execution_state,omitempty"`
}

// ToolExecutionRecord is an append-only entry in a task's execution
// history. Call-ids are unique within a task; a later record with the same
// call-id replaces the earlier one (the registry is expected to log a
// warning when that happens).
type ToolExecutionRecord struct {
	CallID    string          `json:"call_id"`
	ToolName  string          `json:"tool_name"`
	Params    []ParamEntry    `json:"params"`
	Accepted  bool            `json:"accepted"`
	ExecutedAt time.Time      `json:"executed_at"`
	Summary   string          `json:"summary"`
	Result    json.RawMessage `json:"result,omitempty"` // pruned of large fields
	Ops       []string        `json:"ops,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// StepStatus is the lifecycle state of one ExecutionPlan step.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
	StepFailed     StepStatus = "failed"
	StepSkipped    StepStatus = "skipped"
)

// PlanStep is one entry in an ExecutionPlan. Step-ids are unique within the
// owning plan.
type PlanStep struct {
	StepID      string         `json:"step_id"`
	Description string         `json:"description"`
	Status      StepStatus     `json:"status"`
	Result      string         `json:"result,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// ExecutionPlan is owned by the plan.write/plan.update tools and consumed
// read-only by the prompt builder when composing the next model turn.
type ExecutionPlan struct {
	TaskDescription string     `json:"task_description"`
	Steps           []PlanStep `json:"steps"`
}

// StepByID returns the step with the given id, or nil if absent.
func (p *ExecutionPlan) StepByID(id string) *PlanStep {
	for i := range p.Steps {
		if p.Steps[i].StepID == id {
			return &p.Steps[i]
		}
	}
	return nil
}

// TaskStatus is the lifecycle state of a TaskState.
type TaskStatus string

const (
	TaskRunning           TaskStatus = "running"
	TaskWaitingUser       TaskStatus = "waiting_user"
	TaskAwaitContinuation TaskStatus = "await_continuation"
	TaskCompleted         TaskStatus = "completed"
	TaskFailed            TaskStatus = "failed"
	TaskAborted           TaskStatus = "aborted"
)

// Terminal reports whether the status ends the task's lifecycle.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskAborted:
		return true
	default:
		return false
	}
}

// MaxContextSnapshots bounds TaskState.ContextSnapshots per spec.md's
// default retention (N=20).
const MaxContextSnapshots = 20

// TaskState is the single mutable record for one active task. It is
// exclusively owned by the active task registry (C11); every iteration of
// the driver (C7) borrows it under the single-writer discipline documented
// there — nothing outside the registry's callbacks may retain a pointer to
// it past the callback's return.
type TaskState struct {
	// Immutable identity.
	TaskID        string `json:"task_id"`
	ChatID        string `json:"chat_id"`
	DomainID      string `json:"domain_id"`
	AgentID       string `json:"agent_id"`
	UserRequest   string `json:"user_request"`
	WorkspacePath string `json:"workspace_path,omitempty"`

	// Evolving.
	Status           TaskStatus             `json:"status"`
	Iteration        int                    `json:"iteration"`
	ToolCallCounter  int                    `json:"tool_call_counter"`
	AgentMessage     string                 `json:"agent_message,omitempty"`
	LastResponse     string                 `json:"last_response,omitempty"`
	Plan             *ExecutionPlan         `json:"plan,omitempty"`
	CodeSpec         string                 `json:"code_spec,omitempty"`
	PendingProposals []ToolCallProposal     `json:"pending_proposals,omitempty"`
	History          []ToolExecutionRecord  `json:"history,omitempty"`
	ContextSnapshots []string               `json:"context_snapshots,omitempty"`
	Metadata         map[string]any         `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PushContextSnapshot appends a snapshot, trimming the oldest entries once
// MaxContextSnapshots is exceeded.
func (t *TaskState) PushContextSnapshot(s string) {
	t.ContextSnapshots = append(t.ContextSnapshots, s)
	if over := len(t.ContextSnapshots) - MaxContextSnapshots; over > 0 {
		t.ContextSnapshots = t.ContextSnapshots[over:]
	}
}

// PendingByCallID returns the pending proposal with the given call-id, or
// nil if none is pending under that id.
func (t *TaskState) PendingByCallID(callID string) *ToolCallProposal {
	for i := range t.PendingProposals {
		if t.PendingProposals[i].CallID == callID {
			return &t.PendingProposals[i]
		}
	}
	return nil
}

// RemovePending drops the pending proposal with the given call-id, if any.
func (t *TaskState) RemovePending(callID string) {
	out := t.PendingProposals[:0]
	for _, p := range t.PendingProposals {
		if p.CallID != callID {
			out = append(out, p)
		}
	}
	t.PendingProposals = out
}

// AppendHistory records an execution, replacing any existing record that
// shares the same call-id (a conflict the caller is expected to log).
func (t *TaskState) AppendHistory(rec ToolExecutionRecord) {
	for i := range t.History {
		if t.History[i].CallID == rec.CallID {
			t.History[i] = rec
			return
		}
	}
	t.History = append(t.History, rec)
}

// Checkpoint is a single stored revision of a file at a point in time,
// keyed by (workspace, file path, timestamp) at the store layer.
type Checkpoint struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspace_id"`
	FilePath    string    `json:"file_path"`
	Content     string    `json:"content"`
	EditType    string    `json:"edit_type"`
	ContentHash string    `json:"content_hash"`
	CreatedAt   time.Time `json:"created_at"`
}

// EventKind identifies the category of a TaskEvent payload.
type EventKind string

const (
	EventKindState         EventKind = "state"
	EventKindToolExecution EventKind = "tool_execution"
	EventKindStream        EventKind = "coder_stream"
	EventKindFileOperation EventKind = "coder_file_operation"
	EventKindFileRevert    EventKind = "coder_file_revert"
)

// TaskEvent is the envelope delivered through a task's single event
// callback; Payload is kind-specific and left as a raw value so new kinds
// don't require touching this struct.
type TaskEvent struct {
	EventKind EventKind `json:"event_kind"`
	TaskID    string    `json:"task_id"`
	DomainID  string    `json:"domain_id"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}
