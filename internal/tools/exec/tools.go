package exec

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/atlas2/coderagent/internal/toolspec"
)

// WorkspaceParam mirrors files.WorkspaceParam: the reserved input key the
// approval gate injects into every call so the shared Manager knows which
// task's workspace a command (and its cwd) is scoped to.
const WorkspaceParam = "__workspace"

// ExecTool implements system.exec: run a command, foreground or
// background.
type ExecTool struct {
	manager *Manager
}

// NewExecTool creates the system.exec tool.
func NewExecTool(manager *Manager) *ExecTool { return &ExecTool{manager: manager} }

func (t *ExecTool) Execute(ctx context.Context, params json.RawMessage) (*toolspec.ExecResult, error) {
	if t.manager == nil {
		return execError("exec manager unavailable"), nil
	}
	var input struct {
		Workspace      string            `json:"__workspace"`
		Command        string            `json:"command"`
		Cwd            string            `json:"cwd"`
		Env            map[string]string `json:"env"`
		Input          string            `json:"input"`
		TimeoutSeconds int               `json:"timeout_seconds"`
		Background     bool              `json:"background"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return execError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	command := strings.TrimSpace(input.Command)
	if command == "" {
		return execError("command is required"), nil
	}

	timeout := time.Duration(input.TimeoutSeconds) * time.Second

	if input.Background {
		proc, err := t.manager.startBackground(ctx, input.Workspace, command, input.Cwd, input.Env, input.Input, timeout)
		if err != nil {
			return execError(err.Error()), nil
		}
		payload, _ := json.MarshalIndent(map[string]interface{}{
			"status":     "running",
			"process_id": proc.id,
		}, "", "  ")
		return &toolspec.ExecResult{Content: string(payload)}, nil
	}

	result, err := t.manager.runSync(ctx, input.Workspace, command, input.Cwd, input.Env, input.Input, timeout)
	if err != nil {
		return execError(err.Error()), nil
	}
	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return execError(fmt.Sprintf("encode result: %v", err)), nil
	}
	return &toolspec.ExecResult{Content: string(payload)}, nil
}

// ExecStatusTool implements system.exec_status: report a process's current
// state without blocking.
type ExecStatusTool struct {
	manager *Manager
}

// NewExecStatusTool creates the system.exec_status tool.
func NewExecStatusTool(manager *Manager) *ExecStatusTool { return &ExecStatusTool{manager: manager} }

func (t *ExecStatusTool) Execute(ctx context.Context, params json.RawMessage) (*toolspec.ExecResult, error) {
	_ = ctx
	if t.manager == nil {
		return execError("exec manager unavailable"), nil
	}
	id, errResult := processID(params)
	if errResult != nil {
		return errResult, nil
	}

	if proc, ok := t.manager.get(id); ok {
		payload, _ := json.MarshalIndent(proc.info(), "", "  ")
		return &toolspec.ExecResult{Content: string(payload)}, nil
	}
	if info, ok := t.manager.finished(id); ok {
		payload, _ := json.MarshalIndent(info, "", "  ")
		return &toolspec.ExecResult{Content: string(payload)}, nil
	}
	return execError("process not found"), nil
}

// ExecKillTool implements system.exec_kill: terminate a running process.
type ExecKillTool struct {
	manager *Manager
}

// NewExecKillTool creates the system.exec_kill tool.
func NewExecKillTool(manager *Manager) *ExecKillTool { return &ExecKillTool{manager: manager} }

func (t *ExecKillTool) Execute(ctx context.Context, params json.RawMessage) (*toolspec.ExecResult, error) {
	_ = ctx
	if t.manager == nil {
		return execError("exec manager unavailable"), nil
	}
	id, errResult := processID(params)
	if errResult != nil {
		return errResult, nil
	}
	if err := t.manager.kill(id); err != nil {
		return execError(err.Error()), nil
	}
	payload, _ := json.MarshalIndent(map[string]interface{}{"status": "killed", "process_id": id}, "", "  ")
	return &toolspec.ExecResult{Content: string(payload)}, nil
}

// ExecListTool implements system.exec_list: enumerate running and recently
// finished processes.
type ExecListTool struct {
	manager *Manager
}

// NewExecListTool creates the system.exec_list tool.
func NewExecListTool(manager *Manager) *ExecListTool { return &ExecListTool{manager: manager} }

func (t *ExecListTool) Execute(ctx context.Context, params json.RawMessage) (*toolspec.ExecResult, error) {
	_ = ctx
	_ = params
	if t.manager == nil {
		return execError("exec manager unavailable"), nil
	}
	payload, _ := json.MarshalIndent(map[string]interface{}{"processes": t.manager.list()}, "", "  ")
	return &toolspec.ExecResult{Content: string(payload)}, nil
}

// ExecWaitTool implements system.exec_wait: block until a process exits or
// a timeout elapses, then report its final state.
type ExecWaitTool struct {
	manager *Manager
}

// NewExecWaitTool creates the system.exec_wait tool.
func NewExecWaitTool(manager *Manager) *ExecWaitTool { return &ExecWaitTool{manager: manager} }

func (t *ExecWaitTool) Execute(ctx context.Context, params json.RawMessage) (*toolspec.ExecResult, error) {
	if t.manager == nil {
		return execError("exec manager unavailable"), nil
	}
	var input struct {
		ProcessID      string `json:"process_id"`
		TimeoutSeconds int    `json:"timeout_seconds"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return execError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	id := strings.TrimSpace(input.ProcessID)
	if id == "" {
		return execError("process_id is required"), nil
	}

	timeout := time.Duration(input.TimeoutSeconds) * time.Second
	info, err := t.manager.wait(ctx, id, timeout)
	if err != nil {
		return execError(err.Error()), nil
	}
	payload, _ := json.MarshalIndent(info, "", "  ")
	return &toolspec.ExecResult{Content: string(payload)}, nil
}

func processID(params json.RawMessage) (string, *toolspec.ExecResult) {
	var input struct {
		ProcessID string `json:"process_id"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return "", execError(fmt.Sprintf("invalid parameters: %v", err))
	}
	id := strings.TrimSpace(input.ProcessID)
	if id == "" {
		return "", execError("process_id is required")
	}
	return id, nil
}

func execError(message string) *toolspec.ExecResult {
	payload, err := json.Marshal(map[string]string{"error": message})
	if err != nil {
		return &toolspec.ExecResult{Content: message, IsError: true}
	}
	return &toolspec.ExecResult{Content: string(payload), IsError: true}
}

// InputSchemaDoc renders the toolspec-native input schema document for the
// named exec tool, matching files.InputSchemaDoc's shape and intended for
// the same registry-construction call site.
func InputSchemaDoc(name string) json.RawMessage {
	doc, ok := inputSchemas[name]
	if !ok {
		return json.RawMessage(`{"fields":{},"order":[]}`)
	}
	return doc
}

type schemaField struct {
	Type        string   `json:"type"`
	Required    bool     `json:"required,omitempty"`
	Enum        []string `json:"enum,omitempty"`
	Description string   `json:"description,omitempty"`
}

type schemaDoc struct {
	Order  []string               `json:"order"`
	Fields map[string]schemaField `json:"fields"`
}

func mustSchema(doc schemaDoc) json.RawMessage {
	payload, err := json.Marshal(doc)
	if err != nil {
		return json.RawMessage(`{"fields":{},"order":[]}`)
	}
	return payload
}

var inputSchemas = map[string]json.RawMessage{
	"system.exec": mustSchema(schemaDoc{
		Order: []string{"command", "cwd", "env", "input", "timeout_seconds", "background"},
		Fields: map[string]schemaField{
			"command":         {Type: "string", Required: true, Description: "Shell command to execute."},
			"cwd":             {Type: "string", Description: "Working directory, relative to the workspace."},
			"env":             {Type: "object", Description: "Environment overrides (string values)."},
			"input":           {Type: "string", Description: "Stdin content to pass to the command."},
			"timeout_seconds": {Type: "integer", Description: "Timeout in seconds (0 = no timeout)."},
			"background":      {Type: "boolean", Description: "Run in the background and return a process id instead of waiting."},
		},
	}),
	"system.exec_status": mustSchema(schemaDoc{
		Order: []string{"process_id"},
		Fields: map[string]schemaField{
			"process_id": {Type: "string", Required: true, Description: "Process id returned by a backgrounded system.exec call."},
		},
	}),
	"system.exec_kill": mustSchema(schemaDoc{
		Order: []string{"process_id"},
		Fields: map[string]schemaField{
			"process_id": {Type: "string", Required: true, Description: "Process id to terminate."},
		},
	}),
	"system.exec_list": mustSchema(schemaDoc{
		Order:  []string{},
		Fields: map[string]schemaField{},
	}),
	"system.exec_wait": mustSchema(schemaDoc{
		Order: []string{"process_id", "timeout_seconds"},
		Fields: map[string]schemaField{
			"process_id":      {Type: "string", Required: true, Description: "Process id to wait on."},
			"timeout_seconds": {Type: "integer", Description: "Maximum time to block before reporting the process's current state (0 = wait indefinitely)."},
		},
	}),
}
