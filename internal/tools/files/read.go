// Package files adapts the workspace's filesystem tools (file.read,
// file.write, file.edit, file.patch) and the execution-plan tools
// (plan.write, plan.update) into toolspec.Executor, the shape the approval
// gate (C8) invokes. file.write and file.edit are normally applied
// speculatively by the auto-exec engine (C4) before a decision ever reaches
// here; these executors are the non-speculative fallback path, exercised
// whenever a proposal arrives with PreExecuted == false.
//
// Every executor expects the reserved WorkspaceParam key in its input,
// carrying the task's workspace root. The approval gate injects it before
// marshaling a proposal's params (see approval.Gate.executeOne), since the
// registry the executors are registered into is shared process-wide across
// every task's workspace.
package files

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/atlas2/coderagent/internal/toolspec"
)

// WorkspaceParam is the reserved input field carrying a task's workspace
// root. It never appears in a tool's declared InputSchema or prompt
// rendering; the approval gate injects it at call time.
const WorkspaceParam = "__workspace"

// Config controls filesystem tool defaults.
type Config struct {
	MaxReadBytes  int
	MaxWriteBytes int
}

// ReadTool implements a safe file reader scoped to whichever workspace a
// call's params carry.
type ReadTool struct {
	maxReadLen int
}

// NewReadTool creates a read tool with the given byte-limit defaults.
func NewReadTool(cfg Config) *ReadTool {
	limit := cfg.MaxReadBytes
	if limit <= 0 {
		limit = 200000
	}
	return &ReadTool{maxReadLen: limit}
}

// Execute reads a file with safety limits.
func (t *ReadTool) Execute(ctx context.Context, params json.RawMessage) (*toolspec.ExecResult, error) {
	_ = ctx
	var input struct {
		Workspace string `json:"__workspace"`
		Path      string `json:"path"`
		Offset    int64  `json:"offset"`
		MaxBytes  int    `json:"max_bytes"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if strings.TrimSpace(input.Path) == "" {
		return toolError("path is required"), nil
	}
	if input.Offset < 0 {
		return toolError("offset must be >= 0"), nil
	}

	resolver := Resolver{Root: input.Workspace}
	resolved, err := resolver.Resolve(input.Path)
	if err != nil {
		return toolError(err.Error()), nil
	}

	file, err := os.Open(resolved)
	if err != nil {
		return toolError(fmt.Sprintf("open file: %v", err)), nil
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return toolError(fmt.Sprintf("stat file: %v", err)), nil
	}

	if input.Offset > 0 {
		if _, err := file.Seek(input.Offset, io.SeekStart); err != nil {
			return toolError(fmt.Sprintf("seek file: %v", err)), nil
		}
	}

	limit := t.maxReadLen
	if input.MaxBytes > 0 && input.MaxBytes < limit {
		limit = input.MaxBytes
	}

	remaining := int64(limit)
	if size := info.Size(); size > 0 {
		remaining = size - input.Offset
		if remaining < 0 {
			remaining = 0
		}
		if remaining > int64(limit) {
			remaining = int64(limit)
		}
	}

	buf, err := io.ReadAll(io.LimitReader(file, remaining))
	if err != nil {
		return toolError(fmt.Sprintf("read file: %v", err)), nil
	}

	truncated := info.Size() > 0 && input.Offset+int64(len(buf)) < info.Size()

	result := map[string]interface{}{
		"path":      input.Path,
		"content":   string(buf),
		"offset":    input.Offset,
		"bytes":     len(buf),
		"truncated": truncated,
	}
	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return toolError(fmt.Sprintf("encode result: %v", err)), nil
	}

	return &toolspec.ExecResult{Content: string(payload)}, nil
}

func toolError(message string) *toolspec.ExecResult {
	payload, err := json.Marshal(map[string]string{"error": message})
	if err != nil {
		return &toolspec.ExecResult{Content: message, IsError: true}
	}
	return &toolspec.ExecResult{Content: string(payload), IsError: true}
}

// InputSchemaDoc renders the toolspec-native `{"fields": ..., "order":
// ...}` input schema document the registry expects for the named core
// tool. Unknown names return an empty schema.
func InputSchemaDoc(name string) json.RawMessage {
	doc, ok := inputSchemas[name]
	if !ok {
		return json.RawMessage(`{"fields":{},"order":[]}`)
	}
	return doc
}

var inputSchemas = map[string]json.RawMessage{
	"file.read": mustSchema(schemaDoc{
		Order: []string{"path", "offset", "max_bytes"},
		Fields: map[string]schemaField{
			"path":      {Type: "string", Required: true, Description: "Path to the file, relative to the workspace."},
			"offset":    {Type: "integer", Description: "Byte offset to start reading from (default 0)."},
			"max_bytes": {Type: "integer", Description: "Maximum bytes to read, capped by the tool's own limit."},
		},
	}),
	"file.write": mustSchema(schemaDoc{
		Order: []string{"path", "content", "append"},
		Fields: map[string]schemaField{
			"path":    {Type: "string", Required: true, Description: "Path to write, relative to the workspace."},
			"content": {Type: "string", Required: true, Description: "File contents to write."},
			"append":  {Type: "boolean", Description: "Append instead of overwrite (default false)."},
		},
	}),
	"file.edit": mustSchema(schemaDoc{
		Order: []string{"path", "edits"},
		Fields: map[string]schemaField{
			"path":  {Type: "string", Required: true, Description: "Path to edit, relative to the workspace."},
			"edits": {Type: "array", Required: true, Description: "List of {old_text, new_text, replace_all} edits."},
		},
	}),
	"file.patch": mustSchema(schemaDoc{
		Order: []string{"patch"},
		Fields: map[string]schemaField{
			"patch": {Type: "string", Required: true, Description: "Unified diff with ---/+++ headers."},
		},
	}),
	"plan.write": mustSchema(schemaDoc{
		Order: []string{"task_description", "steps"},
		Fields: map[string]schemaField{
			"task_description": {Type: "string", Required: true, Description: "One-line summary of the overall task."},
			"steps":            {Type: "array", Required: true, Description: "Ordered list of {step_id, description} plan steps."},
		},
	}),
	"plan.update": mustSchema(schemaDoc{
		Order: []string{"updates"},
		Fields: map[string]schemaField{
			"updates": {Type: "object", Required: true, Description: "Delta to apply: {task_description?, add_steps?, update_steps?, remove_steps?}."},
		},
	}),
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
