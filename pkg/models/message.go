package models

import (
	"encoding/json"
	"time"
)

// Role indicates the message author type, matching spec.md §6's persisted
// chat-history shape `{role, content, attachedFiles?}`.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Message is one entry in a task's chat history, owned by the external
// persistence layer per spec.md §6; the engine only ever appends to it
// through the external message pipeline, never writes to it directly.
type Message struct {
	ID            string         `json:"id"`
	ChatID        string         `json:"chat_id"`
	Role          Role           `json:"role"`
	Content       string         `json:"content"`
	AttachedFiles []Attachment   `json:"attached_files,omitempty"`
	ToolCalls     []ToolCall     `json:"tool_calls,omitempty"`
	ToolResults   []ToolResult   `json:"tool_results,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// Attachment represents a file attached to a user request (the
// file-attachment lifecycle itself is out of scope per spec.md §1; this is
// just the shape the engine reads attachments through).
type Attachment struct {
	ID       string `json:"id"`
	Path     string `json:"path"`
	MimeType string `json:"mime_type,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// ToolCall represents an LLM's request to execute a tool, as materialized
// from a parsed <TOOL_CALL> block (see internal/protocol).
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult represents the output of a tool execution attached to a
// ToolCall for history rendering.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}
