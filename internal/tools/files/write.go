package files

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/atlas2/coderagent/internal/toolspec"
)

// WriteTool implements file writes within a workspace. It is registered as
// the non-speculative fallback for file.write: the normal path is C4's
// auto-exec engine writing to disk before approval, with this executor only
// reached if a proposal slips through with PreExecuted == false.
type WriteTool struct {
	maxWriteLen int
}

// NewWriteTool creates a write tool with the given byte-limit default.
func NewWriteTool(cfg Config) *WriteTool {
	limit := cfg.MaxWriteBytes
	if limit <= 0 {
		limit = 5 << 20
	}
	return &WriteTool{maxWriteLen: limit}
}

// Execute writes file contents.
func (t *WriteTool) Execute(ctx context.Context, params json.RawMessage) (*toolspec.ExecResult, error) {
	_ = ctx
	var input struct {
		Workspace string `json:"__workspace"`
		Path      string `json:"path"`
		Content   string `json:"content"`
		Append    bool   `json:"append"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if strings.TrimSpace(input.Path) == "" {
		return toolError("path is required"), nil
	}
	if len(input.Content) > t.maxWriteLen {
		return toolError(fmt.Sprintf("content exceeds %d byte limit", t.maxWriteLen)), nil
	}

	resolver := Resolver{Root: input.Workspace}
	resolved, err := resolver.Resolve(input.Path)
	if err != nil {
		return toolError(err.Error()), nil
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return toolError(fmt.Sprintf("create directory: %v", err)), nil
	}

	flags := os.O_CREATE | os.O_WRONLY
	if input.Append {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	file, err := os.OpenFile(resolved, flags, 0o644)
	if err != nil {
		return toolError(fmt.Sprintf("open file: %v", err)), nil
	}
	defer file.Close()

	n, err := file.WriteString(input.Content)
	if err != nil {
		return toolError(fmt.Sprintf("write file: %v", err)), nil
	}

	result := map[string]interface{}{
		"path":          input.Path,
		"bytes_written": n,
		"append":        input.Append,
	}
	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return toolError(fmt.Sprintf("encode result: %v", err)), nil
	}

	return &toolspec.ExecResult{Content: string(payload)}, nil
}
