// Package autoexec implements the speculative auto-execute engine (C4):
// file.write and file.edit calls are applied to disk the moment the
// streaming parser completes their <TOOL_CALL> block, before the user has
// approved them, so the UI can render the effect immediately. The first
// invocation for a given call-id captures a PreExecutionState; later
// invocations for the same call-id (the model may re-stream a call across
// multiple chunks in some providers) only merge newly created directories,
// never overwriting the original captured content.
package autoexec

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/atlas2/coderagent/internal/fileops"
	"github.com/atlas2/coderagent/internal/protocol"
	"github.com/atlas2/coderagent/pkg/models"
)

// DiffStats summarizes the delta between the original content and the
// content after an auto-executed operation.
type DiffStats struct {
	LinesAdded   int
	LinesRemoved int
	BytesAdded   int
	BytesRemoved int
}

// Result is what AutoExecute hands back to the streaming coupler/caller for
// UI rendering: the full pre-state (for later revert/proposal lookup),
// diff stats against the original, and a delta-vs-full decision for the UI
// payload.
type Result struct {
	State      models.PreExecutionState
	Diff       DiffStats
	UpdateType string // "delta" | "full"
	Delta      string // set when UpdateType == "delta": the appended tail
	Content    string // set when UpdateType == "full": the whole new content
}

// Engine tracks in-flight auto-executed calls for one task. It is not
// safe to share across tasks; each task owns its own Engine instance.
type Engine struct {
	root string
	mu   sync.Mutex
	// states holds the pre-execution state captured the first time each
	// call-id was auto-executed, keyed by call-id — the
	// `_auto_exec_initial_states` equivalent.
	states map[string]*models.PreExecutionState
	// lastSent is the delta-encoding cache keyed by "workspace:path",
	// holding the last content sent to the UI for that file so repeat
	// writes during one streamed call can be rendered as an appended tail
	// instead of a full re-send.
	lastSent map[string]string
}

// New constructs an Engine rooted at workspace.
func New(workspaceRoot string) *Engine {
	return &Engine{
		root:     workspaceRoot,
		states:   make(map[string]*models.PreExecutionState),
		lastSent: make(map[string]string),
	}
}

// AutoExecute implements protocol.AutoExecutor. iterIndex/toolIndex are
// accepted for interface parity with the coupler but the call-id already
// encodes them deterministically.
func (e *Engine) AutoExecute(ctx context.Context, iterIndex, toolIndex int, call protocol.RawToolCall, callID string) error {
	params := paramMap(call.Params)
	switch call.Tool {
	case "file.write":
		return e.autoWrite(callID, params)
	case "file.edit":
		return e.autoEdit(callID, params)
	default:
		return fmt.Errorf("tool %s is not auto-execute eligible", call.Tool)
	}
}

func paramMap(entries []protocol.RawParamEntry) map[string]string {
	m := make(map[string]string, len(entries))
	for _, e := range entries {
		m[e.Name] = e.Raw
	}
	return m
}

// Execute runs the auto-exec-eligible operation and returns the UI-facing
// Result, capturing or merging pre-execution state as appropriate. It is
// the entry point used directly by tests and by AutoExecute.
func (e *Engine) Execute(callID, tool string, params map[string]string) (Result, error) {
	switch tool {
	case "file.write":
		return e.autoWriteResult(callID, params)
	case "file.edit":
		return e.autoEditResult(callID, params)
	default:
		return Result{}, fmt.Errorf("tool %s is not auto-execute eligible", tool)
	}
}

func (e *Engine) autoWrite(callID string, params map[string]string) error {
	_, err := e.autoWriteResult(callID, params)
	return err
}

func (e *Engine) autoWriteResult(callID string, params map[string]string) (Result, error) {
	path := params["file_path"]
	content := params["content"]
	createDirs := parseBoolDefault(params["create_dirs"], true)
	overwrite := parseBoolDefault(params["overwrite"], true)

	wr, err := fileops.WriteFile(e.root, path, content, createDirs, overwrite)
	if err != nil {
		return Result{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	state, isNew := e.captureOrMerge(callID, "file.write", path, wr.Existed, wr.OriginalContent, wr.CreatedDirs, resolvedParams(params))
	_ = isNew

	key := e.root + ":" + path
	original := ""
	if state.OriginalContent != nil {
		original = *state.OriginalContent
	}
	diff := diffStats(original, content)

	result := Result{State: *state, Diff: diff}
	if last, ok := e.lastSent[key]; ok && strings.HasPrefix(content, last) {
		result.UpdateType = "delta"
		result.Delta = content[len(last):]
	} else {
		result.UpdateType = "full"
		result.Content = content
	}
	e.lastSent[key] = content
	return result, nil
}

func (e *Engine) autoEdit(callID string, params map[string]string) error {
	_, err := e.autoEditResult(callID, params)
	return err
}

func (e *Engine) autoEditResult(callID string, params map[string]string) (Result, error) {
	path := params["file_path"]
	mode := params["edit_mode"]

	var er fileops.EditResult
	var err error
	switch fileops.EditMode(mode) {
	case fileops.EditLineRange:
		er, err = fileops.ApplyLineRange(e.root, path, fileops.LineRangeParams{
			StartLine:  parseIntDefault(params["start_line"], 1),
			EndLine:    parseIntDefault(params["end_line"], 1),
			NewContent: params["new_content"],
		})
	default:
		er, err = fileops.ApplyFindReplace(e.root, path, fileops.FindReplaceParams{
			OldText:    params["old_text"],
			NewText:    params["new_text"],
			ReplaceAll: parseBoolDefault(params["replace_all"], false),
		})
	}
	if err != nil {
		return Result{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	state, _ := e.captureOrMerge(callID, "file.edit", path, true, er.OriginalContent, nil, resolvedParams(params))
	diff := diffStats(er.OriginalContent, er.NewContent)

	key := e.root + ":" + path
	result := Result{State: *state, Diff: diff, UpdateType: "full", Content: er.NewContent}
	e.lastSent[key] = er.NewContent
	return result, nil
}

// captureOrMerge records the pre-execution state the first time callID is
// seen; subsequent calls merge only newly created directories, per
// spec.md §4.3/§9's streaming call-id coupling discipline — the original
// before_content must never be overwritten by a later re-invocation.
func (e *Engine) captureOrMerge(callID, toolName, path string, existed bool, originalContent string, createdDirs []string, resolvedParams []models.ParamEntry) (*models.PreExecutionState, bool) {
	if existing, ok := e.states[callID]; ok {
		existing.CreatedDirs = mergeDirs(existing.CreatedDirs, createdDirs)
		return existing, false
	}
	var original *string
	if existed {
		c := originalContent
		original = &c
	}
	state := &models.PreExecutionState{
		ToolName:        toolName,
		WorkspacePath:   path,
		OriginalContent: original,
		ResolvedParams:  resolvedParams,
		CreatedDirs:     createdDirs,
	}
	e.states[callID] = state
	return state, true
}

// State returns the captured pre-execution state for callID, if any.
func (e *Engine) State(callID string) (*models.PreExecutionState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.states[callID]
	return s, ok
}

// Forget discards state for callID (after revert, or after the proposal
// has been accepted and recorded — there is no further need to retain it).
func (e *Engine) Forget(callID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.states, callID)
}

// CleanupFailedCreatedDirs removes directories created by a call that
// subsequently failed, mirroring the Python original's exception-cleanup
// behavior of removing created dirs and popping the initial state.
func (e *Engine) CleanupFailedCreatedDirs(callID string) {
	e.mu.Lock()
	state, ok := e.states[callID]
	delete(e.states, callID)
	e.mu.Unlock()
	if ok {
		fileops.RemoveEmptyDirs(state.CreatedDirs)
	}
}

func resolvedParams(params map[string]string) []models.ParamEntry {
	out := make([]models.ParamEntry, 0, len(params))
	for k, v := range params {
		out = append(out, models.ParamEntry{Name: k, Value: models.ParamValue{Kind: models.ParamString, Str: v}})
	}
	return out
}

func mergeDirs(existing, add []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, d := range existing {
		seen[d] = true
	}
	out := existing
	for _, d := range add {
		if !seen[d] {
			out = append(out, d)
			seen[d] = true
		}
	}
	return out
}

func diffStats(original, updated string) DiffStats {
	oLines := strings.Split(original, "\n")
	uLines := strings.Split(updated, "\n")
	stats := DiffStats{
		BytesAdded:   len(updated),
		BytesRemoved: len(original),
	}
	if len(uLines) > len(oLines) {
		stats.LinesAdded = len(uLines) - len(oLines)
	} else {
		stats.LinesRemoved = len(oLines) - len(uLines)
	}
	return stats
}

func parseBoolDefault(raw string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return def
	}
}

func parseIntDefault(raw string, def int) int {
	var n int
	if _, err := fmt.Sscanf(strings.TrimSpace(raw), "%d", &n); err != nil {
		return def
	}
	return n
}
