// Package revert implements the inverse-operation engine (C5): given a
// PreExecutionState captured by auto-exec, undo the speculative write/edit
// while preserving any edits a user made outside the tool-touched region in
// the interim (spec.md P4, the soundness-modulo-concurrent-edits
// invariant).
package revert

import (
	"fmt"
	"os"
	"strings"

	"github.com/atlas2/coderagent/internal/fileops"
	"github.com/atlas2/coderagent/pkg/models"
)

// Outcome reports what reverting actually did, for the coder_file_revert
// event.
type Outcome struct {
	RevertedTo string // "deleted" | "restored"
	Content    string // set when RevertedTo == "restored"
}

// Revert undoes an auto-executed tool call given its captured
// PreExecutionState. resolver resolves WorkspacePath to an absolute path
// under the same workspace root auto-exec used.
func Revert(root string, state models.PreExecutionState) (Outcome, error) {
	resolver := fileops.Resolver{Root: root}
	resolved, err := resolver.Resolve(state.WorkspacePath)
	if err != nil {
		return Outcome{}, err
	}

	switch state.ToolName {
	case "file.write":
		return revertWrite(resolved, state)
	case "file.edit":
		return revertEdit(resolved, state)
	default:
		return Outcome{}, fmt.Errorf("no revert strategy for tool %s", state.ToolName)
	}
}

// revertWrite: if the file did not exist before, delete it (and any
// directories the write created, if they are now empty); if it existed,
// overwrite with the original content. This cannot preserve concurrent
// edits made to the same file by a process other than this auto-exec —
// spec.md's P4 only guarantees soundness for file.edit modes.
func revertWrite(resolved string, state models.PreExecutionState) (Outcome, error) {
	if state.OriginalContent == nil {
		if err := fileops.DeleteFile(resolved); err != nil {
			return Outcome{}, err
		}
		fileops.RemoveEmptyDirs(state.CreatedDirs)
		return Outcome{RevertedTo: "deleted"}, nil
	}
	if err := fileops.RestoreFile(resolved, *state.OriginalContent); err != nil {
		return Outcome{}, err
	}
	return Outcome{RevertedTo: "restored", Content: *state.OriginalContent}, nil
}

// revertEdit applies the inverse operation against the file's CURRENT
// content (not the stale original), so edits made outside the tool-touched
// region by a concurrent user are preserved (P4, P3 scenario). The mode is
// read exclusively from state.ResolvedParams — never a second, possibly
// divergent decode — per spec.md §9's single-source-of-truth fix.
func revertEdit(resolved string, state models.PreExecutionState) (Outcome, error) {
	params := paramLookup(state.ResolvedParams)
	mode := fileops.EditMode(params["edit_mode"])

	current, err := os.ReadFile(resolved)
	if err != nil {
		return Outcome{}, fmt.Errorf("read current content of %s: %w", state.WorkspacePath, err)
	}

	original := ""
	if state.OriginalContent != nil {
		original = *state.OriginalContent
	}

	switch mode {
	case fileops.EditLineRange:
		return revertLineRange(resolved, string(current), original, params)
	default:
		return revertFindReplace(resolved, string(current), original, params)
	}
}

// revertFindReplace inverts a find_replace edit by replacing NewText back
// to OldText in the CURRENT content. If the forward replacement text is no
// longer present (the user has since changed that exact region), falls
// back to a full restore of the original content, since there's nothing
// precise left to invert.
func revertFindReplace(resolved, current, original string, params map[string]string) (Outcome, error) {
	oldText := params["old_text"]
	newText := params["new_text"]
	replaceAll := params["replace_all"] == "true"

	if !strings.Contains(current, newText) {
		if err := fileops.RestoreFile(resolved, original); err != nil {
			return Outcome{}, err
		}
		return Outcome{RevertedTo: "restored", Content: original}, nil
	}

	var reverted string
	if replaceAll {
		reverted = strings.ReplaceAll(current, newText, oldText)
	} else {
		reverted = strings.Replace(current, newText, oldText, 1)
	}
	if err := fileops.RestoreFile(resolved, reverted); err != nil {
		return Outcome{}, err
	}
	return Outcome{RevertedTo: "restored", Content: reverted}, nil
}

// revertLineRange splices the original lines back into the current content
// at the region the forward edit's replacement now occupies, preserving
// edits before and after that range made by a concurrent user (P4).
func revertLineRange(resolved, current, original string, params map[string]string) (Outcome, error) {
	startLine := parseInt(params["start_line"], 1)
	endLine := parseInt(params["end_line"], startLine)
	replacementLines := strings.Split(params["new_content"], "\n")

	originalLines := strings.Split(original, "\n")
	if endLine > len(originalLines) {
		endLine = len(originalLines)
	}
	var restoreLines []string
	if startLine-1 <= endLine && startLine-1 < len(originalLines) {
		restoreLines = originalLines[startLine-1 : endLine]
	}

	// The forward edit occupies [startLine, startLine+len(replacementLines)-1]
	// in the current content; splice the original lines back into exactly
	// that span.
	replacedEnd := startLine + len(replacementLines) - 1
	reverted := fileops.SpliceLineRange(current, startLine, replacedEnd, restoreLines)

	if err := fileops.RestoreFile(resolved, reverted); err != nil {
		return Outcome{}, err
	}
	return Outcome{RevertedTo: "restored", Content: reverted}, nil
}

func parseInt(raw string, def int) int {
	var n int
	if _, err := fmt.Sscanf(strings.TrimSpace(raw), "%d", &n); err != nil {
		return def
	}
	return n
}

func paramLookup(entries []models.ParamEntry) map[string]string {
	m := make(map[string]string, len(entries))
	for _, e := range entries {
		m[e.Name] = e.Value.AsString()
	}
	return m
}
