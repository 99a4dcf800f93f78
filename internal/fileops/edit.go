package fileops

import (
	"fmt"
	"os"
	"strings"
)

// EditMode selects one of the two file.edit strategies (spec.md §6,
// §9's single-source-of-truth fix: the mode always comes from the
// resolved Params, never a separately-decoded copy).
type EditMode string

const (
	EditFindReplace EditMode = "find_replace"
	EditLineRange   EditMode = "line_range"
)

// EditResult mirrors WriteResult: enough information for both the tool's
// output payload and PreExecutionState capture.
type EditResult struct {
	ResolvedPath    string
	OriginalContent string
	NewContent      string
	CreatedDirs     []string
	Replacements    int
}

// FindReplaceParams is file.edit's find_replace mode input.
type FindReplaceParams struct {
	OldText    string
	NewText    string
	ReplaceAll bool
}

// ApplyFindReplace implements file.edit/find_replace: replace the first
// occurrence of OldText with NewText, or all occurrences if ReplaceAll.
func ApplyFindReplace(root, path string, p FindReplaceParams) (EditResult, error) {
	resolver := Resolver{Root: root}
	resolved, err := resolver.Resolve(path)
	if err != nil {
		return EditResult{}, err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return EditResult{}, fmt.Errorf("read %s: %w", path, err)
	}
	original := string(data)
	if !strings.Contains(original, p.OldText) {
		return EditResult{ResolvedPath: resolved, OriginalContent: original},
			fmt.Errorf("old_text not found in %s", path)
	}
	var updated string
	count := 0
	if p.ReplaceAll {
		count = strings.Count(original, p.OldText)
		updated = strings.ReplaceAll(original, p.OldText, p.NewText)
	} else {
		updated = strings.Replace(original, p.OldText, p.NewText, 1)
		count = 1
	}
	if err := os.WriteFile(resolved, []byte(updated), 0o644); err != nil {
		return EditResult{}, fmt.Errorf("write %s: %w", path, err)
	}
	return EditResult{
		ResolvedPath:    resolved,
		OriginalContent: original,
		NewContent:      updated,
		Replacements:    count,
	}, nil
}

// LineRangeParams is file.edit's line_range mode input. Lines are
// 1-indexed and inclusive, matching how models reason about editor line
// numbers.
type LineRangeParams struct {
	StartLine  int
	EndLine    int
	NewContent string
}

// ApplyLineRange implements file.edit/line_range: splice NewContent's lines
// into [StartLine, EndLine] of the current file content.
func ApplyLineRange(root, path string, p LineRangeParams) (EditResult, error) {
	resolver := Resolver{Root: root}
	resolved, err := resolver.Resolve(path)
	if err != nil {
		return EditResult{}, err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return EditResult{}, fmt.Errorf("read %s: %w", path, err)
	}
	original := string(data)
	lines := splitLines(original)
	if p.StartLine < 1 || p.EndLine < p.StartLine || p.StartLine > len(lines)+1 {
		return EditResult{ResolvedPath: resolved, OriginalContent: original},
			fmt.Errorf("invalid line range [%d,%d] for %d lines", p.StartLine, p.EndLine, len(lines))
	}
	endLine := p.EndLine
	if endLine > len(lines) {
		endLine = len(lines)
	}
	replacement := splitLines(p.NewContent)
	updatedLines := append(append(append([]string{}, lines[:p.StartLine-1]...), replacement...), lines[endLine:]...)
	updated := strings.Join(updatedLines, "\n")
	if err := os.WriteFile(resolved, []byte(updated), 0o644); err != nil {
		return EditResult{}, fmt.Errorf("write %s: %w", path, err)
	}
	return EditResult{
		ResolvedPath:    resolved,
		OriginalContent: original,
		NewContent:      updated,
	}, nil
}

// SpliceLineRange replays ApplyLineRange's splice against an arbitrary
// "current" content rather than re-reading the file, used by the revert
// engine to restore original lines while preserving edits made outside the
// touched range by a concurrent user edit (spec.md P4).
func SpliceLineRange(currentContent string, startLine, endLine int, newLines []string) string {
	lines := splitLines(currentContent)
	if startLine < 1 {
		startLine = 1
	}
	if endLine > len(lines) {
		endLine = len(lines)
	}
	if endLine < startLine-1 {
		endLine = startLine - 1
	}
	out := append(append(append([]string{}, lines[:startLine-1]...), newLines...), lines[endLine:]...)
	return strings.Join(out, "\n")
}

func splitLines(s string) []string {
	if s == "" {
		return []string{""}
	}
	return strings.Split(s, "\n")
}
