package revert

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/atlas2/coderagent/pkg/models"
)

func strPtr(s string) *string { return &s }

func TestRevertWriteDeletesNewlyCreatedFile(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "new.txt")
	if err := os.WriteFile(path, []byte("speculative content"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	state := models.PreExecutionState{
		ToolName:        "file.write",
		WorkspacePath:   "new.txt",
		OriginalContent: nil,
	}
	outcome, err := Revert(root, state)
	if err != nil {
		t.Fatalf("Revert: %v", err)
	}
	if outcome.RevertedTo != "deleted" {
		t.Errorf("RevertedTo = %q, want deleted", outcome.RevertedTo)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("expected the file to no longer exist after revert")
	}
}

func TestRevertWriteRestoresExistingFile(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "existing.txt")
	if err := os.WriteFile(path, []byte("overwritten content"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	state := models.PreExecutionState{
		ToolName:        "file.write",
		WorkspacePath:   "existing.txt",
		OriginalContent: strPtr("original content"),
	}
	outcome, err := Revert(root, state)
	if err != nil {
		t.Fatalf("Revert: %v", err)
	}
	if outcome.RevertedTo != "restored" {
		t.Errorf("RevertedTo = %q, want restored", outcome.RevertedTo)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(got) != "original content" {
		t.Errorf("file content = %q, want %q", got, "original content")
	}
}

func TestRevertFindReplaceInvertsAgainstCurrentContent(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "f.go")
	// The current content has a concurrent edit appended after the
	// auto-exec'd change (the "new" token).
	if err := os.WriteFile(path, []byte("package main\nfunc new() {}\n// added by user\n"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	state := models.PreExecutionState{
		ToolName:        "file.edit",
		WorkspacePath:   "f.go",
		OriginalContent: strPtr("package main\nfunc old() {}\n"),
		ResolvedParams: []models.ParamEntry{
			{Name: "edit_mode", Value: models.ParamValue{Kind: models.ParamString, Str: "find_replace"}},
			{Name: "old_text", Value: models.ParamValue{Kind: models.ParamString, Str: "old"}},
			{Name: "new_text", Value: models.ParamValue{Kind: models.ParamString, Str: "new"}},
			{Name: "replace_all", Value: models.ParamValue{Kind: models.ParamString, Str: "false"}},
		},
	}
	outcome, err := Revert(root, state)
	if err != nil {
		t.Fatalf("Revert: %v", err)
	}
	if outcome.RevertedTo != "restored" {
		t.Errorf("RevertedTo = %q, want restored", outcome.RevertedTo)
	}
	// The concurrent user comment must survive the revert.
	if got := outcome.Content; got != "package main\nfunc old() {}\n// added by user\n" {
		t.Errorf("reverted content = %q", got)
	}
}

func TestRevertFindReplaceFallsBackWhenForwardTextGone(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "f.go")
	// The user has since changed the exact region the forward edit touched,
	// so there is nothing precise left to invert.
	if err := os.WriteFile(path, []byte("completely different content now"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	state := models.PreExecutionState{
		ToolName:        "file.edit",
		WorkspacePath:   "f.go",
		OriginalContent: strPtr("original"),
		ResolvedParams: []models.ParamEntry{
			{Name: "edit_mode", Value: models.ParamValue{Kind: models.ParamString, Str: "find_replace"}},
			{Name: "old_text", Value: models.ParamValue{Kind: models.ParamString, Str: "old"}},
			{Name: "new_text", Value: models.ParamValue{Kind: models.ParamString, Str: "new"}},
		},
	}
	outcome, err := Revert(root, state)
	if err != nil {
		t.Fatalf("Revert: %v", err)
	}
	if outcome.Content != "original" {
		t.Errorf("expected a full fallback restore to %q, got %q", "original", outcome.Content)
	}
}

func TestRevertUnknownToolErrors(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "f.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	state := models.PreExecutionState{ToolName: "system.exec", WorkspacePath: "f.txt"}
	if _, err := Revert(root, state); err == nil {
		t.Error("expected an error for a tool with no revert strategy")
	}
}
