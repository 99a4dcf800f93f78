package autoexec

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/atlas2/coderagent/internal/protocol"
)

func TestEngineAutoWriteCapturesPreExecutionState(t *testing.T) {
	root := t.TempDir()
	existingPath := filepath.Join(root, "existing.txt")
	if err := os.WriteFile(existingPath, []byte("original content"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	e := New(root)
	result, err := e.Execute("call1", "file.write", map[string]string{
		"file_path": "existing.txt",
		"content":   "new content",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.State.OriginalContent == nil || *result.State.OriginalContent != "original content" {
		t.Errorf("OriginalContent = %v, want %q", result.State.OriginalContent, "original content")
	}
	got, err := os.ReadFile(existingPath)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(got) != "new content" {
		t.Errorf("file content = %q, want %q", got, "new content")
	}
}

func TestEngineAutoWriteNewFileHasNilOriginalContent(t *testing.T) {
	root := t.TempDir()
	e := New(root)
	result, err := e.Execute("call1", "file.write", map[string]string{
		"file_path": "new.txt",
		"content":   "hello",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.State.OriginalContent != nil {
		t.Errorf("expected nil OriginalContent for a newly created file, got %v", *result.State.OriginalContent)
	}
}

func TestEngineCaptureOrMergeKeepsFirstOriginalContent(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "f.txt")
	if err := os.WriteFile(path, []byte("v0"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	e := New(root)

	if _, err := e.Execute("call1", "file.write", map[string]string{"file_path": "f.txt", "content": "v1"}); err != nil {
		t.Fatalf("first Execute: %v", err)
	}
	// A second auto-exec under the SAME call-id (the model re-streamed the
	// call) must not overwrite the originally captured pre-state.
	result, err := e.Execute("call1", "file.write", map[string]string{"file_path": "f.txt", "content": "v2"})
	if err != nil {
		t.Fatalf("second Execute: %v", err)
	}
	if result.State.OriginalContent == nil || *result.State.OriginalContent != "v0" {
		t.Errorf("OriginalContent after repeat call = %v, want %q (the original)", result.State.OriginalContent, "v0")
	}
}

func TestEngineAutoEditFindReplace(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "f.go")
	if err := os.WriteFile(path, []byte("package main\nfunc old() {}\n"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	e := New(root)
	result, err := e.Execute("call1", "file.edit", map[string]string{
		"file_path": "f.go",
		"old_text":  "old",
		"new_text":  "new",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.State.OriginalContent == nil {
		t.Fatal("expected a captured OriginalContent for file.edit")
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(got) != "package main\nfunc new() {}\n" {
		t.Errorf("file content = %q", got)
	}
}

func TestEngineExecuteUnknownToolErrors(t *testing.T) {
	e := New(t.TempDir())
	if _, err := e.Execute("call1", "system.exec", nil); err == nil {
		t.Error("expected an error for a non-auto-exec-eligible tool")
	}
}

func TestEngineStateAndForget(t *testing.T) {
	root := t.TempDir()
	e := New(root)
	if _, err := e.Execute("call1", "file.write", map[string]string{"file_path": "x.txt", "content": "hi"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if _, ok := e.State("call1"); !ok {
		t.Fatal("expected State(call1) to be present after Execute")
	}
	e.Forget("call1")
	if _, ok := e.State("call1"); ok {
		t.Fatal("expected State(call1) to be gone after Forget")
	}
}

func TestAutoExecuteDispatchesThroughProtocolInterface(t *testing.T) {
	root := t.TempDir()
	e := New(root)
	call := protocol.RawToolCall{
		Tool: "file.write",
		Params: []protocol.RawParamEntry{
			{Name: "file_path", Raw: "a.txt"},
			{Name: "content", Raw: "hi"},
		},
	}
	if err := e.AutoExecute(context.Background(), 0, 0, call, "auto_exec_iter0_tool0"); err != nil {
		t.Fatalf("AutoExecute: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(root, "a.txt"))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(got) != "hi" {
		t.Errorf("file content = %q, want hi", got)
	}
}
