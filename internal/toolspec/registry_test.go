package toolspec

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/atlas2/coderagent/pkg/models"
)

type stubExecutor struct {
	result *ExecResult
	err    error
}

func (s *stubExecutor) Execute(ctx context.Context, params json.RawMessage) (*ExecResult, error) {
	return s.result, s.err
}

func schemaDoc(t *testing.T, fields map[string]Field, order []string) json.RawMessage {
	t.Helper()
	doc := struct {
		Fields map[string]Field `json:"fields"`
		Order  []string         `json:"order"`
	}{Fields: fields, Order: order}
	raw, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal schema doc: %v", err)
	}
	return raw
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := New(nil)
	spec := models.ToolSpec{
		Name:        "file.read",
		Version:     "1",
		Description: "read a file",
		Effects:     []models.EffectTag{models.EffectDisk},
		InputSchema: schemaDoc(t, map[string]Field{
			"path": {Type: FieldString, Required: true},
		}, []string{"path"}),
	}
	if err := r.Register(spec, &stubExecutor{}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if !r.Has("file.read") {
		t.Fatal("expected file.read to be registered")
	}
	entry, err := r.Get("file.read")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if entry.Spec.Name != "file.read" {
		t.Errorf("entry.Spec.Name = %q, want file.read", entry.Spec.Name)
	}
	if entry.Schema.FieldType("path") != FieldString {
		t.Errorf("FieldType(path) = %q, want string", entry.Schema.FieldType("path"))
	}
}

func TestRegistryGetUnknownTool(t *testing.T) {
	r := New(nil)
	_, err := r.Get("does.not.exist")
	if err == nil {
		t.Fatal("expected an error for an unregistered tool")
	}
	var unknown *ErrUnknownTool
	if !errorsAs(err, &unknown) {
		t.Fatalf("expected *ErrUnknownTool, got %T", err)
	}
	if unknown.Name != "does.not.exist" {
		t.Errorf("unknown.Name = %q, want does.not.exist", unknown.Name)
	}
}

func TestRegistryRegisterTwiceOverwrites(t *testing.T) {
	r := New(nil)
	spec := models.ToolSpec{Name: "file.write", InputSchema: schemaDoc(t, nil, nil)}
	if err := r.Register(spec, &stubExecutor{result: &ExecResult{Content: "first"}}); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if err := r.Register(spec, &stubExecutor{result: &ExecResult{Content: "second"}}); err != nil {
		t.Fatalf("second Register: %v", err)
	}
	entry, err := r.Get("file.write")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	exec := entry.Executor.(*stubExecutor)
	if exec.result.Content != "second" {
		t.Errorf("expected the second registration to win, got %q", exec.result.Content)
	}
}

func TestRegistryList(t *testing.T) {
	r := New(nil)
	for _, name := range []string{"a", "b", "c"} {
		if err := r.Register(models.ToolSpec{Name: name, InputSchema: schemaDoc(t, nil, nil)}, &stubExecutor{}); err != nil {
			t.Fatalf("Register(%s): %v", name, err)
		}
	}
	specs := r.List()
	if len(specs) != 3 {
		t.Fatalf("len(List()) = %d, want 3", len(specs))
	}
}

func TestEntryValidateParamsRequiredField(t *testing.T) {
	r := New(nil)
	spec := models.ToolSpec{
		Name: "file.write",
		InputSchema: schemaDoc(t, map[string]Field{
			"path":    {Type: FieldString, Required: true},
			"content": {Type: FieldString},
		}, []string{"path", "content"}),
	}
	if err := r.Register(spec, &stubExecutor{}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	entry, err := r.Get("file.write")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	if err := entry.ValidateParams(map[string]any{"path": "a.txt", "content": "hi"}); err != nil {
		t.Errorf("expected valid params to pass, got %v", err)
	}
	if err := entry.ValidateParams(map[string]any{"content": "hi"}); err == nil {
		t.Error("expected missing required field 'path' to fail validation")
	}
}

func TestEntryValidateParamsEnum(t *testing.T) {
	r := New(nil)
	spec := models.ToolSpec{
		Name: "plan.update",
		InputSchema: schemaDoc(t, map[string]Field{
			"status": {Type: FieldString, Enum: []string{"pending", "done"}, Required: true},
		}, []string{"status"}),
	}
	if err := r.Register(spec, &stubExecutor{}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	entry, err := r.Get("plan.update")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if err := entry.ValidateParams(map[string]any{"status": "done"}); err != nil {
		t.Errorf("expected enum member to validate, got %v", err)
	}
	if err := entry.ValidateParams(map[string]any{"status": "bogus"}); err == nil {
		t.Error("expected non-enum value to fail validation")
	}
}

// errorsAs is a tiny local wrapper so this file doesn't need the errors
// package just for one As call.
func errorsAs(err error, target **ErrUnknownTool) bool {
	u, ok := err.(*ErrUnknownTool)
	if !ok {
		return false
	}
	*target = u
	return true
}
