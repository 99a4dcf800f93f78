package protocol

import (
	"testing"

	"github.com/atlas2/coderagent/pkg/models"
)

func TestParseNestedTagsArray(t *testing.T) {
	v, ok := parseNestedTags(`<item>one</item><item>two</item><item>three</item>`)
	if !ok {
		t.Fatal("expected ok = true")
	}
	if v.Kind != models.ParamArray || len(v.Array) != 3 {
		t.Fatalf("got %+v, want a 3-element array", v)
	}
	if v.Array[1].Str != "two" {
		t.Errorf("Array[1] = %q, want two", v.Array[1].Str)
	}
}

func TestParseNestedTagsObject(t *testing.T) {
	v, ok := parseNestedTags(`<task_description>add auth</task_description><add_steps><item>write tests</item></add_steps>`)
	if !ok {
		t.Fatal("expected ok = true")
	}
	if v.Kind != models.ParamObject {
		t.Fatalf("Kind = %v, want ParamObject", v.Kind)
	}
	if v.Object["task_description"].Str != "add auth" {
		t.Errorf("task_description = %q", v.Object["task_description"].Str)
	}
	steps := v.Object["add_steps"]
	if steps.Kind != models.ParamArray || len(steps.Array) != 1 || steps.Array[0].Str != "write tests" {
		t.Errorf("add_steps = %+v, want a 1-element array [write tests]", steps)
	}
}

func TestParseNestedTagsSingleItemScalar(t *testing.T) {
	v, ok := parseNestedTags(`<item>just one</item>`)
	if !ok {
		t.Fatal("expected ok = true")
	}
	if v.Kind != models.ParamString || v.Str != "just one" {
		t.Errorf("got %+v, want string 'just one'", v)
	}
}

func TestParseNestedTagsNoChildTagsFalls(t *testing.T) {
	_, ok := parseNestedTags("plain text, no tags here")
	if ok {
		t.Fatal("expected ok = false for text with no child tags")
	}
}

func TestTopLevelChildrenSkipsNestedSameName(t *testing.T) {
	children := topLevelChildren(`<item><item>inner</item></item>`)
	if len(children) != 1 {
		t.Fatalf("len(children) = %d, want 1 (outer item only)", len(children))
	}
	if children[0].inner != "<item>inner</item>" {
		t.Errorf("children[0].inner = %q", children[0].inner)
	}
}
