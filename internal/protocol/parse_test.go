package protocol

import "testing"

func TestParseCompleteMessage(t *testing.T) {
	resp := `<MESSAGE>All done.</MESSAGE><AGENT_STATUS>COMPLETE</AGENT_STATUS>`
	r := Parse(resp)
	if !r.FormatValid {
		t.Fatalf("expected format_valid, got error %v", r.Err)
	}
	if r.Status != StatusComplete {
		t.Errorf("Status = %q, want COMPLETE", r.Status)
	}
	if r.Message != "All done." {
		t.Errorf("Message = %q, want %q", r.Message, "All done.")
	}
	if len(r.ToolCalls) != 0 {
		t.Errorf("expected no tool calls, got %d", len(r.ToolCalls))
	}
}

func TestParseAwaitToolWithToolCall(t *testing.T) {
	resp := `<MESSAGE>Writing the file now.</MESSAGE>
<TOOL_CALL>
<TOOL>file.write</TOOL>
<REASON>create the readme</REASON>
<PARAM name="path">README.md</PARAM>
<PARAM name="content">hello</PARAM>
</TOOL_CALL>
<AGENT_STATUS>AWAIT_TOOL</AGENT_STATUS>`
	r := Parse(resp)
	if !r.FormatValid {
		t.Fatalf("expected format_valid, got error %v", r.Err)
	}
	if r.Status != StatusAwaitTool {
		t.Errorf("Status = %q, want AWAIT_TOOL", r.Status)
	}
	if len(r.ToolCalls) != 1 {
		t.Fatalf("len(ToolCalls) = %d, want 1", len(r.ToolCalls))
	}
	call := r.ToolCalls[0]
	if call.Tool != "file.write" {
		t.Errorf("Tool = %q, want file.write", call.Tool)
	}
	if call.Reason != "create the readme" {
		t.Errorf("Reason = %q, want %q", call.Reason, "create the readme")
	}
	if len(call.Params) != 2 || call.Params[0].Name != "path" || call.Params[1].Name != "content" {
		t.Errorf("Params = %+v, want [path content] in order", call.Params)
	}
}

func TestParseImplicitStatusFromToolCalls(t *testing.T) {
	resp := `<TOOL_CALL><TOOL>file.read</TOOL><PARAM name="path">a.go</PARAM></TOOL_CALL>`
	r := Parse(resp)
	if !r.FormatValid {
		t.Fatalf("expected format_valid, got error %v", r.Err)
	}
	if r.Status != StatusAwaitTool {
		t.Errorf("Status = %q, want AWAIT_TOOL (implicit)", r.Status)
	}
}

func TestParseNoStatusNoToolCallsIsFormatError(t *testing.T) {
	r := Parse(`<MESSAGE>just rambling, no status tag</MESSAGE>`)
	if r.FormatValid {
		t.Fatal("expected format_valid = false")
	}
	if r.Err == nil || r.Err.Kind != KindFormatError {
		t.Fatalf("expected KindFormatError, got %v", r.Err)
	}
}

func TestParseAwaitToolWithNoExtractedCallsIsParseError(t *testing.T) {
	r := Parse(`<AGENT_STATUS>AWAIT_TOOL</AGENT_STATUS>`)
	if r.FormatValid {
		t.Fatal("expected format_valid = false")
	}
	if r.Err == nil || r.Err.Kind != KindParseError {
		t.Fatalf("expected KindParseError, got %v", r.Err)
	}
}

func TestParseMessageFallsBackToTextBeforeFirstTag(t *testing.T) {
	r := Parse(`Just plain text before <AGENT_STATUS>COMPLETE</AGENT_STATUS>`)
	if r.Message != "Just plain text before" {
		t.Errorf("Message = %q, want %q", r.Message, "Just plain text before")
	}
}

func TestParseCodeSpec(t *testing.T) {
	resp := `<CODE_SPEC>func main() {}</CODE_SPEC><AGENT_STATUS>COMPLETE</AGENT_STATUS>`
	r := Parse(resp)
	if !r.HasCodeSpec {
		t.Fatal("expected HasCodeSpec = true")
	}
	if r.CodeSpec != "func main() {}" {
		t.Errorf("CodeSpec = %q", r.CodeSpec)
	}
}
