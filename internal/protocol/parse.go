package protocol

import (
	"regexp"
	"strings"
	"time"

	"github.com/atlas2/coderagent/internal/toolspec"
	"github.com/atlas2/coderagent/pkg/models"
)

// Status is the agent's self-reported lifecycle signal for one response.
type Status string

const (
	StatusAwaitTool   Status = "AWAIT_TOOL"
	StatusComplete    Status = "COMPLETE"
	StatusParseError  Status = "PARSE_ERROR"
)

var (
	messageRe     = regexp.MustCompile(`(?is)<MESSAGE>(.*?)</MESSAGE>`)
	toolCallRe    = regexp.MustCompile(`(?is)<TOOL_CALL>(.*?)</TOOL_CALL>`)
	toolNameRe    = regexp.MustCompile(`(?is)<TOOL>(.*?)</TOOL>`)
	reasonRe      = regexp.MustCompile(`(?is)<REASON>(.*?)</REASON>`)
	paramRe       = regexp.MustCompile(`(?is)<PARAM\s+name\s*=\s*"([^"]*)"\s*>(.*?)</PARAM>`)
	statusRe      = regexp.MustCompile(`(?is)<AGENT_STATUS>(.*?)</AGENT_STATUS>`)
	codeSpecRe    = regexp.MustCompile(`(?is)<CODE_SPEC>(.*?)</CODE_SPEC>`)
	firstTagRe    = regexp.MustCompile(`(?is)<[A-Za-z_][\w.-]*[^>]*>`)
)

// RawParamEntry is an ordered, not-yet-coerced <PARAM> extraction.
type RawParamEntry struct {
	Name string
	Raw  string
}

// RawToolCall is an extracted <TOOL_CALL> block before schema-driven
// coercion is applied (coercion needs the registry, which this package
// doesn't depend on, so it happens one layer up in the tool registration
// caller).
type RawToolCall struct {
	Tool   string
	Reason string
	Params []RawParamEntry
}

// ParseResult is C2's output: `{message, status, tool_calls[], raw,
// format_valid}` per spec.md §4.2.
type ParseResult struct {
	Message     string
	Status      Status
	ToolCalls   []RawToolCall
	CodeSpec    string
	HasCodeSpec bool
	Raw         string
	FormatValid bool
	Err         *ParseError
}

// Parse extracts the tagged-text protocol fields out of a complete model
// response. It never returns a Go error: malformed input is reported via
// ParseResult.Err so the caller can drive a corrective iteration (spec.md
// §7's propagation policy — parser errors never escape as exceptions).
func Parse(response string) ParseResult {
	result := ParseResult{Raw: response, FormatValid: true}

	if m := messageRe.FindStringSubmatch(response); m != nil {
		result.Message = strings.TrimSpace(m[1])
	} else if loc := firstTagRe.FindStringIndex(response); loc != nil {
		result.Message = strings.TrimSpace(response[:loc[0]])
	} else {
		result.Message = strings.TrimSpace(response)
	}

	for _, m := range toolCallRe.FindAllStringSubmatch(response, -1) {
		result.ToolCalls = append(result.ToolCalls, parseToolCallBlock(m[1]))
	}

	explicitStatus := false
	if m := statusRe.FindStringSubmatch(response); m != nil {
		result.Status = Status(strings.ToUpper(strings.TrimSpace(m[1])))
		explicitStatus = true
	}

	if m := codeSpecRe.FindStringSubmatch(response); m != nil {
		result.CodeSpec = strings.TrimSpace(m[1])
		result.HasCodeSpec = true
	}

	if !explicitStatus {
		if len(result.ToolCalls) > 0 {
			result.Status = StatusAwaitTool
		} else {
			result.Status = StatusParseError
			result.FormatValid = false
			result.Err = newFormatError("no <AGENT_STATUS> and no tool calls extracted")
			return result
		}
	}

	// Tool-call tag well-formedness: AWAIT_TOOL with zero extracted calls is
	// a parse_error distinct from format_error (spec.md §4.2).
	if result.Status == StatusAwaitTool && len(result.ToolCalls) == 0 {
		result.FormatValid = false
		result.Err = newParseError("AGENT_STATUS=AWAIT_TOOL but no <TOOL_CALL> blocks were extracted (check for a closing-tag typo)")
		return result
	}

	return result
}

func parseToolCallBlock(block string) RawToolCall {
	call := RawToolCall{}
	if m := toolNameRe.FindStringSubmatch(block); m != nil {
		call.Tool = strings.TrimSpace(m[1])
	}
	if m := reasonRe.FindStringSubmatch(block); m != nil {
		call.Reason = strings.TrimSpace(m[1])
	}
	for _, m := range paramRe.FindAllStringSubmatch(block, -1) {
		call.Params = append(call.Params, RawParamEntry{Name: m[1], Raw: m[2]})
	}
	return call
}

// Materialize coerces a RawToolCall's parameters against the registry
// schema for its tool name, producing a ToolCallProposal. The caller
// supplies callID (deterministic for auto-exec-eligible tools, random
// otherwise — see Coupler) and now for the creation timestamp.
func Materialize(reg *toolspec.Registry, call RawToolCall, callID string, now time.Time) (models.ToolCallProposal, error) {
	entry, err := reg.Get(call.Tool)
	if err != nil {
		return models.ToolCallProposal{}, err
	}
	params := make([]models.ParamEntry, 0, len(call.Params))
	for _, p := range call.Params {
		field := entry.Schema.Fields[p.Name]
		v, cerr := Coerce(field, p.Raw)
		if cerr != nil {
			if pe, ok := cerr.(*ParseError); ok {
				pe.Param = p.Name
			}
			return models.ToolCallProposal{}, cerr
		}
		params = append(params, models.ParamEntry{Name: p.Name, Value: v})
	}
	if err := entry.ValidateParams(paramsToJSONDoc(params)); err != nil {
		return models.ToolCallProposal{}, newTypeError("", "%s", err.Error())
	}
	return models.ToolCallProposal{
		CallID:              callID,
		ToolName:            call.Tool,
		Params:              params,
		Reason:              call.Reason,
		CreatedAt:           now,
		DescriptionSnapshot: entry.Spec.Description,
	}, nil
}
