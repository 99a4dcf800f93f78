package protocol

import (
	"context"
	"fmt"
	"strings"
)

// AutoExecAllowlist is the fixed set of tools eligible for speculative
// execution during streaming (spec.md §4.3). It is a build-time constant,
// not configuration — widening it changes C4/C5's revert guarantees.
var AutoExecAllowlist = map[string]bool{
	"file.write": true,
	"file.edit":  true,
}

// StreamAction identifies the kind of UI event the coupler emits while
// scanning the answer channel.
type StreamAction string

const (
	ActionAppend   StreamAction = "append"
	ActionField    StreamAction = "field"
	ActionParam    StreamAction = "param"
	ActionComplete StreamAction = "complete"
)

// StreamSegment identifies which part of the protocol an event belongs to.
type StreamSegment string

const (
	SegmentMessage  StreamSegment = "message"
	SegmentToolCall StreamSegment = "tool_call"
)

// StreamEvent is one UI-facing event emitted by the Coupler while scanning
// the incremental answer stream.
type StreamEvent struct {
	Segment StreamSegment
	Action  StreamAction
	Field   string // set for ActionField ("TOOL" | "REASON")
	Name    string // set for ActionParam
	Value   string // set for ActionAppend / ActionParam
	CallID  string // set for ActionComplete
}

// AutoExecutor is the callback the Coupler invokes synchronously when a
// completed <TOOL_CALL> names an auto-exec-eligible tool. Implemented by
// internal/autoexec; kept as an interface here so protocol has no import
// cycle onto the auto-exec engine.
type AutoExecutor interface {
	AutoExecute(ctx context.Context, iterIndex, toolIndex int, call RawToolCall, callID string) error
}

// Coupler incrementally scans the `answer` half of a model's streaming
// output, emitting UI events and triggering auto-execution the moment a
// <TOOL_CALL> block completes. It does not attempt a fully general
// streaming XML parser: it buffers the whole answer channel (responses are
// bounded in size) and re-scans on every chunk, emitting only the events
// implied by newly available content. This trades a little redundant work
// for a parser that is trivially correct against the same regexes C2 uses
// on the final, complete response.
type Coupler struct {
	iterIndex int
	executor  AutoExecutor

	buf           strings.Builder
	emitted       int // bytes of buf already turned into message-append events
	completedCall int // count of </TOOL_CALL> blocks already handled
	sink          func(StreamEvent)
}

// NewCoupler constructs a Coupler for one iteration of one task.
func NewCoupler(iterIndex int, executor AutoExecutor, sink func(StreamEvent)) *Coupler {
	if sink == nil {
		sink = func(StreamEvent) {}
	}
	return &Coupler{iterIndex: iterIndex, executor: executor, sink: sink}
}

// Feed appends a chunk of the `answer` channel and emits any events the new
// content makes available. `thoughts` chunks are not passed here: they are
// forwarded by the caller directly as model.delta-style events, since the
// tagged protocol only lives in the answer channel.
func (c *Coupler) Feed(ctx context.Context, chunk string) error {
	c.buf.WriteString(chunk)
	full := c.buf.String()

	c.emitMessageAppend(full)

	for {
		calls := toolCallRe.FindAllStringSubmatchIndex(full, -1)
		if len(calls) <= c.completedCall {
			return nil
		}
		idx := calls[c.completedCall]
		block := full[idx[2]:idx[3]]
		call := parseToolCallBlock(block)
		toolIndex := c.completedCall
		c.completedCall++

		if call.Tool != "" {
			c.sink(StreamEvent{Segment: SegmentToolCall, Action: ActionField, Field: "TOOL", Value: call.Tool})
		}
		if call.Reason != "" {
			c.sink(StreamEvent{Segment: SegmentToolCall, Action: ActionField, Field: "REASON", Value: call.Reason})
		}
		for _, p := range call.Params {
			c.sink(StreamEvent{Segment: SegmentToolCall, Action: ActionParam, Name: p.Name, Value: p.Raw})
		}

		callID := fmt.Sprintf("auto_exec_iter%d_tool%d", c.iterIndex, toolIndex)
		if AutoExecAllowlist[call.Tool] {
			if err := c.executor.AutoExecute(ctx, c.iterIndex, toolIndex, call, callID); err != nil {
				return err
			}
			c.sink(StreamEvent{Segment: SegmentToolCall, Action: ActionComplete, CallID: callID})
		} else {
			c.sink(StreamEvent{Segment: SegmentToolCall, Action: ActionComplete})
		}
	}
}

// emitMessageAppend emits append events for any newly available <MESSAGE>
// text. Since <MESSAGE> content is only known complete once </MESSAGE> is
// seen (or the stream is still open), this conservatively emits the growing
// prefix between <MESSAGE> and the end of buffered content, re-emitting the
// whole delta each call — callers render by replacing, not concatenating.
func (c *Coupler) emitMessageAppend(full string) {
	openIdx := strings.Index(strings.ToUpper(full), "<MESSAGE>")
	if openIdx < 0 {
		return
	}
	start := openIdx + len("<MESSAGE>")
	end := len(full)
	if closeIdx := strings.Index(strings.ToUpper(full[start:]), "</MESSAGE>"); closeIdx >= 0 {
		end = start + closeIdx
	}
	if end <= start {
		return
	}
	delta := full[start:end]
	if len(delta) <= c.emitted {
		return
	}
	newText := delta[c.emitted:]
	c.emitted = len(delta)
	c.sink(StreamEvent{Segment: SegmentMessage, Action: ActionAppend, Value: newText})
}
