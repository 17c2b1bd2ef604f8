package service

import (
	"errors"
	"testing"
)

// fakeStream replays a scripted event sequence. iterErr simulates a stream
// that dies mid-iteration; usage/usageErr script the separate usage accessor.
type fakeStream struct {
	events   []StreamEvent
	pos      int
	iterErr  error
	usage    *TokenUsage
	usageErr error
}

func (f *fakeStream) Next() bool {
	if f.pos < len(f.events) {
		f.pos++
		return true
	}
	return false
}

func (f *fakeStream) Current() StreamEvent { return f.events[f.pos-1] }

func (f *fakeStream) Err() error {
	if f.pos >= len(f.events) {
		return f.iterErr
	}
	return nil
}

func (f *fakeStream) Usage() (*TokenUsage, error) { return f.usage, f.usageErr }

func TestAssembleTextDeltas(t *testing.T) {
	stream := &fakeStream{events: []StreamEvent{
		{Type: EventTextDelta, Text: "Hello"},
		{Type: EventTextDelta, Text: " world"},
	}}

	asm := &StreamAssembler{}
	result := asm.Assemble(stream)

	if result.Content != "Hello world" {
		t.Errorf("Content = %q, want %q", result.Content, "Hello world")
	}
	if len(result.Parts) != 1 {
		t.Fatalf("Parts count = %d, want 1 (consecutive deltas must merge)", len(result.Parts))
	}
	if result.Parts[0].Type != PartText || result.Parts[0].Text != "Hello world" {
		t.Errorf("Part = %+v, want merged text part", result.Parts[0])
	}
	if result.Error != "" {
		t.Errorf("Error = %q, want empty", result.Error)
	}
}

func TestAssemblePartBoundaries(t *testing.T) {
	// A part boundary appears only when the event type changes
	stream := &fakeStream{events: []StreamEvent{
		{Type: EventReasoningDelta, Delta: "thinking"},
		{Type: EventReasoningDelta, Delta: " more"},
		{Type: EventTextDelta, Text: "answer"},
		{Type: EventTextDelta, Text: " here"},
	}}

	result := (&StreamAssembler{}).Assemble(stream)

	if len(result.Parts) != 2 {
		t.Fatalf("Parts count = %d, want 2", len(result.Parts))
	}
	if result.Parts[0].Type != PartReasoning || result.Parts[0].Text != "thinking more" {
		t.Errorf("Part 0 = %+v, want merged reasoning", result.Parts[0])
	}
	if result.Parts[1].Type != PartText || result.Parts[1].Text != "answer here" {
		t.Errorf("Part 1 = %+v, want merged text", result.Parts[1])
	}
	if result.Reasoning != "thinking more" {
		t.Errorf("Reasoning = %q", result.Reasoning)
	}
}

func TestAssembleReasoningPayloadFields(t *testing.T) {
	// Providers deliver reasoning in either the text or delta field
	stream := &fakeStream{events: []StreamEvent{
		{Type: EventReasoning, Text: "from-text"},
		{Type: EventReasoningDelta, Delta: "-from-delta"},
	}}

	result := (&StreamAssembler{}).Assemble(stream)

	if result.Reasoning != "from-text-from-delta" {
		t.Errorf("Reasoning = %q, want both payload fields accepted", result.Reasoning)
	}
}

func TestAssembleStreamedToolCall(t *testing.T) {
	stream := &fakeStream{events: []StreamEvent{
		{Type: EventToolInputStart, ID: "t1", ToolName: "bash"},
		{Type: EventToolInputDelta, ID: "t1", Delta: `{"com`},
		{Type: EventToolInputDelta, ID: "t1", Delta: `mand":"ls"}`},
		{Type: EventToolInputEnd, ID: "t1"},
		{Type: EventToolResult, ID: "t1", Output: "listing"},
	}}

	result := (&StreamAssembler{}).Assemble(stream)

	if len(result.ToolCalls) != 1 {
		t.Fatalf("ToolCalls count = %d, want 1", len(result.ToolCalls))
	}
	tc := result.ToolCalls[0]
	if tc.ID != "t1" || tc.ToolName != "bash" {
		t.Errorf("tool identity = %s/%s", tc.ID, tc.ToolName)
	}
	if got := tc.Args["command"]; got != "ls" {
		t.Errorf("Args[command] = %v, want ls", got)
	}
	if tc.Result != "listing" {
		t.Errorf("Result = %v, want listing", tc.Result)
	}
	if tc.IsLoading {
		t.Error("IsLoading should flip to false when the result arrives")
	}
	if tc.DurationMs < 0 {
		t.Errorf("DurationMs = %d, want >= 0", tc.DurationMs)
	}
}

func TestAssembleStreamedArgsMatchAtomicCall(t *testing.T) {
	streamed := &fakeStream{events: []StreamEvent{
		{Type: EventToolInputStart, ID: "a", ToolName: "search"},
		{Type: EventToolInputDelta, ID: "a", Delta: `{"q":"go"}`},
		{Type: EventToolInputEnd, ID: "a"},
	}}
	atomic := &fakeStream{events: []StreamEvent{
		{Type: EventToolCall, ID: "b", ToolName: "search", Input: map[string]any{"q": "go"}},
	}}

	r1 := (&StreamAssembler{}).Assemble(streamed)
	r2 := (&StreamAssembler{}).Assemble(atomic)

	if len(r1.ToolCalls) != 1 || len(r2.ToolCalls) != 1 {
		t.Fatalf("tool call counts = %d/%d, want 1/1", len(r1.ToolCalls), len(r2.ToolCalls))
	}
	if r1.ToolCalls[0].Args["q"] != r2.ToolCalls[0].Args["q"] {
		t.Errorf("streamed args %v != atomic args %v", r1.ToolCalls[0].Args, r2.ToolCalls[0].Args)
	}
}

func TestAssembleInvalidToolJSON(t *testing.T) {
	stream := &fakeStream{events: []StreamEvent{
		{Type: EventToolInputStart, ID: "t1", ToolName: "bash"},
		{Type: EventToolInputDelta, ID: "t1", Delta: `{"broken":`},
		{Type: EventToolInputEnd, ID: "t1"},
	}}

	result := (&StreamAssembler{}).Assemble(stream)

	if result.Error != "" {
		t.Errorf("malformed args must never surface as a stream error, got %q", result.Error)
	}
	if len(result.ToolCalls) != 1 {
		t.Fatalf("ToolCalls count = %d, want 1", len(result.ToolCalls))
	}
	if len(result.ToolCalls[0].Args) != 0 {
		t.Errorf("Args = %v, want empty object", result.ToolCalls[0].Args)
	}
}

func TestAssembleAtomicCallOverwritesStreamedArgs(t *testing.T) {
	stream := &fakeStream{events: []StreamEvent{
		{Type: EventToolInputStart, ID: "t1", ToolName: "bash"},
		{Type: EventToolInputDelta, ID: "t1", Delta: `{"partial`},
		{Type: EventToolInputAvailable, ID: "t1", ToolName: "bash", Input: map[string]any{"command": "pwd"}},
	}}

	result := (&StreamAssembler{}).Assemble(stream)

	if got := result.ToolCalls[0].Args["command"]; got != "pwd" {
		t.Errorf("Args[command] = %v, want atomic input to win", got)
	}
}

func TestAssembleIgnoresUnknownToolIDs(t *testing.T) {
	stream := &fakeStream{events: []StreamEvent{
		{Type: EventToolInputDelta, ID: "ghost", Delta: `{"x":1}`},
		{Type: EventToolInputEnd, ID: "ghost"},
		{Type: EventToolResult, ID: "ghost", Output: "nothing"},
		{Type: EventTextDelta, Text: "ok"},
	}}

	result := (&StreamAssembler{}).Assemble(stream)

	if len(result.ToolCalls) != 0 {
		t.Errorf("unknown ids must not create records, got %d", len(result.ToolCalls))
	}
	if result.Content != "ok" {
		t.Errorf("Content = %q", result.Content)
	}
}

func TestAssembleErrorEventKeepsDraining(t *testing.T) {
	stream := &fakeStream{events: []StreamEvent{
		{Type: EventTextDelta, Text: "before"},
		{Type: EventError, Error: "provider exploded"},
		{Type: EventTextDelta, Text: " after"},
	}}

	result := (&StreamAssembler{}).Assemble(stream)

	if result.Error != "provider exploded" {
		t.Errorf("Error = %q", result.Error)
	}
	// Draining continues so content after the error event is retained too
	if result.Content != "before after" {
		t.Errorf("Content = %q, want all drained text", result.Content)
	}
}

func TestAssembleIterationFailure(t *testing.T) {
	stream := &fakeStream{
		events:  []StreamEvent{{Type: EventTextDelta, Text: "before"}},
		iterErr: errors.New("connection reset"),
	}

	result := (&StreamAssembler{}).Assemble(stream)

	if result.Content != "before" {
		t.Errorf("Content = %q, want text received before the failure", result.Content)
	}
	if result.Error != "connection reset" {
		t.Errorf("Error = %q", result.Error)
	}
	if result.Usage != nil {
		t.Error("usage retrieval must be skipped on a failed stream")
	}
}

func TestAssembleErrorEventWinsOverIterationFailure(t *testing.T) {
	stream := &fakeStream{
		events:  []StreamEvent{{Type: EventError, Error: "first error"}},
		iterErr: errors.New("second error"),
	}

	result := (&StreamAssembler{}).Assemble(stream)

	if result.Error != "first error" {
		t.Errorf("Error = %q, want the error event to win", result.Error)
	}
}

func TestAssembleUsage(t *testing.T) {
	stream := &fakeStream{
		events: []StreamEvent{{Type: EventTextDelta, Text: "hi"}},
		usage:  &TokenUsage{InputTokens: 12, OutputTokens: 3},
	}

	result := (&StreamAssembler{}).Assemble(stream)

	if result.Usage == nil {
		t.Fatal("Usage = nil, want counts")
	}
	if result.Usage.InputTokens != 12 || result.Usage.OutputTokens != 3 {
		t.Errorf("Usage = %+v", result.Usage)
	}
}

func TestAssembleUsageFailureNonFatal(t *testing.T) {
	stream := &fakeStream{
		events:   []StreamEvent{{Type: EventTextDelta, Text: "hi"}},
		usageErr: errors.New("usage endpoint down"),
	}

	result := (&StreamAssembler{}).Assemble(stream)

	if result.Error != "" {
		t.Errorf("usage failure must be non-fatal, got error %q", result.Error)
	}
	if result.Usage != nil {
		t.Error("Usage should stay unset when retrieval fails")
	}
}

func TestAssembleCallbacks(t *testing.T) {
	stream := &fakeStream{events: []StreamEvent{
		{Type: EventTextDelta, Text: "a"},
		{Type: EventReasoningDelta, Delta: "r"},
		{Type: EventToolInputStart, ID: "t1", ToolName: "bash"},
		{Type: EventToolInputDelta, ID: "t1", Delta: `{}`},
		{Type: EventToolInputEnd, ID: "t1"},
		{Type: EventToolResult, ID: "t1", Output: "done"},
	}}

	updates := 0
	var lastPartial *StreamResult
	categories := map[string]int{}

	asm := &StreamAssembler{
		OnUpdate: func(partial *StreamResult) {
			updates++
			lastPartial = partial
		},
		OnPartType: func(category string) { categories[category]++ },
	}
	asm.Assemble(stream)

	// Every event above mutates state, so every one yields an update
	if updates != len(stream.events) {
		t.Errorf("updates = %d, want %d", updates, len(stream.events))
	}
	if lastPartial == nil || lastPartial.Content != "a" {
		t.Errorf("last partial = %+v", lastPartial)
	}
	if categories[CategoryTextDelta] != 1 || categories[CategoryReasoningDelta] != 1 {
		t.Errorf("delta categories = %v", categories)
	}
	if categories[CategoryToolCall] != 1 || categories[CategoryToolResult] != 1 {
		t.Errorf("tool categories = %v", categories)
	}
}

func TestAssembleGeneratesMissingToolID(t *testing.T) {
	stream := &fakeStream{events: []StreamEvent{
		{Type: EventToolInputStart, ToolName: "search"},
		{Type: EventToolCall, ToolName: "fetch", Input: map[string]any{"url": "x"}},
	}}

	result := (&StreamAssembler{}).Assemble(stream)

	if len(result.ToolCalls) != 2 {
		t.Fatalf("ToolCalls count = %d, want 2", len(result.ToolCalls))
	}
	if result.ToolCalls[0].ID == "" || result.ToolCalls[1].ID == "" {
		t.Error("missing ids must be generated")
	}
	if result.ToolCalls[0].ID == result.ToolCalls[1].ID {
		t.Error("generated ids must be unique within a turn")
	}
}
