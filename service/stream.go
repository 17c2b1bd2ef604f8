package service

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EventStream is the abstract, ordered, single-pass event sequence produced
// by a provider adapter. End of sequence means normal completion unless Err
// reports otherwise. Usage is a separate accessor that may fail independently
// of the event sequence.
type EventStream interface {
	Next() bool
	Current() StreamEvent
	Err() error
	Usage() (*TokenUsage, error)
}

// StreamAssembler consumes one provider event stream and reconstructs the
// ordered, typed content of a single turn. One assembler invocation owns its
// parts exclusively; never run two invocations against the same callbacks'
// mutable state concurrently.
type StreamAssembler struct {
	// OnUpdate is invoked synchronously after every state-mutating event with
	// a snapshot of the partial result. It must not block: it runs on the
	// consuming goroutine and starves event delivery if it does.
	OnUpdate func(*StreamResult)

	// OnPartType is invoked once per logical event category (text-delta,
	// reasoning-delta, tool-call, tool-result) for external metrics tracking.
	OnPartType func(string)

	// Debug, when non-nil and enabled, records per-event diagnostics.
	Debug *StreamDebugLogger
}

// assembly is the mutable state of one Assemble call.
type assembly struct {
	content   strings.Builder
	reasoning strings.Builder
	parts     []*MessagePart
	toolCalls []*ToolPart
	toolIndex map[string]*ToolPart
	errMsg    string
	toolSeq   int
}

// Assemble drains the stream and returns the terminal result. It never
// returns an error for event-level anomalies; a failed stream yields a
// result whose Error is set and whose content holds everything received
// before the failure.
func (a *StreamAssembler) Assemble(stream EventStream) *StreamResult {
	st := &assembly{toolIndex: make(map[string]*ToolPart)}

	for stream.Next() {
		event := stream.Current()
		if a.Debug != nil {
			a.Debug.Event(event)
		}
		if a.apply(st, event) {
			a.update(st)
		}
	}

	// A thrown iteration failure becomes the terminal error unless an error
	// event already set one.
	if err := stream.Err(); err != nil && st.errMsg == "" {
		st.errMsg = err.Error()
	}

	result := snapshot(st)
	if st.errMsg != "" {
		// Skip usage retrieval on a failed stream
		if a.Debug != nil {
			a.Debug.Finish(result)
		}
		return result
	}

	usage, err := stream.Usage()
	if err != nil {
		// Non-fatal: token counts stay unset
		Debugf("usage unavailable: %v", err)
	} else {
		result.Usage = usage
	}
	if a.Debug != nil {
		a.Debug.Finish(result)
	}
	return result
}

// apply mutates the assembly for one event and reports whether state changed.
func (a *StreamAssembler) apply(st *assembly, event StreamEvent) bool {
	switch event.Type {
	case EventTextDelta:
		a.track(CategoryTextDelta)
		st.content.WriteString(event.Text)
		appendText(st, PartText, event.Text)
		return true

	case EventReasoningDelta, EventReasoning:
		a.track(CategoryReasoningDelta)
		// Providers are inconsistent about which field carries the payload
		text := event.Delta
		if text == "" {
			text = event.Text
		}
		st.reasoning.WriteString(text)
		appendText(st, PartReasoning, text)
		return true

	case EventToolInputStart:
		a.track(CategoryToolCall)
		id := event.ID
		if id == "" {
			st.toolSeq++
			id = fmt.Sprintf("tool-%d", st.toolSeq)
		}
		if rec, ok := st.toolIndex[id]; ok {
			// Duplicate start for a known id: restart its argument stream
			rec.argsStream = nil
			return true
		}
		rec := &ToolPart{
			ID:        id,
			ToolName:  event.ToolName,
			Args:      map[string]any{},
			IsLoading: true,
			StartTime: time.Now(),
		}
		st.toolIndex[id] = rec
		st.toolCalls = append(st.toolCalls, rec)
		st.parts = append(st.parts, &MessagePart{Type: PartTool, Tool: rec})
		return true

	case EventToolInputDelta:
		rec, ok := st.toolIndex[event.ID]
		if !ok {
			// Unknown id: no record is created
			return false
		}
		rec.argsStream = append(rec.argsStream, event.Delta...)
		return true

	case EventToolInputEnd:
		rec, ok := st.toolIndex[event.ID]
		if !ok {
			return false
		}
		args := map[string]any{}
		if err := json.Unmarshal(rec.argsStream, &args); err != nil {
			// Malformed streamed JSON is recovered locally, never propagated
			Debugf("tool %s: invalid streamed arguments: %v", rec.ID, err)
			args = map[string]any{}
		}
		rec.Args = args
		rec.argsStream = nil
		return true

	case EventToolCall, EventToolInputAvailable:
		a.track(CategoryToolCall)
		args := event.Input
		if args == nil {
			args = map[string]any{}
		}
		if rec, ok := st.toolIndex[event.ID]; ok {
			rec.Args = args
			rec.argsStream = nil
			if rec.ToolName == "" {
				rec.ToolName = event.ToolName
			}
			return true
		}
		id := event.ID
		if id == "" {
			st.toolSeq++
			id = fmt.Sprintf("tool-%d", st.toolSeq)
		}
		rec := &ToolPart{
			ID:        id,
			ToolName:  event.ToolName,
			Args:      args,
			IsLoading: true,
			StartTime: time.Now(),
		}
		st.toolIndex[id] = rec
		st.toolCalls = append(st.toolCalls, rec)
		st.parts = append(st.parts, &MessagePart{Type: PartTool, Tool: rec})
		return true

	case EventToolResult:
		rec, ok := st.toolIndex[event.ID]
		if !ok {
			// Unmatched result ids are ignored
			return false
		}
		a.track(CategoryToolResult)
		rec.Result = event.Output
		if rec.IsLoading {
			rec.IsLoading = false
			rec.DurationMs = time.Since(rec.StartTime).Milliseconds()
		}
		return true

	case EventError:
		// First non-empty message wins; keep draining so content already
		// received is not discarded.
		if st.errMsg == "" && event.Error != "" {
			st.errMsg = event.Error
		}
		return true

	default:
		// Closed union: unknown variants are counted by telemetry, nothing else
		return false
	}
}

// appendText extends the trailing part when the type matches, otherwise
// starts a new part. A part boundary appears only when the event type changes.
func appendText(st *assembly, typ PartType, text string) {
	if n := len(st.parts); n > 0 && st.parts[n-1].Type == typ {
		st.parts[n-1].Text += text
		return
	}
	st.parts = append(st.parts, &MessagePart{Type: typ, Text: text})
}

func (a *StreamAssembler) track(category string) {
	if a.OnPartType != nil {
		a.OnPartType(category)
	}
}

func (a *StreamAssembler) update(st *assembly) {
	if a.OnUpdate != nil {
		a.OnUpdate(snapshot(st))
	}
}

// snapshot renders the current assembly state. Parts and tool records are
// shared with the assembly; callers treat snapshots as read-only.
func snapshot(st *assembly) *StreamResult {
	return &StreamResult{
		Content:   st.content.String(),
		Reasoning: st.reasoning.String(),
		Parts:     st.parts,
		ToolCalls: st.toolCalls,
		Error:     st.errMsg,
	}
}
