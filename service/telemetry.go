package service

import (
	"time"
)

const previewLimit = 48

// StreamDebugLogger records per-event diagnostics for one stream attempt:
// event counts and timing, streamed character totals, and short preview
// snippets of text/reasoning. It is off by default and not required for
// correctness; enable it via the stream.debug config key or GTURN_STREAM_DEBUG.
type StreamDebugLogger struct {
	Enabled bool

	label     string
	started   time.Time
	lastEvent time.Time
	events    int
	unknown   int
	textChars int
	rsnChars  int
	toolChars int
}

// NewStreamDebugLogger returns a logger for one attempt; a nil receiver is
// tolerated by all methods so callers can wire it unconditionally.
func NewStreamDebugLogger(label string, enabled bool) *StreamDebugLogger {
	if !enabled {
		return nil
	}
	now := time.Now()
	return &StreamDebugLogger{Enabled: true, label: label, started: now, lastEvent: now}
}

// Event records one stream event.
func (d *StreamDebugLogger) Event(event StreamEvent) {
	if d == nil || !d.Enabled {
		return
	}
	now := time.Now()
	gap := now.Sub(d.lastEvent)
	d.lastEvent = now
	d.events++

	switch event.Type {
	case EventTextDelta:
		d.textChars += len(event.Text)
		Debugf("[%s] #%d +%s text-delta %dch %q", d.label, d.events, gap, len(event.Text), preview(event.Text))
	case EventReasoningDelta, EventReasoning:
		text := event.Delta
		if text == "" {
			text = event.Text
		}
		d.rsnChars += len(text)
		Debugf("[%s] #%d +%s reasoning %dch %q", d.label, d.events, gap, len(text), preview(text))
	case EventToolInputDelta:
		d.toolChars += len(event.Delta)
		Debugf("[%s] #%d +%s tool-input-delta id=%s %dch", d.label, d.events, gap, event.ID, len(event.Delta))
	case EventOther:
		d.unknown++
		Debugf("[%s] #%d +%s unrecognized event", d.label, d.events, gap)
	default:
		Debugf("[%s] #%d +%s %s id=%s tool=%s", d.label, d.events, gap, event.Type, event.ID, event.ToolName)
	}
}

// Finish logs the attempt totals.
func (d *StreamDebugLogger) Finish(result *StreamResult) {
	if d == nil || !d.Enabled {
		return
	}
	elapsed := time.Since(d.started)
	Debugf("[%s] stream done in %s: %d events (%d unrecognized), %d text chars, %d reasoning chars, %d tool-arg chars, %d tool calls, error=%q",
		d.label, elapsed, d.events, d.unknown, d.textChars, d.rsnChars, d.toolChars, len(result.ToolCalls), result.Error)
}

func preview(s string) string {
	if len(s) <= previewLimit {
		return s
	}
	return s[:previewLimit] + "..."
}
