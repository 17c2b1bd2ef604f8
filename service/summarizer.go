package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/activebook/gturn/data"
)

// summaryPromptTemplate builds the chained-summary prompt. {{existing_summary}}
// lets repeated compressions extend one running summary instead of starting
// over; {{messages}} is the serialized transcript slice being folded in.
const summaryPromptTemplate = `You maintain a running summary of a conversation between a user and an assistant.

Existing summary of earlier conversation (empty if this is the first pass):
{{existing_summary}}

New conversation to fold into the summary:
{{messages}}

Produce one updated summary that covers both the existing summary and the new
conversation. Preserve key facts, decisions, tool usage and outcomes, and any
pending tasks or questions. Respond with the summary text only.`

// SummaryResult carries the generated summary and the watermark of the last
// message folded into it. A caller can later extend the same summary with
// history newer than CompressedUpTo without re-summarizing anything.
type SummaryResult struct {
	Summary        string
	CompressedUpTo time.Time
}

// GenerateSummary serializes messages chronologically, substitutes them into
// the summary prompt together with any existing summary, and makes one model
// call. The error propagates so the caller can decide to proceed without
// compression instead of silently discarding history.
func GenerateSummary(ctx context.Context, gen TextGenerator, messages []data.Message, existingSummary string) (*SummaryResult, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("nothing to summarize")
	}

	transcript := SerializeMessages(messages)
	prompt := strings.ReplaceAll(summaryPromptTemplate, "{{existing_summary}}", existingSummary)
	prompt = strings.ReplaceAll(prompt, "{{messages}}", transcript)

	Debugf("summarizing %d messages (~%d tokens of transcript)", len(messages), EstimateTokens(transcript))

	summary, err := gen.GenerateText(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("summary generation failed: %w", err)
	}

	return &SummaryResult{
		Summary:        strings.TrimSpace(summary),
		CompressedUpTo: messages[len(messages)-1].CreatedAt,
	}, nil
}

// SerializeMessages renders messages as a transcript for the summarizer.
// Assistant turns with tool parts get inline markers (tool name, arguments,
// result) so the model sees tool usage context, not just prose.
func SerializeMessages(messages []data.Message) string {
	var sb strings.Builder
	for i := range messages {
		msg := &messages[i]
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(strings.ToUpper(msg.Role))
		sb.WriteString(": ")
		if msg.Content != "" {
			sb.WriteString(msg.Content)
		}
		for _, p := range msg.Parts {
			if p.Type != data.PartTypeTool {
				continue
			}
			sb.WriteString("\n")
			sb.WriteString(toolMarker(&p))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// toolMarker renders one tool call inline, e.g.
// [tool: bash args={"command":"ls"} result="listing"]
func toolMarker(p *data.Part) string {
	args := compactJSON(p.ToolArgs)
	if p.ToolResult == nil {
		return fmt.Sprintf("[tool: %s args=%s]", p.ToolName, args)
	}
	return fmt.Sprintf("[tool: %s args=%s result=%s]", p.ToolName, args, compactJSON(p.ToolResult))
}

func compactJSON(v any) string {
	if v == nil {
		return "{}"
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%q", fmt.Sprint(v))
	}
	return string(raw)
}
