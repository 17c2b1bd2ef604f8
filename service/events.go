package service

import (
	"time"

	"github.com/activebook/gturn/data"
)

// EventType enumerates the provider stream protocol events.
// The union is closed: adapters must map anything unrecognized to EventOther.
type EventType int

const (
	EventOther EventType = iota
	EventTextDelta
	EventReasoningDelta
	EventReasoning
	EventToolInputStart
	EventToolInputDelta
	EventToolInputEnd
	EventToolCall           // complete call, args delivered atomically
	EventToolInputAvailable // alias of EventToolCall used by some providers
	EventToolResult
	EventError
)

func (t EventType) String() string {
	switch t {
	case EventTextDelta:
		return "text-delta"
	case EventReasoningDelta:
		return "reasoning-delta"
	case EventReasoning:
		return "reasoning"
	case EventToolInputStart:
		return "tool-input-start"
	case EventToolInputDelta:
		return "tool-input-delta"
	case EventToolInputEnd:
		return "tool-input-end"
	case EventToolCall:
		return "tool-call"
	case EventToolInputAvailable:
		return "tool-input-available"
	case EventToolResult:
		return "tool-result"
	case EventError:
		return "error"
	default:
		return "other"
	}
}

// StreamEvent is one unit of a provider's streaming response.
// Only the fields relevant to the event type are populated.
type StreamEvent struct {
	Type     EventType
	Text     string         // text-delta / reasoning payload
	Delta    string         // reasoning-delta / tool-input-delta payload
	ID       string         // tool call id (toolCallId for tool-result)
	ToolName string         // tool-input-start / tool-call
	Input    map[string]any // tool-call complete arguments
	Output   any            // tool-result payload
	Error    string         // error event message
}

// Logical part/event categories reported through OnPartType for metrics.
const (
	CategoryTextDelta      = "text-delta"
	CategoryReasoningDelta = "reasoning-delta"
	CategoryToolCall       = "tool-call"
	CategoryToolResult     = "tool-result"
)

// Part types within an assembled turn.
type PartType int

const (
	PartText PartType = iota
	PartReasoning
	PartTool
)

// ToolPart is the single owner of one tool call's state within a turn.
// Its ID is unique within the turn; IsLoading flips true->false exactly once,
// when the matching tool-result arrives.
type ToolPart struct {
	ID         string
	ToolName   string
	Args       map[string]any
	Result     any
	IsLoading  bool
	StartTime  time.Time
	DurationMs int64

	argsStream []byte // streamed JSON fragments, cleared at tool-input-end
}

// MessagePart is one ordered element of a turn. Text/Reasoning parts carry
// Text; tool parts point at the ToolPart record.
type MessagePart struct {
	Type PartType
	Text string
	Tool *ToolPart
}

// TokenUsage carries the provider-reported token counts for one attempt.
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
}

// StreamResult is the terminal snapshot of one assembler attempt.
// Partial snapshots passed to OnUpdate share the same shape; the value
// returned by Assemble is final and must not be mutated afterwards.
type StreamResult struct {
	Content   string
	Reasoning string
	Parts     []*MessagePart
	ToolCalls []*ToolPart
	Usage     *TokenUsage // nil when usage retrieval failed or was skipped
	Error     string      // empty on success
}

// ToMessage converts the result into a history message for the caller to own.
func (r *StreamResult) ToMessage(id string, createdAt time.Time) data.Message {
	msg := data.Message{
		ID:        id,
		Role:      data.RoleAssistant,
		Content:   r.Content,
		Reasoning: r.Reasoning,
		CreatedAt: createdAt,
	}
	if r.Usage != nil {
		msg.TokensInput = r.Usage.InputTokens
		msg.TokensOutput = r.Usage.OutputTokens
	}
	for _, p := range r.Parts {
		switch p.Type {
		case PartText:
			msg.Parts = append(msg.Parts, data.Part{Type: data.PartTypeText, Text: p.Text})
		case PartReasoning:
			msg.Parts = append(msg.Parts, data.Part{Type: data.PartTypeReasoning, Text: p.Text})
		case PartTool:
			if p.Tool == nil {
				continue
			}
			msg.Parts = append(msg.Parts, data.Part{
				Type:       data.PartTypeTool,
				ToolID:     p.Tool.ID,
				ToolName:   p.Tool.ToolName,
				ToolArgs:   p.Tool.Args,
				ToolResult: p.Tool.Result,
			})
		}
	}
	return msg
}
