package service

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"github.com/activebook/gturn/data"
)

const anthropicMaxOutputTokens = 8192

// AnthropicProvider adapts the Anthropic Messages API to the abstract event
// stream consumed by the assembler.
type AnthropicProvider struct {
	model  *data.Model
	client anthropic.Client
}

func NewAnthropicProvider(model *data.Model) *AnthropicProvider {
	// Set both APIKey and AuthToken to ensure it works on X-Api-Key or Bearer
	opts := []option.RequestOption{
		option.WithAPIKey(model.Key),
		option.WithAuthToken(model.Key),
	}
	if model.Endpoint != "" {
		opts = append(opts, option.WithBaseURL(model.Endpoint))
	}
	return &AnthropicProvider{
		model:  model,
		client: anthropic.NewClient(opts...),
	}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

// StreamTurn opens one streaming attempt. Each call is an independent,
// single-pass stream.
func (p *AnthropicProvider) StreamTurn(ctx context.Context, req *TurnRequest) (EventStream, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model.Model),
		Messages:  buildAnthropicMessages(req.Messages),
		MaxTokens: anthropicMaxOutputTokens,
	}
	if sys := req.SystemText(); sys != "" {
		params.System = []anthropic.TextBlockParam{{
			Text: sys,
			Type: constant.Text("text"),
		}}
	}
	if req.Temperature > 0 {
		params.Temperature = param.NewOpt(float64(req.Temperature))
	}
	if req.TopP > 0 {
		params.TopP = param.NewOpt(float64(req.TopP))
	}

	inner := p.client.Messages.NewStreaming(ctx, params)
	return &anthropicStream{
		inner:   inner,
		toolIDs: make(map[int64]string),
	}, nil
}

// GenerateText makes one non-streaming call (used by the summary generator).
func (p *AnthropicProvider) GenerateText(ctx context.Context, prompt string) (string, error) {
	msg, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model.Model),
		MaxTokens: anthropicMaxOutputTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic generation failed: %w", err)
	}
	text := ""
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return text, nil
}

// buildAnthropicMessages replays history in the Messages API shape. Tool
// results ride in user messages, tool calls in assistant tool_use blocks.
func buildAnthropicMessages(history []data.Message) []anthropic.MessageParam {
	var out []anthropic.MessageParam
	for i := range history {
		msg := &history[i]
		switch msg.Role {
		case data.RoleUser:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		case data.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, p := range msg.Parts {
				if p.Type == data.PartTypeTool {
					blocks = append(blocks, anthropic.NewToolUseBlock(p.ToolID, p.ToolArgs, p.ToolName))
				}
			}
			if len(blocks) == 0 {
				continue
			}
			am := anthropic.NewAssistantMessage()
			am.Content = blocks
			out = append(out, am)
		case data.RoleTool:
			out = append(out, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false)))
		case data.RoleSystem:
			// System text travels in params.System, not the message list
		}
	}
	return out
}

// anthropicStream converts Anthropic SSE union events into StreamEvents.
// Usage is accumulated from message_start/message_delta and served through
// the separate Usage accessor.
type anthropicStream struct {
	inner   *ssestream.Stream[anthropic.MessageStreamEventUnion]
	current StreamEvent
	toolIDs map[int64]string // content block index -> tool_use id
	usage   TokenUsage
	sawMeta bool
}

func (s *anthropicStream) Next() bool {
	for s.inner.Next() {
		event := s.inner.Current()
		if mapped, ok := s.translate(event); ok {
			s.current = mapped
			return true
		}
	}
	return false
}

func (s *anthropicStream) Current() StreamEvent { return s.current }

func (s *anthropicStream) Err() error { return s.inner.Err() }

func (s *anthropicStream) Usage() (*TokenUsage, error) {
	if !s.sawMeta {
		return nil, fmt.Errorf("no usage metadata received")
	}
	u := s.usage
	return &u, nil
}

// translate maps one SDK event; the bool is false for bookkeeping-only events
// that produce nothing for the assembler.
func (s *anthropicStream) translate(event anthropic.MessageStreamEventUnion) (StreamEvent, bool) {
	switch event.Type {
	case "message_start":
		evt := event.AsMessageStart()
		s.usage.InputTokens += int(evt.Message.Usage.InputTokens)
		s.usage.OutputTokens += int(evt.Message.Usage.OutputTokens)
		s.sawMeta = true
		return StreamEvent{}, false

	case "content_block_start":
		evt := event.AsContentBlockStart()
		if evt.ContentBlock.Type == "tool_use" {
			s.toolIDs[evt.Index] = evt.ContentBlock.ID
			return StreamEvent{
				Type:     EventToolInputStart,
				ID:       evt.ContentBlock.ID,
				ToolName: evt.ContentBlock.Name,
			}, true
		}
		return StreamEvent{}, false

	case "content_block_delta":
		evt := event.AsContentBlockDelta()
		switch evt.Delta.Type {
		case "text_delta":
			return StreamEvent{Type: EventTextDelta, Text: evt.Delta.Text}, true
		case "thinking_delta":
			return StreamEvent{Type: EventReasoningDelta, Delta: evt.Delta.Thinking}, true
		case "input_json_delta":
			id, ok := s.toolIDs[evt.Index]
			if !ok {
				return StreamEvent{Type: EventOther}, true
			}
			return StreamEvent{Type: EventToolInputDelta, ID: id, Delta: evt.Delta.PartialJSON}, true
		default:
			return StreamEvent{Type: EventOther}, true
		}

	case "content_block_stop":
		evt := event.AsContentBlockStop()
		if id, ok := s.toolIDs[evt.Index]; ok {
			delete(s.toolIDs, evt.Index)
			return StreamEvent{Type: EventToolInputEnd, ID: id}, true
		}
		return StreamEvent{}, false

	case "message_delta":
		evt := event.AsMessageDelta()
		s.usage.OutputTokens += int(evt.Usage.OutputTokens)
		s.sawMeta = true
		return StreamEvent{}, false

	case "message_stop":
		return StreamEvent{}, false

	default:
		return StreamEvent{Type: EventOther}, true
	}
}
