package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/activebook/gturn/data"
)

// OpenAIProvider adapts OpenAI-compatible chat completion streams to the
// abstract event stream. Many gateways speak this wire shape, so Endpoint is
// honored for any compatible backend.
type OpenAIProvider struct {
	model  *data.Model
	client *openai.Client
}

func NewOpenAIProvider(model *data.Model) *OpenAIProvider {
	cfg := openai.DefaultConfig(model.Key)
	if model.Endpoint != "" {
		cfg.BaseURL = model.Endpoint
	}
	return &OpenAIProvider{
		model:  model,
		client: openai.NewClientWithConfig(cfg),
	}
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) StreamTurn(ctx context.Context, req *TurnRequest) (EventStream, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:    p.model.Model,
		Messages: buildOpenAIMessages(req),
		Stream:   true,
		// The final chunk carries usage when requested
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
	}
	if req.Temperature > 0 {
		chatReq.Temperature = req.Temperature
	}
	if req.TopP > 0 {
		chatReq.TopP = req.TopP
	}

	inner, err := p.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}
	return &openaiStream{
		inner:    inner,
		toolIDs:  make(map[int]string),
		openSeen: make(map[string]bool),
	}, nil
}

func (p *OpenAIProvider) GenerateText(ctx context.Context, prompt string) (string, error) {
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("openai generation failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai generation returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func buildOpenAIMessages(req *TurnRequest) []openai.ChatCompletionMessage {
	var out []openai.ChatCompletionMessage
	if sys := req.SystemText(); sys != "" {
		out = append(out, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: sys,
		})
	}
	for i := range req.Messages {
		msg := &req.Messages[i]
		switch msg.Role {
		case data.RoleUser:
			out = append(out, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: msg.Content,
			})
		case data.RoleAssistant:
			m := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Content,
			}
			for _, p := range msg.Parts {
				if p.Type != data.PartTypeTool {
					continue
				}
				args, err := json.Marshal(p.ToolArgs)
				if err != nil {
					args = []byte("{}")
				}
				m.ToolCalls = append(m.ToolCalls, openai.ToolCall{
					ID:   p.ToolID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      p.ToolName,
						Arguments: string(args),
					},
				})
			}
			out = append(out, m)
		case data.RoleTool:
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				ToolCallID: msg.ToolCallID,
				Content:    msg.Content,
			})
		case data.RoleSystem:
			out = append(out, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleSystem,
				Content: msg.Content,
			})
		}
	}
	return out
}

// openaiStream converts chat completion chunks into StreamEvents. One chunk
// can yield several events (e.g. a tool call header plus its first argument
// fragment), so translated events queue in pending.
type openaiStream struct {
	inner    *openai.ChatCompletionStream
	pending  []StreamEvent
	current  StreamEvent
	err      error
	toolIDs  map[int]string  // tool call slot index -> id
	openSeen map[string]bool // tool ids still streaming arguments
	usage    *TokenUsage
}

func (s *openaiStream) Next() bool {
	for {
		if len(s.pending) > 0 {
			s.current = s.pending[0]
			s.pending = s.pending[1:]
			return true
		}
		if s.err != nil {
			return false
		}

		response, err := s.inner.Recv()
		if err == io.EOF {
			// Providers that omit finish_reason still need their tool
			// argument streams closed out
			s.closeOpenTools()
			if len(s.pending) > 0 {
				continue
			}
			return false
		}
		if err != nil {
			s.err = err
			return false
		}
		s.translate(&response)
	}
}

func (s *openaiStream) Current() StreamEvent { return s.current }

func (s *openaiStream) Err() error { return s.err }

func (s *openaiStream) Usage() (*TokenUsage, error) {
	if s.usage == nil {
		return nil, fmt.Errorf("no usage chunk received")
	}
	u := *s.usage
	return &u, nil
}

func (s *openaiStream) translate(response *openai.ChatCompletionStreamResponse) {
	if response.Usage != nil {
		s.usage = &TokenUsage{
			InputTokens:  response.Usage.PromptTokens,
			OutputTokens: response.Usage.CompletionTokens,
		}
	}
	if len(response.Choices) == 0 {
		return
	}
	choice := response.Choices[0]
	delta := choice.Delta

	if delta.ReasoningContent != "" {
		s.pending = append(s.pending, StreamEvent{Type: EventReasoningDelta, Delta: delta.ReasoningContent})
	}
	if delta.Content != "" {
		s.pending = append(s.pending, StreamEvent{Type: EventTextDelta, Text: delta.Content})
	}

	for _, call := range delta.ToolCalls {
		slot := 0
		if call.Index != nil {
			slot = *call.Index
		}
		if call.ID != "" {
			// New tool call slot
			s.toolIDs[slot] = call.ID
			s.openSeen[call.ID] = true
			s.pending = append(s.pending, StreamEvent{
				Type:     EventToolInputStart,
				ID:       call.ID,
				ToolName: call.Function.Name,
			})
		}
		if call.Function.Arguments != "" {
			id := s.toolIDs[slot]
			if id == "" {
				continue
			}
			s.pending = append(s.pending, StreamEvent{
				Type:  EventToolInputDelta,
				ID:    id,
				Delta: call.Function.Arguments,
			})
		}
	}

	if choice.FinishReason == openai.FinishReasonToolCalls {
		s.closeOpenTools()
	}
}

func (s *openaiStream) closeOpenTools() {
	for slot, id := range s.toolIDs {
		if s.openSeen[id] {
			s.openSeen[id] = false
			s.pending = append(s.pending, StreamEvent{Type: EventToolInputEnd, ID: id})
		}
		delete(s.toolIDs, slot)
	}
}
