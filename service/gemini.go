package service

import (
	"context"
	"fmt"
	"iter"

	"google.golang.org/genai"

	"github.com/activebook/gturn/data"
)

// GeminiProvider adapts the Gemini API to the abstract event stream.
// Gemini delivers tool calls complete rather than as argument fragments, so
// the adapter emits tool-call events with atomic input.
type GeminiProvider struct {
	model  *data.Model
	client *genai.Client
}

func NewGeminiProvider(model *data.Model) (*GeminiProvider, error) {
	// Client construction performs no I/O; a background context is fine here
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  model.Key,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &GeminiProvider{model: model, client: client}, nil
}

func (p *GeminiProvider) Name() string { return "gemini" }

func (p *GeminiProvider) StreamTurn(ctx context.Context, req *TurnRequest) (EventStream, error) {
	config := &genai.GenerateContentConfig{}
	if sys := req.SystemText(); sys != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: sys}},
		}
	}
	if req.Temperature > 0 {
		config.Temperature = genai.Ptr(req.Temperature)
	}
	if req.TopP > 0 {
		config.TopP = genai.Ptr(req.TopP)
	}

	it := p.client.Models.GenerateContentStream(ctx, p.model.Model, buildGeminiMessages(req.Messages), config)
	next, stop := iter.Pull2(it)
	return &geminiStream{next: next, stop: stop}, nil
}

func (p *GeminiProvider) GenerateText(ctx context.Context, prompt string) (string, error) {
	resp, err := p.client.Models.GenerateContent(ctx, p.model.Model, genai.Text(prompt), nil)
	if err != nil {
		return "", fmt.Errorf("gemini generation failed: %w", err)
	}
	text := ""
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if !part.Thought {
				text += part.Text
			}
		}
	}
	return text, nil
}

func buildGeminiMessages(history []data.Message) []*genai.Content {
	var out []*genai.Content
	for i := range history {
		msg := &history[i]
		switch msg.Role {
		case data.RoleUser:
			out = append(out, &genai.Content{
				Role:  genai.RoleUser,
				Parts: []*genai.Part{{Text: msg.Content}},
			})
		case data.RoleAssistant:
			content := &genai.Content{Role: genai.RoleModel}
			if msg.Content != "" {
				content.Parts = append(content.Parts, &genai.Part{Text: msg.Content})
			}
			for _, p := range msg.Parts {
				if p.Type == data.PartTypeTool {
					content.Parts = append(content.Parts, &genai.Part{
						FunctionCall: &genai.FunctionCall{
							ID:   p.ToolID,
							Name: p.ToolName,
							Args: p.ToolArgs,
						},
					})
				}
			}
			if len(content.Parts) > 0 {
				out = append(out, content)
			}
		case data.RoleTool:
			out = append(out, &genai.Content{
				Role: genai.RoleUser,
				Parts: []*genai.Part{{
					FunctionResponse: &genai.FunctionResponse{
						ID:       msg.ToolCallID,
						Name:     msg.ToolCallID,
						Response: map[string]any{"output": msg.Content},
					},
				}},
			})
		case data.RoleSystem:
			// System text travels in config.SystemInstruction
		}
	}
	return out
}

// geminiStream pulls responses from the SDK's push iterator and fans each
// response's parts out into StreamEvents.
type geminiStream struct {
	next    func() (*genai.GenerateContentResponse, error, bool)
	stop    func()
	pending []StreamEvent
	current StreamEvent
	err     error
	usage   *TokenUsage
	stopped bool
}

func (s *geminiStream) Next() bool {
	for {
		if len(s.pending) > 0 {
			s.current = s.pending[0]
			s.pending = s.pending[1:]
			return true
		}
		if s.err != nil || s.stopped {
			return false
		}

		resp, err, ok := s.next()
		if !ok {
			s.stopped = true
			s.stop()
			return false
		}
		if err != nil {
			s.err = err
			s.stopped = true
			s.stop()
			return false
		}
		s.translate(resp)
	}
}

func (s *geminiStream) Current() StreamEvent { return s.current }

func (s *geminiStream) Err() error { return s.err }

func (s *geminiStream) Usage() (*TokenUsage, error) {
	if s.usage == nil {
		return nil, fmt.Errorf("no usage metadata received")
	}
	u := *s.usage
	return &u, nil
}

func (s *geminiStream) translate(resp *genai.GenerateContentResponse) {
	if resp.UsageMetadata != nil {
		s.usage = &TokenUsage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue // skip candidates with nil content
		}
		for _, part := range candidate.Content.Parts {
			switch {
			case part.FunctionCall != nil:
				s.pending = append(s.pending, StreamEvent{
					Type:     EventToolCall,
					ID:       part.FunctionCall.ID,
					ToolName: part.FunctionCall.Name,
					Input:    part.FunctionCall.Args,
				})
			case part.Thought && part.Text != "":
				s.pending = append(s.pending, StreamEvent{Type: EventReasoningDelta, Delta: part.Text})
			case part.Text != "":
				s.pending = append(s.pending, StreamEvent{Type: EventTextDelta, Text: part.Text})
			}
		}
	}
}
