package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/activebook/gturn/data"
)

// TurnRequest is the serialized input of one turn: the system prompt, the
// history to replay, optional workspace context appended to the system
// prompt, and sampling knobs resolved from the model config.
type TurnRequest struct {
	SystemPrompt string
	Workspace    string
	Messages     []data.Message
	Temperature  float32
	TopP         float32
}

// SystemText renders the effective system prompt including workspace context.
func (r *TurnRequest) SystemText() string {
	if r.Workspace == "" {
		return r.SystemPrompt
	}
	if r.SystemPrompt == "" {
		return "Workspace context:\n" + r.Workspace
	}
	return r.SystemPrompt + "\n\nWorkspace context:\n" + r.Workspace
}

// TextGenerator is the single-shot text capability the summary generator
// needs. Every Provider implements it.
type TextGenerator interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
}

// Provider is a resolved provider/model handle. StreamTurn opens a fresh
// event stream for one attempt; calling it again starts an independent
// attempt (streams are single-pass and not restartable).
type Provider interface {
	TextGenerator
	Name() string
	StreamTurn(ctx context.Context, req *TurnRequest) (EventStream, error)
}

// NewProvider resolves a model definition into a provider handle.
func NewProvider(model *data.Model) (Provider, error) {
	if model == nil {
		return nil, fmt.Errorf("no model definition")
	}
	switch strings.ToLower(model.Provider) {
	case "anthropic":
		return NewAnthropicProvider(model), nil
	case "openai", "openai-compatible":
		return NewOpenAIProvider(model), nil
	case "gemini", "google":
		return NewGeminiProvider(model)
	default:
		return nil, fmt.Errorf("unknown provider %q for model %q", model.Provider, model.Name)
	}
}
