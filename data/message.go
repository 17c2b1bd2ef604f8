package data

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// Message roles. These mirror the wire roles used by chat providers.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Part types within a message.
const (
	PartTypeText      = "text"
	PartTypeReasoning = "reasoning"
	PartTypeTool      = "tool"
)

// Part is one ordered element of a message body.
// Text/Reasoning parts carry Text; tool parts carry the call record.
type Part struct {
	Type       string         `yaml:"type"`
	Text       string         `yaml:"text,omitempty"`
	ToolID     string         `yaml:"tool_id,omitempty"`
	ToolName   string         `yaml:"tool_name,omitempty"`
	ToolArgs   map[string]any `yaml:"tool_args,omitempty"`
	ToolResult any            `yaml:"tool_result,omitempty"`
}

// Message is one entry of conversation history. It is consumed read-only by
// the streaming/compression core; durability belongs to the caller.
// Ordering by CreatedAt is the estimation/compression ordering key.
type Message struct {
	ID           string    `yaml:"id"`
	Role         string    `yaml:"role"`
	Content      string    `yaml:"content,omitempty"`
	Reasoning    string    `yaml:"reasoning,omitempty"`
	Parts        []Part    `yaml:"parts,omitempty"`
	ToolCallID   string    `yaml:"tool_call_id,omitempty"`
	TokensInput  int       `yaml:"tokens_input,omitempty"`
	TokensOutput int       `yaml:"tokens_output,omitempty"`
	CreatedAt    time.Time `yaml:"created_at"`
}

// HasToolCalls reports whether the message carries at least one tool part.
func (m *Message) HasToolCalls() bool {
	for _, p := range m.Parts {
		if p.Type == PartTypeTool {
			return true
		}
	}
	return false
}

// CharCount returns the visible character count used for token estimation
// fallback when no recorded usage is present.
func (m *Message) CharCount() int {
	n := len(m.Content) + len(m.Reasoning)
	for _, p := range m.Parts {
		n += len(p.Text)
	}
	return n
}

// Transcript is the YAML exchange format the CLI reads and writes.
// It is a snapshot, not a storage layer: compression state (the running
// summary and its watermark) rides along so chained compression can extend it.
type Transcript struct {
	Summary        string    `yaml:"summary,omitempty"`
	CompressedUpTo time.Time `yaml:"compressed_up_to,omitempty"`
	Messages       []Message `yaml:"messages"`
}

// LoadTranscript reads a transcript file and returns its messages sorted by
// CreatedAt ascending.
func LoadTranscript(path string) (*Transcript, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read transcript: %w", err)
	}
	var tr Transcript
	if err := yaml.Unmarshal(raw, &tr); err != nil {
		return nil, fmt.Errorf("failed to parse transcript: %w", err)
	}
	sort.SliceStable(tr.Messages, func(i, j int) bool {
		return tr.Messages[i].CreatedAt.Before(tr.Messages[j].CreatedAt)
	})
	return &tr, nil
}

// SaveTranscript writes the transcript back as YAML.
func (tr *Transcript) SaveTranscript(path string) error {
	raw, err := yaml.Marshal(tr)
	if err != nil {
		return fmt.Errorf("failed to marshal transcript: %w", err)
	}
	if err := os.WriteFile(path, raw, 0644); err != nil {
		return fmt.Errorf("failed to write transcript: %w", err)
	}
	return nil
}
