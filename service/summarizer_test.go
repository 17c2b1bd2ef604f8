package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/activebook/gturn/data"
)

// fakeGenerator captures the prompt it is asked to complete.
type fakeGenerator struct {
	prompt string
	reply  string
	err    error
	calls  int
}

func (g *fakeGenerator) GenerateText(ctx context.Context, prompt string) (string, error) {
	g.calls++
	g.prompt = prompt
	return g.reply, g.err
}

func summaryInput() []data.Message {
	return []data.Message{
		{
			ID:        "m1",
			Role:      data.RoleUser,
			Content:   "please list the files",
			CreatedAt: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
		},
		{
			ID:      "m2",
			Role:    data.RoleAssistant,
			Content: "here you go",
			Parts: []data.Part{{
				Type:       data.PartTypeTool,
				ToolID:     "t1",
				ToolName:   "bash",
				ToolArgs:   map[string]any{"command": "ls"},
				ToolResult: "main.go",
			}},
			CreatedAt: time.Date(2025, 3, 1, 10, 1, 0, 0, time.UTC),
		},
	}
}

func TestGenerateSummary(t *testing.T) {
	gen := &fakeGenerator{reply: "  user asked for a listing; assistant ran ls.  "}

	result, err := GenerateSummary(context.Background(), gen, summaryInput(), "")
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	if gen.calls != 1 {
		t.Errorf("generator calls = %d, want exactly 1", gen.calls)
	}
	if result.Summary != "user asked for a listing; assistant ran ls." {
		t.Errorf("Summary = %q, want trimmed reply", result.Summary)
	}
	want := time.Date(2025, 3, 1, 10, 1, 0, 0, time.UTC)
	if !result.CompressedUpTo.Equal(want) {
		t.Errorf("CompressedUpTo = %v, want last message's timestamp %v", result.CompressedUpTo, want)
	}
}

func TestGenerateSummaryPromptSubstitution(t *testing.T) {
	gen := &fakeGenerator{reply: "updated"}

	_, err := GenerateSummary(context.Background(), gen, summaryInput(), "earlier summary text")
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	if strings.Contains(gen.prompt, "{{existing_summary}}") || strings.Contains(gen.prompt, "{{messages}}") {
		t.Error("template placeholders survived substitution")
	}
	if !strings.Contains(gen.prompt, "earlier summary text") {
		t.Error("existing summary missing from prompt")
	}
	if !strings.Contains(gen.prompt, "USER: please list the files") {
		t.Errorf("serialized transcript missing from prompt:\n%s", gen.prompt)
	}
}

func TestGenerateSummaryEmptyInput(t *testing.T) {
	gen := &fakeGenerator{reply: "should not be called"}

	_, err := GenerateSummary(context.Background(), gen, nil, "")
	if err == nil {
		t.Fatal("err = nil, want failure on empty input")
	}
	if gen.calls != 0 {
		t.Errorf("generator calls = %d, want 0", gen.calls)
	}
}

func TestGenerateSummaryGeneratorFailure(t *testing.T) {
	cause := errors.New("503 overloaded")
	gen := &fakeGenerator{err: cause}

	result, err := GenerateSummary(context.Background(), gen, summaryInput(), "")
	if err == nil {
		t.Fatal("err = nil, want the generation failure to propagate")
	}
	if !errors.Is(err, cause) {
		t.Errorf("err = %v, want wrapped cause", err)
	}
	if result != nil {
		t.Errorf("result = %+v, want nil on failure", result)
	}
}

func TestSerializeMessages(t *testing.T) {
	got := SerializeMessages(summaryInput())

	if !strings.Contains(got, "USER: please list the files") {
		t.Errorf("missing user line:\n%s", got)
	}
	if !strings.Contains(got, "ASSISTANT: here you go") {
		t.Errorf("missing assistant line:\n%s", got)
	}
	if !strings.Contains(got, `[tool: bash args={"command":"ls"} result="main.go"]`) {
		t.Errorf("missing tool marker:\n%s", got)
	}
}

func TestSerializeMessagesToolWithoutResult(t *testing.T) {
	messages := []data.Message{{
		ID:   "m1",
		Role: data.RoleAssistant,
		Parts: []data.Part{{
			Type:     data.PartTypeTool,
			ToolID:   "t1",
			ToolName: "search",
			ToolArgs: map[string]any{"q": "go"},
		}},
	}}

	got := SerializeMessages(messages)
	if !strings.Contains(got, `[tool: search args={"q":"go"}]`) {
		t.Errorf("marker = %q, want args-only form", got)
	}
	if strings.Contains(got, "result=") {
		t.Errorf("unexpected result field in %q", got)
	}
}
