// File: cmd/run.go
package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/activebook/gturn/data"
	"github.com/activebook/gturn/service"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	modelFlag      string // gturn "What is Go?" --model(-m) sonnet
	sysPromptFlag  string // gturn "Act as shell" --system-prompt(-S) "You are..."
	workspaceFlag  string // gturn --workspace(-w) "repo layout: ..."
	transcriptFlag string // gturn --transcript(-t) convo.yaml
	noCompressFlag bool

	// gate serializes turns per transcript so a turn never overlaps a
	// compression pass for the same conversation
	gate = service.NewTurnGate()
)

func init() {
	rootCmd.AddCommand(runCmd)
	addTurnFlags(runCmd)
}

func addTurnFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&modelFlag, "model", "m", "", "Specify the model to use (a key under 'models')")
	cmd.Flags().StringVarP(&sysPromptFlag, "system-prompt", "S", "", "Specify a system prompt")
	cmd.Flags().StringVarP(&workspaceFlag, "workspace", "w", "", "Workspace context appended to the system prompt")
	cmd.Flags().StringVarP(&transcriptFlag, "transcript", "t", "", "Transcript YAML to continue and update")
	cmd.Flags().BoolVar(&noCompressFlag, "no-compress", false, "Skip the pre-turn compression check")
}

var runCmd = &cobra.Command{
	Use:   "run [prompt]",
	Short: "Run one streaming conversation turn",
	Long: `Runs a single turn: sends the prompt (plus any transcript history) to the
configured model, streams the reply to the terminal, and appends both
messages to the transcript when one is given.`,
	Args: cobra.ArbitraryArgs,
	Run: func(cmd *cobra.Command, args []string) {
		prompt := ""
		if len(args) > 0 {
			prompt = args[0]
		} else {
			prompt = readStdin()
		}
		if err := runTurn(cmd.Context(), prompt); err != nil {
			service.Errorf("%v\n", err)
			os.Exit(1)
		}
	},
}

// runTurn executes one full orchestrated turn against the active model.
func runTurn(ctx context.Context, prompt string) error {
	if prompt == "" {
		return fmt.Errorf("empty prompt")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	model, err := resolveModel()
	if err != nil {
		return err
	}
	provider, err := service.NewProvider(model)
	if err != nil {
		return err
	}

	// Load transcript history when continuing a conversation
	var transcript *data.Transcript
	if transcriptFlag != "" {
		transcript, err = loadOrCreateTranscript(transcriptFlag)
		if err != nil {
			return err
		}
	} else {
		transcript = &data.Transcript{}
	}

	conversationID := transcriptFlag
	if conversationID == "" {
		conversationID = "adhoc"
	}

	return gate.Do(conversationID, func() error {
		// Compress first so the new turn fits the context window
		if !noCompressFlag && transcriptFlag != "" {
			if err := maybeCompress(ctx, provider, transcript); err != nil {
				// Proceed with the uncompressed history rather than losing the turn
				service.Warnf("compression skipped: %v", err)
			}
		}

		userMsg := data.Message{
			ID:        newMessageID(),
			Role:      data.RoleUser,
			Content:   prompt,
			CreatedAt: time.Now(),
		}
		history := append(append([]data.Message{}, transcript.Messages...), userMsg)

		result, err := streamOneTurn(ctx, provider, transcript.Summary, history)
		if err != nil {
			return err
		}

		if transcriptFlag != "" {
			transcript.Messages = append(transcript.Messages, userMsg,
				result.ToMessage(newMessageID(), time.Now()))
			if err := transcript.SaveTranscript(transcriptFlag); err != nil {
				return err
			}
		}
		return nil
	})
}

// streamOneTurn drives the retry loop and renders deltas as they arrive.
func streamOneTurn(ctx context.Context, provider service.Provider, summary string, history []data.Message) (*service.StreamResult, error) {
	model, err := resolveModel()
	if err != nil {
		return nil, err
	}
	retry := store.GetRetryConfig()

	sysPrompt := sysPromptFlag
	if summary != "" {
		sysPrompt = joinSystemPrompt(sysPrompt, "Summary of earlier conversation:\n"+summary)
	}

	req := &service.TurnRequest{
		SystemPrompt: sysPrompt,
		Workspace:    workspaceFlag,
		Messages:     history,
		Temperature:  model.Temp,
		TopP:         model.TopP,
	}

	indicator := service.NewIndicator()
	printed := 0
	toolColor := color.New(color.FgHiYellow)
	reasonColor := color.New(color.FgHiBlack)

	opts := service.StreamLoopOptions{
		Provider:    provider,
		Request:     req,
		Metrics:     service.NewRunMetrics(provider.Name()),
		Label:       provider.Name(),
		MaxAttempts: retry.MaxAttempts,
		BaseDelay:   retry.BaseDelay,
		MaxDelay:    retry.MaxDelay,
		StreamDebug: store.StreamDebugEnabled(),
	}
	cb := service.StreamLoopCallbacks{
		OnUpdate: func(partial *service.StreamResult) {
			if printed == 0 && (len(partial.Content) > 0 || len(partial.ToolCalls) > 0) {
				indicator.Stop()
			}
			if len(partial.Content) > printed {
				fmt.Print(partial.Content[printed:])
				printed = len(partial.Content)
			}
		},
		OnRateLimitRetry: func(attempt int) {
			printed = 0
			indicator.Retry(attempt, opts.MaxAttempts)
		},
	}

	result, err := service.RunStreamLoop(ctx, opts, cb)
	indicator.Stop()
	if err != nil {
		// Partial content was already printed; surface the failure after it
		fmt.Println()
		return nil, err
	}

	if result.Reasoning != "" && store.StreamDebugEnabled() {
		reasonColor.Printf("\n[reasoning: %d chars]\n", len(result.Reasoning))
	}
	for _, tc := range result.ToolCalls {
		toolColor.Printf("\n[tool %s: %s (%dms)]\n", tc.ID, tc.ToolName, tc.DurationMs)
	}
	fmt.Println()
	return result, nil
}

func resolveModel() (*data.Model, error) {
	if modelFlag != "" {
		m := store.GetModel(modelFlag)
		if m == nil {
			return nil, fmt.Errorf("model %q is not defined under 'models'", modelFlag)
		}
		return m, nil
	}
	return store.GetActiveModel()
}

func loadOrCreateTranscript(path string) (*data.Transcript, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return &data.Transcript{}, nil
	}
	return data.LoadTranscript(path)
}

func joinSystemPrompt(base, extra string) string {
	if base == "" {
		return extra
	}
	return base + "\n\n" + extra
}
