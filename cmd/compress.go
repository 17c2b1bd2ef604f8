// File: cmd/compress.go
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/activebook/gturn/data"
	"github.com/activebook/gturn/service"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	dryRunFlag bool
	forceFlag  bool
)

func init() {
	rootCmd.AddCommand(compressCmd)
	compressCmd.Flags().BoolVar(&dryRunFlag, "dry-run", false, "Show the compression plan without calling the model")
	compressCmd.Flags().BoolVar(&forceFlag, "force", false, "Compress even below the usage threshold")
	compressCmd.Flags().StringVarP(&modelFlag, "model", "m", "", "Specify the model to use for summarization")
}

var compressCmd = &cobra.Command{
	Use:   "compress <transcript>",
	Short: "Compress a transcript's older history into a running summary",
	Long: `Estimates the transcript's token usage, and when it exceeds the configured
share of the context limit, folds the older messages into a chained summary.
The most recent messages are kept verbatim and tool call/result pairs are
never split across the summary boundary.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := compressTranscript(cmd.Context(), args[0]); err != nil {
			service.Errorf("%v\n", err)
			os.Exit(1)
		}
	},
}

func compressTranscript(ctx context.Context, path string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	transcript, err := data.LoadTranscript(path)
	if err != nil {
		return err
	}

	cfg := store.GetCompressConfig()
	estimated := service.EstimateHistoryTokens(transcript.Messages)
	threshold := int(float64(cfg.ContextLimit) * cfg.ThresholdRatio)

	fmt.Printf("Messages:  %d\n", len(transcript.Messages))
	fmt.Printf("Estimated: ~%d tokens (threshold %d of %d limit)\n", estimated, threshold, cfg.ContextLimit)

	if !forceFlag && !service.ShouldCompress(transcript.Messages, cfg.ContextLimit, cfg.ThresholdRatio) {
		fmt.Println("Nothing to do: history is below the compression threshold.")
		return nil
	}

	boundary := service.SelectCompressionBoundary(transcript.Messages, cfg.ContextLimit, cfg.KeepRatio)
	if len(boundary.ToCompress) == 0 {
		fmt.Println("Nothing to do: the keep budget covers the whole history.")
		return nil
	}

	fmt.Printf("Plan:      summarize %d messages, keep %d verbatim\n",
		len(boundary.ToCompress), len(boundary.ToKeep))
	if dryRunFlag {
		return nil
	}

	model, err := resolveModel()
	if err != nil {
		return err
	}
	provider, err := service.NewProvider(model)
	if err != nil {
		return err
	}

	return gate.Do(path, func() error {
		indicator := service.NewIndicator()
		indicator.Start(service.IndicatorSummarize)
		result, err := service.GenerateSummary(ctx, provider, boundary.ToCompress, transcript.Summary)
		indicator.Stop()
		if err != nil {
			// The transcript is untouched; the caller can retry later
			return err
		}

		transcript.Summary = result.Summary
		transcript.CompressedUpTo = result.CompressedUpTo
		transcript.Messages = boundary.ToKeep
		if err := transcript.SaveTranscript(path); err != nil {
			return err
		}

		color.New(color.FgHiGreen).Printf("Compressed: %d messages folded into the summary, %d kept.\n",
			len(boundary.ToCompress), len(boundary.ToKeep))
		return nil
	})
}

// maybeCompress runs the pre-turn compression check for run. The caller holds
// the conversation gate already, so this mutates the transcript directly.
func maybeCompress(ctx context.Context, provider service.Provider, transcript *data.Transcript) error {
	cfg := store.GetCompressConfig()
	if !service.ShouldCompress(transcript.Messages, cfg.ContextLimit, cfg.ThresholdRatio) {
		return nil
	}
	boundary := service.SelectCompressionBoundary(transcript.Messages, cfg.ContextLimit, cfg.KeepRatio)
	if len(boundary.ToCompress) == 0 {
		return nil
	}

	service.Infof("history at ~%d tokens, compressing %d of %d messages",
		service.EstimateHistoryTokens(transcript.Messages), len(boundary.ToCompress), len(transcript.Messages))

	result, err := service.GenerateSummary(ctx, provider, boundary.ToCompress, transcript.Summary)
	if err != nil {
		return err
	}
	transcript.Summary = result.Summary
	transcript.CompressedUpTo = result.CompressedUpTo
	transcript.Messages = boundary.ToKeep
	return nil
}
