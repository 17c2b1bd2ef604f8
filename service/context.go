package service

import (
	"github.com/activebook/gturn/data"
)

// Compression knobs. The ratios are configuration, not canon: callers should
// pass the values from data.CompressConfig and only fall back to these.
const (
	// DefaultThresholdRatio is the share of the context limit at which
	// compression kicks in.
	DefaultThresholdRatio = 0.75

	// DefaultKeepRatio is the share of the context limit reserved for the
	// most recent messages kept verbatim.
	DefaultKeepRatio = 0.35

	// MinHistoryForCompression is the minimum history length worth compressing.
	MinHistoryForCompression = 6

	// MinKeepMessages is the floor on messages kept verbatim.
	MinKeepMessages = 2
)

// CompressionBoundary is the split of history into messages to summarize and
// messages to keep verbatim. len(ToCompress)+len(ToKeep) always equals the
// input length, and a tool-call/tool-result pair never straddles the split.
type CompressionBoundary struct {
	ToCompress []data.Message
	ToKeep     []data.Message
}

// ShouldCompress reports whether the history's estimated token usage exceeds
// thresholdRatio of the context limit. Short histories are never compressed.
func ShouldCompress(history []data.Message, contextLimit int, thresholdRatio float64) bool {
	if len(history) < MinHistoryForCompression {
		return false
	}
	if thresholdRatio <= 0 {
		thresholdRatio = DefaultThresholdRatio
	}
	estimated := EstimateNextTurnTokens(history, 0)
	return float64(estimated) > float64(contextLimit)*thresholdRatio
}

// SelectCompressionBoundary reserves contextLimit*keepRatio tokens for the
// most recent messages and marks everything older for compression. The split
// is then adjusted so that no role="tool" message lands on the opposite side
// from the assistant message that issued its call, and so that at least
// MinKeepMessages survive verbatim.
func SelectCompressionBoundary(history []data.Message, contextLimit int, keepRatio float64) CompressionBoundary {
	if len(history) == 0 {
		return CompressionBoundary{}
	}
	if keepRatio <= 0 {
		keepRatio = DefaultKeepRatio
	}
	keepBudget := float64(contextLimit) * keepRatio

	cache := GetGlobalTokenCache()

	// Walk from the newest message backward while the running size fits
	keepStart := len(history)
	running := 0
	for i := len(history) - 1; i >= 0; i-- {
		cost := cache.GetOrComputeMessageTokens(&history[i])
		if float64(running+cost) > keepBudget {
			break
		}
		running += cost
		keepStart = i
	}

	// Keep at least MinKeepMessages regardless of size
	if len(history) >= MinKeepMessages && keepStart > len(history)-MinKeepMessages {
		keepStart = len(history) - MinKeepMessages
	}

	// Never split a tool result from the assistant message that issued its
	// call: widen the kept side until the pair is whole.
	for keepStart > 0 && keepStart < len(history) && history[keepStart].Role == data.RoleTool {
		keepStart--
	}

	return CompressionBoundary{
		ToCompress: history[:keepStart],
		ToKeep:     history[keepStart:],
	}
}
