package synthesis

import (
	"fmt"
	"log/slog"
	"sync"
	"unicode/utf8"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

const (
	budgetEncoding = "cl100k_base"
	// charsPerToken approximates budget checks when the encoder is
	// unavailable.
	charsPerToken = 4
	headRatio     = 0.7
	tailRatio     = 0.2
)

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
)

// loadEncoder initializes the tokenizer once. A load failure downgrades
// counting to the character approximation.
func loadEncoder() *tiktoken.Tiktoken {
	encOnce.Do(func() {
		e, err := tiktoken.GetEncoding(budgetEncoding)
		if err != nil {
			slog.Debug("synthesis: tokenizer unavailable, using char estimate", "error", err)
			return
		}
		enc = e
	})
	return enc
}

// tokenCount measures a summary against the budget.
func tokenCount(s string) int {
	if e := loadEncoder(); e != nil {
		return len(e.Encode(s, nil, nil))
	}
	return len(s) / charsPerToken
}

// trimToBudget cuts an over-budget summary with a head/tail split so
// both the opening sections and the suggestions at the end survive.
func trimToBudget(summary string, maxTokens int) string {
	if maxTokens <= 0 || tokenCount(summary) <= maxTokens {
		return summary
	}

	maxChars := maxTokens * charsPerToken
	if len(summary) <= maxChars {
		return summary
	}

	headChars := int(float64(maxChars) * headRatio)
	tailChars := int(float64(maxChars) * tailRatio)
	if headChars+tailChars >= len(summary) {
		return summary
	}

	head := summary[:runeFloor(summary, headChars)]
	tail := summary[runeFloor(summary, len(summary)-tailChars):]
	marker := fmt.Sprintf("\n\n[...context trimmed, kept %d+%d chars of %d...]\n\n", len(head), len(tail), len(summary))
	return head + marker + tail
}

// runeFloor walks i back to the nearest rune boundary so byte-index
// cuts never split a multibyte character.
func runeFloor(s string, i int) int {
	if i >= len(s) {
		return len(s)
	}
	for i > 0 && !utf8.RuneStart(s[i]) {
		i--
	}
	return i
}
