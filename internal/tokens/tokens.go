// Package tokens provides token estimation for conversation turns.
//
// Exact token counts depend on the provider's tokenizer, which this engine
// deliberately does not bundle. Callers may plug in a real counter; every
// consumer falls back to the character-based approximation here when no
// counter is configured or the counter fails.
package tokens

import (
	"github.com/codebuddy-ai/codebuddy-memory/pkg/types"
)

// CharsPerToken is the character-to-token ratio used by the fallback
// estimate. Four characters per token is a reasonable approximation for
// English text and code.
const CharsPerToken = 4

// turnOverhead approximates the per-message framing cost (role markers,
// separators) charged by chat APIs.
const turnOverhead = 4

// EstimateText approximates the token count of a text fragment.
// Non-empty text always costs at least one token.
func EstimateText(text string) int {
	if len(text) == 0 {
		return 0
	}
	n := len(text) / CharsPerToken
	if n < 1 {
		n = 1
	}
	return n
}

// EstimateTurns approximates the token count of a turn list, including
// per-turn framing overhead and tool call references.
func EstimateTurns(turns []types.Turn) int {
	total := 0
	for _, t := range turns {
		total += turnOverhead
		total += EstimateText(t.Content)
		for _, tc := range t.ToolCalls {
			total += EstimateText(tc.Name) + EstimateText(tc.ID)
		}
		if t.ToolName != "" {
			total += EstimateText(t.ToolName)
		}
	}
	return total
}

// CountTurns returns the token count for turns using the supplied counter,
// falling back to EstimateTurns when the counter is nil or fails. It never
// returns an error; token counting problems must not break turn processing.
func CountTurns(turns []types.Turn, counter types.TokenCounter) int {
	if counter != nil {
		if n, err := counter(turns); err == nil && n >= 0 {
			return n
		}
	}
	return EstimateTurns(turns)
}
