package tokenest

import (
	"math"
	"strings"
)

// Usage holds token accounting for a single gateway call. When the provider
// reports counts they are used verbatim; otherwise Estimate fills them in.
type Usage struct {
	PromptTokens     int  `json:"promptTokens"`
	CompletionTokens int  `json:"completionTokens"`
	TotalTokens      int  `json:"totalTokens"`
	Estimated        bool `json:"estimated"`
}

// Estimate approximates token usage from the serialized request text when a
// provider omits usage data:
//
//	promptTokens     = round(wordCount * 1.3)
//	completionTokens = round(promptTokens * 1.5)
//	totalTokens      = promptTokens + completionTokens
//
// The approximation is deterministic for identical input text; downstream
// telemetry depends on that.
func Estimate(text string) Usage {
	words := len(strings.Fields(text))
	prompt := int(math.Round(float64(words) * 1.3))
	completion := int(math.Round(float64(prompt) * 1.5))
	return Usage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
		Estimated:        true,
	}
}

// FromReported builds a Usage from provider-reported counts. A missing total
// is derived from the two parts.
func FromReported(prompt, completion, total int) Usage {
	if total == 0 {
		total = prompt + completion
	}
	return Usage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      total,
	}
}
