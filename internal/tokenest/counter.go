package tokenest

import (
	"strings"
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// Counter provides exact token counting via tiktoken encodings for the
// adapters' countTokens capability. Encoders are cached with sync.Once to
// avoid repeated initialization.
type Counter struct {
	cl100kOnce sync.Once
	cl100kEnc  *tiktoken.Tiktoken
	cl100kErr  error

	o200kOnce sync.Once
	o200kEnc  *tiktoken.Tiktoken
	o200kErr  error
}

// modelEncodings maps model names to their tiktoken encoding. Unknown models
// fall back to cl100k_base, which is close enough for budget enforcement.
var modelEncodings = map[string]string{
	"claude-3-5-sonnet": "cl100k_base",
	"claude-3-opus":     "cl100k_base",
	"claude-3-haiku":    "cl100k_base",

	"gpt-4":       "cl100k_base",
	"gpt-4-turbo": "cl100k_base",
	"gpt-4o":      "o200k_base",
	"gpt-4o-mini": "o200k_base",

	"deepseek-chat":  "cl100k_base",
	"deepseek-coder": "cl100k_base",
}

// NewCounter creates a Counter.
func NewCounter() *Counter {
	return &Counter{}
}

// Encoding returns the encoding name for the given model, using prefix
// matching for versioned model names.
func (c *Counter) Encoding(model string) string {
	if enc, ok := modelEncodings[model]; ok {
		return enc
	}
	lower := strings.ToLower(model)
	for m, enc := range modelEncodings {
		if strings.HasPrefix(lower, m) {
			return enc
		}
	}
	return "cl100k_base"
}

func (c *Counter) encoder(model string) (*tiktoken.Tiktoken, error) {
	switch c.Encoding(model) {
	case "o200k_base":
		c.o200kOnce.Do(func() {
			c.o200kEnc, c.o200kErr = tiktoken.GetEncoding("o200k_base")
		})
		return c.o200kEnc, c.o200kErr
	default:
		c.cl100kOnce.Do(func() {
			c.cl100kEnc, c.cl100kErr = tiktoken.GetEncoding("cl100k_base")
		})
		return c.cl100kEnc, c.cl100kErr
	}
}

// Count returns the token count of text for the given model. If the encoding
// cannot be initialized (e.g. no BPE data available offline), it falls back
// to the word-count heuristic so callers always get a usable number.
func (c *Counter) Count(model, text string) int {
	enc, err := c.encoder(model)
	if err != nil {
		return Estimate(text).PromptTokens
	}
	return len(enc.Encode(text, nil, nil))
}
