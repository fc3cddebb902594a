package tokens

import (
	"fmt"

	"poe-bridge/internal/wire"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding approximates the tokenizers of the chat bots Poe fronts.
const DefaultEncoding = "cl100k_base"

// Encoder is the subset of *tiktoken.Tiktoken the counter needs.
type Encoder interface {
	Encode(text string, allowedSpecial []string, disallowedSpecial []string) []int
}

// Counter estimates token usage for prompts and replies. Poe does not report
// usage, so the numbers are local estimates.
type Counter struct {
	enc Encoder
}

// New loads the named tiktoken encoding. The BPE ranks are fetched on first use
// and cached under TIKTOKEN_CACHE_DIR when that is set.
func New(encoding string) (*Counter, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load tiktoken encoding %q: %w", encoding, err)
	}
	return &Counter{enc: enc}, nil
}

// NewWithEncoder wraps an existing encoder.
func NewWithEncoder(enc Encoder) *Counter {
	return &Counter{enc: enc}
}

// Count returns the number of tokens in text.
func (c *Counter) Count(text string) int {
	if c == nil || c.enc == nil || text == "" {
		return 0
	}
	return len(c.enc.Encode(text, nil, nil))
}

// Usage builds the usage block for one exchange. A nil counter yields nil.
func (c *Counter) Usage(prompt, completion string) *wire.Usage {
	if c == nil {
		return nil
	}
	p, r := c.Count(prompt), c.Count(completion)
	return &wire.Usage{PromptTokens: p, CompletionTokens: r, TotalTokens: p + r}
}
