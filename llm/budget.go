package llm

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// fallbackCharsPerToken approximates token counts when the tiktoken
// encoding cannot be initialised (e.g. offline first run).
const fallbackCharsPerToken = 4

// TokenBudgeter counts tokens so callers can keep assembled prompts within
// a model's context window. Counting uses tiktoken and degrades to a
// character heuristic if the encoding is unavailable.
type TokenBudgeter struct {
	encoding string
	enc      *tiktoken.Tiktoken
	once     sync.Once
	initErr  error
}

// NewTokenBudgeter creates a budgeter for the given tiktoken encoding.
// An empty encoding defaults to cl100k_base.
func NewTokenBudgeter(encoding string) *TokenBudgeter {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	return &TokenBudgeter{encoding: encoding}
}

// init lazily initialises the encoding (may download data on first use).
func (b *TokenBudgeter) init() error {
	b.once.Do(func() {
		enc, err := tiktoken.GetEncoding(b.encoding)
		if err != nil {
			b.initErr = fmt.Errorf("init tiktoken encoding %s: %w", b.encoding, err)
			return
		}
		b.enc = enc
	})
	return b.initErr
}

// CountTokens returns the token count for text, falling back to a
// character heuristic when the encoding is unavailable.
func (b *TokenBudgeter) CountTokens(text string) int {
	if err := b.init(); err != nil {
		return (len(text) + fallbackCharsPerToken - 1) / fallbackCharsPerToken
	}
	return len(b.enc.Encode(text, nil, nil))
}

// TruncateToBudget trims text so it fits within maxTokens. Text already
// within budget is returned unchanged.
func (b *TokenBudgeter) TruncateToBudget(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	if err := b.init(); err != nil {
		limit := maxTokens * fallbackCharsPerToken
		if len(text) <= limit {
			return text
		}
		return text[:limit]
	}
	tokens := b.enc.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text
	}
	return b.enc.Decode(tokens[:maxTokens])
}

// Name identifies the budgeter's encoding.
func (b *TokenBudgeter) Name() string {
	return fmt.Sprintf("tiktoken[%s]", b.encoding)
}
