package types

// TokenUsage tracks prompt and completion token consumption for one or
// more model calls.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates another usage into u.
func (u *TokenUsage) Add(other TokenUsage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// SumUsage aggregates a set of usages into one.
func SumUsage(usages ...TokenUsage) TokenUsage {
	var total TokenUsage
	for _, u := range usages {
		total.Add(u)
	}
	return total
}
