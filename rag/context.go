package rag

import (
	"fmt"
	"strings"

	"github.com/quorumflow/quorumflow/llm"
)

// AssembleContext renders passages into a numbered source block suitable
// for embedding in a completion prompt. When tokenBudget is positive the
// output is kept within it using the budgeter; later (lower-similarity)
// passages are dropped first, and the first passage is truncated rather
// than dropped so the context is never empty when passages exist.
func AssembleContext(passages []Passage, budgeter *llm.TokenBudgeter, tokenBudget int) string {
	if len(passages) == 0 {
		return ""
	}

	var b strings.Builder
	used := 0
	for i, p := range passages {
		block := fmt.Sprintf("[Source %d] (document %s, similarity %.2f)\n%s\n\n",
			i+1, p.DocumentID, p.Similarity, strings.TrimSpace(p.Content))

		if tokenBudget > 0 && budgeter != nil {
			cost := budgeter.CountTokens(block)
			if used+cost > tokenBudget {
				if i == 0 {
					return strings.TrimRight(budgeter.TruncateToBudget(block, tokenBudget), "\n")
				}
				break
			}
			used += cost
		}
		b.WriteString(block)
	}
	return strings.TrimRight(b.String(), "\n")
}
