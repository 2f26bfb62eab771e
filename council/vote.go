package council

import (
	"sort"

	"github.com/quorumflow/quorumflow/rag"
	"github.com/quorumflow/quorumflow/types"
)

// Vote is one voter's scored judgment for one debate round. A round's
// votes are immutable once produced; a later round produces a fresh set.
type Vote struct {
	AgentID    string           `json:"agent_id"`
	Stance     Stance           `json:"stance"`
	Response   string           `json:"response"`
	Confidence float64          `json:"confidence"` // always in [0,1]
	Reasoning  string           `json:"reasoning,omitempty"`
	Evidence   []string         `json:"evidence,omitempty"` // retrieved passage IDs
	Weight     float64          `json:"weight"`             // configured multiplier, default 1.0
	Usage      types.TokenUsage `json:"usage"`
}

// Task is the immutable question snapshot handed to every voter in a
// round.
type Task struct {
	ID       string        `json:"id"`
	Query    string        `json:"query"`
	Context  string        `json:"context,omitempty"` // assembled retrieval context
	Passages []rag.Passage `json:"passages,omitempty"`
}

// RoundContext carries per-round, per-voter debate input. Round 1 has no
// perspectives; later rounds embed the other voters' prior responses.
type RoundContext struct {
	Round             int    `json:"round"`
	OtherPerspectives string `json:"other_perspectives,omitempty"`
}

// ClampConfidence forces a confidence into [0,1].
func ClampConfidence(c float64) float64 {
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}

// SortVotes orders votes by stance enumeration order, then agent ID. Used
// wherever stable presentation matters (synthesis prompts, round records).
func SortVotes(votes []Vote) {
	sort.SliceStable(votes, func(i, j int) bool {
		if votes[i].Stance.Order() != votes[j].Stance.Order() {
			return votes[i].Stance.Order() < votes[j].Stance.Order()
		}
		return votes[i].AgentID < votes[j].AgentID
	})
}
