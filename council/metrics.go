package council

import (
	"strings"

	"github.com/quorumflow/quorumflow/types"
)

// Metrics is the statistical agreement summary over one round's votes.
// Recomputed after every round; only the final round's metrics are
// authoritative.
type Metrics struct {
	// ConsensusLevel is the mean pairwise text agreement across vote
	// responses, in [0,1].
	ConsensusLevel float64 `json:"consensus_level"`
	// ConfidenceVariance is the population variance of vote confidences.
	ConfidenceVariance float64 `json:"confidence_variance"`
	// AgreementScore = ConsensusLevel * (1 - ConfidenceVariance); the
	// debate loop's stopping criterion.
	AgreementScore float64 `json:"agreement_score"`
	AvgConfidence  float64 `json:"avg_confidence"`
	MinConfidence  float64 `json:"min_confidence"`
	MaxConfidence  float64 `json:"max_confidence"`
	VoteCount      int     `json:"vote_count"`
}

// ComputeMetrics summarises a non-empty vote set.
func ComputeMetrics(votes []Vote) (*Metrics, error) {
	if len(votes) == 0 {
		return nil, types.NewError(types.ErrNoVotes, "metrics require at least one vote")
	}

	m := &Metrics{
		VoteCount:     len(votes),
		MinConfidence: votes[0].Confidence,
		MaxConfidence: votes[0].Confidence,
	}
	for _, v := range votes {
		m.AvgConfidence += v.Confidence
		if v.Confidence < m.MinConfidence {
			m.MinConfidence = v.Confidence
		}
		if v.Confidence > m.MaxConfidence {
			m.MaxConfidence = v.Confidence
		}
	}
	m.AvgConfidence /= float64(len(votes))

	for _, v := range votes {
		d := v.Confidence - m.AvgConfidence
		m.ConfidenceVariance += d * d
	}
	m.ConfidenceVariance /= float64(len(votes))

	m.ConsensusLevel = consensusLevel(votes)
	m.AgreementScore = m.ConsensusLevel * (1 - m.ConfidenceVariance)
	return m, nil
}

// consensusLevel is the mean pairwise Jaccard similarity over the votes'
// response token sets. Token overlap is a deliberately cheap stand-in for
// semantic similarity: it needs no extra embedding call and behaves
// monotonically for the agreement threshold's purpose. A single vote is
// full consensus.
func consensusLevel(votes []Vote) float64 {
	if len(votes) == 1 {
		return 1.0
	}
	sets := make([]map[string]struct{}, len(votes))
	for i, v := range votes {
		sets[i] = tokenSet(v.Response)
	}

	var sum float64
	var pairs int
	for i := 0; i < len(sets); i++ {
		for j := i + 1; j < len(sets); j++ {
			sum += jaccard(sets[i], sets[j])
			pairs++
		}
	}
	return sum / float64(pairs)
}

func tokenSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		tok = strings.Trim(tok, ".,;:!?\"'()[]")
		if tok != "" {
			set[tok] = struct{}{}
		}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	inter := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 1.0
	}
	return float64(inter) / float64(union)
}
