package council

import (
	"bytes"
	"context"
	"fmt"
	"text/template"

	"github.com/quorumflow/quorumflow/llm"
	"github.com/quorumflow/quorumflow/types"
)

// Strategy names accepted by StrategyByName.
const (
	StrategyWeightedConfidence = "weighted_confidence"
	StrategyHighestConfidence  = "highest_confidence"
	StrategyMajority           = "majority"
	StrategySynthesis          = "synthesis"
)

// ErrNoVotes is returned by every strategy given an empty vote set. The
// orchestrator's dispatch never produces this on its own; it is a checked
// precondition for standalone reuse.
var ErrNoVotes = types.NewError(types.ErrNoVotes, "no votes to aggregate")

// Decision is the consensus a strategy produced from one round's votes.
// Usage is the token cost of the aggregation itself; it stays zero for the
// local strategies and carries the judge call for synthesis.
type Decision struct {
	Response   string           `json:"response"`
	Confidence float64          `json:"confidence"`
	Strategy   string           `json:"strategy"`
	Usage      types.TokenUsage `json:"usage"`
}

// Strategy turns a non-empty set of votes into one consensus decision.
type Strategy interface {
	Name() string
	Aggregate(ctx context.Context, votes []Vote) (*Decision, error)
}

// StrategyByName resolves a strategy. provider is only required for
// synthesis, which issues an extra judge completion.
func StrategyByName(name string, provider llm.CompletionProvider) (Strategy, error) {
	switch name {
	case StrategyWeightedConfidence, "":
		return WeightedConfidence{}, nil
	case StrategyHighestConfidence:
		return HighestConfidence{}, nil
	case StrategyMajority:
		return Majority{}, nil
	case StrategySynthesis:
		if provider == nil {
			return nil, types.NewError(types.ErrInvalidConfig, "synthesis strategy requires a completion provider")
		}
		return &Synthesis{provider: provider}, nil
	default:
		return nil, types.NewError(types.ErrInvalidConfig, fmt.Sprintf("unknown voting strategy %q", name))
	}
}

func voteWeight(v Vote) float64 {
	if v.Weight <= 0 {
		return 1.0
	}
	return v.Weight
}

// weightedConfidenceValue computes sum(c_i*w_i)/sum(w_i).
func weightedConfidenceValue(votes []Vote) float64 {
	var num, den float64
	for _, v := range votes {
		w := voteWeight(v)
		num += v.Confidence * w
		den += w
	}
	return num / den
}

// beats reports whether a wins over b under the fixed stance-order
// tie-break: strictly higher score wins, equal scores go to the earlier
// stance.
func beats(scoreA, scoreB float64, a, b Vote) bool {
	if scoreA != scoreB {
		return scoreA > scoreB
	}
	return a.Stance.Order() < b.Stance.Order()
}

// WeightedConfidence aggregates by weighted-average confidence and picks
// the vote with the highest confidence*weight as the representative text.
type WeightedConfidence struct{}

// Name returns the strategy identifier.
func (WeightedConfidence) Name() string { return StrategyWeightedConfidence }

// Aggregate implements Strategy.
func (WeightedConfidence) Aggregate(ctx context.Context, votes []Vote) (*Decision, error) {
	if len(votes) == 0 {
		return nil, ErrNoVotes
	}
	rep := votes[0]
	for _, v := range votes[1:] {
		if beats(v.Confidence*voteWeight(v), rep.Confidence*voteWeight(rep), v, rep) {
			rep = v
		}
	}
	return &Decision{
		Response:   rep.Response,
		Confidence: weightedConfidenceValue(votes),
		Strategy:   StrategyWeightedConfidence,
	}, nil
}

// HighestConfidence selects the single most confident vote.
type HighestConfidence struct{}

// Name returns the strategy identifier.
func (HighestConfidence) Name() string { return StrategyHighestConfidence }

// Aggregate implements Strategy.
func (HighestConfidence) Aggregate(ctx context.Context, votes []Vote) (*Decision, error) {
	if len(votes) == 0 {
		return nil, ErrNoVotes
	}
	best := votes[0]
	for _, v := range votes[1:] {
		if beats(v.Confidence, best.Confidence, v, best) {
			best = v
		}
	}
	return &Decision{
		Response:   best.Response,
		Confidence: best.Confidence,
		Strategy:   StrategyHighestConfidence,
	}, nil
}

// Majority selects the vote whose confidence is closest to the round's
// mean confidence, approximating "most representative" when responses
// cluster.
//
// NOTE: this mirrors the observed behavior of the system this engine
// replaces; a textual-clustering majority vote is a known alternative
// reading pending product clarification.
type Majority struct{}

// Name returns the strategy identifier.
func (Majority) Name() string { return StrategyMajority }

// Aggregate implements Strategy.
func (Majority) Aggregate(ctx context.Context, votes []Vote) (*Decision, error) {
	if len(votes) == 0 {
		return nil, ErrNoVotes
	}
	var mean float64
	for _, v := range votes {
		mean += v.Confidence
	}
	mean /= float64(len(votes))

	closest := votes[0]
	for _, v := range votes[1:] {
		// Negated distance so "higher is better" fits the shared tie-break.
		if beats(-abs(v.Confidence-mean), -abs(closest.Confidence-mean), v, closest) {
			closest = v
		}
	}
	return &Decision{
		Response:   closest.Response,
		Confidence: closest.Confidence,
		Strategy:   StrategyMajority,
	}, nil
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

const synthesisPromptTemplate = `You are a synthesis judge combining several council members' answers to the same question into one.

Council answers:
{{range .Votes}}--- {{.Stance}} (confidence {{printf "%.2f" .Confidence}}) ---
{{.Response}}
{{if .Reasoning}}Reasoning: {{.Reasoning}}
{{end}}
{{end}}
Produce ONE final answer that keeps the strongest, best-supported points and
resolves conflicts in favor of the more specific and better-justified claim.
Output only the final answer, with no mention of the council or its members.`

var synthesisTmpl = template.Must(template.New("synthesis").Parse(synthesisPromptTemplate))

// synthesisTemperature keeps the judge call near-deterministic.
const synthesisTemperature = 0.2

// Synthesis issues one extra completion that merges all votes into a new
// response. Its confidence is the weighted-confidence value of the input
// votes; the judge call's token usage rides on the decision.
type Synthesis struct {
	provider llm.CompletionProvider
}

// NewSynthesis creates a synthesis strategy using provider as the judge.
func NewSynthesis(provider llm.CompletionProvider) *Synthesis {
	return &Synthesis{provider: provider}
}

// Name returns the strategy identifier.
func (*Synthesis) Name() string { return StrategySynthesis }

// Aggregate implements Strategy. Votes are presented in stance-enumeration
// order so the judge prompt is reproducible regardless of arrival order.
func (s *Synthesis) Aggregate(ctx context.Context, votes []Vote) (*Decision, error) {
	if len(votes) == 0 {
		return nil, ErrNoVotes
	}

	ordered := make([]Vote, len(votes))
	copy(ordered, votes)
	SortVotes(ordered)

	var buf bytes.Buffer
	if err := synthesisTmpl.Execute(&buf, struct {
		Votes []Vote
	}{Votes: ordered}); err != nil {
		return nil, fmt.Errorf("render synthesis prompt: %w", err)
	}

	resp, err := s.provider.Complete(ctx, &llm.CompletionRequest{
		Prompt:      buf.String(),
		Temperature: synthesisTemperature,
	})
	if err != nil {
		return nil, fmt.Errorf("synthesis completion: %w", err)
	}

	return &Decision{
		Response:   resp.Text,
		Confidence: weightedConfidenceValue(votes),
		Strategy:   StrategySynthesis,
		Usage:      resp.Usage,
	}, nil
}
