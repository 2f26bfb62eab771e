package council

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/quorumflow/quorumflow/llm"
	"github.com/quorumflow/quorumflow/rag"
)

// Agent is the capability every council participant implements: consume a
// task plus round context, produce one scored vote.
type Agent interface {
	// ID returns the agent's unique identifier.
	ID() string
	// Stance returns the agent's fixed behavioral profile.
	Stance() Stance
	// Execute produces this agent's vote for one round.
	Execute(ctx context.Context, task Task, round RoundContext) (*Vote, error)
}

// VoterConfig configures one voter. Temperature nil means the stance
// default; Weight <= 0 means 1.0.
type VoterConfig struct {
	Stance       Stance   `json:"stance" yaml:"stance"`
	Temperature  *float64 `json:"temperature,omitempty" yaml:"temperature"`
	Weight       float64  `json:"weight,omitempty" yaml:"weight"`
	ProviderHint string   `json:"provider_hint,omitempty" yaml:"provider_hint"`
	MaxTokens    int      `json:"max_tokens,omitempty" yaml:"max_tokens"`
}

// Voter is the standard Agent implementation: one stance, one temperature,
// one completion provider.
type Voter struct {
	id          string
	stance      Stance
	temperature float64
	weight      float64
	hint        string
	maxTokens   int
	provider    llm.CompletionProvider
	logger      *zap.Logger
}

// NewVoter builds a voter from config. Distinct providers per stance are
// supported by passing different CompletionProviders.
func NewVoter(cfg VoterConfig, provider llm.CompletionProvider, logger *zap.Logger) (*Voter, error) {
	if _, err := ParseStance(string(cfg.Stance)); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	temp := cfg.Stance.DefaultTemperature()
	if cfg.Temperature != nil {
		temp = *cfg.Temperature
	}
	weight := cfg.Weight
	if weight <= 0 {
		weight = 1.0
	}
	return &Voter{
		id:          fmt.Sprintf("voter-%s", cfg.Stance),
		stance:      cfg.Stance,
		temperature: temp,
		weight:      weight,
		hint:        cfg.ProviderHint,
		maxTokens:   cfg.MaxTokens,
		provider:    provider,
		logger:      logger.With(zap.String("component", "voter"), zap.String("stance", string(cfg.Stance))),
	}, nil
}

// ID returns the voter's identifier.
func (v *Voter) ID() string { return v.id }

// Stance returns the voter's stance.
func (v *Voter) Stance() Stance { return v.stance }

// Weight returns the voter's configured vote multiplier.
func (v *Voter) Weight() float64 { return v.weight }

// Temperature returns the effective sampling temperature.
func (v *Voter) Temperature() float64 { return v.temperature }

// Execute runs one completion call and parses it into a Vote. When the
// model omits a usable confidence, a deterministic fallback derived from
// the retrieved passages is used instead.
func (v *Voter) Execute(ctx context.Context, task Task, round RoundContext) (*Vote, error) {
	resp, err := v.provider.Complete(ctx, &llm.CompletionRequest{
		Prompt:       v.buildPrompt(task, round),
		Temperature:  v.temperature,
		MaxTokens:    v.maxTokens,
		ProviderHint: v.hint,
	})
	if err != nil {
		return nil, fmt.Errorf("voter %s: %w", v.id, err)
	}

	vote := parseVote(resp.Text, task.Passages)
	vote.AgentID = v.id
	vote.Stance = v.stance
	vote.Weight = v.weight
	vote.Usage = resp.Usage
	if vote.Confidence < 0 {
		vote.Confidence = fallbackConfidence(task.Passages)
		v.logger.Debug("model omitted confidence, using similarity fallback",
			zap.Float64("confidence", vote.Confidence))
	}
	return vote, nil
}

func (v *Voter) buildPrompt(task Task, round RoundContext) string {
	var b strings.Builder
	b.WriteString(v.stance.Persona())
	b.WriteString("\n\n")

	if task.Context != "" {
		b.WriteString("Sources:\n")
		b.WriteString(task.Context)
		b.WriteString("\n\n")
	}

	b.WriteString("Question: ")
	b.WriteString(task.Query)
	b.WriteString("\n")

	if round.OtherPerspectives != "" {
		b.WriteString("\nOther council members answered as follows. Critique their positions, ")
		b.WriteString("adopt what holds up, and revise your answer where they expose a weakness:\n")
		b.WriteString(round.OtherPerspectives)
		b.WriteString("\n")
	}

	b.WriteString(`
Answer in exactly this format:
RESPONSE:
<your answer>
REASONING:
<why you answered this way>
CONFIDENCE: <a number between 0.0 and 1.0>
EVIDENCE: <comma-separated source numbers you relied on, or "none">`)
	return b.String()
}

// parseVote extracts the structured sections from a model response. A
// missing or unparsable confidence is reported as -1 so the caller can
// apply the fallback.
func parseVote(text string, passages []rag.Passage) *Vote {
	vote := &Vote{Confidence: -1}

	section := ""
	var response, reasoning []string
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		upper := strings.ToUpper(trimmed)
		switch {
		case upper == "RESPONSE:":
			section = "response"
		case upper == "REASONING:":
			section = "reasoning"
		case strings.HasPrefix(upper, "CONFIDENCE:"):
			section = ""
			raw := strings.TrimSpace(trimmed[len("CONFIDENCE:"):])
			if c, err := strconv.ParseFloat(raw, 64); err == nil {
				vote.Confidence = ClampConfidence(c)
			}
		case strings.HasPrefix(upper, "EVIDENCE:"):
			section = ""
			vote.Evidence = parseEvidence(strings.TrimSpace(trimmed[len("EVIDENCE:"):]), passages)
		default:
			switch section {
			case "response":
				response = append(response, line)
			case "reasoning":
				reasoning = append(reasoning, line)
			}
		}
	}

	vote.Response = strings.TrimSpace(strings.Join(response, "\n"))
	vote.Reasoning = strings.TrimSpace(strings.Join(reasoning, "\n"))
	if vote.Response == "" {
		// Free-form answer without the requested sections.
		vote.Response = strings.TrimSpace(text)
	}
	return vote
}

// parseEvidence maps 1-based source numbers back to passage IDs.
func parseEvidence(raw string, passages []rag.Passage) []string {
	if raw == "" || strings.EqualFold(raw, "none") {
		return nil
	}
	var ids []string
	for _, part := range strings.Split(raw, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 1 || n > len(passages) {
			continue
		}
		ids = append(ids, passages[n-1].ID)
	}
	return ids
}

// fallbackConfidence derives a deterministic confidence from retrieval
// quality: mean passage similarity scaled by 1.2 and clamped to 1. With no
// passages a fixed 0.5 baseline applies.
func fallbackConfidence(passages []rag.Passage) float64 {
	if len(passages) == 0 {
		return 0.5
	}
	return ClampConfidence(rag.MeanSimilarity(passages) * 1.2)
}
