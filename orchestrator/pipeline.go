package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quorumflow/quorumflow/llm"
	"github.com/quorumflow/quorumflow/rag"
	"github.com/quorumflow/quorumflow/types"
)

// PipelineConfig configures the single-pass RAG pipeline. Each optional
// stage can be disabled independently.
type PipelineConfig struct {
	Scopes             []string `json:"scopes" yaml:"scopes"`
	MaxPassages        int      `json:"max_passages" yaml:"max_passages"`
	ContextTokenBudget int      `json:"context_token_budget" yaml:"context_token_budget"`
	ResearchEnabled    bool     `json:"research_enabled" yaml:"research_enabled"`
	GroundingEnabled   bool     `json:"grounding_enabled" yaml:"grounding_enabled"`
	// GroundingThreshold is the minimum grounding score at which the
	// response counts as grounded.
	GroundingThreshold float64 `json:"grounding_threshold" yaml:"grounding_threshold"`
	ExplainEnabled     bool    `json:"explain_enabled" yaml:"explain_enabled"`
	// ExplainVerbosity is "brief" or "detailed".
	ExplainVerbosity string  `json:"explain_verbosity" yaml:"explain_verbosity"`
	Temperature      float64 `json:"temperature" yaml:"temperature"`
	MaxTokens        int     `json:"max_tokens" yaml:"max_tokens"`
}

// DefaultPipelineConfig returns default pipeline settings.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		MaxPassages:        8,
		ContextTokenBudget: 2048,
		ResearchEnabled:    true,
		GroundingEnabled:   true,
		GroundingThreshold: 0.3,
		ExplainEnabled:     false,
		ExplainVerbosity:   "brief",
		Temperature:        0.4,
	}
}

// PipelineResult is the outcome of one RAG pipeline invocation. Optional
// stages that failed leave their fields zeroed and add a warning instead
// of failing the request.
type PipelineResult struct {
	InvocationID   string           `json:"invocation_id"`
	Query          string           `json:"query"`
	Response       string           `json:"response"`
	Passages       []rag.Passage    `json:"passages,omitempty"`
	Grounded       bool             `json:"grounded"`
	GroundingScore float64          `json:"grounding_score"`
	Explanation    string           `json:"explanation,omitempty"`
	Warnings       []string         `json:"warnings,omitempty"`
	Usage          types.TokenUsage `json:"usage"`
	Elapsed        time.Duration    `json:"elapsed"`
}

// Pipeline is the non-council flow: research, generate, ground, explain.
// Generate is the only fatal stage.
type Pipeline struct {
	retriever *rag.Retriever
	provider  llm.CompletionProvider
	budgeter  *llm.TokenBudgeter
	cfg       PipelineConfig
	sink      PersistenceSink
	collector *Collector
	logger    *zap.Logger
}

// NewPipeline creates a RAG pipeline. retriever may be nil when research
// is disabled.
func NewPipeline(retriever *rag.Retriever, provider llm.CompletionProvider, budgeter *llm.TokenBudgeter, cfg PipelineConfig, logger *zap.Logger) (*Pipeline, error) {
	if provider == nil {
		return nil, types.NewError(types.ErrInvalidConfig, "pipeline requires a completion provider")
	}
	if cfg.ResearchEnabled && retriever == nil {
		return nil, types.NewError(types.ErrInvalidConfig, "research stage enabled without a retriever")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		retriever: retriever,
		provider:  provider,
		budgeter:  budgeter,
		cfg:       cfg,
		logger:    logger.With(zap.String("component", "pipeline")),
	}, nil
}

// SetSink attaches a persistence sink for completed results.
func (p *Pipeline) SetSink(s PersistenceSink) { p.sink = s }

// SetCollector attaches prometheus instrumentation.
func (p *Pipeline) SetCollector(c *Collector) { p.collector = c }

// Generate runs the pipeline for one query. Research and generate errors
// are fatal; grounding and explanation degrade to warnings.
func (p *Pipeline) Generate(ctx context.Context, query string) (*PipelineResult, error) {
	start := time.Now()
	result := &PipelineResult{
		InvocationID: uuid.NewString(),
		Query:        query,
	}

	sourceContext := ""
	if p.cfg.ResearchEnabled {
		passages, err := p.retriever.Retrieve(ctx, query, p.cfg.Scopes, p.cfg.MaxPassages)
		if err != nil {
			if p.collector != nil {
				p.collector.IncInvocation("pipeline", "error")
			}
			return nil, err
		}
		result.Passages = passages
		sourceContext = rag.AssembleContext(passages, p.budgeter, p.cfg.ContextTokenBudget)
	}

	resp, err := p.provider.Complete(ctx, &llm.CompletionRequest{
		Prompt:      generatePrompt(query, sourceContext),
		Temperature: p.cfg.Temperature,
		MaxTokens:   p.cfg.MaxTokens,
	})
	if err != nil {
		if p.collector != nil {
			p.collector.IncInvocation("pipeline", "error")
		}
		return nil, types.NewError(types.ErrGenerationFailure, "completion failed").
			WithStage("generate").WithCause(err)
	}
	result.Response = resp.Text
	result.Usage.Add(resp.Usage)

	if p.cfg.GroundingEnabled {
		p.ground(result)
	}
	if p.cfg.ExplainEnabled {
		p.explain(ctx, result, sourceContext)
	}

	result.Elapsed = time.Since(start)
	if p.collector != nil {
		p.collector.IncInvocation("pipeline", "ok")
		p.collector.AddUsage(result.Usage)
	}
	p.record(result)
	return result, nil
}

func generatePrompt(query, sourceContext string) string {
	var b strings.Builder
	b.WriteString("Answer the question using the sources when they are relevant. ")
	b.WriteString("Be precise and do not invent citations.\n\n")
	if sourceContext != "" {
		b.WriteString("Sources:\n")
		b.WriteString(sourceContext)
		b.WriteString("\n\n")
	}
	b.WriteString("Question: ")
	b.WriteString(query)
	return b.String()
}

// ground scores how well the generated claims are covered by the
// retrieved passages. Without passages the response is flagged
// ungrounded; a low score is a warning, never a block.
func (p *Pipeline) ground(result *PipelineResult) {
	if len(result.Passages) == 0 {
		result.Grounded = false
		result.Warnings = append(result.Warnings, "grounding unavailable: no passages retrieved")
		return
	}
	result.GroundingScore = groundingScore(result.Response, result.Passages)
	result.Grounded = result.GroundingScore >= p.cfg.GroundingThreshold
	if !result.Grounded {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("response weakly grounded (score %.2f)", result.GroundingScore))
	}
}

// groundingScore is the mean, over claims (sentences), of the fraction
// of each claim's tokens found in the best-covering passage.
func groundingScore(response string, passages []rag.Passage) float64 {
	claims := splitClaims(response)
	if len(claims) == 0 {
		return 0
	}

	passageTokens := make([]map[string]struct{}, len(passages))
	for i, p := range passages {
		passageTokens[i] = groundTokens(p.Content)
	}

	var sum float64
	for _, claim := range claims {
		tokens := groundTokens(claim)
		if len(tokens) == 0 {
			sum += 1.0
			continue
		}
		best := 0.0
		for _, pt := range passageTokens {
			covered := 0
			for tok := range tokens {
				if _, ok := pt[tok]; ok {
					covered++
				}
			}
			if frac := float64(covered) / float64(len(tokens)); frac > best {
				best = frac
			}
		}
		sum += best
	}
	return sum / float64(len(claims))
}

func splitClaims(text string) []string {
	var claims []string
	for _, s := range strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == '\n'
	}) {
		if s = strings.TrimSpace(s); s != "" {
			claims = append(claims, s)
		}
	}
	return claims
}

func groundTokens(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		tok = strings.Trim(tok, ".,;:!?\"'()[]")
		if len(tok) > 2 {
			set[tok] = struct{}{}
		}
	}
	return set
}

// explain issues one extra completion producing a reasoning narrative.
// Failure degrades to a warning.
func (p *Pipeline) explain(ctx context.Context, result *PipelineResult, sourceContext string) {
	depth := "in two or three sentences"
	if p.cfg.ExplainVerbosity == "detailed" {
		depth = "step by step, citing the numbered sources you relied on"
	}
	prompt := fmt.Sprintf("Explain %s how the following answer was derived.\n\nQuestion: %s\nAnswer: %s",
		depth, result.Query, result.Response)
	if sourceContext != "" {
		prompt += "\n\nSources:\n" + sourceContext
	}

	resp, err := p.provider.Complete(ctx, &llm.CompletionRequest{
		Prompt:      prompt,
		Temperature: 0.2,
	})
	if err != nil {
		p.logger.Warn("explanation stage failed", zap.Error(err))
		result.Warnings = append(result.Warnings, "explanation unavailable")
		return
	}
	result.Explanation = resp.Text
	result.Usage.Add(resp.Usage)
}

func (p *Pipeline) record(result *PipelineResult) {
	if p.sink == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := p.sink.Record(ctx, "pipeline", result.InvocationID, result.Query, result); err != nil {
			p.logger.Warn("persistence record failed",
				zap.String("invocation_id", result.InvocationID), zap.Error(err))
		}
	}()
}
