// Package quorumflow provides a top-level convenience entry point for
// building a multi-agent council with minimal boilerplate.
//
// Usage:
//
//	import "github.com/quorumflow/quorumflow"
//
//	c, err := quorumflow.NewCouncil(provider)
//	c, err := quorumflow.NewCouncil(provider,
//	    quorumflow.WithStrategy(council.StrategySynthesis),
//	    quorumflow.WithDebate(3, 0.8))
//
// The constructed council uses the three standard stances (analytical,
// creative, critical) at their default temperatures. For full control
// over voters, retrieval, persistence, and instrumentation, use the
// council and orchestrator packages directly.
package quorumflow

import (
	"go.uber.org/zap"

	"github.com/quorumflow/quorumflow/council"
	"github.com/quorumflow/quorumflow/llm"
	"github.com/quorumflow/quorumflow/orchestrator"
)

// Option configures the council created by NewCouncil.
type Option func(*options)

type options struct {
	strategyName string
	cfg          orchestrator.CouncilConfig
	logger       *zap.Logger
	councilOpts  []orchestrator.CouncilOption
}

// WithStrategy selects the voting strategy by name.
func WithStrategy(name string) Option {
	return func(o *options) { o.strategyName = name }
}

// WithDebate enables debate with the given round cap and consensus
// threshold.
func WithDebate(maxRounds int, threshold float64) Option {
	return func(o *options) {
		o.cfg.DebateEnabled = true
		o.cfg.MaxRounds = maxRounds
		o.cfg.ConsensusThreshold = threshold
	}
}

// WithoutDebate stops after a single round regardless of agreement.
func WithoutDebate() Option {
	return func(o *options) { o.cfg.DebateEnabled = false }
}

// WithLogger sets the logger for the council and its voters.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithCouncilOptions forwards options to the underlying orchestrator
// council (retriever, sink, collector, emitter).
func WithCouncilOptions(opts ...orchestrator.CouncilOption) Option {
	return func(o *options) { o.councilOpts = append(o.councilOpts, opts...) }
}

// NewCouncil creates a three-stance council over provider.
func NewCouncil(provider llm.CompletionProvider, opts ...Option) (*orchestrator.Council, error) {
	o := &options{cfg: orchestrator.DefaultCouncilConfig()}
	for _, opt := range opts {
		opt(o)
	}

	strategy, err := council.StrategyByName(o.strategyName, provider)
	if err != nil {
		return nil, err
	}

	voters := make([]council.Agent, 0, len(council.AllStances()))
	for _, stance := range council.AllStances() {
		voter, err := council.NewVoter(council.VoterConfig{Stance: stance}, provider, o.logger)
		if err != nil {
			return nil, err
		}
		voters = append(voters, voter)
	}

	return orchestrator.NewCouncil(voters, strategy, o.cfg, o.logger, o.councilOpts...)
}
