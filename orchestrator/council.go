package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quorumflow/quorumflow/council"
	"github.com/quorumflow/quorumflow/llm"
	"github.com/quorumflow/quorumflow/rag"
	"github.com/quorumflow/quorumflow/types"
)

// CouncilConfig configures the council pipeline.
type CouncilConfig struct {
	// Scopes are the index collections to retrieve from. Empty disables
	// retrieval and the council answers from the query alone.
	Scopes []string `json:"scopes" yaml:"scopes"`
	// MaxPassages caps retrieved passages; zero uses the retriever default.
	MaxPassages int `json:"max_passages" yaml:"max_passages"`
	// ContextTokenBudget bounds the assembled source context. Zero means
	// unbounded.
	ContextTokenBudget int `json:"context_token_budget" yaml:"context_token_budget"`
	// DebateEnabled allows rounds beyond the first.
	DebateEnabled bool `json:"debate_enabled" yaml:"debate_enabled"`
	// MaxRounds caps debate rounds, first round included. Minimum 1.
	MaxRounds int `json:"max_rounds" yaml:"max_rounds"`
	// ConsensusThreshold is the agreement score at which debate stops.
	ConsensusThreshold float64 `json:"consensus_threshold" yaml:"consensus_threshold"`
	// RoundTimeout is the shared deadline for one round's voter calls.
	// Zero leaves only the caller's deadline in effect.
	RoundTimeout time.Duration `json:"round_timeout" yaml:"round_timeout"`
}

// DefaultCouncilConfig returns default council settings.
func DefaultCouncilConfig() CouncilConfig {
	return CouncilConfig{
		MaxPassages:        8,
		ContextTokenBudget: 2048,
		DebateEnabled:      true,
		MaxRounds:          3,
		ConsensusThreshold: 0.7,
		RoundTimeout:       60 * time.Second,
	}
}

// CouncilResult is the immutable outcome of one council invocation.
type CouncilResult struct {
	InvocationID string           `json:"invocation_id"`
	Query        string           `json:"query"`
	Response     string           `json:"response"`
	Confidence   float64          `json:"confidence"`
	Strategy     string           `json:"strategy"`
	Rounds       [][]council.Vote `json:"rounds"`
	RoundsRun    int              `json:"rounds_run"`
	Metrics      *council.Metrics `json:"metrics"`
	Usage        types.TokenUsage `json:"usage"`
	FailedVoters int              `json:"failed_voters"`
	Elapsed      time.Duration    `json:"elapsed"`
}

// Council runs multi-agent consensus: retrieve context once, then one or
// more dispatch-aggregate rounds until agreement or the round cap.
type Council struct {
	voters    []council.Agent
	strategy  council.Strategy
	retriever *rag.Retriever
	budgeter  *llm.TokenBudgeter
	cfg       CouncilConfig
	emitter   *EventEmitter
	sink      PersistenceSink
	collector *Collector
	logger    *zap.Logger
}

// CouncilOption customises a Council.
type CouncilOption func(*Council)

// WithRetriever attaches staged retrieval for source context.
func WithRetriever(r *rag.Retriever, budgeter *llm.TokenBudgeter) CouncilOption {
	return func(c *Council) {
		c.retriever = r
		c.budgeter = budgeter
	}
}

// WithEmitter attaches a progress-event emitter.
func WithEmitter(e *EventEmitter) CouncilOption {
	return func(c *Council) { c.emitter = e }
}

// WithSink attaches a persistence sink; results are recorded
// fire-and-forget.
func WithSink(s PersistenceSink) CouncilOption {
	return func(c *Council) { c.sink = s }
}

// WithCollector attaches prometheus instrumentation.
func WithCollector(col *Collector) CouncilOption {
	return func(c *Council) { c.collector = col }
}

// NewCouncil creates a council over the given voters and strategy.
func NewCouncil(voters []council.Agent, strategy council.Strategy, cfg CouncilConfig, logger *zap.Logger, opts ...CouncilOption) (*Council, error) {
	if len(voters) == 0 {
		return nil, types.NewError(types.ErrInvalidConfig, "council requires at least one voter")
	}
	if strategy == nil {
		return nil, types.NewError(types.ErrInvalidConfig, "council requires a voting strategy")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxRounds < 1 {
		cfg.MaxRounds = 1
	}
	c := &Council{
		voters:   voters,
		strategy: strategy,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "council")),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Evaluate runs the full council pipeline for one query.
//
// Retrieval failure is fatal; a minority of voters failing within a round
// is not. A round with zero surviving votes fails the invocation with a
// NO_VOTES error. Only the final round's metrics are authoritative.
func (c *Council) Evaluate(ctx context.Context, query string) (*CouncilResult, error) {
	start := time.Now()
	result := &CouncilResult{
		InvocationID: uuid.NewString(),
		Query:        query,
		Strategy:     c.strategy.Name(),
	}

	task := council.Task{ID: result.InvocationID, Query: query}
	if c.retriever != nil && len(c.cfg.Scopes) > 0 {
		passages, err := c.retriever.Retrieve(ctx, query, c.cfg.Scopes, c.cfg.MaxPassages)
		if err != nil {
			c.observeInvocation("council", "error")
			return nil, err
		}
		task.Passages = passages
		task.Context = rag.AssembleContext(passages, c.budgeter, c.cfg.ContextTokenBudget)
	}

	perspectives := map[string]string{}
	for round := 1; ; round++ {
		votes, failed := c.runRound(ctx, task, round, perspectives)
		result.FailedVoters += failed
		if c.collector != nil {
			c.collector.AddVoterFailures(failed)
		}
		if len(votes) == 0 {
			c.observeInvocation("council", "error")
			return nil, types.NewError(types.ErrNoVotes,
				fmt.Sprintf("round %d produced zero votes", round)).
				WithStage(fmt.Sprintf("round-%d", round))
		}

		decision, err := c.strategy.Aggregate(ctx, votes)
		if err != nil {
			c.observeInvocation("council", "error")
			return nil, err
		}
		metrics, err := council.ComputeMetrics(votes)
		if err != nil {
			c.observeInvocation("council", "error")
			return nil, err
		}

		result.Rounds = append(result.Rounds, votes)
		result.RoundsRun = round
		result.Response = decision.Response
		result.Confidence = decision.Confidence
		result.Metrics = metrics
		for _, v := range votes {
			result.Usage.Add(v.Usage)
		}
		result.Usage.Add(decision.Usage)

		c.logger.Info("council round aggregated",
			zap.String("invocation_id", result.InvocationID),
			zap.Int("round", round),
			zap.Int("votes", len(votes)),
			zap.Int("failed_voters", failed),
			zap.Float64("agreement", metrics.AgreementScore))

		if !c.cfg.DebateEnabled || round >= c.cfg.MaxRounds ||
			metrics.AgreementScore >= c.cfg.ConsensusThreshold {
			break
		}
		perspectives = buildPerspectives(c.voters, votes)
	}

	result.Elapsed = time.Since(start)
	c.observeInvocation("council", "ok")
	if c.collector != nil {
		c.collector.ObserveRounds(result.RoundsRun)
		c.collector.AddUsage(result.Usage)
	}
	c.record("council", result.InvocationID, query, result)
	return result, nil
}

type voteOutcome struct {
	vote *council.Vote
	err  error
	id   string
}

// runRound dispatches every voter concurrently under a shared deadline
// and joins the outcomes. Voter failures (including timeouts) exclude
// that voter from the round's vote set; they are never retried within
// the round.
func (c *Council) runRound(ctx context.Context, task council.Task, round int, perspectives map[string]string) ([]council.Vote, int) {
	roundCtx := ctx
	if c.cfg.RoundTimeout > 0 {
		var cancel context.CancelFunc
		roundCtx, cancel = context.WithTimeout(ctx, c.cfg.RoundTimeout)
		defer cancel()
	}

	outcomes := make(chan voteOutcome, len(c.voters))
	for _, voter := range c.voters {
		c.emitter.emit(ProgressEvent{
			InvocationID: task.ID,
			AgentID:      voter.ID(),
			Phase:        PhaseStarted,
			Message:      fmt.Sprintf("round %d", round),
		})
		go func(a council.Agent) {
			vote, err := a.Execute(roundCtx, task, council.RoundContext{
				Round:             round,
				OtherPerspectives: perspectives[a.ID()],
			})
			outcomes <- voteOutcome{vote: vote, err: err, id: a.ID()}
		}(voter)
	}

	var votes []council.Vote
	var failed int
	for range c.voters {
		out := <-outcomes
		if out.err != nil {
			failed++
			c.logger.Warn("voter failed",
				zap.String("invocation_id", task.ID),
				zap.String("agent_id", out.id),
				zap.Int("round", round),
				zap.Error(out.err))
			c.emitter.emit(ProgressEvent{
				InvocationID: task.ID,
				AgentID:      out.id,
				Phase:        PhaseFailed,
				Message:      out.err.Error(),
			})
			continue
		}
		votes = append(votes, *out.vote)
		c.emitter.emit(ProgressEvent{
			InvocationID: task.ID,
			AgentID:      out.id,
			Phase:        PhaseCompleted,
			Vote:         out.vote,
		})
	}

	// Arrival order is scheduling noise; fix it before aggregation.
	council.SortVotes(votes)
	return votes, failed
}

// buildPerspectives renders, for each voter, the other voters' prior
// responses as critique input for the next debate round. A voter that
// failed last round still sees every other voter's vote.
func buildPerspectives(voters []council.Agent, votes []council.Vote) map[string]string {
	out := make(map[string]string, len(voters))
	for _, target := range voters {
		var b strings.Builder
		for _, other := range votes {
			if other.AgentID == target.ID() {
				continue
			}
			fmt.Fprintf(&b, "[%s] (confidence %.2f) %s\n",
				other.Stance, other.Confidence, other.Response)
		}
		out[target.ID()] = strings.TrimRight(b.String(), "\n")
	}
	return out
}

func (c *Council) observeInvocation(mode, status string) {
	if c.collector != nil {
		c.collector.IncInvocation(mode, status)
	}
}

// record hands the result to the persistence sink without blocking the
// caller. Sink errors are logged, never surfaced.
func (c *Council) record(kind, id, query string, payload any) {
	if c.sink == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.sink.Record(ctx, kind, id, query, payload); err != nil {
			c.logger.Warn("persistence record failed",
				zap.String("invocation_id", id), zap.Error(err))
		}
	}()
}
