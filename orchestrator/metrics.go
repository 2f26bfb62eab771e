package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/quorumflow/quorumflow/types"
)

const metricsNamespace = "quorumflow"

// Collector holds the engine's prometheus instruments. The registerer is
// injected so tests and embedders control registration.
type Collector struct {
	invocations     *prometheus.CounterVec
	retrievalStages *prometheus.CounterVec
	roundsPerInvoke prometheus.Histogram
	voterFailures   prometheus.Counter
	tokens          *prometheus.CounterVec
}

// NewCollector registers the engine's metrics against reg. A nil reg
// uses the default registry.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Collector{
		invocations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "invocations_total",
			Help:      "Pipeline and council invocations by outcome.",
		}, []string{"mode", "status"}),
		retrievalStages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "retrieval_stage_executions_total",
			Help:      "Retrieval stage executions by stage name.",
		}, []string{"stage"}),
		roundsPerInvoke: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "council_rounds",
			Help:      "Debate rounds executed per council invocation.",
			Buckets:   []float64{1, 2, 3, 4, 5},
		}),
		voterFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "voter_failures_total",
			Help:      "Voter calls excluded from a round after an error or timeout.",
		}),
		tokens: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "tokens_total",
			Help:      "Token usage by kind.",
		}, []string{"kind"}),
	}
}

// RetrievalStageHook adapts the collector to the retriever's stage hook.
func (c *Collector) RetrievalStageHook() func(stage string, hits int) {
	return func(stage string, _ int) {
		c.retrievalStages.WithLabelValues(stage).Inc()
	}
}

// IncInvocation counts one finished invocation.
func (c *Collector) IncInvocation(mode, status string) {
	c.invocations.WithLabelValues(mode, status).Inc()
}

// ObserveRounds records how many rounds a council invocation ran.
func (c *Collector) ObserveRounds(rounds int) {
	c.roundsPerInvoke.Observe(float64(rounds))
}

// AddVoterFailures counts voters excluded from a round.
func (c *Collector) AddVoterFailures(n int) {
	if n > 0 {
		c.voterFailures.Add(float64(n))
	}
}

// AddUsage accumulates token counters from one invocation.
func (c *Collector) AddUsage(usage types.TokenUsage) {
	c.tokens.WithLabelValues("prompt").Add(float64(usage.PromptTokens))
	c.tokens.WithLabelValues("completion").Add(float64(usage.CompletionTokens))
}
