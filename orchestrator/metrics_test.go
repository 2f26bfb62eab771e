package orchestrator

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumflow/quorumflow/council"
	"github.com/quorumflow/quorumflow/types"
)

func TestCollector_Counters(t *testing.T) {
	col := NewCollector(prometheus.NewRegistry())

	col.IncInvocation("council", "ok")
	col.IncInvocation("council", "ok")
	col.IncInvocation("pipeline", "error")
	col.AddVoterFailures(2)
	col.AddVoterFailures(0)
	col.AddUsage(types.TokenUsage{PromptTokens: 100, CompletionTokens: 40})

	assert.Equal(t, 2.0, promtest.ToFloat64(col.invocations.WithLabelValues("council", "ok")))
	assert.Equal(t, 1.0, promtest.ToFloat64(col.invocations.WithLabelValues("pipeline", "error")))
	assert.Equal(t, 2.0, promtest.ToFloat64(col.voterFailures))
	assert.Equal(t, 100.0, promtest.ToFloat64(col.tokens.WithLabelValues("prompt")))
	assert.Equal(t, 40.0, promtest.ToFloat64(col.tokens.WithLabelValues("completion")))
}

func TestCollector_RetrievalStageHook(t *testing.T) {
	col := NewCollector(prometheus.NewRegistry())
	hook := col.RetrievalStageHook()
	hook("keyword", 0)
	hook("unfiltered", 3)
	hook("unfiltered", 5)

	assert.Equal(t, 1.0, promtest.ToFloat64(col.retrievalStages.WithLabelValues("keyword")))
	assert.Equal(t, 2.0, promtest.ToFloat64(col.retrievalStages.WithLabelValues("unfiltered")))
}

func TestCouncil_InstrumentsInvocations(t *testing.T) {
	col := NewCollector(prometheus.NewRegistry())
	cfg := DefaultCouncilConfig()
	cfg.DebateEnabled = false

	c, err := NewCouncil(agreeingCouncilAgents(), council.WeightedConfidence{}, cfg, nil, WithCollector(col))
	require.NoError(t, err)

	_, err = c.Evaluate(context.Background(), "q")
	require.NoError(t, err)

	assert.Equal(t, 1.0, promtest.ToFloat64(col.invocations.WithLabelValues("council", "ok")))
}
