package council

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumflow/quorumflow/rag"
	"github.com/quorumflow/quorumflow/testutil"
)

var _ Agent = (*Voter)(nil)

func floatPtr(f float64) *float64 { return &f }

func TestNewVoter_Defaults(t *testing.T) {
	provider := testutil.NewStaticProvider("p", "hi")

	v, err := NewVoter(VoterConfig{Stance: StanceCreative}, provider, nil)
	require.NoError(t, err)
	assert.Equal(t, "voter-creative", v.ID())
	assert.Equal(t, StanceCreative, v.Stance())
	assert.Equal(t, 0.9, v.Temperature())
	assert.Equal(t, 1.0, v.Weight())

	_, err = NewVoter(VoterConfig{Stance: "sleepy"}, provider, nil)
	require.Error(t, err)
}

func TestNewVoter_Overrides(t *testing.T) {
	provider := testutil.NewStaticProvider("p", "hi")

	v, err := NewVoter(VoterConfig{
		Stance:      StanceAnalytical,
		Temperature: floatPtr(0.1),
		Weight:      2.5,
	}, provider, nil)
	require.NoError(t, err)
	assert.Equal(t, 0.1, v.Temperature())
	assert.Equal(t, 2.5, v.Weight())
}

const wellFormedReply = `RESPONSE:
Use consistent hashing for the shard map.
REASONING:
It minimizes key movement on resize.
CONFIDENCE: 0.85
EVIDENCE: 1, 3`

func TestVoter_ExecuteParsesSections(t *testing.T) {
	provider := testutil.NewStaticProvider("p", wellFormedReply)
	v, err := NewVoter(VoterConfig{Stance: StanceAnalytical}, provider, nil)
	require.NoError(t, err)

	passages := []rag.Passage{
		{ID: "p-1", Similarity: 0.9},
		{ID: "p-2", Similarity: 0.8},
		{ID: "p-3", Similarity: 0.7},
	}
	vote, err := v.Execute(context.Background(), Task{Query: "how to shard?", Passages: passages}, RoundContext{})
	require.NoError(t, err)

	assert.Equal(t, "voter-analytical", vote.AgentID)
	assert.Equal(t, StanceAnalytical, vote.Stance)
	assert.Equal(t, "Use consistent hashing for the shard map.", vote.Response)
	assert.Equal(t, "It minimizes key movement on resize.", vote.Reasoning)
	assert.Equal(t, 0.85, vote.Confidence)
	assert.Equal(t, []string{"p-1", "p-3"}, vote.Evidence)
	assert.Equal(t, 1.0, vote.Weight)
}

func TestVoter_ExecuteSendsStanceTemperature(t *testing.T) {
	provider := testutil.NewStaticProvider("p", wellFormedReply)
	v, err := NewVoter(VoterConfig{Stance: StanceCritical, ProviderHint: "anthropic"}, provider, nil)
	require.NoError(t, err)

	_, err = v.Execute(context.Background(), Task{Query: "q"}, RoundContext{})
	require.NoError(t, err)

	reqs := provider.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, 0.5, reqs[0].Temperature)
	assert.Equal(t, "anthropic", reqs[0].ProviderHint)
	assert.Contains(t, reqs[0].Prompt, "Question: q")
	assert.Contains(t, reqs[0].Prompt, "CONFIDENCE:")
}

func TestVoter_ExecutePromptIncludesDebateContext(t *testing.T) {
	provider := testutil.NewStaticProvider("p", wellFormedReply)
	v, err := NewVoter(VoterConfig{Stance: StanceAnalytical}, provider, nil)
	require.NoError(t, err)

	_, err = v.Execute(context.Background(),
		Task{Query: "q", Context: "[Source 1] cache docs"},
		RoundContext{Round: 2, OtherPerspectives: "[creative] try a bloom filter"})
	require.NoError(t, err)

	prompt := provider.Requests()[0].Prompt
	assert.Contains(t, prompt, "Sources:\n[Source 1] cache docs")
	assert.Contains(t, prompt, "[creative] try a bloom filter")
	assert.Contains(t, prompt, "Critique")
}

func TestVoter_ExecutePropagatesProviderError(t *testing.T) {
	provider := &testutil.StaticProvider{Err: errors.New("upstream down")}
	v, err := NewVoter(VoterConfig{Stance: StanceAnalytical}, provider, nil)
	require.NoError(t, err)

	_, err = v.Execute(context.Background(), Task{Query: "q"}, RoundContext{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "voter-analytical")
}

func TestVoter_FallbackConfidenceFromSimilarity(t *testing.T) {
	// No CONFIDENCE line at all.
	provider := testutil.NewStaticProvider("p", "RESPONSE:\nan answer\nREASONING:\nbecause")
	v, err := NewVoter(VoterConfig{Stance: StanceAnalytical}, provider, nil)
	require.NoError(t, err)

	passages := []rag.Passage{{ID: "a", Similarity: 0.5}, {ID: "b", Similarity: 0.7}}
	vote, err := v.Execute(context.Background(), Task{Query: "q", Passages: passages}, RoundContext{})
	require.NoError(t, err)
	// mean(0.5, 0.7) * 1.2 = 0.72
	assert.InDelta(t, 0.72, vote.Confidence, 1e-9)

	// Same missing confidence without passages uses the flat baseline.
	vote2, err := v.Execute(context.Background(), Task{Query: "q"}, RoundContext{})
	require.NoError(t, err)
	assert.Equal(t, 0.5, vote2.Confidence)
}

func TestParseVote(t *testing.T) {
	passages := []rag.Passage{{ID: "doc-a"}, {ID: "doc-b"}}

	t.Run("clamps out-of-range confidence", func(t *testing.T) {
		vote := parseVote("RESPONSE:\nx\nCONFIDENCE: 3.7", nil)
		assert.Equal(t, 1.0, vote.Confidence)

		vote = parseVote("RESPONSE:\nx\nCONFIDENCE: -2", nil)
		assert.Equal(t, 0.0, vote.Confidence)
	})

	t.Run("unparsable confidence reported as sentinel", func(t *testing.T) {
		vote := parseVote("RESPONSE:\nx\nCONFIDENCE: quite high", nil)
		assert.Equal(t, -1.0, vote.Confidence)
	})

	t.Run("free-form reply becomes the response", func(t *testing.T) {
		vote := parseVote("  just an unstructured answer  ", nil)
		assert.Equal(t, "just an unstructured answer", vote.Response)
		assert.Equal(t, -1.0, vote.Confidence)
	})

	t.Run("evidence none", func(t *testing.T) {
		vote := parseVote("RESPONSE:\nx\nEVIDENCE: none", passages)
		assert.Nil(t, vote.Evidence)
	})

	t.Run("evidence out of range skipped", func(t *testing.T) {
		vote := parseVote("RESPONSE:\nx\nEVIDENCE: 0, 2, 9, banana", passages)
		assert.Equal(t, []string{"doc-b"}, vote.Evidence)
	})

	t.Run("multiline sections preserved", func(t *testing.T) {
		vote := parseVote("RESPONSE:\nline one\nline two\nREASONING:\nr1\nr2\nCONFIDENCE: 0.4", nil)
		assert.Equal(t, "line one\nline two", vote.Response)
		assert.Equal(t, "r1\nr2", vote.Reasoning)
		assert.Equal(t, 0.4, vote.Confidence)
	})
}
