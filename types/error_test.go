package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Message(t *testing.T) {
	err := NewError(ErrGenerationFailure, "completion call failed").
		WithStage("generate").
		WithCause(fmt.Errorf("connection reset"))

	assert.Equal(t, "[GENERATION_FAILURE] generate: completion call failed: connection reset", err.Error())
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("boom")
	err := NewError(ErrUpstreamError, "upstream failed").WithCause(cause)

	require.ErrorIs(t, err, cause)
}

func TestError_IsMatchesCode(t *testing.T) {
	sentinel := NewError(ErrNoVotes, "council round produced no votes")
	wrapped := fmt.Errorf("evaluate: %w", NewError(ErrNoVotes, "round 2 yielded nothing"))

	assert.ErrorIs(t, wrapped, sentinel)
	assert.NotErrorIs(t, wrapped, NewError(ErrRetrievalUnavailable, "x"))
}

func TestIsCode(t *testing.T) {
	err := NewError(ErrRetrievalUnavailable, "all scopes failed")

	assert.True(t, IsCode(err, ErrRetrievalUnavailable))
	assert.False(t, IsCode(err, ErrNoVotes))
	assert.False(t, IsCode(errors.New("plain"), ErrNoVotes))
	assert.Equal(t, ErrorCode(""), GetErrorCode(errors.New("plain")))
}

func TestIsCode_SurvivesWrapping(t *testing.T) {
	wrapped := fmt.Errorf("synthesis completion: %w",
		NewError(ErrGenerationFailure, "judge call failed"))

	assert.True(t, IsCode(wrapped, ErrGenerationFailure))
	assert.Equal(t, ErrGenerationFailure, GetErrorCode(wrapped))
}

func TestError_Retryable(t *testing.T) {
	err := NewError(ErrUpstreamTimeout, "deadline exceeded").WithRetryable(true)
	assert.True(t, err.Retryable)
}

func TestTokenUsage_Add(t *testing.T) {
	u := TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}
	u.Add(TokenUsage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5})

	assert.Equal(t, TokenUsage{PromptTokens: 13, CompletionTokens: 7, TotalTokens: 20}, u)
}

func TestSumUsage(t *testing.T) {
	total := SumUsage(
		TokenUsage{PromptTokens: 1, CompletionTokens: 1, TotalTokens: 2},
		TokenUsage{PromptTokens: 2, CompletionTokens: 2, TotalTokens: 4},
		TokenUsage{},
	)

	assert.Equal(t, TokenUsage{PromptTokens: 3, CompletionTokens: 3, TotalTokens: 6}, total)
}
