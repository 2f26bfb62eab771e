package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quorumflow/quorumflow/types"
)

func TestOpenAICompatProvider_ImplementsCapabilities(t *testing.T) {
	var _ CompletionProvider = (*OpenAICompatProvider)(nil)
	var _ Embedder = (*OpenAICompatProvider)(nil)
}

func newTestProvider(t *testing.T, handler http.HandlerFunc) *OpenAICompatProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOpenAICompatProvider(OpenAICompatConfig{
		ProviderName:   "test",
		APIKey:         "sk-test",
		BaseURL:        srv.URL,
		Model:          "test-model",
		EmbeddingModel: "test-embed",
	}, zap.NewNop())
}

func TestOpenAICompatProvider_Complete(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req chatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		require.Len(t, req.Messages, 1)
		assert.Equal(t, "what is raft?", req.Messages[0].Content)
		assert.InDelta(t, 0.9, req.Temperature, 1e-9)

		json.NewEncoder(w).Encode(map[string]any{
			"model": "test-model",
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "a consensus protocol"}},
			},
			"usage": map[string]int{"prompt_tokens": 12, "completion_tokens": 5, "total_tokens": 17},
		})
	})

	resp, err := p.Complete(context.Background(), &CompletionRequest{Prompt: "what is raft?", Temperature: 0.9})
	require.NoError(t, err)
	assert.Equal(t, "a consensus protocol", resp.Text)
	assert.Equal(t, "test", resp.Provider)
	assert.Equal(t, 17, resp.Usage.TotalTokens)
}

func TestOpenAICompatProvider_Embed(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"embedding": []float32{0.1, 0.2, 0.3}}},
		})
	})

	vec, err := p.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
}

func TestOpenAICompatProvider_ServerErrorIsRetryable(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	})

	_, err := p.Complete(context.Background(), &CompletionRequest{Prompt: "hi"})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrUpstreamError))

	var typed *types.Error
	require.ErrorAs(t, err, &typed)
	assert.True(t, typed.Retryable)
}

func TestOpenAICompatProvider_ClientErrorIsNotRetryable(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad prompt", http.StatusBadRequest)
	})

	_, err := p.Complete(context.Background(), &CompletionRequest{Prompt: "hi"})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrInvalidRequest))
}

func TestOpenAICompatProvider_EmptyChoices(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	})

	_, err := p.Complete(context.Background(), &CompletionRequest{Prompt: "hi"})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrUpstreamError))
}
