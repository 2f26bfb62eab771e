package llm

import (
	"context"

	"github.com/quorumflow/quorumflow/types"
)

// CompletionRequest is a single prompt sent to a completion provider.
type CompletionRequest struct {
	Prompt       string            `json:"prompt"`
	Temperature  float64           `json:"temperature,omitempty"`
	MaxTokens    int               `json:"max_tokens,omitempty"`
	ProviderHint string            `json:"provider_hint,omitempty"` // preferred provider for multi-provider routers
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// CompletionResponse is the provider's answer to one CompletionRequest.
type CompletionResponse struct {
	Text     string           `json:"text"`
	Provider string           `json:"provider,omitempty"`
	Model    string           `json:"model,omitempty"`
	Usage    types.TokenUsage `json:"usage"`
}

// CompletionProvider is the completion capability consumed by the engine.
type CompletionProvider interface {
	// Complete issues a synchronous completion request.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// Name returns the provider's unique identifier.
	Name() string
}

// Embedder is the embedding capability consumed by retrieval.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
