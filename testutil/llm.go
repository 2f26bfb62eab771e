package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/quorumflow/quorumflow/llm"
	"github.com/quorumflow/quorumflow/types"
)

// StaticProvider is a CompletionProvider that replays canned responses.
// With multiple Responses it cycles through them per call; with one it
// always returns that one. All calls are recorded.
type StaticProvider struct {
	ProviderName string
	Responses    []string
	Err          error
	Delay        time.Duration
	Usage        types.TokenUsage

	mu       sync.Mutex
	requests []llm.CompletionRequest
}

// NewStaticProvider returns a provider that always answers with text.
func NewStaticProvider(name, text string) *StaticProvider {
	return &StaticProvider{ProviderName: name, Responses: []string{text}}
}

// Complete records the request and returns the next canned response.
func (p *StaticProvider) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.requests = append(p.requests, *req)
	n := len(p.requests)
	p.mu.Unlock()

	if p.Delay > 0 {
		select {
		case <-time.After(p.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.Err != nil {
		return nil, p.Err
	}
	if len(p.Responses) == 0 {
		return &llm.CompletionResponse{Provider: p.Name(), Usage: p.Usage}, nil
	}
	return &llm.CompletionResponse{
		Text:     p.Responses[(n-1)%len(p.Responses)],
		Provider: p.Name(),
		Usage:    p.Usage,
	}, nil
}

// Name returns the configured provider name.
func (p *StaticProvider) Name() string {
	if p.ProviderName == "" {
		return "static"
	}
	return p.ProviderName
}

// Calls returns how many times Complete was invoked.
func (p *StaticProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

// Requests returns a copy of all recorded requests.
func (p *StaticProvider) Requests() []llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]llm.CompletionRequest, len(p.requests))
	copy(out, p.requests)
	return out
}

// KeyedEmbedder maps exact input texts to fixed vectors, so tests control
// vector-space geometry directly. Unknown texts get the Default vector.
type KeyedEmbedder struct {
	Vectors map[string][]float32
	Default []float32
	Err     error
}

// Embed returns the vector registered for text.
func (e *KeyedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.Err != nil {
		return nil, e.Err
	}
	if v, ok := e.Vectors[text]; ok {
		return v, nil
	}
	if e.Default != nil {
		return e.Default, nil
	}
	return []float32{1, 0, 0}, nil
}
