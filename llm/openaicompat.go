package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/quorumflow/quorumflow/types"
)

// OpenAICompatConfig configures an OpenAI-compatible HTTP provider.
// Any endpoint speaking the Chat Completions / Embeddings wire format
// (OpenAI, DeepSeek, Qwen, local gateways) works through this client.
type OpenAICompatConfig struct {
	ProviderName   string        `json:"provider_name"`
	APIKey         string        `json:"api_key"`
	BaseURL        string        `json:"base_url"`
	Model          string        `json:"model"`
	EmbeddingModel string        `json:"embedding_model"`
	Timeout        time.Duration `json:"timeout,omitempty"`
	ChatPath       string        `json:"chat_path,omitempty"`      // default /v1/chat/completions
	EmbeddingPath  string        `json:"embedding_path,omitempty"` // default /v1/embeddings
}

// OpenAICompatProvider implements CompletionProvider and Embedder against
// an OpenAI-compatible REST endpoint.
type OpenAICompatProvider struct {
	cfg    OpenAICompatConfig
	client *http.Client
	logger *zap.Logger
}

// NewOpenAICompatProvider creates a provider for the given endpoint.
func NewOpenAICompatProvider(cfg OpenAICompatConfig, logger *zap.Logger) *OpenAICompatProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ProviderName == "" {
		cfg.ProviderName = "openai-compat"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.ChatPath == "" {
		cfg.ChatPath = "/v1/chat/completions"
	}
	if cfg.EmbeddingPath == "" {
		cfg.EmbeddingPath = "/v1/embeddings"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &OpenAICompatProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With(zap.String("component", "openai_compat"), zap.String("provider", cfg.ProviderName)),
	}
}

// Name returns the configured provider identifier.
func (p *OpenAICompatProvider) Name() string {
	return p.cfg.ProviderName
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Complete issues one chat completion call with the request's prompt as a
// single user message.
func (p *OpenAICompatProvider) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	body := chatCompletionRequest{
		Model:       p.cfg.Model,
		Messages:    []chatMessage{{Role: "user", Content: req.Prompt}},
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	var out chatCompletionResponse
	if err := p.post(ctx, p.cfg.ChatPath, body, &out); err != nil {
		return nil, err
	}
	if out.Error != nil {
		return nil, types.NewError(types.ErrUpstreamError, out.Error.Message)
	}
	if len(out.Choices) == 0 {
		return nil, types.NewError(types.ErrUpstreamError, "completion response has no choices")
	}

	return &CompletionResponse{
		Text:     out.Choices[0].Message.Content,
		Provider: p.cfg.ProviderName,
		Model:    out.Model,
		Usage: types.TokenUsage{
			PromptTokens:     out.Usage.PromptTokens,
			CompletionTokens: out.Usage.CompletionTokens,
			TotalTokens:      out.Usage.TotalTokens,
		},
	}, nil
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Embed returns the embedding vector for text.
func (p *OpenAICompatProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	body := embeddingRequest{Model: p.cfg.EmbeddingModel, Input: []string{text}}

	var out embeddingResponse
	if err := p.post(ctx, p.cfg.EmbeddingPath, body, &out); err != nil {
		return nil, err
	}
	if out.Error != nil {
		return nil, types.NewError(types.ErrUpstreamError, out.Error.Message)
	}
	if len(out.Data) == 0 {
		return nil, types.NewError(types.ErrUpstreamError, "embedding response has no data")
	}
	return out.Data[0].Embedding, nil
}

func (p *OpenAICompatProvider) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return types.NewError(types.ErrUpstreamTimeout, "request aborted").WithCause(err).WithRetryable(true)
		}
		return types.NewError(types.ErrProviderUnavailable, "request failed").WithCause(err).WithRetryable(true)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		p.logger.Warn("upstream returned error status",
			zap.Int("status", resp.StatusCode),
			zap.String("path", path))
		code := types.ErrUpstreamError
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return types.NewError(code, fmt.Sprintf("status %d: %s", resp.StatusCode, truncateBody(data))).WithRetryable(true)
		}
		return types.NewError(types.ErrInvalidRequest, fmt.Sprintf("status %d: %s", resp.StatusCode, truncateBody(data)))
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func truncateBody(data []byte) string {
	const max = 256
	s := string(data)
	if len(s) > max {
		return s[:max]
	}
	return s
}
