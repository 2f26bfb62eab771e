package llm

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RateLimitedProvider wraps a CompletionProvider with a token-bucket rate
// limiter. Calls block until a slot is available or the context expires;
// requests are never dropped.
type RateLimitedProvider struct {
	inner   CompletionProvider
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewRateLimitedProvider caps inner at rps requests per second with the
// given burst. A non-positive rps disables limiting.
func NewRateLimitedProvider(inner CompletionProvider, rps float64, burst int, logger *zap.Logger) *RateLimitedProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedProvider{
		inner:   inner,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger.With(zap.String("component", "rate_limited_provider")),
	}
}

// Complete waits for the limiter, then delegates to the wrapped provider.
func (p *RateLimitedProvider) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		p.logger.Warn("rate limiter wait aborted", zap.Error(err))
		return nil, err
	}
	return p.inner.Complete(ctx, req)
}

// Name returns the wrapped provider's name.
func (p *RateLimitedProvider) Name() string {
	return p.inner.Name()
}
