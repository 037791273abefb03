package llm

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimitedProvider wraps a Provider with a token-bucket limiter so bursts
// of agent reasoning calls stay inside the backend's request budget. Waiters
// block until admission or context cancellation.
type RateLimitedProvider struct {
	inner   Provider
	limiter *rate.Limiter
}

// NewRateLimited wraps inner with a limit of rps requests per second and the
// given burst. A non-positive rps returns the provider unwrapped.
func NewRateLimited(inner Provider, rps float64, burst int) Provider {
	if rps <= 0 {
		return inner
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedProvider{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Chat blocks for limiter admission, then delegates to the wrapped provider.
func (p *RateLimitedProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return p.inner.Chat(ctx, req)
}
