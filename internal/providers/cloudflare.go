package providers

import (
	"context"
	"fmt"
	"time"
)

// CloudflareProvider reuses OpenAIProvider wholesale: Cloudflare Workers AI
// exposes an OpenAI-compatible `/ai/v1/chat/completions` endpoint per
// account, so the only difference is the base URL (which embeds the
// account id) and that tokens/caching/vision are narrower than OpenAI's.
type CloudflareProvider struct {
	inner     *OpenAIProvider
	accountID string
}

// NewCloudflareProvider builds the adapter. accountID is Cloudflare's
// per-account identifier embedded in the gateway path.
func NewCloudflareProvider(maxRetries int, retryDelay time.Duration, accountID string) *CloudflareProvider {
	inner := NewOpenAIProvider(maxRetries, retryDelay)
	inner.name = "cloudflare"
	inner.baseURL = fmt.Sprintf("https://api.cloudflare.com/client/v4/accounts/%s/ai/v1", accountID)
	return &CloudflareProvider{inner: inner, accountID: accountID}
}

func (p *CloudflareProvider) Name() string { return "cloudflare" }

func (p *CloudflareProvider) SupportsModel(model string) bool { return model != "" }

func (p *CloudflareProvider) SupportsCaching(model string) bool { return false }

func (p *CloudflareProvider) SupportsVision(model string) bool { return false }

func (p *CloudflareProvider) MaxInputTokens(model string) int { return 24_000 }

func (p *CloudflareProvider) ChatCompletion(ctx context.Context, cfg Config, req ChatRequest) (*ChatResponse, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = p.inner.baseURL
	}
	return p.inner.ChatCompletion(ctx, cfg, req)
}
