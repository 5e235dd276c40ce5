package anthropic

import (
	"github.com/codewatch-dev/codewatch/internal/adapter/llm"
	llmhttp "github.com/codewatch-dev/codewatch/internal/adapter/llm/http"
	"github.com/codewatch-dev/codewatch/internal/config"
)

const providerName = "anthropic"

// New builds an llm.StreamClient for Anthropic from provider configuration,
// wiring the shared logger/metrics/pricing observability stack the same way
// the HTTP client does for every provider.
func New(cfg config.ProviderConfig, httpCfg config.HTTPConfig, logger llmhttp.Logger, metrics llmhttp.Metrics, pricing llmhttp.Pricing) llm.StreamClient {
	c := NewClient(cfg.APIKey, cfg.Model)
	c.SetTimeout(llmhttp.ParseTimeout(cfg.Timeout, httpCfg.Timeout, defaultTimeout))
	c.SetLogger(logger)
	c.SetMetrics(metrics)
	c.SetPricing(pricing)
	return c
}
