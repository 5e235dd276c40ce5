package openai

import (
	"github.com/codewatch-dev/codewatch/internal/adapter/llm"
	llmhttp "github.com/codewatch-dev/codewatch/internal/adapter/llm/http"
	"github.com/codewatch-dev/codewatch/internal/config"
)

const providerName = "openai"

// New builds an llm.StreamClient for OpenAI from provider configuration. If
// apiKey is empty it falls back to the offline StaticClient so a deployment
// without OpenAI credentials still runs end to end.
func New(cfg config.ProviderConfig, httpCfg config.HTTPConfig, logger llmhttp.Logger, metrics llmhttp.Metrics, pricing llmhttp.Pricing) llm.StreamClient {
	if cfg.APIKey == "" {
		return NewStaticClient(cfg.Model)
	}
	c := NewClient(cfg.APIKey, cfg.Model, cfg, httpCfg)
	c.SetLogger(logger)
	c.SetMetrics(metrics)
	c.SetPricing(pricing)
	return c
}
