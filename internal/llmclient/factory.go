// File: internal/llmclient/factory.go
package llmclient

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/applyloop/applyloop/api/schemas"
	"github.com/applyloop/applyloop/internal/config"
)

// NewClient builds the tiered LLM client from configuration: one client per
// configured tier, wrapped in a router that owns the fallback decision.
func NewClient(cfg config.LLMConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	fastClient, err := newProviderClient(cfg, cfg.FastModel, logger)
	if err != nil {
		return nil, fmt.Errorf("fast tier: %w", err)
	}

	var powerfulClient schemas.LLMClient
	if cfg.AllowCloudFallback {
		powerfulClient, err = newProviderClient(cfg, cfg.PowerfulModel, logger)
		if err != nil {
			return nil, fmt.Errorf("powerful tier: %w", err)
		}
	}

	return NewLLMRouter(logger, fastClient, powerfulClient, cfg.AllowCloudFallback)
}

// newProviderClient instantiates a single client for the named model entry.
func newProviderClient(cfg config.LLMConfig, name string, logger *zap.Logger) (schemas.LLMClient, error) {
	modelCfg, ok := cfg.Models[name]
	if !ok {
		return nil, fmt.Errorf("no model entry named %q", name)
	}

	switch modelCfg.Provider {
	case config.ProviderGemini:
		return NewGeminiClient(modelCfg, logger)
	case config.ProviderOllama:
		return NewOllamaClient(modelCfg, logger)
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: %q. Supported: [%s, %s]",
			modelCfg.Provider, config.ProviderOllama, config.ProviderGemini)
	}
}
