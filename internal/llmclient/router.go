// File: internal/llmclient/router.go
package llmclient

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/applyloop/applyloop/api/schemas"
)

// LLMRouter implements schemas.LLMClient and routes requests by tier. When
// the selected client reports unavailability and cloud fallback is enabled,
// the request is replayed on the powerful tier.
type LLMRouter struct {
	logger        *zap.Logger
	clients       map[schemas.ModelTier]schemas.LLMClient
	allowFallback bool
}

// NewLLMRouter creates a new router with the specified clients for each tier.
func NewLLMRouter(logger *zap.Logger, fastClient, powerfulClient schemas.LLMClient, allowFallback bool) (*LLMRouter, error) {
	if fastClient == nil {
		return nil, fmt.Errorf("fast tier client must be provided")
	}
	if powerfulClient == nil {
		if allowFallback {
			return nil, fmt.Errorf("powerful tier client must be provided when cloud fallback is enabled")
		}
		powerfulClient = fastClient
	}

	return &LLMRouter{
		logger: logger.Named("llm_router"),
		clients: map[schemas.ModelTier]schemas.LLMClient{
			schemas.TierFast:     fastClient,
			schemas.TierPowerful: powerfulClient,
		},
		allowFallback: allowFallback,
	}, nil
}

// Generate selects the appropriate client based on the request's tier.
func (r *LLMRouter) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	tier := req.Tier
	if tier == "" {
		tier = schemas.TierFast
	}

	client, ok := r.clients[tier]
	if !ok {
		return "", fmt.Errorf("no LLM client configured for tier: %s", tier)
	}

	r.logger.Debug("Routing LLM request", zap.String("tier", string(tier)))
	response, err := client.Generate(ctx, req)
	if err == nil {
		return response, nil
	}

	if tier == schemas.TierFast && r.allowFallback && errors.Is(err, schemas.ErrLLMUnavailable) {
		r.logger.Warn("Fast tier unavailable, falling back to powerful tier", zap.Error(err))
		fallbackReq := req
		fallbackReq.Tier = schemas.TierPowerful
		return r.clients[schemas.TierPowerful].Generate(ctx, fallbackReq)
	}

	return "", err
}
