// File: api/schemas/llm.go
package schemas

import (
	"context"
	"errors"
)

// ErrLLMUnavailable marks a transport-level model failure (network error,
// timeout, 5xx after retries). Callers treat it as transient: it feeds the
// stall detector instead of aborting the attempt. Clients must wrap it so
// errors.Is works across the router.
var ErrLLMUnavailable = errors.New("llm transport unavailable")

// ModelTier selects which configured model serves a request. The fast tier is
// the primary planner (typically a local model); the powerful tier is the
// recovery fallback.
type ModelTier string

const (
	TierFast     ModelTier = "fast"
	TierPowerful ModelTier = "powerful"
)

// GenerationOptions tunes a single generation call.
type GenerationOptions struct {
	Temperature     float32
	ForceJSONFormat bool
}

// GenerationRequest is the provider-agnostic input shape for all model calls.
type GenerationRequest struct {
	SystemPrompt string
	UserPrompt   string
	Tier         ModelTier
	// Images carries optional PNG-encoded viewport rasters. Only the recovery
	// path populates it, and only vision-capable clients consume it.
	Images  [][]byte
	Options GenerationOptions
}

// LLMClient is the single contract every planning/recovery model implements.
// The loop is agnostic to which concrete client it holds.
type LLMClient interface {
	Generate(ctx context.Context, req GenerationRequest) (string, error)
}
