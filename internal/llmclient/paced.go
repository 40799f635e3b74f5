// File: internal/llmclient/paced.go
package llmclient

import (
	"context"

	"github.com/applyloop/applyloop/api/schemas"
)

// Pacer gates one outbound request. The engine's shared limiter implements
// it, so concurrent attempts draw model calls from the same budget.
type Pacer interface {
	AcquireRequest(ctx context.Context) error
}

// PacedClient spaces the calls of an inner client through a shared pacer.
type PacedClient struct {
	inner schemas.LLMClient
	pacer Pacer
}

// NewPacedClient wraps inner so every Generate waits on the pacer first.
func NewPacedClient(inner schemas.LLMClient, pacer Pacer) *PacedClient {
	return &PacedClient{inner: inner, pacer: pacer}
}

// Generate acquires a pacing slot, then delegates to the inner client.
func (c *PacedClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	if err := c.pacer.AcquireRequest(ctx); err != nil {
		return "", err
	}
	return c.inner.Generate(ctx, req)
}
