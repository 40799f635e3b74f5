// File: internal/llmclient/helper_test.go
package llmclient

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/applyloop/applyloop/api/schemas"
	"github.com/applyloop/applyloop/internal/config"
)

func setupTestLogger(t *testing.T) *zap.Logger {
	t.Helper()
	return zaptest.NewLogger(t)
}

func getValidGeminiConfig() config.ModelConfig {
	return config.ModelConfig{
		Provider:   config.ProviderGemini,
		Model:      "gemini-2.5-pro",
		APIKey:     "test-api-key",
		APITimeout: 30 * time.Second,
		MaxTokens:  4096,
	}
}

func getValidOllamaConfig() config.ModelConfig {
	return config.ModelConfig{
		Provider:   config.ProviderOllama,
		Model:      "llama3",
		APITimeout: 30 * time.Second,
	}
}

// stubClient is a canned schemas.LLMClient for router tests.
type stubClient struct {
	response string
	err      error
	calls    int
	lastReq  schemas.GenerationRequest
}

func (s *stubClient) Generate(_ context.Context, req schemas.GenerationRequest) (string, error) {
	s.calls++
	s.lastReq = req
	return s.response, s.err
}
